// Package main provides the entry point for the OpenCode server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codescout-dev/codescout/internal/config"
	"github.com/codescout-dev/codescout/internal/embedding"
	"github.com/codescout-dev/codescout/internal/learning"
	"github.com/codescout-dev/codescout/internal/permission"
	"github.com/codescout-dev/codescout/internal/provider"
	"github.com/codescout-dev/codescout/internal/selfevo"
	"github.com/codescout-dev/codescout/internal/server"
	"github.com/codescout-dev/codescout/internal/session"
	"github.com/codescout-dev/codescout/internal/storage"
	"github.com/codescout-dev/codescout/internal/tool"
	"github.com/codescout-dev/codescout/internal/vectorstore"
	"github.com/codescout-dev/codescout/pkg/types"
)

var (
	port      = flag.Int("port", 8080, "Server port")
	directory = flag.String("directory", "", "Working directory")
	version   = flag.Bool("version", false, "Print version and exit")
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("opencode-server %s (%s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Determine working directory
	workDir := *directory
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			log.Fatalf("Failed to get working directory: %v", err)
		}
	}

	log.Printf("Starting OpenCode server v%s", Version)
	log.Printf("Working directory: %s", workDir)

	// Initialize paths
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		log.Fatalf("Failed to create data directories: %v", err)
	}

	// Load configuration
	appConfig, err := config.Load(workDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize storage
	store := storage.New(paths.StoragePath())

	// Initialize providers
	ctx := context.Background()
	providerReg, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		log.Printf("Warning: Failed to initialize some providers: %v", err)
	}

	// Initialize tool registry
	toolReg := tool.DefaultRegistry(workDir, store)

	// Configure server
	serverConfig := server.DefaultConfig()
	serverConfig.Port = *port
	serverConfig.Directory = workDir

	// Create server
	srv := server.New(serverConfig, appConfig, store, providerReg, toolReg)

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", *port)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Start the self-evolution loop for the working directory's project, if enabled.
	selfEvoCancel := startSelfEvo(ctx, workDir, appConfig, store, providerReg, toolReg)
	if selfEvoCancel != nil {
		defer selfEvoCancel()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// startSelfEvo wires up and launches the self-evolution loop (spec §4.14)
// for the current working directory's project, when appConfig.SelfEvo is
// enabled. It returns a cancel func to stop the loop on shutdown, or nil if
// the loop was not started.
func startSelfEvo(
	ctx context.Context,
	workDir string,
	appConfig *types.Config,
	store *storage.Storage,
	providerReg *provider.Registry,
	toolReg *tool.Registry,
) context.CancelFunc {
	if appConfig.SelfEvo == nil || !appConfig.SelfEvo.Enabled {
		return nil
	}

	embedCfg := embedding.Config{}
	if appConfig.Embedding != nil {
		embedCfg = embedding.Config{
			Endpoint:   appConfig.Embedding.Endpoint,
			APIKey:     appConfig.Embedding.APIKey,
			Model:      appConfig.Embedding.Model,
			Dimension:  appConfig.Embedding.Dimension,
			MaxRetries: appConfig.Embedding.MaxRetries,
		}
	}
	embedClient := embedding.New(embedCfg)

	vsCfg := vectorstore.Config{DataDir: store.BasePath(), Model: embedCfg.Model, Dimension: embedClient.Dimension()}
	if appConfig.VectorStore != nil {
		vsCfg.L1MaxBytes = appConfig.VectorStore.L1MaxBytes
		vsCfg.SearchThreshold = appConfig.VectorStore.SearchThreshold
	}
	vectors := vectorstore.New(vsCfg)

	guardCfg := learning.GuardConfig{}
	if appConfig.Learning != nil {
		guardCfg = learning.GuardConfig{
			MaxConsecutiveErrors: appConfig.Learning.MaxConsecutiveErrors,
			BaseBackoff:          time.Duration(appConfig.Learning.BaseBackoffMs) * time.Millisecond,
			MaxBackoff:           time.Duration(appConfig.Learning.MaxBackoffMs) * time.Millisecond,
			MaxDailyQuestions:    appConfig.Learning.MaxDailyQuestions,
			DuplicateThreshold:   float32(appConfig.Learning.DuplicateThreshold),
		}
	}

	generator := learning.NewGenerator(providerReg)
	guard := learning.NewGuard(store, embedClient, vectors, guardCfg)
	recorder := learning.NewRecorder(providerReg, store, embedClient, vectors)

	explorerAgent := session.DefaultAgent()
	explorerAgent.Permission = session.AgentPermission{Bash: "allow", Write: "allow", DoomLoop: "allow"}
	processor := session.NewProcessor(providerReg, toolReg, store, permission.NewChecker(), "", "")
	explorer := selfevo.NewSessionExplorer(processor, store, explorerAgent)

	loopCfg := selfevo.Config{
		ProjectKey: session.HashDirectory(workDir),
		Directory:  workDir,
	}
	if appConfig.SelfEvo.IntervalMs > 0 {
		loopCfg.Interval = time.Duration(appConfig.SelfEvo.IntervalMs) * time.Millisecond
	}
	if appConfig.Learning != nil && appConfig.Learning.QuestionsPerCycle > 0 {
		loopCfg.QuestionsPerRound = appConfig.Learning.QuestionsPerCycle
	}

	loop := selfevo.NewLoop(loopCfg, store, generator, guard, recorder, explorer)

	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := loop.Run(loopCtx); err != nil && err != context.Canceled {
			log.Printf("self-evolution loop stopped: %v", err)
		}
	}()

	return cancel
}
