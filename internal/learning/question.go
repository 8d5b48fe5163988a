// Package learning implements the autonomous-exploration support trio: a
// question generator, a doom-loop guard, and a learning recorder. Together
// they back the self-evolution loop (internal/selfevo) without depending on
// it, so recorder and generator stay reusable outside that loop.
package learning

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/codescout-dev/codescout/internal/provider"
	"github.com/codescout-dev/codescout/pkg/types"
)

// GenerateRequest describes the project context fed to the question
// generator, including what to avoid repeating.
type GenerateRequest struct {
	ProjectKey      string
	TechStack       []string
	Domains         []string
	RecentQuestions []string
	KnowledgeGaps   []string
	Count           int
}

// Generator turns project context into candidate exploration questions via
// an LLM call in JSON-only mode.
type Generator struct {
	providerRegistry *provider.Registry
}

// NewGenerator creates a question Generator.
func NewGenerator(providerRegistry *provider.Registry) *Generator {
	return &Generator{providerRegistry: providerRegistry}
}

const questionSystemPrompt = `You generate exploration questions for an autonomous code-learning agent.
Valid question types: CODE_STRUCTURE, BUSINESS_LOGIC, DATA_FLOW, DEPENDENCY, CONFIGURATION, ERROR_ANALYSIS, BEST_PRACTICE, DOMAIN_KNOWLEDGE.
Respond with a JSON array of objects: {"question","type","priority","reason","suggestedTools","expectedOutcome"}.
priority is an integer 1-10, 10 being most valuable to explore next.
Do not repeat any question listed under "Already asked".`

// rawQuestion mirrors the LLM's JSON shape before validation/clamping.
type rawQuestion struct {
	Question        string   `json:"question"`
	Type             string   `json:"type"`
	Priority         int      `json:"priority"`
	Reason           string   `json:"reason"`
	SuggestedTools   []string `json:"suggestedTools"`
	ExpectedOutcome  string   `json:"expectedOutcome"`
}

// Generate requests up to req.Count candidate questions, sorted by
// descending priority. Malformed items (no question text) are dropped, not
// substituted; an unparseable type falls back to BUSINESS_LOGIC.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) ([]types.GeneratedQuestion, error) {
	count := req.Count
	if count <= 0 {
		count = 5
	}

	userPrompt := buildQuestionPrompt(req, count)

	var raw []rawQuestion
	if err := provider.GenerateJSON(ctx, g.providerRegistry, questionSystemPrompt, userPrompt, 2048, &raw); err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}

	questions := make([]types.GeneratedQuestion, 0, len(raw))
	for _, r := range raw {
		q := strings.TrimSpace(r.Question)
		if q == "" {
			continue
		}
		priority := r.Priority
		if priority < 1 {
			priority = 1
		}
		if priority > 10 {
			priority = 10
		}
		questions = append(questions, types.GeneratedQuestion{
			Question:        q,
			Type:            types.ParseQuestionType(r.Type),
			Priority:        priority,
			Reason:          r.Reason,
			SuggestedTools:  r.SuggestedTools,
			ExpectedOutcome: r.ExpectedOutcome,
		})
	}

	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Priority > questions[j].Priority
	})

	if len(questions) > count {
		questions = questions[:count]
	}
	return questions, nil
}

func buildQuestionPrompt(req GenerateRequest, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", req.ProjectKey)
	if len(req.TechStack) > 0 {
		fmt.Fprintf(&b, "Tech stack: %s\n", strings.Join(req.TechStack, ", "))
	}
	if len(req.Domains) > 0 {
		fmt.Fprintf(&b, "Known domains: %s\n", strings.Join(req.Domains, ", "))
	}
	if len(req.KnowledgeGaps) > 0 {
		fmt.Fprintf(&b, "Knowledge gaps to prioritize: %s\n", strings.Join(req.KnowledgeGaps, ", "))
	}
	if len(req.RecentQuestions) > 0 {
		fmt.Fprintf(&b, "Already asked (do not repeat):\n")
		for _, q := range req.RecentQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	fmt.Fprintf(&b, "Generate up to %d new questions as a JSON array.", count)
	return b.String()
}
