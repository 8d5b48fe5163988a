// Package embedding wraps the external embedding service: a black-box
// text -> fixed-dimension unit vector mapping, with retry on transient
// failure. Grounded on the provider package's HTTP-client-with-retry
// shape (internal/provider/anthropic.go), generalized to a plain HTTP
// POST against a configurable endpoint instead of an Eino chat model.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codescout-dev/codescout/internal/apperr"
	"github.com/codescout-dev/codescout/internal/logging"
)

// Config configures the embedding client.
type Config struct {
	Endpoint   string
	APIKey     string
	Model      string
	Dimension  int
	MaxRetries int
	HTTPClient *http.Client
}

// Client calls the external embedding service.
type Client struct {
	cfg Config
	hc  *http.Client
}

// New constructs an embedding client. Dimension is fixed at construction
// time, per spec §4.8 ("dimension d is a startup-fixed constant").
func New(cfg Config) *Client {
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1536
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, hc: hc}
}

// Dimension returns the startup-fixed vector dimension.
func (c *Client) Dimension() int {
	return c.cfg.Dimension
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed maps one text into a unit-norm vector. tag is an optional
// retrieval-class hint some embedding services use to bias the encoder
// (e.g. "query" vs "document"); it may be empty, and it is not included in
// the request sent to the service.
func (c *Client) Embed(ctx context.Context, text string, tag string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text}, tag)
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, apperr.New(apperr.EmbeddingUnavailable, "embedding service returned no vectors")
	}
	return vecs[0], nil
}

// EmbedBatch amortizes HTTP overhead across multiple texts. The order of
// results matches the order of inputs.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, tag string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var result [][]float32
	op := func() error {
		vecs, err := c.doRequest(ctx, texts)
		if err != nil {
			return err
		}
		result = vecs
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		logging.Error().Err(err).Msg("embedding request failed after retries")
		return nil, apperr.Wrap(apperr.EmbeddingUnavailable, "embedding service unreachable", err)
	}

	for i, v := range result {
		result[i] = normalize(v)
	}
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("marshal embed request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build embed request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err // transient network error, retryable
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("embedding service transient status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(fmt.Errorf("embedding service status %d: %s", resp.StatusCode, string(body)))
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode embed response: %w", err))
	}

	vecs := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// normalize returns the unit-norm form of v, per spec §4.8's guarantee.
// A zero vector is returned unchanged (no direction to normalize to).
func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
