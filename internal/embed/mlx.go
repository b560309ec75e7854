package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// MLX default configuration. MLX is an optional remote-embedding backend:
// a local MLX server process exposes /embed and /embed_batch, and this
// client talks HTTP to it instead of loading a model in-process. It is
// selected via provider "mlx" for users who run Apple Silicon and prefer
// its throughput over the in-process ONNX backend.
const (
	DefaultMLXEndpoint = "http://localhost:9659"
	defaultMLXTimeout  = 60 * time.Second
	defaultMLXRetries  = 2
)

// MLXConfig configures an MLXEmbedder.
type MLXConfig struct {
	Endpoint        string
	Model           string
	Dimensions      int
	SkipHealthCheck bool
}

// MLXEmbedder generates embeddings by delegating to a locally running MLX
// embedding server over HTTP.
type MLXEmbedder struct {
	client *http.Client
	config MLXConfig
	dims   int
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*MLXEmbedder)(nil)

// NewMLXEmbedder creates an embedder backed by the MLX server at cfg.Endpoint.
func NewMLXEmbedder(ctx context.Context, cfg MLXConfig) (*MLXEmbedder, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultMLXEndpoint
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	e := &MLXEmbedder{client: client, config: cfg, dims: cfg.Dimensions}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := e.healthCheck(checkCtx); err != nil {
			return nil, fmt.Errorf("mlx health check: %w", err)
		}
	}

	slog.Debug("mlx embedder created", slog.String("endpoint", cfg.Endpoint), slog.Int("dimensions", e.dims))
	return e, nil
}

func (e *MLXEmbedder) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to mlx server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mlx server unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

func (e *MLXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (e *MLXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	var lastErr error
	for attempt := 0; attempt < defaultMLXRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, defaultMLXTimeout)
		embeddings, err := e.doEmbedBatch(timeoutCtx, texts)
		cancel()
		if err == nil {
			return embeddings, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("mlx embedding failed after %d attempts: %w", defaultMLXRetries, lastErr)
}

func (e *MLXEmbedder) doEmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := mlxEmbedBatchRequest{Texts: texts}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint+"/embed_batch", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request batch embeddings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("batch embedding failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result mlxEmbedBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = make([]float32, len(emb))
		for j, v := range emb {
			embeddings[i][j] = float32(v)
		}
	}
	return embeddings, nil
}

func (e *MLXEmbedder) Dimensions() int { return e.dims }

func (e *MLXEmbedder) ModelName() string { return "mlx:" + e.config.Model }

func (e *MLXEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return e.healthCheck(checkCtx) == nil
}

func (e *MLXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if transport, ok := e.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

type mlxEmbedBatchRequest struct {
	Texts []string `json:"texts"`
}

type mlxEmbedBatchResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}
