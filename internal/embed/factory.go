package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ProviderType selects which Embedder implementation NewEmbedder constructs.
type ProviderType string

const (
	// ProviderONNX runs the model in-process via onnxruntime_go. Default.
	ProviderONNX ProviderType = "onnx"
	// ProviderMLX delegates to a locally running MLX embedding server.
	ProviderMLX ProviderType = "mlx"
	// ProviderStatic uses hash-based embeddings requiring no model or network.
	ProviderStatic ProviderType = "static"
)

// ParseProvider converts a config/env string to a ProviderType, defaulting
// to the in-process ONNX backend for anything unrecognized.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mlx":
		return ProviderMLX
	case "static":
		return ProviderStatic
	default:
		return ProviderONNX
	}
}

func (p ProviderType) String() string { return string(p) }

// Config bundles the settings NewEmbedder needs to build any provider.
type Config struct {
	Provider   ProviderType
	ModelName  string // e.g. "sentence-transformers/all-MiniLM-L6-v2"
	Dimensions int
	ModelsDir  string // local cache root for downloaded model assets
	MLX        MLXConfig
	ORTLibPath string // optional path to a bundled libonnxruntime
	NumThreads int
	NoCache    bool // disable the query-embedding LRU wrapper
}

// NewEmbedder builds an Embedder for cfg, downloading model assets if
// necessary, and wraps it with a query-embedding cache unless disabled.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	if envProvider := os.Getenv("EMBED_PROVIDER"); envProvider != "" {
		cfg.Provider = ParseProvider(envProvider)
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}

	var embedder Embedder
	var err error

	switch cfg.Provider {
	case ProviderMLX:
		mlxCfg := cfg.MLX
		mlxCfg.Dimensions = cfg.Dimensions
		embedder, err = NewMLXEmbedder(ctx, mlxCfg)
	case ProviderStatic:
		embedder = NewStaticEmbedder(cfg.Dimensions)
	default:
		embedder, err = newONNXWithDownload(ctx, cfg)
	}

	if err != nil {
		return nil, err
	}

	if cfg.NoCache || isCacheDisabled() {
		return embedder, nil
	}
	return NewCachedEmbedderWithDefaults(embedder), nil
}

func newONNXWithDownload(ctx context.Context, cfg Config) (Embedder, error) {
	modelsDir := cfg.ModelsDir
	if modelsDir == "" {
		modelsDir = DefaultModelsDir()
	}

	manager := NewModelManager(modelsDir)
	modelDir, err := manager.EnsureModel(ctx, cfg.ModelName, nil)
	if err != nil {
		return nil, fmt.Errorf("ensure embedding model %q: %w", cfg.ModelName, err)
	}

	return NewONNXEmbedder(modelDir, cfg.ModelName, cfg.ORTLibPath, cfg.Dimensions, cfg.NumThreads)
}

func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// ValidProviders lists every accepted provider name.
func ValidProviders() []string {
	return []string{string(ProviderONNX), string(ProviderMLX), string(ProviderStatic)}
}

// IsValidProvider reports whether s names a known provider.
func IsValidProvider(s string) bool {
	for _, p := range ValidProviders() {
		if strings.EqualFold(s, p) {
			return true
		}
	}
	return false
}
