// Package config loads and validates the settings the indexer runs with:
// built-in defaults, an optional `.vector-index-mcp.yaml` override file in
// the project directory, then environment variables, in increasing order
// of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings is the immutable, validated configuration the rest of the
// service is built around. Construct one with Load; the CLI applies its
// flag overrides to the loaded value and validates it again before the
// service starts, and nothing mutates it after that.
type Settings struct {
	ProjectPath string `yaml:"-" json:"project_path"`

	LanceDBURI        string   `yaml:"lancedb_uri" json:"lancedb_uri"`
	EmbeddingModelName string  `yaml:"embedding_model_name" json:"embedding_model_name"`
	IgnorePatterns     []string `yaml:"ignore_patterns" json:"ignore_patterns"`
	LogLevel           string   `yaml:"log_level" json:"log_level"`

	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	Transport string `yaml:"transport" json:"transport"` // stdio, http, both

	EmbeddingProvider string `yaml:"embedding_provider" json:"embedding_provider"`
	EmbeddingDims     int    `yaml:"embedding_dimensions" json:"embedding_dimensions"`
	EmbeddingBatch    int    `yaml:"embedding_batch_size" json:"embedding_batch_size"`

	ChunkTokenBudget int `yaml:"chunk_token_budget" json:"chunk_token_budget"`
	ChunkOverlap     int `yaml:"chunk_overlap" json:"chunk_overlap"`

	IndexWorkers  int    `yaml:"index_workers" json:"index_workers"`
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
	WatchQueueCap int    `yaml:"watch_queue_capacity" json:"watch_queue_capacity"`
}

// defaultIgnorePatterns mirrors the default IGNORE_PATTERNS value.
var defaultIgnorePatterns = []string{
	".*", "*.db", "*.sqlite", "*.log", "node_modules/*", "venv/*", ".git/*",
}

// defaults returns Settings populated with the §6 hardcoded defaults for
// the given project path.
func defaults(projectPath string) *Settings {
	return &Settings{
		ProjectPath:        projectPath,
		LanceDBURI:         filepath.Join(projectPath, ".lancedb"),
		EmbeddingModelName: "all-MiniLM-L6-v2",
		IgnorePatterns:     append([]string(nil), defaultIgnorePatterns...),
		LogLevel:           "INFO",
		Host:               "0.0.0.0",
		Port:               8000,
		Transport:          "stdio",
		EmbeddingProvider:  "onnx",
		EmbeddingDims:      384,
		EmbeddingBatch:     32,
		ChunkTokenBudget:   512,
		ChunkOverlap:       64,
		IndexWorkers:       runtime.NumCPU(),
		WatchDebounce:      "500ms",
		WatchQueueCap:      1024,
	}
}

// overrideFile is the shape of the optional project-level YAML override.
// Field names match Settings' yaml tags; fields are pointers so an absent
// key in the file is distinguishable from an explicit zero value.
type overrideFile struct {
	LanceDBURI         *string  `yaml:"lancedb_uri"`
	EmbeddingModelName *string  `yaml:"embedding_model_name"`
	IgnorePatterns     []string `yaml:"ignore_patterns"`
	LogLevel           *string  `yaml:"log_level"`
	Host               *string  `yaml:"host"`
	Port               *int     `yaml:"port"`
	Transport          *string  `yaml:"transport"`
	EmbeddingProvider  *string  `yaml:"embedding_provider"`
	EmbeddingDims      *int     `yaml:"embedding_dimensions"`
	EmbeddingBatch     *int     `yaml:"embedding_batch_size"`
	ChunkTokenBudget   *int     `yaml:"chunk_token_budget"`
	ChunkOverlap       *int     `yaml:"chunk_overlap"`
	IndexWorkers       *int     `yaml:"index_workers"`
	WatchDebounce      *string  `yaml:"watch_debounce"`
	WatchQueueCap      *int     `yaml:"watch_queue_capacity"`
}

// Load builds the Settings for projectPath: defaults, then
// .vector-index-mcp.yaml if present, then environment variables, then
// validation.
func Load(projectPath string) (*Settings, error) {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("project path %q is not a directory", abs)
	}

	s := defaults(abs)

	if err := s.applyOverrideFile(abs); err != nil {
		return nil, err
	}
	s.applyEnv()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyOverrideFile(projectPath string) error {
	for _, name := range []string{".vector-index-mcp.yaml", ".vector-index-mcp.yml"} {
		path := filepath.Join(projectPath, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read %s: %w", path, err)
		}

		var o overrideFile
		if err := yaml.Unmarshal(data, &o); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		s.mergeOverride(&o)
		return nil
	}
	return nil
}

func (s *Settings) mergeOverride(o *overrideFile) {
	if o.LanceDBURI != nil {
		s.LanceDBURI = *o.LanceDBURI
	}
	if o.EmbeddingModelName != nil {
		s.EmbeddingModelName = *o.EmbeddingModelName
	}
	if len(o.IgnorePatterns) > 0 {
		s.IgnorePatterns = o.IgnorePatterns
	}
	if o.LogLevel != nil {
		s.LogLevel = *o.LogLevel
	}
	if o.Host != nil {
		s.Host = *o.Host
	}
	if o.Port != nil {
		s.Port = *o.Port
	}
	if o.Transport != nil {
		s.Transport = *o.Transport
	}
	if o.EmbeddingProvider != nil {
		s.EmbeddingProvider = *o.EmbeddingProvider
	}
	if o.EmbeddingDims != nil {
		s.EmbeddingDims = *o.EmbeddingDims
	}
	if o.EmbeddingBatch != nil {
		s.EmbeddingBatch = *o.EmbeddingBatch
	}
	if o.ChunkTokenBudget != nil {
		s.ChunkTokenBudget = *o.ChunkTokenBudget
	}
	if o.ChunkOverlap != nil {
		s.ChunkOverlap = *o.ChunkOverlap
	}
	if o.IndexWorkers != nil {
		s.IndexWorkers = *o.IndexWorkers
	}
	if o.WatchDebounce != nil {
		s.WatchDebounce = *o.WatchDebounce
	}
	if o.WatchQueueCap != nil {
		s.WatchQueueCap = *o.WatchQueueCap
	}
}

// applyEnv applies the §6 environment variable table; these take
// precedence over both defaults and the override file.
func (s *Settings) applyEnv() {
	if v := os.Getenv("LANCEDB_URI"); v != "" {
		s.LanceDBURI = v
	}
	if v := os.Getenv("EMBEDDING_MODEL_NAME"); v != "" {
		s.EmbeddingModelName = v
	}
	if v := os.Getenv("IGNORE_PATTERNS"); v != "" {
		s.IgnorePatterns = splitCSV(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv("HOST"); v != "" {
		s.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.Port = n
		}
	}
	if v := os.Getenv("TRANSPORT"); v != "" {
		s.Transport = v
	}
	if v := os.Getenv("EMBED_PROVIDER"); v != "" {
		s.EmbeddingProvider = v
	}
	if v := os.Getenv("INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.IndexWorkers = n
		}
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the final, merged settings for internal consistency.
func (s *Settings) Validate() error {
	switch strings.ToUpper(s.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("log_level must be one of DEBUG/INFO/WARN/ERROR, got %q", s.LogLevel)
	}

	switch strings.ToLower(s.Transport) {
	case "stdio", "http", "both":
	default:
		return fmt.Errorf("transport must be one of stdio/http/both, got %q", s.Transport)
	}

	switch strings.ToLower(s.EmbeddingProvider) {
	case "onnx", "mlx", "static":
	default:
		return fmt.Errorf("embedding_provider must be one of onnx/mlx/static, got %q", s.EmbeddingProvider)
	}

	if s.EmbeddingDims <= 0 {
		return fmt.Errorf("embedding_dimensions must be positive, got %d", s.EmbeddingDims)
	}
	if s.EmbeddingBatch <= 0 {
		return fmt.Errorf("embedding_batch_size must be positive, got %d", s.EmbeddingBatch)
	}
	if s.ChunkTokenBudget <= 0 {
		return fmt.Errorf("chunk_token_budget must be positive, got %d", s.ChunkTokenBudget)
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkTokenBudget {
		return fmt.Errorf("chunk_overlap must be non-negative and smaller than chunk_token_budget, got %d", s.ChunkOverlap)
	}
	if s.IndexWorkers <= 0 {
		return fmt.Errorf("index_workers must be positive, got %d", s.IndexWorkers)
	}
	if s.WatchQueueCap <= 0 {
		return fmt.Errorf("watch_queue_capacity must be positive, got %d", s.WatchQueueCap)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("port out of range: %d", s.Port)
	}
	return nil
}
