package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"greenrag/internal/domain"
)

// Environment variables that override the file.
const (
	EnvSource       = "GREENRAG_SOURCE"
	EnvIndexDir     = "GREENRAG_INDEX_DIR"
	EnvIndexBackend = "GREENRAG_INDEX_BACKEND"
	EnvEmbedder     = "GREENRAG_EMBEDDER"
	EnvEmbedModel   = "GREENRAG_EMBED_MODEL"
	EnvDefaultK     = "GREENRAG_DEFAULT_K"
)

// SourceConfig points at the directive text.
type SourceConfig struct {
	Path string `yaml:"path"`
}

// IndexConfig selects and configures the index backend.
type IndexConfig struct {
	Backend string        `yaml:"backend"`
	Path    string        `yaml:"path"`
	Qdrant  *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	Addr        string `yaml:"addr"` // gRPC host:port
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// HashingEmbedderConfig configures the local hashing embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type              string                 `yaml:"type"`
	TimeoutSecs       int                    `yaml:"timeout_secs"`
	BatchSize         int                    `yaml:"batch_size"`
	RequestsPerSecond float64                `yaml:"requests_per_second"`
	MaxRetries        *int                   `yaml:"max_retries"`
	OpenAI            *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
	Hashing           *HashingEmbedderConfig `yaml:"hashing,omitempty"`
}

// ChunkerConfig configures how the directive is split into chunks.
// Pointer fields accept an explicit 0; nil means the key was absent.
type ChunkerConfig struct {
	ChunkSize         int    `yaml:"chunk_size"`
	ChunkOverlap      *int   `yaml:"chunk_overlap"`
	MinChunks         *int   `yaml:"min_chunks"`
	Fallback          string `yaml:"fallback"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  *int   `yaml:"overlap_sentences"`
}

// RetrievalConfig configures query defaults.
type RetrievalConfig struct {
	DefaultK int `yaml:"default_k"`
}

// SummarizerConfig configures the extractive summaries used by --brief and the browser.
type SummarizerConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Source     SourceConfig     `yaml:"source"`
	Index      IndexConfig      `yaml:"index"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return finalize(defaultConfig())
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", domain.ErrConfiguration, path, err)
	}
	return finalize(&cfg)
}

// LoadDefault tries ./greenrag.yaml first, then ~/.config/greenrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/greenrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "greenrag.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	if err := Save(userPath, defaultConfig()); err != nil {
		return nil, "", err
	}
	cfg, err := finalize(defaultConfig())
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports unknown backends and out-of-range values.
func (c *AppConfig) Validate() error {
	switch c.Index.Backend {
	case "sqlite", "memory":
	case "qdrant":
		if c.Index.Qdrant == nil || c.Index.Qdrant.Addr == "" {
			return fmt.Errorf("%w: index.qdrant.addr is required for the qdrant backend", domain.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown index backend %q", domain.ErrConfiguration, c.Index.Backend)
	}
	switch c.Embedder.Type {
	case "openai", "hashing":
	default:
		return fmt.Errorf("%w: unknown embedder type %q", domain.ErrConfiguration, c.Embedder.Type)
	}
	switch c.Chunker.Fallback {
	case "window", "sentence":
	default:
		return fmt.Errorf("%w: unknown chunker fallback %q", domain.ErrConfiguration, c.Chunker.Fallback)
	}
	for name, v := range map[string]*int{
		"embedder.max_retries":      c.Embedder.MaxRetries,
		"chunker.chunk_overlap":     c.Chunker.ChunkOverlap,
		"chunker.min_chunks":        c.Chunker.MinChunks,
		"chunker.overlap_sentences": c.Chunker.OverlapSentences,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%w: %s must not be negative", domain.ErrConfiguration, name)
		}
	}
	if c.Retrieval.DefaultK <= 0 {
		return fmt.Errorf("%w: retrieval.default_k must be positive", domain.ErrConfiguration)
	}
	if c.Source.Path == "" {
		return fmt.Errorf("%w: source.path is empty", domain.ErrConfiguration)
	}
	return nil
}

func finalize(cfg *AppConfig) (*AppConfig, error) {
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "greenrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Source: SourceConfig{Path: "EU_2023_Dir.pdf"},
		Index:  IndexConfig{Backend: "sqlite", Path: "./index_db"},
		Embedder: EmbedderConfig{
			Type:   "openai",
			OpenAI: &OpenAIEmbedderConfig{},
		},
		Chunker:    ChunkerConfig{Fallback: "window"},
		Summarizer: SummarizerConfig{Type: "frequency", MaxSentences: 2},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyEnvOverrides(cfg *AppConfig) error {
	if v := os.Getenv(EnvSource); v != "" {
		cfg.Source.Path = v
	}
	if v := os.Getenv(EnvIndexDir); v != "" {
		cfg.Index.Path = v
	}
	if v := os.Getenv(EnvIndexBackend); v != "" {
		cfg.Index.Backend = v
	}
	if v := os.Getenv(EnvEmbedder); v != "" {
		cfg.Embedder.Type = v
	}
	if v := os.Getenv(EnvEmbedModel); v != "" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		cfg.Embedder.OpenAI.Model = v
	}
	if v := os.Getenv(EnvDefaultK); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", domain.ErrConfiguration, EnvDefaultK, v)
		}
		cfg.Retrieval.DefaultK = k
	}
	return nil
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Source.Path == "" {
		cfg.Source.Path = "EU_2023_Dir.pdf"
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "sqlite"
	}
	if cfg.Index.Path == "" {
		cfg.Index.Path = "./index_db"
	}
	if cfg.Index.Backend == "qdrant" && cfg.Index.Qdrant != nil {
		if cfg.Index.Qdrant.Collection == "" {
			cfg.Index.Qdrant.Collection = "eu_green_claims_directive"
		}
		if cfg.Index.Qdrant.TimeoutSecs == 0 {
			cfg.Index.Qdrant.TimeoutSecs = 15
		}
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "openai"
	}
	if cfg.Embedder.TimeoutSecs == 0 {
		cfg.Embedder.TimeoutSecs = 30
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = 64
	}
	if cfg.Embedder.RequestsPerSecond == 0 {
		cfg.Embedder.RequestsPerSecond = 5
	}
	if cfg.Embedder.MaxRetries == nil {
		cfg.Embedder.MaxRetries = intPtr(3)
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
	}
	if cfg.Embedder.Type == "hashing" {
		if cfg.Embedder.Hashing == nil {
			cfg.Embedder.Hashing = &HashingEmbedderConfig{}
		}
		if cfg.Embedder.Hashing.Dimension == 0 {
			cfg.Embedder.Hashing.Dimension = 1024
		}
	}

	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 1000
	}
	if cfg.Chunker.ChunkOverlap == nil {
		cfg.Chunker.ChunkOverlap = intPtr(200)
	}
	if cfg.Chunker.MinChunks == nil {
		cfg.Chunker.MinChunks = intPtr(10)
	}
	if cfg.Chunker.Fallback == "" {
		cfg.Chunker.Fallback = "window"
	}
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = 5
	}
	if cfg.Chunker.OverlapSentences == nil {
		cfg.Chunker.OverlapSentences = intPtr(1)
	}

	if cfg.Retrieval.DefaultK == 0 {
		cfg.Retrieval.DefaultK = 3
	}
	if cfg.Summarizer.Type == "" {
		cfg.Summarizer.Type = "frequency"
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 2
	}
}

func intPtr(v int) *int { return &v }
