package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LogConfig sets the slog handler level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// LoaderConfig configures document extraction.
type LoaderConfig struct {
	PDFTool string `yaml:"pdf_tool"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Size int `yaml:"size"`
	// Overlap is a pointer so that an explicit 0 survives defaulting.
	Overlap *int `yaml:"overlap"`
}

// OverlapChars returns the configured overlap, 0 when unset.
func (c ChunkerConfig) OverlapChars() int {
	if c.Overlap == nil {
		return 0
	}
	return *c.Overlap
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxRetries        int     `yaml:"max_retries"`
}

// EmbedderConfig selects the embedder. Type is hash, lexical or openai.
// Fallback names the local embedder used when openai fails or has no key.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension"`
	Fallback  string                `yaml:"fallback"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// OpenAILLMConfig configures the chat completions client.
type OpenAILLMConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// LLMConfig selects the generation model. Type is openai or extractive.
type LLMConfig struct {
	Type         string           `yaml:"type"`
	MaxTokens    int              `yaml:"max_tokens"`
	Temperature  float64          `yaml:"temperature"`
	MaxSentences int              `yaml:"max_sentences"`
	OpenAI       *OpenAILLMConfig `yaml:"openai,omitempty"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Local  LocalConfig   `yaml:"local"`
	SQLite SQLiteConfig  `yaml:"sqlite"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// LocalConfig locates the JSON corpus. Relative paths resolve against data_dir.
type LocalConfig struct {
	File string `yaml:"file"`
	Dir  string `yaml:"dir"`
}

// SQLiteConfig locates the sqlite database. Relative paths resolve against data_dir.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type AnswerConfig struct {
	TopK          int `yaml:"top_k"`
	SnippetLength int `yaml:"snippet_length"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	UploadDir string `yaml:"upload_dir"`
	// RequestsPerSecond limits each client address; zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxUploadMB       int64   `yaml:"max_upload_mb"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	DataDir     string            `yaml:"data_dir"`
	Log         LogConfig         `yaml:"log"`
	Loader      LoaderConfig      `yaml:"loader"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	LLM         LLMConfig         `yaml:"llm"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Answer      AnswerConfig      `yaml:"answer"`
	Server      ServerConfig      `yaml:"server"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// TracingConfig enables OTLP/HTTP span export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/docrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
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
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	applyEnv(cfg)
	return cfg, userPath, nil
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

// Validate rejects unknown component types.
func (c *AppConfig) Validate() error {
	checks := []struct {
		field, value string
		allowed      []string
	}{
		{"embedder.type", c.Embedder.Type, []string{"hash", "lexical", "openai"}},
		{"embedder.fallback", c.Embedder.Fallback, []string{"hash", "lexical"}},
		{"llm.type", c.LLM.Type, []string{"openai", "extractive"}},
		{"vector_store.type", c.VectorStore.Type, []string{"local", "sqlite", "qdrant"}},
	}
	for _, ch := range checks {
		if !contains(ch.allowed, ch.value) {
			return fmt.Errorf("%s: unknown value %q (want one of %s)", ch.field, ch.value, strings.Join(ch.allowed, ", "))
		}
	}
	if c.VectorStore.Type == "qdrant" && (c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "") {
		return errors.New("vector_store.qdrant.url is required for the qdrant store")
	}
	if o := c.Chunker.OverlapChars(); o < 0 || o >= c.Chunker.Size {
		return fmt.Errorf("chunker.overlap %d must be between 0 and chunker.size %d", o, c.Chunker.Size)
	}
	return nil
}

// ResolvePath joins relative paths onto DataDir.
func (c *AppConfig) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// EmbedderAPIKey reads the embedder key from the configured environment variable.
func (c *AppConfig) EmbedderAPIKey() string {
	if c.Embedder.OpenAI == nil {
		return os.Getenv("OPENAI_API_KEY")
	}
	return os.Getenv(c.Embedder.OpenAI.APIKeyEnv)
}

// LLMAPIKey reads the model key from the configured environment variable.
func (c *AppConfig) LLMAPIKey() string {
	if c.LLM.OpenAI == nil {
		return os.Getenv("OPENAI_API_KEY")
	}
	return os.Getenv(c.LLM.OpenAI.APIKeyEnv)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Loader.PDFTool == "" {
		cfg.Loader.PDFTool = "pdftotext"
	}
	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = 1000
	}
	if cfg.Chunker.Overlap == nil {
		overlap := 200
		cfg.Chunker.Overlap = &overlap
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "openai"
	}
	if cfg.Embedder.Fallback == "" {
		cfg.Embedder.Fallback = "hash"
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.MaxRetries == 0 {
			o.MaxRetries = 3
		}
		// the local fallback must write vectors the provider's corpus accepts
		if cfg.Embedder.Dimension == 0 {
			cfg.Embedder.Dimension = ModelDimension(o.Model)
		}
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 256
	}

	if cfg.LLM.Type == "" {
		cfg.LLM.Type = "openai"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 800
	}
	if cfg.LLM.MaxSentences == 0 {
		cfg.LLM.MaxSentences = 3
	}
	if cfg.LLM.Type == "openai" {
		if cfg.LLM.OpenAI == nil {
			cfg.LLM.OpenAI = &OpenAILLMConfig{}
		}
		o := cfg.LLM.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "gpt-4o-mini"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 120
		}
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "local"
	}
	if cfg.VectorStore.Local.File == "" {
		cfg.VectorStore.Local.File = "vectorstore.json"
	}
	if cfg.VectorStore.Local.Dir == "" {
		cfg.VectorStore.Local.Dir = "vectorstore"
	}
	if cfg.VectorStore.SQLite.Path == "" {
		cfg.VectorStore.SQLite.Path = "docrag.db"
	}
	if q := cfg.VectorStore.Qdrant; q != nil {
		if q.Collection == "" {
			q.Collection = "docrag"
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 30
		}
	}

	if cfg.Answer.TopK == 0 {
		cfg.Answer.TopK = 3
	}
	if cfg.Answer.SnippetLength == 0 {
		cfg.Answer.SnippetLength = 200
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":3001"
	}
	if cfg.Server.UploadDir == "" {
		cfg.Server.UploadDir = "uploads"
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 50
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "docrag"
	}
}

// applyEnv lets the process environment override file values.
func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("VECTOR_STORE_PROVIDER"); v != "" {
		cfg.VectorStore.Type = strings.ToLower(v)
		if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{Collection: "docrag", TimeoutSecs: 30}
		}
	}
	if v := os.Getenv("QDRANT_URL"); v != "" && cfg.VectorStore.Qdrant != nil {
		cfg.VectorStore.Qdrant.URL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" && cfg.LLM.OpenAI != nil {
		cfg.LLM.OpenAI.Model = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
}

// ModelDimension returns the vector size of well-known embedding models, or
// 1536 for models it does not know.
func ModelDimension(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large":
		return 1024
	default:
		return 1536
	}
}
