package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

const (
	BackendMemory   = "memory"
	BackendPgvector = "pgvector"
	BackendQdrant   = "qdrant"
)

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
	CacheSize int    `yaml:"cache_size"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
}

// ChunkingConfig controls the sliding-window splitter. Overlap must stay below Size.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

type IndexConfig struct {
	Backend          string `yaml:"backend"`
	TopK             int    `yaml:"top_k"`
	QdrantHost       string `yaml:"qdrant_host"`
	QdrantPort       int    `yaml:"qdrant_port"`
	QdrantCollection string `yaml:"qdrant_collection"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	JSON      bool   `yaml:"json"`
	Path      string `yaml:"path"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

type Config struct {
	Embeddings EmbeddingConfig `yaml:"embeddings"`
	LLM        LLMConfig       `yaml:"llm"`
	Chunking   ChunkingConfig  `yaml:"chunking"`
	Index      IndexConfig     `yaml:"index"`
	Log        LogConfig       `yaml:"log"`

	DefaultDocumentPath string `yaml:"default_document_path"`
	HTTPAddr            string `yaml:"http_addr"`

	OllamaHost    string `yaml:"ollama_host"`
	OpenAIAPIKey  string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	PostgresDSN string `yaml:"postgres_dsn"`
	Neo4jURI    string `yaml:"neo4j_uri"`
	Neo4jUser   string `yaml:"neo4j_user"`
	Neo4jPass   string `yaml:"-"`
}

// Default returns the built-in configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		Embeddings: EmbeddingConfig{
			Provider:  ProviderOllama,
			Model:     "all-minilm",
			BatchSize: 32,
			CacheSize: 256,
		},
		LLM: LLMConfig{
			Provider: ProviderOllama,
			Model:    "llama3",
		},
		Chunking: ChunkingConfig{Size: 500, Overlap: 50},
		Index: IndexConfig{
			Backend:          BackendMemory,
			TopK:             3,
			QdrantHost:       "localhost",
			QdrantPort:       6334,
			QdrantCollection: "docqa_chunks",
		},
		Log: LogConfig{
			Level:     "info",
			Path:      "logs/rag_agent.log",
			MaxSizeMB: 1,
		},
		DefaultDocumentPath: "data/sample_docs.txt",
		HTTPAddr:            ":8080",
		OllamaHost:          "http://localhost:11434",
	}
}

// Load builds the configuration from defaults, an optional YAML file, a .env
// file in the working directory and finally the process environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	envErr := applyEnv(&cfg)
	if err := errors.Join(envErr, cfg.Validate()); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var env envReader

	cfg.Embeddings.Provider = getEnv("EMBEDDINGS_PROVIDER", cfg.Embeddings.Provider)
	cfg.Embeddings.Model = getEnv("EMBEDDINGS_MODEL", cfg.Embeddings.Model)
	cfg.Embeddings.Dimension = env.intValue("EMBEDDINGS_DIMENSION", cfg.Embeddings.Dimension)
	cfg.Embeddings.BatchSize = env.intValue("EMBEDDINGS_BATCH_SIZE", cfg.Embeddings.BatchSize)
	cfg.Embeddings.CacheSize = env.intValue("EMBEDDINGS_CACHE_SIZE", cfg.Embeddings.CacheSize)

	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)

	cfg.Chunking.Size = env.intValue("CHUNK_SIZE", cfg.Chunking.Size)
	cfg.Chunking.Overlap = env.intValue("CHUNK_OVERLAP", cfg.Chunking.Overlap)

	cfg.Index.Backend = getEnv("INDEX_BACKEND", cfg.Index.Backend)
	cfg.Index.TopK = env.intValue("TOP_K", cfg.Index.TopK)
	cfg.Index.QdrantHost = getEnv("QDRANT_HOST", cfg.Index.QdrantHost)
	cfg.Index.QdrantPort = env.intValue("QDRANT_PORT", cfg.Index.QdrantPort)
	cfg.Index.QdrantCollection = getEnv("QDRANT_COLLECTION", cfg.Index.QdrantCollection)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Path = getEnv("LOG_PATH", cfg.Log.Path)
	cfg.Log.JSON = env.boolValue("LOG_JSON", cfg.Log.JSON)

	cfg.DefaultDocumentPath = getEnv("DOCUMENT_PATH", cfg.DefaultDocumentPath)
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)

	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)

	cfg.PostgresDSN = getEnv("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.Neo4jURI = getEnv("NEO4J_URI", cfg.Neo4jURI)
	cfg.Neo4jUser = getEnv("NEO4J_USERNAME", cfg.Neo4jUser)
	cfg.Neo4jPass = getEnv("NEO4J_PASSWORD", cfg.Neo4jPass)
	return env.err()
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error

	if c.Chunking.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", c.Chunking.Size))
	}
	if c.Chunking.Overlap < 0 {
		errs = append(errs, fmt.Errorf("chunk overlap cannot be negative, got %d", c.Chunking.Overlap))
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", c.Chunking.Overlap, c.Chunking.Size))
	}
	if c.Index.TopK <= 0 {
		errs = append(errs, fmt.Errorf("top-k must be positive, got %d", c.Index.TopK))
	}
	if !knownProvider(c.Embeddings.Provider) {
		errs = append(errs, fmt.Errorf("unknown embedding provider: %s", c.Embeddings.Provider))
	}
	if !knownProvider(c.LLM.Provider) {
		errs = append(errs, fmt.Errorf("unknown llm provider: %s", c.LLM.Provider))
	}
	if strings.TrimSpace(c.Embeddings.Model) == "" {
		errs = append(errs, errors.New("embedding model is required"))
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		errs = append(errs, errors.New("llm model is required"))
	}
	if c.Embeddings.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embedding batch size must be positive, got %d", c.Embeddings.BatchSize))
	}

	switch c.Index.Backend {
	case BackendMemory:
	case BackendPgvector:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("pgvector backend selected but POSTGRES_DSN not set"))
		}
		if c.Embeddings.Dimension <= 0 {
			errs = append(errs, errors.New("pgvector backend requires a positive embedding dimension"))
		}
	case BackendQdrant:
		if c.Index.QdrantHost == "" || c.Index.QdrantPort <= 0 {
			errs = append(errs, errors.New("qdrant backend requires host and port"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown index backend: %s", c.Index.Backend))
	}

	return errors.Join(errs...)
}

func knownProvider(p string) bool {
	return p == ProviderOllama || p == ProviderOpenAI
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// envReader parses typed environment variables and keeps every parse
// failure for the caller.
type envReader struct {
	errs []error
}

func (r *envReader) intValue(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be an integer, got %q", key, value))
		return fallback
	}
	return parsed
}

func (r *envReader) boolValue(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a boolean, got %q", key, value))
		return fallback
	}
	return parsed
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}
