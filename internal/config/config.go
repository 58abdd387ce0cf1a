package config

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config carries all runtime settings. The retrieval tuning values are
// empirically chosen defaults, not invariants, so every one of them can be
// overridden from the environment.
type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL"`
	ChatModel      string `envconfig:"CHAT_MODEL"`

	// Retrieval tuning.
	SimilarityThreshold float64 `envconfig:"SIMILARITY_THRESHOLD" default:"0.4"`
	MaxResults          int     `envconfig:"MAX_RESULTS" default:"8"`
	MaxContextChunks    int     `envconfig:"MAX_CONTEXT_CHUNKS" default:"3"`
	ScanLimit           int     `envconfig:"SCAN_LIMIT" default:"500"`
	QueryCacheSize      int     `envconfig:"QUERY_CACHE_SIZE" default:"100"`

	// Citation URL roots.
	DiscourseBaseURL string `envconfig:"DISCOURSE_BASE_URL" default:"https://discourse.onlinedegree.iitm.ac.in"`
	DocsBaseURL      string `envconfig:"DOCS_BASE_URL" default:"https://tds.s-anand.net/"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("COURSETA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}
