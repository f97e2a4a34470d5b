package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"policyscan"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"policyscan"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQDHost string `envconfig:"NSQD_HOST" default:"nsqd:4150"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	GeminiModel  string `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`

	// Pipeline
	Query          string `envconfig:"QUERY"`
	SearchLimit    int    `envconfig:"SEARCH_LIMIT" default:"20"`
	Concurrency    int    `envconfig:"CONCURRENCY" default:"3"`
	MaxCycles      int    `envconfig:"MAX_CYCLES" default:"2"`
	MaxRetries     int    `envconfig:"MAX_RETRIES" default:"3"`
	RetryBackoffMS int    `envconfig:"RETRY_BACKOFF_MS" default:"1000"`
	ArtifactDir    string `envconfig:"ARTIFACT_DIR" default:"data/runs"`
	MigrationPath  string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	PublishResults bool   `envconfig:"PUBLISH_RESULTS" default:"true"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may be set in the shell; .env is best effort.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
	}
	if c.Query == "" {
		return fmt.Errorf("%w: QUERY", ErrMissingRequired)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("CONCURRENCY must be >= 1, got %d", c.Concurrency)
	}
	if c.MaxCycles < 0 {
		return fmt.Errorf("MAX_CYCLES must be >= 0, got %d", c.MaxCycles)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be >= 1, got %d", c.MaxRetries)
	}
	return nil
}
