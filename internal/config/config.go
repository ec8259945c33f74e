package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// APIKey protects the HTTP surface; empty disables auth (local use).
	APIKey string `envconfig:"API_KEY"`

	OpenAIAPIKey         string `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel       string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions  int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1024"`
	EmbeddingConcurrency int    `envconfig:"EMBEDDING_CONCURRENCY" default:"4"`

	BreakpointPercentile float64 `envconfig:"BREAKPOINT_PERCENTILE" default:"90"`
	BufferSize           int     `envconfig:"BUFFER_SIZE" default:"1"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"docpipe-archive"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	RepairInterval time.Duration `envconfig:"REPAIR_INTERVAL" default:"10m"`
	RepairMinAge   time.Duration `envconfig:"REPAIR_MIN_AGE" default:"30m"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("DOCPIPE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}
