package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cron     CronConfig     `yaml:"cron"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type CronConfig struct {
	FetchInterval   string `yaml:"fetch_interval"`   // feed refresh
	ProcessInterval string `yaml:"process_interval"` // article processing
}

// PipelineConfig tunes the ingestion and personalization pipeline. All
// values are injected into service constructors; there are no mutable
// package-level knobs.
type PipelineConfig struct {
	ProcessBatchSize     int `yaml:"process_batch_size"`      // articles per summarization pass
	RecommendThreshold   int `yaml:"recommend_threshold"`     // minimum score on the 1-100 scale
	RescoreWindow        int `yaml:"rescore_window"`          // recent articles re-evaluated after a vote
	SummaryInputLimit    int `yaml:"summary_input_limit"`     // chars sent to the summarizer
	MinContentLength     int `yaml:"min_content_length"`      // bodies shorter than this get backfilled
	FeedFetchTimeoutSec  int `yaml:"feed_fetch_timeout_sec"`  // feed document fetch
	ContentTimeoutSec    int `yaml:"content_timeout_sec"`     // article body fetch
	LLMTimeoutSec        int `yaml:"llm_timeout_sec"`         // single external call
	LLMRetryMaxElapsedMS int `yaml:"llm_retry_max_elapsed_ms"` // retry budget per external call
}

func (p PipelineConfig) FeedFetchTimeout() time.Duration {
	return time.Duration(p.FeedFetchTimeoutSec) * time.Second
}

func (p PipelineConfig) ContentTimeout() time.Duration {
	return time.Duration(p.ContentTimeoutSec) * time.Second
}

func (p PipelineConfig) LLMTimeout() time.Duration {
	return time.Duration(p.LLMTimeoutSec) * time.Second
}

func (p PipelineConfig) LLMRetryMaxElapsed() time.Duration {
	return time.Duration(p.LLMRetryMaxElapsedMS) * time.Millisecond
}

// Load reads the yaml config file, falling back to defaults when the file
// is absent, then applies environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: "3000",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Path: "data/newsbrief.db",
		},
		Cron: CronConfig{
			FetchInterval:   "*/30 * * * *",
			ProcessInterval: "*/10 * * * *",
		},
		Pipeline: PipelineConfig{
			ProcessBatchSize:     5,
			RecommendThreshold:   50,
			RescoreWindow:        20,
			SummaryInputLimit:    4000,
			MinContentLength:     200,
			FeedFetchTimeoutSec:  30,
			ContentTimeoutSec:    10,
			LLMTimeoutSec:        60,
			LLMRetryMaxElapsedMS: 30000,
		},
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else {
		slog.Info("config file not found, using defaults", "path", configPath)
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}

	if mode := os.Getenv("GIN_MODE"); mode != "" {
		cfg.Server.Mode = mode
	}

	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	return cfg, nil
}

// GetServerAddress returns the listen address for the HTTP server.
func (c *Config) GetServerAddress() string {
	if _, err := strconv.Atoi(c.Server.Port); err == nil {
		return ":" + c.Server.Port
	}
	return c.Server.Port
}
