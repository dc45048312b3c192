// Package config loads process configuration from the environment with an
// optional YAML overlay (KBCHAT_CONFIG).
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config carries everything the services need to wire themselves up.
type Config struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	Neo4jURI    string `yaml:"neo4j_uri"`
	Neo4jUser   string `yaml:"neo4j_user"`
	Neo4jPass   string `yaml:"neo4j_pass"`

	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingDimension int    `yaml:"embedding_dimension"`
	ChatModel          string `yaml:"chat_model"`

	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`
}

// Load reads the YAML file named by KBCHAT_CONFIG (when present), then lets
// environment variables override individual fields, then fills defaults.
func Load() (Config, error) {
	var cfg Config

	if path := os.Getenv("KBCHAT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	overlayEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func overlayEnv(cfg *Config) {
	setString(&cfg.PostgresDSN, "POSTGRES_DSN")
	setString(&cfg.Neo4jURI, "NEO4J_URI")
	setString(&cfg.Neo4jUser, "NEO4J_USERNAME")
	setString(&cfg.Neo4jPass, "NEO4J_PASSWORD")
	setString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&cfg.EmbeddingModel, "EMBEDDING_MODEL")
	setInt(&cfg.EmbeddingDimension, "EMBEDDING_DIMENSION")
	setString(&cfg.ChatModel, "CHAT_MODEL")
	setString(&cfg.ListenAddr, "LISTEN_ADDR")
	setString(&cfg.DataDir, "DATA_DIR")
}

func applyDefaults(cfg *Config) {
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "postgres://localhost:5432/kbchat?sslmode=disable"
	}
	if cfg.Neo4jURI == "" {
		cfg.Neo4jURI = "neo4j://localhost:7687"
	}
	if cfg.Neo4jUser == "" {
		cfg.Neo4jUser = "neo4j"
	}
	if cfg.Neo4jPass == "" {
		cfg.Neo4jPass = "password"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.EmbeddingDimension == 0 {
		cfg.EmbeddingDimension = 1536
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
}

func setString(dst *string, key string) {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		*dst = value
	}
}

func setInt(dst *int, key string) {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			*dst = parsed
		}
	}
}
