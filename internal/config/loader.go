package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	// Base URL of the OpenAI-compatible inference endpoint.
	Endpoint string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	APIKey   string `json:"api_key" yaml:"api_key" toml:"api_key"`
	Model    string `json:"model" yaml:"model" toml:"model"`
	// Direct-mode concurrency ceiling.
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent"`
	// Queued-mode concurrency ceiling; ignored when SharedCeiling is set.
	QueueMaxConcurrent int `json:"queue_max_concurrent" yaml:"queue_max_concurrent" toml:"queue_max_concurrent"`
	QueueCapacity      int `json:"queue_capacity" yaml:"queue_capacity" toml:"queue_capacity"`
	// When true both admission modes draw from one slot gate.
	SharedCeiling bool `json:"shared_ceiling" yaml:"shared_ceiling" toml:"shared_ceiling"`
	// Outbound requests per second towards the endpoint; 0 disables.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" toml:"requests_per_second"`
	// Path of the SQLite stats database; empty disables persistence.
	StatsDB string `json:"stats_db" yaml:"stats_db" toml:"stats_db"`
	// Allowed CORS origins; empty disables the CORS middleware.
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	// Maximum accepted JSON body size in bytes; 0 keeps the 1 MiB default.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
