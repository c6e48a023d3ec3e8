package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	StatePath string `json:"state_path" yaml:"state_path" toml:"state_path"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`

	// Supervisor / probe tunables (seconds).
	PollIntervalSeconds int `json:"poll_interval_seconds" yaml:"poll_interval_seconds" toml:"poll_interval_seconds"`
	ProbeTimeoutSeconds int `json:"probe_timeout_seconds" yaml:"probe_timeout_seconds" toml:"probe_timeout_seconds"`
	ChatTimeoutSeconds  int `json:"chat_timeout_seconds" yaml:"chat_timeout_seconds" toml:"chat_timeout_seconds"`
	// Grace period before a running container with a dead HTTP endpoint is
	// reported offline; 0 disables the retry.
	StartupGraceSeconds int `json:"startup_grace_seconds" yaml:"startup_grace_seconds" toml:"startup_grace_seconds"`

	// Container runtime integration.
	DockerBin   string `json:"docker_bin" yaml:"docker_bin" toml:"docker_bin"`
	ComposeFile string `json:"compose_file" yaml:"compose_file" toml:"compose_file"`

	// CORS (opt-in, for browser-based presentation layers).
	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
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

// FromEnv fills unset fields from LLMTRAYD_* environment variables,
// loading a .env file first if one is present.
func (c Config) FromEnv() Config {
	_ = godotenv.Load()
	if c.Addr == "" {
		c.Addr = os.Getenv("LLMTRAYD_ADDR")
	}
	if c.StatePath == "" {
		c.StatePath = os.Getenv("LLMTRAYD_STATE_PATH")
	}
	if c.LogLevel == "" {
		c.LogLevel = os.Getenv("LLMTRAYD_LOG_LEVEL")
	}
	if c.DockerBin == "" {
		c.DockerBin = os.Getenv("LLMTRAYD_DOCKER_BIN")
	}
	if c.ComposeFile == "" {
		c.ComposeFile = os.Getenv("LLMTRAYD_COMPOSE_FILE")
	}
	if c.PollIntervalSeconds == 0 {
		c.PollIntervalSeconds = envInt("LLMTRAYD_POLL_INTERVAL_SECONDS")
	}
	if c.ProbeTimeoutSeconds == 0 {
		c.ProbeTimeoutSeconds = envInt("LLMTRAYD_PROBE_TIMEOUT_SECONDS")
	}
	if c.ChatTimeoutSeconds == 0 {
		c.ChatTimeoutSeconds = envInt("LLMTRAYD_CHAT_TIMEOUT_SECONDS")
	}
	return c
}

// WithDefaults fills remaining zero fields with the shipped defaults.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.StatePath == "" {
		c.StatePath = "~/.config/llmtrayd/state.json"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = 5
	}
	if c.ProbeTimeoutSeconds <= 0 {
		c.ProbeTimeoutSeconds = 3
	}
	if c.ChatTimeoutSeconds <= 0 {
		c.ChatTimeoutSeconds = 300
	}
	if c.DockerBin == "" {
		c.DockerBin = "docker"
	}
	return c
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
