// Package config provides CLI configuration management for the tradedoc command-line tool.
// It supports loading configuration from YAML files, environment variables, and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/ai"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/batch"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/db"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/documents"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/emission"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/enrichment/pipeline"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/history"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// Default configuration values.
const (
	DefaultOutputFormat  = OutputFormatText
	DefaultConfigDir     = ".tradedoc"
	DefaultConfigFile    = "config.yaml"
	DefaultServerAddress = "localhost:8080"
	DefaultOrigin        = "USA"
)

// AIConfig holds the model endpoint settings. The API key lives in the credentials store.
type AIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// PipelineConfig tunes the enrichment and emission stages.
type PipelineConfig struct {
	// RowDelay is the pause between enrichment rows.
	RowDelay time.Duration `yaml:"row_delay"`
	// EmitDelay is the pause between emitted documents.
	EmitDelay time.Duration `yaml:"emit_delay"`
	// ProgressEvery is how many rows pass between progress reports.
	ProgressEvery int `yaml:"progress_every"`
	// DutiesPayer is "Buyer" or "Seller"; it picks the fallback Incoterm.
	DutiesPayer string `yaml:"duties_payer"`
}

// ServerConfig holds `tradedoc serve` settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// CLIConfig holds the CLI configuration settings.
type CLIConfig struct {
	// OutputFormat specifies the default output format for commands.
	OutputFormat OutputFormat `yaml:"output_format"`

	// Debug enables verbose debug logging.
	Debug bool `yaml:"debug,omitempty"`

	// DefaultOrigin is used when neither the file nor the signed-in profile names an origin.
	DefaultOrigin string `yaml:"default_origin"`

	AI       AIConfig         `yaml:"ai"`
	Pipeline PipelineConfig   `yaml:"pipeline"`
	Storage  documents.Config `yaml:"storage"`
	History  history.Config   `yaml:"history"`
	Server   ServerConfig     `yaml:"server"`
}

// DefaultConfig returns a CLIConfig with default values.
func DefaultConfig() *CLIConfig {
	aiDefaults := ai.DefaultConfig()
	return &CLIConfig{
		OutputFormat:  DefaultOutputFormat,
		DefaultOrigin: DefaultOrigin,
		AI: AIConfig{
			BaseURL:    aiDefaults.BaseURL,
			Model:      aiDefaults.Model,
			Timeout:    aiDefaults.Timeout,
			MaxRetries: aiDefaults.MaxRetries,
		},
		Pipeline: PipelineConfig{
			RowDelay:      pipeline.DefaultRowDelay,
			EmitDelay:     emission.DefaultRowDelay,
			ProgressEvery: batch.DefaultReportEvery,
			DutiesPayer:   string(shipment.DutiesPayerBuyer),
		},
		Storage: documents.Config{Backend: documents.BackendMemory},
		History: history.Config{Backend: history.BackendMemory},
		Server:  ServerConfig{Address: DefaultServerAddress},
	}
}

// ConfigDir returns the configuration directory path.
// Uses $TRADEDOC_CONFIG_DIR if set, otherwise ~/.tradedoc
func ConfigDir() (string, error) {
	if dir := os.Getenv("TRADEDOC_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads the CLI configuration from file and environment variables.
// Configuration is loaded in this order (later sources override earlier):
// 1. Default values
// 2. Config file (~/.tradedoc/config.yaml or $TRADEDOC_CONFIG_DIR/config.yaml)
// 3. Environment variables (TRADEDOC_*)
func LoadConfig() (*CLIConfig, error) {
	cfg := DefaultConfig()

	// Try to load from config file.
	configPath, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Overlay environment variables.
	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	// Validate the configuration.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Durations are written as strings ("200ms") in the file.
type aiFile struct {
	BaseURL    string `yaml:"base_url,omitempty"`
	Model      string `yaml:"model,omitempty"`
	Timeout    string `yaml:"timeout,omitempty"`
	MaxRetries *int   `yaml:"max_retries,omitempty"`
}

type pipelineFile struct {
	RowDelay      string `yaml:"row_delay,omitempty"`
	EmitDelay     string `yaml:"emit_delay,omitempty"`
	ProgressEvery int    `yaml:"progress_every,omitempty"`
	DutiesPayer   string `yaml:"duties_payer,omitempty"`
}

type configFile struct {
	OutputFormat  OutputFormat      `yaml:"output_format,omitempty"`
	Debug         bool              `yaml:"debug,omitempty"`
	DefaultOrigin string            `yaml:"default_origin,omitempty"`
	AI            aiFile            `yaml:"ai,omitempty"`
	Pipeline      pipelineFile      `yaml:"pipeline,omitempty"`
	Storage       *documents.Config `yaml:"storage,omitempty"`
	History       *history.Config   `yaml:"history,omitempty"`
	Server        ServerConfig      `yaml:"server,omitempty"`
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *CLIConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fileCfg configFile
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if fileCfg.OutputFormat != "" {
		cfg.OutputFormat = fileCfg.OutputFormat
	}
	cfg.Debug = fileCfg.Debug
	if fileCfg.DefaultOrigin != "" {
		cfg.DefaultOrigin = fileCfg.DefaultOrigin
	}

	if fileCfg.AI.BaseURL != "" {
		cfg.AI.BaseURL = fileCfg.AI.BaseURL
	}
	if fileCfg.AI.Model != "" {
		cfg.AI.Model = fileCfg.AI.Model
	}
	if err := parseDuration("ai.timeout", fileCfg.AI.Timeout, &cfg.AI.Timeout); err != nil {
		return err
	}
	if fileCfg.AI.MaxRetries != nil {
		cfg.AI.MaxRetries = *fileCfg.AI.MaxRetries
	}

	if err := parseDuration("pipeline.row_delay", fileCfg.Pipeline.RowDelay, &cfg.Pipeline.RowDelay); err != nil {
		return err
	}
	if err := parseDuration("pipeline.emit_delay", fileCfg.Pipeline.EmitDelay, &cfg.Pipeline.EmitDelay); err != nil {
		return err
	}
	if fileCfg.Pipeline.ProgressEvery != 0 {
		cfg.Pipeline.ProgressEvery = fileCfg.Pipeline.ProgressEvery
	}
	if fileCfg.Pipeline.DutiesPayer != "" {
		cfg.Pipeline.DutiesPayer = fileCfg.Pipeline.DutiesPayer
	}

	if fileCfg.Storage != nil {
		cfg.Storage = *fileCfg.Storage
	}
	if fileCfg.History != nil {
		cfg.History = *fileCfg.History
	}
	if fileCfg.Server.Address != "" {
		cfg.Server.Address = fileCfg.Server.Address
	}

	return nil
}

func parseDuration(key, v string, dst *time.Duration) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	*dst = d
	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
// Malformed durations and numbers are ignored.
func loadFromEnv(cfg *CLIConfig) error {
	if v := os.Getenv("TRADEDOC_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}

	if v := os.Getenv("TRADEDOC_DEBUG"); v == "true" || v == "1" {
		cfg.Debug = true
	}

	if v := os.Getenv("TRADEDOC_DEFAULT_ORIGIN"); v != "" {
		cfg.DefaultOrigin = v
	}

	if v := os.Getenv("TRADEDOC_AI_BASE_URL"); v != "" {
		cfg.AI.BaseURL = v
	}

	if v := os.Getenv("TRADEDOC_AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}

	if v := os.Getenv("TRADEDOC_AI_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AI.Timeout = d
		}
	}

	if v := os.Getenv("TRADEDOC_ROW_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.RowDelay = d
		}
	}

	if v := os.Getenv("TRADEDOC_DUTIES_PAYER"); v != "" {
		cfg.Pipeline.DutiesPayer = v
	}

	if v := os.Getenv("TRADEDOC_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}

	// History environment variables.
	if v := os.Getenv("TRADEDOC_HISTORY_BACKEND"); v != "" {
		cfg.History.Backend = history.Backend(v)
	}
	if v := os.Getenv("TRADEDOC_REDIS_ADDR"); v != "" {
		cfg.History.RedisAddr = v
	}
	if v := os.Getenv("TRADEDOC_REDIS_PASSWORD"); v != "" {
		cfg.History.RedisPassword = v
	}
	if v := os.Getenv("TRADEDOC_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.History.RedisDB = n
		}
	}
	if cfg.History.Backend == history.BackendPostgres {
		if cfg.History.Postgres == nil {
			cfg.History.Postgres = db.DefaultConfig()
		}
		cfg.History.Postgres.ApplyEnv()
	}

	// Storage applies its own defaults and TRADEDOC_STORAGE_* overrides.
	if err := cfg.Storage.Finalize(documents.DefaultEnv); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *CLIConfig) Validate() error {
	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}

	if c.AI.BaseURL == "" {
		return fmt.Errorf("ai.base_url is required")
	}

	if c.AI.Timeout <= 0 {
		return fmt.Errorf("ai.timeout must be positive")
	}

	if c.AI.MaxRetries < 0 {
		return fmt.Errorf("ai.max_retries must not be negative")
	}

	if c.Pipeline.RowDelay < 0 || c.Pipeline.EmitDelay < 0 {
		return fmt.Errorf("pipeline delays must not be negative")
	}

	if c.Pipeline.ProgressEvery < 1 {
		return fmt.Errorf("pipeline.progress_every must be at least 1")
	}

	if _, err := shipment.ParseDutiesPayer(c.Pipeline.DutiesPayer); err != nil {
		return fmt.Errorf("pipeline.duties_payer: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	return c.History.Validate()
}

// DutiesPayer returns the parsed duties payer, defaulting to Buyer.
func (c *CLIConfig) DutiesPayer() shipment.DutiesPayer {
	p, err := shipment.ParseDutiesPayer(c.Pipeline.DutiesPayer)
	if err != nil {
		return shipment.DutiesPayerBuyer
	}
	return p
}

// AIClientConfig builds the model client configuration with apiKey attached.
func (c *CLIConfig) AIClientConfig(apiKey string) ai.Config {
	out := ai.DefaultConfig()
	out.BaseURL = c.AI.BaseURL
	out.Model = c.AI.Model
	out.Timeout = c.AI.Timeout
	out.MaxRetries = c.AI.MaxRetries
	out.APIKey = apiKey
	return out
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// SaveConfig saves the configuration to the config file.
func SaveConfig(cfg *CLIConfig) error {
	configDir, err := ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	// Ensure config directory exists.
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := yaml.Marshal(cfg.toFile())
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Marshal renders cfg in the on-disk YAML layout.
func (c *CLIConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c.toFile())
}

func (c *CLIConfig) toFile() *configFile {
	retries := c.AI.MaxRetries
	storage := c.Storage
	hist := c.History
	return &configFile{
		OutputFormat:  c.OutputFormat,
		Debug:         c.Debug,
		DefaultOrigin: c.DefaultOrigin,
		AI: aiFile{
			BaseURL:    c.AI.BaseURL,
			Model:      c.AI.Model,
			Timeout:    c.AI.Timeout.String(),
			MaxRetries: &retries,
		},
		Pipeline: pipelineFile{
			RowDelay:      c.Pipeline.RowDelay.String(),
			EmitDelay:     c.Pipeline.EmitDelay.String(),
			ProgressEvery: c.Pipeline.ProgressEvery,
			DutiesPayer:   c.Pipeline.DutiesPayer,
		},
		Storage: &storage,
		History: &hist,
		Server:  c.Server,
	}
}

// EnsureConfigDir creates the configuration directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
