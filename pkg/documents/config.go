package documents

import (
	"fmt"
	"os"
)

// Backend names a Store implementation.
type Backend string

const (
	BackendMemory     Backend = "memory"
	BackendFilesystem Backend = "filesystem"
	BackendAzure      Backend = "azure"
)

// Config selects and parameterizes the document store.
type Config struct {
	Backend               Backend `yaml:"backend"`
	Dir                   string  `yaml:"dir,omitempty"`
	AzureConnectionString string  `yaml:"azure_connection_string,omitempty"`
	AzureContainer        string  `yaml:"azure_container,omitempty"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Backend               string
	Dir                   string
	AzureConnectionString string
	AzureContainer        string
}

// DefaultEnv is the TRADEDOC_ environment mapping.
var DefaultEnv = &Env{
	Backend:               "TRADEDOC_STORAGE_BACKEND",
	Dir:                   "TRADEDOC_STORAGE_DIR",
	AzureConnectionString: "TRADEDOC_AZURE_CONNECTION_STRING",
	AzureContainer:        "TRADEDOC_AZURE_CONTAINER",
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.Validate()
}

func (c *Config) loadDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.AzureContainer == "" {
		c.AzureContainer = "invoices"
	}
}

func (c *Config) loadEnv(env *Env) {
	override := func(name string, dst *string) {
		if name == "" {
			return
		}
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	backend := string(c.Backend)
	override(env.Backend, &backend)
	c.Backend = Backend(backend)
	override(env.Dir, &c.Dir)
	override(env.AzureConnectionString, &c.AzureConnectionString)
	override(env.AzureContainer, &c.AzureContainer)
}

// Validate checks that the selected backend has what it needs.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendFilesystem:
		if c.Dir == "" {
			return fmt.Errorf("storage.dir required for the filesystem backend")
		}
	case BackendAzure:
		if c.AzureConnectionString == "" {
			return fmt.Errorf("storage.azure_connection_string required for the azure backend")
		}
		if c.AzureContainer == "" {
			return fmt.Errorf("storage.azure_container required for the azure backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (must be memory, filesystem, or azure)", c.Backend)
	}
	return nil
}
