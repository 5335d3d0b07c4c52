// Package main provides the tradedoc CLI entry point.
// tradedoc turns spreadsheets of e-commerce orders into commercial invoice PDFs.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/tradedoc-cli/cmd"
	"github.com/otherjamesbrown/tradedoc-cli/config"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/buildinfo"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/documents"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/history"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
)

// rootFlags holds the global flags.
type rootFlags struct {
	outputFormat string
	debug        bool
	logJSON      bool
}

// newRootCommand builds the command tree around deps.
func newRootCommand(deps *cmd.Deps) *cobra.Command {
	flags := &rootFlags{}

	// Global flags override whatever the config file and environment say.
	loadConfig := deps.LoadConfig
	deps.LoadConfig = func() (*config.CLIConfig, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		if flags.outputFormat != "" {
			format := config.OutputFormat(flags.outputFormat)
			if !format.IsValid() {
				return nil, fmt.Errorf("invalid output format: %s (must be text, json, or yaml)", flags.outputFormat)
			}
			cfg.OutputFormat = format
		}
		if flags.debug {
			cfg.Debug = true
		}
		return cfg, nil
	}

	root := &cobra.Command{
		Use:   "tradedoc",
		Short: "Bulk commercial invoice generator",
		Long: `tradedoc turns a spreadsheet of e-commerce orders into commercial invoice PDFs.

Every row is classified by an AI model (HS code, weights, Incoterm, material,
intended use), validated, and shown for review before invoices are rendered.
Generated invoices are exported as a zip archive with a CSV summary.

COMMON WORKFLOWS:
  First run:        tradedoc auth login  →  tradedoc template
  Bulk import:      tradedoc bulk run orders.xlsx --out ./invoices
  Check a file:     tradedoc bulk ingest orders.csv
  Single order:     tradedoc extract "Ship 2 vases to Paris..."
  Web workspace:    tradedoc serve

Commands support --output json for structured data.`,
		SilenceUsage: true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			switch c.Name() {
			case "version", "help", "completion", "template":
				return nil
			}
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			level := logging.LevelInfo
			if cfg.Debug {
				level = logging.LevelDebug
			}
			logger := logging.NewLogger(&logging.Config{
				Level:       level,
				ServiceName: buildinfo.ServiceName,
				JSONFormat:  flags.logJSON || c.Name() == "serve",
				Output:      c.ErrOrStderr(),
			})
			logging.SetGlobal(logger)
			deps.Logger = logger
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&flags.outputFormat, "output", "o", "", "output format: text, json, yaml")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&flags.logJSON, "log-json", false, "write logs as JSON")

	root.AddGroup(
		&cobra.Group{ID: "bulk", Title: "Invoicing:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	add := func(group string, cmds ...*cobra.Command) {
		for _, c := range cmds {
			c.GroupID = group
			root.AddCommand(c)
		}
	}
	add("bulk",
		cmd.NewBulkCommand(deps),
		cmd.NewExtractCommand(deps),
		cmd.NewHistoryCommand(deps),
		cmd.NewTemplateCommand(),
	)
	add("ops",
		cmd.NewServeCommand(deps),
		cmd.NewDbCommand(deps),
	)
	add("setup",
		cmd.NewAuthCommand(deps),
		newConfigCommand(deps),
		newVersionCommand(flags),
		newCompletionCommand(root),
	)
	return root
}

func newVersionCommand(flags *rootFlags) *cobra.Command {
	var outputJSON bool
	c := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the version, commit hash, and build time of the tradedoc CLI.

Examples:
  tradedoc version
  tradedoc version --output-json`,
		RunE: func(c *cobra.Command, args []string) error {
			info := buildinfo.Get()
			format := config.OutputFormatText
			if outputJSON {
				format = config.OutputFormatJSON
			} else if flags.outputFormat != "" {
				format = config.OutputFormat(flags.outputFormat)
			}
			return cmd.WriteOutput(c.OutOrStdout(), format, info, func(w io.Writer) error {
				fmt.Fprintf(w, "tradedoc version %s\n", info.Version)
				fmt.Fprintf(w, "  commit:     %s\n", info.Commit)
				fmt.Fprintf(w, "  built:      %s\n", info.BuildTime)
				fmt.Fprintf(w, "  go:         %s\n", info.GoVersion)
				return nil
			})
		},
	}
	c.Flags().BoolVar(&outputJSON, "output-json", false, "Output as JSON")
	return c
}

func newConfigCommand(deps *cmd.Deps) *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  `View and modify the tradedoc configuration in ~/.tradedoc/config.yaml.`,
	}
	c.AddCommand(newConfigShowCommand(deps))
	c.AddCommand(newConfigInitCommand(deps))
	c.AddCommand(newConfigSetCommand(deps))
	return c
}

func newConfigShowCommand(deps *cmd.Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  `Display the effective configuration: defaults, then the config file, then TRADEDOC_* variables.`,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			configPath, _ := config.ConfigPath()

			return cmd.WriteOutput(c.OutOrStdout(), cfg.OutputFormat, cfg, func(w io.Writer) error {
				data, err := cfg.Marshal()
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "# %s\n", configPath)
				_, err = w.Write(data)
				return err
			})
		},
	}
}

func newConfigInitCommand(deps *cmd.Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration file",
		Long:  `Create a new configuration file with default values if one doesn't exist.`,
		RunE: func(c *cobra.Command, args []string) error {
			out := c.OutOrStdout()
			configPath, err := config.ConfigPath()
			if err != nil {
				return fmt.Errorf("getting config path: %w", err)
			}

			if _, err := os.Stat(configPath); err == nil {
				fmt.Fprintf(out, "Configuration file already exists: %s\n", configPath)
				fmt.Fprintln(out, "Use 'tradedoc config show' to view current settings.")
				return nil
			}

			defaultCfg := config.DefaultConfig()
			if err := deps.SaveConfig(defaultCfg); err != nil {
				return fmt.Errorf("saving configuration: %w", err)
			}

			fmt.Fprintf(out, "Created configuration file: %s\n", configPath)
			fmt.Fprintln(out, "\nDefault settings:")
			fmt.Fprintf(out, "  AI endpoint:    %s (%s)\n", defaultCfg.AI.BaseURL, defaultCfg.AI.Model)
			fmt.Fprintf(out, "  Row delay:      %s\n", defaultCfg.Pipeline.RowDelay)
			fmt.Fprintf(out, "  Default origin: %s\n", defaultCfg.DefaultOrigin)
			fmt.Fprintf(out, "  Output format:  %s\n", defaultCfg.OutputFormat)
			return nil
		},
	}
}

func newConfigSetCommand(deps *cmd.Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value in the config file.

Available keys:
  output_format         - Default output format (text, json, yaml)
  default_origin        - Origin country for rows without one
  debug                 - Enable debug logging (true/false)
  ai.base_url           - Model endpoint
  ai.model              - Model name
  ai.timeout            - Per-request timeout (e.g., 30s)
  pipeline.row_delay    - Pause between enrichment rows (e.g., 200ms)
  pipeline.duties_payer - Buyer or Seller; picks the fallback Incoterm
  server.address        - Listen address for 'tradedoc serve'
  history.backend       - memory, redis, or postgres
  storage.backend       - memory, filesystem, or azure

Examples:
  tradedoc config set default_origin DEU
  tradedoc config set pipeline.row_delay 500ms
  tradedoc config set history.backend redis`,
		Args: cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			cfg, err := deps.LoadConfig()
			if err != nil {
				cfg = config.DefaultConfig()
			}
			if err := setConfigValue(cfg, key, value); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			if err := deps.SaveConfig(cfg); err != nil {
				return fmt.Errorf("saving configuration: %w", err)
			}

			fmt.Fprintf(c.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}
}

func setConfigValue(cfg *config.CLIConfig, key, value string) error {
	switch key {
	case "output_format":
		format := config.OutputFormat(value)
		if !format.IsValid() {
			return fmt.Errorf("invalid output format: %s (must be text, json, or yaml)", value)
		}
		cfg.OutputFormat = format
	case "default_origin":
		cfg.DefaultOrigin = value
	case "debug":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid debug value: %s (must be true or false)", value)
		}
		cfg.Debug = b
	case "ai.base_url":
		cfg.AI.BaseURL = value
	case "ai.model":
		cfg.AI.Model = value
	case "ai.timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid timeout value: %w", err)
		}
		cfg.AI.Timeout = d
	case "pipeline.row_delay":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid row delay: %w", err)
		}
		cfg.Pipeline.RowDelay = d
	case "pipeline.duties_payer":
		cfg.Pipeline.DutiesPayer = value
	case "server.address":
		cfg.Server.Address = value
	case "history.backend":
		cfg.History.Backend = history.Backend(value)
	case "storage.backend":
		cfg.Storage.Backend = documents.Backend(value)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

func newCompletionCommand(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for tradedoc.

Bash:
  $ source <(tradedoc completion bash)

Zsh:
  $ tradedoc completion zsh > "${fpath[1]}/_tradedoc"

Fish:
  $ tradedoc completion fish | source

PowerShell:
  PS> tradedoc completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(c *cobra.Command, args []string) error {
			out := c.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(out)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
}

func main() {
	// Ctrl-C cancels the running stage; commands unwind through their contexts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(cmd.DefaultDeps()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
