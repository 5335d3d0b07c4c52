package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/tradedoc-cli/credentials"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

type authLoginOptions struct {
	apiKey         string
	profile        shipment.ExporterProfile
	nonInteractive bool
}

// NewAuthCommand creates the auth command group.
func NewAuthCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the AI API key and the signed-in exporter",
		Long: `Manage the credentials tradedoc needs.

The AI API key is used for enrichment and extraction. The exporter profile is
printed on every invoice and must be present to export archives and summaries.
Both are stored encrypted in ~/.tradedoc/credentials.yaml.

The TRADEDOC_API_KEY environment variable takes precedence over the stored key.`,
	}

	cmd.AddCommand(newAuthLoginCommand(deps))
	cmd.AddCommand(newAuthLogoutCommand(deps))
	cmd.AddCommand(newAuthStatusCommand(deps))
	return cmd
}

func newAuthLoginCommand(deps *Deps) *cobra.Command {
	opts := &authLoginOptions{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the AI API key and sign in an exporter",
		Long: `Store the AI API key and sign in an exporter profile.

Without flags you are prompted for both; the key is read without echo.
Leave the company name blank to store only the API key.`,
		Example: `  tradedoc auth login
  tradedoc auth login --api-key sk-... --company "Acme Exports" --address "1 Dock Road, Leeds"
  TRADEDOC_API_KEY=sk-... tradedoc auth login --company "Acme Exports" --non-interactive`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogin(deps, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "AI API key")
	cmd.Flags().StringVar(&opts.profile.CompanyName, "company", "", "Exporter company name")
	cmd.Flags().StringVar(&opts.profile.Address, "address", "", "Exporter address")
	cmd.Flags().StringVar(&opts.profile.TaxID, "tax-id", "", "Exporter tax or EORI number")
	cmd.Flags().StringVar(&opts.profile.Email, "email", "", "Exporter contact email")
	cmd.Flags().StringVar(&opts.profile.DefaultOrigin, "origin", "", "Default origin country for imported rows")
	cmd.Flags().BoolVar(&opts.nonInteractive, "non-interactive", false, "Fail instead of prompting for input")
	return cmd
}

func runAuthLogin(deps *Deps, opts *authLoginOptions, out io.Writer) error {
	store, err := deps.OpenCredentials()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}

	existing, err := store.ActiveAPIKey()
	if err != nil {
		return fmt.Errorf("reading credentials: %w", err)
	}

	apiKey := opts.apiKey
	if apiKey == "" && os.Getenv(credentials.APIKeyEnv) != "" {
		fmt.Fprintf(out, "Using API key from %s\n", credentials.APIKeyEnv)
	}
	if apiKey == "" && existing == "" {
		if opts.nonInteractive {
			return fmt.Errorf("no API key provided and --non-interactive flag set")
		}
		apiKey, err = deps.Prompt("AI API key: ", true)
		if err != nil {
			return fmt.Errorf("reading API key: %w", err)
		}
		if apiKey == "" {
			return fmt.Errorf("API key cannot be empty")
		}
	}
	if apiKey != "" {
		if err := store.SetAPIKey(apiKey); err != nil {
			return fmt.Errorf("saving API key: %w", err)
		}
		existing = apiKey
	}

	profile := opts.profile
	if profile.CompanyName == "" && !opts.nonInteractive {
		profile, err = promptProfile(deps)
		if err != nil {
			return err
		}
	}
	if profile.CompanyName != "" {
		if err := store.SignIn(profile); err != nil {
			return fmt.Errorf("signing in: %w", err)
		}
	}

	fmt.Fprintln(out, "Login successful!")
	fmt.Fprintf(out, "  API key:   %s (id %s)\n", credentials.MaskAPIKey(existing), credentials.APIKeyID(existing))
	if profile.CompanyName != "" {
		fmt.Fprintf(out, "  Exporter:  %s\n", profile.CompanyName)
	} else {
		fmt.Fprintln(out, "  Exporter:  (not signed in; exports stay locked)")
	}
	return nil
}

func newAuthLogoutCommand(deps *Deps) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out the exporter",
		Long: `Sign out the exporter profile. The API key is kept unless --all is given.

The TRADEDOC_API_KEY environment variable is not affected.`,
		Example: `  tradedoc auth logout
  tradedoc auth logout --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.OpenCredentials()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			out := cmd.OutOrStdout()
			if all {
				if err := store.Delete(); err != nil {
					return fmt.Errorf("removing credentials: %w", err)
				}
				fmt.Fprintln(out, "Signed out and removed the stored API key.")
				return nil
			}
			if err := store.SignOut(); err != nil {
				return fmt.Errorf("signing out: %w", err)
			}
			fmt.Fprintln(out, "Signed out.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Also remove the stored API key")
	return cmd
}

// AuthStatus is the machine-readable output of `auth status`.
type AuthStatus struct {
	APIKeySource string                    `json:"api_key_source" yaml:"api_key_source"`
	APIKey       string                    `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APIKeyID     string                    `json:"api_key_id,omitempty" yaml:"api_key_id,omitempty"`
	SignedIn     bool                      `json:"signed_in" yaml:"signed_in"`
	Exporter     *shipment.ExporterProfile `json:"exporter,omitempty" yaml:"exporter,omitempty"`
	SignedInAt   *time.Time                `json:"signed_in_at,omitempty" yaml:"signed_in_at,omitempty"`
	Encryption   string                    `json:"encryption" yaml:"encryption"`
	Keyring      bool                      `json:"keyring_available" yaml:"keyring_available"`
	Path         string                    `json:"path" yaml:"path"`
}

func newAuthStatusCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the API key source and the signed-in exporter",
		Example: `  tradedoc auth status
  tradedoc auth status -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			status, err := authStatus(deps)
			if err != nil {
				return err
			}
			return WriteOutput(cmd.OutOrStdout(), cfg.OutputFormat, status, func(w io.Writer) error {
				fmt.Fprintf(w, "API key:     %s", status.APIKeySource)
				if status.APIKey != "" {
					fmt.Fprintf(w, " %s (id %s)", status.APIKey, status.APIKeyID)
				}
				fmt.Fprintln(w)
				if status.SignedIn {
					fmt.Fprintf(w, "Exporter:    %s\n", status.Exporter.CompanyName)
					fmt.Fprintf(w, "  Address:   %s\n", valueOrDefault(status.Exporter.Address, "(not set)"))
					fmt.Fprintf(w, "  Origin:    %s\n", valueOrDefault(status.Exporter.DefaultOrigin, "(config default)"))
				} else {
					fmt.Fprintln(w, "Exporter:    not signed in")
				}
				fmt.Fprintf(w, "Encryption:  %s\n", status.Encryption)
				keyringState := "unavailable"
				if status.Keyring {
					keyringState = "available"
				}
				fmt.Fprintf(w, "Keyring:     %s\n", keyringState)
				fmt.Fprintf(w, "File:        %s\n", status.Path)
				return nil
			})
		},
	}
}

func authStatus(deps *Deps) (*AuthStatus, error) {
	store, err := deps.OpenCredentials()
	if err != nil {
		return nil, fmt.Errorf("initializing credential store: %w", err)
	}

	status := &AuthStatus{
		APIKeySource: "none",
		Encryption:   store.KeyDescription(),
		Path:         store.Path(),
	}
	if deps.KeyringAvailable != nil {
		status.Keyring = deps.KeyringAvailable()
	}

	creds, err := store.Load()
	if err != nil && !errors.Is(err, credentials.ErrNoCredentials) {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	key := os.Getenv(credentials.APIKeyEnv)
	switch {
	case key != "":
		status.APIKeySource = "environment"
	case creds != nil && creds.APIKey != "":
		key = creds.APIKey
		status.APIKeySource = "stored"
	}
	if key != "" {
		status.APIKey = credentials.MaskAPIKey(key)
		status.APIKeyID = credentials.APIKeyID(key)
	}

	if creds != nil && creds.Exporter != nil {
		status.SignedIn = true
		status.Exporter = creds.Exporter
		if !creds.SignedInAt.IsZero() {
			at := creds.SignedInAt
			status.SignedInAt = &at
		}
	}
	return status, nil
}
