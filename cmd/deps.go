// Package cmd provides CLI commands for the tradedoc tool.
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/term"

	"github.com/otherjamesbrown/tradedoc-cli/config"
	"github.com/otherjamesbrown/tradedoc-cli/credentials"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/ai"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/batch"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/db"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/documents"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/events"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/history"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
)

// AIService is the model surface commands use.
type AIService interface {
	ai.Enricher
	ai.Validator
	ai.Extractor
}

// Deps holds the collaborators shared by tradedoc commands. Tests replace
// fields with fakes.
type Deps struct {
	LoadConfig      func() (*config.CLIConfig, error)
	SaveConfig      func(*config.CLIConfig) error
	OpenCredentials func() (*credentials.Store, error)
	NewAI           func(cfg *config.CLIConfig, apiKey string, logger logging.Logger) AIService
	OpenDocuments   func(ctx context.Context, cfg *config.CLIConfig, logger logging.Logger) (documents.Store, error)
	OpenHistory     func(ctx context.Context, cfg *config.CLIConfig, logger logging.Logger) (history.Recorder, error)
	OpenPublisher   func(cfg *config.CLIConfig, logger logging.Logger) (*events.Publisher, error)
	ConnectDB       func(ctx context.Context, cfg *db.Config) (*pgxpool.Pool, error)

	// KeyringAvailable reports whether the OS keyring can hold the encryption key.
	KeyringAvailable func() bool

	// Prompt reads one line from the terminal. Secret input is not echoed.
	Prompt func(label string, secret bool) (string, error)

	// Sleeper replaces the stage row delays when set.
	Sleeper batch.Sleeper

	Logger logging.Logger
}

// DefaultDeps returns the dependencies for production use.
func DefaultDeps() *Deps {
	return &Deps{
		LoadConfig:      config.LoadConfig,
		SaveConfig:      config.SaveConfig,
		OpenCredentials: credentials.NewStore,
		NewAI: func(cfg *config.CLIConfig, apiKey string, logger logging.Logger) AIService {
			return ai.NewClient(cfg.AIClientConfig(apiKey), ai.WithLogger(logger))
		},
		OpenDocuments: func(ctx context.Context, cfg *config.CLIConfig, logger logging.Logger) (documents.Store, error) {
			return documents.Open(ctx, &cfg.Storage, logger)
		},
		OpenHistory: func(ctx context.Context, cfg *config.CLIConfig, logger logging.Logger) (history.Recorder, error) {
			return history.Open(ctx, &cfg.History, logger)
		},
		OpenPublisher:    openPublisher,
		ConnectDB:        db.Connect,
		KeyringAvailable: credentials.IsKeyringAvailable,
		Prompt:           promptTerminal,
	}
}

func (d *Deps) logger() logging.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return logging.MustGlobal()
}

// openPublisher announces progress on the history Redis when that backend is selected.
func openPublisher(cfg *config.CLIConfig, logger logging.Logger) (*events.Publisher, error) {
	if cfg.History.Backend != history.BackendRedis {
		return nil, nil
	}
	return events.NewPublisherFromConfig(events.PublisherConfig{
		Addr:     cfg.History.RedisAddr,
		Password: cfg.History.RedisPassword,
		DB:       cfg.History.RedisDB,
	}, logger)
}

// apiKey returns the active model API key or an error naming how to set one.
func (d *Deps) apiKey() (string, error) {
	store, err := d.OpenCredentials()
	if err != nil {
		return "", fmt.Errorf("initializing credential store: %w", err)
	}
	key, err := store.ActiveAPIKey()
	if err != nil {
		return "", fmt.Errorf("reading credentials: %w", err)
	}
	if key == "" {
		return "", fmt.Errorf("no AI API key configured: run 'tradedoc auth login' or set %s", credentials.APIKeyEnv)
	}
	return key, nil
}

func promptTerminal(label string, secret bool) (string, error) {
	fmt.Fprint(os.Stderr, label)
	if secret && term.IsTerminal(int(syscall.Stdin)) {
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	return readLine(os.Stdin)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
