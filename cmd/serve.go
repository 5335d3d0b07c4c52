package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/tradedoc-cli/config"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/db"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/history"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/server"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/session"
)

// NewServeCommand creates the serve command.
func NewServeCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}
	var addr string
	var maxUpload int64

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the bulk workspace over HTTP",
		Long: `Run an HTTP server exposing one bulk workspace as a JSON API.

Routes:
  POST  /api/import            upload an xlsx or csv (multipart field "file")
  GET   /api/progress          current step, progress and row counts
  POST  /api/cancel            cancel the running stage
  POST  /api/reset             discard the workspace
  GET   /api/rows              review rows (?search=&status=)
  PATCH /api/rows/{id}         correct one field
  POST  /api/generate          render invoices
  GET   /api/export/archive    zip of generated invoices (sign-in required)
  GET   /api/export/summary    csv summary (sign-in required)
  GET   /api/session           signed-in exporter
  POST  /api/session/login     sign in an exporter profile
  POST  /api/session/logout    sign out
  POST  /api/extract           pull shipment fields from free text
  GET   /healthz, /version, /metrics

The server shares the exporter sign-in with 'tradedoc auth'.`,
		Example: `  tradedoc serve
  tradedoc serve --addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			return runServe(cmd.Context(), deps, cfg, maxUpload)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from server.address)")
	cmd.Flags().Int64Var(&maxUpload, "max-upload", server.DefaultMaxUploadBytes, "Largest accepted upload in bytes")
	return cmd
}

func runServe(ctx context.Context, deps *Deps, cfg *config.CLIConfig, maxUpload int64) error {
	logger := deps.logger().With(logging.F("component", "serve"))

	store, err := deps.OpenCredentials()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}
	identity := session.NewCredentialIdentity(store, session.WithLogger(logger))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	env, err := deps.openWorkspace(ctx, cfg, identity, reg)
	if err != nil {
		return err
	}
	defer env.Close()

	if pg, ok := env.recorder.(*history.PostgresRecorder); ok {
		if _, err := db.RegisterPoolStats(reg, pg.Pool(), "history"); err != nil {
			logger.Warn("Pool metrics disabled", logging.Err(err))
		}
	}

	srv := server.New(env.ws, identity, env.ai,
		server.WithLogger(logger),
		server.WithRegistry(reg),
		server.WithMaxUploadBytes(maxUpload))

	logger.Info("Serving bulk workspace",
		logging.F("addr", cfg.Server.Address),
		logging.F("storage", string(cfg.Storage.Backend)),
		logging.F("history", string(cfg.History.Backend)))
	return srv.ListenAndServe(ctx, cfg.Server.Address)
}
