package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/otherjamesbrown/tradedoc-cli/config"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/bulk"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/documents"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/emission"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/enrichment/pipeline"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/history"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/observability"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/render"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/session"
)

// workspaceEnv is a Workspace plus the connections it was built on.
type workspaceEnv struct {
	ws       *bulk.Workspace
	ai       AIService
	docs     documents.Store
	recorder history.Recorder
	closers  []func() error
}

func (e *workspaceEnv) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openWorkspace wires the stages from cfg. Metrics register with reg.
func (d *Deps) openWorkspace(ctx context.Context, cfg *config.CLIConfig, identity session.Identity, reg prometheus.Registerer, opts ...bulk.Option) (*workspaceEnv, error) {
	logger := d.logger()

	key, err := d.apiKey()
	if err != nil {
		return nil, err
	}

	env := &workspaceEnv{ai: d.NewAI(cfg, key, logger)}

	env.docs, err = d.OpenDocuments(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening document storage: %w", err)
	}

	env.recorder, err = d.OpenHistory(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening shipment history: %w", err)
	}
	env.closers = append(env.closers, env.recorder.Close)

	publisher, err := d.OpenPublisher(cfg, logger)
	if err != nil {
		logger.Warn("Event publishing disabled", logging.Err(err))
	} else if publisher != nil {
		env.closers = append(env.closers, publisher.Close)
		opts = append(opts, bulk.WithPublisher(publisher))
	}

	metrics := observability.NewBulkMetrics(reg)
	tracer := observability.NewTracer()

	pipeOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithRowDelay(cfg.Pipeline.RowDelay),
		pipeline.WithReportEvery(cfg.Pipeline.ProgressEvery),
		pipeline.WithDutiesPayer(cfg.DutiesPayer()),
		pipeline.WithMetrics(metrics),
		pipeline.WithTracer(tracer),
	}
	emitOpts := []emission.Option{
		emission.WithLogger(logger),
		emission.WithRowDelay(cfg.Pipeline.EmitDelay),
		emission.WithReportEvery(cfg.Pipeline.ProgressEvery),
		emission.WithRecorder(env.recorder),
		emission.WithMetrics(metrics),
		emission.WithTracer(tracer),
	}
	if d.Sleeper != nil {
		pipeOpts = append(pipeOpts, pipeline.WithSleeper(d.Sleeper))
		emitOpts = append(emitOpts, emission.WithSleeper(d.Sleeper))
	}

	p := pipeline.New(env.ai, env.ai, pipeOpts...)
	e := emission.New(render.NewInvoiceRenderer(), env.docs, emitOpts...)

	opts = append([]bulk.Option{
		bulk.WithLogger(logger),
		bulk.WithDefaultOrigin(cfg.DefaultOrigin),
	}, opts...)
	env.ws = bulk.NewWorkspace(p, e, identity, env.docs, opts...)
	return env, nil
}
