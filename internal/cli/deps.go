package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/lucasnoah/mailgate/internal/config"
	"github.com/lucasnoah/mailgate/internal/corrector"
	"github.com/lucasnoah/mailgate/internal/db"
	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/llm"
	"github.com/lucasnoah/mailgate/internal/logging"
	"github.com/lucasnoah/mailgate/internal/orchestrator"
	"github.com/lucasnoah/mailgate/internal/pgstore"
	"github.com/lucasnoah/mailgate/internal/pipeline"
	"github.com/lucasnoah/mailgate/internal/quality"
	"github.com/lucasnoah/mailgate/internal/schema"
	"github.com/lucasnoah/mailgate/internal/telemetry"
	"github.com/lucasnoah/mailgate/internal/validator"
	"go.uber.org/zap"
)

// runStore is the orchestrator store plus run listing.
type runStore interface {
	orchestrator.Store
	ListRuns(ctx context.Context, status handoff.RunStatus) ([]handoff.PipelineRun, error)
}

type fileRunStore struct{ *pipeline.Store }

func (s fileRunStore) ListRuns(ctx context.Context, status handoff.RunStatus) ([]handoff.PipelineRun, error) {
	return s.List(ctx, status)
}

type pgRunStore struct{ *pgstore.DB }

const pgListLimit = 200

func (s pgRunStore) ListRuns(ctx context.Context, status handoff.RunStatus) ([]handoff.PipelineRun, error) {
	return s.DB.ListRuns(ctx, status, pgListLimit)
}

// openDB opens and migrates the event DB, returning it with a cleanup func.
func openDB(cfg *config.Config) (*db.DB, func(), error) {
	dbPath := cfg.Events.DBPath
	if dbPath == "" {
		p, err := db.DefaultDBPath()
		if err != nil {
			return nil, nil, err
		}
		dbPath = p
	}
	d, err := db.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, func() { d.Close() }, nil
}

// openStore opens the configured run store.
func openStore(ctx context.Context, cfg *config.Config) (runStore, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		pg, err := pgstore.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pgRunStore{pg}, pg.Close, nil
	default:
		if cfg.Storage.Dir != "" {
			return fileRunStore{pipeline.NewStore(cfg.Storage.Dir)}, func() {}, nil
		}
		s, err := pipeline.DefaultStore()
		if err != nil {
			return nil, nil, fmt.Errorf("open pipeline store: %w", err)
		}
		return fileRunStore{s}, func() {}, nil
	}
}

func newValidator(cfg *config.Config) *validator.Validator {
	return validator.New(
		schema.NewRegistry(cfg.SchemaOptions()),
		validator.WithPolicy(cfg.ValidatorPolicy()),
		validator.WithBudget(cfg.Pipeline.ValidationBudget),
	)
}

func newEvaluator(cfg *config.Config, profile string) (*quality.Evaluator, error) {
	gc, err := cfg.GateConfigFor(profile)
	if err != nil {
		return nil, err
	}
	gate, err := quality.NewGate(gc)
	if err != nil {
		return nil, err
	}
	validators := quality.DefaultValidators(cfg.Quality.DimensionThreshold)
	for i, v := range validators {
		if pv, ok := v.(quality.PerformanceValidator); ok {
			pv.MaxFileSizeBytes = cfg.Validation.MaxFileSizeBytes
			validators[i] = pv
		}
	}
	return quality.NewEvaluator(quality.NewRunner(cfg.Quality.DimensionTimeout, validators...), gate), nil
}

// newCorrector returns nil when no LLM key is configured.
func newCorrector(cfg *config.Config) (*corrector.Corrector, error) {
	if cfg.LLM.APIKey == "" {
		return nil, nil
	}
	client, err := llm.New(cfg.LLMConfig())
	if err != nil {
		return nil, err
	}
	return corrector.New(client), nil
}

func newLogger(cfg *config.Config, w io.Writer) (*logging.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	return logging.NewLogger(cfg.LoggingConfig(), w)
}

// app holds everything a pipeline run needs.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	events   *db.DB
	store    runStore
	deps     orchestrator.Deps
	cleanups []func()
}

// openApp wires the store, event log, logger, metrics and collaborators.
func openApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	rt := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.close(ctx)
		}
	}()

	log, err := newLogger(cfg, logOut)
	if err != nil {
		return nil, err
	}
	rt.log = log
	rt.cleanups = append(rt.cleanups, func() { _ = log.Sync() })

	events, cleanupDB, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	rt.events = events
	rt.cleanups = append(rt.cleanups, cleanupDB)

	store, cleanupStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.store = store
	rt.cleanups = append(rt.cleanups, cleanupStore)

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, version, cfg.Telemetry.Insecure)
	if err != nil {
		return nil, err
	}
	rt.cleanups = append(rt.cleanups, func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn(context.Background(), "telemetry shutdown failed", zap.Error(err))
		}
	})
	metrics, err := telemetry.NewMetrics(telemetry.Meter("mailgate"))
	if err != nil {
		return nil, err
	}

	sinks := orchestrator.MultiSink{
		logging.NewEventSink(log),
		db.NewEventSink(events, func(err error) {
			log.Warn(context.Background(), "event log write failed", zap.Error(err))
		}),
		metrics,
	}

	eval, err := newEvaluator(cfg, cfg.Quality.Profile)
	if err != nil {
		return nil, err
	}
	rt.deps = orchestrator.Deps{
		Validator: newValidator(cfg),
		Evaluator: eval,
		Store:     store,
		Sink:      sinks,
	}
	corr, err := newCorrector(cfg)
	if err != nil {
		return nil, err
	}
	if corr != nil {
		rt.deps.Corrector = corr
	}

	ok = true
	return rt, nil
}

// close runs cleanups in reverse order.
func (rt *app) close(_ context.Context) {
	for i := len(rt.cleanups) - 1; i >= 0; i-- {
		rt.cleanups[i]()
	}
	rt.cleanups = nil
}
