package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillloop/internal/config"
	"github.com/fyrsmithlabs/skillloop/internal/learning"
	"github.com/fyrsmithlabs/skillloop/internal/logging"
	"github.com/fyrsmithlabs/skillloop/internal/loop"
	"github.com/fyrsmithlabs/skillloop/internal/quality"
	"github.com/fyrsmithlabs/skillloop/internal/review"
	"github.com/fyrsmithlabs/skillloop/internal/secrets"
	"github.com/fyrsmithlabs/skillloop/internal/skills"
	"github.com/fyrsmithlabs/skillloop/internal/telemetry"
)

// app holds the dependencies shared by every command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	registry  *prometheus.Registry

	store     skills.Store
	fileStore *skills.FileStore
	gate      *skills.Gate
	redactor  *secrets.Redactor

	inbox *review.Inbox
	nc    *nats.Conn
	bus   *review.Bus
}

// openApp loads configuration and initializes, in order: telemetry, the
// logger, the skill store, the secret redactor and the promotion gate.
// The reviewer transport is connected lazily by connectReview.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, registry: prometheus.NewRegistry(), inbox: review.NewInbox()}

	a.telemetry, err = telemetry.New(ctx, &cfg.Telemetry, nil, telemetry.WithRegisterer(a.registry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a.logger, err = logging.NewLogger(&cfg.Logging, a.telemetry.LoggerProvider())
	if err != nil {
		a.shutdownTelemetry()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := cfg.EnsureDirs(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openStore(); err != nil {
		a.Close()
		return nil, err
	}

	a.redactor, err = secrets.New(cfg.Secrets, a.zap().Named("secrets"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize secret redactor: %w", err)
	}

	a.gate = skills.NewGate(a.store,
		skills.WithExportDir(cfg.Skills.ExportDir),
		skills.WithGateLogger(a.zap().Named("gate")),
	)
	return a, nil
}

func (a *app) zap() *zap.Logger {
	return a.logger.Underlying()
}

func (a *app) openStore() error {
	storeLogger := skills.WithLogger(a.zap().Named("skills"))
	switch a.cfg.Skills.Backend {
	case config.BackendBadger:
		bs, err := skills.OpenBadgerStore(skills.BadgerConfig{Path: a.cfg.Skills.BadgerPath}, storeLogger)
		if err != nil {
			return fmt.Errorf("failed to open badger store: %w", err)
		}
		a.store = bs
	default:
		fs, err := skills.NewFileStore(a.cfg.Skills.Dir, a.cfg.Skills.FeedbackDir, storeLogger)
		if err != nil {
			return fmt.Errorf("failed to open skill store: %w", err)
		}
		a.store = fs
		a.fileStore = fs
	}
	return nil
}

// watchStore invalidates the file store cache on external edits until ctx
// ends. It is a no-op unless skills.watch is set.
func (a *app) watchStore(ctx context.Context) error {
	if !a.cfg.Skills.Watch || a.fileStore == nil {
		return nil
	}
	return a.fileStore.Watch(ctx)
}

// connectReview attaches the NATS bus when review.nats_url is set. Without
// it, signals stay in the in-process inbox.
func (a *app) connectReview() error {
	url := a.cfg.Review.NATSURL
	if url == "" || a.bus != nil {
		return nil
	}
	nc, err := nats.Connect(url,
		nats.Name("skillloop"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	bus, err := review.NewBus(nc, a.inbox,
		review.WithSubjectPrefix(a.cfg.Review.SubjectPrefix),
		review.WithPublishRate(a.cfg.Review.PublishRate, a.cfg.Review.PublishBurst),
		review.WithBusLogger(a.zap().Named("review")),
	)
	if err != nil {
		nc.Close()
		return err
	}
	a.nc, a.bus = nc, bus
	a.logger.Info(context.Background(), "connected to NATS", zap.String("url", url))
	return nil
}

// reviews is what the HTTP and MCP surfaces answer signals through. With a
// bus, submitted results also reach loops running in other processes.
func (a *app) reviews() review.Desk {
	if a.bus != nil {
		return a.bus
	}
	return a.inbox
}

// controller builds a loop controller from configuration. Signals go to the
// NATS bus when connected and to the inbox otherwise; results are always
// collected from the inbox.
func (a *app) controller() (*loop.Controller, error) {
	var scorerOpts []quality.Option
	if a.cfg.Scorer.Command != "" {
		scorerOpts = append(scorerOpts, quality.WithExternalScorer(
			quality.NewProcessScorer(a.cfg.Scorer.Command, a.cfg.Scorer.Args, a.cfg.Scorer.Timeout.Duration()),
		))
	}
	scorerOpts = append(scorerOpts, quality.WithLogger(a.zap().Named("quality")))
	loopCfg := a.cfg.LoopConfig()
	assessor := quality.NewAssessor(loopCfg.QualityThreshold, scorerOpts...)

	metrics, err := loop.NewMetrics(a.telemetry.Meter(loop.InstrumentationName))
	if err != nil {
		return nil, fmt.Errorf("failed to create loop metrics: %w", err)
	}

	opts := []loop.Option{
		loop.WithAssessor(assessor),
		loop.WithInbox(a.inbox),
		loop.WithLogger(a.zap()),
		loop.WithMetrics(metrics),
	}
	if a.bus != nil {
		opts = append(opts, loop.WithPublisher(a.bus))
	}
	return loop.NewController(loopCfg, opts...), nil
}

// orchestrator wraps runner with learning as configured under skills.
func (a *app) orchestrator(runner learning.Runner) (*learning.Orchestrator, error) {
	metrics, err := learning.NewMetrics(a.telemetry.Meter(learning.InstrumentationName))
	if err != nil {
		return nil, fmt.Errorf("failed to create learning metrics: %w", err)
	}
	sc := a.cfg.Skills
	cfg := learning.Config{
		Enabled:      sc.Enabled,
		AutoPromote:  sc.AutoPromote,
		MaxInjected:  sc.MaxInjected,
		PromotedOnly: sc.PromotedOnly,
		MinQuality:   sc.MinQuality,
	}
	return learning.New(runner, a.store, cfg,
		learning.WithLogger(a.zap()),
		learning.WithMetrics(metrics),
		learning.WithGate(a.gate),
		learning.WithExtractor(skills.NewExtractor(a.store,
			skills.WithRedactor(a.redactor),
			skills.WithExtractorLogger(a.zap().Named("extractor")),
		)),
	), nil
}

// Close releases everything openApp and connectReview acquired, in reverse.
func (a *app) Close() error {
	var errs []error
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	if a.nc != nil {
		a.nc.Close()
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	a.shutdownTelemetry()
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

func (a *app) shutdownTelemetry() {
	if a.telemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Telemetry.Shutdown.Timeout)
	defer cancel()
	_ = a.telemetry.Shutdown(ctx)
}
