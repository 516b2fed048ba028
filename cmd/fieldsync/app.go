package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/njoerd114/fieldsync/internal/api"
	"github.com/njoerd114/fieldsync/internal/config"
	"github.com/njoerd114/fieldsync/internal/events"
	"github.com/njoerd114/fieldsync/internal/netwatch"
	"github.com/njoerd114/fieldsync/internal/report"
	"github.com/njoerd114/fieldsync/internal/session"
	"github.com/njoerd114/fieldsync/internal/store"
	syncp "github.com/njoerd114/fieldsync/internal/sync"
	"github.com/njoerd114/fieldsync/internal/telemetry"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	dbPath string

	client     *api.Client
	sessions   *session.Manager
	store      *store.Store
	writer     *report.Writer
	engine     *syncp.Engine
	scheduler  *syncp.Scheduler
	prober     *netwatch.Prober
	foreground *events.Broadcaster

	shutdownTel telemetry.ShutdownFunc
}

// newApp loads the config and wires every component. The local database is
// only opened when withStore is set.
func newApp(cfgPath string, logger *slog.Logger, withStore bool) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Debug("config loaded",
		"api_url", cfg.APIURL,
		"sync_interval", cfg.SyncInterval,
		"concurrency", cfg.Concurrency,
	)

	a := &app{cfg: cfg, log: logger, shutdownTel: func(context.Context) error { return nil }}

	// --- Telemetry (optional) ------------------------------------------------

	telCfg := telemetry.FromConfig(cfg.Telemetry, version)
	if telCfg.Enabled() {
		shutdown, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", telCfg.OTLPEndpoint)
			a.shutdownTel = shutdown
		}
	}

	// --- REST client and session ---------------------------------------------

	a.client = api.NewClient(api.Options{
		BaseURL:      cfg.APIURL,
		ReportsPath:  cfg.ReportsPath,
		LoginPath:    cfg.LoginPath,
		Timeout:      cfg.RequestTimeout,
		ProbeTimeout: cfg.ProbeTimeout,
		MaxAttempts:  cfg.RetryAttempts,
	}, logger)

	sessPath := cfg.SessionPath
	if sessPath == "" {
		if sessPath, err = session.DefaultPath(); err != nil {
			return nil, err
		}
	}
	a.sessions = session.NewManager(sessPath, a.client, logger)

	if !withStore {
		return a, nil
	}

	// --- Local store ---------------------------------------------------------

	a.dbPath = cfg.DBPath
	if a.dbPath == "" {
		if a.dbPath, err = store.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	a.store, err = store.Open(a.dbPath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening local database at %q: %w", a.dbPath, err)
	}
	logger.Debug("local database opened", "path", a.dbPath)

	// --- Sync ----------------------------------------------------------------

	a.writer = report.NewWriter(a.store, logger)
	a.engine = syncp.NewEngine(a.store, a.client, a.sessions, cfg.Concurrency, logger)
	a.foreground = events.NewBroadcaster()
	a.prober = netwatch.NewProber(a.client, cfg.ProbeInterval, logger)
	a.scheduler = syncp.NewScheduler(a.engine, syncp.SchedulerOptions{
		Interval:        cfg.SyncInterval,
		ForegroundDelay: cfg.ForegroundDelay,
		ReconnectDelay:  cfg.ReconnectDelay,
		Foreground:      a.foreground,
		Reconnect:       a.prober,
	}, logger)

	return a, nil
}

// close stops session services, closes the database and flushes telemetry.
func (a *app) close() {
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("closing local database", "error", err)
		}
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownTel(flushCtx); err != nil {
		a.log.Error("telemetry shutdown error", "error", err)
	}
}
