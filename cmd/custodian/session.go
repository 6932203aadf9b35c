package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/custodian-dfir/custodian/internal/casestore"
	"github.com/custodian-dfir/custodian/internal/config"
	"github.com/custodian-dfir/custodian/internal/engine"
	"github.com/custodian-dfir/custodian/internal/logging"
	"github.com/custodian-dfir/custodian/internal/mountmgr"
	"github.com/custodian-dfir/custodian/internal/mountprobe"
	"github.com/custodian-dfir/custodian/internal/workers"
	"github.com/custodian-dfir/custodian/pkg/audit"
)

// session assembles the full engine stack for one CLI invocation. The
// server and every one-shot command go through the same wiring so audit
// logging and mount policy are identical everywhere.
type session struct {
	cfg      *config.Config
	store    *casestore.Store
	registry *mountprobe.Registry
	engine   *engine.Engine
	pool     *workers.Pool
}

func newSession() (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logging.Init(logging.Config{
		Format:     cfg.LogFormat,
		Level:      cfg.LogLevel,
		Component:  "custodian",
		FilePath:   cfg.LogFile,
		MaxSizeMB:  int(cfg.LogMaxSizeMB),
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	if auditLogger, err := audit.NewSQLiteLogger(audit.SQLiteLoggerConfig{
		DataDir:       cfg.DataDir,
		RetentionDays: cfg.AuditRetentionDays,
	}); err != nil {
		log.Warn().Err(err).Msg("audit database unavailable, falling back to console audit log")
	} else {
		audit.SetLogger(auditLogger)
	}

	store, err := casestore.NewStore(cfg.CaseRoot, log.Logger)
	if err != nil {
		return nil, err
	}

	registry := mountprobe.NewRegistry()
	prober := mountprobe.NewComposite(mountprobe.NewSystemProber(log.Logger), registry)
	manager := mountmgr.NewManager(mountmgr.SelectBackend(registry, log.Logger), log.Logger)
	pool := workers.NewPool(cfg.Workers, log.Logger)

	eng := engine.New(engine.Config{
		Store:          store,
		Manager:        manager,
		Prober:         prober,
		Pool:           pool,
		Logger:         log.Logger,
		HashAlgorithms: cfg.HashAlgorithms,
		AutoRemount:    cfg.AutoRemount,
	})

	return &session{
		cfg:      cfg,
		store:    store,
		registry: registry,
		engine:   eng,
		pool:     pool,
	}, nil
}

// close drains background jobs, saves the active case and releases the
// audit database. One-shot commands call this before exiting so baseline
// hashes scheduled by the command are finished, not abandoned.
func (s *session) close() {
	s.pool.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.engine.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
	if err := audit.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close audit log")
	}
}
