package main

import (
	"context"
	"errors"
	"fmt"

	"tracklight/internal/activity"
	"tracklight/internal/analysis"
	"tracklight/internal/config"
	"tracklight/internal/crawler"
	"tracklight/internal/ingest"
	"tracklight/internal/logger"
	"tracklight/internal/models"
	"tracklight/internal/prefs"
	"tracklight/internal/store"
)

// app holds everything a command needs. analyzer is nil when no API key is configured.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	store    *store.Store
	prefs    *prefs.Store
	journal  *activity.Journal
	analyzer *analysis.Client
	pipeline *ingest.Pipeline
}

// unavailableAnalyzer stands in for the analysis client when it is not configured.
type unavailableAnalyzer struct{}

func (unavailableAnalyzer) Analyze(context.Context, string, string) (models.Analysis, error) {
	return models.Analysis{}, fmt.Errorf("%w: set OPENAI_API_KEY or analysis.api_key", analysis.ErrNotConfigured)
}

func loadConfig(opts *globalOptions) (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, nil, err
	}

	if opts.storePath != "" {
		cfg.Store.Path = opts.storePath
	}

	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	return cfg, logger.NewLogger(cfg.Logging.Level), nil
}

func openApp(opts *globalOptions) (*app, error) {
	cfg, log, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	st, err := openStore(cfg.Store.Path, opts.resetCorrupt, log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:   cfg,
		log:   log,
		store: st,
		prefs: prefs.Open(cfg.Store.PrefsPath, log),
	}

	a.journal, err = activity.Open(cfg.Store.ActivityPath)
	if err != nil {
		log.Warn("activity log unavailable", "path", cfg.Store.ActivityPath, "error", err)
		a.journal = nil
	}

	var az analysis.Analyzer = unavailableAnalyzer{}

	a.analyzer, err = analysis.New(&cfg.Analysis, log)

	switch {
	case err == nil:
		az = a.analyzer
	case errors.Is(err, analysis.ErrNotConfigured):
		log.Debug("analysis disabled", "reason", err)
	default:
		a.Close()

		return nil, err
	}

	pipeOpts := []ingest.Option{ingest.WithLogger(log)}
	if a.journal != nil {
		pipeOpts = append(pipeOpts, ingest.WithJournal(a.journal))
	}

	a.pipeline = ingest.New(st, crawler.NewClient(&cfg.Crawler, log), az, pipeOpts...)

	return a, nil
}

// openStore opens the record store. With reset set, a corrupt file is renamed aside
// and an empty store is opened in its place.
func openStore(path string, reset bool, log *logger.Logger) (*store.Store, error) {
	st, err := store.Open(path, store.WithLogger(log))
	if err == nil {
		return st, nil
	}

	if !reset || !errors.Is(err, store.ErrCorruptStore) {
		if errors.Is(err, store.ErrCorruptStore) {
			return nil, fmt.Errorf("%w (rerun with --reset-corrupt to move it aside)", err)
		}

		return nil, err
	}

	backup, berr := store.BackupCorrupt(path)
	if berr != nil {
		return nil, fmt.Errorf("backing up corrupt store: %w", berr)
	}

	log.Warn("corrupt store moved aside", "path", path, "backup", backup)

	return store.Open(path, store.WithLogger(log))
}

func (a *app) requireAnalyzer() (*analysis.Client, error) {
	if a.analyzer == nil {
		return nil, fmt.Errorf("%w: set OPENAI_API_KEY or analysis.api_key", analysis.ErrNotConfigured)
	}

	return a.analyzer, nil
}

// Close releases the store lock and the activity log.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("closing store", "error", err)
	}

	if err := a.journal.Close(); err != nil {
		a.log.Warn("closing activity log", "error", err)
	}

	_ = a.log.Sync()
}
