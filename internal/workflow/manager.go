package workflow

import (
	"context"
	"log/slog"

	"pagebind/internal/assembler"
	"pagebind/internal/batchcache"
	"pagebind/internal/config"
	"pagebind/internal/imaging"
	"pagebind/internal/journal"
	"pagebind/internal/logging"
	"pagebind/internal/matcher"
	"pagebind/internal/merger"
	"pagebind/internal/metrics"
	"pagebind/internal/pathresolve"
	"pagebind/internal/pdfcheck"
	"pagebind/internal/preflight"
	"pagebind/internal/remote"
	"pagebind/internal/runner"
)

// ProgressFunc returns the per-page callback for one document, or nil.
type ProgressFunc func(bookID, variant string) func(done, total int)

// Manager wires the pipeline components for one configuration.
type Manager struct {
	cfg       *config.Config
	store     remote.Store
	cache     *batchcache.Manager
	resolver  pathresolve.Resolver
	matcher   *matcher.Matcher
	assembler *assembler.Assembler
	merger    *merger.Merger
	validator pdfcheck.Validator
	journal   *journal.Store
	metrics   *metrics.Recorder
	progress  ProgressFunc
	preflight func(ctx context.Context, cfg *config.Config) []preflight.Result
	logger    *slog.Logger
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithJournal records every document in the journal.
func WithJournal(store *journal.Store) Option {
	return func(m *Manager) { m.journal = store }
}

// WithMetrics records batch metrics and exports them after each batch.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = recorder }
}

// WithProgress installs a page progress reporter.
func WithProgress(fn ProgressFunc) Option {
	return func(m *Manager) { m.progress = fn }
}

// WithResolver replaces the config-driven path resolver.
func WithResolver(resolver pathresolve.Resolver) Option {
	return func(m *Manager) {
		if resolver != nil {
			m.resolver = resolver
		}
	}
}

// New builds a Manager. store may be nil for commands that never touch the
// remote (build, copy-hocr).
func New(cfg *config.Config, exec runner.Executor, store remote.Store, logger *slog.Logger, opts ...Option) (*Manager, error) {
	resolver, err := pathresolve.NewTemplate(cfg.Books)
	if err != nil {
		return nil, err
	}
	validatorName := pdfcheck.ValidatorNone
	if cfg.PDF.Validate {
		validatorName = cfg.Tools.Validator
	}
	validator, err := pdfcheck.New(validatorName, exec, logger)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:       cfg,
		store:     store,
		resolver:  resolver,
		matcher:   matcher.New(logger),
		assembler: assembler.New(exec, imaging.New(exec), cfg.Workers(), logger),
		merger:    merger.New(exec, cfg.Tools, logger),
		validator: validator,
		preflight: preflight.RunAll,
		logger:    logging.NewComponentLogger(logger, "workflow"),
	}
	if store != nil {
		m.cache = batchcache.NewManager(cfg, store, logger)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) progressFor(bookID, variant string) func(done, total int) {
	if m.progress == nil {
		return nil
	}
	return m.progress(bookID, variant)
}
