package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"pagebind/internal/config"
	"pagebind/internal/journal"
	"pagebind/internal/logging"
	"pagebind/internal/metrics"
	"pagebind/internal/remote"
	"pagebind/internal/runner"
	"pagebind/internal/workflow"
)

type commandContext struct {
	configFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

func (c *commandContext) executor(logger *slog.Logger) runner.Executor {
	return runner.New(runner.WithTimeout(c.config.ToolTimeout()), runner.WithLogger(logger))
}

// session bundles the manager with the resources it holds open.
type session struct {
	cfg     *config.Config
	manager *workflow.Manager
	logger  *slog.Logger
	closers []io.Closer
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i].Close()
	}
}

// openSession builds a workflow manager. withRemote connects the configured
// remote store; commands that only work on local files skip it.
func (c *commandContext) openSession(cmd *cobra.Command, withRemote bool) (*session, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.logger()
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s := &session{cfg: cfg, logger: logger}
	exec := c.executor(logger)

	var store remote.Store
	if withRemote {
		store, err = remote.New(ctx, cfg, exec, logger)
		if err != nil {
			return nil, err
		}
		if closer, ok := store.(io.Closer); ok {
			s.closers = append(s.closers, closer)
		}
	}

	ledger, err := journal.Open(ctx, cfg.Paths.JournalPath)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, ledger)

	opts := []workflow.Option{
		workflow.WithJournal(ledger),
		workflow.WithMetrics(metrics.New()),
	}
	if isTerminal(cmd.ErrOrStderr()) {
		opts = append(opts, workflow.WithProgress(progressReporter(cmd.ErrOrStderr())))
	}
	s.manager, err = workflow.New(cfg, exec, store, logger, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
