package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"brisk/internal/config"
	"brisk/internal/engine"
	"brisk/internal/journal"
	"brisk/internal/logger"
	"brisk/internal/store"
	statushttp "brisk/internal/transport/http/status"

	"golang.org/x/sync/errgroup"
)

// App owns the wired runtime: engine, status server and the stores they
// write to.
type App struct {
	cfg        *config.Config
	configPath string

	engine  *engine.Engine
	bars    *store.BarStore
	journal *journal.Journal
	http    *statushttp.Server
	watcher *config.Watcher

	closeOnce sync.Once
	Summary   *StartupSummary
}

// NewApp builds the application from cfg without starting it.
func NewApp(cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg, opts)
}

// Run starts the engine and the status server and blocks until ctx is
// cancelled or the engine is asked to stop. Stores are closed on return.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.engine == nil {
		return fmt.Errorf("engine not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}
	a.startWatcher()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, gctx := errgroup.WithContext(runCtx)

	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(gctx); err != nil {
				return fmt.Errorf("status http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		if err := a.engine.Start(gctx); err != nil {
			return fmt.Errorf("engine start: %w", err)
		}
		select {
		case <-gctx.Done():
		case <-a.engine.Done():
			logger.Infof("[app] stop requested")
		}
		a.engine.Stop()
		cancel()
		return nil
	})

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Engine exposes the supervisor, mainly for tests.
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Close stops the watcher and flushes the journal before closing the bar
// store. It is safe to call more than once.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	a.closeOnce.Do(func() {
		if a.watcher != nil {
			a.watcher.Stop()
		}
		if a.engine != nil {
			a.engine.Stop()
		}
		if a.journal != nil {
			if err := a.journal.Close(); err != nil {
				errs = append(errs, err)
			}
			st := a.journal.Stats()
			logger.Infof("[app] journal closed: recorded=%d dropped=%d failed=%d", st.Recorded, st.Dropped, st.Failed)
		}
		if a.bars != nil {
			if err := a.bars.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func (a *App) startWatcher() {
	if a.configPath == "" {
		return
	}
	w, err := config.Watch(a.configPath, a.applyReload)
	if err != nil {
		logger.Warnf("[app] config hot reload disabled: %v", err)
		return
	}
	a.watcher = w
}

// applyReload takes the risk section and log level from a reloaded config.
// Everything else needs a restart.
func (a *App) applyReload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	logger.SetLevel(cfg.App.LogLevel)
	if err := a.engine.ApplyRisk(RiskFromConfig(cfg.Risk)); err != nil {
		logger.Warnf("[app] reloaded risk rejected: %v", err)
		return
	}
	logger.Infof("[app] risk settings reloaded; open positions keep their entry parameters")
}
