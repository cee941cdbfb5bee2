package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"prwatch/internal/ci"
	"prwatch/internal/config"
	"prwatch/internal/events"
	"prwatch/internal/scm"
	"prwatch/internal/watcher"
	"prwatch/pkg/logging"
)

// DefaultShutdownGrace bounds how long Run waits for watcher loops to drain
// after cancellation.
const DefaultShutdownGrace = 15 * time.Second

// Deps are the shared collaborators handed to every watcher.
type Deps struct {
	SCM      scm.Provider
	CI       ci.Provider
	Bus      *events.Bus
	Notifier watcher.Notifier

	// ShutdownGrace overrides DefaultShutdownGrace when positive.
	ShutdownGrace time.Duration
}

// managedWatcher pairs a watcher with the cancel function of its loop.
type managedWatcher struct {
	watcher *watcher.Watcher
	cancel  context.CancelFunc
}

// Scheduler runs one goroutine per watched repository. Each loop owns its
// watcher exclusively; the scheduler only touches the registry map and the
// watchers' concurrency-safe snapshot methods.
type Scheduler struct {
	deps Deps

	mu       sync.Mutex
	watchers map[string]*managedWatcher
	runCtx   context.Context
	group    *errgroup.Group
	running  bool
}

// New creates a scheduler. Run must be called before ApplyConfig.
func New(deps Deps) *Scheduler {
	return &Scheduler{
		deps:     deps,
		watchers: make(map[string]*managedWatcher),
	}
}

// Run starts a watcher loop per configured repository and blocks until ctx is
// cancelled, then waits for the loops to drain within the shutdown grace
// period.
func (s *Scheduler) Run(ctx context.Context, cfg *config.Config) error {
	group, groupCtx := errgroup.WithContext(ctx)

	s.mu.Lock()
	s.group = group
	s.runCtx = groupCtx
	s.running = true
	s.mu.Unlock()

	s.ApplyConfig(cfg)
	logging.Info("Scheduler", "Started %d repository watchers", len(cfg.Repos))

	<-ctx.Done()

	s.mu.Lock()
	s.running = false
	for _, m := range s.watchers {
		m.cancel()
	}
	s.mu.Unlock()

	grace := s.deps.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		logging.Info("Scheduler", "All watchers stopped")
		return err
	case <-time.After(grace):
		return fmt.Errorf("watchers did not stop within %s", grace)
	}
}

// ApplyConfig reconciles the watcher registry against a new configuration:
// watchers for removed repositories are stopped, new repositories get fresh
// watchers, changed repositories are restarted with the new settings, and
// halted watchers are resumed so updated credentials take effect.
func (s *Scheduler) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		logging.Warn("Scheduler", "Ignoring configuration for stopped scheduler")
		return
	}

	desired := make(map[string]config.RepositoryConfig, len(cfg.Repos))
	for _, repo := range cfg.Repos {
		desired[repo.Name()] = repo
	}

	for name, m := range s.watchers {
		repo, keep := desired[name]
		if keep && repo.Equal(m.watcher.Config()) {
			continue
		}
		m.cancel()
		delete(s.watchers, name)
		if keep {
			logging.Info("Scheduler", "Restarting watcher for %s with changed settings", name)
		} else {
			logging.Info("Scheduler", "Stopped watcher for removed repository %s", name)
		}
	}

	for name, repo := range desired {
		if m, ok := s.watchers[name]; ok {
			m.watcher.Resume()
			continue
		}
		s.startLocked(repo)
		logging.Info("Scheduler", "Started watcher for %s (every %s)", name, repo.PollInterval)
	}
}

// startLocked registers and launches one watcher loop. Callers hold s.mu.
func (s *Scheduler) startLocked(repo config.RepositoryConfig) {
	w := watcher.New(repo, s.deps.SCM, s.deps.CI, s.deps.Bus, s.deps.Notifier)
	loopCtx, cancel := context.WithCancel(s.runCtx)
	s.watchers[repo.Name()] = &managedWatcher{watcher: w, cancel: cancel}

	s.group.Go(func() error {
		s.runLoop(loopCtx, w)
		return nil
	})
}

// runLoop drives one watcher: an immediate first pass, then one pass per
// delay. Passes never overlap for a repository because the loop is the only
// caller of RunPass.
func (s *Scheduler) runLoop(ctx context.Context, w *watcher.Watcher) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if w.Halted() {
			// Only a configuration reload can resume it; keep the loop
			// alive and check again later.
			timer.Reset(w.Config().PollInterval)
			continue
		}

		if err := w.RunPass(ctx); err != nil && ctx.Err() != nil {
			return
		}
		timer.Reset(w.NextDelay())
	}
}

// Statuses returns a snapshot per watcher, sorted by repository name.
func (s *Scheduler) Statuses() []watcher.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]watcher.Status, 0, len(s.watchers))
	for _, m := range s.watchers {
		statuses = append(statuses, m.watcher.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Repository < statuses[j].Repository
	})
	return statuses
}

// HaltedRepositories returns the names of watchers currently halted on fatal
// provider errors.
func (s *Scheduler) HaltedRepositories() []string {
	var halted []string
	for _, status := range s.Statuses() {
		if status.State == watcher.StateHalted {
			halted = append(halted, status.Repository)
		}
	}
	return halted
}
