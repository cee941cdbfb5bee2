package app

import (
	"context"
	"fmt"
	"os"

	"prwatch/internal/config"
	"prwatch/internal/events"
	"prwatch/internal/notifier"
	"prwatch/internal/scheduler"
	"prwatch/pkg/logging"
)

// Application bootstraps and runs the daemon.
//
// The bootstrap happens in two phases: NewApplication loads and validates the
// configuration and constructs the providers, so configuration mistakes fail
// the process before anything starts; Run starts the scheduler and the
// configuration watcher and blocks until the context is cancelled.
type Application struct {
	cfg     Config
	fileCfg config.Config

	bus   *events.Bus
	sched *scheduler.Scheduler
}

// NewApplication initializes logging, loads the configuration and wires the
// scheduler with both provider clients.
func NewApplication(cfg Config) (*Application, error) {
	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stdout)

	fileCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	scmClient, ciClient, err := BuildProviders(fileCfg)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	sched := scheduler.New(scheduler.Deps{
		SCM:      scmClient,
		CI:       ciClient,
		Bus:      bus,
		Notifier: notifier.New(scmClient, BuildURL(fileCfg.TeamCity)),
	})

	return &Application{
		cfg:     cfg,
		fileCfg: fileCfg,
		bus:     bus,
		sched:   sched,
	}, nil
}

// Run starts the watchers and blocks until ctx is cancelled. Configuration
// file changes are picked up while running.
func (a *Application) Run(ctx context.Context) error {
	sub := a.bus.Subscribe()
	go logEvents(sub)

	reloads := make(chan config.Config, 1)
	watcher := config.NewWatcher(a.cfg.ConfigPath, 0)
	if err := watcher.Start(ctx, reloads); err != nil {
		return fmt.Errorf("watching configuration: %w", err)
	}
	defer watcher.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-reloads:
				if !ok {
					return
				}
				// Base URLs and credentials are fixed for the process
				// lifetime; the repository set and policies are not.
				a.sched.ApplyConfig(&cfg)
			}
		}
	}()

	err := a.sched.Run(ctx, &a.fileCfg)
	if err == nil {
		a.bus.Close()
	}
	return err
}

// logEvents mirrors the event stream into the debug log.
func logEvents(sub <-chan events.Event) {
	for event := range sub {
		logging.Debug("Events", "pass=%s kind=%s repo=%s pr=%d commit=%s build=%s reason=%s error=%s",
			event.PassID, event.Kind, event.Repository, event.PullRequestID,
			event.Commit, event.BuildID, event.Reason, event.Error)
	}
}
