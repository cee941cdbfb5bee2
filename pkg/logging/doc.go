// Package logging provides structured logging for prwatch, built on Go's
// standard slog package.
//
// All log entries carry a timestamp, a level, a subsystem identifier and a
// formatted message, plus optional error information. Subsystems group log
// output by component (Bootstrap, Config, Scheduler, Watcher, Bitbucket,
// TeamCity, Events, Notifier) so that output can be filtered downstream.
//
// Usage:
//
//	logging.Init(logging.LevelInfo, os.Stdout)
//
//	logging.Info("Bootstrap", "Starting %d repository watchers", n)
//	logging.Debug("Watcher", "Poll for %s returned %d open pull requests", repo, len(prs))
//	logging.Error("Bitbucket", err, "Listing pull requests for %s failed", repo)
//
// Level filtering happens at the handler, so messages below the configured
// level cost no allocations. The package is safe for concurrent use.
package logging
