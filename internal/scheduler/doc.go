// Package scheduler owns the watcher lifecycle: one loop goroutine per
// watched repository with its own ticker, a registry that configuration
// reloads are reconciled against, and a bounded-grace shutdown path.
package scheduler
