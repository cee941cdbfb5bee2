// Package watcher runs the poll/reconcile/trigger cycle for a single
// repository. A watcher owns its pull request state store, applies the
// engine's decisions against the CI provider with bounded trigger
// concurrency, and tracks its own lifecycle: Idle, Polling, Reconciling,
// Triggering, Backoff after transient failures, Halted after fatal ones.
package watcher
