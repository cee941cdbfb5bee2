// Package events is the observability surface of prwatch. Watchers publish
// one structured event per decision outcome (trigger issued, rejected,
// failed, retirement, build status change) and per watcher lifecycle change.
// Subscribers receive events over buffered channels; delivery is best-effort
// so a slow consumer can never stall reconciliation.
package events
