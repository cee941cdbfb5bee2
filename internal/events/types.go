package events

import (
	"time"
)

// Kind classifies an event.
type Kind string

const (
	// KindTriggerIssued means a build was successfully queued.
	KindTriggerIssued Kind = "TriggerIssued"

	// KindTriggerFailed means a trigger failed transiently and will be
	// retried on the next pass.
	KindTriggerFailed Kind = "TriggerFailed"

	// KindTriggerRejected means the build server refused the trigger; it
	// will not be retried until the head commit changes.
	KindTriggerRejected Kind = "TriggerRejected"

	// KindRetired means a pull request's state was removed after it
	// stayed absent past the debounce window.
	KindRetired Kind = "Retired"

	// KindBuildStatusChanged means a tracked build moved to a new status.
	KindBuildStatusChanged Kind = "BuildStatusChanged"

	// KindWatcherHalted means a watcher hit a fatal provider error and
	// stopped until the configuration changes.
	KindWatcherHalted Kind = "WatcherHalted"

	// KindWatcherResumed means a halted watcher was brought back by a
	// configuration reload.
	KindWatcherResumed Kind = "WatcherResumed"
)

// Event is one structured observability record. Every reconciliation
// decision that results in an action, and every watcher lifecycle change,
// produces exactly one event.
type Event struct {
	// PassID identifies the reconciliation pass that produced the event.
	// Events of the same pass share the id.
	PassID string

	Kind       Kind
	Repository string

	// PullRequestID is zero for watcher-level events.
	PullRequestID int

	Commit  string
	BuildID string

	// Reason carries the engine's decision reason where applicable.
	Reason string

	// Error carries the failure description for TriggerFailed,
	// TriggerRejected and WatcherHalted events.
	Error string

	Timestamp time.Time
}
