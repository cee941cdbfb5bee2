package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"prwatch/internal/ci"
	"prwatch/internal/config"
	"prwatch/internal/engine"
	"prwatch/internal/events"
	"prwatch/internal/scm"
	"prwatch/pkg/logging"
)

// State is the lifecycle state of a repository watcher.
type State string

const (
	// StateIdle means the watcher is waiting for its next poll tick.
	StateIdle State = "Idle"

	// StatePolling means the watcher is listing open pull requests.
	StatePolling State = "Polling"

	// StateReconciling means the watcher is refreshing build statuses and
	// computing decisions.
	StateReconciling State = "Reconciling"

	// StateTriggering means the watcher is applying trigger decisions.
	StateTriggering State = "Triggering"

	// StateBackoff means the last pass hit a transient failure and the next
	// pass is delayed.
	StateBackoff State = "Backoff"

	// StateHalted means the watcher hit an authentication or not-found
	// error and stopped. Only a configuration reload resumes it.
	StateHalted State = "Halted"
)

// Notifier pushes a build transition back to the pull request. commit is the
// commit the build ran against, which can trail the pull request's head.
// Implementations must tolerate being called repeatedly for the same
// transition.
type Notifier interface {
	NotifyBuild(ctx context.Context, repo config.RepositoryConfig, pr scm.PullRequest, commit string, result ci.BuildResult) error
}

// Status is a point-in-time snapshot of a watcher, safe to read from any
// goroutine.
type Status struct {
	Repository          string
	State               State
	TrackedPullRequests int
	Backoff             time.Duration
	LastError           string
	LastPass            time.Time
}

// Watcher drives the poll/reconcile/trigger cycle for one repository. All
// state mutation happens on the goroutine calling RunPass; the snapshot
// fields behind mu are the only concurrently accessed data.
type Watcher struct {
	repo     config.RepositoryConfig
	scm      scm.Provider
	ci       ci.Provider
	bus      *events.Bus
	notifier Notifier

	store *engine.Store
	sem   *semaphore.Weighted

	mu       sync.RWMutex
	state    State
	backoff  time.Duration
	lastErr  error
	lastPass time.Time
}

// New creates a watcher for one repository. notifier may be nil when build
// status posting is disabled.
func New(repo config.RepositoryConfig, scmProvider scm.Provider, ciProvider ci.Provider, bus *events.Bus, notifier Notifier) *Watcher {
	concurrency := repo.TriggerConcurrency
	if concurrency <= 0 {
		concurrency = config.DefaultTriggerConcurrency
	}
	if !repo.PostBuildStatus {
		notifier = nil
	}
	return &Watcher{
		repo:     repo,
		scm:      scmProvider,
		ci:       ciProvider,
		bus:      bus,
		notifier: notifier,
		store:    engine.NewStore(),
		sem:      semaphore.NewWeighted(int64(concurrency)),
		state:    StateIdle,
	}
}

// Repository returns the project/repo name the watcher is responsible for.
func (w *Watcher) Repository() string {
	return w.repo.Name()
}

// Config returns the repository configuration the watcher was built from.
func (w *Watcher) Config() config.RepositoryConfig {
	return w.repo
}

// Status returns a snapshot of the watcher.
func (w *Watcher) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := Status{
		Repository:          w.repo.Name(),
		State:               w.state,
		TrackedPullRequests: w.store.Len(),
		Backoff:             w.backoff,
		LastPass:            w.lastPass,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Halted reports whether the watcher stopped on a fatal provider error.
func (w *Watcher) Halted() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state == StateHalted
}

// NextDelay returns how long to wait before the next pass: the current
// backoff if one is active, the configured poll interval otherwise.
func (w *Watcher) NextDelay() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.backoff > 0 {
		return w.backoff
	}
	return w.repo.PollInterval
}

// Resume clears a Halted state after a configuration reload.
func (w *Watcher) Resume() {
	w.mu.Lock()
	if w.state != StateHalted {
		w.mu.Unlock()
		return
	}
	w.state = StateIdle
	w.backoff = 0
	w.lastErr = nil
	w.mu.Unlock()

	logging.Info("Watcher", "Watcher for %s resumed", w.repo.Name())
	w.bus.Publish(events.Event{
		Kind:       events.KindWatcherResumed,
		Repository: w.repo.Name(),
	})
}

// RunPass executes one poll/reconcile/trigger cycle. It returns the error
// that halted the watcher or the first transient failure of the pass; a nil
// return means the pass was fully clean and backoff was reset.
func (w *Watcher) RunPass(ctx context.Context) error {
	if w.Halted() {
		return w.lastError()
	}

	passID := uuid.NewString()
	now := time.Now()
	w.setState(StatePolling)

	prs, err := w.scm.ListOpenPullRequests(ctx, w.repo.Project, w.repo.Repo)
	if err != nil {
		if scm.IsAuth(err) || scm.IsNotFound(err) {
			w.halt(passID, err)
			return err
		}
		logging.Warn("Watcher", "Listing pull requests for %s failed: %v", w.repo.Name(), err)
		w.enterBackoff(err)
		return err
	}

	w.setState(StateReconciling)
	transientErr := w.refreshBuildStatuses(ctx, passID, prs, now)

	decisions := engine.Reconcile(now, prs, w.store.Snapshot(), w.policy())

	w.setState(StateTriggering)
	if err := w.apply(ctx, passID, decisions, now); err != nil && transientErr == nil {
		transientErr = err
	}

	w.finishPass(transientErr, now)
	return transientErr
}

// policy maps the repository configuration onto the engine's policy slice.
func (w *Watcher) policy() engine.Policy {
	return engine.Policy{
		Branches:             w.repo.Branches,
		RebuildOnFailure:     w.repo.RebuildOnFailure,
		MinRetriggerInterval: w.repo.MinRetriggerInterval,
		RetirementPolls:      w.repo.RetirementPolls,
	}
}

// refreshBuildStatuses updates LastBuildStatus for every open pull request
// with an unfinished build, publishing a BuildStatusChanged event per
// transition. The first transient provider error is returned so the pass is
// not counted as clean.
func (w *Watcher) refreshBuildStatuses(ctx context.Context, passID string, prs []scm.PullRequest, now time.Time) error {
	var firstErr error
	for _, pr := range prs {
		state := w.store.Get(pr.ID)
		if state == nil || state.LastTriggeredCommit == "" || state.LastBuildStatus.Finished() {
			continue
		}

		result, err := w.ci.GetLatestBuildStatus(ctx, w.repo.BuildConfigID, state.LastTriggeredCommit)
		if err != nil {
			logging.Warn("Watcher", "Refreshing build status for %s #%d failed: %v", w.repo.Name(), pr.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if result == nil || result.Status == state.LastBuildStatus {
			continue
		}

		state.UpdateBuildStatus(result.Status, result.ID, now)
		logging.Info("Watcher", "Build %s for %s #%d is now %s", result.ID, w.repo.Name(), pr.ID, result.Status)
		w.bus.Publish(events.Event{
			PassID:        passID,
			Kind:          events.KindBuildStatusChanged,
			Repository:    w.repo.Name(),
			PullRequestID: pr.ID,
			Commit:        state.LastTriggeredCommit,
			BuildID:       result.ID,
			Reason:        string(result.Status),
		})
		w.notify(ctx, pr, state.LastTriggeredCommit, *result)
	}
	return firstErr
}

// triggerResult carries one trigger outcome from the fan-out goroutines back
// to the watcher goroutine, which owns all state mutation.
type triggerResult struct {
	pr      scm.PullRequest
	buildID string
	err     error
}

// apply executes a pass's decisions: bounded-concurrency trigger fan-out for
// Trigger decisions, retirement and absence bookkeeping for the rest.
func (w *Watcher) apply(ctx context.Context, passID string, decisions []engine.Decision, now time.Time) error {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []triggerResult
	)

	for _, d := range decisions {
		if d.Action != engine.ActionTrigger {
			continue
		}
		pr := d.PullRequest
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				results = append(results, triggerResult{pr: pr, err: &ci.TransientError{Op: "trigger build", Err: err}})
				mu.Unlock()
				return
			}
			defer w.sem.Release(1)

			buildID, err := w.ci.TriggerBuild(ctx, w.repo.BuildConfigID, pr.SourceBranch, pr.HeadCommit)
			mu.Lock()
			results = append(results, triggerResult{pr: pr, buildID: buildID, err: err})
			mu.Unlock()
		}()
	}
	wg.Wait()

	var firstTransient error
	for _, r := range results {
		firstTransient = w.applyTriggerResult(ctx, passID, r, now, firstTransient)
	}

	for _, d := range decisions {
		switch {
		case d.Action == engine.ActionRetire:
			w.store.Remove(d.PullRequestID)
			logging.Info("Watcher", "Retired %s #%d", w.repo.Name(), d.PullRequestID)
			w.bus.Publish(events.Event{
				PassID:        passID,
				Kind:          events.KindRetired,
				Repository:    w.repo.Name(),
				PullRequestID: d.PullRequestID,
				Reason:        string(d.Reason),
			})
		case d.Reason == engine.ReasonMissingGrace:
			if state := w.store.Get(d.PullRequestID); state != nil {
				state.MissingPolls++
			}
		default:
			// Present pull request: absence streak is over.
			if state := w.store.Get(d.PullRequestID); state != nil {
				state.MissingPolls = 0
			}
		}
	}

	return firstTransient
}

// applyTriggerResult folds one trigger outcome into the state store and the
// event stream.
func (w *Watcher) applyTriggerResult(ctx context.Context, passID string, r triggerResult, now time.Time, firstTransient error) error {
	switch {
	case r.err == nil:
		state := w.store.Ensure(r.pr.ID)
		state.MarkTriggered(r.pr.HeadCommit, r.buildID, now)
		logging.Info("Watcher", "Triggered build %s for %s #%d commit %s", r.buildID, w.repo.Name(), r.pr.ID, r.pr.HeadCommit)
		w.bus.Publish(events.Event{
			PassID:        passID,
			Kind:          events.KindTriggerIssued,
			Repository:    w.repo.Name(),
			PullRequestID: r.pr.ID,
			Commit:        r.pr.HeadCommit,
			BuildID:       r.buildID,
			Reason:        string(engine.ReasonNewCommit),
		})
		w.notify(ctx, r.pr, r.pr.HeadCommit, ci.BuildResult{ID: r.buildID, Status: ci.StatusPending})

	case ci.IsRejected(r.err):
		state := w.store.Ensure(r.pr.ID)
		state.MarkRejected(r.pr.HeadCommit, now)
		logging.Warn("Watcher", "Trigger for %s #%d rejected: %v", w.repo.Name(), r.pr.ID, r.err)
		w.bus.Publish(events.Event{
			PassID:        passID,
			Kind:          events.KindTriggerRejected,
			Repository:    w.repo.Name(),
			PullRequestID: r.pr.ID,
			Commit:        r.pr.HeadCommit,
			Error:         r.err.Error(),
		})

	default:
		// Transient: state untouched, the next pass retries the trigger.
		logging.Warn("Watcher", "Trigger for %s #%d failed: %v", w.repo.Name(), r.pr.ID, r.err)
		w.bus.Publish(events.Event{
			PassID:        passID,
			Kind:          events.KindTriggerFailed,
			Repository:    w.repo.Name(),
			PullRequestID: r.pr.ID,
			Commit:        r.pr.HeadCommit,
			Error:         r.err.Error(),
		})
		if firstTransient == nil {
			firstTransient = r.err
		}
	}
	return firstTransient
}

// notify forwards a build transition to the notifier, if one is configured.
func (w *Watcher) notify(ctx context.Context, pr scm.PullRequest, commit string, result ci.BuildResult) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.NotifyBuild(ctx, w.repo, pr, commit, result); err != nil {
		logging.Warn("Watcher", "Posting build status for %s #%d failed: %v", w.repo.Name(), pr.ID, err)
	}
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Watcher) lastError() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastErr
}

// halt marks the watcher as stopped on a fatal provider error.
func (w *Watcher) halt(passID string, err error) {
	w.mu.Lock()
	w.state = StateHalted
	w.lastErr = err
	w.lastPass = time.Now()
	w.mu.Unlock()

	logging.Error("Watcher", err, "Watcher for %s halted", w.repo.Name())
	w.bus.Publish(events.Event{
		PassID:     passID,
		Kind:       events.KindWatcherHalted,
		Repository: w.repo.Name(),
		Error:      err.Error(),
	})
}

// enterBackoff doubles the backoff delay, starting from the poll interval and
// capped at the configured maximum.
func (w *Watcher) enterBackoff(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.backoff == 0 {
		w.backoff = w.repo.PollInterval
	} else {
		w.backoff *= 2
	}
	if w.repo.MaxBackoff > 0 && w.backoff > w.repo.MaxBackoff {
		w.backoff = w.repo.MaxBackoff
	}
	w.state = StateBackoff
	w.lastErr = err
	w.lastPass = time.Now()
}

// finishPass records the pass outcome: a clean pass resets backoff, a pass
// with a transient failure grows it.
func (w *Watcher) finishPass(transientErr error, now time.Time) {
	if transientErr != nil {
		w.enterBackoff(transientErr)
		return
	}
	w.mu.Lock()
	w.state = StateIdle
	w.backoff = 0
	w.lastErr = nil
	w.lastPass = now
	w.mu.Unlock()
}
