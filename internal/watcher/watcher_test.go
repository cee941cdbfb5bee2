package watcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prwatch/internal/ci"
	"prwatch/internal/config"
	"prwatch/internal/events"
	"prwatch/internal/scm"
)

type fakeSCM struct {
	mu    sync.Mutex
	prs   []scm.PullRequest
	err   error
	calls int
}

func (f *fakeSCM) ListOpenPullRequests(ctx context.Context, project, repo string) ([]scm.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]scm.PullRequest, len(f.prs))
	copy(out, f.prs)
	return out, nil
}

func (f *fakeSCM) set(prs []scm.PullRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prs = prs
	f.err = nil
}

func (f *fakeSCM) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeCI struct {
	mu          sync.Mutex
	statuses    map[string]*ci.BuildResult
	statusErr   error
	triggerErr  error
	triggered   []string
	nextBuildID int
	inFlight    int
	maxInFlight int
}

func newFakeCI() *fakeCI {
	return &fakeCI{statuses: make(map[string]*ci.BuildResult)}
}

func (f *fakeCI) GetLatestBuildStatus(ctx context.Context, buildConfigID, commit string) (*ci.BuildResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.statuses[commit], nil
}

func (f *fakeCI) TriggerBuild(ctx context.Context, buildConfigID, branch, commit string) (string, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	// Let concurrent triggers overlap so maxInFlight is meaningful.
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if f.triggerErr != nil {
		return "", f.triggerErr
	}
	f.nextBuildID++
	f.triggered = append(f.triggered, commit)
	return fmt.Sprintf("build-%d", f.nextBuildID), nil
}

func (f *fakeCI) triggeredCommits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.triggered))
	copy(out, f.triggered)
	return out
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []ci.BuildResult
}

func (f *fakeNotifier) NotifyBuild(ctx context.Context, repo config.RepositoryConfig, pr scm.PullRequest, commit string, result ci.BuildResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, result)
	return nil
}

func testRepo() config.RepositoryConfig {
	return config.RepositoryConfig{
		Project:            "PLAT",
		Repo:               "billing",
		BuildConfigID:      "Billing_PrCheck",
		PollInterval:       30 * time.Second,
		MaxBackoff:         2 * time.Minute,
		TriggerConcurrency: 2,
	}
}

func drainEvents(sub <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-sub:
			out = append(out, e)
		default:
			return out
		}
	}
}

func eventsOfKind(evs []events.Event, kind events.Kind) []events.Event {
	var out []events.Event
	for _, e := range evs {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func pr(id int, commit, branch string) scm.PullRequest {
	return scm.PullRequest{ID: id, HeadCommit: commit, SourceBranch: branch, TargetBranch: "main"}
}

func TestRunPass_TriggersNewPullRequests(t *testing.T) {
	scmFake := &fakeSCM{}
	ciFake := newFakeCI()
	bus := events.NewBus()
	sub := bus.Subscribe()

	scmFake.set([]scm.PullRequest{
		pr(1, "aaa", "feature/one"),
		pr(2, "bbb", "feature/two"),
	})

	w := New(testRepo(), scmFake, ciFake, bus, nil)
	require.NoError(t, w.RunPass(context.Background()))

	assert.ElementsMatch(t, []string{"aaa", "bbb"}, ciFake.triggeredCommits())
	assert.Equal(t, 2, w.Status().TrackedPullRequests)
	assert.Equal(t, StateIdle, w.Status().State)

	issued := eventsOfKind(drainEvents(sub), events.KindTriggerIssued)
	require.Len(t, issued, 2)
	assert.Equal(t, "PLAT/billing", issued[0].Repository)
	assert.Equal(t, issued[0].PassID, issued[1].PassID)
}

func TestRunPass_IsIdempotent(t *testing.T) {
	scmFake := &fakeSCM{}
	ciFake := newFakeCI()
	bus := events.NewBus()

	scmFake.set([]scm.PullRequest{pr(1, "aaa", "feature/one")})

	w := New(testRepo(), scmFake, ciFake, bus, nil)
	require.NoError(t, w.RunPass(context.Background()))
	require.NoError(t, w.RunPass(context.Background()))
	require.NoError(t, w.RunPass(context.Background()))

	assert.Equal(t, []string{"aaa"}, ciFake.triggeredCommits())
}

func TestRunPass_TriggersOnNewCommit(t *testing.T) {
	scmFake := &fakeSCM{}
	ciFake := newFakeCI()
	bus := events.NewBus()

	scmFake.set([]scm.PullRequest{pr(1, "aaa", "feature/one")})
	w := New(testRepo(), scmFake, ciFake, bus, nil)
	require.NoError(t, w.RunPass(context.Background()))

	scmFake.set([]scm.PullRequest{pr(1, "bbb", "feature/one")})
	require.NoError(t, w.RunPass(context.Background()))

	assert.Equal(t, []string{"aaa", "bbb"}, ciFake.triggeredCommits())
}

func TestRunPass_TransientTriggerRetriedNextPass(t *testing.T) {
	scmFake := &fakeSCM{}
	ciFake := newFakeCI()
	bus := events.NewBus()
	sub := bus.Subscribe()

	scmFake.set([]scm.PullRequest{pr(7, "abc", "feature/x")})
	ciFake.triggerErr = &ci.TransientError{Op: "trigger build", Err: fmt.Errorf("boom")}

	w := New(testRepo(), scmFake, ciFake, bus, nil)
	err := w.RunPass(context.Background())
	require.Error(t, err)
	assert.True(t, ci.IsTransient(err))
	assert.Equal(t, StateBackoff, w.Status().State)
	assert.Empty(t, ciFake.triggeredCommits())
	require.Len(t, eventsOfKind(drainEvents(sub), events.KindTriggerFailed), 1)

	// Next pass retries the same commit and the pass comes out clean.
	ciFake.mu.Lock()
	ciFake.triggerErr = nil
	ciFake.mu.Unlock()
	require.NoError(t, w.RunPass(context.Background()))

	assert.Equal(t, []string{"abc"}, ciFake.triggeredCommits())
	assert.Equal(t, StateIdle, w.Status().State)
	assert.Equal(t, time.Duration(0), w.Status().Backoff)
}

func TestRunPass_RejectionSuppressedUntilNewCommit(t *testing.T) {
	scmFake := &fakeSCM{}
	ciFake := newFakeCI()
	bus := events.NewBus()
	sub := bus.Subscribe()

	scmFake.set([]scm.PullRequest{pr(3, "aaa", "feature/x")})
	ciFake.triggerErr = &ci.RejectedError{Op: "trigger build", Reason: "build configuration disabled"}

	w := New(testRepo(), scmFake, ciFake, bus, nil)
	require.NoError(t, w.RunPass(context.Background()))
	require.Len(t, eventsOfKind(drainEvents(sub), events.KindTriggerRejected), 1)

	// Same commit: no further attempt, even with the server healthy again.
	ciFake.mu.Lock()
	ciFake.triggerErr = nil
	ciFake.mu.Unlock()
	require.NoError(t, w.RunPass(context.Background()))
	assert.Empty(t, ciFake.triggeredCommits())

	// New commit lifts the suppression.
	scmFake.set([]scm.PullRequest{pr(3, "bbb", "feature/x")})
	require.NoError(t, w.RunPass(context.Background()))
	assert.Equal(t, []string{"bbb"}, ciFake.triggeredCommits())
}

func TestRunPass_HaltsOnAuthError(t *testing.T) {
	scmFake := &fakeSCM{}
	ciFake := newFakeCI()
	bus := events.NewBus()
	sub := bus.Subscribe()

	scmFake.fail(&scm.AuthError{Op: "list pull requests", StatusCode: 401})

	w := New(testRepo(), scmFake, ciFake, bus, nil)
	err := w.RunPass(context.Background())
	require.Error(t, err)
	assert.True(t, w.Halted())
	require.Len(t, eventsOfKind(drainEvents(sub), events.KindWatcherHalted), 1)

	// A halted watcher does not poll again.
	calls := scmFake.calls
	require.Error(t, w.RunPass(context.Background()))
	assert.Equal(t, calls, scmFake.calls)
}

func TestRunPass_HaltsOnNotFound(t *testing.T) {
	scmFake := &fakeSCM{}
	scmFake.fail(&scm.NotFoundError{Repository: "PLAT/billing"})

	w := New(testRepo(), scmFake, newFakeCI(), events.NewBus(), nil)
	require.Error(t, w.RunPass(context.Background()))
	assert.True(t, w.Halted())
}

func TestResume_ClearsHaltedState(t *testing.T) {
	scmFake := &fakeSCM{}
	ciFake := newFakeCI()
	bus := events.NewBus()
	sub := bus.Subscribe()

	scmFake.fail(&scm.AuthError{Op: "list pull requests", StatusCode: 403})
	w := New(testRepo(), scmFake, ciFake, bus, nil)
	require.Error(t, w.RunPass(context.Background()))
	require.True(t, w.Halted())

	w.Resume()
	assert.False(t, w.Halted())
	require.Len(t, eventsOfKind(drainEvents(sub), events.KindWatcherResumed), 1)

	scmFake.set([]scm.PullRequest{pr(1, "aaa", "feature/x")})
	require.NoError(t, w.RunPass(context.Background()))
	assert.Equal(t, []string{"aaa"}, ciFake.triggeredCommits())
}

func TestRunPass_RetirementDebounce(t *testing.T) {
	scmFake := &fakeSCM{}
	ciFake := newFakeCI()
	bus := events.NewBus()
	sub := bus.Subscribe()

	scmFake.set([]scm.PullRequest{pr(5, "aaa", "feature/x")})
	w := New(testRepo(), scmFake, ciFake, bus, nil)
	require.NoError(t, w.RunPass(context.Background()))
	require.Equal(t, 1, w.Status().TrackedPullRequests)

	// First absent poll: grace, state kept.
	scmFake.set(nil)
	require.NoError(t, w.RunPass(context.Background()))
	assert.Equal(t, 1, w.Status().TrackedPullRequests)
	assert.Empty(t, eventsOfKind(drainEvents(sub), events.KindRetired))

	// Second absent poll: retired.
	require.NoError(t, w.RunPass(context.Background()))
	assert.Equal(t, 0, w.Status().TrackedPullRequests)
	retired := eventsOfKind(drainEvents(sub), events.KindRetired)
	require.Len(t, retired, 1)
	assert.Equal(t, 5, retired[0].PullRequestID)
}

func TestRunPass_ReappearanceResetsAbsenceStreak(t *testing.T) {
	scmFake := &fakeSCM{}
	ciFake := newFakeCI()
	w := New(testRepo(), scmFake, ciFake, events.NewBus(), nil)

	scmFake.set([]scm.PullRequest{pr(5, "aaa", "feature/x")})
	require.NoError(t, w.RunPass(context.Background()))

	scmFake.set(nil)
	require.NoError(t, w.RunPass(context.Background()))

	// Reappears, then goes absent again: the streak starts over.
	scmFake.set([]scm.PullRequest{pr(5, "aaa", "feature/x")})
	require.NoError(t, w.RunPass(context.Background()))
	scmFake.set(nil)
	require.NoError(t, w.RunPass(context.Background()))

	assert.Equal(t, 1, w.Status().TrackedPullRequests)
}

func TestRunPass_BackoffGrowsAndCaps(t *testing.T) {
	scmFake := &fakeSCM{}
	repo := testRepo()
	w := New(repo, scmFake, newFakeCI(), events.NewBus(), nil)

	scmFake.fail(&scm.TransientError{Op: "list pull requests", Err: fmt.Errorf("timeout")})

	expected := []time.Duration{
		30 * time.Second,
		time.Minute,
		2 * time.Minute,
		2 * time.Minute, // capped at MaxBackoff
	}
	for _, want := range expected {
		require.Error(t, w.RunPass(context.Background()))
		assert.Equal(t, want, w.NextDelay())
		assert.Equal(t, StateBackoff, w.Status().State)
	}

	// A clean pass resets the delay to the poll interval.
	scmFake.set(nil)
	require.NoError(t, w.RunPass(context.Background()))
	assert.Equal(t, repo.PollInterval, w.NextDelay())
}

func TestRunPass_RefreshesBuildStatusAndNotifies(t *testing.T) {
	scmFake := &fakeSCM{}
	ciFake := newFakeCI()
	bus := events.NewBus()
	sub := bus.Subscribe()
	notifier := &fakeNotifier{}

	repo := testRepo()
	repo.PostBuildStatus = true

	scmFake.set([]scm.PullRequest{pr(1, "aaa", "feature/x")})
	w := New(repo, scmFake, ciFake, bus, notifier)
	require.NoError(t, w.RunPass(context.Background()))

	// Queued notification from the trigger itself.
	notifier.mu.Lock()
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, ci.StatusPending, notifier.calls[0].Status)
	notifier.mu.Unlock()
	drainEvents(sub)

	ciFake.mu.Lock()
	ciFake.statuses["aaa"] = &ci.BuildResult{ID: "build-1", Status: ci.StatusSuccess, WebURL: "https://tc/build/1"}
	ciFake.mu.Unlock()

	require.NoError(t, w.RunPass(context.Background()))

	changed := eventsOfKind(drainEvents(sub), events.KindBuildStatusChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, string(ci.StatusSuccess), changed[0].Reason)
	assert.Equal(t, "build-1", changed[0].BuildID)

	notifier.mu.Lock()
	require.Len(t, notifier.calls, 2)
	assert.Equal(t, ci.StatusSuccess, notifier.calls[1].Status)
	notifier.mu.Unlock()

	// Finished builds are not refreshed again.
	require.NoError(t, w.RunPass(context.Background()))
	assert.Empty(t, eventsOfKind(drainEvents(sub), events.KindBuildStatusChanged))
}

func TestRunPass_RebuildOnFailure(t *testing.T) {
	scmFake := &fakeSCM{}
	ciFake := newFakeCI()

	repo := testRepo()
	repo.RebuildOnFailure = true
	repo.MinRetriggerInterval = 0

	scmFake.set([]scm.PullRequest{pr(1, "aaa", "feature/x")})
	w := New(repo, scmFake, ciFake, events.NewBus(), nil)
	require.NoError(t, w.RunPass(context.Background()))
	require.Equal(t, []string{"aaa"}, ciFake.triggeredCommits())

	ciFake.mu.Lock()
	ciFake.statuses["aaa"] = &ci.BuildResult{ID: "build-1", Status: ci.StatusFailed}
	ciFake.mu.Unlock()

	// The failure is observed and the unchanged commit re-triggered.
	require.NoError(t, w.RunPass(context.Background()))
	assert.Equal(t, []string{"aaa", "aaa"}, ciFake.triggeredCommits())
}

func TestRunPass_BranchFilter(t *testing.T) {
	scmFake := &fakeSCM{}
	ciFake := newFakeCI()

	repo := testRepo()
	repo.Branches = []string{"feature/*"}

	scmFake.set([]scm.PullRequest{
		pr(1, "aaa", "feature/ok"),
		pr(2, "bbb", "hotfix/nope"),
	})

	w := New(repo, scmFake, ciFake, events.NewBus(), nil)
	require.NoError(t, w.RunPass(context.Background()))

	assert.Equal(t, []string{"aaa"}, ciFake.triggeredCommits())
}

func TestRunPass_BoundsTriggerConcurrency(t *testing.T) {
	scmFake := &fakeSCM{}
	ciFake := newFakeCI()

	repo := testRepo()
	repo.TriggerConcurrency = 1

	prs := make([]scm.PullRequest, 0, 6)
	for i := 1; i <= 6; i++ {
		prs = append(prs, pr(i, fmt.Sprintf("commit-%d", i), "feature/x"))
	}
	scmFake.set(prs)

	w := New(repo, scmFake, ciFake, events.NewBus(), nil)
	require.NoError(t, w.RunPass(context.Background()))

	assert.Len(t, ciFake.triggeredCommits(), 6)
	assert.Equal(t, 1, ciFake.maxInFlight)
}

func TestRunPass_PullRequest42Scenario(t *testing.T) {
	scmFake := &fakeSCM{}
	ciFake := newFakeCI()
	bus := events.NewBus()
	w := New(testRepo(), scmFake, ciFake, bus, nil)
	ctx := context.Background()

	// Opens with commit A: triggered.
	scmFake.set([]scm.PullRequest{pr(42, "A", "feature/x")})
	require.NoError(t, w.RunPass(ctx))
	assert.Equal(t, []string{"A"}, ciFake.triggeredCommits())

	// Unchanged: no-op.
	require.NoError(t, w.RunPass(ctx))
	assert.Equal(t, []string{"A"}, ciFake.triggeredCommits())

	// Push to B: triggered.
	scmFake.set([]scm.PullRequest{pr(42, "B", "feature/x")})
	require.NoError(t, w.RunPass(ctx))
	assert.Equal(t, []string{"A", "B"}, ciFake.triggeredCommits())

	// Merged: absent twice, then gone.
	scmFake.set(nil)
	require.NoError(t, w.RunPass(ctx))
	require.NoError(t, w.RunPass(ctx))
	assert.Equal(t, 0, w.Status().TrackedPullRequests)

	// Reopened with commit B: triggered again from a clean slate.
	scmFake.set([]scm.PullRequest{pr(42, "B", "feature/x")})
	require.NoError(t, w.RunPass(ctx))
	assert.Equal(t, []string{"A", "B", "B"}, ciFake.triggeredCommits())
}

func TestNew_DisablesNotifierWithoutPostBuildStatus(t *testing.T) {
	notifier := &fakeNotifier{}
	scmFake := &fakeSCM{}
	scmFake.set([]scm.PullRequest{pr(1, "aaa", "feature/x")})

	w := New(testRepo(), scmFake, newFakeCI(), events.NewBus(), notifier)
	require.NoError(t, w.RunPass(context.Background()))

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Empty(t, notifier.calls)
}
