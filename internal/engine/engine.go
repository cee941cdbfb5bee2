package engine

import (
	"path"
	"sort"
	"time"

	"prwatch/internal/ci"
	"prwatch/internal/scm"
)

// Action is what a reconciliation decision asks the watcher to do.
type Action string

const (
	// ActionTrigger asks for a new build of the pull request's head commit.
	ActionTrigger Action = "Trigger"

	// ActionNoOp leaves the pull request alone this pass.
	ActionNoOp Action = "NoOp"

	// ActionRetire removes the pull request's state: it has been closed or
	// merged and stayed absent past the debounce window.
	ActionRetire Action = "Retire"
)

// Reason explains a decision. Reasons are stable strings carried into the
// observability events.
type Reason string

const (
	// ReasonNewCommit covers both the very first sighting of a pull
	// request and a head commit that moved since the last trigger.
	ReasonNewCommit Reason = "new-commit"

	// ReasonRebuildFailed re-triggers a failed build of an unchanged
	// commit under the rebuild-on-failure policy.
	ReasonRebuildFailed Reason = "rebuild-on-failure"

	// ReasonUpToDate means the head commit was already triggered.
	ReasonUpToDate Reason = "up-to-date"

	// ReasonBranchFiltered means the source branch fails the branch filter.
	ReasonBranchFiltered Reason = "branch-filtered"

	// ReasonRejected suppresses a commit whose trigger the build server
	// rejected; it stays suppressed until the head commit changes.
	ReasonRejected Reason = "trigger-rejected"

	// ReasonRetriggerInterval means a failed build is eligible for rebuild
	// but the minimum re-trigger interval has not elapsed yet.
	ReasonRetriggerInterval Reason = "retrigger-interval"

	// ReasonMissingGrace means the pull request was absent from this poll
	// but is kept for one more poll to tolerate a flaky listing.
	ReasonMissingGrace Reason = "missing-grace"

	// ReasonMissing means the pull request stayed absent past the debounce
	// window and is retired.
	ReasonMissing Reason = "missing"
)

// Decision is one (pull request, action) pair produced by a reconciliation
// pass.
type Decision struct {
	Action Action
	Reason Reason

	// PullRequest is set for decisions about a currently open pull
	// request (Trigger and present-PR NoOps).
	PullRequest scm.PullRequest

	// PullRequestID is always set; for absent pull requests it is the only
	// identity available.
	PullRequestID int
}

// Policy is the per-repository slice of configuration the engine consults.
type Policy struct {
	// Branches holds glob patterns matched against the source branch.
	// Empty means all branches pass.
	Branches []string

	RebuildOnFailure     bool
	MinRetriggerInterval time.Duration

	// RetirementPolls is how many consecutive absent polls retire a pull
	// request. Zero means the default of two (one grace poll).
	RetirementPolls int
}

// DefaultRetirementPolls is the absence debounce: absent once is tolerated,
// absent twice in a row retires the state.
const DefaultRetirementPolls = 2

// Reconcile is the core decision function. It compares the currently open
// pull requests against the recorded states and returns what to do, in
// input order, followed by decisions for absent pull requests in ascending
// id order.
//
// Reconcile performs no I/O and never mutates its inputs; the watcher applies
// the decisions and updates state based on the actual trigger outcomes.
func Reconcile(now time.Time, prs []scm.PullRequest, states map[int]*PullRequestState, policy Policy) []Decision {
	retirementPolls := policy.RetirementPolls
	if retirementPolls <= 0 {
		retirementPolls = DefaultRetirementPolls
	}

	decisions := make([]Decision, 0, len(prs))
	open := make(map[int]bool, len(prs))

	for _, pr := range prs {
		open[pr.ID] = true
		decisions = append(decisions, decideForOpen(now, pr, states[pr.ID], policy))
	}

	// Absent pull requests, in deterministic order.
	absent := make([]int, 0)
	for id := range states {
		if !open[id] {
			absent = append(absent, id)
		}
	}
	sort.Ints(absent)

	for _, id := range absent {
		if states[id].MissingPolls+1 >= retirementPolls {
			decisions = append(decisions, Decision{
				Action:        ActionRetire,
				Reason:        ReasonMissing,
				PullRequestID: id,
			})
		} else {
			decisions = append(decisions, Decision{
				Action:        ActionNoOp,
				Reason:        ReasonMissingGrace,
				PullRequestID: id,
			})
		}
	}

	return decisions
}

// decideForOpen produces the decision for one currently open pull request.
func decideForOpen(now time.Time, pr scm.PullRequest, state *PullRequestState, policy Policy) Decision {
	d := Decision{
		Action:        ActionNoOp,
		PullRequest:   pr,
		PullRequestID: pr.ID,
	}

	if !branchMatches(policy.Branches, pr.SourceBranch) {
		d.Reason = ReasonBranchFiltered
		return d
	}

	// First sighting: no state yet, treat as empty.
	var empty PullRequestState
	if state == nil {
		state = &empty
	}

	if state.LastTriggeredCommit != pr.HeadCommit {
		if state.RejectedCommit == pr.HeadCommit {
			d.Reason = ReasonRejected
			return d
		}
		d.Action = ActionTrigger
		d.Reason = ReasonNewCommit
		return d
	}

	if policy.RebuildOnFailure && state.LastBuildStatus == ci.StatusFailed {
		if now.Sub(state.LastUpdated) >= policy.MinRetriggerInterval {
			d.Action = ActionTrigger
			d.Reason = ReasonRebuildFailed
			return d
		}
		d.Reason = ReasonRetriggerInterval
		return d
	}

	d.Reason = ReasonUpToDate
	return d
}

// branchMatches checks a source branch against the configured glob patterns.
func branchMatches(patterns []string, branch string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, branch); err == nil && ok {
			return true
		}
	}
	return false
}
