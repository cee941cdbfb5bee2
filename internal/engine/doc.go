// Package engine contains the reconciliation core of prwatch: the pure
// decision function and the per-repository pull request state it consults.
//
// Reconcile takes the open pull requests returned by one poll, the recorded
// PullRequestState map and the repository's policy, and returns an ordered
// list of decisions: trigger a build, do nothing, or retire stale state. It
// performs no I/O and never mutates its inputs, which keeps every decision
// rule directly testable. The RepositoryWatcher executes the decisions and
// writes outcomes back into the Store.
//
// The decision rules:
//
//   - A pull request whose source branch fails the branch filter is ignored.
//   - A head commit different from the last triggered commit gets a build,
//     including the very first sighting. A commit whose trigger was rejected
//     by the build server stays suppressed until the head moves.
//   - An unchanged commit whose last build failed gets a new build under the
//     rebuild-on-failure policy, but only after the minimum re-trigger
//     interval, so a permanently broken commit cannot cause a tight loop.
//   - A pull request absent from the listing is retired only after staying
//     absent for a configurable number of consecutive polls, two by default;
//     a single absence is treated as a listing glitch.
package engine
