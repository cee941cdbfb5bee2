// Package notifier reports build progress back to the pull request: a commit
// build status visible in the Bitbucket UI, and a single status comment per
// commit that is edited in place as the build moves from queued to finished.
package notifier
