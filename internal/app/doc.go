// Package app bootstraps the daemon: logging, configuration, provider
// clients, the event bus and the scheduler, plus the configuration reload
// loop that keeps the running watcher set in sync with the file.
package app
