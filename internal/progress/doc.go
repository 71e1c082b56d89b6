// Package progress carries run progress from the orchestrator's monitor to
// pluggable sinks. Events are batched on a background goroutine so the
// polling loop never blocks on a slow sink such as Postgres.
package progress
