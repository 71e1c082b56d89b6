// Package sinks implements concrete progress consumers: Prometheus gauges, a
// Postgres-backed run repository, structured logging, a terminal progress bar
// and an in-memory latest-state view for the status API.
package sinks
