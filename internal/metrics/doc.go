// Package metrics exports per-run conversion counters as a Prometheus
// textfile for the node exporter textfile collector.
package metrics
