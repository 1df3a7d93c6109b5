// Package sinks holds the progress consumers: structured logs, Prometheus
// collectors, the run history repository and Pub/Sub completion notices.
package sinks
