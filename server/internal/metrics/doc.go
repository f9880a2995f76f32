// Package metrics keeps fhirlite's operation counters and serves them in the
// Prometheus text exposition format on /metrics.
package metrics
