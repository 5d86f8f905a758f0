// Package metrics defines the Prometheus metrics exported by the pipeline and
// the serve mode HTTP API.
package metrics
