// Package server implements serve mode: a background job registry that runs
// the pipeline for submitted recordings, and the HTTP API exposing jobs,
// statistics, redacted configuration and Prometheus metrics.
package server
