// Package observe wires OpenTelemetry tracing and trace-correlated logging.
package observe
