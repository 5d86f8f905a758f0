// Package config loads the YAML configuration of the transcription pipeline,
// applies environment overrides for secrets and tool locations and validates
// every section.
package config
