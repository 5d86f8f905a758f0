package diarize

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// CommandModel runs an external diarization program. The program receives
// the waveform path as its last argument and prints one JSON turn per line:
//
//	{"start": 0.52, "end": 3.1, "speaker": "SPEAKER_00"}
type CommandModel struct {
	path   string
	args   []string
	env    []string
	logger *slog.Logger
}

// NewCommandModel creates a model backed by the program at path
func NewCommandModel(path string, args []string, logger *slog.Logger) (*CommandModel, error) {
	if path == "" {
		return nil, fmt.Errorf("diarization command is required")
	}

	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("diarization command %q not found: %w", path, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &CommandModel{path: resolved, args: args, logger: logger}, nil
}

// WithEnv sets extra environment variables (KEY=value) for the program
func (m *CommandModel) WithEnv(env ...string) *CommandModel {
	m.env = append(m.env, env...)
	return m
}

// Diarize runs the program and parses its output
func (m *CommandModel) Diarize(ctx context.Context, wavPath string) ([]Turn, error) {
	args := append(append([]string{}, m.args...), wavPath)
	cmd := exec.CommandContext(ctx, m.path, args...)
	if len(m.env) > 0 {
		cmd.Env = append(cmd.Environ(), m.env...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: command: %w: %s", ErrModel, err, strings.TrimSpace(stderr.String()))
	}

	turns, err := ParseTurns(bytes.NewReader(out))
	if err != nil {
		return nil, err
	}

	m.logger.Info("Diarization command completed",
		slog.String("command", m.path),
		slog.String("path", wavPath),
		slog.Int("turns", len(turns)))

	return turns, nil
}

// ParseTurns reads newline-delimited JSON turns. Blank lines are ignored.
func ParseTurns(r io.Reader) ([]Turn, error) {
	turns := make([]Turn, 0)
	scanner := bufio.NewScanner(r)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var turn Turn
		if err := json.Unmarshal([]byte(text), &turn); err != nil {
			return nil, fmt.Errorf("invalid turn on line %d: %w", line, err)
		}
		turns = append(turns, turn)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}

	return turns, nil
}
