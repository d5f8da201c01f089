// Package probe asks ffprobe for the container-level duration of a file.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dv-converter/internal/domain"
	"dv-converter/internal/metrics"
)

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Prober runs ffprobe as a blocking one-shot subprocess.
type Prober struct {
	ffprobePath string
	runner      commandRunner
	log         zerolog.Logger
}

// NewProber builds a prober that invokes the given ffprobe binary.
func NewProber(ffprobePath string, log zerolog.Logger) *Prober {
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{
		ffprobePath: ffprobePath,
		runner:      &execRunner{},
		log:         log.With().Str("component", "probe").Logger(),
	}
}

// Probe returns the total duration of inputPath, or domain.UnknownDuration when
// ffprobe cannot start, exits non-zero, or prints something that is not a
// non-negative number.
func (p *Prober) Probe(ctx context.Context, inputPath string) time.Duration {
	args := buildArgs(inputPath)
	result, err := p.runner.Run(ctx, p.ffprobePath, args...)
	if err != nil {
		p.fail(inputPath, fmt.Errorf("run %s (exit=%d): %w", p.ffprobePath, result.ExitCode, err))
		return domain.UnknownDuration
	}

	d, err := ParseSeconds(result.Stdout)
	if err != nil {
		p.fail(inputPath, err)
		return domain.UnknownDuration
	}

	p.log.Debug().Str("input", inputPath).Dur("duration", d).Msg("probed duration")
	return d
}

func (p *Prober) fail(inputPath string, err error) {
	metrics.ProbeFailuresTotal.Inc()
	p.log.Warn().Err(err).Str("input", inputPath).Msg("duration probe failed; progress percentage unavailable")
}

// ParseSeconds parses ffprobe's bare seconds output, e.g. "5400.042000".
// Parsing is locale independent.
func ParseSeconds(raw string) (time.Duration, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return 0, errors.New("empty ffprobe output")
	}
	// Only the first line carries the value.
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}

	seconds, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", text, err)
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return 0, fmt.Errorf("invalid duration %q", text)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// buildArgs requests container duration in seconds with no header or key.
func buildArgs(inputPath string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	}
}

// NewProberForTests constructs a prober with an injectable runner.
func NewProberForTests(ffprobePath string, runner commandRunner) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		runner:      runner,
		log:         zerolog.Nop(),
	}
}
