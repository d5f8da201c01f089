package bootstrap

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dv-converter/internal/config"
	"dv-converter/internal/domain"
	"dv-converter/internal/jobs"
	"dv-converter/internal/transcode"
)

// fakeStore returns deterministic settings for App tests.
type fakeStore struct {
	mu       sync.Mutex
	settings domain.Settings
	saves    int
}

// Load returns preconfigured settings.
func (s *fakeStore) Load() (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

// Save records the settings.
func (s *fakeStore) Save(cfg domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = cfg
	s.saves++
	return nil
}

// fakeStream is a job handle whose events the test feeds.
type fakeStream struct {
	id     string
	events chan transcode.Event
}

func (s *fakeStream) ID() string                     { return s.id }
func (s *fakeStream) Events() <-chan transcode.Event { return s.events }

// fakeConverter records calls and hands out fakeStreams.
type fakeConverter struct {
	mu       sync.Mutex
	requests []domain.JobRequest
	startErr error
	stream   *fakeStream
	snap     domain.JobSnapshot
	cancels  int
	closed   bool
}

func (c *fakeConverter) Start(ctx context.Context, req domain.JobRequest) (jobStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.startErr != nil {
		return nil, c.startErr
	}
	return c.stream, nil
}

func (c *fakeConverter) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels++
}

func (c *fakeConverter) Snapshot() domain.JobSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *fakeConverter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func newTestApp(store *fakeStore, conv *fakeConverter) *App {
	return &App{
		Store:        store,
		Log:          zerolog.Nop(),
		converter:    conv,
		converterCfg: toolConfigOf(config.Normalize(store.settings)),
		events:       jobs.NewEventBus(100),
	}
}

// TestStartConversionForwardsEvents checks request defaults and event flow.
func TestStartConversionForwardsEvents(t *testing.T) {
	settings := config.DefaultSettings()
	settings.OutputDir = "/videos/out"
	store := &fakeStore{settings: settings}
	stream := &fakeStream{id: "job-1", events: make(chan transcode.Event, 8)}
	conv := &fakeConverter{stream: stream, snap: domain.JobSnapshot{ID: "job-1", State: domain.JobStateProbing}}
	app := newTestApp(store, conv)

	snap, err := app.StartConversion(domain.JobRequest{InputPath: " /videos/movie.mkv ", Codec: "h264"})
	if err != nil {
		t.Fatalf("StartConversion() error = %v", err)
	}
	if snap.ID != "job-1" {
		t.Fatalf("snapshot = %+v", snap)
	}

	req := conv.requests[0]
	if req.InputPath != "/videos/movie.mkv" || req.OutputDir != "/videos/out" {
		t.Fatalf("paths = %q, %q", req.InputPath, req.OutputDir)
	}
	if req.ColorMode != domain.ColorModeHDR10 || req.Codec != domain.CodecH264 || req.BitrateKbps != 15000 {
		t.Fatalf("options = %+v", req)
	}
	if store.saves != 1 || store.settings.Codec != domain.CodecH264 {
		t.Fatalf("last used codec not saved: saves=%d settings=%+v", store.saves, store.settings)
	}

	stream.events <- transcode.Event{Type: transcode.EventState, JobID: "job-1", State: domain.JobStateRunning}
	stream.events <- transcode.Event{Type: transcode.EventProgress, JobID: "job-1", State: domain.JobStateRunning,
		Progress: domain.Progress{Percent: 42, ETA: 70 * time.Second}}
	stream.events <- transcode.Event{Type: transcode.EventTerminal, JobID: "job-1", State: domain.JobStateCompleted,
		Progress: domain.Progress{Percent: 100}, OutputPath: "/videos/out/movie_HDR10_libx264_15000k.mkv"}
	close(stream.events)

	events := waitForEvent(t, app, jobs.EventTypeTerminal)
	progress := findEvent(t, events, jobs.EventTypeProgress)
	if progress.Message != "Converting... 42.0%  ETA: 00:01:10" || progress.ETASeconds != 70 {
		t.Fatalf("progress event = %+v", progress)
	}
	terminal := findEvent(t, events, jobs.EventTypeTerminal)
	if terminal.Message != "Done!" || terminal.OutputPath == "" {
		t.Fatalf("terminal event = %+v", terminal)
	}
}

// TestStartConversionPublishesFailureReason checks the error event.
func TestStartConversionPublishesFailureReason(t *testing.T) {
	store := &fakeStore{settings: config.DefaultSettings()}
	stream := &fakeStream{id: "job-2", events: make(chan transcode.Event, 2)}
	app := newTestApp(store, &fakeConverter{stream: stream})

	if _, err := app.StartConversion(domain.JobRequest{InputPath: "/in.mkv"}); err != nil {
		t.Fatalf("StartConversion() error = %v", err)
	}
	stream.events <- transcode.Event{Type: transcode.EventTerminal, JobID: "job-2", State: domain.JobStateFailed,
		Exit: &domain.ExitInfo{ExitCode: 1, StderrTail: []string{"Error reinitializing filters!"}}}
	close(stream.events)

	events := waitForEvent(t, app, jobs.EventTypeError)
	failure := findEvent(t, events, jobs.EventTypeError)
	if !strings.Contains(failure.Message, "Error reinitializing filters!") || !strings.Contains(failure.Message, "code 1") {
		t.Fatalf("error message = %q", failure.Message)
	}
}

// TestStartConversionRejected surfaces submit errors.
func TestStartConversionRejected(t *testing.T) {
	store := &fakeStore{settings: config.DefaultSettings()}
	conv := &fakeConverter{startErr: transcode.ErrJobActive}
	app := newTestApp(store, conv)

	if _, err := app.StartConversion(domain.JobRequest{InputPath: "/in.mkv"}); !errors.Is(err, transcode.ErrJobActive) {
		t.Fatalf("StartConversion() error = %v, want ErrJobActive", err)
	}
	if store.saves != 0 {
		t.Fatal("rejected job must not save options")
	}
	findEvent(t, app.JobEvents(0), jobs.EventTypeError)
}

// TestCancelConversionDelegates checks cancel reaches the converter.
func TestCancelConversionDelegates(t *testing.T) {
	conv := &fakeConverter{}
	app := newTestApp(&fakeStore{settings: config.DefaultSettings()}, conv)

	app.CancelConversion()
	if conv.cancels != 1 {
		t.Fatalf("cancels = %d, want 1", conv.cancels)
	}
	if got := (&App{}).CurrentJob().State; got != domain.JobStateIdle {
		t.Fatalf("state without converter = %s, want idle", got)
	}
}

// TestConverterForRebuildsOnToolChange checks tool path changes apply to the
// next job but never to a busy converter.
func TestConverterForRebuildsOnToolChange(t *testing.T) {
	settings := config.DefaultSettings()
	old := &fakeConverter{snap: domain.JobSnapshot{State: domain.JobStateRunning}}
	app := newTestApp(&fakeStore{settings: settings}, old)
	var built []domain.Settings
	app.newConverter = func(s domain.Settings) converter {
		built = append(built, s)
		return &fakeConverter{}
	}

	if got := app.converterFor(settings); got != converter(old) {
		t.Fatal("unchanged tools must reuse the converter")
	}

	changed := settings
	changed.FFmpegPath = "/opt/ffmpeg"
	if got := app.converterFor(changed); got != converter(old) {
		t.Fatal("busy converter must not be replaced")
	}

	old.snap.State = domain.JobStateCompleted
	if got := app.converterFor(changed); got == converter(old) {
		t.Fatal("expected a new converter")
	}
	if !old.closed || len(built) != 1 || built[0].FFmpegPath != "/opt/ffmpeg" {
		t.Fatalf("closed=%v built=%+v", old.closed, built)
	}
}

func TestFillRequestKeepsExplicitValues(t *testing.T) {
	got := fillRequest(domain.JobRequest{
		InputPath:   "in.ts",
		OutputDir:   "/explicit",
		ColorMode:   "sdr",
		Codec:       "hevc",
		BitrateKbps: 8000,
	}, config.DefaultSettings())

	want := domain.JobRequest{
		InputPath:   "in.ts",
		OutputDir:   "/explicit",
		ColorMode:   domain.ColorModeSDR,
		Codec:       domain.CodecH265,
		BitrateKbps: 8000,
	}
	if got != want {
		t.Fatalf("request = %+v, want %+v", got, want)
	}
}

// waitForEvent polls until an event of the given type is published.
func waitForEvent(t *testing.T, app *App, want jobs.EventType) []jobs.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events := app.JobEvents(0)
		for _, event := range events {
			if event.Type == want {
				return events
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("event type %s not published", want)
	return nil
}

// findEvent returns the first event of the given type.
func findEvent(t *testing.T, events []jobs.Event, want jobs.EventType) jobs.Event {
	t.Helper()
	for _, event := range events {
		if event.Type == want {
			return event
		}
	}
	t.Fatalf("event type %s not found", want)
	return jobs.Event{}
}

// TestStartConversionKeepsEnvOverridesOutOfSettings checks only the last used
// options reach the settings file.
func TestStartConversionKeepsEnvOverridesOutOfSettings(t *testing.T) {
	t.Setenv(config.EnvFFmpeg, "/tmp/env-only-ffmpeg")
	t.Setenv(config.EnvHWDevice, "cuda")

	store := &fakeStore{settings: config.DefaultSettings()}
	stream := &fakeStream{id: "job-env", events: make(chan transcode.Event)}
	conv := &fakeConverter{stream: stream}
	app := newTestApp(store, conv)
	defer close(stream.events)

	if _, err := app.StartConversion(domain.JobRequest{InputPath: "/videos/movie.mkv", ColorMode: domain.ColorModeSDR}); err != nil {
		t.Fatalf("StartConversion() error = %v", err)
	}

	saved, _ := store.Load()
	if store.saves != 1 || saved.ColorMode != domain.ColorModeSDR {
		t.Fatalf("last used options not saved: saves=%d settings=%+v", store.saves, saved)
	}
	def := config.DefaultSettings()
	if saved.FFmpegPath != def.FFmpegPath || saved.HWDevice != def.HWDevice {
		t.Fatalf("env overrides persisted: ffmpeg=%q hw=%q", saved.FFmpegPath, saved.HWDevice)
	}
}
