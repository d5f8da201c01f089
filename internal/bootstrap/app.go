package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"dv-converter/internal/config"
	"dv-converter/internal/diagnostics"
	"dv-converter/internal/domain"
	"dv-converter/internal/jobs"
	"dv-converter/internal/logging"
	"dv-converter/internal/metrics"
	"dv-converter/internal/progress"
	"dv-converter/internal/transcode"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var videoDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Video files",
		Pattern:     "*.mp4;*.mkv;*.ts",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// App wires configuration, the converter, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Diagnostics domain.DiagnosticReport
	Log         zerolog.Logger
	assets      fs.FS
	checker     *diagnostics.Checker
	installer   *installer

	mu           sync.Mutex
	converter    converter
	converterCfg toolConfig
	newConverter func(domain.Settings) converter
	events       *jobs.EventBus
	runtimeCtx   context.Context
	stopMetrics  context.CancelFunc
}

// converter isolates the transcode orchestrator behind an interface.
type converter interface {
	Start(ctx context.Context, req domain.JobRequest) (jobStream, error)
	Cancel()
	Snapshot() domain.JobSnapshot
	Close()
}

// jobStream is the part of a job handle the app consumes.
type jobStream interface {
	ID() string
	Events() <-chan transcode.Event
}

// toolConfig is the subset of settings baked into a converter instance.
type toolConfig struct {
	ffmpeg   string
	ffprobe  string
	hwDevice string
}

func toolConfigOf(s domain.Settings) toolConfig {
	return toolConfig{ffmpeg: s.FFmpegPath, ffprobe: s.FFprobePath, hwDevice: s.HWDevice}
}

// orchestratorConverter adapts *transcode.Orchestrator to converter.
type orchestratorConverter struct {
	*transcode.Orchestrator
}

// Start submits req and returns its handle.
func (c orchestratorConverter) Start(ctx context.Context, req domain.JobRequest) (jobStream, error) {
	h, err := c.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	store := config.NewJSONStore(config.SettingsPath())
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = config.ApplyEnv(settings)

	log := logging.New(os.Stderr, settings.LogLevel, true)
	checker := diagnostics.NewChecker()
	report := checker.Run(settings)
	for _, item := range report.Failed() {
		log.Warn().Str("check", item.ID).Msg(item.Message)
	}

	newConverter := func(s domain.Settings) converter {
		return orchestratorConverter{transcode.New(transcode.Config{
			FFmpegPath: s.FFmpegPath,
			HWDevice:   s.HWDevice,
		}, s.FFprobePath, log)}
	}

	return &App{
		Settings:     settings,
		Store:        store,
		Diagnostics:  report,
		Log:          log,
		assets:       assets,
		checker:      checker,
		installer:    newInstaller(),
		converter:    newConverter(settings),
		converterCfg: toolConfigOf(settings),
		newConverter: newConverter,
		events:       jobs.NewEventBus(1000),
	}, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "DV Converter",
		Width:       960,
		Height:      640,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events and starts the
// metrics endpoint when one is configured.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx

	if addr := a.Settings.MetricsAddr; addr != "" && a.stopMetrics == nil {
		mctx, cancel := context.WithCancel(context.Background())
		a.stopMetrics = cancel
		go func() {
			if err := metrics.Serve(mctx, addr, a.Log); err != nil {
				a.Log.Error().Err(err).Str("addr", addr).Msg("metrics endpoint stopped")
			}
		}()
	}
}

// Shutdown kills any running conversion and stops background services.
func (a *App) Shutdown(context.Context) {
	a.mu.Lock()
	conv := a.converter
	stop := a.stopMetrics
	a.runtimeCtx = nil
	a.stopMetrics = nil
	a.mu.Unlock()

	if conv != nil {
		conv.Close()
	}
	if stop != nil {
		stop()
	}
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	return normalized, nil
}

// PickInputFile opens a native file dialog for video selection.
func (a *App) PickInputFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select Dolby Vision video",
		Filters: videoDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickOutputDirectory opens a native directory picker. defaultDir is usually
// the folder of the selected input.
func (a *App) PickOutputDirectory(defaultDir string) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:            "Select output directory",
		DefaultDirectory: strings.TrimSpace(defaultDir),
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenOutputFolder opens the given path, or the last job's output, in the
// file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		target = a.CurrentJob().OutputPath
	}
	if target == "" {
		a.mu.Lock()
		target = a.Settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	openPath := target
	info, err := os.Stat(target)
	switch {
	case err == nil && !info.IsDir():
		openPath = filepath.Dir(target)
	case errors.Is(err, os.ErrNotExist):
		// A cancelled or failed job may not have produced the file.
		openPath = filepath.Dir(target)
		if _, err := os.Stat(openPath); err != nil {
			return fmt.Errorf("resolve output path: %w", err)
		}
	case err != nil:
		return fmt.Errorf("resolve output path: %w", err)
	}

	return openInFileManager(openPath)
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	return a.refreshDiagnosticsFromSettings(settings), nil
}

// StartConversion submits one conversion. Empty options fall back to the
// saved settings; an empty output directory means the input's folder.
func (a *App) StartConversion(req domain.JobRequest) (domain.JobSnapshot, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.JobSnapshot{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.ApplyEnv(settings)
	req = fillRequest(req, settings)

	conv := a.converterFor(settings)
	stream, err := conv.Start(context.Background(), req)
	if err != nil {
		a.publishEvent(jobs.Event{Type: jobs.EventTypeError, Message: err.Error()})
		return domain.JobSnapshot{}, err
	}

	a.rememberOptions(req)
	go a.pump(stream)
	return conv.Snapshot(), nil
}

// CancelConversion kills the running conversion. It does nothing when no job
// is running.
func (a *App) CancelConversion() {
	a.mu.Lock()
	conv := a.converter
	a.mu.Unlock()
	if conv != nil {
		conv.Cancel()
	}
}

// CurrentJob returns the current job, or an idle snapshot.
func (a *App) CurrentJob() domain.JobSnapshot {
	a.mu.Lock()
	conv := a.converter
	a.mu.Unlock()
	if conv == nil {
		return domain.JobSnapshot{State: domain.JobStateIdle}
	}
	return conv.Snapshot()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// converterFor returns a converter matching the tool settings, replacing the
// current one when the tools changed and it is not busy.
func (a *App) converterFor(settings domain.Settings) converter {
	a.mu.Lock()
	defer a.mu.Unlock()

	want := toolConfigOf(settings)
	if a.converter != nil && (a.converterCfg == want || a.newConverter == nil) {
		return a.converter
	}
	if a.converter != nil {
		if a.converter.Snapshot().State.Active() {
			return a.converter
		}
		a.converter.Close()
	}
	a.converter = a.newConverter(settings)
	a.converterCfg = want
	return a.converter
}

// rememberOptions persists the last used conversion options. It starts from
// the stored settings so environment overrides are never written back.
func (a *App) rememberOptions(req domain.JobRequest) {
	stored, err := a.Store.Load()
	if err != nil {
		a.Log.Warn().Err(err).Msg("load settings for last used options")
		return
	}
	if stored.ColorMode == req.ColorMode && stored.Codec == req.Codec && stored.BitrateKbps == req.BitrateKbps {
		return
	}
	stored.ColorMode = req.ColorMode
	stored.Codec = req.Codec
	stored.BitrateKbps = req.BitrateKbps
	if err := a.Store.Save(stored); err != nil {
		a.Log.Warn().Err(err).Msg("save last used options")
		return
	}
	a.mu.Lock()
	a.Settings = stored
	a.mu.Unlock()
}

// pump forwards one job's events to the history buffer and the UI.
func (a *App) pump(stream jobStream) {
	for ev := range stream.Events() {
		for _, out := range toBusEvents(ev) {
			a.publishEvent(out)
		}
	}
}

// toBusEvents maps a handle event to UI events. A failed job also yields an
// error event carrying the reason.
func toBusEvents(ev transcode.Event) []jobs.Event {
	out := jobs.Event{
		JobID:      ev.JobID,
		State:      ev.State,
		Percent:    ev.Progress.Percent,
		ETASeconds: ev.Progress.ETA.Seconds(),
		OutputPath: ev.OutputPath,
		Exit:       ev.Exit,
	}

	switch ev.Type {
	case transcode.EventProgress:
		out.Type = jobs.EventTypeProgress
		out.Message = progress.StatusLine(ev.Progress)
		return []jobs.Event{out}
	case transcode.EventTerminal:
		out.Type = jobs.EventTypeTerminal
		out.Message = terminalMessage(ev.State)
	default:
		out.Type = jobs.EventTypeState
		out.Message = stateMessage(ev.State)
		return []jobs.Event{out}
	}

	if ev.State != domain.JobStateFailed {
		return []jobs.Event{out}
	}
	return []jobs.Event{out, {
		JobID:   ev.JobID,
		Type:    jobs.EventTypeError,
		State:   ev.State,
		Message: failureReason(ev.Exit),
		Exit:    ev.Exit,
	}}
}

func stateMessage(state domain.JobState) string {
	switch state {
	case domain.JobStateProbing:
		return "Conversion started.. Please wait"
	case domain.JobStateRunning:
		return "Converting..."
	case domain.JobStateCancelling:
		return "Cancelling..."
	default:
		return string(state)
	}
}

func terminalMessage(state domain.JobState) string {
	switch state {
	case domain.JobStateCompleted:
		return "Done!"
	case domain.JobStateCancelled:
		return "Conversion cancelled"
	default:
		return "Conversion failed"
	}
}

// failureReason picks the most useful line for a failed job.
func failureReason(exit *domain.ExitInfo) string {
	if exit == nil {
		return "conversion failed"
	}
	if exit.Error != "" {
		return exit.Error
	}
	if n := len(exit.StderrTail); n > 0 {
		return fmt.Sprintf("ffmpeg exited with code %d: %s", exit.ExitCode, exit.StderrTail[n-1])
	}
	return fmt.Sprintf("ffmpeg exited with code %d", exit.ExitCode)
}

// fillRequest applies saved defaults to options the caller left empty.
func fillRequest(req domain.JobRequest, settings domain.Settings) domain.JobRequest {
	req.InputPath = strings.TrimSpace(req.InputPath)
	req.OutputDir = strings.TrimSpace(req.OutputDir)
	if req.OutputDir == "" {
		req.OutputDir = settings.OutputDir
	}
	if req.ColorMode == "" {
		req.ColorMode = settings.ColorMode
	} else if mode, err := domain.ParseColorMode(string(req.ColorMode)); err == nil {
		req.ColorMode = mode
	}
	if req.Codec == "" {
		req.Codec = settings.Codec
	} else if codec, err := domain.ParseCodec(string(req.Codec)); err == nil {
		req.Codec = codec
	}
	if req.BitrateKbps == 0 {
		req.BitrateKbps = settings.BitrateKbps
	}
	return req
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "job:event", published)
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
