package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"dv-converter/internal/config"
	"dv-converter/internal/domain"
)

const installCommandTimeout = 45 * time.Minute

// installOption is one package manager and the commands that install ffmpeg
// with it.
type installOption struct {
	manager  string
	commands [][]string
}

// installer runs package manager commands. Fields are swappable in tests.
type installer struct {
	goos     string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
	timeout  time.Duration
}

func newInstaller() *installer {
	return &installer{
		goos:     goruntime.GOOS,
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
		timeout: installCommandTimeout,
	}
}

// InstallOrFixDiagnostic applies an OS-specific remediation for one failed diagnostic item.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	settingsChanged := false
	var fixErr error

	switch id {
	case domain.DiagnosticFFmpeg, domain.DiagnosticFFprobe:
		a.Log.Info().Str("check", id).Msg("installing ffmpeg")
		inst := a.installer
		if inst == nil {
			inst = newInstaller()
		}
		fixErr = inst.installFFmpeg()
		if fixErr == nil {
			settings, settingsChanged = resetToolPaths(settings)
		}
	case domain.DiagnosticOutputDir:
		fixErr = createOutputDir(settings.OutputDir)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	if settingsChanged {
		if saveErr := a.Store.Save(settings); saveErr != nil {
			report := a.refreshDiagnosticsFromSettings(settings)
			return report, fmt.Errorf("save settings after fix: %w", saveErr)
		}
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	if fixErr != nil {
		a.Log.Warn().Err(fixErr).Str("check", id).Msg("diagnostic fix failed")
		return report, fixErr
	}
	return report, nil
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings)
	}
	return a.Diagnostics
}

// ensureLocalBinOnPATH prepends ~/.dv-converter/bin so user-dropped ffmpeg
// builds resolve without touching the system PATH.
func ensureLocalBinOnPATH(homeDir string) error {
	binDir := filepath.Join(homeDir, config.AppDirName, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	for _, entry := range filepath.SplitList(current) {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

// ffmpegInstallOptions lists package managers in preference order. The
// Windows and Homebrew builds ship libplacebo; distro builds vary.
func ffmpegInstallOptions(goos string) []installOption {
	single := func(manager string, args ...string) installOption {
		return installOption{manager: manager, commands: [][]string{append([]string{manager}, args...)}}
	}

	switch goos {
	case "windows":
		return []installOption{
			single("winget", "install", "--id", "Gyan.FFmpeg", "--exact", "--accept-source-agreements", "--accept-package-agreements"),
			single("choco", "install", "ffmpeg-full", "-y"),
			single("scoop", "install", "ffmpeg"),
		}
	case "darwin":
		return []installOption{single("brew", "install", "ffmpeg")}
	default:
		return []installOption{
			{manager: "apt-get", commands: [][]string{
				{"apt-get", "update"},
				{"apt-get", "install", "-y", "ffmpeg"},
			}},
			single("dnf", "install", "-y", "ffmpeg"),
			single("pacman", "-Sy", "--noconfirm", "ffmpeg"),
			single("zypper", "install", "-y", "ffmpeg"),
			single("brew", "install", "ffmpeg"),
		}
	}
}

// installFFmpeg tries each available package manager until one succeeds,
// then checks both binaries resolve.
func (i *installer) installFFmpeg() error {
	options := ffmpegInstallOptions(i.goos)

	var failures []string
	tried := false
	for _, option := range options {
		if !i.available(option.manager) {
			continue
		}
		tried = true
		err := i.runAll(option.commands)
		if err == nil {
			return i.verify("ffmpeg", "ffprobe")
		}
		failures = append(failures, fmt.Sprintf("%s: %v", option.manager, err))
	}

	if !tried {
		return fmt.Errorf("install ffmpeg: no supported package manager found for %s", i.goos)
	}
	return fmt.Errorf("install ffmpeg: %s", strings.Join(failures, " | "))
}

func (i *installer) runAll(commands [][]string) error {
	for _, command := range commands {
		if err := i.runElevated(command); err != nil {
			return err
		}
	}
	return nil
}

// runElevated runs command as is, then through pkexec or sudo -n for Linux
// system package managers.
func (i *installer) runElevated(command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}

	attempts := [][]string{command}
	if i.goos == "linux" && needsRoot(command[0]) {
		if i.available("pkexec") {
			attempts = append(attempts, append([]string{"pkexec"}, command...))
		}
		if i.available("sudo") {
			attempts = append(attempts, append([]string{"sudo", "-n"}, command...))
		}
	}

	var failures []string
	for _, attempt := range attempts {
		err := i.runOne(attempt[0], attempt[1:]...)
		if err == nil {
			return nil
		}
		failures = append(failures, err.Error())
	}
	return errors.New(strings.Join(failures, " | "))
}

func (i *installer) runOne(name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()

	output, err := i.run(ctx, name, args...)
	if err == nil {
		return nil
	}

	command := strings.Join(append([]string{name}, args...), " ")
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", command, i.timeout)
	}

	trimmed := strings.TrimSpace(string(output))
	if len(trimmed) > 500 {
		trimmed = trimmed[:500] + "..."
	}
	if trimmed == "" {
		return fmt.Errorf("%s failed: %w", command, err)
	}
	return fmt.Errorf("%s failed: %w (%s)", command, err, trimmed)
}

func (i *installer) available(name string) bool {
	_, err := i.lookPath(name)
	return err == nil
}

func (i *installer) verify(names ...string) error {
	var missing []string
	for _, name := range names {
		if !i.available(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("installed, but not on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}

func needsRoot(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	default:
		return false
	}
}

// resetToolPaths points the settings back at PATH lookups after a package
// manager install, so a stale custom path does not shadow the new binaries.
func resetToolPaths(settings domain.Settings) (domain.Settings, bool) {
	def := config.DefaultSettings()
	changed := settings.FFmpegPath != def.FFmpegPath || settings.FFprobePath != def.FFprobePath
	settings.FFmpegPath = def.FFmpegPath
	settings.FFprobePath = def.FFprobePath
	return settings, changed
}

// createOutputDir creates the configured output directory. An empty setting
// means "next to the input" and needs nothing.
func createOutputDir(outputDir string) error {
	outputDir = strings.TrimSpace(outputDir)
	if outputDir == "" {
		return nil
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory %s: %w", outputDir, err)
	}
	return nil
}
