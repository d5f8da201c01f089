package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dv-converter/internal/config"
	"dv-converter/internal/diagnostics"
	"dv-converter/internal/domain"
)

// fakeInstaller builds an installer over a fixed set of available commands.
func fakeInstaller(goos string, available map[string]bool, run func(name string, args ...string) error) (*installer, *[]string) {
	var calls []string
	return &installer{
		goos: goos,
		lookPath: func(name string) (string, error) {
			if available[name] {
				return "/usr/bin/" + name, nil
			}
			return "", errors.New("not found")
		},
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			calls = append(calls, strings.Join(append([]string{name}, args...), " "))
			if err := run(name, args...); err != nil {
				return []byte("E: permission denied"), err
			}
			return nil, nil
		},
		timeout: time.Second,
	}, &calls
}

// TestInstallFFmpegUsesFirstAvailableManager skips managers that are absent.
func TestInstallFFmpegUsesFirstAvailableManager(t *testing.T) {
	inst, calls := fakeInstaller("linux",
		map[string]bool{"dnf": true, "ffmpeg": true, "ffprobe": true},
		func(string, ...string) error { return nil })

	if err := inst.installFFmpeg(); err != nil {
		t.Fatalf("installFFmpeg() error = %v", err)
	}
	if len(*calls) != 1 || (*calls)[0] != "dnf install -y ffmpeg" {
		t.Fatalf("calls = %q", *calls)
	}
}

// TestInstallFFmpegFallsBackToSudo checks elevation retries on Linux.
func TestInstallFFmpegFallsBackToSudo(t *testing.T) {
	inst, calls := fakeInstaller("linux",
		map[string]bool{"pacman": true, "sudo": true, "ffmpeg": true, "ffprobe": true},
		func(name string, args ...string) error {
			if name == "sudo" {
				return nil
			}
			return errors.New("exit status 1")
		})

	if err := inst.installFFmpeg(); err != nil {
		t.Fatalf("installFFmpeg() error = %v", err)
	}
	want := []string{"pacman -Sy --noconfirm ffmpeg", "sudo -n pacman -Sy --noconfirm ffmpeg"}
	if strings.Join(*calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %q, want %q", *calls, want)
	}
}

// TestInstallFFmpegReportsFailures checks error aggregation.
func TestInstallFFmpegReportsFailures(t *testing.T) {
	inst, _ := fakeInstaller("darwin", map[string]bool{}, func(string, ...string) error { return nil })
	if err := inst.installFFmpeg(); err == nil || !strings.Contains(err.Error(), "no supported package manager") {
		t.Fatalf("error = %v", err)
	}

	inst, _ = fakeInstaller("windows", map[string]bool{"winget": true, "scoop": true},
		func(string, ...string) error { return errors.New("exit status 1") })
	err := inst.installFFmpeg()
	if err == nil || !strings.Contains(err.Error(), "winget:") || !strings.Contains(err.Error(), "scoop:") {
		t.Fatalf("error = %v", err)
	}
	if !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("command output missing from %v", err)
	}
}

// TestInstallFFmpegVerifiesBinaries checks a silent install is not success.
func TestInstallFFmpegVerifiesBinaries(t *testing.T) {
	inst, _ := fakeInstaller("darwin", map[string]bool{"brew": true, "ffmpeg": true},
		func(string, ...string) error { return nil })
	if err := inst.installFFmpeg(); err == nil || !strings.Contains(err.Error(), "ffprobe") {
		t.Fatalf("error = %v, want missing ffprobe", err)
	}
}

func TestFFmpegInstallOptionsPerOS(t *testing.T) {
	for _, goos := range []string{"windows", "darwin", "linux", "freebsd"} {
		options := ffmpegInstallOptions(goos)
		if len(options) == 0 {
			t.Fatalf("%s: no options", goos)
		}
		for _, option := range options {
			for _, command := range option.commands {
				if command[0] != option.manager {
					t.Fatalf("%s: command %q does not use %s", goos, command, option.manager)
				}
			}
		}
	}
}

// TestResetToolPaths checks custom paths revert to PATH lookups.
func TestResetToolPaths(t *testing.T) {
	settings := config.DefaultSettings()
	if _, changed := resetToolPaths(settings); changed {
		t.Fatal("defaults must not report a change")
	}

	settings.FFmpegPath = "/broken/ffmpeg"
	fixed, changed := resetToolPaths(settings)
	if !changed || fixed.FFmpegPath != "ffmpeg" {
		t.Fatalf("fixed = %+v, changed = %v", fixed, changed)
	}
}

// TestInstallOrFixOutputDirCreatesDirectory ensures the fix creates missing directories.
func TestInstallOrFixOutputDirCreatesDirectory(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "nested", "converted")
	settings := config.DefaultSettings()
	settings.OutputDir = outputDir
	store := &fakeStore{settings: settings}

	app := &App{
		Store:   store,
		Log:     zerolog.Nop(),
		checker: diagnostics.NewCheckerForTests(func(name string) (string, error) { return name, nil }, os.Stat, os.CreateTemp, os.Remove),
	}

	report, err := app.InstallOrFixDiagnostic(domain.DiagnosticOutputDir)
	if err != nil {
		t.Fatalf("InstallOrFixDiagnostic() error = %v", err)
	}
	if report.HasFailures {
		t.Fatalf("report still failing: %+v", report.Items)
	}
	if _, err := os.Stat(outputDir); err != nil {
		t.Fatalf("stat output dir: %v", err)
	}
	if store.saves != 0 {
		t.Fatal("creating the directory must not rewrite settings")
	}
}

// TestInstallOrFixDiagnosticRejectsUnknownID checks input validation.
func TestInstallOrFixDiagnosticRejectsUnknownID(t *testing.T) {
	app := &App{Store: &fakeStore{}, Log: zerolog.Nop()}
	if _, err := app.InstallOrFixDiagnostic("model_path"); err == nil {
		t.Fatal("expected unsupported id error")
	}
	if _, err := app.InstallOrFixDiagnostic("  "); err == nil {
		t.Fatal("expected empty id error")
	}
}

// TestInstallOrFixFFmpegResetsToolPaths runs the ffmpeg fix through the App.
func TestInstallOrFixFFmpegResetsToolPaths(t *testing.T) {
	settings := config.DefaultSettings()
	settings.FFmpegPath = "/broken/ffmpeg"
	store := &fakeStore{settings: settings}

	inst, calls := fakeInstaller("linux",
		map[string]bool{"dnf": true, "ffmpeg": true, "ffprobe": true},
		func(string, ...string) error { return nil })
	app := &App{
		Store:     store,
		Log:       zerolog.Nop(),
		installer: inst,
		checker:   diagnostics.NewCheckerForTests(func(name string) (string, error) { return name, nil }, os.Stat, os.CreateTemp, os.Remove),
	}

	report, err := app.InstallOrFixDiagnostic(domain.DiagnosticFFmpeg)
	if err != nil {
		t.Fatalf("InstallOrFixDiagnostic() error = %v", err)
	}
	if len(*calls) != 1 || (*calls)[0] != "dnf install -y ffmpeg" {
		t.Fatalf("calls = %q", *calls)
	}
	if store.saves != 1 || store.settings.FFmpegPath != "ffmpeg" {
		t.Fatalf("saves = %d, settings = %+v", store.saves, store.settings)
	}
	if app.Settings.FFmpegPath != "ffmpeg" {
		t.Fatalf("app settings not refreshed: %+v", app.Settings)
	}
	for _, item := range report.Items {
		if item.ID == domain.DiagnosticFFmpeg && item.Status != domain.DiagnosticStatusPass {
			t.Fatalf("ffmpeg item = %+v", item)
		}
	}
}

// TestInstallOrFixFFmpegReportsInstallFailure keeps settings when no manager works.
func TestInstallOrFixFFmpegReportsInstallFailure(t *testing.T) {
	settings := config.DefaultSettings()
	settings.FFmpegPath = "/custom/ffmpeg"
	store := &fakeStore{settings: settings}

	inst, _ := fakeInstaller("darwin", map[string]bool{}, func(string, ...string) error { return nil })
	app := &App{Store: store, Log: zerolog.Nop(), installer: inst}

	if _, err := app.InstallOrFixDiagnostic(domain.DiagnosticFFprobe); err == nil {
		t.Fatal("expected install error")
	}
	if store.saves != 0 || store.settings.FFmpegPath != "/custom/ffmpeg" {
		t.Fatalf("settings changed after failed install: %+v", store.settings)
	}
}
