// Command dvconvert converts one Dolby Vision file from the terminal.
//
// It uses the same orchestrator as the desktop app: probe, run ffmpeg with
// libplacebo tone mapping, print progress, and kill ffmpeg on Ctrl+C.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/term"

	"dv-converter/internal/config"
	"dv-converter/internal/domain"
	"dv-converter/internal/logging"
	"dv-converter/internal/metrics"
	"dv-converter/internal/transcode"
)

// Exit statuses.
const (
	exitOK        = 0
	exitFailed    = 1
	exitUsage     = 2
	exitCancelled = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(stderr, "dvconvert: %v\n", err)
		return exitFailed
	}
	settings, err := config.NewJSONStore(config.SettingsPath()).Load()
	if err != nil {
		fmt.Fprintf(stderr, "dvconvert: load settings: %v\n", err)
		return exitFailed
	}
	settings = config.ApplyEnv(settings)

	opts, err := parseFlags(args, settings, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "dvconvert: %v\n", err)
		return exitUsage
	}

	log := logging.New(stderr, opts.logLevel, isTerminal(stderr))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if opts.metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, opts.metricsAddr, log); err != nil {
				log.Error().Err(err).Str("addr", opts.metricsAddr).Msg("metrics endpoint stopped")
			}
		}()
	}

	orch := transcode.New(transcode.Config{
		FFmpegPath: opts.ffmpeg,
		HWDevice:   opts.hwDevice,
	}, opts.ffprobe, log)
	defer orch.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	h, err := orch.Submit(ctx, opts.request)
	if err != nil {
		fmt.Fprintf(stderr, "dvconvert: %v\n", err)
		return exitFailed
	}

	running := make(chan struct{})
	markRunning := sync.OnceFunc(func() { close(running) })
	go interruptWatcher{
		signals: sigCh,
		running: running,
		done:    h.Done(),
		cancel:  h.Cancel,
		log:     log,
	}.watch()

	out := newStatusPrinter(stdout, isTerminal(stdout))
	for ev := range h.Events() {
		if ev.State == domain.JobStateRunning {
			markRunning()
		}
		out.event(ev)
	}

	return out.finish(h.Snapshot(), stderr)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
