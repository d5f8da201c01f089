package main

import (
	"fmt"
	"io"
	"strings"

	"dv-converter/internal/domain"
	"dv-converter/internal/progress"
	"dv-converter/internal/transcode"
)

// statusPrinter renders job events. On a terminal progress redraws one line;
// otherwise each sample is its own line.
type statusPrinter struct {
	w       io.Writer
	tty     bool
	lastLen int
}

func newStatusPrinter(w io.Writer, tty bool) *statusPrinter {
	return &statusPrinter{w: w, tty: tty}
}

func (p *statusPrinter) event(ev transcode.Event) {
	switch ev.Type {
	case transcode.EventProgress:
		p.progress(ev.Progress)
	case transcode.EventState:
		switch ev.State {
		case domain.JobStateProbing:
			p.line("Conversion started.. Please wait")
		case domain.JobStateRunning:
			p.line("Writing " + ev.OutputPath)
		case domain.JobStateCancelling:
			p.line("Cancelling...")
		}
	}
}

func (p *statusPrinter) progress(sample domain.Progress) {
	text := progress.StatusLine(sample)
	if !p.tty {
		fmt.Fprintln(p.w, text)
		return
	}
	pad := ""
	if n := p.lastLen - len(text); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprint(p.w, "\r"+text+pad)
	p.lastLen = len(text)
}

// line prints text on its own line, ending any in-place progress first.
func (p *statusPrinter) line(text string) {
	if p.lastLen > 0 {
		fmt.Fprintln(p.w)
		p.lastLen = 0
	}
	fmt.Fprintln(p.w, text)
}

// finish prints the outcome and returns the process exit status.
func (p *statusPrinter) finish(snap domain.JobSnapshot, stderr io.Writer) int {
	switch snap.State {
	case domain.JobStateCompleted:
		p.line("Done! " + snap.OutputPath)
		return exitOK
	case domain.JobStateCancelled:
		p.line("Conversion cancelled")
		return exitCancelled
	default:
		p.line("Conversion failed")
		if snap.Exit != nil {
			if snap.Exit.Error != "" {
				fmt.Fprintf(stderr, "dvconvert: %s\n", snap.Exit.Error)
			} else {
				fmt.Fprintf(stderr, "dvconvert: ffmpeg exited with code %d\n", snap.Exit.ExitCode)
			}
			for _, l := range snap.Exit.StderrTail {
				fmt.Fprintf(stderr, "  %s\n", l)
			}
		}
		return exitFailed
	}
}
