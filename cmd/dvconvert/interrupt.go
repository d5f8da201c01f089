package main

import (
	"os"

	"github.com/rs/zerolog"
)

// interruptWatcher turns signals into job cancellation until the job ends.
// Cancel only acts on a running job, so a signal that arrives while the input
// is still being probed is held and reissued once ffmpeg starts.
type interruptWatcher struct {
	signals <-chan os.Signal
	running <-chan struct{}
	done    <-chan struct{}
	cancel  func()
	log     zerolog.Logger
}

func (w interruptWatcher) watch() {
	running := w.running
	started, pending := false, false
	for {
		select {
		case <-w.done:
			return
		case <-running:
			running = nil
			started = true
			if pending {
				w.cancel()
			}
		case <-w.signals:
			if started {
				w.log.Warn().Msg("interrupt received, stopping ffmpeg")
				w.cancel()
				continue
			}
			w.log.Warn().Msg("interrupt received, stopping once ffmpeg starts")
			pending = true
		}
	}
}
