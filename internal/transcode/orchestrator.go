// Package transcode runs one ffmpeg conversion at a time. It validates the
// request, probes the duration, builds the encoder arguments, supervises the
// subprocess and reports progress back to the caller.
//
// Job state is owned by a single goroutine. Submit, Cancel, output lines
// and process exits all reach it as messages on one channel, so the job
// fields need no lock.
package transcode

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dv-converter/internal/domain"
	"dv-converter/internal/encoding"
	"dv-converter/internal/jobs"
	"dv-converter/internal/metrics"
	"dv-converter/internal/probe"
	"dv-converter/internal/progress"
)

const stderrTailLines = 20

// Config selects the transcoder binary and hardware device.
type Config struct {
	FFmpegPath string
	HWDevice   string
}

// durationProber reports total media duration or domain.UnknownDuration.
type durationProber interface {
	Probe(ctx context.Context, inputPath string) time.Duration
}

// Orchestrator owns at most one conversion job and its subprocess.
type Orchestrator struct {
	cfg        Config
	prober     durationProber
	starter    processStarter
	log        zerolog.Logger
	stat       func(name string) (os.FileInfo, error)
	open       func(name string) (*os.File, error)
	createTemp func(dir, pattern string) (*os.File, error)
	remove     func(name string) error
	newID      func() string
	now        func() time.Time

	msgs      chan any
	loopDone  chan struct{}
	closeOnce sync.Once
	baseCtx   context.Context
	stopBase  context.CancelFunc
}

// New builds an orchestrator using real ffmpeg/ffprobe processes and starts
// its owner loop. Call Close to stop it.
func New(cfg Config, ffprobePath string, log zerolog.Logger) *Orchestrator {
	return newOrchestrator(cfg, probe.NewProber(ffprobePath, log), execStarter{}, log)
}

func newOrchestrator(cfg Config, prober durationProber, starter processStarter, log zerolog.Logger) *Orchestrator {
	if strings.TrimSpace(cfg.FFmpegPath) == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(cfg.HWDevice) == "" {
		cfg.HWDevice = DefaultHWDevice
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		prober:     prober,
		starter:    starter,
		log:        log.With().Str("component", "transcode").Logger(),
		stat:       os.Stat,
		open:       os.Open,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		newID:      uuid.NewString,
		now:        time.Now,
		msgs:       make(chan any),
		loopDone:   make(chan struct{}),
		baseCtx:    ctx,
		stopBase:   cancel,
	}
	go o.loop()
	return o
}

// --- messages handled by the owner loop ---

type submitMsg struct {
	req        domain.JobRequest
	plan       domain.EncodingPlan
	outputPath string
	reply      chan submitReply
}

type submitReply struct {
	handle *Handle
	err    error
}

type probedMsg struct {
	jobID string
	total time.Duration
}

type lineMsg struct {
	jobID  string
	stderr bool
	line   string
}

type exitMsg struct {
	jobID string
	code  int
	err   error
}

type cancelMsg struct {
	jobID string // empty targets the current job
}

type ackMsg struct {
	jobID string
	reply chan error
}

type snapshotMsg struct {
	jobID string // empty targets the current job
	reply chan snapshotReply
}

type snapshotReply struct {
	snap domain.JobSnapshot
	ok   bool
}

type closeMsg struct{}

// job is the mutable handle state. Only the owner loop touches it.
type job struct {
	handle     *Handle
	req        domain.JobRequest
	plan       domain.EncodingPlan
	outputPath string
	total      time.Duration
	last       *domain.Progress
	exit       *domain.ExitInfo
	args       []string
	proc       process
	stderrTail []string
	submitted  time.Time
	log        zerolog.Logger
}

// owner is the loop-local state.
type owner struct {
	machine *jobs.Machine
	current *job
}

// Submit validates req and starts the job. It fails with ErrInvalidParameter,
// ErrInvalidInput or ErrJobActive without starting any subprocess.
func (o *Orchestrator) Submit(ctx context.Context, req domain.JobRequest) (*Handle, error) {
	req.InputPath = strings.TrimSpace(req.InputPath)
	req.OutputDir = strings.TrimSpace(req.OutputDir)

	plan, err := encoding.Build(req.ColorMode, req.Codec, req.BitrateKbps)
	if err != nil {
		metrics.JobsRejectedTotal.WithLabelValues("invalid_parameter").Inc()
		return nil, err
	}

	outputDir, err := o.validatePaths(req)
	if err != nil {
		metrics.JobsRejectedTotal.WithLabelValues("invalid_input").Inc()
		o.log.Warn().Err(err).Str("input", req.InputPath).Msg("rejected job")
		return nil, err
	}
	outputPath := filepath.Join(outputDir, encoding.OutputFileName(req.InputPath, req.ColorMode, plan.EncoderName, plan.BitrateKbps))

	reply := make(chan submitReply, 1)
	if err := o.send(ctx, submitMsg{req: req, plan: plan, outputPath: outputPath, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.handle, r.err
	case <-o.loopDone:
		return nil, ErrClosed
	}
}

// Cancel kills the running job's process. It is a no-op in any other state.
func (o *Orchestrator) Cancel() {
	o.cancelJob("")
}

// Snapshot returns the current job, or an idle snapshot when there is none.
func (o *Orchestrator) Snapshot() domain.JobSnapshot {
	snap, ok := o.snapshotJob("")
	if !ok {
		return domain.JobSnapshot{State: domain.JobStateIdle}
	}
	return snap
}

// Acknowledge releases a terminal job and returns the slot to idle.
func (o *Orchestrator) Acknowledge(jobID string) error {
	reply := make(chan error, 1)
	if err := o.send(context.Background(), ackMsg{jobID: jobID, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-o.loopDone:
		return ErrClosed
	}
}

// Close kills any live process, finishes its handle and stops the loop.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		_ = o.send(context.Background(), closeMsg{})
		<-o.loopDone
	})
}

func (o *Orchestrator) cancelJob(jobID string) {
	_ = o.send(context.Background(), cancelMsg{jobID: jobID})
}

func (o *Orchestrator) snapshotJob(jobID string) (domain.JobSnapshot, bool) {
	reply := make(chan snapshotReply, 1)
	if err := o.send(context.Background(), snapshotMsg{jobID: jobID, reply: reply}); err != nil {
		return domain.JobSnapshot{}, false
	}
	select {
	case r := <-reply:
		return r.snap, r.ok
	case <-o.loopDone:
		return domain.JobSnapshot{}, false
	}
}

// send delivers msg to the owner loop unless it has exited.
func (o *Orchestrator) send(ctx context.Context, msg any) error {
	select {
	case o.msgs <- msg:
		return nil
	case <-o.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// validatePaths checks the input is a readable file and resolves a writable
// output directory.
func (o *Orchestrator) validatePaths(req domain.JobRequest) (string, error) {
	input := strings.TrimSpace(req.InputPath)
	if input == "" {
		return "", invalidInput("input path is required", nil)
	}

	info, err := o.stat(input)
	if err != nil {
		return "", invalidInput("cannot access input file "+input, err)
	}
	if info.IsDir() {
		return "", invalidInput("input path is a directory: "+input, nil)
	}
	f, err := o.open(input)
	if err != nil {
		return "", invalidInput("input file is not readable: "+input, err)
	}
	_ = f.Close()

	outputDir := strings.TrimSpace(req.OutputDir)
	if outputDir == "" {
		outputDir = filepath.Dir(input)
	}
	info, err = o.stat(outputDir)
	if err != nil {
		return "", invalidInput("cannot access output directory "+outputDir, err)
	}
	if !info.IsDir() {
		return "", invalidInput("output path is not a directory: "+outputDir, nil)
	}
	tmp, err := o.createTemp(outputDir, ".dvconvert-write-check-*")
	if err != nil {
		return "", invalidInput("output directory is not writable: "+outputDir, err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	_ = o.remove(tmpPath)

	return outputDir, nil
}

// --- owner loop ---

func (o *Orchestrator) loop() {
	defer close(o.loopDone)
	st := &owner{machine: jobs.NewMachine()}

	for raw := range o.msgs {
		switch msg := raw.(type) {
		case submitMsg:
			o.handleSubmit(st, msg)
		case probedMsg:
			o.handleProbed(st, msg)
		case lineMsg:
			o.handleLine(st, msg)
		case exitMsg:
			o.handleExit(st, msg)
		case cancelMsg:
			o.handleCancel(st, msg)
		case ackMsg:
			msg.reply <- o.handleAck(st, msg)
		case snapshotMsg:
			msg.reply <- o.handleSnapshot(st, msg)
		case closeMsg:
			o.handleClose(st)
			return
		}
	}
}

func (o *Orchestrator) handleSubmit(st *owner, msg submitMsg) {
	if err := st.machine.Begin(); err != nil {
		metrics.JobsRejectedTotal.WithLabelValues("busy").Inc()
		msg.reply <- submitReply{err: err}
		return
	}

	id := o.newID()
	j := &job{
		handle:     newHandle(id, o),
		req:        msg.req,
		plan:       msg.plan,
		outputPath: msg.outputPath,
		total:      domain.UnknownDuration,
		submitted:  o.now(),
		log: o.log.With().
			Str("job_id", id).
			Str("input", msg.req.InputPath).
			Str("output", msg.outputPath).
			Logger(),
	}
	st.current = j

	metrics.JobsSubmittedTotal.WithLabelValues(string(msg.req.ColorMode), msg.plan.EncoderName).Inc()
	metrics.JobActive.Set(1)
	metrics.JobProgressPercent.Set(0)
	j.log.Info().
		Str("color_mode", string(msg.req.ColorMode)).
		Str("encoder", msg.plan.EncoderName).
		Int("bitrate_kbps", msg.plan.BitrateKbps).
		Msg("job submitted")

	o.emitState(st, j)
	msg.reply <- submitReply{handle: j.handle}

	// The probe blocks, so it runs outside the loop and reports back.
	go func(jobID, input string) {
		total := o.prober.Probe(o.baseCtx, input)
		_ = o.send(context.Background(), probedMsg{jobID: jobID, total: total})
	}(id, msg.req.InputPath)
}

func (o *Orchestrator) handleProbed(st *owner, msg probedMsg) {
	j := st.current
	if j == nil || j.handle.id != msg.jobID || st.machine.State() != domain.JobStateProbing {
		return
	}

	j.total = msg.total
	if j.total > 0 {
		j.log.Info().Dur("total_duration", j.total).Msg("probed duration")
	}
	if err := st.machine.Transition(domain.JobStateRunning); err != nil {
		j.log.Error().Err(err).Msg("unexpected transition")
		return
	}
	o.emitState(st, j)

	j.args = BuildArgs(o.cfg.HWDevice, j.req.InputPath, j.outputPath, j.plan)
	proc, err := o.starter.Start(o.cfg.FFmpegPath, j.args)
	if err != nil {
		startErr := &JobError{Kind: ErrSubprocessStart, Message: o.cfg.FFmpegPath, Err: err}
		j.exit = &domain.ExitInfo{ExitCode: -1, Error: startErr.Error()}
		j.log.Error().Err(err).Str("ffmpeg", o.cfg.FFmpegPath).Msg("failed to start transcoder")
		o.finish(st, domain.JobStateFailed)
		return
	}
	j.proc = proc
	j.log.Debug().Strs("args", j.args).Msg("transcoder started")

	o.consume(j.handle.id, proc)
}

// consume starts the two stream readers and the waiter. The readers end when
// the process closes its streams; the waiter reports the exit after both.
func (o *Orchestrator) consume(jobID string, proc process) {
	var wg sync.WaitGroup
	read := func(r io.Reader, stderr bool) {
		defer wg.Done()
		sc := newLineScanner(r)
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				continue
			}
			if o.send(context.Background(), lineMsg{jobID: jobID, stderr: stderr, line: line}) != nil {
				break
			}
		}
		// Keep the pipe empty so the process can still exit.
		_, _ = io.Copy(io.Discard, r)
	}

	wg.Add(2)
	go read(proc.Stdout(), false)
	go read(proc.Stderr(), true)

	go func() {
		wg.Wait()
		code, err := proc.Wait()
		_ = o.send(context.Background(), exitMsg{jobID: jobID, code: code, err: err})
	}()
}

func (o *Orchestrator) handleLine(st *owner, msg lineMsg) {
	j := st.current
	if j == nil || j.handle.id != msg.jobID {
		return
	}

	if msg.stderr && !strings.Contains(msg.line, "time=") {
		j.stderrTail = append(j.stderrTail, msg.line)
		if len(j.stderrTail) > stderrTailLines {
			j.stderrTail = j.stderrTail[len(j.stderrTail)-stderrTailLines:]
		}
		j.log.Debug().Str("line", msg.line).Msg("ffmpeg")
	}

	if st.machine.State() != domain.JobStateRunning {
		return
	}
	p, ok := progress.Parse(msg.line, j.total)
	if !ok {
		return
	}
	if j.last != nil && p.Percent < j.last.Percent {
		return
	}
	j.last = &p
	metrics.JobProgressPercent.Set(p.Percent)
	j.handle.emit(Event{
		Type:     EventProgress,
		JobID:    j.handle.id,
		State:    domain.JobStateRunning,
		Progress: p,
	})
}

func (o *Orchestrator) handleExit(st *owner, msg exitMsg) {
	j := st.current
	if j == nil || j.handle.id != msg.jobID {
		return
	}
	j.proc = nil

	exit := &domain.ExitInfo{ExitCode: msg.code}
	if msg.err != nil {
		exit.Error = msg.err.Error()
	}
	j.exit = exit

	switch st.machine.State() {
	case domain.JobStateCancelling:
		o.finish(st, domain.JobStateCancelled)
	case domain.JobStateRunning:
		if msg.code == 0 && msg.err == nil {
			if j.last == nil || j.last.Percent < 100 {
				done := domain.Progress{Percent: 100, ETA: 0}
				j.last = &done
				metrics.JobProgressPercent.Set(100)
				j.handle.emit(Event{Type: EventProgress, JobID: j.handle.id, State: domain.JobStateRunning, Progress: done})
			}
			o.finish(st, domain.JobStateCompleted)
			return
		}
		exit.StderrTail = append([]string(nil), j.stderrTail...)
		o.finish(st, domain.JobStateFailed)
	}
}

func (o *Orchestrator) handleCancel(st *owner, msg cancelMsg) {
	j := st.current
	if j == nil || (msg.jobID != "" && j.handle.id != msg.jobID) {
		return
	}
	if st.machine.State() != domain.JobStateRunning || j.proc == nil {
		return
	}

	if err := st.machine.Transition(domain.JobStateCancelling); err != nil {
		j.log.Error().Err(err).Msg("unexpected transition")
		return
	}
	o.emitState(st, j)
	if err := j.proc.Kill(); err != nil {
		j.log.Warn().Err(err).Msg("kill transcoder")
	}
	j.log.Info().Msg("cancellation requested")
}

func (o *Orchestrator) handleAck(st *owner, msg ackMsg) error {
	j := st.current
	if j == nil || j.handle.id != msg.jobID {
		return nil
	}
	if err := st.machine.Reset(); err != nil {
		return err
	}
	st.current = nil
	return nil
}

func (o *Orchestrator) handleSnapshot(st *owner, msg snapshotMsg) snapshotReply {
	j := st.current
	if j == nil || (msg.jobID != "" && j.handle.id != msg.jobID) {
		return snapshotReply{}
	}
	return snapshotReply{snap: o.snapshot(st, j), ok: true}
}

func (o *Orchestrator) handleClose(st *owner) {
	defer o.stopBase()

	j := st.current
	if j == nil {
		return
	}
	switch st.machine.State() {
	case domain.JobStateProbing:
		j.exit = &domain.ExitInfo{ExitCode: -1, Error: ErrClosed.Error()}
		o.finish(st, domain.JobStateFailed)
	case domain.JobStateRunning, domain.JobStateCancelling:
		if j.proc != nil {
			_ = j.proc.Kill()
		}
		if st.machine.State() == domain.JobStateRunning {
			_ = st.machine.Transition(domain.JobStateCancelling)
		}
		j.exit = &domain.ExitInfo{ExitCode: -1, Error: ErrClosed.Error()}
		o.finish(st, domain.JobStateCancelled)
	}
}

// finish moves the job to a terminal state and notifies the caller.
func (o *Orchestrator) finish(st *owner, state domain.JobState) {
	j := st.current
	if err := st.machine.Transition(state); err != nil {
		j.log.Error().Err(err).Msg("unexpected transition")
		return
	}

	elapsed := o.now().Sub(j.submitted)
	metrics.JobsFinishedTotal.WithLabelValues(string(state)).Inc()
	metrics.JobDuration.WithLabelValues(string(state)).Observe(elapsed.Seconds())
	metrics.JobActive.Set(0)

	ev := j.log.Info()
	if state == domain.JobStateFailed {
		ev = j.log.Error()
	}
	if j.exit != nil {
		ev = ev.Int("exit_code", j.exit.ExitCode).Str("error", j.exit.Error)
	}
	ev.Str("state", string(state)).Dur("elapsed", elapsed).Msg("job finished")

	j.handle.finish(Event{
		Type:       EventTerminal,
		JobID:      j.handle.id,
		State:      state,
		Progress:   progressOrZero(j.last),
		OutputPath: j.outputPath,
		Exit:       j.exit,
	}, o.snapshot(st, j))
}

func (o *Orchestrator) emitState(st *owner, j *job) {
	j.handle.emit(Event{
		Type:       EventState,
		JobID:      j.handle.id,
		State:      st.machine.State(),
		Progress:   progressOrZero(j.last),
		OutputPath: j.outputPath,
	})
}

func (o *Orchestrator) snapshot(st *owner, j *job) domain.JobSnapshot {
	plan := j.plan
	snap := domain.JobSnapshot{
		ID:            j.handle.id,
		State:         st.machine.State(),
		Request:       j.req,
		Plan:          &plan,
		OutputPath:    j.outputPath,
		TotalDuration: j.total,
		Args:          append([]string(nil), j.args...),
	}
	if j.last != nil {
		p := *j.last
		snap.LastProgress = &p
	}
	if j.exit != nil {
		e := *j.exit
		e.StderrTail = append([]string(nil), j.exit.StderrTail...)
		snap.Exit = &e
	}
	return snap
}

func progressOrZero(p *domain.Progress) domain.Progress {
	if p == nil {
		return domain.Progress{}
	}
	return *p
}
