// Package pipeline runs recordings: it moves frames from a queue through
// pixel conversion and the encoder into a container file, and manages the
// running recordings of a process.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/camrec/internal/container"
	"github.com/jmylchreest/camrec/internal/encoder"
	"github.com/jmylchreest/camrec/internal/framequeue"
	"github.com/jmylchreest/camrec/internal/media"
	"github.com/jmylchreest/camrec/internal/pixfmt"
)

// ErrAlreadyRun is returned when Run is called a second time.
var ErrAlreadyRun = media.NewProtocolError("pipeline", "run", "orchestrator already ran")

// Dependencies are the resources an Orchestrator drives. The orchestrator
// takes ownership of Encoder and Writer and releases both when Run returns.
type Dependencies struct {
	Queue   *framequeue.Queue
	Encoder *encoder.Session
	Writer  *container.Writer
	Logger  *slog.Logger
}

// Progress is a live snapshot of a running pipeline.
type Progress struct {
	State           State         `json:"state"`
	FramesConverted uint64        `json:"frames_converted"`
	FramesSubmitted uint64        `json:"frames_submitted"`
	SamplesWritten  uint64        `json:"samples_written"`
	BytesWritten    uint64        `json:"bytes_written"`
	Elapsed         time.Duration `json:"elapsed"`
}

// Orchestrator is the consumer side of a recording. Run must be called from
// a single goroutine; Stop, State and Progress are safe from any goroutine.
type Orchestrator struct {
	opts    Options
	queue   *framequeue.Queue
	session *encoder.Session
	writer  *container.Writer
	logger  *slog.Logger

	converter  *pixfmt.Converter
	timestamps *encoder.Timestamps

	// Owned by the Run goroutine.
	pending    []byte
	track      *media.TrackDescriptor
	trackIndex int
	released   bool
	releaseErr error

	ran           atomic.Bool
	stopRequested atomic.Bool
	state         atomic.Int32
	startedAt     atomic.Int64

	framesConverted atomic.Uint64
	framesSkipped   atomic.Uint64
	framesSubmitted atomic.Uint64
	slotMisses      atomic.Uint64
	samplesWritten  atomic.Uint64
	bytesWritten    atomic.Uint64
	keyFrames       atomic.Uint64
}

// NewOrchestrator creates an orchestrator. opts are completed with
// DefaultOptions.
func NewOrchestrator(opts Options, deps Dependencies) *Orchestrator {
	opts = opts.WithDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		opts:       opts,
		queue:      deps.Queue,
		session:    deps.Encoder,
		writer:     deps.Writer,
		logger:     logger,
		converter:  pixfmt.NewConverter(opts.Width, opts.Height),
		timestamps: encoder.NewTimestamps(opts.PTSBaseUs, opts.FrameRate),
	}
}

// Options returns the effective options.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Stop requests a graceful stop. The Run goroutine observes it at the top
// of its next iteration and drains the encoder.
func (o *Orchestrator) Stop() {
	o.stopRequested.Store(true)
}

// Progress returns live counters.
func (o *Orchestrator) Progress() Progress {
	p := Progress{
		State:           o.State(),
		FramesConverted: o.framesConverted.Load(),
		FramesSubmitted: o.framesSubmitted.Load(),
		SamplesWritten:  o.samplesWritten.Load(),
		BytesWritten:    o.bytesWritten.Load(),
	}
	if started := o.startedAt.Load(); started != 0 {
		p.Elapsed = time.Since(time.Unix(0, started))
	}
	return p
}

func (o *Orchestrator) transition(next State) error {
	current := o.State()
	if !current.CanTransition(next) {
		return media.NewProtocolError("pipeline", "transition", fmt.Sprintf("%s -> %s not allowed", current, next))
	}
	o.state.Store(int32(next))
	o.logger.Debug("pipeline state change",
		slog.String("from", current.String()),
		slog.String("to", next.String()))
	return nil
}

// Run records until a stop request, ctx cancellation, the auto-stop budget,
// the end of the source or a fatal error. Both resources are released on
// every path, the container first. The returned Result is never nil; err is
// the fatal error, if any, joined with release failures.
func (o *Orchestrator) Run(ctx context.Context) (result *Result, err error) {
	if !o.ran.CompareAndSwap(false, true) {
		return &Result{State: o.State()}, ErrAlreadyRun
	}

	start := time.Now()
	o.startedAt.Store(start.UnixNano())
	result = &Result{StartedAt: start}

	defer func() {
		// No-op unless an early return skipped the release in run.
		if releaseErr := o.releaseAll(); releaseErr != nil {
			err = errors.Join(err, releaseErr)
		}
		if o.releaseErr != nil {
			result.ReleaseError = o.releaseErr.Error()
		}
		if err != nil && !o.State().Terminal() {
			_ = o.transition(StateFailed)
		}

		o.queue.Close()
		if leftover := o.queue.Drain(); len(leftover) > 0 {
			o.logger.Debug("discarded queued frames", slog.Int("frames", len(leftover)))
		}

		o.fill(result, err)
		o.logResult(result)
	}()

	reason, err := o.run(ctx, start)
	result.StopReason = reason
	if err != nil {
		if !o.State().Terminal() {
			_ = o.transition(StateFailed)
		}
		return result, err
	}
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, start time.Time) (StopReason, error) {
	if err := o.session.Configure(o.opts.EncoderConfig()); err != nil {
		return StopFault, fmt.Errorf("configuring encoder: %w", err)
	}
	// The encoder must outlive cancellation of ctx so it can be drained.
	if err := o.session.Start(context.WithoutCancel(ctx)); err != nil {
		return StopFault, fmt.Errorf("starting encoder: %w", err)
	}
	if err := o.transition(StateRunning); err != nil {
		return StopFault, err
	}
	o.logger.Info("pipeline running",
		slog.Int("width", o.opts.Width),
		slog.Int("height", o.opts.Height),
		slog.Int("frame_rate", o.opts.FrameRate),
		slog.Duration("auto_stop", o.opts.AutoStop))

	reason, eos, err := o.loop(ctx, start)
	if err != nil {
		return StopFault, err
	}

	if err := o.transition(StateDraining); err != nil {
		return reason, err
	}
	o.logger.Info("pipeline draining",
		slog.String("reason", string(reason)),
		slog.Int64("frames_submitted", o.timestamps.Index()))

	if !eos {
		if err := o.drain(); err != nil {
			return StopFault, err
		}
	}

	if err := o.releaseAll(); err != nil {
		return reason, err
	}
	return reason, o.transition(StateStopped)
}

// loop is the Running state. It returns the reason for leaving it and
// whether the encoder already reported end of stream.
func (o *Orchestrator) loop(ctx context.Context, start time.Time) (StopReason, bool, error) {
	for {
		switch {
		case o.stopRequested.Load():
			return StopRequested, false, nil
		case ctx.Err() != nil:
			return StopCancelled, false, nil
		case o.opts.autoStopEnabled() && time.Since(start) >= o.opts.AutoStop:
			return StopAutoStop, false, nil
		}

		fed, err := o.feed(ctx)
		if err != nil {
			return StopFault, false, err
		}
		if !fed && o.pending == nil && o.queue.Closed() && o.queue.Len() == 0 {
			return StopSourceEnded, false, nil
		}

		eos, err := o.collect()
		if err != nil {
			return StopFault, false, err
		}
		if eos {
			o.logger.Warn("encoder reached end of stream unexpectedly")
			return StopEndOfStream, true, nil
		}
	}
}

// feed submits one frame. A frame that found no free input slot is kept and
// retried on the next call with the same timestamp.
func (o *Orchestrator) feed(ctx context.Context) (bool, error) {
	if o.pending == nil {
		frame, ok := o.queue.PollContext(ctx, o.opts.PollTimeout)
		if !ok {
			return false, nil
		}
		buf, ok := o.converter.Convert(frame)
		if !ok {
			o.framesSkipped.Add(1)
			o.logger.Debug("skipping unconvertible frame",
				slog.Int("width", frame.Width),
				slog.Int("height", frame.Height),
				slog.String("layout", frame.Layout.String()),
				slog.Int("bytes", len(frame.Data)))
			return false, nil
		}
		o.framesConverted.Add(1)
		o.pending = buf
	}

	ok, err := o.session.SubmitInput(o.pending, o.timestamps.Next(), false)
	if err != nil {
		return false, fmt.Errorf("submitting frame %d: %w", o.timestamps.Index(), err)
	}
	if !ok {
		o.slotMisses.Add(1)
		return false, nil
	}

	o.pending = nil
	o.timestamps.Advance()
	o.framesSubmitted.Add(1)
	return true, nil
}

// collect forwards encoder output until none is pending.
func (o *Orchestrator) collect() (bool, error) {
	for {
		ev, err := o.session.PollOutput(o.opts.OutputPollTimeout)
		if err != nil {
			return false, err
		}
		if ev.Kind == encoder.EventNoData {
			return false, nil
		}
		eos, err := o.route(ev)
		if err != nil || eos {
			return eos, err
		}
	}
}

// drain submits end of stream and forwards output until the encoder
// confirms it.
func (o *Orchestrator) drain() error {
	if o.pending != nil {
		o.framesSkipped.Add(1)
		o.pending = nil
	}

	deadline := time.Now().Add(o.opts.DrainTimeout)
	queued := o.session.State() == encoder.StateEndOfStream

	for {
		if !queued {
			ok, err := o.session.SubmitInput(nil, o.timestamps.Next(), true)
			if err != nil {
				return fmt.Errorf("submitting end of stream: %w", err)
			}
			queued = ok
		}

		ev, err := o.session.PollOutput(o.opts.OutputPollTimeout)
		if err != nil {
			return err
		}
		if ev.Kind != encoder.EventNoData {
			eos, err := o.route(ev)
			if err != nil {
				return err
			}
			if eos {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return media.EncoderFault(fmt.Errorf("end of stream not reached within %s", o.opts.DrainTimeout))
		}
	}
}

// route handles one encoder event and reports end of stream.
func (o *Orchestrator) route(ev encoder.Event) (bool, error) {
	switch ev.Kind {
	case encoder.EventFormatReady:
		return false, o.startContainer(ev.Track)

	case encoder.EventSample:
		sample := ev.Sample
		if len(sample.Data) > 0 {
			if err := o.writer.WriteSample(o.trackIndex, sample); err != nil {
				return false, fmt.Errorf("writing sample pts=%d: %w", sample.PTS, err)
			}
			o.samplesWritten.Add(1)
			o.bytesWritten.Add(uint64(len(sample.Data)))
			if sample.IsKeyFrame() {
				o.keyFrames.Add(1)
			}
		}
		return sample.IsEndOfStream(), nil

	case encoder.EventFault:
		return false, media.EncoderFault(errors.New(ev.Reason))

	default:
		return false, nil
	}
}

func (o *Orchestrator) startContainer(track media.TrackDescriptor) error {
	index, err := o.writer.AddTrack(track)
	if err != nil {
		return fmt.Errorf("adding track: %w", err)
	}
	if err := o.writer.Start(); err != nil {
		return fmt.Errorf("starting container: %w", err)
	}
	o.track = &track
	o.trackIndex = index
	o.logger.Info("container started",
		slog.String("format", o.writer.Format()),
		slog.String("track", track.String()))
	return nil
}

// releaseAll releases the container, then the encoder. A container failure
// never prevents the encoder release. Only the first call does any work.
func (o *Orchestrator) releaseAll() error {
	if o.released {
		return nil
	}
	o.released = true

	var errs []error
	if err := o.writer.Release(); err != nil {
		o.logger.Error("releasing container", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := o.session.Release(); err != nil {
		o.logger.Error("releasing encoder", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	o.releaseErr = errors.Join(errs...)
	return o.releaseErr
}

func (o *Orchestrator) fill(result *Result, err error) {
	qs := o.queue.Stats()
	cs := o.writer.Stats()

	result.State = o.State()
	result.StoppedAt = time.Now()
	result.Duration = result.StoppedAt.Sub(result.StartedAt)
	result.FramesOffered = qs.Offered
	result.FramesDropped = qs.Dropped
	result.FramesConverted = o.framesConverted.Load()
	result.FramesSkipped = o.framesSkipped.Load()
	result.FramesSubmitted = o.framesSubmitted.Load()
	result.InputSlotMisses = o.slotMisses.Load()
	result.SamplesWritten = o.samplesWritten.Load()
	result.KeyFrames = o.keyFrames.Load()
	result.BytesWritten = o.bytesWritten.Load()
	result.MediaDuration = time.Duration(cs.DurationUs()) * time.Microsecond
	if o.track != nil {
		track := *o.track
		result.Track = &track
	}
	if err != nil {
		result.Err = err
		result.Error = err.Error()
	}
}

func (o *Orchestrator) logResult(result *Result) {
	attrs := []any{
		slog.String("state", result.State.String()),
		slog.String("reason", string(result.StopReason)),
		slog.Duration("duration", result.Duration),
		slog.Uint64("frames_offered", result.FramesOffered),
		slog.Uint64("frames_dropped", result.FramesDropped),
		slog.Uint64("frames_submitted", result.FramesSubmitted),
		slog.Uint64("input_slot_misses", result.InputSlotMisses),
		slog.Uint64("samples_written", result.SamplesWritten),
		slog.Uint64("bytes_written", result.BytesWritten),
	}
	if result.State == StateFailed {
		o.logger.Error("pipeline finished", append(attrs, slog.String("error", result.Error))...)
		return
	}
	o.logger.Info("pipeline finished", attrs...)
}
