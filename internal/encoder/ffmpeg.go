package encoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/jmylchreest/camrec/internal/ffmpeg"
	"github.com/jmylchreest/camrec/internal/media"
)

// FFmpegOptions configures the FFmpeg subprocess backend.
type FFmpegOptions struct {
	// Binary is the ffmpeg path. Empty uses the detector's search order.
	Binary string
	// Codec is the FFmpeg encoder name (libx264, h264_vaapi, h264_nvenc, ...).
	Codec  string
	Preset string
	Tune   string
	// HWAccel and HWDevice select a hardware device for the upload filter.
	HWAccel  string
	HWDevice string
	// InputSlots is the size of the input slot pool (default 4).
	InputSlots int
	// ExtraOutputOptions are appended to the encoder arguments.
	ExtraOutputOptions string
	// UsageInterval enables process sampling when positive.
	UsageInterval time.Duration
}

type inputJob struct {
	index int
	size  int
	eos   bool
}

// FFmpegBackend encodes NV12 frames by piping them through an FFmpeg child
// process that writes an H.264 Annex-B stream to stdout.
type FFmpegBackend struct {
	opts     FFmpegOptions
	detector *ffmpeg.BinaryDetector
	logger   *slog.Logger

	cfg    Config
	binary string
	cmd    *ffmpeg.Command
	ctx    context.Context
	cancel context.CancelFunc

	slots [][]byte
	free  chan int
	jobs  chan inputJob
	outCh chan Output

	wg         sync.WaitGroup
	closed     bool
	jobsClosed bool

	ptsMu   sync.Mutex
	ptsFIFO []int64
	lastPTS int64

	outMu      sync.Mutex
	outputs    map[int][]byte
	nextOutput int

	errMu sync.Mutex
	err   error
}

// NewFFmpegBackend creates an FFmpeg backend. detector may be nil, in which
// case encoder availability is not checked.
func NewFFmpegBackend(opts FFmpegOptions, detector *ffmpeg.BinaryDetector, logger *slog.Logger) *FFmpegBackend {
	if opts.InputSlots <= 0 {
		opts.InputSlots = 4
	}
	if opts.Codec == "" {
		opts.Codec = "libx264"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegBackend{
		opts:     opts,
		detector: detector,
		logger:   logger,
		outputs:  make(map[int][]byte),
	}
}

// Name implements Backend.
func (b *FFmpegBackend) Name() string {
	return "ffmpeg:" + b.opts.Codec
}

// Configure implements Backend. It resolves the binary and checks that the
// configured encoder is available.
func (b *FFmpegBackend) Configure(cfg Config) error {
	b.cfg = cfg
	b.binary = b.opts.Binary

	if b.detector == nil {
		if b.binary == "" {
			path, err := ffmpeg.LookupBinary("ffmpeg", ffmpeg.BinaryEnvVar)
			if err != nil {
				return err
			}
			b.binary = path
		}
		return nil
	}

	info, err := b.detector.Detect(context.Background())
	if err != nil {
		return fmt.Errorf("detecting ffmpeg: %w", err)
	}
	if b.binary == "" {
		b.binary = info.Path
	}
	if !info.HasEncoder(b.opts.Codec) {
		return fmt.Errorf("ffmpeg %s has no %s encoder", info.Version, b.opts.Codec)
	}
	if b.opts.HWAccel != "" && b.opts.HWAccel != "none" && b.opts.HWAccel != "auto" && !info.HasHWAccel(b.opts.HWAccel) {
		return fmt.Errorf("ffmpeg %s has no %s hardware acceleration", info.Version, b.opts.HWAccel)
	}
	return nil
}

func (b *FFmpegBackend) buildCommand() *ffmpeg.Command {
	builder := ffmpeg.NewCommandBuilder(b.binary).
		HideBanner().
		NoStats().
		Logger(b.logger).
		SampleUsage(b.opts.UsageInterval).
		InitHWDevice(b.opts.HWAccel, b.opts.HWDevice).
		RawVideoInput(media.LayoutNV12.FFmpegPixFmt(), b.cfg.Width, b.cfg.Height, b.cfg.FrameRate).
		Input(ffmpeg.PipeStdin).
		HWUploadFilter(b.opts.HWAccel).
		VideoCodec(b.opts.Codec).
		VideoBitrate(b.cfg.Bitrate).
		GOPSize(b.cfg.GOPSize()).
		NoBFrames().
		VideoPreset(b.opts.Preset)

	if b.opts.Codec == "libx264" {
		builder.Tune(b.opts.Tune)
	}

	return builder.
		ExtraOutputArgs(b.opts.ExtraOutputOptions).
		OutputFormat("h264").
		Output(ffmpeg.PipeStdout).
		Build()
}

// Start implements Backend.
func (b *FFmpegBackend) Start(ctx context.Context) error {
	if b.cmd != nil {
		return errors.New("already started")
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	cmd := b.buildCommand()
	b.logger.Debug("starting ffmpeg encoder", slog.String("command", cmd.String()))

	pipes, err := cmd.Start(b.ctx)
	if err != nil {
		b.cancel()
		return err
	}
	b.cmd = cmd

	b.slots = make([][]byte, b.opts.InputSlots)
	b.free = make(chan int, b.opts.InputSlots)
	for i := range b.slots {
		b.slots[i] = make([]byte, b.cfg.InputSize())
		b.free <- i
	}
	b.jobs = make(chan inputJob, b.opts.InputSlots+1)
	b.outCh = make(chan Output, 64)

	b.wg.Add(2)
	go b.writeLoop(pipes.Stdin)
	go b.readLoop(pipes.Stdout)

	return nil
}

// writeLoop copies queued input slots to FFmpeg's stdin and recycles them.
func (b *FFmpegBackend) writeLoop(stdin io.WriteCloser) {
	defer b.wg.Done()
	defer stdin.Close()

	for job := range b.jobs {
		if job.eos {
			b.free <- job.index
			return
		}
		_, err := stdin.Write(b.slots[job.index][:job.size])
		b.free <- job.index
		if err != nil {
			b.setErr(fmt.Errorf("writing frame to ffmpeg: %w", err))
			return
		}
	}
}

// readLoop splits FFmpeg's stdout into access units and publishes them,
// followed by an end-of-stream buffer once FFmpeg exits cleanly.
func (b *FFmpegBackend) readLoop(stdout io.Reader) {
	defer b.wg.Done()
	defer close(b.outCh)

	completed, scanErr := b.scan(stdout)
	if !completed {
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := b.cmd.Wait()

	if !completed || b.ctx.Err() != nil {
		return
	}
	if scanErr != nil {
		b.setErr(fmt.Errorf("reading ffmpeg output: %w", scanErr))
		return
	}
	if waitErr != nil {
		b.setErr(fmt.Errorf("ffmpeg exited: %w", waitErr))
		return
	}

	b.ptsMu.Lock()
	last := b.lastPTS
	b.ptsMu.Unlock()
	b.send(b.holdOutput(nil, last, media.FlagEndOfStream))
}

// scan publishes every access unit read from stdout. It returns false when
// publishing was aborted.
func (b *FFmpegBackend) scan(stdout io.Reader) (bool, error) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)
	scanner.Split(splitNALU)

	var assembler auAssembler
	var sps, pps []byte
	formatSent := false

	emit := func(au [][]byte) bool {
		info := inspectAccessUnit(au)
		if info.sps != nil {
			sps = info.sps
		}
		if info.pps != nil {
			pps = info.pps
		}

		if !formatSent && sps != nil && pps != nil {
			track, err := trackFromParameterSets(sps, pps, b.cfg.FrameRate)
			if err != nil {
				b.setErr(err)
				return false
			}
			if !b.send(Output{Kind: OutputFormatChanged, Track: track}) {
				return false
			}
			config, _ := h264.AnnexB([][]byte{sps, pps}).Marshal()
			if !b.send(b.holdOutput(config, 0, media.FlagCodecConfig)) {
				return false
			}
			formatSent = true
		}

		if len(info.picture) == 0 {
			return true
		}
		data, err := h264.AnnexB(info.picture).Marshal()
		if err != nil {
			b.setErr(fmt.Errorf("marshal access unit: %w", err))
			return false
		}
		var flags media.SampleFlags
		if info.key {
			flags = media.FlagKeyFrame
		}
		return b.send(b.holdOutput(data, b.popPTS(), flags))
	}

	for scanner.Scan() {
		if au := assembler.push(scanner.Bytes()); au != nil {
			if !emit(au) {
				return false, nil
			}
		}
	}
	if au := assembler.flush(); au != nil {
		if !emit(au) {
			return false, nil
		}
	}
	return true, scanner.Err()
}

func trackFromParameterSets(sps, pps []byte, frameRate int) (media.TrackDescriptor, error) {
	var parsed h264.SPS
	if err := parsed.Unmarshal(sps); err != nil {
		return media.TrackDescriptor{}, fmt.Errorf("parsing encoder SPS: %w", err)
	}
	return media.TrackDescriptor{
		Codec:     DefaultCodec,
		Width:     parsed.Width(),
		Height:    parsed.Height(),
		FrameRate: frameRate,
		SPS:       sps,
		PPS:       pps,
	}, nil
}

func (b *FFmpegBackend) send(out Output) bool {
	select {
	case b.outCh <- out:
		return true
	case <-b.ctx.Done():
		return false
	}
}

func (b *FFmpegBackend) holdOutput(data []byte, pts int64, flags media.SampleFlags) Output {
	b.outMu.Lock()
	defer b.outMu.Unlock()

	index := b.nextOutput
	b.nextOutput++
	b.outputs[index] = data
	return Output{Kind: OutputBuffer, Index: index, Size: len(data), PTS: pts, Flags: flags}
}

// popPTS matches encoded pictures to submitted inputs in order. B-frames are
// disabled, so output order equals input order.
func (b *FFmpegBackend) popPTS() int64 {
	b.ptsMu.Lock()
	defer b.ptsMu.Unlock()

	if len(b.ptsFIFO) == 0 {
		b.lastPTS += FrameDuration(b.cfg.FrameRate)
		return b.lastPTS
	}
	pts := b.ptsFIFO[0]
	b.ptsFIFO = b.ptsFIFO[1:]
	b.lastPTS = pts
	return pts
}

func (b *FFmpegBackend) setErr(err error) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	if b.err == nil {
		b.err = err
		b.logger.Error("ffmpeg encoder failed",
			slog.String("error", err.Error()),
			slog.Any("stderr", b.cmd.StderrLines()))
	}
}

func (b *FFmpegBackend) failure() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

// DequeueInput implements Backend.
func (b *FFmpegBackend) DequeueInput(timeout time.Duration) (int, error) {
	if err := b.failure(); err != nil {
		return -1, err
	}
	if b.closed || b.free == nil {
		return -1, errors.New("not started")
	}

	select {
	case index := <-b.free:
		return index, nil
	default:
	}
	if timeout <= 0 {
		return -1, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case index := <-b.free:
		return index, nil
	case <-timer.C:
		return -1, nil
	}
}

// InputBuffer implements Backend.
func (b *FFmpegBackend) InputBuffer(index int) []byte {
	return b.slots[index]
}

// QueueInput implements Backend.
func (b *FFmpegBackend) QueueInput(index, size int, pts int64, flags media.SampleFlags) error {
	if b.closed || b.jobsClosed {
		return errors.New("input closed")
	}
	if index < 0 || index >= len(b.slots) {
		return fmt.Errorf("input slot %d out of range", index)
	}

	eos := flags.Has(media.FlagEndOfStream)
	if !eos {
		b.ptsMu.Lock()
		b.ptsFIFO = append(b.ptsFIFO, pts)
		b.ptsMu.Unlock()
	}

	select {
	case b.jobs <- inputJob{index: index, size: size, eos: eos}:
	default:
		// Every slot is accounted for, so the channel never fills.
		return fmt.Errorf("input queue full")
	}
	if eos {
		b.jobsClosed = true
		close(b.jobs)
	}
	return nil
}

// DequeueOutput implements Backend.
func (b *FFmpegBackend) DequeueOutput(timeout time.Duration) (Output, error) {
	if b.outCh == nil {
		return Output{}, errors.New("not started")
	}

	select {
	case out, ok := <-b.outCh:
		if !ok {
			return Output{Kind: OutputTryAgain}, b.failure()
		}
		return out, nil
	default:
	}
	if timeout <= 0 {
		return Output{Kind: OutputTryAgain}, b.failure()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out, ok := <-b.outCh:
		if !ok {
			return Output{Kind: OutputTryAgain}, b.failure()
		}
		return out, nil
	case <-timer.C:
		return Output{Kind: OutputTryAgain}, b.failure()
	}
}

// OutputBuffer implements Backend.
func (b *FFmpegBackend) OutputBuffer(index int) []byte {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	return b.outputs[index]
}

// ReleaseOutput implements Backend.
func (b *FFmpegBackend) ReleaseOutput(index int) error {
	b.outMu.Lock()
	defer b.outMu.Unlock()

	if _, ok := b.outputs[index]; !ok {
		return fmt.Errorf("output slot %d not held", index)
	}
	delete(b.outputs, index)
	return nil
}

// Close implements Backend. It interrupts FFmpeg if it is still running and
// waits for the pipe goroutines to exit.
func (b *FFmpegBackend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	if b.cmd == nil {
		return nil
	}

	b.cancel()
	if !b.jobsClosed {
		b.jobsClosed = true
		close(b.jobs)
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		_ = b.cmd.Kill()
		<-done
	}

	if u, ok := b.cmd.Usage(); ok {
		b.logger.Debug("ffmpeg encoder usage",
			slog.Int("pid", u.PID),
			slog.Float64("peak_cpu_percent", u.PeakCPUPercent),
			slog.Duration("cpu_time", u.CPUTime),
			slog.Uint64("peak_rss_bytes", u.PeakRSSBytes),
			slog.Uint64("bytes_in", u.BytesIn),
			slog.Uint64("bytes_out", u.BytesOut),
			slog.Float64("compression_ratio", u.CompressionRatio()))
	}
	return nil
}
