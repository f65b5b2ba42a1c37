package encoder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/jmylchreest/camrec/internal/media"
)

// SyntheticOptions configures the in-process backend.
type SyntheticOptions struct {
	// InputSlots is the size of the input slot pool (default 4).
	InputSlots int
	// RepeatFormatAfter announces the output format again after this many
	// picture samples. Zero disables it.
	RepeatFormatAfter int
	// FailAfter makes DequeueOutput fail once this many picture samples were
	// produced. Zero disables it.
	FailAfter int
}

// SyntheticBackend is an in-process encoder producing lossless I_PCM H.264.
// Encoding happens synchronously in QueueInput, so DequeueOutput never
// blocks.
type SyntheticBackend struct {
	opts SyntheticOptions

	mu         sync.Mutex
	cfg        Config
	enc        *pcmEncoder
	started    bool
	closes     int
	inputs     [][]byte
	free       []int
	pending    []Output
	outputs    map[int][]byte
	nextOutput int
	formatSent bool
	pictures   int
	submitted  []int64
}

// NewSyntheticBackend creates a synthetic backend.
func NewSyntheticBackend(opts SyntheticOptions) *SyntheticBackend {
	if opts.InputSlots <= 0 {
		opts.InputSlots = 4
	}
	return &SyntheticBackend{
		opts:    opts,
		outputs: make(map[int][]byte),
	}
}

// Name implements Backend.
func (b *SyntheticBackend) Name() string {
	return "synthetic"
}

// Configure implements Backend.
func (b *SyntheticBackend) Configure(cfg Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cfg.Width > 4096 || cfg.Height > 2304 {
		return fmt.Errorf("%dx%d exceeds the synthetic encoder limit of 4096x2304", cfg.Width, cfg.Height)
	}
	b.cfg = cfg
	return nil
}

// Start implements Backend.
func (b *SyntheticBackend) Start(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return errors.New("already started")
	}
	b.enc = newPCMEncoder(b.cfg.Width, b.cfg.Height, b.cfg.FrameRate, b.cfg.GOPSize())

	b.inputs = make([][]byte, b.opts.InputSlots)
	b.free = make([]int, 0, b.opts.InputSlots)
	for i := range b.inputs {
		b.inputs[i] = make([]byte, b.cfg.InputSize())
		b.free = append(b.free, i)
	}
	b.started = true
	return nil
}

// DequeueInput implements Backend.
func (b *SyntheticBackend) DequeueInput(_ time.Duration) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return -1, errors.New("not started")
	}
	if len(b.free) == 0 {
		return -1, nil
	}
	index := b.free[0]
	b.free = b.free[1:]
	return index, nil
}

// InputBuffer implements Backend.
func (b *SyntheticBackend) InputBuffer(index int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inputs[index]
}

// QueueInput implements Backend.
func (b *SyntheticBackend) QueueInput(index, size int, pts int64, flags media.SampleFlags) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if index < 0 || index >= len(b.inputs) {
		return fmt.Errorf("input slot %d out of range", index)
	}
	b.free = append(b.free, index)

	if flags.Has(media.FlagEndOfStream) {
		b.pushBuffer(nil, pts, media.FlagEndOfStream)
		return nil
	}
	if size != b.cfg.InputSize() {
		return fmt.Errorf("input slot %d holds %d bytes, want %d", index, size, b.cfg.InputSize())
	}

	b.submitted = append(b.submitted, pts)

	if !b.formatSent {
		b.announceFormat()
	}

	nalu, key := b.enc.encode(b.inputs[index][:size])
	au, err := h264.AnnexB([][]byte{nalu}).Marshal()
	if err != nil {
		return fmt.Errorf("marshal access unit: %w", err)
	}

	var sampleFlags media.SampleFlags
	if key {
		sampleFlags = media.FlagKeyFrame
	}
	b.pushBuffer(au, pts, sampleFlags)
	b.pictures++

	if b.opts.RepeatFormatAfter > 0 && b.pictures == b.opts.RepeatFormatAfter {
		b.announceFormat()
	}
	return nil
}

func (b *SyntheticBackend) announceFormat() {
	sps, pps := b.enc.parameterSets()
	b.pending = append(b.pending, Output{
		Kind: OutputFormatChanged,
		Track: media.TrackDescriptor{
			Codec:     DefaultCodec,
			Width:     b.cfg.Width,
			Height:    b.cfg.Height,
			FrameRate: b.cfg.FrameRate,
			SPS:       sps,
			PPS:       pps,
		},
	})

	config, _ := h264.AnnexB([][]byte{sps, pps}).Marshal()
	b.pushBuffer(config, 0, media.FlagCodecConfig)
	b.formatSent = true
}

func (b *SyntheticBackend) pushBuffer(data []byte, pts int64, flags media.SampleFlags) {
	index := b.nextOutput
	b.nextOutput++
	b.outputs[index] = data
	b.pending = append(b.pending, Output{
		Kind:  OutputBuffer,
		Index: index,
		Size:  len(data),
		PTS:   pts,
		Flags: flags,
	})
}

// DequeueOutput implements Backend.
func (b *SyntheticBackend) DequeueOutput(_ time.Duration) (Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return Output{}, errors.New("not started")
	}
	if b.opts.FailAfter > 0 && b.pictures >= b.opts.FailAfter {
		return Output{}, errors.New("synthetic encoder fault")
	}
	if len(b.pending) == 0 {
		return Output{Kind: OutputTryAgain}, nil
	}
	out := b.pending[0]
	b.pending = b.pending[1:]
	return out, nil
}

// OutputBuffer implements Backend.
func (b *SyntheticBackend) OutputBuffer(index int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outputs[index]
}

// ReleaseOutput implements Backend.
func (b *SyntheticBackend) ReleaseOutput(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.outputs[index]; !ok {
		return fmt.Errorf("output slot %d not held", index)
	}
	delete(b.outputs, index)
	return nil
}

// Close implements Backend.
func (b *SyntheticBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closes++
	b.started = false
	b.pending = nil
	clear(b.outputs)
	return nil
}

// Submitted returns the presentation times of every picture queued so far.
func (b *SyntheticBackend) Submitted() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.submitted...)
}

// Closes returns how many times Close was called.
func (b *SyntheticBackend) Closes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}
