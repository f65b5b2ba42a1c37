package container

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/jmylchreest/camrec/internal/media"
)

const (
	videoTrackID   = 1
	videoTimeScale = 90000

	// DefaultMaxFragmentDuration bounds a fragment when key frames are sparse.
	DefaultMaxFragmentDuration = 2 * time.Second
)

// FMP4Options configures the fragmented MP4 muxer.
type FMP4Options struct {
	MaxFragmentDuration time.Duration
	Logger              *slog.Logger
}

// FMP4Muxer writes a fragmented MP4 file: an init segment on Start, then one
// moof/mdat fragment per GOP (or per MaxFragmentDuration).
type FMP4Muxer struct {
	w      io.Writer
	opts   FMP4Options
	logger *slog.Logger

	track    media.TrackDescriptor
	hasTrack bool

	sequenceNumber  uint32
	baseTime        uint64
	fragment        []*fmp4.Sample
	fragmentTicks   uint64
	pending         *fmp4.Sample
	pendingPTS      int64
	defaultDuration uint32
	fragments       int
}

// NewFMP4Muxer creates a fragmented MP4 muxer writing to w. If w is an
// io.Closer it is closed by Close.
func NewFMP4Muxer(w io.Writer, opts FMP4Options) *FMP4Muxer {
	if opts.MaxFragmentDuration <= 0 {
		opts.MaxFragmentDuration = DefaultMaxFragmentDuration
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &FMP4Muxer{
		w:              w,
		opts:           opts,
		logger:         opts.Logger,
		sequenceNumber: 1,
	}
}

// Format implements Muxer.
func (m *FMP4Muxer) Format() string {
	return string(FormatMP4)
}

// AddTrack implements Muxer.
func (m *FMP4Muxer) AddTrack(track media.TrackDescriptor) (int, error) {
	if track.Codec != "h264" {
		return -1, fmt.Errorf("unsupported video codec: %s", track.Codec)
	}
	if len(track.SPS) == 0 || len(track.PPS) == 0 {
		return -1, fmt.Errorf("H.264 SPS/PPS not available")
	}
	m.track = track
	m.hasTrack = true

	m.defaultDuration = videoTimeScale / 30
	if track.FrameRate > 0 {
		m.defaultDuration = uint32(videoTimeScale / track.FrameRate)
	}
	return 0, nil
}

// Start implements Muxer by writing the init segment.
func (m *FMP4Muxer) Start() error {
	if !m.hasTrack {
		return fmt.Errorf("no track")
	}

	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        videoTrackID,
			TimeScale: videoTimeScale,
			Codec: &mp4.CodecH264{
				SPS: m.track.SPS,
				PPS: m.track.PPS,
			},
		}},
	}

	var buf bytes.Buffer
	if err := init.Marshal(&seekableBuffer{Buffer: &buf}); err != nil {
		return fmt.Errorf("marshaling init segment: %w", err)
	}
	_, err := m.w.Write(buf.Bytes())
	return err
}

// WriteSample implements Muxer. Samples are held back by one so each one's
// duration is the distance to its successor.
func (m *FMP4Muxer) WriteSample(_ int, sample media.EncodedSample) error {
	au := stripParameterSets(accessUnit(sample.Data))
	if len(au) == 0 {
		return nil
	}

	next := &fmp4.Sample{}
	if err := next.FillH264(0, au); err != nil {
		return fmt.Errorf("building sample: %w", err)
	}
	next.IsNonSyncSample = !sample.IsKeyFrame()

	if m.pending != nil {
		duration := ticks90k(sample.PTS) - ticks90k(m.pendingPTS)
		if duration <= 0 {
			duration = int64(m.defaultDuration)
		}
		m.pending.Duration = uint32(duration)
		m.fragment = append(m.fragment, m.pending)
		m.fragmentTicks += uint64(duration)

		maxTicks := uint64(m.opts.MaxFragmentDuration.Seconds() * videoTimeScale)
		if sample.IsKeyFrame() || m.fragmentTicks >= maxTicks {
			if err := m.flushFragment(); err != nil {
				return err
			}
		}
	}

	m.pending = next
	m.pendingPTS = sample.PTS
	return nil
}

func (m *FMP4Muxer) flushFragment() error {
	if len(m.fragment) == 0 {
		return nil
	}

	part := &fmp4.Part{
		SequenceNumber: m.sequenceNumber,
		Tracks: []*fmp4.PartTrack{{
			ID:       videoTrackID,
			BaseTime: m.baseTime,
			Samples:  m.fragment,
		}},
	}

	var buf bytes.Buffer
	if err := part.Marshal(&seekableBuffer{Buffer: &buf}); err != nil {
		return fmt.Errorf("marshaling fragment %d: %w", m.sequenceNumber, err)
	}
	if _, err := m.w.Write(buf.Bytes()); err != nil {
		return err
	}

	m.logger.Debug("fmp4 fragment written",
		slog.Uint64("sequence", uint64(m.sequenceNumber)),
		slog.Int("samples", len(m.fragment)),
		slog.Int("bytes", buf.Len()))

	m.baseTime += m.fragmentTicks
	m.sequenceNumber++
	m.fragments++
	m.fragment = nil
	m.fragmentTicks = 0
	return nil
}

// Stop implements Muxer by writing the final fragment.
func (m *FMP4Muxer) Stop() error {
	if m.pending != nil {
		m.pending.Duration = m.defaultDuration
		m.fragment = append(m.fragment, m.pending)
		m.fragmentTicks += uint64(m.defaultDuration)
		m.pending = nil
	}
	return m.flushFragment()
}

// Close implements Muxer.
func (m *FMP4Muxer) Close() error {
	if c, ok := m.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Fragments returns the number of fragments written.
func (m *FMP4Muxer) Fragments() int {
	return m.fragments
}

// seekableBuffer wraps bytes.Buffer to provide io.WriteSeeker.
type seekableBuffer struct {
	*bytes.Buffer
	pos int64
}

func (s *seekableBuffer) Write(p []byte) (n int, err error) {
	if int(s.pos) > s.Buffer.Len() {
		s.Buffer.Write(make([]byte, int(s.pos)-s.Buffer.Len()))
	}

	if int(s.pos) == s.Buffer.Len() {
		n, err = s.Buffer.Write(p)
	} else {
		// overwrite in place, growing at the end if needed
		b := s.Buffer.Bytes()
		n = copy(b[s.pos:], p)
		if n < len(p) {
			m, err := s.Buffer.Write(p[n:])
			if err != nil {
				return n, err
			}
			n += m
		}
	}
	s.pos += int64(n)
	return n, err
}

func (s *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = int64(s.Buffer.Len()) + offset
	default:
		return 0, fmt.Errorf("invalid whence")
	}
	if newPos < 0 {
		return 0, fmt.Errorf("negative position")
	}
	s.pos = newPos
	return newPos, nil
}
