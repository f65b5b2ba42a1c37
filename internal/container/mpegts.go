package container

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/camrec/internal/media"
)

const tsVideoPID = 0x0100

// TSMuxer writes an MPEG transport stream with one H.264 track.
type TSMuxer struct {
	w      io.Writer
	logger *slog.Logger

	writer *mpegts.Writer
	track  *mpegts.Track
	sps    []byte
	pps    []byte
}

// NewTSMuxer creates an MPEG-TS muxer writing to w. Packets go straight to w,
// so file outputs should be buffered. If w is an io.Closer it is closed by
// Close.
func NewTSMuxer(w io.Writer, logger *slog.Logger) *TSMuxer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TSMuxer{
		w:      w,
		logger: logger,
	}
}

// Format implements Muxer.
func (m *TSMuxer) Format() string {
	return string(FormatMPEGTS)
}

// AddTrack implements Muxer.
func (m *TSMuxer) AddTrack(track media.TrackDescriptor) (int, error) {
	if track.Codec != "h264" {
		return -1, fmt.Errorf("unsupported video codec: %s", track.Codec)
	}
	m.track = &mpegts.Track{
		PID:   tsVideoPID,
		Codec: &mpegts.CodecH264{},
	}
	m.sps = track.SPS
	m.pps = track.PPS
	return 0, nil
}

// Start implements Muxer.
func (m *TSMuxer) Start() error {
	if m.track == nil {
		return fmt.Errorf("no track")
	}
	m.writer = &mpegts.Writer{
		W:      m.w,
		Tracks: []*mpegts.Track{m.track},
	}
	if err := m.writer.Initialize(); err != nil {
		return fmt.Errorf("initializing mpegts writer: %w", err)
	}
	m.logger.Debug("MPEG-TS muxer initialized", slog.Int("pid", tsVideoPID))
	return nil
}

// WriteSample implements Muxer. Key frames always carry SPS and PPS.
func (m *TSMuxer) WriteSample(_ int, sample media.EncodedSample) error {
	au := accessUnit(sample.Data)
	if len(au) == 0 {
		return nil
	}
	if sample.IsKeyFrame() {
		au = withParameterSets(au, m.sps, m.pps)
	}
	pts := ticks90k(sample.PTS)
	return m.writer.WriteH264(m.track, pts, pts, au)
}

// Stop implements Muxer. Every packet is already written, so there is no
// trailer to emit.
func (m *TSMuxer) Stop() error {
	return nil
}

// Close implements Muxer.
func (m *TSMuxer) Close() error {
	if c, ok := m.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
