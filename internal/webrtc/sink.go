package webrtc

import (
	"context"
	"io"
	"strings"
	"sync"

	"rtcdemo/client/internal/domain"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// H264Sink writes received H264 video to w as an Annex-B byte stream.
// Video tracks using another codec are drained.
type H264Sink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewH264Sink creates a video sink writing to w.
func NewH264Sink(w io.Writer) *H264Sink {
	return &H264Sink{w: w}
}

func (s *H264Sink) Kind() pion.RTPCodecType { return pion.RTPCodecTypeVideo }

func (s *H264Sink) Attach(ctx context.Context, track domain.RemoteTrack) {
	if !strings.EqualFold(track.Codec().MimeType, pion.MimeTypeH264) {
		log.Warn().Str("module", "webrtc").Str("codec", track.Codec().MimeType).Msg("video codec not written, draining")
		go drain(ctx, track)
		return
	}
	go s.readVideoTrack(ctx, track)
}

func (s *H264Sink) readVideoTrack(ctx context.Context, track domain.RemoteTrack) {
	log.Info().Str("module", "webrtc").Str("track_id", track.ID()).Msg("reading H264 video track")

	depack := NewH264Depacketizer()
	for ctx.Err() == nil {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "webrtc").Msg("video track ended")
			return
		}

		for _, nalu := range depack.Depacketize(pkt.SequenceNumber, pkt.Payload) {
			if len(nalu) == 0 {
				continue
			}
			if err := s.write(nalu); err != nil {
				log.Error().Err(err).Str("module", "webrtc").Msg("write video")
				return
			}
		}
	}
}

func (s *H264Sink) write(nalu []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(startCode); err != nil {
		return err
	}
	_, err := s.w.Write(nalu)
	return err
}

// DrainSink reads and discards remote media of one kind.
type DrainSink struct {
	kind pion.RTPCodecType
}

// NewDrainSink creates a sink discarding tracks of the given kind.
func NewDrainSink(kind pion.RTPCodecType) *DrainSink {
	return &DrainSink{kind: kind}
}

func (s *DrainSink) Kind() pion.RTPCodecType { return s.kind }

func (s *DrainSink) Attach(ctx context.Context, track domain.RemoteTrack) {
	go drain(ctx, track)
}

func drain(ctx context.Context, track domain.RemoteTrack) {
	for ctx.Err() == nil {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}
