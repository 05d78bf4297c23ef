package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"rtcdemo/client/internal/domain"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const (
	maxWidth     = 4096
	maxHeight    = 2160
	maxFrameRate = 120
)

// ErrStopped is returned when writing to a stopped track.
var ErrStopped = errors.New("media stopped")

// Prompter asks the user for permission to use the capture devices.
// Returning an error denies access.
type Prompter interface {
	Prompt(ctx context.Context, constraints domain.MediaConstraints) error
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, constraints domain.MediaConstraints) error

func (f PrompterFunc) Prompt(ctx context.Context, c domain.MediaConstraints) error { return f(ctx, c) }

// Grant is a Prompter that always allows access.
var Grant = PrompterFunc(func(context.Context, domain.MediaConstraints) error { return nil })

// Deny is a Prompter that always refuses access.
var Deny = PrompterFunc(func(context.Context, domain.MediaConstraints) error {
	return errors.New("permission denied")
})

// Acquirer hands out local capture tracks.
type Acquirer struct {
	prompter Prompter
}

// NewAcquirer creates an Acquirer that consults p before every acquisition.
func NewAcquirer(p Prompter) *Acquirer {
	if p == nil {
		p = Grant
	}
	return &Acquirer{prompter: p}
}

// Acquire prompts once for permission, validates the constraints and returns
// the local tracks. It has no timeout of its own; it returns when the prompt
// is answered or ctx is done.
func (a *Acquirer) Acquire(ctx context.Context, c domain.MediaConstraints) (domain.LocalMedia, error) {
	if err := validate(c); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaAccess, err)
	}
	if err := a.prompter.Prompt(ctx, c); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaAccess, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaAccess, err)
	}

	stream := uuid.NewString()
	lm := &LocalMedia{streamID: stream}

	if c.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio-"+uuid.NewString(), stream,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: audio track: %v", domain.ErrMediaAccess, err)
		}
		lm.audio = track
		log.Info().Str("module", "media").Str("device", c.AudioLabel).Msg("using audio device")
	}
	if c.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video-"+uuid.NewString(), stream,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: video track: %v", domain.ErrMediaAccess, err)
		}
		lm.video = track
		log.Info().Str("module", "media").Str("device", c.VideoLabel).
			Int("width", c.Width).Int("height", c.Height).Int("framerate", c.FrameRate).
			Msg("using video device")
	}
	return lm, nil
}

func validate(c domain.MediaConstraints) error {
	if !c.Audio && !c.Video {
		return errors.New("no media kind requested")
	}
	if !c.Video {
		return nil
	}
	if c.Width <= 0 || c.Height <= 0 || c.FrameRate <= 0 {
		return fmt.Errorf("video constraints unsatisfiable: %dx%d@%d", c.Width, c.Height, c.FrameRate)
	}
	if c.Width > maxWidth || c.Height > maxHeight || c.FrameRate > maxFrameRate {
		return fmt.Errorf("video constraints unsatisfiable: %dx%d@%d exceeds %dx%d@%d",
			c.Width, c.Height, c.FrameRate, maxWidth, maxHeight, maxFrameRate)
	}
	return nil
}

// LocalMedia owns the audio and video capture tracks of one call.
type LocalMedia struct {
	streamID string
	audio    *webrtc.TrackLocalStaticSample
	video    *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	stopped bool
}

// StreamID is the id shared by every track of this media.
func (m *LocalMedia) StreamID() string { return m.streamID }

// Tracks returns the audio track (if any) followed by the video track (if any).
func (m *LocalMedia) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	if m.audio != nil {
		tracks = append(tracks, m.audio)
	}
	if m.video != nil {
		tracks = append(tracks, m.video)
	}
	return tracks
}

// WriteSample feeds one captured sample of the given kind.
func (m *LocalMedia) WriteSample(kind webrtc.RTPCodecType, s pionmedia.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}

	var track *webrtc.TrackLocalStaticSample
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		track = m.audio
	case webrtc.RTPCodecTypeVideo:
		track = m.video
	}
	if track == nil {
		return fmt.Errorf("no %s track", kind)
	}
	return track.WriteSample(s)
}

// Stop ends capture on every track.
func (m *LocalMedia) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	log.Debug().Str("module", "media").Str("stream", m.streamID).Msg("tracks stopped")
}

// Stopped reports whether Stop has been called.
func (m *LocalMedia) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}
