package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"rtcdemo/client/internal/domain"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

func defaultConstraints() domain.MediaConstraints {
	return domain.MediaConstraints{Audio: true, Video: true, Width: 640, Height: 480, FrameRate: 30}
}

func TestAcquire_Granted(t *testing.T) {
	prompts := 0
	a := NewAcquirer(PrompterFunc(func(context.Context, domain.MediaConstraints) error {
		prompts++
		return nil
	}))

	lm, err := a.Acquire(context.Background(), defaultConstraints())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if prompts != 1 {
		t.Errorf("expected exactly one prompt, got %d", prompts)
	}

	tracks := lm.Tracks()
	if len(tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(tracks))
	}
	if tracks[0].Kind() != webrtc.RTPCodecTypeAudio || tracks[1].Kind() != webrtc.RTPCodecTypeVideo {
		t.Errorf("unexpected track kinds %s, %s", tracks[0].Kind(), tracks[1].Kind())
	}
	if tracks[0].StreamID() != tracks[1].StreamID() {
		t.Error("expected tracks to share a stream id")
	}
}

func TestAcquire_AudioOnly(t *testing.T) {
	lm, err := NewAcquirer(nil).Acquire(context.Background(), domain.MediaConstraints{Audio: true})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if n := len(lm.Tracks()); n != 1 {
		t.Fatalf("expected 1 track, got %d", n)
	}
	if err := lm.(*LocalMedia).WriteSample(webrtc.RTPCodecTypeVideo, pionmedia.Sample{Data: []byte{1}, Duration: time.Millisecond}); err == nil {
		t.Error("expected error writing to missing video track")
	}
}

func TestAcquire_Denied(t *testing.T) {
	_, err := NewAcquirer(Deny).Acquire(context.Background(), defaultConstraints())
	if !errors.Is(err, domain.ErrMediaAccess) {
		t.Fatalf("expected ErrMediaAccess, got %v", err)
	}
}

func TestAcquire_UnsatisfiableConstraints(t *testing.T) {
	tests := []struct {
		name string
		c    domain.MediaConstraints
	}{
		{"nothing requested", domain.MediaConstraints{}},
		{"zero framerate", domain.MediaConstraints{Video: true, Width: 640, Height: 480}},
		{"too large", domain.MediaConstraints{Video: true, Width: 8192, Height: 4320, FrameRate: 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompted := false
			a := NewAcquirer(PrompterFunc(func(context.Context, domain.MediaConstraints) error {
				prompted = true
				return nil
			}))
			_, err := a.Acquire(context.Background(), tt.c)
			if !errors.Is(err, domain.ErrMediaAccess) {
				t.Fatalf("expected ErrMediaAccess, got %v", err)
			}
			if prompted {
				t.Error("expected no prompt for invalid constraints")
			}
		})
	}
}

func TestAcquire_CancelledWhilePrompting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := NewAcquirer(PrompterFunc(func(ctx context.Context, _ domain.MediaConstraints) error {
		cancel()
		<-ctx.Done()
		return nil
	}))

	_, err := a.Acquire(ctx, defaultConstraints())
	if !errors.Is(err, domain.ErrMediaAccess) {
		t.Fatalf("expected ErrMediaAccess, got %v", err)
	}
}

func TestLocalMedia_StopIsIdempotent(t *testing.T) {
	got, err := NewAcquirer(Grant).Acquire(context.Background(), defaultConstraints())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lm := got.(*LocalMedia)

	lm.Stop()
	lm.Stop()

	if !lm.Stopped() {
		t.Error("expected media to be stopped")
	}
	err = lm.WriteSample(webrtc.RTPCodecTypeAudio, pionmedia.Sample{Data: []byte{1}, Duration: 20 * time.Millisecond})
	if !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}
