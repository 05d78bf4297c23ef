package domain

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// MediaAcquirer requests the local capture devices.
type MediaAcquirer interface {
	Acquire(ctx context.Context, constraints MediaConstraints) (LocalMedia, error)
}

// LocalMedia owns the local capture tracks for the duration of a call.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	// Stop stops every track. Safe to call more than once.
	Stop()
}

// Signaler performs the HTTP exchange with the signaling server.
type Signaler interface {
	Connect(ctx context.Context) (SessionID, error)
	SendCandidate(ctx context.Context, sid SessionID, candidate Candidate) error
	ExchangeSDP(ctx context.Context, sid SessionID, offer SessionDescription) (SessionDescription, error)
	Disconnect(ctx context.Context, sid SessionID) error
}

// RemoteTrack is a track received from the remote peer.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Connection manages the WebRTC peer connection of one call attempt.
//
// Each On* subscription receives its events in emission order, one at a
// time, on a goroutine owned by the connection.
type Connection interface {
	AddTracks(tracks []webrtc.TrackLocal) error
	CreateOffer(opts OfferOptions) (SessionDescription, error)
	SetLocalDescription(desc SessionDescription) error
	SetRemoteDescription(desc SessionDescription) error
	// LocalDescription returns the current local description, including
	// every candidate gathered so far.
	LocalDescription() (SessionDescription, bool)

	OnCandidate(fn func(Candidate))
	OnRemoteTrack(fn func(RemoteTrack))
	OnConnectivityState(fn func(ConnectivityState))
	OnSignalingState(fn func(SignalingState))

	// Close releases all resources. Safe to call more than once.
	Close() error
}

// ConnectionFactory creates a fresh Connection for each call attempt.
type ConnectionFactory interface {
	NewConnection() (Connection, error)
}

// MediaSink renders one kind of remote media.
type MediaSink interface {
	Kind() webrtc.RTPCodecType
	// Attach hands a remote track to the sink. The sink stops consuming
	// it when ctx is done or the track ends.
	Attach(ctx context.Context, track RemoteTrack)
}

// Observer receives call state updates for the UI.
type Observer interface {
	StateChanged(state State)
	ControlsChanged(controls Controls)
	StreamAttached(kind webrtc.RTPCodecType, streamID string)
	CallFailed(err error)
}
