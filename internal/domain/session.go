package domain

// SessionID is the opaque, server-issued identifier that correlates the
// signaling requests of one call attempt. The empty value is an anonymous
// session, used with servers that do not issue identifiers.
type SessionID string

// State is a step of the call lifecycle.
type State int

const (
	StateIdle State = iota
	StateMediaAcquired
	StateConnectionCreated
	StateOfferCreated
	StateLocalDescriptionSet
	StateAwaitingAnswer
	StateRemoteDescriptionSet
	StateActive
	StateClosed
)

var stateNames = [...]string{
	StateIdle:                 "idle",
	StateMediaAcquired:        "media-acquired",
	StateConnectionCreated:    "connection-created",
	StateOfferCreated:         "offer-created",
	StateLocalDescriptionSet:  "local-description-set",
	StateAwaitingAnswer:       "awaiting-answer",
	StateRemoteDescriptionSet: "remote-description-set",
	StateActive:               "active",
	StateClosed:               "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateClosed
}

// ConnectivityState mirrors the peer connection state names.
type ConnectivityState string

const (
	ConnectivityNew          ConnectivityState = "new"
	ConnectivityConnecting   ConnectivityState = "connecting"
	ConnectivityConnected    ConnectivityState = "connected"
	ConnectivityDisconnected ConnectivityState = "disconnected"
	ConnectivityFailed       ConnectivityState = "failed"
	ConnectivityClosed       ConnectivityState = "closed"
)

// SignalingState mirrors the peer connection signaling state names.
type SignalingState string

const (
	SignalingStable          SignalingState = "stable"
	SignalingHaveLocalOffer  SignalingState = "have-local-offer"
	SignalingHaveRemoteOffer SignalingState = "have-remote-offer"
	SignalingClosed          SignalingState = "closed"
)

// Controls is the enabled state of the two UI buttons.
type Controls struct {
	Start bool `json:"start"`
	Stop  bool `json:"stop"`
}
