package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMediaAccess covers permission denied, device unavailable and
	// unsatisfiable constraints.
	ErrMediaAccess = errors.New("media access")

	ErrSdpCreation = errors.New("sdp creation")

	// ErrSdpApply is returned when a local or remote description cannot be applied.
	ErrSdpApply = errors.New("sdp apply")

	// ErrSignalingTransport is a non-success response or malformed payload
	// from the signaling server.
	ErrSignalingTransport = errors.New("signaling transport")

	// ErrProtocolViolation is an out-of-order negotiation step, such as a
	// second remote description in the same call attempt.
	ErrProtocolViolation = errors.New("protocol violation")

	ErrConnect     = fmt.Errorf("connect: %w", ErrSignalingTransport)
	ErrSdpExchange = fmt.Errorf("sdp exchange: %w", ErrSignalingTransport)

	// ErrCallActive rejects a start request while a session is in progress.
	ErrCallActive = errors.New("call already active")

	// ErrCallEnded is the outcome of a call attempt ended locally before it
	// became active.
	ErrCallEnded = errors.New("call ended")

	ErrConnectivityFailed = errors.New("connectivity failed")
)
