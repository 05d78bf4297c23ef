package domain

import (
	"encoding/json"
	"fmt"
)

// SDPType is the role of a session description in the offer/answer exchange.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescription is the JSON structure for SDP offer/answer messages.
type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// ParseSessionDescription decodes a {type, sdp} JSON body and checks that
// it carries a known type and a non-empty payload.
func ParseSessionDescription(data []byte) (SessionDescription, error) {
	var desc SessionDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return SessionDescription{}, fmt.Errorf("decode session description: %w", err)
	}
	switch desc.Type {
	case SDPTypeOffer, SDPTypeAnswer:
	default:
		return SessionDescription{}, fmt.Errorf("invalid session description type %q", desc.Type)
	}
	if desc.SDP == "" {
		return SessionDescription{}, fmt.Errorf("empty %s payload", desc.Type)
	}
	return desc, nil
}

// Candidate is the JSON structure for a local ICE candidate, shaped like a
// serialized browser RTCIceCandidate.
//
// The zero-information value returned by GatheringComplete is the sentinel
// meaning no more candidates will be produced; it is never serialized.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`

	complete bool
}

// GatheringComplete returns the end-of-candidates sentinel.
func GatheringComplete() Candidate {
	return Candidate{complete: true}
}

// IsComplete reports whether c is the end-of-candidates sentinel.
func (c Candidate) IsComplete() bool {
	return c.complete
}
