// Package negotiation drives the initiator side of the offer/answer exchange
// and enforces its ordering.
package negotiation

import (
	"fmt"
	"sync"

	"rtcdemo/client/internal/domain"
)

// Engine tracks the negotiation state of one call attempt. The description
// operations may block on the underlying connection and are safe to call
// from any goroutine; each one checks the current state before acting.
type Engine struct {
	mu    sync.Mutex
	conn  domain.Connection
	state domain.State

	// busy is set while a connection operation is in flight, so that a
	// concurrent step cannot start from the same state.
	busy bool
}

// New returns an Engine in the Idle state.
func New() *Engine {
	return &Engine{state: domain.StateIdle}
}

// State returns the current negotiation state.
func (e *Engine) State() domain.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// MediaAcquired records that local media is available.
func (e *Engine) MediaAcquired() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transition(domain.StateIdle, domain.StateMediaAcquired)
}

// ConnectionCreated binds the engine to the call's connection.
func (e *Engine) ConnectionCreated(conn domain.Connection) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transition(domain.StateMediaAcquired, domain.StateConnectionCreated); err != nil {
		return err
	}
	e.conn = conn
	return nil
}

// CreateOffer creates the local offer.
func (e *Engine) CreateOffer(opts domain.OfferOptions) (domain.SessionDescription, error) {
	conn, err := e.begin(domain.StateConnectionCreated, "create offer")
	if err != nil {
		return domain.SessionDescription{}, err
	}

	offer, err := conn.CreateOffer(opts)
	if err == nil && offer.Type != domain.SDPTypeOffer {
		err = fmt.Errorf("%w: created %q, want offer", domain.ErrSdpCreation, offer.Type)
	}
	e.end(domain.StateConnectionCreated, domain.StateOfferCreated, err)
	return offer, err
}

// SetLocalDescription applies the offer. No candidate may be transmitted
// and no final description assembled before it succeeds.
func (e *Engine) SetLocalDescription(desc domain.SessionDescription) error {
	conn, err := e.begin(domain.StateOfferCreated, "set local description")
	if err != nil {
		return err
	}
	err = conn.SetLocalDescription(desc)
	e.end(domain.StateOfferCreated, domain.StateLocalDescriptionSet, err)
	return err
}

// LocalDescriptionSet reports whether the local description has been applied.
func (e *Engine) LocalDescriptionSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state >= domain.StateLocalDescriptionSet && e.state != domain.StateClosed
}

// AwaitAnswer records that the offer has been submitted.
func (e *Engine) AwaitAnswer() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transition(domain.StateLocalDescriptionSet, domain.StateAwaitingAnswer)
}

// SetRemoteDescription applies the answer. It is accepted exactly once per
// call attempt and only after the local description has been applied.
func (e *Engine) SetRemoteDescription(desc domain.SessionDescription) error {
	if desc.Type != domain.SDPTypeAnswer {
		return fmt.Errorf("%w: remote description is %q, want answer", domain.ErrProtocolViolation, desc.Type)
	}
	conn, err := e.begin(domain.StateAwaitingAnswer, "set remote description")
	if err != nil {
		return err
	}
	err = conn.SetRemoteDescription(desc)
	e.end(domain.StateAwaitingAnswer, domain.StateRemoteDescriptionSet, err)
	return err
}

// Activate marks the negotiation complete.
func (e *Engine) Activate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transition(domain.StateRemoteDescriptionSet, domain.StateActive)
}

// Close moves the engine to the terminal Closed state from any state.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = domain.StateClosed
}

func (e *Engine) transition(from, to domain.State) error {
	if e.busy || e.state != from {
		return fmt.Errorf("%w: cannot move to %s from %s", domain.ErrProtocolViolation, to, e.state)
	}
	e.state = to
	return nil
}

func (e *Engine) begin(from domain.State, op string) (domain.Connection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy || e.state != from {
		return nil, fmt.Errorf("%w: %s in state %s", domain.ErrProtocolViolation, op, e.state)
	}
	e.busy = true
	return e.conn, nil
}

// end finishes an operation started by begin. A failed operation leaves the
// state unchanged; the caller decides whether the failure is fatal. An
// engine closed in the meantime stays closed.
func (e *Engine) end(from, to domain.State, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.busy = false
	if err == nil && e.state == from {
		e.state = to
	}
}
