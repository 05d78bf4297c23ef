// Package trickle decides when local ICE candidates and the offer are
// handed to the signaling server.
package trickle

import (
	"fmt"

	"rtcdemo/client/internal/domain"

	"github.com/rs/zerolog/log"
)

const (
	NameEager  = "trickle"
	NameGather = "gather"
)

// Transmitter carries out the sends a policy decides on.
type Transmitter interface {
	SendCandidate(c domain.Candidate)
	// SubmitOffer snapshots the current local description and submits it.
	SubmitOffer()
}

// Policy reacts to candidate events and to the local description being
// applied. Implementations are not safe for concurrent use; the session
// controller calls them from its event loop only.
type Policy interface {
	Name() string
	Candidate(c domain.Candidate)
	LocalDescriptionSet()
	// GatheringStalled is called when gathering has not completed in time.
	GatheringStalled()
}

// New returns the policy registered under name.
func New(name string, tx Transmitter) (Policy, error) {
	switch name {
	case NameEager:
		return NewEager(tx), nil
	case NameGather:
		return NewGather(tx), nil
	default:
		return nil, fmt.Errorf("unknown candidate policy %q", name)
	}
}

// Eager submits the offer as soon as the local description is applied and
// sends every candidate on its own. Candidates discovered earlier are held
// and flushed, in discovery order, right after the offer.
type Eager struct {
	tx       Transmitter
	localSet bool
	queue    []domain.Candidate
}

func NewEager(tx Transmitter) *Eager {
	return &Eager{tx: tx}
}

func (p *Eager) Name() string { return NameEager }

func (p *Eager) Candidate(c domain.Candidate) {
	if c.IsComplete() {
		log.Debug().Str("module", "trickle").Msg("gathering complete")
		return
	}
	if !p.localSet {
		p.queue = append(p.queue, c)
		return
	}
	p.tx.SendCandidate(c)
}

func (p *Eager) LocalDescriptionSet() {
	if p.localSet {
		return
	}
	p.localSet = true
	p.tx.SubmitOffer()

	if len(p.queue) > 0 {
		log.Debug().Str("module", "trickle").Int("count", len(p.queue)).Msg("flushing queued candidates")
	}
	for _, c := range p.queue {
		p.tx.SendCandidate(c)
	}
	p.queue = nil
}

func (p *Eager) GatheringStalled() {}

// Gather never sends candidates on their own. Once both the local
// description is applied and gathering is complete, it submits the local
// description, which by then carries every candidate.
type Gather struct {
	tx        Transmitter
	localSet  bool
	complete  bool
	submitted bool
}

func NewGather(tx Transmitter) *Gather {
	return &Gather{tx: tx}
}

func (p *Gather) Name() string { return NameGather }

func (p *Gather) Candidate(c domain.Candidate) {
	if !c.IsComplete() {
		return
	}
	p.complete = true
	p.maybeSubmit()
}

func (p *Gather) LocalDescriptionSet() {
	p.localSet = true
	p.maybeSubmit()
}

func (p *Gather) GatheringStalled() {
	if !p.localSet || p.submitted {
		return
	}
	log.Warn().Str("module", "trickle").Msg("gathering stalled, submitting candidates gathered so far")
	p.submitted = true
	p.tx.SubmitOffer()
}

func (p *Gather) maybeSubmit() {
	if p.localSet && p.complete && !p.submitted {
		p.submitted = true
		p.tx.SubmitOffer()
	}
}
