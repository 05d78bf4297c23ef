package trickle

import (
	"fmt"
	"testing"

	"rtcdemo/client/internal/domain"
)

// recorder logs every transmitter call in order.
type recorder struct {
	events []string
}

func (r *recorder) SendCandidate(c domain.Candidate) { r.events = append(r.events, c.Candidate) }
func (r *recorder) SubmitOffer()                     { r.events = append(r.events, "offer") }

func (r *recorder) expect(t *testing.T, want ...string) {
	t.Helper()
	if fmt.Sprint(r.events) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, r.events)
	}
}

func cand(s string) domain.Candidate { return domain.Candidate{Candidate: s} }

func TestNew(t *testing.T) {
	for _, name := range []string{NameEager, NameGather} {
		p, err := New(name, &recorder{})
		if err != nil {
			t.Fatalf("new %s: %v", name, err)
		}
		if p.Name() != name {
			t.Errorf("expected %s, got %s", name, p.Name())
		}
	}
	if _, err := New("sometimes", &recorder{}); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestEager_QueuesUntilLocalDescriptionSet(t *testing.T) {
	r := &recorder{}
	p := NewEager(r)

	p.Candidate(cand("c1"))
	p.Candidate(cand("c2"))
	p.Candidate(cand("c3"))
	r.expect(t)

	p.LocalDescriptionSet()
	r.expect(t, "offer", "c1", "c2", "c3")

	p.Candidate(cand("c4"))
	p.Candidate(domain.GatheringComplete())
	r.expect(t, "offer", "c1", "c2", "c3", "c4")

	p.LocalDescriptionSet()
	r.expect(t, "offer", "c1", "c2", "c3", "c4")

	p.GatheringStalled()
	r.expect(t, "offer", "c1", "c2", "c3", "c4")
}

func TestGather_SubmitsOnceOnSentinel(t *testing.T) {
	r := &recorder{}
	p := NewGather(r)

	p.LocalDescriptionSet()
	p.Candidate(cand("c1"))
	p.Candidate(cand("c2"))
	r.expect(t)

	p.Candidate(domain.GatheringComplete())
	r.expect(t, "offer")

	p.Candidate(domain.GatheringComplete())
	p.GatheringStalled()
	r.expect(t, "offer")
}

func TestGather_SentinelBeforeLocalDescription(t *testing.T) {
	r := &recorder{}
	p := NewGather(r)

	p.Candidate(domain.GatheringComplete())
	r.expect(t)

	p.LocalDescriptionSet()
	r.expect(t, "offer")
}

func TestGather_StalledSubmitsPartial(t *testing.T) {
	r := &recorder{}
	p := NewGather(r)

	p.GatheringStalled()
	r.expect(t)

	p.LocalDescriptionSet()
	p.Candidate(cand("c1"))
	p.GatheringStalled()
	r.expect(t, "offer")

	p.Candidate(domain.GatheringComplete())
	r.expect(t, "offer")
}
