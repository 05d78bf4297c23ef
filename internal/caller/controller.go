// Package caller runs the initiator side of a call: it acquires media,
// negotiates the connection through the signaling server and tears
// everything down on hangup or on the first fatal error.
package caller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"rtcdemo/client/internal/domain"
	"rtcdemo/client/internal/negotiation"
	"rtcdemo/client/internal/trickle"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrStopped is returned by StartCall once Run has returned.
var ErrStopped = errors.New("controller stopped")

const defaultDisconnectTimeout = 5 * time.Second

// Options is the static per-deployment call setup.
type Options struct {
	Constraints domain.MediaConstraints
	Offer       domain.OfferOptions
	// Policy is trickle.NameEager or trickle.NameGather.
	Policy string
	// GatherTimeout bounds the wait for gathering to complete before a
	// partial description is submitted. Zero waits forever.
	GatherTimeout time.Duration
	// DisconnectTimeout bounds the teardown notification to the server.
	DisconnectTimeout time.Duration
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Media    domain.MediaAcquirer
	Conns    domain.ConnectionFactory
	Signaler domain.Signaler
	Sinks    []domain.MediaSink
}

// Controller coordinates the call lifecycle. Every state change happens on
// the goroutine running Run; asynchronous steps run elsewhere and post
// their continuation back to it.
type Controller struct {
	deps     Deps
	sinks    map[webrtc.RTPCodecType]domain.MediaSink
	opts     Options
	observer domain.Observer

	events chan func()
	quit   chan struct{}

	// owned by the loop
	session  *session
	controls domain.Controls

	state atomic.Int32

	// pending disconnect notifications
	pending sync.WaitGroup
}

// New creates a Controller. Call SetObserver before Run to receive UI
// updates.
func New(deps Deps, opts Options) (*Controller, error) {
	if _, err := trickle.New(opts.Policy, nil); err != nil {
		return nil, err
	}
	if opts.DisconnectTimeout <= 0 {
		opts.DisconnectTimeout = defaultDisconnectTimeout
	}

	sinks := make(map[webrtc.RTPCodecType]domain.MediaSink, len(deps.Sinks))
	for _, s := range deps.Sinks {
		sinks[s.Kind()] = s
	}

	c := &Controller{
		deps:     deps,
		sinks:    sinks,
		opts:     opts,
		observer: nopObserver{},
		events:   make(chan func(), 64),
		quit:     make(chan struct{}),
		controls: domain.Controls{Start: true},
	}
	c.state.Store(int32(domain.StateIdle))
	return c, nil
}

// SetObserver injects the UI collaborator after construction, since the
// panel in turn drives the controller.
func (c *Controller) SetObserver(obs domain.Observer) {
	if obs == nil {
		obs = nopObserver{}
	}
	c.observer = obs
}

// State returns the state of the current or most recent call attempt.
func (c *Controller) State() domain.State {
	return domain.State(c.state.Load())
}

// Run processes events until ctx is done, then ends any call in progress
// and waits for the disconnect notification to finish.
func (c *Controller) Run(ctx context.Context) error {
	log.Info().Str("module", "caller").Str("policy", c.opts.Policy).Msg("controller running")
	defer close(c.quit)

	for {
		select {
		case fn := <-c.events:
			fn()
		case <-ctx.Done():
			c.teardown(c.session, nil)
			c.pending.Wait()
			log.Info().Str("module", "caller").Msg("controller stopped")
			return ctx.Err()
		}
	}
}

// StartCall begins a call attempt and waits for its outcome: nil once the
// call is active, or the error that ended it. A call already in progress
// rejects the request with domain.ErrCallActive. ctx bounds the wait only;
// use EndCall to abort the attempt.
//
// Run must already be running: until it is, StartCall blocks, and once Run
// has returned it fails with ErrStopped.
func (c *Controller) StartCall(ctx context.Context) error {
	var (
		s   *session
		err error
	)
	if !c.call(func() { s, err = c.start() }) {
		return ErrStopped
	}
	if err != nil {
		return err
	}

	select {
	case err := <-s.outcome:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EndCall tears down the current call, if any, and returns once local
// resources are released. It is safe to call repeatedly, and returns at once
// after Run has returned. Like StartCall, it blocks until Run is running.
func (c *Controller) EndCall() {
	c.call(func() { c.teardown(c.session, nil) })
}

// post queues fn for the loop. It reports false once the loop has stopped.
func (c *Controller) post(fn func()) bool {
	select {
	case c.events <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// call runs fn on the loop and waits for it to finish.
func (c *Controller) call(fn func()) bool {
	done := make(chan struct{})
	if !c.post(func() { defer close(done); fn() }) {
		return false
	}
	select {
	case <-done:
		return true
	case <-c.quit:
		return false
	}
}

// live reports whether s is still the current session.
func (c *Controller) live(s *session) bool {
	return s != nil && c.session == s
}

// await runs task off the loop and resumes with then on the loop, provided
// s is still the current session. Results for an ended session are dropped.
func await[T any](c *Controller, s *session, step string, task func(ctx context.Context) (T, error), then func(T, error)) {
	go func() {
		v, err := task(s.ctx)
		c.post(func() {
			if !c.live(s) {
				s.log.Debug().Str("step", step).Msg("call ended, ignoring result")
				return
			}
			then(v, err)
		})
	}()
}

func (c *Controller) start() (*session, error) {
	if c.session != nil {
		log.Warn().Str("module", "caller").Str("attempt", c.session.attempt).Msg("call already active, ignoring start")
		return nil, domain.ErrCallActive
	}

	s := newSession()
	tx := &transmitter{c: c, s: s}
	s.policy, _ = trickle.New(c.opts.Policy, tx)
	c.session = s

	s.log.Info().Msg("starting call")
	c.setState(domain.StateIdle)
	c.setControls(domain.Controls{Start: false, Stop: false})

	go func() {
		media, err := c.deps.Media.Acquire(s.ctx, c.opts.Constraints)
		posted := c.post(func() {
			if !c.live(s) {
				if media != nil {
					media.Stop()
				}
				return
			}
			c.onMedia(s, media, err)
		})
		if !posted && media != nil {
			media.Stop()
		}
	}()
	return s, nil
}

func (c *Controller) onMedia(s *session, media domain.LocalMedia, err error) {
	if err != nil {
		c.fail(s, err)
		return
	}
	s.media = media
	if err := s.engine.MediaAcquired(); err != nil {
		c.fail(s, err)
		return
	}
	c.setState(s.engine.State())
	c.setControls(domain.Controls{Start: false, Stop: true})

	conn, err := c.deps.Conns.NewConnection()
	if err != nil {
		c.fail(s, fmt.Errorf("create connection: %w", err))
		return
	}
	s.conn = conn
	c.subscribe(s, conn)

	if err := s.engine.ConnectionCreated(conn); err != nil {
		c.fail(s, err)
		return
	}
	c.setState(s.engine.State())

	if err := conn.AddTracks(media.Tracks()); err != nil {
		c.fail(s, fmt.Errorf("add tracks: %w", err))
		return
	}

	await(c, s, "connect", c.deps.Signaler.Connect, func(sid domain.SessionID, err error) {
		if err != nil {
			c.fail(s, err)
			return
		}
		s.connected = true
		s.sid = sid
		s.log = s.log.With().Str("sid", string(sid)).Logger()
		s.log.Info().Msg("session opened")
		c.createOffer(s)
	})
}

func (c *Controller) subscribe(s *session, conn domain.Connection) {
	conn.OnCandidate(func(cand domain.Candidate) {
		c.post(func() {
			if c.live(s) {
				s.policy.Candidate(cand)
			}
		})
	})
	conn.OnRemoteTrack(func(track domain.RemoteTrack) {
		c.post(func() {
			if c.live(s) {
				c.onRemoteTrack(s, track)
			}
		})
	})
	conn.OnConnectivityState(func(state domain.ConnectivityState) {
		c.post(func() {
			if c.live(s) {
				c.onConnectivity(s, state)
			}
		})
	})
	conn.OnSignalingState(func(state domain.SignalingState) {
		c.post(func() {
			if c.live(s) {
				s.log.Debug().Str("signaling", string(state)).Msg("signaling state changed")
			}
		})
	})
}

func (c *Controller) createOffer(s *session) {
	create := func(context.Context) (domain.SessionDescription, error) {
		return s.engine.CreateOffer(c.opts.Offer)
	}
	await(c, s, "create offer", create, func(offer domain.SessionDescription, err error) {
		if err != nil {
			c.fail(s, err)
			return
		}
		c.setState(s.engine.State())

		apply := func(context.Context) (struct{}, error) {
			return struct{}{}, s.engine.SetLocalDescription(offer)
		}
		await(c, s, "set local description", apply, func(_ struct{}, err error) {
			if err != nil {
				c.fail(s, err)
				return
			}
			c.setState(s.engine.State())
			c.onLocalDescriptionSet(s)
		})
	})
}

func (c *Controller) onLocalDescriptionSet(s *session) {
	if c.opts.GatherTimeout > 0 && s.policy.Name() == trickle.NameGather {
		s.gatherTimer = time.AfterFunc(c.opts.GatherTimeout, func() {
			c.post(func() {
				if c.live(s) {
					s.policy.GatheringStalled()
				}
			})
		})
	}
	s.policy.LocalDescriptionSet()
}

// submitOffer sends the current local description and applies the answer.
func (c *Controller) submitOffer(s *session) {
	if s.gatherTimer != nil {
		s.gatherTimer.Stop()
	}
	desc, ok := s.conn.LocalDescription()
	if !ok {
		c.fail(s, fmt.Errorf("%w: no local description to submit", domain.ErrProtocolViolation))
		return
	}
	if err := s.engine.AwaitAnswer(); err != nil {
		c.fail(s, err)
		return
	}
	c.setState(s.engine.State())
	s.log.Info().Str("policy", s.policy.Name()).Msg("submitting offer")

	exchange := func(ctx context.Context) (domain.SessionDescription, error) {
		return c.deps.Signaler.ExchangeSDP(ctx, s.sid, desc)
	}
	await(c, s, "sdp exchange", exchange, func(answer domain.SessionDescription, err error) {
		if err != nil {
			c.fail(s, err)
			return
		}

		apply := func(context.Context) (struct{}, error) {
			return struct{}{}, s.engine.SetRemoteDescription(answer)
		}
		await(c, s, "set remote description", apply, func(_ struct{}, err error) {
			if err != nil {
				c.fail(s, err)
				return
			}
			c.setState(s.engine.State())
			if err := s.engine.Activate(); err != nil {
				c.fail(s, err)
				return
			}
			c.setState(s.engine.State())
			s.log.Info().Msg("call active")
			s.resolve(nil)
		})
	})
}

func (c *Controller) sendCandidate(s *session, cand domain.Candidate) {
	go func() {
		if err := c.deps.Signaler.SendCandidate(s.ctx, s.sid, cand); err != nil && s.ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("send candidate failed")
		}
	}()
}

func (c *Controller) onRemoteTrack(s *session, track domain.RemoteTrack) {
	kind := track.Kind()
	sink, ok := c.sinks[kind]
	if !ok {
		s.log.Warn().Str("kind", kind.String()).Msg("no sink for remote track")
		return
	}
	if s.streams[kind] != track.StreamID() {
		s.streams[kind] = track.StreamID()
		s.log.Info().Str("kind", kind.String()).Str("stream", track.StreamID()).Msg("remote stream attached")
		c.observer.StreamAttached(kind, track.StreamID())
	}
	sink.Attach(s.ctx, track)
}

func (c *Controller) onConnectivity(s *session, state domain.ConnectivityState) {
	s.log.Info().Str("connectivity", string(state)).Msg("connection state changed")
	if state == domain.ConnectivityFailed {
		c.fail(s, domain.ErrConnectivityFailed)
	}
}

// fail reports a fatal error and ends the call attempt.
func (c *Controller) fail(s *session, err error) {
	s.log.Error().Err(err).Msg("call failed")
	c.observer.CallFailed(err)
	c.teardown(s, err)
}

// teardown releases everything s holds. Each step runs regardless of the
// others and of any earlier error; a nil or already ended s is a no-op.
func (c *Controller) teardown(s *session, cause error) {
	if !c.live(s) {
		return
	}
	c.session = nil
	s.cancel()

	if s.gatherTimer != nil {
		s.gatherTimer.Stop()
	}
	if s.media != nil {
		s.media.Stop()
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log.Warn().Err(err).Msg("close connection")
		}
	}
	s.engine.Close()

	if s.connected {
		c.disconnect(s)
	}

	// A call that never got media leaves nothing behind to close.
	if s.media != nil {
		c.setState(domain.StateClosed)
	} else {
		c.setState(domain.StateIdle)
	}
	c.setControls(domain.Controls{Start: true, Stop: false})

	if cause == nil {
		cause = domain.ErrCallEnded
	}
	s.resolve(cause)
	s.log.Info().Msg("call torn down")
}

func (c *Controller) disconnect(s *session) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.DisconnectTimeout)
		defer cancel()
		if err := c.deps.Signaler.Disconnect(ctx, s.sid); err != nil {
			s.log.Warn().Err(err).Msg("disconnect notification failed")
			return
		}
		s.log.Debug().Msg("disconnect acknowledged")
	}()
}

func (c *Controller) setState(st domain.State) {
	if domain.State(c.state.Swap(int32(st))) == st {
		return
	}
	c.observer.StateChanged(st)
}

func (c *Controller) setControls(ctl domain.Controls) {
	if c.controls == ctl {
		return
	}
	c.controls = ctl
	c.observer.ControlsChanged(ctl)
}

// session is one call attempt.
type session struct {
	attempt string
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	engine *negotiation.Engine
	policy trickle.Policy

	media     domain.LocalMedia
	conn      domain.Connection
	connected bool
	sid       domain.SessionID

	gatherTimer *time.Timer
	streams     map[webrtc.RTPCodecType]string

	outcome  chan error
	resolved bool
}

func newSession() *session {
	attempt := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		attempt: attempt,
		log:     log.With().Str("module", "caller").Str("attempt", attempt).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		engine:  negotiation.New(),
		streams: make(map[webrtc.RTPCodecType]string),
		outcome: make(chan error, 1),
	}
}

func (s *session) resolve(err error) {
	if s.resolved {
		return
	}
	s.resolved = true
	s.outcome <- err
}

// transmitter carries out policy decisions for one session.
type transmitter struct {
	c *Controller
	s *session
}

func (t *transmitter) SendCandidate(cand domain.Candidate) { t.c.sendCandidate(t.s, cand) }
func (t *transmitter) SubmitOffer()                        { t.c.submitOffer(t.s) }

type nopObserver struct{}

func (nopObserver) StateChanged(domain.State)                  {}
func (nopObserver) ControlsChanged(domain.Controls)            {}
func (nopObserver) StreamAttached(webrtc.RTPCodecType, string) {}
func (nopObserver) CallFailed(error)                           {}
