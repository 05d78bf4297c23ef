package webrtc

import (
	"fmt"
	"sync"

	"rtcdemo/client/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Settings is the static peer connection configuration of a deployment.
type Settings struct {
	URLs              []string
	Username          string
	Credential        string
	BundlePolicy      string
	TransportPolicy   string
	CandidatePoolSize uint8
}

func (s Settings) configuration() (pion.Configuration, error) {
	cfg := pion.Configuration{ICECandidatePoolSize: s.CandidatePoolSize}

	if len(s.URLs) > 0 {
		cfg.ICEServers = []pion.ICEServer{{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		}}
	}

	switch s.BundlePolicy {
	case "", "balanced":
		cfg.BundlePolicy = pion.BundlePolicyBalanced
	case "max-compat":
		cfg.BundlePolicy = pion.BundlePolicyMaxCompat
	case "max-bundle":
		cfg.BundlePolicy = pion.BundlePolicyMaxBundle
	default:
		return cfg, fmt.Errorf("unknown bundle policy %q", s.BundlePolicy)
	}

	switch s.TransportPolicy {
	case "", "all":
		cfg.ICETransportPolicy = pion.ICETransportPolicyAll
	case "relay":
		cfg.ICETransportPolicy = pion.ICETransportPolicyRelay
	default:
		return cfg, fmt.Errorf("unknown ICE transport policy %q", s.TransportPolicy)
	}
	return cfg, nil
}

// Factory creates peer connections sharing one configured pion API.
type Factory struct {
	api *pion.API
	cfg pion.Configuration
}

// NewFactory registers the default codecs and interceptors, plus periodic
// PLI for received video, and routes pion logging to zerolog.
func NewFactory(s Settings) (*Factory, error) {
	cfg, err := s.configuration()
	if err != nil {
		return nil, err
	}

	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create pli interceptor: %w", err)
	}
	i.Add(pli)

	se := pion.SettingEngine{LoggerFactory: loggerFactory{}}

	return &Factory{
		api: pion.NewAPI(
			pion.WithMediaEngine(m),
			pion.WithInterceptorRegistry(i),
			pion.WithSettingEngine(se),
		),
		cfg: cfg,
	}, nil
}

// NewConnection creates a fresh peer connection.
func (f *Factory) NewConnection() (domain.Connection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return newPeer(pc), nil
}

// Peer wraps a Pion PeerConnection and republishes its callbacks as
// ordered event streams.
type Peer struct {
	pc *pion.PeerConnection

	candidates   *dispatcher[domain.Candidate]
	tracks       *dispatcher[domain.RemoteTrack]
	connectivity *dispatcher[domain.ConnectivityState]
	signaling    *dispatcher[domain.SignalingState]

	closeOnce sync.Once
	closeErr  error
}

func newPeer(pc *pion.PeerConnection) *Peer {
	p := &Peer{
		pc:           pc,
		candidates:   newDispatcher[domain.Candidate](),
		tracks:       newDispatcher[domain.RemoteTrack](),
		connectivity: newDispatcher[domain.ConnectivityState](),
		signaling:    newDispatcher[domain.SignalingState](),
	}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			log.Debug().Str("module", "webrtc").Msg("ICE gathering complete")
			p.candidates.emit(domain.GatheringComplete())
			return
		}
		init := c.ToJSON()
		p.candidates.emit(domain.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
	pc.OnICEGatheringStateChange(func(state pion.ICEGatheringState) {
		log.Debug().Str("module", "webrtc").Str("gathering_state", state.String()).Msg("ICE gathering state")
	})
	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("ice_state", state.String()).Msg("ICE connection state")
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.connectivity.emit(domain.ConnectivityState(state.String()))
	})
	pc.OnSignalingStateChange(func(state pion.SignalingState) {
		p.signaling.emit(domain.SignalingState(state.String()))
	})
	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		codec := track.Codec()
		log.Info().Str("module", "webrtc").
			Str("kind", track.Kind().String()).
			Str("codec", codec.MimeType).
			Str("stream_id", track.StreamID()).
			Msg("got remote track")
		p.tracks.emit(track)
	})

	return p
}

// AddTracks attaches the local tracks and drains RTCP for each sender so
// the interceptors keep running.
func (p *Peer) AddTracks(tracks []pion.TrackLocal) error {
	for _, t := range tracks {
		sender, err := p.pc.AddTrack(t)
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

// CreateOffer creates an SDP offer without applying it.
func (p *Peer) CreateOffer(opts domain.OfferOptions) (domain.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(&pion.OfferOptions{
		OfferAnswerOptions: pion.OfferAnswerOptions{VoiceActivityDetection: opts.VoiceActivityDetection},
		ICERestart:         opts.ICERestart,
	})
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: %v", domain.ErrSdpCreation, err)
	}
	return fromPion(offer), nil
}

func (p *Peer) SetLocalDescription(desc domain.SessionDescription) error {
	if err := p.pc.SetLocalDescription(toPion(desc)); err != nil {
		return fmt.Errorf("%w: local %s: %v", domain.ErrSdpApply, desc.Type, err)
	}
	log.Debug().Str("module", "webrtc").Str("type", string(desc.Type)).Msg("local description set")
	return nil
}

func (p *Peer) SetRemoteDescription(desc domain.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(toPion(desc)); err != nil {
		return fmt.Errorf("%w: remote %s: %v", domain.ErrSdpApply, desc.Type, err)
	}
	log.Debug().Str("module", "webrtc").Str("type", string(desc.Type)).Msg("remote description set")
	return nil
}

func (p *Peer) LocalDescription() (domain.SessionDescription, bool) {
	desc := p.pc.LocalDescription()
	if desc == nil {
		return domain.SessionDescription{}, false
	}
	return fromPion(*desc), true
}

func (p *Peer) OnCandidate(fn func(domain.Candidate))                 { p.candidates.subscribe(fn) }
func (p *Peer) OnRemoteTrack(fn func(domain.RemoteTrack))             { p.tracks.subscribe(fn) }
func (p *Peer) OnConnectivityState(fn func(domain.ConnectivityState)) { p.connectivity.subscribe(fn) }
func (p *Peer) OnSignalingState(fn func(domain.SignalingState))       { p.signaling.subscribe(fn) }

// Close stops event delivery and shuts down the PeerConnection.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.candidates.close()
		p.tracks.close()
		p.connectivity.close()
		p.signaling.close()
		p.closeErr = p.pc.Close()
		if p.closeErr != nil {
			log.Error().Err(p.closeErr).Str("module", "webrtc").Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Msg("closed")
		}
	})
	return p.closeErr
}

func toPion(desc domain.SessionDescription) pion.SessionDescription {
	return pion.SessionDescription{Type: pion.NewSDPType(string(desc.Type)), SDP: desc.SDP}
}

func fromPion(desc pion.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: domain.SDPType(desc.Type.String()), SDP: desc.SDP}
}
