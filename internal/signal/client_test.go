package signal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"rtcdemo/client/internal/domain"

	"github.com/google/uuid"
)

type request struct {
	method  string
	path    string
	session string
	ctype   string
	body    string
}

// server is a scriptable signaling server recording every request.
type server struct {
	t *testing.T

	mu       sync.Mutex
	requests []request

	connectStatus int
	connectDelay  time.Duration
	noSessionID   bool
	sdpStatus     []int // per attempt; the last entry repeats
	answer        string
	sdpDelay      time.Duration
	sessionID     string
}

func newServer(t *testing.T) (*server, *httptest.Server) {
	s := &server{
		t:             t,
		connectStatus: http.StatusOK,
		answer:        `{"type":"answer","sdp":"v=0\r\nanswer"}`,
		sessionID:     uuid.NewString(),
	}
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, request{
		method:  r.Method,
		path:    r.URL.Path,
		session: r.Header.Get("Session-ID"),
		ctype:   r.Header.Get("Content-Type"),
		body:    string(body),
	})
	sdpAttempt := 0
	for _, req := range s.requests {
		if req.path == "/sdp" {
			sdpAttempt++
		}
	}
	s.mu.Unlock()

	switch r.URL.Path {
	case "/connect":
		if s.connectDelay > 0 {
			select {
			case <-time.After(s.connectDelay):
			case <-r.Context().Done():
				return
			}
		}
		if !s.noSessionID {
			w.Header().Set("Session-ID", s.sessionID)
		}
		w.WriteHeader(s.connectStatus)
	case "/candidate", "/disconnect":
		w.WriteHeader(http.StatusOK)
	case "/sdp":
		if s.sdpDelay > 0 {
			select {
			case <-time.After(s.sdpDelay):
			case <-r.Context().Done():
				return
			}
		}
		status := http.StatusOK
		if n := len(s.sdpStatus); n > 0 {
			status = s.sdpStatus[min(sdpAttempt, n)-1]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			io.WriteString(w, s.answer)
		}
	default:
		http.NotFound(w, r)
	}
}

func (s *server) recorded() []request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]request(nil), s.requests...)
}

func newClient(t *testing.T, ts *httptest.Server, mutate func(*Options)) *Client {
	t.Helper()
	opts := Options{
		BaseURL:          ts.URL,
		SessionHeader:    "Session-ID",
		ConnectPath:      "connect",
		CandidatePath:    "candidate",
		SDPPath:          "sdp",
		DisconnectPath:   "disconnect",
		RequireSessionID: true,
		Timeout:          2 * time.Second,
		InitialInterval:  time.Millisecond,
		MaxInterval:      5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := NewClient(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

var offer = domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0\r\noffer"}

func TestConnect_ReturnsSessionID(t *testing.T) {
	srv, ts := newServer(t)
	c := newClient(t, ts, nil)

	sid, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if string(sid) != srv.sessionID {
		t.Errorf("expected session %q, got %q", srv.sessionID, sid)
	}
	reqs := srv.recorded()
	if len(reqs) != 1 || reqs[0].method != http.MethodPost || reqs[0].session != "" {
		t.Errorf("unexpected requests %+v", reqs)
	}
}

func TestConnect_ServerErrorIsRetriedThenFails(t *testing.T) {
	srv, ts := newServer(t)
	srv.connectStatus = http.StatusInternalServerError
	c := newClient(t, ts, func(o *Options) { o.MaxRetries = 2 })

	_, err := c.Connect(context.Background())
	if !errors.Is(err, domain.ErrConnect) || !errors.Is(err, domain.ErrSignalingTransport) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
	if n := len(srv.recorded()); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestConnect_ClientErrorIsNotRetried(t *testing.T) {
	srv, ts := newServer(t)
	srv.connectStatus = http.StatusForbidden
	c := newClient(t, ts, func(o *Options) { o.MaxRetries = 5 })

	if _, err := c.Connect(context.Background()); !errors.Is(err, domain.ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
	if n := len(srv.recorded()); n != 1 {
		t.Errorf("expected a single attempt, got %d", n)
	}
}

func TestConnect_TimeoutIsNotRetried(t *testing.T) {
	srv, ts := newServer(t)
	srv.connectDelay = 5 * time.Second
	c := newClient(t, ts, func(o *Options) {
		o.MaxRetries = 2
		o.Timeout = 50 * time.Millisecond
	})

	_, err := c.Connect(context.Background())
	if !errors.Is(err, domain.ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
	if n := len(srv.recorded()); n != 1 {
		t.Errorf("expected a single attempt, got %d", n)
	}
}

func TestExchangeSDP_TimeoutIsRetried(t *testing.T) {
	srv, ts := newServer(t)
	srv.sdpDelay = 5 * time.Second
	c := newClient(t, ts, func(o *Options) {
		o.MaxRetries = 1
		o.Timeout = 50 * time.Millisecond
	})

	if _, err := c.ExchangeSDP(context.Background(), "s-1", offer); !errors.Is(err, domain.ErrSdpExchange) {
		t.Fatalf("expected ErrSdpExchange, got %v", err)
	}
	if n := len(srv.recorded()); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestConnect_MissingSessionHeader(t *testing.T) {
	srv, ts := newServer(t)
	srv.noSessionID = true

	if _, err := newClient(t, ts, nil).Connect(context.Background()); !errors.Is(err, domain.ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}

	sid, err := newClient(t, ts, func(o *Options) { o.RequireSessionID = false }).Connect(context.Background())
	if err != nil {
		t.Fatalf("anonymous connect: %v", err)
	}
	if sid != "" {
		t.Errorf("expected anonymous session, got %q", sid)
	}
}

func TestSendCandidate_PostsJSONWithSession(t *testing.T) {
	srv, ts := newServer(t)
	c := newClient(t, ts, nil)

	mid := "0"
	idx := uint16(0)
	cand := domain.Candidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx}
	if err := c.SendCandidate(context.Background(), "s-1", cand); err != nil {
		t.Fatalf("send candidate: %v", err)
	}
	if err := c.SendCandidate(context.Background(), "s-1", domain.GatheringComplete()); err != nil {
		t.Fatalf("send sentinel: %v", err)
	}

	reqs := srv.recorded()
	if len(reqs) != 1 {
		t.Fatalf("expected one request, got %d", len(reqs))
	}
	r := reqs[0]
	if r.path != "/candidate" || r.session != "s-1" || r.ctype != "application/json" {
		t.Errorf("unexpected request %+v", r)
	}
	var got domain.Candidate
	if err := json.Unmarshal([]byte(r.body), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.Candidate != cand.Candidate || got.SDPMid == nil || *got.SDPMid != "0" {
		t.Errorf("unexpected candidate body %s", r.body)
	}
}

func TestExchangeSDP_ReturnsAnswer(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodPut} {
		t.Run(method, func(t *testing.T) {
			srv, ts := newServer(t)
			c := newClient(t, ts, func(o *Options) { o.SDPMethod = method })

			answer, err := c.ExchangeSDP(context.Background(), "s-1", offer)
			if err != nil {
				t.Fatalf("exchange: %v", err)
			}
			if answer.Type != domain.SDPTypeAnswer || answer.SDP != "v=0\r\nanswer" {
				t.Errorf("unexpected answer %+v", answer)
			}

			r := srv.recorded()[0]
			if r.method != method || r.session != "s-1" {
				t.Errorf("unexpected request %+v", r)
			}
			sent, err := domain.ParseSessionDescription([]byte(r.body))
			if err != nil || sent != offer {
				t.Errorf("expected offer body, got %s (%v)", r.body, err)
			}
		})
	}
}

func TestExchangeSDP_Failures(t *testing.T) {
	tests := []struct {
		name     string
		answer   string
		status   []int
		attempts int
	}{
		{"malformed json", `{"type":`, nil, 1},
		{"offer instead of answer", `{"type":"offer","sdp":"v=0"}`, nil, 1},
		{"not found", "", []int{http.StatusNotFound}, 1},
		{"server error", "", []int{http.StatusBadGateway}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, ts := newServer(t)
			srv.answer = tt.answer
			srv.sdpStatus = tt.status
			c := newClient(t, ts, func(o *Options) { o.MaxRetries = 1 })

			_, err := c.ExchangeSDP(context.Background(), "s-1", offer)
			if !errors.Is(err, domain.ErrSdpExchange) {
				t.Fatalf("expected ErrSdpExchange, got %v", err)
			}
			if n := len(srv.recorded()); n != tt.attempts {
				t.Errorf("expected %d attempts, got %d", tt.attempts, n)
			}
		})
	}
}

func TestExchangeSDP_RecoversAfterRetry(t *testing.T) {
	srv, ts := newServer(t)
	srv.sdpStatus = []int{http.StatusServiceUnavailable, http.StatusOK}
	c := newClient(t, ts, func(o *Options) { o.MaxRetries = 2 })

	if _, err := c.ExchangeSDP(context.Background(), "s-1", offer); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if n := len(srv.recorded()); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestExchangeSDP_CancelledWhilePending(t *testing.T) {
	srv, ts := newServer(t)
	srv.sdpDelay = 5 * time.Second
	c := newClient(t, ts, func(o *Options) { o.MaxRetries = 3; o.Timeout = 0 })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.ExchangeSDP(ctx, "s-1", offer)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation did not abort the pending request")
	}
	if n := len(srv.recorded()); n != 1 {
		t.Errorf("expected no retry after cancellation, got %d attempts", n)
	}
}

func TestExchangeSDP_Timeout(t *testing.T) {
	srv, ts := newServer(t)
	srv.sdpDelay = 5 * time.Second
	c := newClient(t, ts, func(o *Options) { o.Timeout = 50 * time.Millisecond })

	_, err := c.ExchangeSDP(context.Background(), "s-1", offer)
	if !errors.Is(err, domain.ErrSdpExchange) {
		t.Fatalf("expected ErrSdpExchange, got %v", err)
	}
}

func TestDisconnect_SendsSessionHeader(t *testing.T) {
	srv, ts := newServer(t)
	if err := newClient(t, ts, nil).Disconnect(context.Background(), "s-9"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	r := srv.recorded()[0]
	if r.path != "/disconnect" || r.method != http.MethodPost || r.session != "s-9" || r.body != "" {
		t.Errorf("unexpected request %+v", r)
	}
}
