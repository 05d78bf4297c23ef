// Package panel serves the call controls over HTTP and a websocket, and
// pushes call state changes to every connected browser.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"rtcdemo/client/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
)

// Controller is the call lifecycle the panel drives.
type Controller interface {
	StartCall(ctx context.Context) error
	EndCall()
}

// Snapshot is the current call view served by GET /state and sent to each
// client when it connects.
type Snapshot struct {
	State    string            `json:"state"`
	Controls domain.Controls   `json:"controls"`
	Streams  map[string]string `json:"streams"`
	Error    string            `json:"error,omitempty"`
}

// Panel implements domain.Observer for the browser UI.
type Panel struct {
	ctrl Controller

	mu       sync.Mutex
	clients  map[*client]struct{}
	state    domain.State
	controls domain.Controls
	streams  map[string]string
	lastErr  string
}

// New creates a Panel driving ctrl.
func New(ctrl Controller) *Panel {
	return &Panel{
		ctrl:     ctrl,
		clients:  make(map[*client]struct{}),
		state:    domain.StateIdle,
		controls: domain.Controls{Start: true},
		streams:  make(map[string]string),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Router returns the panel's HTTP handler. Calls started from it live until
// ended or until ctx is done.
func (p *Panel) Router(ctx context.Context) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, p.Snapshot())
	})
	r.GET("/ws", func(c *gin.Context) {
		p.handleWS(ctx, c)
	})

	log.Info().Str("module", "panel").Msg("router setup")
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().Str("module", "panel").
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

// Snapshot returns the current call view.
func (p *Panel) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Panel) snapshotLocked() Snapshot {
	streams := make(map[string]string, len(p.streams))
	for k, v := range p.streams {
		streams[k] = v
	}
	return Snapshot{
		State:    p.state.String(),
		Controls: p.controls,
		Streams:  streams,
		Error:    p.lastErr,
	}
}

func (p *Panel) StateChanged(state domain.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	if state == domain.StateIdle || state == domain.StateClosed {
		p.streams = make(map[string]string)
	}
	p.broadcastLocked(stateMessage{Type: "state", State: state.String()})
}

func (p *Panel) ControlsChanged(controls domain.Controls) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.controls = controls
	// Start is disabled only while an attempt runs; its failure is history.
	if !controls.Start {
		p.lastErr = ""
	}
	p.broadcastLocked(controlsMessage{Type: "controls", Start: controls.Start, Stop: controls.Stop})
}

func (p *Panel) StreamAttached(kind webrtc.RTPCodecType, streamID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams[kind.String()] = streamID
	p.broadcastLocked(streamMessage{Type: "stream", Kind: kind.String(), Stream: streamID})
}

func (p *Panel) CallFailed(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err.Error()
	p.broadcastLocked(errorMessage{Type: "error", Error: err.Error()})
}

type stateMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type controlsMessage struct {
	Type  string `json:"type"`
	Start bool   `json:"start"`
	Stop  bool   `json:"stop"`
}

type streamMessage struct {
	Type   string `json:"type"`
	Kind   string `json:"kind"`
	Stream string `json:"stream"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (p *Panel) broadcastLocked(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "panel").Msg("marshal message")
		return
	}
	for c := range p.clients {
		if err := c.TrySend(b); err != nil {
			log.Warn().Err(err).Str("module", "panel").Str("remote", c.remote).Msg("dropping slow client")
			delete(p.clients, c)
			c.Close()
		}
	}
}

type client struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte

	mu     sync.Mutex
	closed bool
}

var errClientClosed = errors.New("client closed")

func (c *client) TrySend(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

func (p *Panel) sendJSON(c *client, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "panel").Msg("marshal message")
		return
	}
	_ = c.TrySend(b)
}

func (p *Panel) handleWS(ctx context.Context, gc *gin.Context) {
	ws, err := upgrader.Upgrade(gc.Writer, gc.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "panel").Msg("ws upgrade")
		return
	}

	c := &client{conn: ws, remote: gc.Request.RemoteAddr, send: make(chan []byte, sendBuffer)}
	log.Info().Str("module", "panel").Str("remote", c.remote).Msg("client connected")

	// Register and send the snapshot under the lock so that no broadcast
	// can slip in before it.
	p.mu.Lock()
	snap := p.snapshotLocked()
	p.clients[c] = struct{}{}
	p.sendJSON(c, stateMessage{Type: "state", State: snap.State})
	p.sendJSON(c, controlsMessage{Type: "controls", Start: snap.Controls.Start, Stop: snap.Controls.Stop})
	for kind, stream := range snap.Streams {
		p.sendJSON(c, streamMessage{Type: "stream", Kind: kind, Stream: stream})
	}
	p.mu.Unlock()

	go p.writePump(c)
	go p.readPump(ctx, c)
}

func (p *Panel) writePump(c *client) {
	for b := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			log.Debug().Err(err).Str("module", "panel").Msg("set write deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			log.Debug().Err(err).Str("module", "panel").Msg("write")
			return
		}
	}
}

func (p *Panel) readPump(ctx context.Context, c *client) {
	defer func() {
		p.mu.Lock()
		delete(p.clients, c)
		p.mu.Unlock()
		c.Close()
		log.Info().Str("module", "panel").Str("remote", c.remote).Msg("client disconnected")
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		p.handleCommand(ctx, c, data)
	}
}

func (p *Panel) handleCommand(ctx context.Context, c *client, data []byte) {
	var cmd struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		log.Warn().Err(err).Str("module", "panel").Msg("bad command")
		return
	}

	switch cmd.Action {
	case "start":
		log.Info().Str("module", "panel").Str("remote", c.remote).Msg("start requested")
		go func() {
			err := p.ctrl.StartCall(ctx)
			if errors.Is(err, domain.ErrCallActive) {
				p.sendJSON(c, errorMessage{Type: "error", Error: err.Error()})
			}
		}()
	case "stop":
		log.Info().Str("module", "panel").Str("remote", c.remote).Msg("stop requested")
		p.ctrl.EndCall()
	default:
		log.Warn().Str("module", "panel").Str("action", cmd.Action).Msg("unknown action")
	}
}
