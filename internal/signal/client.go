package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rtcdemo/client/internal/domain"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"
)

const maxErrorBody = 256

// Options describes the signaling server's HTTP contract.
type Options struct {
	// BaseURL is the page origin the endpoint paths are resolved against.
	BaseURL          string
	SessionHeader    string
	ConnectPath      string
	CandidatePath    string
	SDPPath          string
	DisconnectPath   string
	SDPMethod        string
	RequireSessionID bool

	// Timeout bounds each HTTP request; zero means no limit.
	Timeout time.Duration

	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration

	HTTPClient *http.Client
}

// Client talks to the signaling server over HTTP.
type Client struct {
	opts Options
	base *url.URL
	http *http.Client
}

// NewClient creates a signaling client.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse signaling base url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if opts.SDPMethod == "" {
		opts.SDPMethod = http.MethodPost
	}
	if opts.SessionHeader == "" {
		opts.SessionHeader = "Session-ID"
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{opts: opts, base: base, http: hc}, nil
}

// Connect opens a session and returns the identifier issued by the server.
func (c *Client) Connect(ctx context.Context) (domain.SessionID, error) {
	var sid domain.SessionID
	err := c.do(ctx, "connect", http.MethodPost, c.opts.ConnectPath, "", nil, func(resp *http.Response, _ []byte) error {
		id := resp.Header.Get(c.opts.SessionHeader)
		if id == "" && c.opts.RequireSessionID {
			return fmt.Errorf("response has no %s header", c.opts.SessionHeader)
		}
		sid = domain.SessionID(id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrConnect, err)
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("connected")
	return sid, nil
}

// SendCandidate posts one local candidate.
func (c *Client) SendCandidate(ctx context.Context, sid domain.SessionID, cand domain.Candidate) error {
	if cand.IsComplete() {
		return nil
	}
	body, err := json.Marshal(cand)
	if err != nil {
		return fmt.Errorf("marshal candidate: %w", err)
	}
	if err := c.do(ctx, "candidate", http.MethodPost, c.opts.CandidatePath, sid, body, nil); err != nil {
		return fmt.Errorf("send candidate: %w: %w", domain.ErrSignalingTransport, err)
	}
	return nil
}

// ExchangeSDP submits the local offer and returns the server's answer.
func (c *Client) ExchangeSDP(ctx context.Context, sid domain.SessionID, offer domain.SessionDescription) (domain.SessionDescription, error) {
	body, err := json.Marshal(offer)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("marshal offer: %w", err)
	}

	var answer domain.SessionDescription
	err = c.do(ctx, "sdp", c.opts.SDPMethod, c.opts.SDPPath, sid, body, func(_ *http.Response, respBody []byte) error {
		desc, err := domain.ParseSessionDescription(respBody)
		if err != nil {
			return err
		}
		if desc.Type != domain.SDPTypeAnswer {
			return fmt.Errorf("server replied with %q, want answer", desc.Type)
		}
		answer = desc
		return nil
	})
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: %w", domain.ErrSdpExchange, err)
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("received SDP answer")
	return answer, nil
}

// Disconnect tells the server the session is over. The response body is ignored.
func (c *Client) Disconnect(ctx context.Context, sid domain.SessionID) error {
	if err := c.do(ctx, "disconnect", http.MethodPost, c.opts.DisconnectPath, sid, nil, nil); err != nil {
		return fmt.Errorf("disconnect: %w: %w", domain.ErrSignalingTransport, err)
	}
	return nil
}

// do sends one request, retrying transport errors and 5xx responses with
// exponential backoff. handle, when set, validates a 2xx response; its
// errors are not retried. A connect request that may have reached the
// server without an answer is not retried either, since a retry could open
// a second session the client never learns about.
func (c *Client) do(ctx context.Context, op, method, path string, sid domain.SessionID, body []byte,
	handle func(resp *http.Response, body []byte) error) error {
	target := c.base.ResolveReference(&url.URL{Path: path}).String()
	retryUnanswered := op != "connect"

	attempt := func() error {
		reqCtx := ctx
		if c.opts.Timeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
			defer cancel()
		}

		req, err := http.NewRequestWithContext(reqCtx, method, target, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create http request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if sid != "" {
			req.Header.Set(c.opts.SessionHeader, string(sid))
		}

		log.Debug().Str("module", "signal").Str("op", op).Str("method", method).Str("url", target).Msg(">>>")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			err = fmt.Errorf("http request: %w", err)
			if !retryUnanswered {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			err = fmt.Errorf("read response: %w", err)
			if !retryUnanswered {
				return backoff.Permanent(err)
			}
			return err
		}

		log.Debug().Str("module", "signal").Str("op", op).Int("status", resp.StatusCode).Msg("<<<")

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("http %d: %s", resp.StatusCode, truncate(respBody))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("http %d: %s", resp.StatusCode, truncate(respBody)))
		}

		if handle != nil {
			if err := handle(resp, respBody); err != nil {
				return backoff.Permanent(err)
			}
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	if c.opts.InitialInterval > 0 {
		b.InitialInterval = c.opts.InitialInterval
	}
	if c.opts.MaxInterval > 0 {
		b.MaxInterval = c.opts.MaxInterval
	}
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.opts.MaxRetries), ctx)
	return backoff.RetryNotify(attempt, policy, func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("module", "signal").Str("op", op).Dur("retry_in", wait).Msg("request failed, retrying")
	})
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
