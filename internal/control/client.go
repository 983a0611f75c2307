package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"
)

// ErrServer wraps every error body returned by the daemon.
var ErrServer = errors.New("control: server error")

// Client is a typed client for the control API. It is safe for concurrent
// use.
type Client struct {
	base string
	hc   *http.Client
}

// ClientOption is a functional option for [NewClient].
type ClientOption func(*Client)

// WithHTTPClient replaces [http.DefaultClient].
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// NewClient returns a client for the daemon at base, for example
// "http://localhost:8420".
func NewClient(base string, opts ...ClientOption) *Client {
	c := &Client{base: strings.TrimRight(base, "/"), hc: http.DefaultClient}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ── Commands ─────────────────────────────────────────────────────────────────

// Play resumes playback.
func (c *Client) Play(ctx context.Context) (Status, error) { return c.post(ctx, "/v1/play") }

// Pause halts the clock.
func (c *Client) Pause(ctx context.Context) (Status, error) { return c.post(ctx, "/v1/pause") }

// Toggle flips between playing and paused.
func (c *Client) Toggle(ctx context.Context) (Status, error) { return c.post(ctx, "/v1/toggle") }

// Next skips to the next playlist track.
func (c *Client) Next(ctx context.Context) (Status, error) { return c.post(ctx, "/v1/next") }

// Previous goes back one playlist track.
func (c *Client) Previous(ctx context.Context) (Status, error) { return c.post(ctx, "/v1/previous") }

// Stop empties the queue and keeps the playlist.
func (c *Client) Stop(ctx context.Context) (Status, error) { return c.post(ctx, "/v1/stop") }

// Seek sends req to POST /v1/seek.
func (c *Client) Seek(ctx context.Context, req SeekRequest) (Status, error) {
	var st Status
	return st, c.do(ctx, http.MethodPost, "/v1/seek", req, &st)
}

// ReplaceQueue sends req to PUT /v1/queue.
func (c *Client) ReplaceQueue(ctx context.Context, req QueueRequest) (Status, error) {
	var st Status
	return st, c.do(ctx, http.MethodPut, "/v1/queue", req, &st)
}

// Continue sends paths to POST /v1/queue/continue.
func (c *Client) Continue(ctx context.Context, paths []string) (Status, error) {
	var st Status
	return st, c.do(ctx, http.MethodPost, "/v1/queue/continue", ContinueRequest{Paths: paths}, &st)
}

// SetVolume sends v to PUT /v1/volume.
func (c *Client) SetVolume(ctx context.Context, v float64) (Status, error) {
	var st Status
	return st, c.do(ctx, http.MethodPut, "/v1/volume", VolumeRequest{Volume: &v}, &st)
}

// ── Queries ──────────────────────────────────────────────────────────────────

// Status fetches GET /v1/status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	return st, c.do(ctx, http.MethodGet, "/v1/status", nil, &st)
}

// Queue fetches GET /v1/queue.
func (c *Client) Queue(ctx context.Context) (Queue, error) {
	var q Queue
	return q, c.do(ctx, http.MethodGet, "/v1/queue", nil, &q)
}

// Find searches the library. A limit of 0 uses the server default.
func (c *Client) Find(ctx context.Context, query string, limit int) (LibraryResult, error) {
	v := url.Values{"q": {query}}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	var res LibraryResult
	return res, c.do(ctx, http.MethodGet, "/v1/library?"+v.Encode(), nil, &res)
}

// Events streams /v1/events into fn until ctx ends, the server closes the
// stream or fn returns an error.
func (c *Client) Events(ctx context.Context, fn func(Event) error) error {
	u := "ws" + strings.TrimPrefix(c.base, "http") + "/v1/events"
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPClient: c.hc})
	if err != nil {
		return fmt.Errorf("control: dial events: %w", err)
	}
	defer conn.CloseNow()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("control: read event: %w", err)
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("control: decode event: %w", err)
		}
		if err := fn(ev); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return err
		}
	}
}

// ── Transport ────────────────────────────────────────────────────────────────

func (c *Client) post(ctx context.Context, path string) (Status, error) {
	var st Status
	return st, c.do(ctx, http.MethodPost, path, nil, &st)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("control: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("control: %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("control: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e Error
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("%w: %d %s", ErrServer, resp.StatusCode, e.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("control: decode response: %w", err)
	}
	return nil
}
