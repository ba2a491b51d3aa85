// Package client provides a Go client for a remote conversion server:
// job submission and queries over HTTP, live progress over WebSocket.
//
// Usage:
//
//	c := client.New("http://localhost:8080")
//	defer c.Close()
//
//	res, err := c.Submit(ctx, client.SubmitRequest{
//	    PPTURL:  "https://example.com/deck.pptx",
//	    PPTName: "deck.pptx",
//	})
//
//	ch, err := c.Watch(ctx, res.TaskID)
//	for evt := range ch {
//	    fmt.Printf("%s: %s\n", evt.Type, evt.Data)
//	}
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	ppt2img "github.com/pengcunfu/YushuRobotPPT2IMG"
	"github.com/pengcunfu/YushuRobotPPT2IMG/stream"
)

// Client talks to a remote conversion server.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	// Reconnection.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration

	// WebSocket state, established lazily on the first Watch.
	mu      sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex
	closed  atomic.Bool

	subs sync.Map // topic → chan *stream.Event
}

// New creates a client for the server at baseURL (e.g. "http://host:8080").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ppt2img/client: server returned %d: %s", e.Status, e.Message)
}

// Is maps busy rejections onto the service sentinel so callers can test
// errors.Is(err, ppt2img.ErrServerBusy) across the wire.
func (e *APIError) Is(target error) bool {
	return target == ppt2img.ErrServerBusy && e.Status == http.StatusServiceUnavailable
}

// do issues the request and decodes the JSON response into out (if non-nil).
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ppt2img/client: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: body.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ppt2img/client: decode response: %w", err)
	}
	return nil
}

// wsURL derives the WebSocket endpoint from the HTTP base URL.
func (c *Client) wsURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// connect dials the WebSocket endpoint and consumes the greeting frame.
// Callers hold c.mu.
func (c *Client) connect(ctx context.Context) error {
	conn, _, _, err := ws.Dial(ctx, c.wsURL())
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("read greeting: %w", err)
	}
	var greeting struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &greeting); err != nil || greeting.Type != "connected" {
		_ = conn.Close()
		return fmt.Errorf("unexpected greeting frame")
	}

	c.conn = conn
	return nil
}

// ensureConn establishes the WebSocket connection on first use.
func (c *Client) ensureConn(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	if err := c.connect(ctx); err != nil {
		return fmt.Errorf("ppt2img/client: %w", err)
	}
	go c.readLoop(c.conn)
	return nil
}

// readLoop reads frames from the WebSocket and routes events to watchers.
func (c *Client) readLoop(conn net.Conn) {
	for {
		if c.closed.Load() {
			return
		}

		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("websocket read error", slog.String("error", err.Error()))
			if c.reconnect {
				c.tryReconnect()
			}
			return
		}

		var evt stream.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		// Control frames (snapshot, ack, error) carry no topic.
		if evt.Topic == "" {
			continue
		}
		if val, ok := c.subs.Load(evt.Topic); ok {
			ch := val.(chan *stream.Event)
			select {
			case ch <- &evt:
			default:
				// Drop rather than stall the read loop.
			}
		}
	}
}

// tryReconnect re-dials with exponential backoff and replays the active
// subscriptions on the new connection.
func (c *Client) tryReconnect() {
	delay := c.baseDelay
	for i := range c.maxRetries {
		c.logger.Info("websocket reconnecting",
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
		)
		time.Sleep(delay)

		c.mu.Lock()
		c.conn = nil
		err := c.connect(context.Background())
		conn := c.conn
		c.mu.Unlock()
		if err != nil {
			c.logger.Warn("websocket reconnect failed", slog.String("error", err.Error()))
			delay = min(delay*2, 30*time.Second)
			continue
		}

		c.subs.Range(func(key, _ any) bool {
			topic := key.(string)
			jobID := strings.TrimPrefix(topic, "job:")
			if err := c.writeAction("subscribe", jobID); err != nil {
				c.logger.Warn("resubscribe failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
			return true
		})

		go c.readLoop(conn)
		c.logger.Info("websocket reconnected")
		return
	}
	c.logger.Error("websocket reconnect attempts exhausted")
}

// writeAction sends a control frame on the WebSocket.
func (c *Client) writeAction(action, jobID string) error {
	frame, err := json.Marshal(map[string]string{
		"action": action,
		"job_id": jobID,
	})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientText(c.conn, frame)
}

// Close shuts down the WebSocket connection and all watch channels.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.subs.Range(func(key, val any) bool {
		close(val.(chan *stream.Event))
		c.subs.Delete(key)
		return true
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
