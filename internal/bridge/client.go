// ABOUTME: WebSocket client of the bridge host
// ABOUTME: Implements timesync.NTPBridge by forwarding timeSync.ntp requests
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/classclock/classclock-go/internal/protocol"
	"github.com/classclock/classclock-go/pkg/timesync"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// replyGrace is added to the sample timeout while waiting for a reply
const replyGrace = 2 * time.Second

// ClientConfig holds client configuration
type ClientConfig struct {
	ServerAddr string
	// MaxConnectWait bounds dial retries (default 30s)
	MaxConnectWait time.Duration
}

// Client forwards NTP requests to a bridge host. It connects lazily and
// reconnects after the connection drops.
type Client struct {
	config ClientConfig
	conn   *websocket.Conn
	mu     sync.RWMutex

	writeMu sync.Mutex

	pending   map[string]chan protocol.Message
	pendingMu sync.Mutex

	connected bool
}

// remoteError is a failure reported by the bridge host
type remoteError struct {
	kind error
	msg  string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.kind }

// NewClient creates a bridge client
func NewClient(config ClientConfig) *Client {
	if config.MaxConnectWait <= 0 {
		config.MaxConnectWait = 30 * time.Second
	}

	return &Client{
		config:  config,
		pending: make(map[string]chan protocol.Message),
	}
}

// Connect dials the bridge host, retrying with exponential backoff until
// MaxConnectWait elapses or ctx is done
func (c *Client) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}

	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: protocol.Path}
	log.Printf("Connecting to bridge %s", u.String())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.config.MaxConnectWait

	var conn *websocket.Conn
	op := func() error {
		var err error
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			log.Printf("Bridge dial failed: %v", err)
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("%w: dial failed: %w", timesync.ErrNetwork, err)
	}

	c.mu.Lock()
	if c.connected {
		// Lost a race with another caller
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readMessages(conn)

	log.Printf("Connected to bridge %s", c.config.ServerAddr)
	return nil
}

// NTP asks the bridge host for one exchange against host:port
func (c *Client) NTP(ctx context.Context, host string, port int, timeout time.Duration) (timesync.SampleResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+replyGrace)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		return timesync.SampleResult{}, err
	}

	id := uuid.New().String()
	req, err := protocol.New(protocol.TypeNTP, id, protocol.NTPRequest{
		Host:      host,
		Port:      port,
		TimeoutMs: timeout.Milliseconds(),
	})
	if err != nil {
		return timesync.SampleResult{}, err
	}

	replies := make(chan protocol.Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = replies
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.sendJSON(req); err != nil {
		return timesync.SampleResult{}, fmt.Errorf("%w: %w", timesync.ErrNetwork, err)
	}

	select {
	case reply, ok := <-replies:
		if !ok {
			return timesync.SampleResult{}, fmt.Errorf("%w: bridge connection lost", timesync.ErrNetwork)
		}
		return decodeReply(reply)
	case <-ctx.Done():
		return timesync.SampleResult{}, fmt.Errorf("%w: no reply from bridge: %w", timesync.ErrNetwork, ctx.Err())
	}
}

func decodeReply(msg protocol.Message) (timesync.SampleResult, error) {
	switch msg.Type {
	case protocol.TypeNTPResult:
		var res protocol.NTPResult
		if err := msg.Decode(&res); err != nil {
			return timesync.SampleResult{}, fmt.Errorf("%w: %w", timesync.ErrProtocol, err)
		}
		return timesync.SampleResult{
			OffsetMs:      res.OffsetMs,
			RTTMs:         res.RTTMs,
			ServerEpochMs: res.ServerEpochMs,
			MeasuredAt:    res.MeasuredAt,
		}, nil

	case protocol.TypeError:
		var payload protocol.ErrorPayload
		if err := msg.Decode(&payload); err != nil {
			return timesync.SampleResult{}, fmt.Errorf("%w: %w", timesync.ErrProtocol, err)
		}
		return timesync.SampleResult{}, &remoteError{kind: timesync.KindError(payload.Kind), msg: payload.Message}

	default:
		return timesync.SampleResult{}, fmt.Errorf("%w: unexpected reply type %q", timesync.ErrProtocol, msg.Type)
	}
}

func (c *Client) sendJSON(msg protocol.Message) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()

	if !connected {
		return errors.New("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// readMessages routes replies to waiting callers until the connection fails
func (c *Client) readMessages(conn *websocket.Conn) {
	defer c.drop(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Bridge read error: %v", err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Failed to parse bridge message: %v", err)
			continue
		}

		c.pendingMu.Lock()
		replies, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
		}
		c.pendingMu.Unlock()

		if !ok {
			log.Printf("Dropping bridge reply for unknown request %q (%s)", msg.ID, msg.Type)
			continue
		}
		replies <- msg
	}
}

// drop forgets conn and fails every request still waiting on it
func (c *Client) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.connected = false
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()

	c.pendingMu.Lock()
	for id, replies := range c.pending {
		close(replies)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.conn.Close()
		log.Printf("Bridge connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
