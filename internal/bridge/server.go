// ABOUTME: Bridge host server answering timeSync.ntp requests over WebSocket
// ABOUTME: Manages connections, per-connection rate limits and mDNS advertisement
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/classclock/classclock-go/internal/discovery"
	"github.com/classclock/classclock-go/internal/protocol"
	"github.com/classclock/classclock-go/pkg/timesync"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	DefaultPort = 8928

	// Each connection may issue this many requests per second
	DefaultRequestsPerSecond = 4
	DefaultBurst             = 4
)

// Config holds server configuration
type Config struct {
	Port       int
	Name       string
	EnableMDNS bool

	RequestsPerSecond float64
	Burst             int

	// NTP performs the exchanges (default: LocalNTP)
	NTP timesync.NTPBridge
}

// Server is the bridge host
type Server struct {
	config   Config
	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux

	mdnsManager *discovery.Manager

	conns   map[*connection]struct{}
	closing bool
	connMu  sync.Mutex

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// connection is one websocket client of the bridge
type connection struct {
	conn    *websocket.Conn
	limiter *rate.Limiter
	writeMu sync.Mutex
	pending sync.WaitGroup
}

// NewServer creates a bridge host
func NewServer(config Config) *Server {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = DefaultBurst
	}
	if config.NTP == nil {
		config.NTP = NewLocalNTP()
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Only non-browser clients and local pages may use the bridge
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if origin == "http://localhost" || origin == "http://127.0.0.1" {
					return true
				}
				log.Printf("Rejecting WebSocket from origin: %s", origin)
				return false
			},
		},
		conns:    make(map[*connection]struct{}),
		stopChan: make(chan struct{}),
	}
	s.mux.HandleFunc(protocol.Path, s.handleWebSocket)
	return s
}

// Handler returns the HTTP handler serving the bridge endpoint
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Stop is called or the listener fails
func (s *Server) Start() error {
	log.Printf("Bridge starting: %s", s.config.Name)

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			Path:        protocol.Path,
		})

		if err := s.mdnsManager.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			log.Printf("mDNS advertisement started")
		}
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Printf("Bridge listening on %s%s", addr, protocol.Path)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-s.stopChan:
		log.Printf("Bridge shutting down...")
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
		serverErr = err
	}

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Shutdown leaves hijacked websocket connections open
	s.closeConnections()

	s.wg.Wait()
	log.Printf("Bridge stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// Connections returns the number of open client connections
func (s *Server) Connections() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.conns)
}

// closeConnections sends a close frame to every client and refuses new ones
func (s *Server) closeConnections() {
	s.connMu.Lock()
	s.closing = true
	open := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		open = append(open, c)
	}
	s.connMu.Unlock()

	for _, c := range open {
		c.close()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	shutdown := s.isShutdown
	s.shutdownMu.RUnlock()
	if shutdown {
		http.Error(w, "bridge shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New bridge connection from %s", r.RemoteAddr)

	s.wg.Add(1)
	defer s.wg.Done()
	s.handleConnection(conn)
}

// handleConnection reads requests until the client goes away
func (s *Server) handleConnection(conn *websocket.Conn) {
	c := &connection{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.Burst),
	}

	s.connMu.Lock()
	if s.closing {
		s.connMu.Unlock()
		c.close()
		return
	}
	s.conns[c] = struct{}{}
	s.connMu.Unlock()

	defer func() {
		c.pending.Wait()
		conn.Close()

		s.connMu.Lock()
		delete(s.conns, c)
		s.connMu.Unlock()
		log.Printf("Bridge connection closed")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			c.replyError("", fmt.Errorf("%w: malformed message: %w", timesync.ErrProtocol, err))
			continue
		}

		if msg.Type != protocol.TypeNTP {
			c.replyError(msg.ID, fmt.Errorf("%w: unknown message type %q", timesync.ErrProtocol, msg.Type))
			continue
		}

		if !c.limiter.Allow() {
			c.replyError(msg.ID, fmt.Errorf("%w: rate limit exceeded", timesync.ErrNetwork))
			continue
		}

		c.pending.Add(1)
		go func(msg protocol.Message) {
			defer c.pending.Done()
			s.handleNTP(c, msg)
		}(msg)
	}
}

// handleNTP answers one timeSync.ntp request
func (s *Server) handleNTP(c *connection, msg protocol.Message) {
	var req protocol.NTPRequest
	if err := msg.Decode(&req); err != nil {
		c.replyError(msg.ID, fmt.Errorf("%w: %w", timesync.ErrProtocol, err))
		return
	}

	timeout := timesync.DefaultTimeout
	if req.TimeoutMs > 0 {
		timeout = timesync.ClampTimeout(time.Duration(req.TimeoutMs) * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := s.config.NTP.NTP(ctx, req.Host, req.Port, timeout)
	if err != nil {
		log.Printf("NTP request for %s failed: %v", req.Host, err)
		c.replyError(msg.ID, err)
		return
	}

	reply, err := protocol.New(protocol.TypeNTPResult, msg.ID, protocol.NTPResult{
		OffsetMs:      res.OffsetMs,
		RTTMs:         res.RTTMs,
		ServerEpochMs: res.ServerEpochMs,
		MeasuredAt:    res.MeasuredAt,
	})
	if err != nil {
		c.replyError(msg.ID, err)
		return
	}
	c.send(reply)
}

func (c *connection) replyError(id string, err error) {
	kind := timesync.Kind(err)
	if kind == "" {
		kind = "network"
	}

	reply, encErr := protocol.New(protocol.TypeError, id, protocol.ErrorPayload{
		Kind:    kind,
		Message: err.Error(),
	})
	if encErr != nil {
		log.Printf("Error encoding error reply: %v", encErr)
		return
	}
	c.send(reply)
}

// close tells the client the bridge is going away and drops the socket,
// which ends the read loop
func (c *connection) close() {
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge shutting down"),
		time.Now().Add(time.Second))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		log.Printf("Error sending close frame: %v", err)
	}
	c.conn.Close()
}

func (c *connection) send(msg protocol.Message) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf("Error sending %s: %v", msg.Type, err)
	}
}
