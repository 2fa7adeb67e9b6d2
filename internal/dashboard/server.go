// Package dashboard provides a real-time WebSocket status server for the
// sync engine.
//
// The server broadcasts connectivity transitions, sync cycle progress, and
// store counters to connected WebSocket clients, so an operator (or the
// application's own UI) can watch reconciliation happen live.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of status message.
type MessageType string

const (
	// MessageTypeStatus carries an engine status snapshot.
	MessageTypeStatus MessageType = "status"

	// MessageTypeSyncComplete indicates a sync cycle finished.
	MessageTypeSyncComplete MessageType = "sync_complete"
)

// Message is a broadcast envelope.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatusData is an engine status snapshot.
type StatusData struct {
	Online      bool `json:"online"`
	Syncing     bool `json:"syncing"`
	Unsynced    int  `json:"unsynced_records"`
	Pending     int  `json:"pending_actions"`
	DeadLetters int  `json:"dead_letters"`
}

// SyncCompleteData summarizes a finished sync cycle.
type SyncCompleteData struct {
	RecordsPushed  int           `json:"records_pushed"`
	RecordsFailed  int           `json:"records_failed"`
	ActionsApplied int           `json:"actions_applied"`
	ActionsFailed  int           `json:"actions_failed"`
	DeadLettered   int           `json:"dead_lettered"`
	Duration       time.Duration `json:"duration"`
}

// Snapshotter supplies the current status for newly connected clients.
type Snapshotter func() StatusData

// Server manages WebSocket connections and broadcasts status messages.
type Server struct {
	addr     string
	snapshot Snapshotter
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]struct{}
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a status server listening on the given port.
//
// snapshot is called once per new client so it joins with the real current
// status rather than waiting for the next transition. If logger is nil,
// log.Default() is used.
func NewServer(port int, snapshot Snapshotter, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", port),
		snapshot:  snapshot,
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Status server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Status server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}

	s.wg.Wait()
	return nil
}

// PublishStatus broadcasts an engine status snapshot.
func (s *Server) PublishStatus(data StatusData) {
	s.publish(MessageTypeStatus, data)
}

// PublishSyncComplete broadcasts a completed cycle summary.
func (s *Server) PublishSyncComplete(data SyncCompleteData) {
	s.publish(MessageTypeSyncComplete, data)
}

func (s *Server) publish(typ MessageType, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("Failed to marshal %s message: %v", typ, err)
		return
	}

	msg := Message{Type: typ, Timestamp: time.Now(), Data: raw}

	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		// Slow consumers don't get to back up the engine.
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = struct{}{}
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Status client connected (total: %d)", count)

	// Join with the current status instead of waiting for a transition.
	if s.snapshot != nil {
		raw, err := json.Marshal(s.snapshot())
		if err == nil {
			msg, _ := json.Marshal(Message{
				Type:      MessageTypeStatus,
				Timestamp: time.Now(),
				Data:      raw,
			})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = conn.Write(ctx, websocket.MessageText, msg)
			cancel()
		}
	}

	go s.readLoop(conn)
}

// readLoop drains client frames so pings are answered and disconnects are
// noticed. Client messages are otherwise ignored.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		count := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Status client disconnected (total: %d)", count)
		return
	}
	s.clientsMu.Unlock()
}

// handleStatus serves the current snapshot over plain HTTP for curl-style
// checks.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var data StatusData
	if s.snapshot != nil {
		data = s.snapshot()
	}
	_ = json.NewEncoder(w).Encode(data)
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
