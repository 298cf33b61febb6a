// internal/websocket/server.go
package websocket

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local-only transport; the listener binds to loopback
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server pushes core events to websocket subscribers. It implements the
// event hub's Broadcaster interface; every emitted event fans out to all
// connected clients.
type Server struct {
	port       int
	authKey    string
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	httpServer *http.Server
}

// NewServer creates an event-stream server. port 0 picks an ephemeral
// port; the chosen port is returned by Start.
func NewServer(port int) *Server {
	return &Server{
		port:    port,
		authKey: os.Getenv("CODETRAIL_AUTH_KEY"),
		clients: make(map[string]*Client),
	}
}

// Start binds the listener on loopback and begins accepting subscribers
func (s *Server) Start(ctx context.Context) (int, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return 0, fmt.Errorf("listen: %w", err)
	}
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[WebSocket] Serve error: %v", err)
		}
	}()
	return s.port, nil
}

// handleEvents upgrades a subscriber connection and streams events to it
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.authKey != "" && r.URL.Query().Get("key") != s.authKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Upgrade failed: %v", err)
		return
	}

	client := NewClient(uuid.New().String(), conn)
	s.clientsMu.Lock()
	s.clients[client.ID] = client
	s.clientsMu.Unlock()
	log.Printf("[WebSocket] Client connected: %s", client.ID)

	go client.WritePump()

	// Subscribers only receive; the read loop exists to notice the close
	go func() {
		defer s.removeClient(client.ID)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) removeClient(id string) {
	s.clientsMu.Lock()
	client, ok := s.clients[id]
	delete(s.clients, id)
	s.clientsMu.Unlock()

	if ok {
		client.Close()
		log.Printf("[WebSocket] Client disconnected: %s", id)
	}
}

// BroadcastEvent fans one event out to every connected subscriber
func (s *Server) BroadcastEvent(eventType string, payload interface{}) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		if err := client.SendEvent(eventType, payload); err != nil {
			log.Printf("[WebSocket] Dropping event for client %s: %v", client.ID, err)
		}
	}
}

// Stop shuts the server down and disconnects all subscribers
func (s *Server) Stop(ctx context.Context) error {
	s.clientsMu.Lock()
	for id, client := range s.clients {
		client.Close()
		delete(s.clients, id)
	}
	s.clientsMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
