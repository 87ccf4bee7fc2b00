package events

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Artwork provides the current cover thumbnail, if any
type Artwork interface {
	Thumbnail() (data []byte, ok bool)
}

// Server exposes the hub to presentation consumers:
//
//	GET /events   WebSocket stream of events
//	GET /status   JSON snapshot
//	GET /artwork  current cover thumbnail (JPEG)
type Server struct {
	logger   *zap.Logger
	hub      *Hub
	artwork  Artwork
	addr     string
	upgrader websocket.Upgrader

	srv      *http.Server
	listener net.Listener
}

// NewServer creates the presentation feed server. An empty addr disables it.
func NewServer(logger *zap.Logger, hub *Hub, artwork Artwork, addr string) *Server {
	return &Server{
		logger:  logger,
		hub:     hub,
		artwork: artwork,
		addr:    addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handler returns the router serving every endpoint
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/artwork", s.handleArtwork).Methods(http.MethodGet)
	return router
}

// Start binds the listen address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	if s.addr == "" {
		s.logger.Info("Presentation feed disabled")
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Presentation feed stopped", zap.Error(err))
		}
	}()

	s.logger.Info("Presentation feed listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" when not serving
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes subscriber streams and shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.hub.Close()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id, events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	done := make(chan struct{})
	go s.readLoop(conn, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("WebSocket write failed", zap.String("id", id.String()), zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readLoop keeps the read deadline fresh on pongs and notices when the peer goes away
func (s *Server) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("WebSocket unexpected close", zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.hub.Snapshot()); err != nil {
		s.logger.Debug("Failed to write status", zap.Error(err))
	}
}

func (s *Server) handleArtwork(w http.ResponseWriter, r *http.Request) {
	if s.artwork == nil {
		http.Error(w, "artwork disabled", http.StatusNotFound)
		return
	}
	data, ok := s.artwork.Thumbnail()
	if !ok {
		http.Error(w, "no artwork", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}
