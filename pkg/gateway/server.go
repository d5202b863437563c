// Package gateway exposes the assistant over a WebSocket endpoint with
// challenge-response authentication.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/knollapp/knoll/pkg/conversation"
	"github.com/knollapp/knoll/pkg/stream"
)

// IntentProcessor handles one user utterance. Implemented by the
// conversation orchestrator.
type IntentProcessor interface {
	ProcessIntent(ctx context.Context, senderID, text string) (*conversation.Reply, error)
	ProcessIntentStream(ctx context.Context, senderID, text, connID string, transport stream.Transport) (*conversation.Reply, error)
}

// Config holds server configuration.
type Config struct {
	Port         int
	SharedSecret string
	Processor    IntentProcessor
	Streams      *stream.Coordinator
	Logger       zerolog.Logger
}

// Server is the WebSocket gateway.
type Server struct {
	port         int
	server       *http.Server
	upgrader     websocket.Upgrader
	clients      *ClientRegistry
	authHandler  *AuthHandler
	processor    IntentProcessor
	streams      *stream.Coordinator
	logger       zerolog.Logger
	shuttingDown bool
	shutdownMu   sync.RWMutex
	inFlight     sync.WaitGroup
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("intent processor is required")
	}

	return &Server{
		port:        cfg.Port,
		clients:     NewClientRegistry(),
		authHandler: NewAuthHandler(cfg.SharedSecret),
		processor:   cfg.Processor,
		streams:     cfg.Streams,
		logger:      cfg.Logger.With().Str("module", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Start begins serving. It does not block.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	s.logger.Info().Int("port", s.port).Msg("Starting gateway")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop drains in-flight intents and shuts the server down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.shuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway")

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.All() {
		client.markClosed()
		client.Conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway stopped")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.shuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	senderID := r.URL.Query().Get("sender")
	if senderID == "" {
		senderID = "local"
	}

	client := &Client{
		ID:           clientID,
		SenderID:     senderID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
		State:        StateConnecting,
	}
	s.clients.Add(client)

	s.logger.Info().Str("client_id", clientID).Str("ip", r.RemoteAddr).
		Msg("Client connected")

	if err := s.sendChallenge(client); err != nil {
		s.logger.Error().Err(err).Str("client_id", clientID).Msg("Failed to send auth challenge")
		conn.Close()
		s.clients.Remove(clientID)
		return
	}

	go s.handleClient(client)
}

func (s *Server) sendChallenge(client *Client) error {
	challenge, err := s.authHandler.GenerateChallenge()
	if err != nil {
		return err
	}

	client.Challenge = challenge
	client.State = StateAuthenticating

	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	return client.Conn.WriteJSON(AuthChallenge{
		Event:     "auth.challenge",
		Challenge: challenge,
	})
}

func (s *Server) handleClient(client *Client) {
	defer func() {
		client.markClosed()
		if s.streams != nil {
			s.streams.Abort(client.ID)
		}
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("client_id", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error().Err(err).Str("client_id", client.ID).Msg("WebSocket error")
			}
			return
		}

		client.LastActivity = time.Now()
		s.handleFrame(client, message)
	}
}

func (s *Server) handleFrame(client *Client, message []byte) {
	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		s.sendReply(client, "", conversation.ErrorReply("Malformed frame"))
		return
	}

	if frame.Type == FrameAuth {
		s.handleAuth(client, frame)
		return
	}

	if !client.Authenticated {
		s.sendReply(client, frame.ID, conversation.ErrorReply("Authentication required"))
		return
	}

	switch frame.Type {
	case FramePing:
		s.sendEvent(client, "pong", frame.ID, nil)

	case FrameAbort:
		if s.streams != nil {
			s.streams.Abort(client.ID)
		}

	case FrameIntent:
		s.handleIntent(client, frame)

	default:
		s.sendReply(client, frame.ID, conversation.ErrorReply(fmt.Sprintf("Unknown frame type: %s", frame.Type)))
	}
}

func (s *Server) handleAuth(client *Client, frame Frame) {
	var params struct {
		Signature string `json:"signature"`
	}
	if frame.Params != nil {
		_ = json.Unmarshal(frame.Params, &params)
	}

	result := s.authHandler.HandleResponse(client, params.Signature)

	client.writeMu.Lock()
	err := client.Conn.WriteJSON(result)
	client.writeMu.Unlock()
	if err != nil {
		s.logger.Error().Err(err).Str("client_id", client.ID).Msg("Failed to send auth result")
		return
	}

	if !result.Success {
		s.logger.Warn().Str("client_id", client.ID).Str("reason", result.Message).
			Msg("Authentication failed")
		if client.AuthAttempts >= maxAuthAttempts {
			client.Conn.Close()
		}
		return
	}

	s.logger.Info().Str("client_id", client.ID).Msg("Client authenticated")
}

// handleIntent processes an intent off the read loop so slow turns do
// not block pings and aborts from the same connection.
func (s *Server) handleIntent(client *Client, frame Frame) {
	if frame.Text == "" {
		s.sendReply(client, frame.ID, conversation.ErrorReply("Intent text cannot be empty"))
		return
	}

	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()

		ctx := context.Background()

		var reply *conversation.Reply
		var err error
		if frame.Stream && s.streams != nil {
			reply, err = s.processor.ProcessIntentStream(ctx, client.SenderID, frame.Text, client.ID, client)
		} else {
			reply, err = s.processor.ProcessIntent(ctx, client.SenderID, frame.Text)
		}

		if err != nil {
			s.logger.Error().Err(err).Str("client_id", client.ID).Msg("Intent processing failed")
			s.sendReply(client, frame.ID, conversation.ErrorReply(err.Error()))
			return
		}

		// The reply frame is canonical even for streamed turns; chunks
		// are display hints.
		s.sendReply(client, frame.ID, reply)
	}()
}

func (s *Server) sendReply(client *Client, frameID string, reply *conversation.Reply) {
	s.sendEvent(client, "reply", frameID, reply)
}

func (s *Server) sendEvent(client *Client, event, frameID string, data interface{}) {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	err := client.Conn.WriteJSON(EventMessage{
		Event:     event,
		ID:        frameID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("client_id", client.ID).Str("event", event).
			Msg("Failed to send event")
	}
}

// Count returns the number of connected clients.
func (s *Server) Count() int {
	return s.clients.Count()
}
