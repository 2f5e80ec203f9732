// ABOUTME: HTTP server lifecycle for nextturn: routing, listening and graceful shutdown
// ABOUTME: Wraps the chat service behind a net/http ServeMux

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/nextturn/internal/chat"
	"github.com/2389/nextturn/internal/store"
)

// ChatService is the part of chat.Service the HTTP API uses.
type ChatService interface {
	InitializeChat(ctx context.Context, params chat.InitializeChatParams) (*chat.ChatSetup, error)
	GetChatRoom(ctx context.Context, id string) (*store.ChatRoom, error)
	ListChatRoomMembers(ctx context.Context, roomID string) ([]*store.User, error)
	PostMessage(ctx context.Context, params store.PostMessageParams) (*store.Message, error)
	RequestNext(ctx context.Context, messageID, roomID string) (*store.Message, error)
	ListConversation(ctx context.Context, messageID string, limit int) ([]*store.Message, error)
	Ping(ctx context.Context) error
}

// Server serves the JSON API.
type Server struct {
	chat       ChatService
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a server that will listen on addr.
func New(addr string, svc ChatService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		chat:   svc,
		logger: logger.With("component", "server"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: next-message requests block until generation ends
	}
	return s
}

// Handler returns the routed API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	mux.HandleFunc("POST /api/chats", s.handleInitializeChat)
	mux.HandleFunc("GET /api/rooms/{roomID}", s.handleGetRoom)
	mux.HandleFunc("POST /api/rooms/{roomID}/messages", s.handlePostMessage)
	mux.HandleFunc("GET /api/rooms/{roomID}/messages/{messageID}/next", s.handleRequestNext)
	mux.HandleFunc("GET /api/messages/{messageID}/conversation", s.handleConversation)

	return s.logRequests(mux)
}

// logRequests logs each request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// Run listens and serves until ctx is cancelled, then shuts down within
// shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

// Serve serves on ln until ctx is cancelled or the server fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case err, ok := <-errCh:
		if ok {
			s.logger.Error("server error", "error", err)
			return err
		}
		return nil
	}

	// The parent context is already canceled
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}
