// ABOUTME: JSON HTTP API handlers over the chat service
// ABOUTME: Room setup, posting, next-message requests and conversation reads

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/nextturn/internal/chat"
	"github.com/2389/nextturn/internal/store"
)

// statusClientClosedRequest is reported when the caller went away mid-request.
const statusClientClosedRequest = 499

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// InitializeChatRequest is the JSON request body for POST /api/chats.
type InitializeChatRequest struct {
	ChatRoomName string        `json:"chat_room_name"`
	Users        []UserRequest `json:"users"`
}

// UserRequest describes one user to create.
type UserRequest struct {
	Name    string `json:"name"`
	Role    string `json:"role,omitempty"`
	Persona string `json:"persona,omitempty"`
}

// PostMessageRequest is the JSON request body for POST /api/rooms/{roomID}/messages.
type PostMessageRequest struct {
	AuthorUserID    string  `json:"author_user_id"`
	Content         string  `json:"content"`
	ParentMessageID *string `json:"parent_message_id,omitempty"`
}

// UserResponse is the JSON form of a user.
type UserResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role,omitempty"`
	Persona   string `json:"persona,omitempty"`
	CreatedAt string `json:"created_at"`
}

// RoomResponse is the JSON form of a room and its members.
type RoomResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Members   []UserResponse `json:"members"`
	CreatedAt string         `json:"created_at"`
}

// MessageResponse is the JSON form of a message. ContentHTML is the content
// rendered as Markdown.
type MessageResponse struct {
	ID              string  `json:"id"`
	RoomID          string  `json:"room_id"`
	AuthorUserID    string  `json:"author_user_id"`
	Content         string  `json:"content"`
	ContentHTML     string  `json:"content_html"`
	ParentMessageID *string `json:"parent_message_id"`
	DetachedFrom    *string `json:"detached_from,omitempty"`
	Depth           int     `json:"depth"`
	CreatedAt       string  `json:"created_at"`
}

// ConversationResponse is the JSON response for GET /api/messages/{messageID}/conversation.
type ConversationResponse struct {
	Messages []MessageResponse `json:"messages"`
}

func (s *Server) handleInitializeChat(w http.ResponseWriter, r *http.Request) {
	var req InitializeChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	params := chat.InitializeChatParams{ChatRoomName: req.ChatRoomName}
	for _, u := range req.Users {
		params.Users = append(params.Users, store.CreateUserParams{Name: u.Name, Role: u.Role, Persona: u.Persona})
	}

	setup, err := s.chat.InitializeChat(r.Context(), params)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, toRoomResponse(setup.Room, setup.Users))
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")

	room, err := s.chat.GetChatRoom(r.Context(), roomID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	members, err := s.chat.ListChatRoomMembers(r.Context(), roomID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toRoomResponse(room, members))
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.AuthorUserID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "author_user_id is required")
		return
	}

	msg, err := s.chat.PostMessage(r.Context(), store.PostMessageParams{
		RoomID:          r.PathValue("roomID"),
		AuthorUserID:    req.AuthorUserID,
		Content:         req.Content,
		ParentMessageID: req.ParentMessageID,
	})
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, s.toMessageResponse(msg))
}

// handleRequestNext blocks until the next message exists. A client that
// disconnects abandons its wait; generation carries on and the result is
// served from the store on the next request.
func (s *Server) handleRequestNext(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	messageID := r.PathValue("messageID")

	start := time.Now()
	msg, err := s.chat.RequestNext(r.Context(), messageID, roomID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	s.logger.Debug("next message served",
		"position", messageID,
		"message_id", msg.ID,
		"elapsed", time.Since(start))
	s.writeJSON(w, http.StatusOK, s.toMessageResponse(msg))
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	path, err := s.chat.ListConversation(r.Context(), r.PathValue("messageID"), limit)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	resp := ConversationResponse{Messages: make([]MessageResponse, 0, len(path))}
	for _, msg := range path {
		resp.Messages = append(resp.Messages, s.toMessageResponse(msg))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.chat.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// sendServiceError maps chat errors onto HTTP statuses.
func (s *Server) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, chat.ErrGenerationFailure):
		s.logger.Warn("generation failed", "path", r.URL.Path, "error", err)
		s.sendJSONError(w, http.StatusBadGateway, "generation failed")
	case errors.Is(err, context.Canceled):
		s.logger.Debug("client went away", "path", r.URL.Path)
		s.sendJSONError(w, statusClientClosedRequest, "request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		s.sendJSONError(w, http.StatusGatewayTimeout, "timed out")
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func (s *Server) toMessageResponse(msg *store.Message) MessageResponse {
	return MessageResponse{
		ID:              msg.ID,
		RoomID:          msg.RoomID,
		AuthorUserID:    msg.AuthorUserID,
		Content:         msg.Content,
		ContentHTML:     s.renderMarkdown(msg.Content),
		ParentMessageID: msg.ParentMessageID,
		DetachedFrom:    msg.DetachedFrom,
		Depth:           msg.Depth,
		CreatedAt:       msg.CreatedAt.Format(time.RFC3339Nano),
	}
}

// renderMarkdown converts message content to HTML. Raw HTML in the source
// is not passed through.
func (s *Server) renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(content), &buf); err != nil {
		s.logger.Warn("failed to convert markdown", "error", err)
		return ""
	}
	return buf.String()
}

func toRoomResponse(room *store.ChatRoom, members []*store.User) RoomResponse {
	resp := RoomResponse{
		ID:        room.ID,
		Name:      room.Name,
		Members:   make([]UserResponse, 0, len(members)),
		CreatedAt: room.CreatedAt.Format(time.RFC3339Nano),
	}
	for _, u := range members {
		resp.Members = append(resp.Members, UserResponse{
			ID:        u.ID,
			Name:      u.Name,
			Role:      u.Role,
			Persona:   u.Persona,
			CreatedAt: u.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	return resp
}
