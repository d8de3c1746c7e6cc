package chat

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	myMiddleware "github.com/opsihab660/realtime-chat-sub001/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

// Handler is the HTTP face of the chat engine: the websocket upgrade
// plus the REST endpoints for history and conversation management.
type Handler struct {
	engine *Engine
	store  Store
	logger *slog.Logger
}

func NewHandler(engine *Engine, store Store, logger *slog.Logger) *Handler {
	return &Handler{
		engine: engine,
		store:  store,
		logger: logger,
	}
}

// ServeWs upgrades the request and plugs the connection into the engine.
// Identity comes from the auth middleware, never from the client.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, username, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(h.engine, conn, userID, username)
	h.engine.HandleConnect(r.Context(), client)

	// Note: the pumps run in new goroutines, ServeWs returns immediately.
	go client.WritePump()
	go client.ReadPump()
}

type startConversationRequest struct {
	RecipientID int `json:"recipient_id"`
}

// StartConversation resolves (or creates) the thread with another user so
// a client can open a chat window before the first message exists.
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req startConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.RecipientID <= 0 || req.RecipientID == userID {
		http.Error(w, "recipient_id must name another user", http.StatusBadRequest)
		return
	}

	exists, err := h.store.UserExists(r.Context(), req.RecipientID)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Error(w, "recipient not found", http.StatusNotFound)
		return
	}

	blocked, err := h.store.BlockedEither(r.Context(), userID, req.RecipientID)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if blocked {
		http.Error(w, "messaging is blocked between these users", http.StatusForbidden)
		return
	}

	conv, err := h.store.FindOrCreateConversation(r.Context(), userID, req.RecipientID)
	if err != nil {
		h.logger.Error("conversation create failed", "user_id", userID, "error", err)
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(conv)
}

// ListConversations returns the caller's conversations, pinned first,
// then most recent activity.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	summaries, err := h.store.Conversations(r.Context(), userID)
	if err != nil {
		h.logger.Error("conversation list failed", "user_id", userID, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []ConversationSummary{}
	}
	json.NewEncoder(w).Encode(summaries)
}

type patchConversationRequest struct {
	Archived *bool `json:"archived,omitempty"`
	Pinned   *bool `json:"pinned,omitempty"`
	Muted    *bool `json:"muted,omitempty"`
}

// PatchConversation flips the caller's per-member flags. Only the flags
// present in the body change.
func (h *Handler) PatchConversation(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	var req patchConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Archived == nil && req.Pinned == nil && req.Muted == nil {
		http.Error(w, "nothing to update", http.StatusBadRequest)
		return
	}

	conv, err := h.store.ConversationByID(r.Context(), conversationID)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	// Non-participants get the same 404 as a missing conversation.
	if conv == nil || !conv.HasParticipant(userID) {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}

	flags := map[string]*bool{
		"archived": req.Archived,
		"pinned":   req.Pinned,
		"muted":    req.Muted,
	}
	for name, value := range flags {
		if value == nil {
			continue
		}
		if err := h.store.SetMemberFlag(r.Context(), conversationID, userID, name, *value); err != nil {
			http.Error(w, "update failed", http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// ListMessages pages one conversation's history backwards in time:
// ?conversation_id=N&before=RFC3339&limit=M, newest first.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID, err := strconv.Atoi(r.URL.Query().Get("conversation_id"))
	if err != nil {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return
	}

	before := time.Now()
	if raw := r.URL.Query().Get("before"); raw != "" {
		if before, err = time.Parse(time.RFC3339, raw); err != nil {
			http.Error(w, "before must be RFC3339", http.StatusBadRequest)
			return
		}
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
	}

	conv, err := h.store.ConversationByID(r.Context(), conversationID)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if conv == nil || !conv.HasParticipant(userID) {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}

	msgs, err := h.store.Messages(r.Context(), conversationID, before, limit)
	if err != nil {
		h.logger.Error("history page failed", "conversation_id", conversationID, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	// Tombstones go out blanked no matter what the rows still hold.
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Sanitized())
	}
	json.NewEncoder(w).Encode(out)
}
