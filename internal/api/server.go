// Package api exposes the bridge over local HTTP: session and message
// CRUD, a send endpoint that drives the agent stream in the background,
// and a per-session WebSocket feed carrying the rendering events a
// front end needs to mirror the conversation.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sahaay/internal/bridge"
	"sahaay/internal/chat"
	"sahaay/internal/ledger"
	"sahaay/internal/metrics"
)

type Server struct {
	httpServer *http.Server
	svc        *bridge.Service
	store      *ledger.Store
	authToken  string
	log        zerolog.Logger
}

func New(addr, authToken string, svc *bridge.Service, store *ledger.Store, log zerolog.Logger) *Server {
	s := &Server{
		svc:       svc,
		store:     store,
		authToken: authToken,
		log:       log,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/v1/sessions", s.withAuth(s.handleSessions))
	mux.HandleFunc("/api/v1/sessions/", s.withAuth(s.handleSessionByID))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("bridge listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.authenticate(r); err != nil {
			s.log.Warn().Str("path", r.URL.Path).Msg("auth failed")
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
			return
		}
		next(w, r)
	}
}

// authenticate accepts the bearer token from the Authorization header
// or, for WebSocket clients that cannot set headers, from the token
// query parameter.
func (s *Server) authenticate(r *http.Request) error {
	if s.authToken == "" {
		return nil
	}
	token := ""
	if authHeader := strings.TrimSpace(r.Header.Get("Authorization")); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return fmt.Errorf("missing or invalid bearer token")
		}
		token = strings.TrimSpace(parts[1])
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token != s.authToken {
		return fmt.Errorf("missing or invalid bearer token")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		rec, err := s.svc.CreateSession(r.Context(), strings.TrimSpace(req.Title))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, sessionJSON(rec))
	case http.MethodGet:
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		recs, err := s.store.ListSessions(r.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		items := make([]map[string]any, 0, len(recs))
		for _, rec := range recs {
			items = append(items, sessionJSON(rec))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	}
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session id missing"})
		return
	}
	parts := strings.Split(path, "/")
	sessionID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGetSession(w, r, sessionID)
		case http.MethodPatch:
			s.handleRenameSession(w, r, sessionID)
		case http.MethodDelete:
			if err := s.svc.DeleteSession(r.Context(), sessionID); err != nil {
				writeJSON(w, notFoundOr500(err), map[string]any{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "deleted": true})
		default:
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		}
		return
	}

	action := parts[1]
	switch action {
	case "messages":
		s.handleMessages(w, r, sessionID)
	case "chat":
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		var req struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if err := s.svc.Send(r.Context(), sessionID, req.Message); err != nil {
			switch {
			case errors.Is(err, chat.ErrBusy):
				writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
			case errors.Is(err, chat.ErrEmptyMessage):
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			case errors.Is(err, ledger.ErrNotFound):
				writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
			default:
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			}
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"session_id": sessionID,
			"accepted":   true,
			"stream_url": "/api/v1/sessions/" + sessionID + "/events",
		})
	case "cancel":
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		s.svc.Cancel(sessionID)
		writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "cancelled": true})
	case "usage":
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		totals, err := s.store.SessionUsage(r.Context(), sessionID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, totals)
	case "events":
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		s.handleSessionEvents(w, r, sessionID)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown action"})
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	rec, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, notFoundOr500(err), map[string]any{"error": err.Error()})
		return
	}
	obj := sessionJSON(rec)
	if r.URL.Query().Get("include_messages") == "true" {
		msgs, err := s.store.ListMessages(r.Context(), sessionID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		obj["messages"] = messagesJSON(msgs)
	}
	writeJSON(w, http.StatusOK, obj)
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "title is required"})
		return
	}
	if err := s.store.UpdateSessionTitle(r.Context(), sessionID, title); err != nil {
		writeJSON(w, notFoundOr500(err), map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "title": title})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case http.MethodGet:
		if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
			writeJSON(w, notFoundOr500(err), map[string]any{"error": err.Error()})
			return
		}
		msgs, err := s.store.ListMessages(r.Context(), sessionID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": messagesJSON(msgs)})
	case http.MethodPost:
		var req struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if req.Role != chat.RoleUser && req.Role != chat.RoleAssistant {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "role must be user or assistant"})
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "content is required"})
			return
		}
		if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
			writeJSON(w, notFoundOr500(err), map[string]any{"error": err.Error()})
			return
		}
		msg, err := s.store.AddMessage(r.Context(), sessionID, req.Role, req.Content)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, messageJSON(msg))
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		writeJSON(w, notFoundOr500(err), map[string]any{"error": err.Error()})
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	fromSeq := uint64(0)
	if v := r.URL.Query().Get("from_seq"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			fromSeq = n
		}
	}

	// Subscribe first so nothing published between replay and the live
	// loop is lost; duplicates are possible and clients dedupe on seq.
	sub, unsub := s.svc.Subscribe(sessionID, 64)
	defer unsub()

	for _, ev := range s.svc.Replay(sessionID, fromSeq) {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
	for ev := range sub {
		if ev.Seq <= fromSeq {
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

func sessionJSON(rec ledger.SessionRecord) map[string]any {
	return map[string]any{
		"session_id": rec.ID,
		"title":      rec.Title,
		"created_at": rec.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": rec.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func messageJSON(msg ledger.MessageRecord) map[string]any {
	return map[string]any{
		"id":         msg.ID,
		"session_id": msg.SessionID,
		"role":       msg.Role,
		"content":    msg.Content,
		"created_at": msg.CreatedAt.Format(time.RFC3339Nano),
	}
}

func messagesJSON(msgs []ledger.MessageRecord) []map[string]any {
	items := make([]map[string]any, 0, len(msgs))
	for _, msg := range msgs {
		items = append(items, messageJSON(msg))
	}
	return items
}

func notFoundOr500(err error) int {
	if errors.Is(err, ledger.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, obj any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(obj)
}
