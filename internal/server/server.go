// Package server exposes the chat core over HTTP: message submission,
// reply triggering, history reads, health, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"starchat/internal/chat"
	"starchat/internal/core"
	"starchat/internal/gateway"
	"starchat/internal/logging"
)

// Store is the read surface the HTTP layer needs beyond the service.
type Store interface {
	RecentMessages(convID string, limit int) ([]*chat.Message, error)
	ListPosts(limit int) ([]*chat.Post, error)
}

// Server wraps the router and its collaborators.
type Server struct {
	svc   *core.Service
	store Store
	http  *http.Server
}

// New builds the server for the given listen address.
func New(addr string, svc *core.Service, store Store) *Server {
	s := &Server{svc: svc, store: store}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/conversations", s.handleListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations", s.handleCreateConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/messages", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", s.handleSubmitMessage).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/reply", s.handleTriggerReply).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/ingest", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/posts", s.handlePosts).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	logging.Get(logging.CategoryServer).Info("listening on %s", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.svc.Conversations()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var conv chat.Conversation
	if err := json.NewDecoder(r.Body).Decode(&conv); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.svc.CreateConversation(&conv); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msgs, err := s.store.RecentMessages(id, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type submitRequest struct {
	Content string `json:"content"`
	// Type selects the user message kind: text (default), image, or voice.
	Type string `json:"type"`
	// Wait makes the request block until the assistant turn finishes.
	Wait bool `json:"wait"`
}

func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}
	switch req.Type {
	case "", "text", "image", "voice":
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type must be text, image, or voice"})
		return
	}

	sess, err := s.svc.Session(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	ctx := r.Context()
	if !req.Wait {
		// The handler replies 202 immediately and net/http cancels the
		// request context on return; the reply turn must outlive it.
		ctx = context.WithoutCancel(ctx)
	}
	done, err := sess.SubmitUserMessage(ctx, req.Content, chat.MessageType(req.Type))
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	if req.Wait {
		if err := <-done; err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "replied"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleTriggerReply(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.svc.Session(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	done := sess.TriggerReply(r.Context(), gateway.PriorityUser)
	if err := <-done; err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "replied"})
}

type ingestRequest struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// handleIngest records an externally produced message without triggering a
// reply, for simulated events and integrations.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Sender == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sender and content are required"})
		return
	}
	sess, err := s.svc.Session(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	m := chat.NewMessage(id, chat.RoleSystem, req.Sender, chat.TypeSystemNote, req.Content)
	if err := sess.IngestIncoming(m); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.store.ListPosts(50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Get(logging.CategoryServer).Error("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	logging.Get(logging.CategoryServer).Warn("request failed (%d): %v", status, err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
