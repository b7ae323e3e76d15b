// Package server exposes the engine over HTTP: a REST surface for
// conversation lifecycle and approvals, plus WebSocket streams for live
// content blocks and terminal sessions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/agentdeck/agentdeck/internal/approval"
	"github.com/agentdeck/agentdeck/internal/bus"
	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/registry"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/internal/supervisor"
	"github.com/agentdeck/agentdeck/internal/terminal"
)

// Server is the HTTP front of the engine.
type Server struct {
	registry   *registry.Registry
	supervisor *supervisor.Supervisor
	approvals  *approval.Coordinator
	bus        *bus.Bus
	store      *store.Store
	terminals  *terminal.Pool

	httpServer *http.Server
}

// New wires the server. terminals may be nil to disable the terminal surface.
func New(reg *registry.Registry, sup *supervisor.Supervisor, appr *approval.Coordinator, b *bus.Bus, st *store.Store, term *terminal.Pool) *Server {
	return &Server{
		registry:   reg,
		supervisor: sup,
		approvals:  appr,
		bus:        b,
		store:      st,
		terminals:  term,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/conversations", s.handleListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations", s.handleCreateConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}", s.handleGetConversation).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}", s.handleCloseConversation).Methods(http.MethodDelete)
	api.HandleFunc("/conversations/{id}/messages", s.handleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/answer", s.handleAnswerQuestion).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/suspend", s.handleSuspend).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/mode", s.handleSwitchMode).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/approvals", s.handleListApprovals).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/approvals", s.handleResolveApproval).Methods(http.MethodPost)

	r.HandleFunc("/ws/conversations/{id}", s.handleConversationStream)

	if s.terminals != nil {
		api.HandleFunc("/terminals", s.handleCreateTerminal).Methods(http.MethodPost)
		api.HandleFunc("/terminals/{id}", s.handleCloseTerminal).Methods(http.MethodDelete)
		r.HandleFunc("/ws/terminals/{id}", s.handleTerminalStream)
	}

	return r
}

// Serve blocks on the listener until Shutdown.
func (s *Server) Serve(host string, port int) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold connections open
	}
	log.Info().Str("addr", s.httpServer.Addr).Msg("server listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"conversations": s.registry.Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("response encode failed")
	}
}

// writeError maps domain errors onto HTTP status codes and machine-readable
// error codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := domain.ErrCodeInternalError

	var spawnErr *domain.SpawnError
	var toolErr *domain.ToolExecutionError
	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		status, code = http.StatusNotFound, domain.ErrCodeConversationNotFound
	case errors.Is(err, domain.ErrNoPendingPermission):
		status, code = http.StatusNotFound, domain.ErrCodeNoPendingPermission
	case errors.Is(err, domain.ErrUnsupportedTool):
		status, code = http.StatusBadRequest, domain.ErrCodeUnsupportedTool
	case errors.Is(err, domain.ErrExecutableNotFound):
		status, code = http.StatusBadRequest, domain.ErrCodeExecutableNotFound
	case errors.Is(err, domain.ErrProcessNotRunning):
		status, code = http.StatusConflict, domain.ErrCodeProcessNotRunning
	case errors.Is(err, domain.ErrProcessRunning):
		status, code = http.StatusConflict, domain.ErrCodeProcessRunning
	case errors.As(err, &spawnErr):
		code = domain.ErrCodeSpawnFailed
	case errors.As(err, &toolErr):
		code = domain.ErrCodeToolExecutionFailed
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}
