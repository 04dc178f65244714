// Package httpapi exposes the conversation engine over HTTP/JSON:
// POST /chat drives a session turn, /resources serves generated
// documents, /healthz and /metrics cover operations.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nbfc-labs/loanflow/coreengine/graph"
	"github.com/nbfc-labs/loanflow/coreengine/session"
	"github.com/nbfc-labs/loanflow/coreengine/tools"
)

// ChatRequest is one user turn.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatResponse carries the assistant reply and the session's stage.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
	FlowStage string `json:"flow_stage"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves the conversation API.
type Server struct {
	store       *session.Store
	resources   *tools.ResourceStore
	logger      graph.Logger
	turnTimeout time.Duration
	mux         *http.ServeMux
}

// NewServer wires the HTTP routes.
func NewServer(store *session.Store, resources *tools.ResourceStore, logger graph.Logger, turnTimeout time.Duration) *Server {
	s := &Server{
		store:       store,
		resources:   resources,
		logger:      logger,
		turnTimeout: turnTimeout,
		mux:         http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("GET /resources/{name}", s.handleResource)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe blocks serving the API until the context is cancelled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message must not be empty"})
		return
	}

	ctx := r.Context()
	if s.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.turnTimeout)
		defer cancel()
	}

	started := time.Now()
	st, err := s.store.Advance(ctx, req.SessionID, req.Message)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, graph.ErrConfiguration) {
			// Surface loudly: the graph itself is miswired.
			s.logger.Error("chat_configuration_fault", "error", err.Error())
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	reply := st.LastAssistantReply()
	if reply == "" {
		reply = "I'm having trouble processing that."
	}
	s.logger.Info("chat_turn_completed",
		"session_id", st.SessionID,
		"flow_stage", string(st.FlowStage),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, ChatResponse{
		SessionID: st.SessionID,
		Response:  reply,
		FlowStage: string(st.FlowStage),
	})
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	data, err := s.resources.Open(name)
	if err != nil {
		if errors.Is(err, tools.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("resource not found: %s", name)})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read resource"})
		return
	}
	if strings.HasSuffix(name, ".pdf") {
		w.Header().Set("Content-Type", "application/pdf")
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
