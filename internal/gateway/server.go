package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"goa.design/agentcore/internal/coreerr"
)

// Server is the HTTP surface over a Gateway, grounded on
// dohr-michael-ozzie's gateway.Server: a chi router with the standard
// Recoverer/RealIP middleware stack and small JSON-encoding handlers.
type Server struct {
	gw         *Gateway
	hub        *Hub
	httpServer *http.Server
}

// NewServer builds the chi-routed HTTP server exposing the operational
// surface (spec §6) at addr.
func NewServer(gw *Gateway, addr string) *Server {
	hub := newHub(gw)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{gw: gw, hub: hub}

	r.Get("/healthz", s.handleHealth)
	r.Post("/v1/tasks", s.handleSubmit)
	r.Get("/v1/tasks/{taskID}", s.handleTaskStatus)
	r.Post("/v1/tasks/{taskID}/cancel", s.handleCancel)
	r.Post("/v1/agents/{agentID}/interrupt", s.handleInterrupt)
	r.Get("/v1/status", s.handleStatus)
	r.Post("/v1/shutdown", s.handleShutdown)
	r.Get("/v1/events", hub.ServeWS)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops accepting connections and closes the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text         string `json:"text"`
		ContextFiles int    `json:"contextFiles"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	taskID, err := s.gw.Submit(r.Context(), body.Text, body.ContextFiles)
	if err != nil {
		writeCoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	rec, ok := s.gw.Task(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown task id "+taskID)
		return
	}
	resp := struct {
		ID      string            `json:"id"`
		Status  TaskStatus        `json:"status"`
		Results map[string]string `json:"results,omitempty"`
		Error   string            `json:"error,omitempty"`
	}{ID: rec.ID, Status: rec.Status, Results: rec.Results}
	if rec.Err != nil {
		resp.Error = rec.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.gw.Cancel(taskID); err != nil {
		writeCoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"taskId": taskID, "status": "cancelling"})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	ok, err := s.gw.Interrupt(agentID)
	if err != nil {
		writeCoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agentId": agentID, "interrupted": ok})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.gw.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"agents":     st.Agents,
		"byStatus":   st.PoolStats.ByState,
		"queueDepth": st.QueueDepth,
		"buffered":   st.Buffered,
	})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.gw.Shutdown(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutdown"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeCoreErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch coreerr.KindOf(err) {
	case coreerr.NotFound:
		status = http.StatusNotFound
	case coreerr.Busy:
		status = http.StatusTooManyRequests
	case coreerr.NotActive, coreerr.Aborted:
		status = http.StatusConflict
	case coreerr.Auth:
		status = http.StatusUnauthorized
	}
	writeError(w, status, err.Error())
}
