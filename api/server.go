// Package api exposes the session registry over HTTP, including a small
// websocket surface for polling clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/net/websocket"

	"github.com/zhubert/shepherd/config"
	"github.com/zhubert/shepherd/logger"
	"github.com/zhubert/shepherd/manager"
	"github.com/zhubert/shepherd/process"
	"github.com/zhubert/shepherd/session"
)

// Server serves the HTTP adapter.
type Server struct {
	sup  *manager.Supervisor
	log  *slog.Logger
	http *http.Server
}

// NewServer builds the HTTP adapter around a supervisor.
func NewServer(cfg *config.Config, sup *manager.Supervisor) *Server {
	s := &Server{
		sup: sup,
		log: logger.WithComponent("api"),
	}
	s.http = &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /sessions", s.handleCreate)
	mux.HandleFunc("GET /sessions", s.handleList)
	mux.HandleFunc("GET /sessions/{id}/status", s.handleStatus)
	mux.HandleFunc("POST /sessions/{id}/message", s.handleMessage)
	mux.HandleFunc("GET /sessions/{id}/logs", s.handleLogs)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleTerminate)
	mux.HandleFunc("GET /prompts", s.handlePrompts)
	mux.HandleFunc("POST /sessions/{id}/respond", s.handleRespond)
	mux.Handle("GET /ws", websocket.Handler(s.handleWS))
	return mux
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.sup.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": h.Sessions,
		"by_state": h.ByState,
		"alive":    h.Alive,
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		WorkingDir string `json:"working_dir"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	st, err := s.sup.Create(req.Name, req.WorkingDir)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sup.List()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sup.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("message is required"))
		return
	}

	if err := s.sup.Send(r.PathValue("id"), req.Message); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	lines := 0
	if v := r.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("lines must be a non-negative integer"))
			return
		}
		lines = n
	}
	full := r.URL.Query().Get("mode") == "full"

	logs, err := s.sup.Logs(r.PathValue("id"), lines, full)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.Terminate(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request) {
	pending := s.sup.CheckPrompts()
	payload := make([]map[string]string, 0, len(pending))
	for _, p := range pending {
		payload = append(payload, map[string]string{
			"session_id": p.SessionID,
			"name":       p.Name,
			"prompt":     p.Prompt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending_prompts": payload})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Response == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("response is required"))
		return
	}

	if err := s.sup.Respond(r.PathValue("id"), req.Response); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "responded"})
}

// handleWS serves a command/response websocket: clients send
// {"command": "list_sessions"} or {"command": "check_prompts"} and receive
// one JSON message per command.
func (s *Server) handleWS(ws *websocket.Conn) {
	defer ws.Close()
	s.log.Debug("websocket client connected", "remote", ws.Request().RemoteAddr)

	for {
		var req struct {
			Command string `json:"command"`
		}
		if err := websocket.JSON.Receive(ws, &req); err != nil {
			return
		}

		switch req.Command {
		case "list_sessions":
			websocket.JSON.Send(ws, map[string]any{
				"type":     "sessions",
				"sessions": s.sup.List(),
			})
		case "check_prompts":
			pending := s.sup.CheckPrompts()
			payload := make([]map[string]string, 0, len(pending))
			for _, p := range pending {
				payload = append(payload, map[string]string{
					"session_id": p.SessionID,
					"name":       p.Name,
					"prompt":     p.Prompt,
				})
			}
			websocket.JSON.Send(ws, map[string]any{
				"type":            "prompts",
				"pending_prompts": payload,
			})
		default:
			websocket.JSON.Send(ws, map[string]any{
				"type":  "error",
				"error": "unknown command",
			})
		}
	}
}

// writeError maps registry errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var spawnErr *process.SpawnError
	switch {
	case errors.Is(err, manager.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, session.ErrSessionNotActive),
		errors.Is(err, session.ErrNoPendingPrompt):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.As(err, &spawnErr), errors.Is(err, manager.ErrInvalidWorkingDir), errors.Is(err, fs.ErrNotExist):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		s.log.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
