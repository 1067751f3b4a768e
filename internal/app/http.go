package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/restquest/internal/health"
	"github.com/MrWong99/restquest/internal/observe"
)

// routes builds the HTTP API:
//
//	GET  /status         current run status with the live snapshot
//	POST /sessions       start a session (409 while one is running)
//	POST /sessions/stop  stop the running session (409 when idle)
//	GET  /healthz        liveness
//	GET  /readyz         readiness
//	GET  /metrics        Prometheus scrape, when a handler was injected
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", a.handleStatus)
	mux.HandleFunc("POST /sessions", a.handleStart)
	mux.HandleFunc("POST /sessions/stop", a.handleStop)
	health.New(a.checks...).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	return observe.Middleware(a.metrics)(mux)
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Status    Status `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.runner.Status())
}

func (a *App) handleStart(w http.ResponseWriter, _ *http.Request) {
	id, err := a.runner.Start()
	switch {
	case errors.Is(err, ErrBusy):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusAccepted, startResponse{SessionID: id, Status: a.runner.Status()})
	}
}

func (a *App) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := a.runner.Stop(); err != nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, a.runner.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
