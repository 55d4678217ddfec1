package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/meeting-sidecar/internal/apperr"
	"github.com/hubenschmidt/meeting-sidecar/internal/history"
	"github.com/hubenschmidt/meeting-sidecar/internal/prefs"
	"github.com/hubenschmidt/meeting-sidecar/internal/session"
	"github.com/hubenschmidt/meeting-sidecar/internal/ws"
)

// defaultHistoryLimit is how many journaled sessions are returned when the
// caller omits ?limit=.
const defaultHistoryLimit = 20

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, a *app) {
	mux.Handle("/ws/events", ws.NewHandler(a.hub, a.hello))
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/session", a.handleSnapshot)
	mux.HandleFunc("POST /api/session/start", a.handleStart)
	mux.HandleFunc("POST /api/session/stop", a.handleStop)
	mux.HandleFunc("POST /api/session/cancel", a.handleCancel)
	mux.HandleFunc("POST /api/session/reset", a.handleReset)
	mux.HandleFunc("GET /api/session/result", a.handleResult)
	mux.HandleFunc("POST /api/session/speakers", a.handleRenameSpeaker)
	mux.HandleFunc("GET /recordings/{id}/audio", a.handleAudio)
	mux.HandleFunc("GET /api/export/{id}", a.handleExport)

	mux.HandleFunc("GET /api/backend/health", a.handleBackendHealth)
	mux.HandleFunc("GET /api/devices", a.handleDevices)
	mux.HandleFunc("GET /api/mictest", a.handleMicTest)
	mux.HandleFunc("POST /api/mictest/start", a.handleMicTestStart)
	mux.HandleFunc("POST /api/mictest/stop", a.handleMicTestStop)

	mux.HandleFunc("GET /api/prefs", a.handlePrefs)
	mux.HandleFunc("PUT /api/prefs", a.handlePutPrefs)
	mux.HandleFunc("POST /api/prefs/directory", a.handleSelectDirectory)

	registerHistoryRoutes(mux, a.store)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// hello is the first frame of every event feed connection.
func (a *app) hello() []byte {
	frame, err := ws.Encode("session", time.Now(), a.ctrl.Snapshot())
	if err != nil {
		return nil
	}
	return frame
}

func (a *app) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Snapshot())
}

func (a *app) handleStart(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(err, apperr.CodeValidation, "Invalid request body."))
		return
	}
	_, err := a.start(r.Context(), req)
	switch {
	case err == nil, errors.Is(err, session.ErrCancelled), apperr.Is(err, apperr.CodeSaveCancelled):
		writeJSON(w, http.StatusOK, a.ctrl.Snapshot())
	default:
		writeError(w, err)
	}
}

func (a *app) handleStop(w http.ResponseWriter, r *http.Request) {
	if _, err := a.ctrl.Stop(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.ctrl.Snapshot())
}

func (a *app) handleCancel(w http.ResponseWriter, r *http.Request) {
	cancelled := a.ctrl.Cancel()
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled, "session": a.ctrl.Snapshot()})
}

func (a *app) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := a.ctrl.Reset(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.ctrl.Snapshot())
}

func (a *app) handleResult(w http.ResponseWriter, r *http.Request) {
	res := a.ctrl.Result()
	if res == nil {
		http.Error(w, "no result", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":   res,
		"segments": res.Search(r.URL.Query().Get("q")),
	})
}

func (a *app) handleRenameSpeaker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speaker string `json:"speaker"`
		Name    string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(err, apperr.CodeValidation, "Invalid request body."))
		return
	}
	res, err := a.ctrl.RenameSpeaker(req.Speaker, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleAudio serves the saved file of the last finished session.
func (a *app) handleAudio(w http.ResponseWriter, r *http.Request) {
	res := a.ctrl.Result()
	if res == nil || res.SessionID != r.PathValue("id") || res.AudioPath == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if _, err := os.Stat(res.AudioPath); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if res.MimeType != "" {
		w.Header().Set("Content-Type", res.MimeType)
	}
	http.ServeFile(w, r, res.AudioPath)
}

func (a *app) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "md"
	}
	exp, err := a.client.Export(r.Context(), r.PathValue("id"), format)
	if err != nil {
		slog.Error("export", "recording_id", r.PathValue("id"), "format", format, "error", err)
		writeError(w, err)
		return
	}
	if exp.ContentType != "" {
		w.Header().Set("Content-Type", exp.ContentType)
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+exp.Filename+`"`)
	w.Write(exp.Data)
}

func (a *app) handleBackendHealth(w http.ResponseWriter, r *http.Request) {
	status, err := a.client.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"reachable": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reachable": true, "backend": status})
}

func (a *app) handleDevices(w http.ResponseWriter, r *http.Request) {
	mics, err := a.neg.Microphones(r.Context())
	if err != nil {
		slog.Error("list microphones", "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"microphones": mics,
		"last":        a.prefs.Get().LastMicrophone,
	})
}

func (a *app) handleMicTest(w http.ResponseWriter, r *http.Request) {
	reading := a.mic.Reading()
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   a.mic.Active(),
		"level":    reading.Level,
		"speaking": reading.Speaking,
	})
}

func (a *app) handleMicTestStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MicID string `json:"mic_id"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperr.Wrap(err, apperr.CodeValidation, "Invalid request body."))
			return
		}
	}
	if req.MicID == "" {
		req.MicID = a.prefs.Get().LastMicrophone
	}
	if err := a.mic.Start(r.Context(), req.MicID); err != nil {
		writeError(w, err)
		return
	}
	a.handleMicTest(w, r)
}

func (a *app) handleMicTestStop(w http.ResponseWriter, r *http.Request) {
	a.mic.Stop()
	a.handleMicTest(w, r)
}

func (a *app) handlePrefs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.prefs.Get())
}

func (a *app) handlePutPrefs(w http.ResponseWriter, r *http.Request) {
	var in prefs.Prefs
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperr.Wrap(err, apperr.CodeValidation, "Invalid request body."))
		return
	}
	out := a.prefs.Update(func(p *prefs.Prefs) { *p = in })
	writeJSON(w, http.StatusOK, out)
}

func (a *app) handleSelectDirectory(w http.ResponseWriter, r *http.Request) {
	dir, err := a.bridge.SelectDirectory(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if dir != "" {
		a.prefs.SetLastDirectory(dir)
	}
	writeJSON(w, http.StatusOK, map[string]any{"directory": dir, "cancelled": dir == ""})
}

func registerHistoryRoutes(mux *http.ServeMux, store *history.Store) {
	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "history disabled", http.StatusNotFound)
			return
		}
		limit := queryInt(r, "limit", defaultHistoryLimit)
		offset := queryInt(r, "offset", 0)
		sessions, total, err := store.ListSessions(r.Context(), limit, offset)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "total": total})
	})

	mux.HandleFunc("GET /api/history/{id}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "history disabled", http.StatusNotFound)
			return
		}
		sess, transitions, err := store.GetSession(r.Context(), r.PathValue("id"))
		if errors.Is(err, history.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sess, "transitions": transitions})
	})
}

var codeStatus = map[apperr.Code]int{
	apperr.CodeValidation:        http.StatusBadRequest,
	apperr.CodeBusy:              http.StatusConflict,
	apperr.CodeNotCapturing:      http.StatusConflict,
	apperr.CodeBridgeUnavailable: http.StatusServiceUnavailable,
	apperr.CodePermissionDenied:  http.StatusForbidden,
	apperr.CodeDeviceUnavailable: http.StatusServiceUnavailable,
	apperr.CodeNoDesktopSource:   http.StatusServiceUnavailable,
	apperr.CodeSaveCancelled:     http.StatusOK,
	apperr.CodeRecorderFault:     http.StatusInternalServerError,
	apperr.CodeWriteFailed:       http.StatusInternalServerError,
	apperr.CodeUploadFailed:      http.StatusBadGateway,
	apperr.CodeProcessingFailed:  http.StatusBadGateway,
}

func writeError(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = apperr.Wrap(err, "", "")
	}
	status, ok := codeStatus[ae.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{"error": ae})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
