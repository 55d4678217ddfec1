package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/meeting-sidecar/internal/apperr"
	"github.com/hubenschmidt/meeting-sidecar/internal/mictest"
	"github.com/hubenschmidt/meeting-sidecar/internal/prefs"
	"github.com/hubenschmidt/meeting-sidecar/internal/session"
	"github.com/hubenschmidt/meeting-sidecar/internal/ws"
)

func newTestServer(t *testing.T) (*httptest.Server, *app) {
	t.Helper()
	a := &app{
		cfg:   defaultConfig(),
		prefs: prefs.Open(filepath.Join(t.TempDir(), "prefs.yaml")),
		hub:   ws.NewHub(),
		ctrl:  session.New(session.Config{}),
		mic:   mictest.New(nil, mictest.Config{}),
	}
	mux := http.NewServeMux()
	registerRoutes(mux, a)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, a
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestSessionRoutes(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantErr  apperr.Code
	}{
		{"snapshot", http.MethodGet, "/api/session", "", http.StatusOK, ""},
		{"blank title", http.MethodPost, "/api/session/start", `{"title":"  "}`, http.StatusBadRequest, apperr.CodeValidation},
		{"bad body", http.MethodPost, "/api/session/start", `{`, http.StatusBadRequest, apperr.CodeValidation},
		{"no bridge", http.MethodPost, "/api/session/start", `{"title":"Sync"}`, http.StatusServiceUnavailable, apperr.CodeBridgeUnavailable},
		{"stop idle", http.MethodPost, "/api/session/stop", "", http.StatusConflict, apperr.CodeNotCapturing},
		{"reset idle", http.MethodPost, "/api/session/reset", "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)

			assert.Equal(t, tt.wantCode, resp.StatusCode)
			body := decodeBody(t, resp)
			if tt.wantErr == "" {
				assert.Equal(t, "Idle", body["state"])
				return
			}
			errObj, ok := body["error"].(map[string]any)
			require.True(t, ok, "error object in %v", body)
			assert.Equal(t, string(tt.wantErr), errObj["code"])
		})
	}
}

func TestResultAndAudioNotFoundWithoutResult(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/api/session/result", "/recordings/abc/audio"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestHistoryDisabled(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/api/history", "/api/history/abc"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestPrefsRoundTrip(t *testing.T) {
	srv, a := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/prefs",
		strings.NewReader(`{"consent":true,"last_directory":"/rec","last_microphone":"mic-2"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	got := a.prefs.Get()
	assert.True(t, got.Consent)
	assert.Equal(t, "/rec", got.LastDirectory)
	assert.Equal(t, "mic-2", got.LastMicrophone)

	resp, err = http.Get(srv.URL + "/api/prefs")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, "mic-2", body["last_microphone"])
}

func TestMicTestRefusedWhileGuarded(t *testing.T) {
	srv, a := newTestServer(t)
	a.mic.Guard = func() bool { return true }

	resp, err := http.Post(srv.URL+"/api/mictest/start", "application/json", strings.NewReader(`{"mic_id":"m"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestWriteErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.New(apperr.CodeBusy, "busy"), http.StatusConflict},
		{apperr.New(apperr.CodePermissionDenied, "denied"), http.StatusForbidden},
		{apperr.New(apperr.CodeUploadFailed, "upload"), http.StatusBadGateway},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeError(rec, tt.err)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/history?limit=5&offset=x", nil)
	assert.Equal(t, 5, queryInt(r, "limit", 20))
	assert.Equal(t, 0, queryInt(r, "offset", 0))
	assert.Equal(t, 7, queryInt(r, "missing", 7))
}
