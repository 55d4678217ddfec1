package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hubenschmidt/meeting-sidecar/internal/apperr"
	"github.com/hubenschmidt/meeting-sidecar/internal/httputil"
	"github.com/hubenschmidt/meeting-sidecar/internal/metrics"
)

// ExportFormats are the formats the backend can export.
var ExportFormats = []string{"txt", "md", "pdf"}

// Client talks to the transcription backend.
type Client struct {
	baseURL string
	client  *http.Client
	retry   httputil.RetryConfig
}

func NewClient(baseURL string, timeout time.Duration, retries int) *Client {
	cfg := httputil.DefaultRetryConfig()
	cfg.MaxRetries = max(0, retries)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httputil.NewPooledHTTPClient(4, timeout),
		retry:   cfg,
	}
}

// Upload sends the recording and returns the backend's recording id.
// Transport errors and 429/5xx responses are retried.
func (c *Client) Upload(ctx context.Context, data []byte, title, filename string) (string, error) {
	start := time.Now()
	body, contentType, err := buildMultipartRecording(data, title, filename)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeUploadFailed, messageUploadFailed)
	}

	headers := http.Header{"Content-Type": []string{contentType}}
	resp, err := httputil.Do(ctx, c.client, http.MethodPost, c.baseURL+"/recordings/upload", body, headers, c.retry)
	if err != nil {
		metrics.Errors.WithLabelValues("upload", "http").Inc()
		return "", apperr.Wrap(err, apperr.CodeUploadFailed, fmt.Sprintf("Upload failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.Errors.WithLabelValues("upload", "status").Inc()
		return "", apperr.New(apperr.CodeUploadFailed, errorText(resp.Body, messageUploadFailed)).
			WithDetail("status", resp.StatusCode)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Wrap(err, apperr.CodeUploadFailed, fmt.Sprintf("Upload failed: invalid response: %v", err))
	}
	if out.ID == "" {
		return "", apperr.New(apperr.CodeUploadFailed, "Upload failed: backend returned no id.")
	}
	metrics.UploadBytes.Add(float64(len(data)))
	metrics.StageDuration.WithLabelValues("upload").Observe(time.Since(start).Seconds())
	return out.ID, nil
}

// Process asks the backend to transcribe and summarize a recording. It is
// not retried; the backend does not treat it as idempotent.
func (c *Client) Process(ctx context.Context, id string) (*ProcessResponse, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/recordings/"+url.PathEscape(id)+"/process", nil)
	if err != nil {
		return nil, fmt.Errorf("create process request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("process", "http").Inc()
		return nil, apperr.Wrap(err, apperr.CodeProcessingFailed, fmt.Sprintf("Processing failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.Errors.WithLabelValues("process", "status").Inc()
		return nil, apperr.New(apperr.CodeProcessingFailed, detailText(resp.Body, messageProcessFailed)).
			WithDetail("status", resp.StatusCode)
	}

	var out ProcessResponse
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeProcessingFailed, fmt.Sprintf("Processing failed: invalid response: %v", err))
	}
	if out.ID == "" {
		out.ID = id
	}
	metrics.StageDuration.WithLabelValues("process").Observe(time.Since(start).Seconds())
	return &out, nil
}

// Export is a downloaded transcript artifact.
type Export struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Export downloads the backend's rendering of a recording.
func (c *Client) Export(ctx context.Context, id, format string) (*Export, error) {
	if !validFormat(format) {
		return nil, apperr.Newf(apperr.CodeValidation, "Unsupported export format %q.", format)
	}
	u := c.baseURL + "/recordings/" + url.PathEscape(id) + "/export?format=" + url.QueryEscape(format)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create export request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("export request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("export status %d: %s", resp.StatusCode, errorText(resp.Body, "Export failed."))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	return &Export{
		Data:        data,
		Filename:    exportFilename(resp.Header.Get("Content-Disposition"), id, format),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// Health probes the backend.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health status %d", resp.StatusCode)
	}
	var out map[string]any
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return out, nil
}

func buildMultipartRecording(data []byte, title, filename string) ([]byte, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("title", title); err != nil {
		return nil, "", fmt.Errorf("write title field: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}
	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}
	return body.Bytes(), writer.FormDataContentType(), nil
}

// errorText returns a response body as an error message, preferring a JSON
// "detail" field, falling back to fallback for an empty body.
func errorText(r io.Reader, fallback string) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var js struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(raw, &js) == nil && js.Detail != nil {
		if s, ok := js.Detail.(string); ok && s != "" {
			return s
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return fallback
}

// detailText reads only a JSON "detail" string; anything else yields fallback.
func detailText(r io.Reader, fallback string) string {
	var js struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&js); err != nil || js.Detail == "" {
		return fallback
	}
	return js.Detail
}

func validFormat(format string) bool {
	for _, f := range ExportFormats {
		if f == format {
			return true
		}
	}
	return false
}

func exportFilename(disposition, id, format string) string {
	if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
		return params["filename"]
	}
	return id + "." + format
}

// uploadFilename names the uploaded file after the recording's container.
func uploadFilename(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(base) {
	case "audio/ogg":
		return "recording.ogg"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "recording.wav"
	}
	return "recording.webm"
}
