package processing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/meeting-sidecar/internal/apperr"
)

type backend struct {
	uploadStatus  int
	uploadBody    string
	processStatus int
	processBody   string
	uploads       atomic.Int32
	processes     atomic.Int32
	gotTitle      string
	gotFilename   string
	gotFile       string
}

func (b *backend) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /recordings/upload", func(w http.ResponseWriter, r *http.Request) {
		b.uploads.Add(1)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		b.gotTitle = r.FormValue("title")
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		b.gotFile = string(data)
		b.gotFilename = hdr.Filename
		if b.uploadStatus != 0 {
			w.WriteHeader(b.uploadStatus)
			w.Write([]byte(b.uploadBody))
			return
		}
		w.Write([]byte(`{"id":"rec-1"}`))
	})
	mux.HandleFunc("POST /recordings/{id}/process", func(w http.ResponseWriter, r *http.Request) {
		b.processes.Add(1)
		if b.processStatus != 0 {
			w.WriteHeader(b.processStatus)
		}
		w.Write([]byte(b.processBody))
	})
	mux.HandleFunc("GET /recordings/{id}/export", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="Team Sync.`+r.URL.Query().Get("format")+`"`)
		w.Write([]byte("# Team Sync"))
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","diarization":true}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newOrchestrator(url string) *Orchestrator {
	c := NewClient(url, 5*time.Second, 0)
	c.retry.InitialDelay = time.Millisecond
	return &Orchestrator{Client: c, Labeler: Labeler{Policy: PolicyFixed}}
}

func submission() Submission {
	return Submission{
		Meta: Meta{SessionID: "s1", Title: "Team Sync", AudioPath: "/rec/a.webm", MimeType: "audio/webm;codecs=opus", ElapsedMs: 4200},
		Data: []byte("opus-bytes"),
	}
}

func TestSubmitSuccess(t *testing.T) {
	b := &backend{processBody: `{"id":"rec-1","transcript":{"text":"hi there","segments":[
		{"start":0.0,"end":1.2345,"text":"hi"},
		{"start":1.9999,"end":3.5,"text":"there","speaker":"SPEAKER_01"}]},
		"summary":{"bullets":["greeting"],"action_items":[]}}`}
	o := newOrchestrator(b.server(t).URL)

	var stages []Stage
	sub := submission()
	sub.OnStage = func(s Stage) { stages = append(stages, s) }
	res := o.Submit(context.Background(), sub)

	assert.Equal(t, []Stage{StageUploading, StageProcessing}, stages)
	assert.Equal(t, "Team Sync", b.gotTitle)
	assert.Equal(t, "recording.webm", b.gotFilename)
	assert.Equal(t, "opus-bytes", b.gotFile)

	require.NotNil(t, res.RecordingID)
	assert.Equal(t, "rec-1", *res.RecordingID)
	assert.False(t, res.Failed)
	assert.Equal(t, []Segment{
		{StartMs: 0, EndMs: 1234, Speaker: "Speaker 1", Text: "hi"},
		{StartMs: 1999, EndMs: 3500, Speaker: "SPEAKER_01", Text: "there"},
	}, res.Segments)
	assert.Equal(t, []string{"greeting"}, res.SummaryBullets)
	assert.Equal(t, []string{placeholderNoActions}, res.ActionItems)
}

func TestSubmitProcessFailureCarriesDetail(t *testing.T) {
	b := &backend{processStatus: http.StatusInternalServerError, processBody: `{"detail":"oom"}`}
	o := newOrchestrator(b.server(t).URL)

	res := o.Submit(context.Background(), submission())

	assert.True(t, res.Failed)
	require.NotNil(t, res.RecordingID, "upload succeeded so the id is kept")
	require.Len(t, res.Segments, 1)
	assert.Equal(t, Segment{StartMs: 0, EndMs: 4200, Speaker: "Speaker 1", Text: "oom"}, res.Segments[0])
	assert.Equal(t, []string{placeholderSummaryFail}, res.SummaryBullets)
	assert.Equal(t, []string{placeholderActionsFail}, res.ActionItems)
	assert.Equal(t, int32(1), b.processes.Load(), "process is not retried")
}

func TestSubmitProcessFailureWithoutDetail(t *testing.T) {
	b := &backend{processStatus: http.StatusBadRequest, processBody: `not json`}
	res := newOrchestrator(b.server(t).URL).Submit(context.Background(), submission())
	assert.Equal(t, messageProcessFailed, res.Segments[0].Text)
}

func TestSubmitUploadFailure(t *testing.T) {
	b := &backend{uploadStatus: http.StatusBadRequest, uploadBody: "file too large"}
	o := newOrchestrator(b.server(t).URL)

	res := o.Submit(context.Background(), submission())

	assert.True(t, res.Failed)
	assert.Nil(t, res.RecordingID)
	assert.Equal(t, "file too large", res.Segments[0].Text)
	assert.Equal(t, "/rec/a.webm", res.AudioPath)
	assert.Zero(t, b.processes.Load())
}

func TestUploadRetriesServerErrors(t *testing.T) {
	b := &backend{uploadStatus: http.StatusServiceUnavailable}
	srv := b.server(t)
	c := NewClient(srv.URL, 5*time.Second, 2)
	c.retry.InitialDelay = time.Millisecond

	_, err := c.Upload(context.Background(), []byte("x"), "t", "recording.webm")
	assert.True(t, apperr.Is(err, apperr.CodeUploadFailed))
	assert.Equal(t, int32(3), b.uploads.Load())
}

func TestUploadUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second, 0)
	_, err := c.Upload(context.Background(), []byte("x"), "t", "recording.webm")
	assert.True(t, apperr.Is(err, apperr.CodeUploadFailed))
}

func TestNormalizeEmptySegments(t *testing.T) {
	text := "  just text  "
	tests := []struct {
		name    string
		text    *string
		elapsed int64
		want    Segment
	}{
		{name: "text, short recording", text: &text, elapsed: 300, want: Segment{EndMs: 1000, Speaker: "Speaker 1", Text: "just text"}},
		{name: "no text", elapsed: 7000, want: Segment{EndMs: 7000, Speaker: "Speaker 1", Text: placeholderNoText}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &ProcessResponse{ID: "r"}
			resp.Transcript.Text = tt.text
			resp.Transcript.Segments = []RawSegment{}
			res := Normalize(resp, Meta{ElapsedMs: tt.elapsed}, Labeler{})
			assert.Equal(t, []Segment{tt.want}, res.Segments)
			assert.Equal(t, []string{placeholderNoSummary}, res.SummaryBullets)
		})
	}
}

func TestNormalizeBoundsTruncate(t *testing.T) {
	resp := &ProcessResponse{ID: "r"}
	resp.Transcript.Segments = []RawSegment{
		{Start: 0.0019, End: 0.0011, Text: "a"},
		{Start: 2.9999, End: 3.0009, Text: "b"},
	}
	res := Normalize(resp, Meta{}, Labeler{})
	for i, s := range res.Segments {
		raw := resp.Transcript.Segments[i]
		assert.Equal(t, int64(raw.Start*1000), s.StartMs)
		assert.GreaterOrEqual(t, s.EndMs, s.StartMs)
	}
	assert.Equal(t, int64(2999), res.Segments[1].StartMs)
	assert.Equal(t, int64(3000), res.Segments[1].EndMs)
}

func TestLabelerPolicies(t *testing.T) {
	tests := []struct {
		name     string
		labeler  Labeler
		index    int
		provided string
		want     string
	}{
		{name: "fixed default", labeler: Labeler{Policy: PolicyFixed}, index: 3, want: "Speaker 1"},
		{name: "fixed configured", labeler: Labeler{Policy: PolicyFixed, Default: "Me"}, index: 1, want: "Me"},
		{name: "alternate even", labeler: Labeler{Policy: PolicyAlternate}, index: 2, want: "Speaker 1"},
		{name: "alternate odd", labeler: Labeler{Policy: PolicyAlternate}, index: 1, want: "Speaker 2"},
		{name: "backend wins", labeler: Labeler{Policy: PolicyAlternate}, index: 1, provided: "SPEAKER_00", want: "SPEAKER_00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.labeler.Label(tt.index, tt.provided))
		})
	}

	_, err := ParseSpeakerPolicy("random")
	assert.Error(t, err)
	p, err := ParseSpeakerPolicy("Alternate")
	require.NoError(t, err)
	assert.Equal(t, PolicyAlternate, p)
}

type stubSummarizer struct {
	bullets []string
	err     error
	calls   int
}

func (s *stubSummarizer) Summarize(context.Context, string, string) ([]string, []string, error) {
	s.calls++
	return s.bullets, []string{"follow up"}, s.err
}

func TestLocalSummaryFillsMissingBullets(t *testing.T) {
	b := &backend{processBody: `{"transcript":{"text":"we agreed to ship"},"summary":{}}`}
	o := newOrchestrator(b.server(t).URL)
	sum := &stubSummarizer{bullets: []string{"ship it"}}
	o.Summarizer = sum

	res := o.Submit(context.Background(), submission())
	assert.Equal(t, []string{"ship it"}, res.SummaryBullets)
	assert.Equal(t, []string{"follow up"}, res.ActionItems)
	assert.Equal(t, 1, sum.calls)

	sum.err = errors.New("model down")
	res = o.Submit(context.Background(), submission())
	assert.Equal(t, []string{placeholderNoSummary}, res.SummaryBullets)
}

func TestResultHelpers(t *testing.T) {
	res := &Result{
		MeetingTitle:   "Sync",
		Segments:       []Segment{{Speaker: "S1", Text: "Budget review"}, {StartMs: 61000, EndMs: 62000, Speaker: "S2", Text: "lunch"}},
		SummaryBullets: []string{"b"},
		ActionItems:    []string{"a"},
	}
	assert.Len(t, res.Search("BUDGET"), 1)
	assert.Len(t, res.Search("  "), 2)
	assert.Empty(t, res.Search("nothing"))

	res.RenameSpeaker("S1", "Alice")
	assert.Equal(t, "Alice", res.DisplaySpeaker("S1"))
	assert.Equal(t, "S2", res.DisplaySpeaker("S2"))
	assert.Equal(t, []string{"S1", "S2"}, res.Speakers())

	clone := res.Clone()
	clone.RenameSpeaker("S1", "")
	assert.Equal(t, "Alice", res.DisplaySpeaker("S1"))

	md := res.Markdown()
	assert.True(t, strings.HasPrefix(md, "# Sync\n"))
	assert.Contains(t, md, "**Alice** [00:00–00:00] Budget review")
	assert.Contains(t, md, "[01:01–01:02] lunch")

	js, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(js), `"recordingId":null`)
}

func TestExport(t *testing.T) {
	b := &backend{}
	c := NewClient(b.server(t).URL, 5*time.Second, 0)

	exp, err := c.Export(context.Background(), "rec-1", "md")
	require.NoError(t, err)
	assert.Equal(t, "Team Sync.md", exp.Filename)
	assert.Equal(t, "# Team Sync", string(exp.Data))

	_, err = c.Export(context.Background(), "rec-1", "docx")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestHealth(t *testing.T) {
	b := &backend{}
	c := NewClient(b.server(t).URL, 5*time.Second, 0)

	got, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", got["status"])

	_, err = NewClient("http://127.0.0.1:1", time.Second, 0).Health(context.Background())
	assert.Error(t, err)
}

func TestUploadFilename(t *testing.T) {
	assert.Equal(t, "recording.webm", uploadFilename("audio/webm;codecs=opus"))
	assert.Equal(t, "recording.ogg", uploadFilename("audio/ogg"))
	assert.Equal(t, "recording.wav", uploadFilename("audio/wav"))
	assert.Equal(t, "recording.webm", uploadFilename(""))
}
