package processing

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hubenschmidt/meeting-sidecar/internal/apperr"
	"github.com/hubenschmidt/meeting-sidecar/internal/metrics"
)

// Stage is a step of remote processing reported to the caller.
type Stage string

const (
	StageUploading  Stage = "uploading"
	StageProcessing Stage = "processing"
)

// Summarizer produces bullets and action items from transcript text when
// the backend returned none.
type Summarizer interface {
	Summarize(ctx context.Context, title, transcript string) (bullets, actionItems []string, err error)
}

// Orchestrator hands a finalized recording to the backend and always
// produces a Result, placeholder-shaped when a remote call fails.
type Orchestrator struct {
	Client     *Client
	Labeler    Labeler
	Summarizer Summarizer
}

// Submission is one recording ready for processing.
type Submission struct {
	Meta
	Data []byte
	// OnStage is called before each remote call.
	OnStage func(Stage)
}

// Submit uploads then processes. It never returns nil.
func (o *Orchestrator) Submit(ctx context.Context, s Submission) *Result {
	stage := func(st Stage) {
		if s.OnStage != nil {
			s.OnStage(st)
		}
	}

	stage(StageUploading)
	id, err := o.Client.Upload(ctx, s.Data, s.Title, uploadFilename(s.MimeType))
	if err != nil {
		slog.Warn("upload failed, keeping local recording", "session_id", s.SessionID, "path", s.AudioPath, "error", err)
		metrics.Errors.WithLabelValues("upload", string(apperr.CodeOf(err))).Inc()
		return Failure(s.Meta, nil, err.Error(), o.Labeler)
	}
	slog.Info("recording uploaded", "session_id", s.SessionID, "recording_id", id, "bytes", len(s.Data))

	stage(StageProcessing)
	resp, err := o.Client.Process(ctx, id)
	if err != nil {
		slog.Warn("processing failed", "session_id", s.SessionID, "recording_id", id, "error", err)
		metrics.Errors.WithLabelValues("process", string(apperr.CodeOf(err))).Inc()
		return Failure(s.Meta, &id, err.Error(), o.Labeler)
	}

	o.summarizeLocally(ctx, s, resp)
	res := Normalize(resp, s.Meta, o.Labeler)
	slog.Info("recording processed", "session_id", s.SessionID, "recording_id", id, "segments", len(res.Segments))
	return res
}

// summarizeLocally fills an empty backend summary from the local model.
// Failures leave the summary empty so placeholders apply.
func (o *Orchestrator) summarizeLocally(ctx context.Context, s Submission, resp *ProcessResponse) {
	if o.Summarizer == nil || len(resp.Summary.Bullets) > 0 {
		return
	}
	text := transcriptText(resp)
	if strings.TrimSpace(text) == "" {
		return
	}
	bullets, actions, err := o.Summarizer.Summarize(ctx, s.Title, text)
	if err != nil {
		slog.Warn("local summary failed", "session_id", s.SessionID, "error", err)
		metrics.Errors.WithLabelValues("summary", "llm").Inc()
		return
	}
	resp.Summary.Bullets = bullets
	if len(resp.Summary.ActionItems) == 0 {
		resp.Summary.ActionItems = actions
	}
}
