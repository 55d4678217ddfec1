package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/hubenschmidt/meeting-sidecar/internal/apperr"
	"github.com/hubenschmidt/meeting-sidecar/internal/metrics"
	"github.com/hubenschmidt/meeting-sidecar/internal/processing"
	"github.com/hubenschmidt/meeting-sidecar/internal/recorder"
)

// Stop ends capture and drives the recording through finalize, save,
// upload and processing, returning the result. Calling Stop again while
// that runs waits for the same outcome; once Ready it returns the result
// again. Stop during acquisition cancels the start.
//
// The pipeline runs detached from ctx: a caller that stops waiting does
// not abandon the recording.
func (c *Controller) Stop(ctx context.Context) (*processing.Result, error) {
	c.mu.Lock()
	switch c.state {
	case StateAcquiringSources:
		c.mu.Unlock()
		c.Cancel()
		return nil, nil
	case StateCapturing:
		r := c.run
		c.run = nil
		close(r.done)
		c.stoppedAt = c.clock.Now()
		job := &stopJob{done: make(chan struct{})}
		c.job = job
		sess := *c.sess
		elapsed := c.elapsedLocked()
		c.setLocked(StateStopping, "")
		c.mu.Unlock()

		go c.finish(context.WithoutCancel(ctx), r, sess, elapsed, job)
		return await(ctx, job)
	case StateStopping, StateUploading, StateProcessing:
		job := c.job
		c.mu.Unlock()
		return await(ctx, job)
	case StateReady:
		res := c.result.Clone()
		c.mu.Unlock()
		return res, nil
	}
	c.mu.Unlock()
	return nil, apperr.New(apperr.CodeNotCapturing, "No recording is in progress.")
}

func await(ctx context.Context, job *stopJob) (*processing.Result, error) {
	select {
	case <-job.done:
		return job.result.Clone(), job.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finish runs the ordered tail of a session: recorder stop acknowledgment,
// then the durable write, then remote processing.
func (c *Controller) finish(ctx context.Context, r *run, sess Session, elapsedMs int64, job *stopJob) {
	defer close(job.done)

	began := time.Now()
	stopCtx, cancel := context.WithTimeout(ctx, c.cfg.StopTimeout)
	payload, err := r.rec.Stop(stopCtx)
	cancel()
	r.scope.Release()
	metrics.StageDuration.WithLabelValues("finalize").Observe(time.Since(began).Seconds())
	if err != nil {
		slog.Error("recording finalize failed", "session_id", sess.ID, "partial", r.spill, "error", err)
		job.err = c.failAfterCapture(r.gen, coded(err, apperr.CodeRecorderFault), "finalize")
		return
	}

	began = time.Now()
	if err = c.cfg.Bridge.WriteFile(ctx, sess.SavePath, payload.Bytes); err != nil {
		slog.Error("recording write failed", "session_id", sess.ID, "path", sess.SavePath, "partial", r.spill, "error", err)
		job.err = c.failAfterCapture(r.gen, coded(err, apperr.CodeWriteFailed), "write")
		return
	}
	recorder.RemoveSpill(r.spill)
	metrics.StageDuration.WithLabelValues("write").Observe(time.Since(began).Seconds())
	metrics.RecordingDuration.Observe(float64(elapsedMs) / 1000)
	slog.Info("recording saved", "session_id", sess.ID, "path", sess.SavePath, "bytes", len(payload.Bytes), "elapsed_ms", elapsedMs)

	meta := processing.Meta{
		SessionID: sess.ID,
		Title:     sess.Title,
		AudioPath: sess.SavePath,
		MimeType:  payload.MimeType,
		ElapsedMs: elapsedMs,
	}
	if c.cfg.PlaybackURL != nil {
		meta.PlaybackURL = c.cfg.PlaybackURL(sess.ID)
	}

	began = time.Now()
	res := c.submit(ctx, r.gen, meta, payload.Bytes)
	metrics.StageDuration.WithLabelValues("submit").Observe(time.Since(began).Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != r.gen {
		return
	}
	outcome := "ready"
	if res.Failed {
		outcome = "degraded"
	}
	metrics.SessionsTotal.WithLabelValues(outcome).Inc()
	c.result = res
	c.setLocked(StateReady, "")
	c.finishJournalLocked(string(StateReady), res)
	job.result = res
}

func (c *Controller) submit(ctx context.Context, gen uint64, meta processing.Meta, data []byte) *processing.Result {
	if c.cfg.Processor == nil {
		c.stage(gen, processing.StageUploading)
		return processing.Failure(meta, nil, "Processing backend is not configured.", processing.Labeler{})
	}
	return c.cfg.Processor.Submit(ctx, processing.Submission{
		Meta:    meta,
		Data:    data,
		OnStage: func(st processing.Stage) { c.stage(gen, st) },
	})
}

var stageStates = map[processing.Stage]State{
	processing.StageUploading:  StateUploading,
	processing.StageProcessing: StateProcessing,
}

func (c *Controller) stage(gen uint64, st processing.Stage) {
	next, ok := stageStates[st]
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.setLocked(next, "")
}

// failAfterCapture marks a stopping session Errored. The spill file is left
// in place as the recoverable copy of the audio.
func (c *Controller) failAfterCapture(gen uint64, err *apperr.Error, stage string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.failLocked(err, stage)
	}
	return err
}
