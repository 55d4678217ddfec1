package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/hubenschmidt/meeting-sidecar/internal/bridge"
	"github.com/hubenschmidt/meeting-sidecar/internal/capture"
	"github.com/hubenschmidt/meeting-sidecar/internal/history"
	"github.com/hubenschmidt/meeting-sidecar/internal/mictest"
	"github.com/hubenschmidt/meeting-sidecar/internal/platform/ffmpeg"
	"github.com/hubenschmidt/meeting-sidecar/internal/platform/wav"
	"github.com/hubenschmidt/meeting-sidecar/internal/prefs"
	"github.com/hubenschmidt/meeting-sidecar/internal/processing"
	"github.com/hubenschmidt/meeting-sidecar/internal/recorder"
	"github.com/hubenschmidt/meeting-sidecar/internal/session"
	"github.com/hubenschmidt/meeting-sidecar/internal/summary"
	"github.com/hubenschmidt/meeting-sidecar/internal/ws"
)

// app holds the wired components shared by every command.
type app struct {
	cfg     config
	prefs   *prefs.Store
	bridge  *bridge.Local
	neg     *capture.Negotiator
	client  *processing.Client
	store   *history.Store
	journal *history.Journal
	hub     *ws.Hub
	mic     *mictest.Harness
	ctrl    *session.Controller

	stopFeed func()
}

type appOptions struct {
	dialogs string
	in      io.Reader
	out     io.Writer
	// serving enables playback URLs and the history journal.
	serving bool
}

func newApp(ctx context.Context, cfg config, opts appOptions) (*app, error) {
	mode := opts.dialogs
	if mode == "" {
		mode = cfg.Dialogs
	}
	dialogs, err := bridge.NewDialogs(mode, opts.in, opts.out)
	if err != nil {
		return nil, err
	}

	devices := ffmpeg.NewDevices(cfg.ffmpeg())

	a := &app{
		cfg:    cfg,
		prefs:  prefs.Open(cfg.PrefsPath),
		bridge: bridge.NewLocal(devices, dialogs),
		neg:    &capture.Negotiator{Devices: devices, Sources: devices},
		client: processing.NewClient(cfg.BackendURL, cfg.RequestTimeout, cfg.UploadRetries),
		hub:    ws.NewHub(),
	}

	orch := &processing.Orchestrator{Client: a.client, Labeler: cfg.labeler()}
	if s := newSummarizer(cfg); s != nil {
		orch.Summarizer = s
	}

	if opts.serving && cfg.HistoryDSN != "" {
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		a.store, err = history.Open(openCtx, cfg.HistoryDSN)
		cancel()
		if err != nil {
			slog.Warn("history disabled", "error", err)
			a.store = nil
		} else {
			a.journal = history.NewJournal(a.store, 0)
			slog.Info("history enabled")
		}
	}

	a.mic = mictest.New(a.neg, mictest.Config{Tick: cfg.MicTestTick, Window: cfg.MicTestWindow})
	a.mic.OnReading = func(r mictest.Reading) { a.hub.Publish("mictest", r) }

	sessCfg := session.Config{
		Bridge:    a.bridge,
		Devices:   devices,
		Encoders:  recorder.Chain{ffmpeg.NewEncoderFactory(cfg.ffmpeg()), wav.Factory{}},
		Processor: orch,
		MicTest:   a.mic,
		Journal:   a.journal,
		Extension: cfg.FileExtension,
		Timeslice: cfg.Timeslice,
		Codecs:    cfg.PreferredCodecs,
	}
	if opts.serving {
		sessCfg.PlaybackURL = func(id string) string { return "/recordings/" + id + "/audio" }
	}
	a.ctrl = session.New(sessCfg)
	a.mic.Guard = a.ctrl.Active

	snaps, unsubscribe := a.ctrl.Subscribe()
	a.stopFeed = unsubscribe
	go func() {
		for snap := range snaps {
			a.hub.Publish("session", snap)
		}
	}()
	return a, nil
}

func newSummarizer(cfg config) *summary.Summarizer {
	if cfg.SummaryURL == "" {
		return nil
	}
	s, err := summary.New(summary.Config{
		BaseURL:      cfg.SummaryURL,
		APIKey:       cfg.SummaryAPIKey,
		Model:        cfg.SummaryModel,
		SystemPrompt: cfg.SummaryPrompt,
	})
	if err != nil {
		slog.Warn("local summarizer disabled", "error", err)
		return nil
	}
	slog.Info("local summarizer enabled", "url", cfg.SummaryURL, "model", cfg.SummaryModel)
	return s
}

// directory picks where a recording goes without a dialog: the explicit
// choice, then the last used directory, then the configured data dir.
func (a *app) directory(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if last := a.prefs.Get().LastDirectory; last != "" {
		return last
	}
	return a.cfg.DataDir
}

// start begins a session, filling defaults from preferences and recording
// the choices that worked.
func (a *app) start(ctx context.Context, req session.StartRequest) (*session.Session, error) {
	req.Directory = a.directory(req.Directory)
	if req.MicID == "" {
		req.MicID = a.prefs.Get().LastMicrophone
	}
	sess, err := a.ctrl.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.MicID != "" {
		a.prefs.SetLastMicrophone(req.MicID)
	}
	return sess, nil
}

func (a *app) close(ctx context.Context) {
	a.ctrl.Close(ctx)
	a.mic.Stop()
	a.stopFeed()
	a.journal.Close()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("history close", "error", err)
		}
	}
}
