package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hubenschmidt/meeting-sidecar/internal/env"
	"github.com/hubenschmidt/meeting-sidecar/internal/platform/ffmpeg"
	"github.com/hubenschmidt/meeting-sidecar/internal/processing"
	"github.com/hubenschmidt/meeting-sidecar/internal/prompts"
	"github.com/hubenschmidt/meeting-sidecar/internal/recorder"
)

const appName = "meeting-sidecar"

type config struct {
	ListenAddr      string        `toml:"listen_addr"`
	BackendURL      string        `toml:"backend_url"`
	DataDir         string        `toml:"data_dir"`
	PrefsPath       string        `toml:"prefs_path"`
	HistoryDSN      string        `toml:"history_dsn"`
	Timeslice       time.Duration `toml:"timeslice"`
	PreferredCodecs []string      `toml:"preferred_codecs"`
	FileExtension   string        `toml:"file_extension"`
	SpeakerPolicy   string        `toml:"speaker_policy"`
	DefaultSpeaker  string        `toml:"default_speaker"`
	MicTestTick     time.Duration `toml:"mic_test_tick"`
	MicTestWindow   int           `toml:"mic_test_window"`
	FFmpegPath      string        `toml:"ffmpeg_path"`
	InputFormat     string        `toml:"input_format"`
	Dialogs         string        `toml:"dialogs"`
	UploadRetries   int           `toml:"upload_retries"`
	RequestTimeout  time.Duration `toml:"request_timeout"`
	SummaryURL      string        `toml:"summary_url"`
	SummaryModel    string        `toml:"summary_model"`
	SummaryAPIKey   string        `toml:"summary_api_key"`
	SummaryPrompt   string        `toml:"summary_prompt"`
	LogLevel        string        `toml:"log_level"`
}

func defaultConfig() config {
	return config{
		ListenAddr:      ":8766",
		BackendURL:      "http://127.0.0.1:8765",
		PrefsPath:       filepath.Join(configDir(), "prefs.yaml"),
		Timeslice:       time.Second,
		PreferredCodecs: slices.Clone(recorder.DefaultCodecs),
		FileExtension:   "webm",
		SpeakerPolicy:   string(processing.PolicyFixed),
		DefaultSpeaker:  "Speaker 1",
		MicTestTick:     16 * time.Millisecond,
		MicTestWindow:   256,
		FFmpegPath:      "ffmpeg",
		InputFormat:     ffmpeg.DefaultInputFormat(),
		Dialogs:         "auto",
		UploadRetries:   3,
		RequestTimeout:  10 * time.Minute,
		SummaryPrompt:   prompts.DefaultSummary,
		LogLevel:        "info",
	}
}

// loadConfig layers defaults, the TOML file and SIDECAR_* environment
// variables, in that order. An explicit path must exist; the default one may not.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(configDir(), "config.toml")
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.DataDir = expandTilde(cfg.DataDir)
	cfg.PrefsPath = expandTilde(cfg.PrefsPath)

	if _, err := processing.ParseSpeakerPolicy(cfg.SpeakerPolicy); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *config) {
	cfg.ListenAddr = env.Str("SIDECAR_LISTEN_ADDR", cfg.ListenAddr)
	cfg.BackendURL = env.Str("SIDECAR_BACKEND_URL", cfg.BackendURL)
	cfg.DataDir = env.Str("SIDECAR_DATA_DIR", cfg.DataDir)
	cfg.PrefsPath = env.Str("SIDECAR_PREFS_PATH", cfg.PrefsPath)
	cfg.HistoryDSN = env.Str("SIDECAR_HISTORY_DSN", cfg.HistoryDSN)
	cfg.Timeslice = env.Duration("SIDECAR_TIMESLICE", cfg.Timeslice)
	cfg.PreferredCodecs = env.List("SIDECAR_PREFERRED_CODECS", cfg.PreferredCodecs)
	cfg.FileExtension = env.Str("SIDECAR_FILE_EXTENSION", cfg.FileExtension)
	cfg.SpeakerPolicy = env.Str("SIDECAR_SPEAKER_POLICY", cfg.SpeakerPolicy)
	cfg.DefaultSpeaker = env.Str("SIDECAR_DEFAULT_SPEAKER", cfg.DefaultSpeaker)
	cfg.MicTestTick = env.Duration("SIDECAR_MIC_TEST_TICK", cfg.MicTestTick)
	cfg.MicTestWindow = env.Int("SIDECAR_MIC_TEST_WINDOW", cfg.MicTestWindow)
	cfg.FFmpegPath = env.Str("SIDECAR_FFMPEG_PATH", cfg.FFmpegPath)
	cfg.InputFormat = env.Str("SIDECAR_INPUT_FORMAT", cfg.InputFormat)
	cfg.Dialogs = env.Str("SIDECAR_DIALOGS", cfg.Dialogs)
	cfg.UploadRetries = env.Int("SIDECAR_UPLOAD_RETRIES", cfg.UploadRetries)
	cfg.RequestTimeout = env.Duration("SIDECAR_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.SummaryURL = env.Str("SIDECAR_SUMMARY_URL", cfg.SummaryURL)
	cfg.SummaryModel = env.Str("SIDECAR_SUMMARY_MODEL", cfg.SummaryModel)
	cfg.SummaryAPIKey = env.Str("SIDECAR_SUMMARY_API_KEY", cfg.SummaryAPIKey)
	cfg.LogLevel = env.Str("SIDECAR_LOG_LEVEL", cfg.LogLevel)
}

func (c config) labeler() processing.Labeler {
	policy, _ := processing.ParseSpeakerPolicy(c.SpeakerPolicy)
	return processing.Labeler{Policy: policy, Default: c.DefaultSpeaker}
}

func (c config) ffmpeg() ffmpeg.Config {
	return ffmpeg.Config{Path: c.FFmpegPath, InputFormat: c.InputFormat}
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", appName)
	}
	return "."
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// setupLogging installs the default logger: JSON on stdout for the server,
// text on stderr for interactive commands.
func setupLogging(level string, server bool) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if server {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, opts)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
}
