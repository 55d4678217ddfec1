package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hubenschmidt/meeting-sidecar/internal/apperr"
	"github.com/hubenschmidt/meeting-sidecar/internal/mictest"
	"github.com/hubenschmidt/meeting-sidecar/internal/prefs"
	"github.com/hubenschmidt/meeting-sidecar/internal/processing"
	"github.com/hubenschmidt/meeting-sidecar/internal/session"
)

// deps carries flag values and the loaded config to every subcommand.
type deps struct {
	configPath string
	logLevel   string
	cfg        config
}

func newRootCmd(d *deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "sidecar",
		Short:         "Record meetings and turn them into transcripts and summaries",
		Long:          "Captures system audio and microphone into one recording, saves it locally and hands it to the processing backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(d.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if d.logLevel != "" {
				cfg.LogLevel = d.logLevel
			}
			d.cfg = cfg
			setupLogging(cfg.LogLevel, cmd.Name() == "serve")
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&d.configPath, "config", "c", "", "Path to config.toml")
	root.PersistentFlags().StringVar(&d.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(d))
	root.AddCommand(newRecordCmd(d))
	root.AddCommand(newMicTestCmd(d))
	root.AddCommand(newDevicesCmd(d))
	root.AddCommand(newExportCmd(d))
	root.AddCommand(newPrefsCmd(d))
	return root
}

func newServeCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), d.cfg, appOptions{serving: true})
			if err != nil {
				return fmt.Errorf("initializing app: %w", err)
			}

			probeBackend(cmd.Context(), a)

			mux := http.NewServeMux()
			registerRoutes(mux, a)
			srv := &http.Server{Addr: d.cfg.ListenAddr, Handler: mux}

			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				sig := <-sigCh
				slog.Info("shutting down", "signal", sig)
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				slog.Info("closing session")
				a.close(ctx)

				srv.Shutdown(ctx)
			}()

			slog.Info("sidecar starting", "addr", d.cfg.ListenAddr, "backend", d.cfg.BackendURL)

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			slog.Info("sidecar stopped")
			return nil
		},
	}
	return cmd
}

// probeBackend logs whether the processing backend answers. Recording works
// without it; results then carry placeholders.
func probeBackend(ctx context.Context, a *app) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	status, err := a.client.Health(ctx)
	if err != nil {
		slog.Warn("processing backend unreachable", "url", a.cfg.BackendURL, "error", err)
		return
	}
	slog.Info("processing backend ok", "url", a.cfg.BackendURL, "status", status)
}

func newRecordCmd(d *deps) *cobra.Command {
	var req session.StartRequest

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a meeting in the foreground (Ctrl+C to stop)",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			mode := ""
			if d.cfg.Dialogs == "auto" {
				mode = "terminal"
			}
			a, err := newApp(cmd.Context(), d.cfg, appOptions{dialogs: mode, in: cmd.InOrStdin(), out: out})
			if err != nil {
				return fmt.Errorf("initializing app: %w", err)
			}
			defer a.close(context.Background())
			return runRecording(cmd.Context(), a, req, out)
		},
	}

	cmd.Flags().StringVarP(&req.Title, "title", "t", "", "Meeting title (used in the file name)")
	cmd.Flags().BoolVar(&req.MicOnly, "mic-only", false, "Record the microphone without system audio")
	cmd.Flags().StringVar(&req.MicID, "mic", "", "Microphone device ID (default: last used)")
	cmd.Flags().StringVar(&req.Directory, "dir", "", "Directory to save into without asking")
	cmd.MarkFlagRequired("title")
	return cmd
}

func runRecording(parent context.Context, a *app, req session.StartRequest, out io.Writer) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	snaps, unsubscribe := a.ctrl.Subscribe()
	defer unsubscribe()

	sess, err := a.start(ctx, req)
	if errors.Is(err, session.ErrCancelled) || apperr.Is(err, apperr.CodeSaveCancelled) {
		fmt.Fprintln(out, "Recording cancelled.")
		return nil
	}
	if err != nil {
		return err
	}

	source := "system audio + microphone"
	if !sess.SystemAudio {
		source = "microphone only"
	}
	fmt.Fprintf(out, "Recording %q (%s) to %s\nPress Ctrl+C to stop.\n", sess.Title, source, sess.SavePath)

	if err := waitForStop(ctx, snaps); err != nil {
		return err
	}
	// A second interrupt now terminates the process.
	stop()

	fmt.Fprintln(out, "Stopping, saving and processing...")
	res, err := a.ctrl.Stop(context.Background())
	if err != nil {
		return err
	}
	if res.Failed {
		fmt.Fprintln(out, "Processing failed; the recording was saved.")
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, res.Markdown())
	return nil
}

// waitForStop blocks until the user interrupts or the session ends on its
// own, returning the session's error in the latter case.
func waitForStop(ctx context.Context, snaps <-chan session.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snaps:
			if !ok {
				return errors.New("session feed closed")
			}
			if snap.State.Active() {
				continue
			}
			if snap.Error != nil {
				return snap.Error
			}
			return errors.New("recording ended unexpectedly")
		}
	}
}

func newMicTestCmd(d *deps) *cobra.Command {
	var micID string
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "mictest",
		Short: "Show a live microphone level meter",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), d.cfg, appOptions{dialogs: "none"})
			if err != nil {
				return fmt.Errorf("initializing app: %w", err)
			}
			defer a.close(context.Background())

			if micID == "" {
				micID = a.prefs.Get().LastMicrophone
			}
			out := cmd.OutOrStdout()
			a.mic.OnReading = func(r mictest.Reading) { fmt.Fprintf(out, "\r%s", levelBar(r, 40)) }

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			if err := a.mic.Start(ctx, micID); err != nil {
				return err
			}
			<-ctx.Done()
			a.mic.Stop()
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&micID, "mic", "", "Microphone device ID (default: last used)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (default: until Ctrl+C)")
	return cmd
}

func levelBar(r mictest.Reading, width int) string {
	n := int(r.Level * float64(width))
	n = max(0, min(width, n))
	mark := " "
	if r.Speaking {
		mark = "*"
	}
	return fmt.Sprintf("[%s%s] %3.0f%% %s", strings.Repeat("#", n), strings.Repeat(" ", width-n), r.Level*100, mark)
}

func newDevicesCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List microphones",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), d.cfg, appOptions{dialogs: "none"})
			if err != nil {
				return fmt.Errorf("initializing app: %w", err)
			}
			defer a.close(context.Background())

			mics, err := a.neg.Microphones(cmd.Context())
			if err != nil {
				return err
			}
			last := a.prefs.Get().LastMicrophone

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tLABEL\tDEFAULT\tLAST USED")
			for _, m := range mics {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Label, yes(m.Default), yes(m.ID == last))
			}
			return tw.Flush()
		},
	}
}

func yes(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

func newExportCmd(d *deps) *cobra.Command {
	var id, format, outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download a processed recording's transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := processing.NewClient(d.cfg.BackendURL, d.cfg.RequestTimeout, d.cfg.UploadRetries)
			exp, err := client.Export(cmd.Context(), id, format)
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(exp.Data)
				return err
			}
			if outPath == "." {
				outPath = exp.Filename
			}
			if err := os.WriteFile(outPath, exp.Data, 0o644); err != nil {
				return fmt.Errorf("writing export: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Saved %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Backend recording ID")
	cmd.Flags().StringVarP(&format, "format", "f", "md", "Export format (md, txt, pdf)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (\".\" uses the backend's file name; default stdout)")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newPrefsCmd(d *deps) *cobra.Command {
	var dir, mic string
	var consent bool

	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change saved preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := prefs.Open(d.cfg.PrefsPath)
			flags := cmd.Flags()
			p := store.Update(func(p *prefs.Prefs) {
				if flags.Changed("dir") {
					p.LastDirectory = expandTilde(dir)
				}
				if flags.Changed("mic") {
					p.LastMicrophone = mic
				}
				if flags.Changed("consent") {
					p.Consent = consent
				}
			})

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(p)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Default recording directory")
	cmd.Flags().StringVar(&mic, "mic", "", "Default microphone device ID")
	cmd.Flags().BoolVar(&consent, "consent", false, "Record that participants were told about recording")
	return cmd
}
