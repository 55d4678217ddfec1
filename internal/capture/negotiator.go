package capture

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hubenschmidt/meeting-sidecar/internal/apperr"
	"github.com/hubenschmidt/meeting-sidecar/internal/media"
	"github.com/hubenschmidt/meeting-sidecar/internal/metrics"
)

// desktopVideo is the smallest video request the platform accepts alongside
// desktop audio. The resulting track is stopped before it is ever read.
var desktopVideo = VideoConstraints{MaxWidth: 1, MaxHeight: 1, MaxFrameRate: 1}

// Negotiator acquires the system-audio and microphone streams for a session.
type Negotiator struct {
	Devices MediaDevices
	Sources SourceLocator
}

// Plan describes which sources a session wants.
type Plan struct {
	MicOnly bool
	MicID   string
}

// Sources is the outcome of a successful negotiation. System is nil when the
// session runs mic-only, either by request or after a system-audio failure.
type Sources struct {
	System    *media.Stream
	Mic       *media.Stream
	Fallback  bool
	SystemErr error
}

// Stop releases both streams.
func (s *Sources) Stop() {
	if s == nil {
		return
	}
	s.System.Stop()
	s.Mic.Stop()
}

// Acquire negotiates sources for a full session start. A system-audio failure
// is not fatal: the session continues with the microphone only. Microphone
// failure releases anything already acquired and aborts.
func (n *Negotiator) Acquire(ctx context.Context, plan Plan) (*Sources, error) {
	out := &Sources{}

	if !plan.MicOnly {
		sys, err := n.AcquireSystemAudio(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("system audio unavailable, continuing mic-only", "error", err)
			metrics.SystemAudioFallbacks.Inc()
			out.Fallback = true
			out.SystemErr = err
		}
		out.System = sys
	}

	mic, err := n.AcquireMicrophone(ctx, plan.MicID)
	if err != nil {
		out.System.Stop()
		return nil, err
	}
	out.Mic = mic

	if err = ctx.Err(); err != nil {
		out.Stop()
		return nil, err
	}
	return out, nil
}

// AcquireSystemAudio captures the default desktop source's audio output.
// The grant includes a video track that is discarded immediately; only the
// audio tracks survive into the returned stream.
func (n *Negotiator) AcquireSystemAudio(ctx context.Context) (*media.Stream, error) {
	if n.Sources == nil {
		return nil, apperr.New(apperr.CodeNoDesktopSource, "No desktop source available.")
	}
	sourceID, err := n.Sources.DefaultDesktopSourceID(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeNoDesktopSource, fmt.Sprintf("No desktop source available: %v", err))
	}
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	if sourceID == "" {
		return nil, apperr.New(apperr.CodeNoDesktopSource, "No desktop source available.")
	}

	video := desktopVideo
	video.DesktopSourceID = sourceID
	granted, err := n.Devices.GetUserMedia(ctx, Constraints{
		Audio: &AudioConstraints{DesktopSourceID: sourceID},
		Video: &video,
	})
	if err != nil {
		return nil, classify(err, apperr.CodePermissionDenied, "System audio capture was denied.")
	}

	for _, t := range granted.VideoTracks() {
		t.Stop()
	}
	audio := media.NewStream(granted.AudioTracks()...)

	if err = ctx.Err(); err != nil {
		audio.Stop()
		return nil, err
	}
	return audio, nil
}

// AcquireMicrophone opens deviceID, or any microphone when deviceID is empty.
//
// A failed specific-device request gets one generic permission request,
// which can reveal device ids hidden before consent, then a re-enumeration
// and a single retry of the original request. A second failure is reported
// as PermissionDenied; another device is never substituted.
func (n *Negotiator) AcquireMicrophone(ctx context.Context, deviceID string) (*media.Stream, error) {
	want := Constraints{Audio: &AudioConstraints{DeviceID: deviceID, Exact: deviceID != ""}}

	stream, err := n.Devices.GetUserMedia(ctx, want)
	if err == nil {
		return n.checkCancelled(ctx, stream)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if deviceID == "" {
		return nil, classify(err, apperr.CodePermissionDenied, "Microphone permission denied.")
	}

	slog.Info("mic request failed, requesting generic permission", "device_id", deviceID, "error", err)
	if err = n.unlockDevices(ctx); err != nil {
		return nil, err
	}

	stream, err = n.Devices.GetUserMedia(ctx, want)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Wrap(err, apperr.CodePermissionDenied, "Microphone permission denied.").
			WithDetail("device_id", deviceID)
	}
	return n.checkCancelled(ctx, stream)
}

// unlockDevices performs the generic permission request and re-enumerates.
// The generic stream is released straight away; it only exists to obtain consent.
func (n *Negotiator) unlockDevices(ctx context.Context) error {
	generic, err := n.Devices.GetUserMedia(ctx, Constraints{Audio: &AudioConstraints{}})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Wrap(err, apperr.CodePermissionDenied, "Microphone permission denied.")
	}
	generic.Stop()

	devices, err := n.Devices.EnumerateDevices(ctx)
	if err != nil {
		slog.Warn("enumerate devices after permission", "error", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	slog.Info("devices re-enumerated", "count", len(devices))
	return nil
}

func (n *Negotiator) checkCancelled(ctx context.Context, s *media.Stream) (*media.Stream, error) {
	if err := ctx.Err(); err != nil {
		s.Stop()
		return nil, err
	}
	return s, nil
}

// Microphones lists audio input devices.
func (n *Negotiator) Microphones(ctx context.Context) ([]DeviceInfo, error) {
	devices, err := n.Devices.EnumerateDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	mics := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		if d.Kind == "audioinput" {
			mics = append(mics, d)
		}
	}
	return mics, nil
}

// classify keeps a platform error's own code and tags uncoded errors with fallback.
func classify(err error, fallback apperr.Code, message string) error {
	if apperr.CodeOf(err) != "" {
		return err
	}
	return apperr.Wrap(err, fallback, message)
}
