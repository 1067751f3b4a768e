// Package device records from and plays to local audio devices by running
// external programs (ffmpeg for capture, ffplay for playback).
//
// Capture asks ffmpeg for raw s16le PCM on stdout in the requested format,
// so no decoding happens in-process. Playback pipes the encoded payload to
// the player's stdin.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/MrWong99/restquest/pkg/audio"
)

// Recorder implements [audio.Recorder] with an ffmpeg subprocess.
type Recorder struct {
	binary   string
	inputFmt string
	input    string
	format   audio.Format
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithFFmpeg sets the ffmpeg executable. Defaults to "ffmpeg" on PATH.
func WithFFmpeg(path string) RecorderOption {
	return func(r *Recorder) { r.binary = path }
}

// WithInput selects the capture device, e.g. ("pulse", "default") or
// ("avfoundation", ":0"). Defaults depend on the platform.
func WithInput(format, device string) RecorderOption {
	return func(r *Recorder) { r.inputFmt, r.input = format, device }
}

// WithFormat sets the capture format. Defaults to [audio.SpeechFormat].
func WithFormat(f audio.Format) RecorderOption {
	return func(r *Recorder) { r.format = f }
}

// NewRecorder returns a Recorder for the platform's default input.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{binary: "ffmpeg", format: audio.SpeechFormat}
	r.inputFmt, r.input = defaultInput()
	for _, o := range opts {
		o(r)
	}
	return r
}

func defaultInput() (format, device string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", ":0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

func (r *Recorder) args(d time.Duration) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", r.inputFmt, "-i", r.input,
		"-t", strconv.FormatFloat(d.Seconds(), 'f', 3, 64),
		"-ac", strconv.Itoa(r.format.Channels),
		"-ar", strconv.Itoa(r.format.SampleRate),
		"-f", "s16le", "-",
	}
}

// Record implements [audio.Recorder]. Cancelling ctx kills ffmpeg; the
// samples read up to that point are returned with ctx.Err().
func (r *Recorder) Record(ctx context.Context, d time.Duration) (audio.Clip, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.binary, r.args(d)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	pcm := stdout.Bytes()
	pcm = pcm[:len(pcm)-len(pcm)%2]
	clip := audio.Clip{PCM: pcm, Format: r.format}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return clip, ctxErr
	}
	if err != nil {
		return clip, fmt.Errorf("device: record: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	slog.Debug("recording finished", "duration", clip.Duration(), "elapsed", time.Since(start))
	return clip, nil
}

// Player implements [audio.Player] by piping audio into a player program.
type Player struct {
	binary string
	args   []string
}

// NewPlayer returns a Player. An empty binary selects ffplay with flags for
// headless playback from stdin.
func NewPlayer(binary string, args ...string) *Player {
	if binary == "" {
		return &Player{binary: "ffplay", args: []string{"-nodisp", "-autoexit", "-loglevel", "error", "-i", "-"}}
	}
	return &Player{binary: binary, args: args}
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, encoded []byte) error {
	if len(encoded) == 0 {
		return nil
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.binary, p.args...)
	cmd.Stdin = bytes.NewReader(encoded)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("device: %s exited with %d: %s", p.binary, exitErr.ExitCode(), bytes.TrimSpace(stderr.Bytes()))
		}
		return fmt.Errorf("device: play: %w", err)
	}
	return nil
}

var (
	_ audio.Recorder = (*Recorder)(nil)
	_ audio.Player   = (*Player)(nil)
)
