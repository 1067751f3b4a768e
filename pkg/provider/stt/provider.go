// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider turns one finished recording into text. Answers in a
// questionnaire are recorded for a fixed window and transcribed once the
// window closes, so the interface is batch-oriented: no partials, no
// session handles.
//
// Two sentinel errors let callers distinguish expected degradations from
// transient failures:
//
//   - [ErrCapabilityMissing]: the backend is reachable but the credentials
//     lack a required permission. Retrying will not help; keep the audio and
//     carry on without a transcript.
//   - [ErrAsyncOnly]: the backend accepted the audio for asynchronous
//     delivery (e.g. a webhook) and has no transcript to return now.
package stt

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/restquest/pkg/audio"
)

var (
	// ErrCapabilityMissing is returned when the account or key lacks a
	// permission the request needs.
	ErrCapabilityMissing = errors.New("stt: capability missing")

	// ErrAsyncOnly is returned when the backend answered with an asynchronous
	// acknowledgement instead of a transcript.
	ErrAsyncOnly = errors.New("stt: transcript delivered asynchronously")
)

// Options carries per-request recognition hints.
type Options struct {
	// Language is a BCP-47 or ISO-639 code such as "en". Empty lets the
	// provider auto-detect when it supports that.
	Language string
}

// Transcript is the result of one transcription.
type Transcript struct {
	// Text is the recognised speech, trimmed. Empty when the clip was silent.
	Text string

	// Language is the language the provider detected or was told to use.
	Language string

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Transcribe converts clip to text. Implementations convert the clip to
	// the format they need.
	Transcribe(ctx context.Context, clip audio.Clip, opts Options) (Transcript, error)
}
