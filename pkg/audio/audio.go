// Package audio defines the PCM clip type shared by recording, transcription
// and playback, and the [Recorder] and [Player] collaborator interfaces.
//
// All PCM in this package is little-endian signed 16-bit, interleaved when
// there is more than one channel.
//
// Device-backed implementations live in audio/device; test doubles in
// audio/mock.
package audio

import (
	"context"
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of PCM data.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is what transcription services expect: 16 kHz mono.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// bytesPerSecond is 0 for an invalid format.
func (f Format) bytesPerSecond() int {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return f.SampleRate * f.Channels * 2
}

// Clip is a finished piece of recorded or decoded audio.
type Clip struct {
	PCM    []byte
	Format Format
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	bps := c.Format.bytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(len(c.PCM)) * int64(time.Second) / int64(bps))
}

// Empty reports whether the clip carries no samples.
func (c Clip) Empty() bool { return len(c.PCM) < 2 }

// Recorder captures audio from an input device.
//
// Record blocks until d has elapsed or ctx is cancelled. On cancellation it
// returns whatever was captured so far together with ctx.Err(), so callers
// that abandon a recording can still keep the partial audio.
//
// Implementations must be safe for sequential reuse; concurrent Record calls
// are not required to be supported.
type Recorder interface {
	Record(ctx context.Context, d time.Duration) (Clip, error)
}

// Player plays encoded audio (for example an MP3 stream produced by a
// speech synthesizer) on an output device. Play blocks until playback ends
// or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, encoded []byte) error
}
