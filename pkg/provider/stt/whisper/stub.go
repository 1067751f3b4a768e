//go:build !whispercpp

package whisper

import (
	"context"

	"github.com/MrWong99/restquest/pkg/audio"
	"github.com/MrWong99/restquest/pkg/provider/stt"
)

// NativeProvider is unavailable in builds without the "whispercpp" tag.
type NativeProvider struct{}

// NewNative always returns [ErrNativeUnavailable] in this build.
func NewNative(string, ...NativeOption) (*NativeProvider, error) {
	return nil, ErrNativeUnavailable
}

// Close is a no-op.
func (*NativeProvider) Close() error { return nil }

// Transcribe always returns [ErrNativeUnavailable].
func (*NativeProvider) Transcribe(context.Context, audio.Clip, stt.Options) (stt.Transcript, error) {
	return stt.Transcript{}, ErrNativeUnavailable
}

var _ stt.Provider = (*NativeProvider)(nil)
