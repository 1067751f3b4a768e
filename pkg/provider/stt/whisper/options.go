package whisper

import "errors"

// ErrNativeUnavailable is returned by [NewNative] when the binary was built
// without whisper.cpp support.
var ErrNativeUnavailable = errors.New("whisper: built without whispercpp tag")

type nativeConfig struct {
	language string
}

// NativeOption is a functional option for [NewNative].
type NativeOption func(*nativeConfig)

// WithNativeLanguage sets the default transcription language. Defaults to
// "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(c *nativeConfig) { c.language = lang }
}
