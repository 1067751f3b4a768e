package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to release a synthesizer's streaming channel when its output is
// no longer needed.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
