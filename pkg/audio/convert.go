package audio

import "log/slog"

// sampleAt decodes the int16 sample at sample index i.
func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func putSample(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(s >> 8)
}

// Conform converts c to the target format. The clip is returned unchanged
// when it already matches. Clips with an odd byte count cannot be int16 PCM
// and yield an empty clip in the target format.
//
// Channels are folded to mono first, then resampled, then widened again if
// the target has two channels.
func Conform(c Clip, target Format) Clip {
	if len(c.PCM)%2 != 0 {
		slog.Warn("audio: odd byte count in PCM data, dropping clip", "bytes", len(c.PCM), "format", c.Format)
		return Clip{Format: target}
	}
	if c.Format == target {
		return c
	}

	pcm := c.PCM
	switch c.Format.Channels {
	case 1:
	case 2:
		pcm = StereoToMono(pcm)
	default:
		pcm = downmix(pcm, c.Format.Channels)
	}
	pcm = ResampleMono16(pcm, c.Format.SampleRate, target.SampleRate)
	if target.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return Clip{PCM: pcm, Format: target}
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := range n {
		s := sampleAt(pcm, i)
		putSample(out, i*2, s)
		putSample(out, i*2+1, s)
	}
	return out
}

// StereoToMono averages each L+R pair.
func StereoToMono(pcm []byte) []byte {
	return downmix(pcm, 2)
}

func downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(sampleAt(pcm, i*channels+ch))
		}
		// The mean of int16 values always fits in int16.
		putSample(out, i, int16(sum/int32(channels)))
	}
	return out
}

// ResampleMono16 resamples mono PCM from srcRate to dstRate with linear
// interpolation. Invalid or equal rates return the input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	src := len(pcm) / 2
	dst := int(int64(src) * int64(dstRate) / int64(srcRate))
	if dst == 0 {
		return nil
	}

	out := make([]byte, dst*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range dst {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := sampleAt(pcm, idx)
		s1 := s0
		if idx+1 < src {
			s1 = sampleAt(pcm, idx+1)
		}
		putSample(out, i, int16(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}
