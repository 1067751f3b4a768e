package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWAV is returned by [DecodeWAV] for data without a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

const wavHeaderSize = 44

// EncodeWAV wraps the clip in a canonical 44-byte PCM WAV header.
func EncodeWAV(c Clip) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(c.PCM))
	dataLen := uint32(len(c.PCM))
	blockAlign := uint16(c.Format.Channels * 2)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(c.Format.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(c.Format.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(c.Format.SampleRate)*uint32(blockAlign))
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(c.PCM)
	return buf.Bytes()
}

// DecodeWAV parses a 16-bit PCM WAV file. Chunks other than "fmt " and
// "data" are skipped.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, ErrNotWAV
	}
	var (
		c      Clip
		gotFmt bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return Clip{}, fmt.Errorf("audio: fmt chunk too short (%d bytes)", size)
			}
			if tag := binary.LittleEndian.Uint16(data[body:]); tag != 1 {
				return Clip{}, fmt.Errorf("audio: unsupported WAV encoding %d", tag)
			}
			if bits := binary.LittleEndian.Uint16(data[body+14:]); bits != 16 {
				return Clip{}, fmt.Errorf("audio: unsupported bit depth %d", bits)
			}
			c.Format.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			c.Format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			gotFmt = true
		case "data":
			if !gotFmt {
				return Clip{}, fmt.Errorf("audio: data chunk before fmt chunk")
			}
			c.PCM = data[body : body+size]
			return c, nil
		}
		off = body + size + size%2
	}
	return Clip{}, fmt.Errorf("audio: no data chunk")
}
