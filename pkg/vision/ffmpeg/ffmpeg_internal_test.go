package ffmpeg

import (
	"bufio"
	"bytes"
	"slices"
	"strings"
	"testing"
)

func TestBuildArgs_CameraIndex(t *testing.T) {
	args := buildArgs("0", options{fps: 10, width: 320, inputFmt: "v4l2"})
	joined := strings.Join(args, " ")
	for _, want := range []string{"-f v4l2", "-i /dev/video0", "-vf fps=10,scale=320:-2", "-f image2pipe", "-vcodec mjpeg"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
	if args[len(args)-1] != "-" {
		t.Errorf("last arg = %q, want stdout", args[len(args)-1])
	}
}

func TestBuildArgs_File(t *testing.T) {
	args := buildArgs("clips/q1.mp4", options{fps: 15})
	if !slices.Contains(args, "clips/q1.mp4") {
		t.Errorf("args %v missing input path", args)
	}
	if i := slices.Index(args, "-i"); i > 0 && args[i-2] == "-f" {
		t.Errorf("file input should not force an input format: %v", args)
	}
}

func TestNextJPEG_SplitsOnMarkers(t *testing.T) {
	frame1 := []byte{0xFF, 0xD8, 1, 2, 3, 0xFF, 0xD9}
	frame2 := []byte{0xFF, 0xD8, 4, 0xFF, 0xD9}
	stream := append(append([]byte{0x00, 0x01}, frame1...), frame2...)

	s := &Source{reader: bufio.NewReader(bytes.NewReader(stream))}
	got, err := s.nextJPEG()
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if !bytes.Equal(got, frame1) {
		t.Errorf("first frame = %x, want %x", got, frame1)
	}
	got, err = s.nextJPEG()
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if !bytes.Equal(got, frame2) {
		t.Errorf("second frame = %x, want %x", got, frame2)
	}
	if _, err := s.nextJPEG(); err == nil {
		t.Error("expected EOF after last frame")
	}
}
