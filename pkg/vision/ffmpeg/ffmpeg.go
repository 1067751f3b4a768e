// Package ffmpeg reads frames from a camera device or video file by running
// an ffmpeg subprocess that emits an MJPEG stream on stdout.
//
// The subprocess is started by [Open] and stopped by [Source.Close]. Frames
// are split on JPEG start/end-of-image markers and decoded with image/jpeg.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/restquest/pkg/vision"
)

const (
	defaultBinary = "ffmpeg"
	defaultFPS    = 15

	// maxFrameBytes bounds a single JPEG so a corrupt stream cannot grow the
	// buffer without limit.
	maxFrameBytes = 8 << 20
)

var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// Source implements vision.Source on top of an ffmpeg process.
type Source struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc

	mu     sync.Mutex
	seq    uint64
	closed bool

	closeOnce sync.Once
	closeErr  error
}

type options struct {
	binary   string
	fps      int
	width    int
	inputFmt string
}

// Option is a functional option for [Open].
type Option func(*options)

// WithBinary sets the ffmpeg executable. Defaults to "ffmpeg" on PATH.
func WithBinary(path string) Option {
	return func(o *options) { o.binary = path }
}

// WithFPS sets the output frame rate. Defaults to 15.
func WithFPS(fps int) Option {
	return func(o *options) {
		if fps > 0 {
			o.fps = fps
		}
	}
}

// WithWidth scales frames to the given width, keeping the aspect ratio.
func WithWidth(w int) Option {
	return func(o *options) { o.width = w }
}

// WithInputFormat forces the ffmpeg input format (e.g. "v4l2",
// "avfoundation", "dshow"). When unset, numeric targets are treated as a
// camera index using the platform default and anything else as a file.
func WithInputFormat(f string) Option {
	return func(o *options) { o.inputFmt = f }
}

// Open starts ffmpeg for target. A numeric target such as "0" selects a
// camera device; anything else is passed to ffmpeg as an input path or URL.
func Open(ctx context.Context, target string, opts ...Option) (*Source, error) {
	o := options{binary: defaultBinary, fps: defaultFPS}
	for _, fn := range opts {
		fn(&o)
	}

	args := buildArgs(target, o)
	pctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(pctx, o.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg: start %q: %w", o.binary, err)
	}
	slog.Debug("ffmpeg source started", "target", target, "pid", cmd.Process.Pid, "fps", o.fps)

	s := &Source{
		cmd:    cmd,
		stdout: stdout,
		reader: bufio.NewReaderSize(stdout, 256<<10),
		cancel: cancel,
	}

	// Fail fast if the device cannot be opened: ffmpeg exits before producing
	// the first frame.
	if err := ctx.Err(); err != nil {
		s.Close()
		return nil, err
	}
	if _, err := s.reader.Peek(len(soi)); err != nil {
		s.Close()
		return nil, fmt.Errorf("ffmpeg: open %q: no frames produced: %w", target, err)
	}
	return s, nil
}

// Opener adapts [Open] to vision.Opener.
func Opener(opts ...Option) vision.Opener {
	return func(ctx context.Context, target string) (vision.Source, error) {
		return Open(ctx, target, opts...)
	}
}

func buildArgs(target string, o options) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	inputFmt := o.inputFmt
	input := target
	if _, err := strconv.Atoi(target); err == nil {
		if inputFmt == "" {
			inputFmt = defaultCameraFormat()
		}
		if inputFmt == "v4l2" {
			input = "/dev/video" + target
		}
	}
	if inputFmt != "" {
		args = append(args, "-f", inputFmt)
	}
	args = append(args, "-i", input)

	filters := []string{"fps=" + strconv.Itoa(o.fps)}
	if o.width > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:-2", o.width))
	}
	args = append(args, "-vf", strings.Join(filters, ","))
	args = append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
	return args
}

func defaultCameraFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "v4l2"
	}
}

// Read implements vision.Source. It blocks until ffmpeg emits the next frame.
func (s *Source) Read() (vision.Frame, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vision.Frame{}, false, nil
	}

	data, err := s.nextJPEG()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return vision.Frame{}, false, nil
		}
		return vision.Frame{}, true, err
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return vision.Frame{}, true, fmt.Errorf("ffmpeg: decode frame: %w", err)
	}
	s.seq++
	return vision.Frame{Image: img, Seq: s.seq, CapturedAt: time.Now()}, true, nil
}

// nextJPEG scans forward to the next SOI marker and returns bytes up to and
// including the following EOI marker.
func (s *Source) nextJPEG() ([]byte, error) {
	var prev byte
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if prev == soi[0] && b == soi[1] {
			break
		}
		prev = b
	}

	buf := bytes.NewBuffer(make([]byte, 0, 64<<10))
	buf.Write(soi)
	prev = 0
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if prev == eoi[0] && b == eoi[1] {
			return buf.Bytes(), nil
		}
		if buf.Len() > maxFrameBytes {
			return nil, fmt.Errorf("ffmpeg: frame exceeds %d bytes", maxFrameBytes)
		}
		prev = b
	}
}

// Close stops ffmpeg and waits for it to exit.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		// Killing the process unblocks a Read waiting on stdout before the
		// lock is taken.
		s.cancel()
		_ = s.stdout.Close()

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if err := s.cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) && !errors.Is(err, context.Canceled) {
				s.closeErr = fmt.Errorf("ffmpeg: wait: %w", err)
			}
		}
	})
	return s.closeErr
}

var _ vision.Source = (*Source)(nil)
