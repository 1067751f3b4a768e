package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/restquest/pkg/audio"
)

// AudioArchive stores recordings and synthesized prompts under a directory,
// each in a file named by a random UUID.
type AudioArchive struct {
	dir string
}

// NewAudioArchive returns an archive rooted at dir.
func NewAudioArchive(dir string) *AudioArchive {
	return &AudioArchive{dir: dir}
}

// SaveClip writes c as a WAV file and returns its path.
func (a *AudioArchive) SaveClip(c audio.Clip) (string, error) {
	return a.SaveEncoded(audio.EncodeWAV(c), "wav")
}

// SaveEncoded writes already-encoded audio (e.g. MP3) with the given
// extension and returns its path.
func (a *AudioArchive) SaveEncoded(data []byte, ext string) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("journal: create audio dir: %w", err)
	}
	path := filepath.Join(a.dir, uuid.NewString()+"."+strings.TrimPrefix(ext, "."))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("journal: write audio: %w", err)
	}
	return path, nil
}
