package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Aliisa-yt/twitchbot/internal/voice"
)

var (
	ErrEngineUnavailable = errors.New("tts engine unavailable")
	ErrUnsupportedVoice  = errors.New("voice not recognized by tts engine")
	ErrSynthesisTimeout  = errors.New("speech synthesis timed out")
	ErrLimitExceeded     = errors.New("text exceeds read-out limits")
)

// Artifact is a synthesized audio file awaiting playback. Seq, UserID and
// OwnsFile are stamped by the synthesis manager on release; engines fill
// only Path and Gain.
type Artifact struct {
	Path string
	// Gain is a playback volume percentage (0-200) for engines whose
	// backend has no volume control of its own. 100 leaves the stream
	// untouched.
	Gain int
	// Seq is the submission-order sequence number of the producing job.
	Seq uint64
	// UserID identifies the chat user the spoken text came from.
	UserID string
	// OwnsFile marks the file for deletion once playback finishes.
	OwnsFile bool
}

// Engine is a single speech synthesis backend. A nil artifact with a nil
// error means the backend played the audio itself and there is nothing to
// queue locally.
type Engine interface {
	Name() string
	Synthesize(ctx context.Context, text, lang string, params voice.Params) (*Artifact, error)
}

// Lifecycle is implemented by engines that manage a local server process
// or need a readiness check before first use. Start blocks until the
// backend is usable; Stop releases it.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
}

// Controller is implemented by engines that play audio on a remote
// application. Skip and clear act on that application's own queue, which
// the local playback manager cannot reach.
type Controller interface {
	Skip(ctx context.Context) error
	Clear(ctx context.Context) error
}

// artifactPath returns a collision-free file name for a synthesized audio
// artifact, namespaced by engine. An empty dir falls back to the OS temp
// directory.
func artifactPath(dir, engine, ext string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s.%s", engine, uuid.NewString(), ext))
}

// saveArtifact writes audio bytes to a fresh file, refusing to clobber an
// existing one.
func saveArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("audio dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write audio file: %w", err)
	}
	return f.Close()
}
