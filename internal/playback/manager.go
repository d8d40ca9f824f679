package playback

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Aliisa-yt/twitchbot/internal/exqueue"
	"github.com/Aliisa-yt/twitchbot/internal/tts"
)

const (
	defaultQueueSize = 50
	// Short silence between items so adjacent clips do not run together.
	defaultGap = 500 * time.Millisecond

	deleteRetries = 3
	deleteDelay   = 500 * time.Millisecond
)

// Player renders one audio file to the output device, returning when the
// file has played out or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, path string, gain int) error
}

type Config struct {
	QueueSize int
	// TimeLimit cuts a single item off mid-play; zero means unlimited.
	TimeLimit time.Duration
	Gap       time.Duration
	// OnPlayed, when set, observes every item after its playback attempt.
	// The error is nil on full play-out, context.Canceled on skip and
	// context.DeadlineExceeded on the time limit.
	OnPlayed func(a *tts.Artifact, err error)
}

// Manager drains the playback queue one artifact at a time. It owns every
// enqueued file: after playback, skip or clear the file goes to a deletion
// worker that retries briefly, since the device can hold the handle for a
// moment after release.
type Manager struct {
	logger    *zap.Logger
	player    Player
	cfg       Config
	queue     *exqueue.Queue[*tts.Artifact]
	deletions *exqueue.Queue[string]

	mu      sync.Mutex
	playing bool
	skip    context.CancelFunc

	startOnce  sync.Once
	stopOnce   sync.Once
	consumerWG sync.WaitGroup
	deleterWG  sync.WaitGroup
}

func NewManager(logger *zap.Logger, player Player, cfg Config) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Gap <= 0 {
		cfg.Gap = defaultGap
	}
	return &Manager{
		logger:    logger,
		player:    player,
		cfg:       cfg,
		queue:     exqueue.New[*tts.Artifact](cfg.QueueSize),
		deletions: exqueue.New[string](cfg.QueueSize * 2),
	}
}

func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.consumerWG.Add(1)
		go m.consume()
		m.deleterWG.Add(1)
		go m.deleteWorker()
	})
}

// Enqueue transfers an artifact, and ownership of its file, to the
// playback queue. When the transfer fails the file is disposed of here so
// it cannot leak.
func (m *Manager) Enqueue(ctx context.Context, a *tts.Artifact) error {
	if a == nil {
		return nil
	}
	if err := m.queue.Push(ctx, a); err != nil {
		m.discard(a)
		return err
	}
	return nil
}

// SkipCurrent interrupts the item playing right now and reports whether
// there was one. Queued items are unaffected.
func (m *Manager) SkipCurrent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.playing || m.skip == nil {
		return false
	}
	m.skip()
	return true
}

// ClearPending removes queued items matching pred (all items when pred is
// nil) and deletes their files. The item currently playing is never
// touched.
func (m *Manager) ClearPending(pred func(*tts.Artifact) bool) int {
	if pred == nil {
		pred = func(*tts.Artifact) bool { return true }
	}
	removed := m.queue.RemoveMatching(pred)
	for _, a := range removed {
		m.discard(a)
	}
	if len(removed) > 0 {
		m.logger.Info("playback queue cleared", zap.Int("removed", len(removed)))
	}
	return len(removed)
}

// Shutdown lets the current item finish, deletes whatever is still
// queued, and drains the deletion queue before returning. Idempotent.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		m.queue.Shutdown()
		m.consumerWG.Wait()
		m.deletions.Shutdown()
		m.deleterWG.Wait()
		m.logger.Info("playback stopped")
	})
}

// DiscardPath hands an orphaned audio file to the deletion worker. The
// synthesis layer uses this for artifacts cancelled before they reached
// the queue.
func (m *Manager) DiscardPath(path string) {
	if path == "" {
		return
	}
	if err := m.deletions.TryPush(path); err != nil {
		// Deletion queue full or shut down; do not leak the file.
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			m.logger.Warn("audio file not deleted", zap.String("path", path), zap.Error(rmErr))
		}
	}
}

func (m *Manager) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

func (m *Manager) QueueLen() int { return m.queue.Len() }

func (m *Manager) consume() {
	defer m.consumerWG.Done()
	for {
		a, err := m.queue.Pop(context.Background())
		if err != nil {
			break
		}
		m.playOne(a)
		time.Sleep(m.cfg.Gap)
	}
	// Items still queued at shutdown are dropped, not played.
	for _, a := range m.queue.RemoveMatching(func(*tts.Artifact) bool { return true }) {
		m.discard(a)
	}
}

func (m *Manager) playOne(a *tts.Artifact) {
	defer m.discard(a)

	ctx := context.Background()
	var cancel context.CancelFunc
	if m.cfg.TimeLimit > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.cfg.TimeLimit)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	m.mu.Lock()
	m.playing = true
	m.skip = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.playing = false
		m.skip = nil
		m.mu.Unlock()
	}()

	err := m.player.Play(ctx, a.Path, a.Gain)
	fields := []zap.Field{
		zap.Uint64("seq", a.Seq),
		zap.String("user", a.UserID),
		zap.String("path", a.Path),
	}
	switch {
	case err == nil:
		m.logger.Info("playback completed", fields...)
	case errors.Is(err, context.DeadlineExceeded):
		m.logger.Info("playback time limit reached", fields...)
	case errors.Is(err, context.Canceled):
		m.logger.Info("playback skipped", fields...)
	default:
		m.logger.Error("playback failed", append(fields, zap.Error(err))...)
	}
	if m.cfg.OnPlayed != nil {
		m.cfg.OnPlayed(a, err)
	}
}

func (m *Manager) discard(a *tts.Artifact) {
	if a == nil || !a.OwnsFile {
		return
	}
	m.DiscardPath(a.Path)
}

func (m *Manager) deleteWorker() {
	defer m.deleterWG.Done()
	for {
		path, err := m.deletions.Pop(context.Background())
		if err != nil {
			break
		}
		m.deleteWithRetry(path)
	}
	for _, path := range m.deletions.RemoveMatching(func(string) bool { return true }) {
		m.deleteWithRetry(path)
	}
}

// deleteWithRetry removes a file, retrying briefly because Windows keeps
// the handle locked for a moment after the device releases it.
func (m *Manager) deleteWithRetry(path string) {
	for attempt := 1; ; attempt++ {
		err := os.Remove(path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return
		}
		if attempt >= deleteRetries {
			m.logger.Warn("audio file not deleted",
				zap.String("path", path), zap.Int("attempts", attempt), zap.Error(err))
			return
		}
		time.Sleep(deleteDelay)
	}
}
