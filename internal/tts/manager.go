package tts

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Aliisa-yt/twitchbot/internal/exqueue"
	"github.com/Aliisa-yt/twitchbot/internal/voice"
)

const (
	defaultWorkers      = 2
	defaultQueueSize    = 50
	defaultSpeechRate   = 8.0 // runes per second
	defaultSynthTimeout = 30 * time.Second
)

// Request is one speech item submitted by the pipeline.
type Request struct {
	Text   string
	Lang   string
	Engine string
	Voice  voice.Params
	UserID string
}

// Job is an accepted request plus its submission-order sequence number.
// Sequence numbers are process-lifetime unique and strictly increasing.
type Job struct {
	Seq uint64
	Request
}

type task struct {
	Job
	ctx context.Context
}

type ManagerConfig struct {
	Workers   int
	QueueSize int
	// LimitChars rejects texts longer than this many runes. 0 disables.
	LimitChars int
	// LimitTime rejects texts whose estimated read-out exceeds it,
	// using SpeechRate runes per second. 0 disables.
	LimitTime  time.Duration
	SpeechRate float64
	// SynthTimeout bounds one engine call, not engine startup.
	SynthTimeout time.Duration
	// Discard disposes of artifact files dropped before release.
	// Defaults to removing the file directly.
	Discard func(path string)
}

// Manager accepts speech requests, synthesizes them on a small worker
// pool, and releases the finished artifacts strictly in submission order
// no matter which engine call finishes first.
type Manager struct {
	logger  *zap.Logger
	reg     *Registry
	cfg     ManagerConfig
	queue   *exqueue.Queue[*task]
	reseq   *resequencer
	release func(*Artifact)

	seq atomic.Uint64

	startOnce sync.Once
	workersWG sync.WaitGroup
	releaseWG sync.WaitGroup
}

// NewManager builds a manager that hands released artifacts to release,
// in sequence order, from a single goroutine. A nil release discards
// every artifact, which is only useful in tests.
func NewManager(logger *zap.Logger, reg *Registry, cfg ManagerConfig, release func(*Artifact)) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.SpeechRate <= 0 {
		cfg.SpeechRate = defaultSpeechRate
	}
	if cfg.SynthTimeout <= 0 {
		cfg.SynthTimeout = defaultSynthTimeout
	}
	m := &Manager{
		logger:  logger,
		reg:     reg,
		cfg:     cfg,
		queue:   exqueue.New[*task](cfg.QueueSize),
		reseq:   newResequencer(),
		release: release,
	}
	if m.release == nil {
		m.release = func(a *Artifact) { m.discardFile(a.Path) }
	}
	return m
}

// Start launches the worker pool and the release loop. Safe to call once.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		for i := 0; i < m.cfg.Workers; i++ {
			m.workersWG.Add(1)
			go m.worker()
		}
		m.releaseWG.Add(1)
		go m.releaseLoop()
	})
}

// Enqueue accepts or rejects one request. Acceptance consumes the next
// sequence number; the artifact will reach the release callback in that
// order. Rejections are ErrLimitExceeded for over-limit text and
// exqueue.ErrClosed after Shutdown.
func (m *Manager) Enqueue(ctx context.Context, req Request) error {
	runes := utf8.RuneCountInString(req.Text)
	if m.cfg.LimitChars > 0 && runes > m.cfg.LimitChars {
		return fmt.Errorf("%d runes over the %d limit: %w", runes, m.cfg.LimitChars, ErrLimitExceeded)
	}
	if m.cfg.LimitTime > 0 {
		if est := estimateReadout(runes, m.cfg.SpeechRate); est > m.cfg.LimitTime {
			return fmt.Errorf("estimated %s read-out over the %s limit: %w",
				est.Round(time.Millisecond), m.cfg.LimitTime, ErrLimitExceeded)
		}
	}

	t := &task{Job: Job{Seq: m.seq.Add(1), Request: req}, ctx: ctx}
	if err := m.queue.Push(ctx, t); err != nil {
		// The sequence slot was consumed at acceptance; free it so the
		// release loop never waits for a job that was not queued.
		m.reseq.complete(t.Job, nil)
		return err
	}
	return nil
}

// Clear cancels queued jobs and drops finished-but-unreleased artifacts
// matching pred. A job a worker is synthesizing right now, and anything
// already released to playback, are unaffected.
func (m *Manager) Clear(pred func(Job) bool) int {
	removed := m.queue.RemoveMatching(func(t *task) bool { return pred(t.Job) })
	for _, t := range removed {
		m.reseq.complete(t.Job, nil)
	}
	dropped := m.reseq.drop(pred, m.discardFile)
	n := len(removed) + dropped
	if n > 0 {
		m.logger.Info("pending speech cleared",
			zap.Int("jobs", len(removed)), zap.Int("artifacts", dropped))
	}
	return n
}

// Shutdown stops accepting requests, cancels everything still queued,
// waits for in-flight synthesis to finish, and releases what completed.
// Idempotent.
func (m *Manager) Shutdown() {
	m.queue.Shutdown()
	for _, t := range m.queue.RemoveMatching(func(*task) bool { return true }) {
		m.reseq.complete(t.Job, nil)
	}
	m.workersWG.Wait()
	m.reseq.close()
	m.releaseWG.Wait()
}

// QueueLen reports how many accepted jobs await a worker.
func (m *Manager) QueueLen() int { return m.queue.Len() }

// Accepted reports how many jobs have been accepted over the process
// lifetime.
func (m *Manager) Accepted() uint64 { return m.seq.Load() }

func (m *Manager) worker() {
	defer m.workersWG.Done()
	for {
		t, err := m.queue.Pop(context.Background())
		if err != nil {
			return
		}
		m.synthesize(t)
	}
}

func (m *Manager) synthesize(t *task) {
	if err := t.ctx.Err(); err != nil {
		m.logger.Debug("synthesis job cancelled before start", zap.Uint64("seq", t.Seq))
		m.reseq.complete(t.Job, nil)
		return
	}
	if err := m.reg.EnsureStarted(t.ctx, t.Engine); err != nil {
		m.logger.Error("tts engine not usable",
			zap.String("engine", t.Engine), zap.Uint64("seq", t.Seq), zap.Error(err))
		m.reseq.complete(t.Job, nil)
		return
	}
	eng, ok := m.reg.Get(t.Engine)
	if !ok {
		m.reseq.complete(t.Job, nil)
		return
	}

	ctx, cancel := context.WithTimeout(t.ctx, m.cfg.SynthTimeout)
	art, err := eng.Synthesize(ctx, t.Text, t.Lang, t.Voice)
	cancel()
	if err != nil {
		// Dropped, never retried: re-speaking stale chat after a delay
		// has no value.
		m.logger.Error("speech synthesis failed",
			zap.String("engine", t.Engine), zap.Uint64("seq", t.Seq), zap.Error(err))
		m.reseq.complete(t.Job, nil)
		return
	}
	if art != nil {
		art.Seq = t.Seq
		art.UserID = t.UserID
		art.OwnsFile = true
	}
	m.reseq.complete(t.Job, art)
}

func (m *Manager) releaseLoop() {
	defer m.releaseWG.Done()
	for {
		art, ok := m.reseq.awaitNext()
		if !ok {
			return
		}
		m.release(art)
	}
}

func (m *Manager) discardFile(path string) {
	if path == "" {
		return
	}
	if m.cfg.Discard != nil {
		m.cfg.Discard(path)
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("discard audio artifact", zap.String("path", path), zap.Error(err))
	}
}

func estimateReadout(runes int, rate float64) time.Duration {
	return time.Duration(float64(runes) / rate * float64(time.Second))
}
