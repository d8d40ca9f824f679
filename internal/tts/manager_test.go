package tts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Aliisa-yt/twitchbot/internal/exqueue"
	"github.com/Aliisa-yt/twitchbot/internal/voice"
)

// scriptedEngine runs the provided synth func for every call.
type scriptedEngine struct {
	name  string
	synth func(ctx context.Context, text string) (*Artifact, error)
}

func (e *scriptedEngine) Name() string { return e.name }

func (e *scriptedEngine) Synthesize(ctx context.Context, text, _ string, _ voice.Params) (*Artifact, error) {
	return e.synth(ctx, text)
}

func instantEngine(name string) *scriptedEngine {
	return &scriptedEngine{name: name, synth: func(_ context.Context, text string) (*Artifact, error) {
		return &Artifact{Path: name + "/" + text + ".wav"}, nil
	}}
}

func newTestManager(t *testing.T, cfg ManagerConfig, engines ...Engine) (*Manager, chan *Artifact) {
	t.Helper()
	released := make(chan *Artifact, 16)
	reg := NewRegistry(zap.NewNop(), engines...)
	m := NewManager(zap.NewNop(), reg, cfg, func(a *Artifact) { released <- a })
	m.Start()
	t.Cleanup(m.Shutdown)
	return m, released
}

func awaitArtifact(t *testing.T, ch <-chan *Artifact) *Artifact {
	t.Helper()
	select {
	case a := <-ch:
		return a
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for an artifact release")
		return nil
	}
}

func expectNoArtifact(t *testing.T, ch <-chan *Artifact, wait time.Duration) {
	t.Helper()
	select {
	case a := <-ch:
		t.Fatalf("unexpected release of seq %d (%s)", a.Seq, a.Path)
	case <-time.After(wait):
	}
}

func TestManagerReleasesInSubmissionOrder(t *testing.T) {
	gate := make(chan struct{})
	slowDone := make(chan struct{})
	slow := &scriptedEngine{name: "slow", synth: func(_ context.Context, text string) (*Artifact, error) {
		<-gate
		close(slowDone)
		return &Artifact{Path: "slow/" + text + ".wav"}, nil
	}}
	fastDone := make(chan struct{})
	fast := &scriptedEngine{name: "fast", synth: func(_ context.Context, text string) (*Artifact, error) {
		defer close(fastDone)
		return &Artifact{Path: "fast/" + text + ".wav"}, nil
	}}

	m, released := newTestManager(t, ManagerConfig{Workers: 2}, slow, fast)

	if err := m.Enqueue(context.Background(), Request{Text: "first", Engine: "slow", UserID: "alice"}); err != nil {
		t.Fatalf("Enqueue(first) error = %v", err)
	}
	if err := m.Enqueue(context.Background(), Request{Text: "second", Engine: "fast", UserID: "bob"}); err != nil {
		t.Fatalf("Enqueue(second) error = %v", err)
	}

	// The later job finishes first but must not be released early.
	<-fastDone
	expectNoArtifact(t, released, 50*time.Millisecond)

	close(gate)
	<-slowDone
	a1 := awaitArtifact(t, released)
	a2 := awaitArtifact(t, released)
	if a1.Seq != 1 || a1.Path != "slow/first.wav" {
		t.Fatalf("first release = seq %d path %q, want seq 1 slow/first.wav", a1.Seq, a1.Path)
	}
	if a2.Seq != 2 || a2.Path != "fast/second.wav" {
		t.Fatalf("second release = seq %d path %q, want seq 2 fast/second.wav", a2.Seq, a2.Path)
	}
	if a1.UserID != "alice" || a2.UserID != "bob" {
		t.Fatalf("user ids = %q, %q, want alice, bob", a1.UserID, a2.UserID)
	}
	if !a1.OwnsFile || !a2.OwnsFile {
		t.Fatalf("released artifacts should own their files")
	}
}

func TestManagerFailedJobFreesItsSlot(t *testing.T) {
	failing := &scriptedEngine{name: "failing", synth: func(context.Context, string) (*Artifact, error) {
		return nil, errors.New("backend exploded")
	}}
	m, released := newTestManager(t, ManagerConfig{Workers: 1}, failing, instantEngine("fast"))

	if err := m.Enqueue(context.Background(), Request{Text: "broken", Engine: "failing"}); err != nil {
		t.Fatalf("Enqueue(broken) error = %v", err)
	}
	if err := m.Enqueue(context.Background(), Request{Text: "ok", Engine: "fast"}); err != nil {
		t.Fatalf("Enqueue(ok) error = %v", err)
	}

	a := awaitArtifact(t, released)
	if a.Seq != 2 || a.Path != "fast/ok.wav" {
		t.Fatalf("release = seq %d path %q, want seq 2 fast/ok.wav", a.Seq, a.Path)
	}
}

func TestManagerRemotePlaybackConsumesSlot(t *testing.T) {
	remote := &scriptedEngine{name: "remote", synth: func(context.Context, string) (*Artifact, error) {
		return nil, nil
	}}
	m, released := newTestManager(t, ManagerConfig{Workers: 1}, remote, instantEngine("fast"))

	if err := m.Enqueue(context.Background(), Request{Text: "spoken elsewhere", Engine: "remote"}); err != nil {
		t.Fatalf("Enqueue(remote) error = %v", err)
	}
	if err := m.Enqueue(context.Background(), Request{Text: "local", Engine: "fast"}); err != nil {
		t.Fatalf("Enqueue(local) error = %v", err)
	}

	a := awaitArtifact(t, released)
	if a.Seq != 2 || a.Path != "fast/local.wav" {
		t.Fatalf("release = seq %d path %q, want seq 2 fast/local.wav", a.Seq, a.Path)
	}
}

func TestManagerRejectsOverCharacterLimit(t *testing.T) {
	m, released := newTestManager(t, ManagerConfig{Workers: 1, LimitChars: 10}, instantEngine("fast"))

	err := m.Enqueue(context.Background(), Request{Text: "こんにちはこんにちは絶", Engine: "fast"})
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("Enqueue() error = %v, want ErrLimitExceeded", err)
	}
	if got := m.Accepted(); got != 0 {
		t.Fatalf("Accepted() = %d after rejection, want 0", got)
	}

	if err := m.Enqueue(context.Background(), Request{Text: "こんにちは", Engine: "fast"}); err != nil {
		t.Fatalf("Enqueue() under limit error = %v", err)
	}
	if a := awaitArtifact(t, released); a.Seq != 1 {
		t.Fatalf("release seq = %d, want 1", a.Seq)
	}
}

func TestManagerRejectsOverTimeLimit(t *testing.T) {
	cfg := ManagerConfig{Workers: 1, LimitTime: 2 * time.Second, SpeechRate: 5}
	m, released := newTestManager(t, cfg, instantEngine("fast"))

	// 11 runes at 5 runes/s estimates 2.2s of speech.
	err := m.Enqueue(context.Background(), Request{Text: "あいうえおかきくけこさ", Engine: "fast"})
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("Enqueue() error = %v, want ErrLimitExceeded", err)
	}

	// Exactly at the limit is accepted.
	if err := m.Enqueue(context.Background(), Request{Text: "あいうえおかきくけこ", Engine: "fast"}); err != nil {
		t.Fatalf("Enqueue() at limit error = %v", err)
	}
	awaitArtifact(t, released)
}

func TestManagerClearCancelsQueuedJobs(t *testing.T) {
	entered := make(chan struct{}, 1)
	gate := make(chan struct{})
	slow := &scriptedEngine{name: "slow", synth: func(_ context.Context, text string) (*Artifact, error) {
		entered <- struct{}{}
		<-gate
		return &Artifact{Path: "slow/" + text + ".wav"}, nil
	}}
	m, released := newTestManager(t, ManagerConfig{Workers: 1}, slow, instantEngine("fast"))

	if err := m.Enqueue(context.Background(), Request{Text: "playing", Engine: "slow", UserID: "alice"}); err != nil {
		t.Fatalf("Enqueue(playing) error = %v", err)
	}
	<-entered
	if err := m.Enqueue(context.Background(), Request{Text: "spam", Engine: "fast", UserID: "bob"}); err != nil {
		t.Fatalf("Enqueue(spam) error = %v", err)
	}
	if err := m.Enqueue(context.Background(), Request{Text: "keep", Engine: "fast", UserID: "carol"}); err != nil {
		t.Fatalf("Enqueue(keep) error = %v", err)
	}

	if n := m.Clear(func(j Job) bool { return j.UserID == "bob" }); n != 1 {
		t.Fatalf("Clear() = %d, want 1", n)
	}

	close(gate)
	a1 := awaitArtifact(t, released)
	a2 := awaitArtifact(t, released)
	if a1.Seq != 1 || a2.Seq != 3 {
		t.Fatalf("released seqs = %d, %d, want 1, 3", a1.Seq, a2.Seq)
	}
	expectNoArtifact(t, released, 50*time.Millisecond)
}

func TestManagerClearDropsUnreleasedArtifacts(t *testing.T) {
	var discarded []string
	var discardMu sync.Mutex

	gate := make(chan struct{})
	slow := &scriptedEngine{name: "slow", synth: func(_ context.Context, text string) (*Artifact, error) {
		<-gate
		return &Artifact{Path: "slow/" + text + ".wav"}, nil
	}}
	fastDone := make(chan struct{})
	fast := &scriptedEngine{name: "fast", synth: func(_ context.Context, text string) (*Artifact, error) {
		defer close(fastDone)
		return &Artifact{Path: "fast/" + text + ".wav"}, nil
	}}

	cfg := ManagerConfig{Workers: 2, Discard: func(path string) {
		discardMu.Lock()
		discarded = append(discarded, path)
		discardMu.Unlock()
	}}
	m, released := newTestManager(t, cfg, slow, fast)

	if err := m.Enqueue(context.Background(), Request{Text: "ahead", Engine: "slow", UserID: "alice"}); err != nil {
		t.Fatalf("Enqueue(ahead) error = %v", err)
	}
	if err := m.Enqueue(context.Background(), Request{Text: "spam", Engine: "fast", UserID: "bob"}); err != nil {
		t.Fatalf("Enqueue(spam) error = %v", err)
	}
	<-fastDone
	// The fast job finished but is blocked behind seq 1; Clear must catch
	// it there. One settle loop since completion lands just after the
	// engine returns.
	deadline := time.Now().Add(time.Second)
	for {
		if n := m.Clear(func(j Job) bool { return j.UserID == "bob" }); n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Clear() never caught the unreleased artifact")
		}
		time.Sleep(time.Millisecond)
	}

	close(gate)
	a := awaitArtifact(t, released)
	if a.Seq != 1 || a.UserID != "alice" {
		t.Fatalf("release = seq %d user %q, want seq 1 alice", a.Seq, a.UserID)
	}
	expectNoArtifact(t, released, 50*time.Millisecond)

	discardMu.Lock()
	defer discardMu.Unlock()
	if len(discarded) != 1 || discarded[0] != "fast/spam.wav" {
		t.Fatalf("discarded = %v, want [fast/spam.wav]", discarded)
	}
}

func TestManagerCancelledJobSkipsSynthesis(t *testing.T) {
	entered := make(chan struct{}, 1)
	gate := make(chan struct{})
	slow := &scriptedEngine{name: "slow", synth: func(_ context.Context, text string) (*Artifact, error) {
		entered <- struct{}{}
		<-gate
		return &Artifact{Path: "slow/" + text + ".wav"}, nil
	}}
	calls := 0
	var callsMu sync.Mutex
	counting := &scriptedEngine{name: "counting", synth: func(_ context.Context, text string) (*Artifact, error) {
		callsMu.Lock()
		calls++
		callsMu.Unlock()
		return &Artifact{Path: "counting/" + text + ".wav"}, nil
	}}
	m, released := newTestManager(t, ManagerConfig{Workers: 1}, slow, counting)

	if err := m.Enqueue(context.Background(), Request{Text: "playing", Engine: "slow"}); err != nil {
		t.Fatalf("Enqueue(playing) error = %v", err)
	}
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Enqueue(ctx, Request{Text: "dead", Engine: "counting"}); err != nil {
		t.Fatalf("Enqueue(dead) error = %v", err)
	}
	cancel()

	close(gate)
	a := awaitArtifact(t, released)
	if a.Seq != 1 {
		t.Fatalf("release seq = %d, want 1", a.Seq)
	}
	expectNoArtifact(t, released, 50*time.Millisecond)

	callsMu.Lock()
	defer callsMu.Unlock()
	if calls != 0 {
		t.Fatalf("cancelled job reached the engine %d times", calls)
	}
}

func TestManagerUnknownEngineDropsJob(t *testing.T) {
	m, released := newTestManager(t, ManagerConfig{Workers: 1}, instantEngine("fast"))

	if err := m.Enqueue(context.Background(), Request{Text: "nowhere", Engine: "ghost"}); err != nil {
		t.Fatalf("Enqueue(ghost) error = %v", err)
	}
	if err := m.Enqueue(context.Background(), Request{Text: "ok", Engine: "fast"}); err != nil {
		t.Fatalf("Enqueue(ok) error = %v", err)
	}

	a := awaitArtifact(t, released)
	if a.Seq != 2 {
		t.Fatalf("release seq = %d, want 2", a.Seq)
	}
}

func TestManagerShutdownRejectsNewWork(t *testing.T) {
	released := make(chan *Artifact, 16)
	reg := NewRegistry(zap.NewNop(), instantEngine("fast"))
	m := NewManager(zap.NewNop(), reg, ManagerConfig{Workers: 1}, func(a *Artifact) { released <- a })
	m.Start()
	m.Shutdown()

	err := m.Enqueue(context.Background(), Request{Text: "late", Engine: "fast"})
	if !errors.Is(err, exqueue.ErrClosed) {
		t.Fatalf("Enqueue() after shutdown error = %v, want exqueue.ErrClosed", err)
	}
}

func TestManagerShutdownWaitsForInflight(t *testing.T) {
	entered := make(chan struct{}, 1)
	gate := make(chan struct{})
	slow := &scriptedEngine{name: "slow", synth: func(_ context.Context, text string) (*Artifact, error) {
		entered <- struct{}{}
		<-gate
		return &Artifact{Path: "slow/" + text + ".wav"}, nil
	}}

	released := make(chan *Artifact, 16)
	reg := NewRegistry(zap.NewNop(), slow)
	m := NewManager(zap.NewNop(), reg, ManagerConfig{Workers: 1}, func(a *Artifact) { released <- a })
	m.Start()

	if err := m.Enqueue(context.Background(), Request{Text: "closing", Engine: "slow"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	<-entered

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(gate)
	}()
	m.Shutdown()

	select {
	case a := <-released:
		if a.Seq != 1 {
			t.Fatalf("release seq = %d, want 1", a.Seq)
		}
	default:
		t.Fatalf("in-flight artifact was not released before shutdown returned")
	}
}
