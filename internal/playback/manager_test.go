package playback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Aliisa-yt/twitchbot/internal/exqueue"
	"github.com/Aliisa-yt/twitchbot/internal/tts"
)

type playedItem struct {
	path string
	gain int
	err  error
}

// fakePlayer records every play. With a block channel set it holds each
// play until the channel closes or the context cancels; with started set
// it signals the moment a play begins.
type fakePlayer struct {
	mu      sync.Mutex
	items   []playedItem
	started chan string
	block   chan struct{}
}

func (p *fakePlayer) Play(ctx context.Context, path string, gain int) error {
	if p.started != nil {
		p.started <- path
	}
	var err error
	if p.block != nil {
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-p.block:
		}
	}
	p.mu.Lock()
	p.items = append(p.items, playedItem{path: path, gain: gain, err: err})
	p.mu.Unlock()
	return err
}

func (p *fakePlayer) played() []playedItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]playedItem(nil), p.items...)
}

func waitPlayed(t *testing.T, p *fakePlayer, n int) []playedItem {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		items := p.played()
		if len(items) >= n {
			return items
		}
		if time.Now().After(deadline) {
			t.Fatalf("played %d items, want %d", len(items), n)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func tempArtifact(t *testing.T, dir, name string, seq uint64, user string) *tts.Artifact {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatalf("writing artifact file: %v", err)
	}
	return &tts.Artifact{Path: path, Gain: 100, Seq: seq, UserID: user, OwnsFile: true}
}

func waitRemoved(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("file %s was never deleted", path)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func mustEnqueue(t *testing.T, m *Manager, a *tts.Artifact) {
	t.Helper()
	if err := m.Enqueue(context.Background(), a); err != nil {
		t.Fatalf("Enqueue(%s) error = %v", a.Path, err)
	}
}

func TestManagerPlaysInOrderAndDeletes(t *testing.T) {
	type hookCall struct {
		seq uint64
		err error
	}
	hooks := make(chan hookCall, 4)

	player := &fakePlayer{}
	m := NewManager(zap.NewNop(), player, Config{
		Gap:      time.Millisecond,
		OnPlayed: func(a *tts.Artifact, err error) { hooks <- hookCall{a.Seq, err} },
	})
	m.Start()
	t.Cleanup(m.Shutdown)

	dir := t.TempDir()
	a1 := tempArtifact(t, dir, "one.wav", 1, "alice")
	a1.Gain = 150
	a2 := tempArtifact(t, dir, "two.wav", 2, "bob")
	mustEnqueue(t, m, a1)
	mustEnqueue(t, m, a2)

	items := waitPlayed(t, player, 2)
	if items[0].path != a1.Path || items[1].path != a2.Path {
		t.Fatalf("played %q then %q, want %q then %q", items[0].path, items[1].path, a1.Path, a2.Path)
	}
	if items[0].gain != 150 || items[1].gain != 100 {
		t.Fatalf("gains = %d, %d, want 150, 100", items[0].gain, items[1].gain)
	}

	for want := uint64(1); want <= 2; want++ {
		select {
		case h := <-hooks:
			if h.seq != want || h.err != nil {
				t.Fatalf("hook call = seq %d err %v, want seq %d nil", h.seq, h.err, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("OnPlayed never fired for seq %d", want)
		}
	}

	waitRemoved(t, a1.Path)
	waitRemoved(t, a2.Path)
}

func TestSkipCurrentInterruptsOnlyCurrent(t *testing.T) {
	started := make(chan string, 4)
	block := make(chan struct{})
	player := &fakePlayer{started: started, block: block}
	m := NewManager(zap.NewNop(), player, Config{Gap: time.Millisecond})
	m.Start()
	t.Cleanup(m.Shutdown)

	dir := t.TempDir()
	a := tempArtifact(t, dir, "current.wav", 1, "alice")
	b := tempArtifact(t, dir, "next.wav", 2, "bob")
	mustEnqueue(t, m, a)
	<-started
	mustEnqueue(t, m, b)

	if !m.SkipCurrent() {
		t.Fatalf("SkipCurrent() = false with an item playing")
	}
	<-started
	close(block)

	items := waitPlayed(t, player, 2)
	if items[0].path != a.Path || !errors.Is(items[0].err, context.Canceled) {
		t.Fatalf("first item = %q err %v, want skipped %q", items[0].path, items[0].err, a.Path)
	}
	if items[1].path != b.Path || items[1].err != nil {
		t.Fatalf("second item = %q err %v, want %q played out", items[1].path, items[1].err, b.Path)
	}
	waitRemoved(t, a.Path)
	waitRemoved(t, b.Path)
}

func TestSkipCurrentIdle(t *testing.T) {
	m := NewManager(zap.NewNop(), &fakePlayer{}, Config{Gap: time.Millisecond})
	m.Start()
	t.Cleanup(m.Shutdown)
	if m.SkipCurrent() {
		t.Fatalf("SkipCurrent() = true with nothing playing")
	}
}

func TestClearPendingLeavesCurrent(t *testing.T) {
	started := make(chan string, 4)
	block := make(chan struct{})
	player := &fakePlayer{started: started, block: block}
	m := NewManager(zap.NewNop(), player, Config{Gap: time.Millisecond})
	m.Start()
	t.Cleanup(m.Shutdown)

	dir := t.TempDir()
	a := tempArtifact(t, dir, "current.wav", 1, "alice")
	b := tempArtifact(t, dir, "spam.wav", 2, "bob")
	c := tempArtifact(t, dir, "keep.wav", 3, "carol")
	mustEnqueue(t, m, a)
	<-started
	mustEnqueue(t, m, b)
	mustEnqueue(t, m, c)

	if n := m.ClearPending(func(x *tts.Artifact) bool { return x.UserID == "bob" }); n != 1 {
		t.Fatalf("ClearPending() = %d, want 1", n)
	}
	waitRemoved(t, b.Path)

	close(block)
	items := waitPlayed(t, player, 2)
	if items[0].path != a.Path || items[1].path != c.Path {
		t.Fatalf("played %q then %q, want current %q then %q", items[0].path, items[1].path, a.Path, c.Path)
	}
}

func TestClearPendingNilPredicateClearsAll(t *testing.T) {
	started := make(chan string, 4)
	block := make(chan struct{})
	player := &fakePlayer{started: started, block: block}
	m := NewManager(zap.NewNop(), player, Config{Gap: time.Millisecond})
	m.Start()
	t.Cleanup(m.Shutdown)

	dir := t.TempDir()
	a := tempArtifact(t, dir, "current.wav", 1, "alice")
	b := tempArtifact(t, dir, "q1.wav", 2, "bob")
	c := tempArtifact(t, dir, "q2.wav", 3, "carol")
	mustEnqueue(t, m, a)
	<-started
	mustEnqueue(t, m, b)
	mustEnqueue(t, m, c)

	if n := m.ClearPending(nil); n != 2 {
		t.Fatalf("ClearPending(nil) = %d, want 2", n)
	}
	waitRemoved(t, b.Path)
	waitRemoved(t, c.Path)

	close(block)
	items := waitPlayed(t, player, 1)
	if items[0].path != a.Path || items[0].err != nil {
		t.Fatalf("current item = %q err %v, want %q completed", items[0].path, items[0].err, a.Path)
	}
}

func TestTimeLimitStopsLongPlayback(t *testing.T) {
	player := &fakePlayer{block: make(chan struct{})}
	m := NewManager(zap.NewNop(), player, Config{Gap: time.Millisecond, TimeLimit: 30 * time.Millisecond})
	m.Start()
	t.Cleanup(m.Shutdown)

	dir := t.TempDir()
	a := tempArtifact(t, dir, "long1.wav", 1, "alice")
	b := tempArtifact(t, dir, "long2.wav", 2, "bob")
	mustEnqueue(t, m, a)
	mustEnqueue(t, m, b)

	items := waitPlayed(t, player, 2)
	for i, item := range items {
		if !errors.Is(item.err, context.DeadlineExceeded) {
			t.Fatalf("item %d error = %v, want DeadlineExceeded", i, item.err)
		}
	}
	waitRemoved(t, a.Path)
	waitRemoved(t, b.Path)
}

func TestShutdownFinishesCurrentAndDropsQueued(t *testing.T) {
	started := make(chan string, 4)
	block := make(chan struct{})
	player := &fakePlayer{started: started, block: block}
	m := NewManager(zap.NewNop(), player, Config{Gap: time.Millisecond})
	m.Start()

	dir := t.TempDir()
	a := tempArtifact(t, dir, "current.wav", 1, "alice")
	b := tempArtifact(t, dir, "queued.wav", 2, "bob")
	mustEnqueue(t, m, a)
	<-started
	mustEnqueue(t, m, b)

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("Shutdown returned while an item was still playing")
	case <-time.After(30 * time.Millisecond):
	}

	close(block)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Shutdown never returned")
	}

	items := player.played()
	if len(items) != 1 || items[0].path != a.Path || items[0].err != nil {
		t.Fatalf("played = %+v, want only %q completed", items, a.Path)
	}
	// The deletion queue is drained before Shutdown returns.
	if _, err := os.Stat(a.Path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("current item's file still present after shutdown")
	}
	if _, err := os.Stat(b.Path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("queued item's file still present after shutdown")
	}
}

func TestEnqueueAfterShutdownDiscardsFile(t *testing.T) {
	m := NewManager(zap.NewNop(), &fakePlayer{}, Config{Gap: time.Millisecond})
	m.Start()
	m.Shutdown()

	a := tempArtifact(t, t.TempDir(), "late.wav", 1, "alice")
	err := m.Enqueue(context.Background(), a)
	if !errors.Is(err, exqueue.ErrClosed) {
		t.Fatalf("Enqueue() after shutdown error = %v, want ErrClosed", err)
	}
	if _, statErr := os.Stat(a.Path); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("rejected artifact's file was not removed")
	}
}

func TestKeepsFilesItDoesNotOwn(t *testing.T) {
	player := &fakePlayer{}
	m := NewManager(zap.NewNop(), player, Config{Gap: time.Millisecond})
	m.Start()

	a := tempArtifact(t, t.TempDir(), "shared.wav", 1, "alice")
	a.OwnsFile = false
	mustEnqueue(t, m, a)
	waitPlayed(t, player, 1)
	m.Shutdown()

	if _, err := os.Stat(a.Path); err != nil {
		t.Fatalf("unowned file was deleted: %v", err)
	}
}

func TestPlayingState(t *testing.T) {
	started := make(chan string, 1)
	block := make(chan struct{})
	player := &fakePlayer{started: started, block: block}
	m := NewManager(zap.NewNop(), player, Config{Gap: time.Millisecond})
	m.Start()
	t.Cleanup(m.Shutdown)

	if m.Playing() {
		t.Fatalf("Playing() = true before any enqueue")
	}
	mustEnqueue(t, m, tempArtifact(t, t.TempDir(), "cur.wav", 1, "alice"))
	<-started
	if !m.Playing() {
		t.Fatalf("Playing() = false during playback")
	}
	close(block)
	deadline := time.Now().Add(2 * time.Second)
	for m.Playing() {
		if time.Now().After(deadline) {
			t.Fatalf("Playing() stuck true after playback finished")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
