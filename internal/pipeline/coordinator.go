// Package pipeline turns normalized chat events into speech: it applies
// the ignore rules, routes each message through translation, resolves
// the voice for the author's role, and feeds the synthesis and playback
// stages. The moderation command set arrives on the same path and is
// dispatched inline, ahead of the ingest queue, so a skip still lands
// while the event worker is busy.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Aliisa-yt/twitchbot/internal/exqueue"
	"github.com/Aliisa-yt/twitchbot/internal/observability"
	"github.com/Aliisa-yt/twitchbot/internal/playback"
	"github.com/Aliisa-yt/twitchbot/internal/transcript"
	"github.com/Aliisa-yt/twitchbot/internal/translate"
	"github.com/Aliisa-yt/twitchbot/internal/tts"
	"github.com/Aliisa-yt/twitchbot/internal/voice"
)

const (
	defaultQueueSize = 50
	// queueUsageDebugThreshold logs ingest pressure before drops begin.
	queueUsageDebugThreshold = 0.9
	// commandTimeout bounds the remote calls a command dispatch may make.
	commandTimeout = 5 * time.Second
)

// Event is one normalized chat line, after the feed layer has mapped the
// author's badges to a voice table role. ParentLang carries the target
// language of the message this one replies to; replies inherit it when
// the text has no forced prefix of its own.
type Event struct {
	ID         string
	UserID     string
	UserName   string
	Role       voice.Role
	Text       string
	ParentLang string
	At         time.Time
}

// Config is the pipeline policy. SpeakOriginal and SpeakTranslated gate
// the two renditions of one message independently.
type Config struct {
	QueueSize       int
	IgnoreUsers     []string
	BotUserID       string
	SpeakOriginal   bool
	SpeakTranslated bool
	TimeSignal      bool
}

// Coordinator wires the translation router, voice resolver, synthesis
// manager, and playback manager together per inbound event. Submit and
// ClearChat are safe for concurrent use; a single worker drains the
// ingest queue so event handling never interleaves.
type Coordinator struct {
	logger   *zap.Logger
	cfg      Config
	router   *translate.Router
	resolver *voice.Resolver
	engines  *tts.Registry
	synth    *tts.Manager
	player   *playback.Manager
	log      *transcript.Log
	metrics  *observability.Metrics

	ingest  *exqueue.Queue[Event]
	ignored map[string]struct{}

	stop      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewCoordinator(
	logger *zap.Logger,
	cfg Config,
	router *translate.Router,
	resolver *voice.Resolver,
	engines *tts.Registry,
	synth *tts.Manager,
	player *playback.Manager,
	log *transcript.Log,
	metrics *observability.Metrics,
) *Coordinator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	ignored := make(map[string]struct{}, len(cfg.IgnoreUsers))
	for _, name := range cfg.IgnoreUsers {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			ignored[name] = struct{}{}
		}
	}
	return &Coordinator{
		logger:   logger,
		cfg:      cfg,
		router:   router,
		resolver: resolver,
		engines:  engines,
		synth:    synth,
		player:   player,
		log:      log,
		metrics:  metrics,
		ingest:   exqueue.New[Event](cfg.QueueSize),
		ignored:  ignored,
		stop:     make(chan struct{}),
	}
}

// Start launches the downstream stages, the event worker, and the time
// signal when configured. Safe to call once.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		c.synth.Start()
		c.player.Start()
		c.wg.Add(1)
		go c.worker()
		if c.cfg.TimeSignal {
			c.wg.Add(1)
			go c.timeSignalLoop()
		}
		c.logger.Info("pipeline started", zap.Int("ingest_capacity", c.ingest.Cap()))
	})
}

// Shutdown stops intake, waits for the event worker to finish its current
// message, then shuts the synthesis and playback stages in order. The
// item playing right now finishes; everything still queued is dropped.
// Idempotent.
func (c *Coordinator) Shutdown() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.ingest.Shutdown()
		c.wg.Wait()
		c.synth.Shutdown()
		c.player.Shutdown()
		c.logger.Info("pipeline stopped")
	})
}

// Submit applies the ignore rules, dispatches commands inline, and queues
// everything else for the worker. A full queue drops the event with a
// warning instead of blocking the feed.
func (c *Coordinator) Submit(ctx context.Context, ev Event) {
	if c.shouldIgnore(ev) {
		c.observeEvent("ignored")
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if cmd, ok := parseCommand(ev.Text); ok {
		c.dispatchCommand(ctx, ev, cmd)
		return
	}
	if strings.HasPrefix(strings.TrimSpace(ev.Text), "!") {
		// Some other bot's command; not worth speaking.
		c.observeEvent("ignored")
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	if err := c.ingest.TryPush(ev); err != nil {
		if errors.Is(err, exqueue.ErrFull) {
			c.logger.Warn("ingest queue full, dropping chat event",
				zap.String("event", ev.ID), zap.String("user", ev.UserName))
			c.observeIndicator("queue_drop")
		}
		c.observeEvent("dropped")
		return
	}
	c.observeIngestDepth()
	if n := c.ingest.Len(); float64(n) >= queueUsageDebugThreshold*float64(c.ingest.Cap()) {
		c.logger.Debug("ingest queue filling up",
			zap.Int("len", n), zap.Int("cap", c.ingest.Cap()))
	}
}

// ClearChat reacts to a chat-box clear. With a user ID only that user's
// pending work is removed; with an empty ID everything pending is dropped
// and the current playback stops. Returns how many pending items went.
func (c *Coordinator) ClearChat(userID string) int {
	var n int
	if userID == "" {
		n = len(c.ingest.RemoveMatching(func(Event) bool { return true }))
		n += c.synth.Clear(func(tts.Job) bool { return true })
		n += c.player.ClearPending(nil)
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		c.forwardRemoteClear(ctx)
		cancel()
		c.player.SkipCurrent()
		c.logger.Info("chat cleared", zap.Int("removed", n))
	} else {
		n = len(c.ingest.RemoveMatching(func(ev Event) bool { return ev.UserID == userID }))
		n += c.synth.Clear(func(j tts.Job) bool { return j.UserID == userID })
		n += c.player.ClearPending(func(a *tts.Artifact) bool { return a.UserID == userID })
		c.logger.Info("user chat cleared", zap.String("user", userID), zap.Int("removed", n))
	}
	c.observeIngestDepth()
	return n
}

// Skip cancels the item playing right now, locally and on engines that
// play remotely. It reports whether a local item was interrupted.
func (c *Coordinator) Skip(ctx context.Context) bool {
	skipped := c.player.SkipCurrent()
	c.forwardRemoteSkip(ctx)
	return skipped
}

// QueueLen reports how many accepted events await the worker.
func (c *Coordinator) QueueLen() int { return c.ingest.Len() }

func (c *Coordinator) shouldIgnore(ev Event) bool {
	switch {
	case strings.TrimSpace(ev.Text) == "":
		return true
	case c.cfg.BotUserID != "" && ev.UserID == c.cfg.BotUserID:
		return true
	default:
		_, ok := c.ignored[strings.ToLower(strings.TrimSpace(ev.UserName))]
		return ok
	}
}

func (c *Coordinator) worker() {
	defer c.wg.Done()
	for {
		ev, err := c.ingest.Pop(context.Background())
		if err != nil {
			return
		}
		c.observeIngestDepth()
		c.handleEvent(ev)
	}
}

// handleEvent runs one chat event through translate, transcript, and
// speech. Failures never propagate past the event that caused them.
func (c *Coordinator) handleEvent(ev Event) {
	start := time.Now()
	ctx := context.Background()

	text, tweak, hasTweak := voice.ExtractTweaks(ev.Text)
	if hasTweak {
		c.resolver.Tweaks().Push(tweak)
		c.logger.Debug("voice tweak applied", zap.String("user", ev.UserName))
	}
	text = normalizeChat(text)
	if text == "" {
		c.observeEvent("ignored")
		return
	}

	req := translate.Request{Text: text}
	if lang, ok := translate.CanonicalLanguage(ev.ParentLang); ok {
		req.ForcedTarget = lang
	}

	routeStart := time.Now()
	res, err := c.router.Route(ctx, req)
	c.observeStage("translate", time.Since(routeStart))
	if err != nil {
		if res.Source == "" || res.Original == "" {
			c.logger.Warn("chat event not routable",
				zap.String("event", ev.ID), zap.Error(err))
			c.observeTranslation("none", "failed")
			c.observeEvent("error")
			return
		}
		// The source was detected before translation gave out; the
		// original rendition still works.
		c.logger.Warn("translation unavailable, speaking original only",
			zap.String("event", ev.ID), zap.Error(err))
		c.observeTranslation("none", "failed")
		c.observeIndicator("translation_fallback")
	} else if res.Translated {
		c.observeTranslation(res.Engine, "ok")
	}
	if res.Original == "" {
		// A bare prefix such as "ja:" with no body.
		c.observeEvent("ignored")
		return
	}

	c.log.Append(transcript.Entry{
		Kind: transcript.KindSpeech,
		User: ev.UserName,
		Role: string(ev.Role),
		Text: res.Original,
		Lang: res.Source,
	})
	if c.cfg.SpeakOriginal {
		c.speak(ctx, ev, res.Original, res.Source)
	}

	if err == nil && res.Translated {
		c.log.Append(transcript.Entry{
			Kind:   transcript.KindSpeech,
			User:   ev.UserName,
			Role:   string(ev.Role),
			Text:   res.Text,
			Detail: res.Original,
			Lang:   res.Target,
			Engine: res.Engine,
		})
		if c.cfg.SpeakTranslated {
			c.speak(ctx, ev, res.Text, res.Target)
		}
	}

	c.observeEvent("accepted")
	c.observeStage("event_total", time.Since(start))
}

// speak resolves the voice for (role, lang) and submits one synthesis
// request. The first candidate whose engine is registered wins; an empty
// candidate list means this rendition stays silent.
func (c *Coordinator) speak(ctx context.Context, ev Event, text, lang string) {
	text = normalizeSpeech(text)
	if text == "" {
		return
	}
	for _, cand := range c.resolver.Resolve(ev.Role, lang) {
		if _, ok := c.engines.Get(cand.Engine); !ok {
			continue
		}
		err := c.synth.Enqueue(ctx, tts.Request{
			Text:   text,
			Lang:   lang,
			Engine: cand.Engine,
			Voice:  cand.Voice,
			UserID: ev.UserID,
		})
		if err != nil {
			c.logger.Debug("speech request rejected",
				zap.String("engine", cand.Engine), zap.String("lang", lang), zap.Error(err))
			if c.metrics != nil {
				c.metrics.Syntheses.WithLabelValues(cand.Engine, "rejected").Inc()
			}
		}
		return
	}
	c.logger.Debug("no voice for role and language",
		zap.String("role", string(ev.Role)), zap.String("lang", lang))
}

func (c *Coordinator) observeEvent(outcome string) {
	if c.metrics != nil {
		c.metrics.ChatEvents.WithLabelValues(outcome).Inc()
	}
}

func (c *Coordinator) observeTranslation(engine, outcome string) {
	if c.metrics != nil {
		c.metrics.Translations.WithLabelValues(engine, outcome).Inc()
	}
}

func (c *Coordinator) observeStage(stage string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.ObserveStage(stage, d)
	}
}

func (c *Coordinator) observeIndicator(name string) {
	if c.metrics != nil {
		c.metrics.ObserveIndicator(name)
	}
}

func (c *Coordinator) observeIngestDepth() {
	if c.metrics != nil {
		c.metrics.QueueDepth.WithLabelValues("ingest").Set(float64(c.ingest.Len()))
	}
}
