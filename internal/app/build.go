// Package app assembles the service: config in, a ready-to-serve object
// graph out. Engine construction lives in engines.go; everything else is
// wiring order.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Aliisa-yt/twitchbot/internal/config"
	"github.com/Aliisa-yt/twitchbot/internal/httpapi"
	"github.com/Aliisa-yt/twitchbot/internal/observability"
	"github.com/Aliisa-yt/twitchbot/internal/pipeline"
	"github.com/Aliisa-yt/twitchbot/internal/playback"
	"github.com/Aliisa-yt/twitchbot/internal/session"
	"github.com/Aliisa-yt/twitchbot/internal/transcache"
	"github.com/Aliisa-yt/twitchbot/internal/transcript"
	"github.com/Aliisa-yt/twitchbot/internal/translate"
	"github.com/Aliisa-yt/twitchbot/internal/tts"
	"github.com/Aliisa-yt/twitchbot/internal/voice"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Pipeline *pipeline.Coordinator
	Engines  *tts.Registry
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources
	// (managed engine processes, the cache store).
	Cleanup func() error
}

// Build wires the full pipeline. ctx bounds background maintenance
// (session janitor, cache sweeps) and engine startup probes; cancelling
// it stops those loops but not the pipeline itself.
func Build(ctx context.Context, logger *zap.Logger, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var cache *transcache.Cache
	if cfg.CacheEnabled {
		store, err := transcache.NewStore(ctx, cfg.DatabaseURL, transcache.Limits{
			TranslationTTL: cfg.CacheTranslationTTL,
			DetectionTTL:   cfg.CacheDetectionTTL,
			MaxPerEngine:   cfg.CacheMaxPerEngine,
		})
		if err != nil {
			return nil, fmt.Errorf("translation cache init failed: %w", err)
		}
		cache = transcache.New(logger, store, transcache.Config{
			Profile:   cfg.CacheProfile,
			TextLimit: cfg.CacheTextLimit,
		})
		go cache.Maintain(ctx, cfg.CacheSweepInterval)
	}
	closeCache := func() error {
		if cache == nil {
			return nil
		}
		return cache.Close()
	}

	translators, err := buildTranslators(logger, cfg)
	if err != nil {
		_ = closeCache()
		return nil, err
	}
	// A nil interface, not a nil *Cache, is what disables caching.
	var routerCache translate.Cache
	if cache != nil {
		routerCache = meteredCache{inner: cache, metrics: metrics}
	}
	router := translate.NewRouter(logger, translate.NewRegistry(logger, translators...), translate.RouterConfig{
		NativeLanguage:  cfg.NativeLanguage,
		SecondLanguage:  cfg.SecondLanguage,
		IgnoreLanguages: cfg.IgnoreLanguages,
	}, routerCache)

	tables, err := voice.LoadTables(cfg.VoiceTablePath)
	if err != nil {
		_ = closeCache()
		return nil, fmt.Errorf("voice tables load failed: %w", err)
	}
	resolver := voice.NewResolver(tables, voice.NewTweaks())

	engines := tts.NewRegistry(logger, buildSpeechEngines(logger, cfg, tables)...)

	player := playback.NewManager(logger, playback.NewDevice(logger), playback.Config{
		QueueSize: cfg.PlaybackQueueSize,
		TimeLimit: cfg.PlaybackTimeLimit,
		Gap:       cfg.PlaybackGap,
		OnPlayed: func(_ *tts.Artifact, err error) {
			metrics.Playbacks.WithLabelValues(playbackOutcome(err)).Inc()
		},
	})
	synth := tts.NewManager(logger, engines, tts.ManagerConfig{
		Workers:      cfg.TTSWorkers,
		QueueSize:    cfg.TTSQueueSize,
		LimitChars:   cfg.TTSLimitChars,
		LimitTime:    cfg.TTSLimitTime,
		SpeechRate:   cfg.TTSSpeechRate,
		SynthTimeout: cfg.TTSSynthTimeout,
		// Cleared artifacts go through the playback deletion worker, which
		// retries while the device may still hold the handle.
		Discard: player.DiscardPath,
	}, func(a *tts.Artifact) {
		// Enqueue blocks when playback is saturated, which is the
		// backpressure that keeps release order intact; on queue
		// shutdown it discards the artifact itself.
		_ = player.Enqueue(context.Background(), a)
		metrics.QueueDepth.WithLabelValues("playback").Set(float64(player.QueueLen()))
	})

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})
	sessions.StartJanitor(ctx, cfg.SessionInactivityTimeout/4)

	feed := transcript.NewLog(0)
	coord := pipeline.NewCoordinator(logger, pipeline.Config{
		QueueSize:       cfg.IngestQueueSize,
		IgnoreUsers:     cfg.IgnoreUsers,
		BotUserID:       cfg.BotUserID,
		SpeakOriginal:   cfg.SpeakOriginal,
		SpeakTranslated: cfg.SpeakTranslated,
		TimeSignal:      cfg.TimeSignalEnabled,
	}, router, resolver, engines, synth, player, feed, metrics)

	api := httpapi.New(cfg, sessions, coord, router, engines, synth, player, feed, metrics)

	cleanup := func() error {
		var errs []string
		engines.StopAll()
		if err := closeCache(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Pipeline: coord,
		Engines:  engines,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}

func playbackOutcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, context.Canceled):
		return "skipped"
	case errors.Is(err, context.DeadlineExceeded):
		return "time_limited"
	default:
		return "error"
	}
}
