// Package transcache caches translation and language-detection results so
// repeated chat lines skip the engine round trip.
package transcache

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultTextRuneLimit       = 50
	defaultMaintenanceInterval = time.Hour
)

// Config tunes cache behaviour. Profile namespaces the key space; bumping
// it after a translation-policy change invalidates prior entries without
// clearing the store. TextLimit is the longest source text worth caching,
// in runes (0 selects the default, negative disables the limit).
type Config struct {
	Profile   string
	TextLimit int
}

// Cache fronts a Store with key hashing, NFC folding, and the eligibility
// rules. It satisfies the router's cache contract; lookups prefer the
// engine-specific slot and fall back to the engine-independent one.
type Cache struct {
	logger  *zap.Logger
	store   Store
	profile string
	limit   int
}

func New(logger *zap.Logger, store Store, cfg Config) *Cache {
	limit := cfg.TextLimit
	if limit == 0 {
		limit = defaultTextRuneLimit
	}
	return &Cache{logger: logger, store: store, profile: cfg.Profile, limit: limit}
}

func (c *Cache) Translation(ctx context.Context, text, source, target, engine string) (string, bool) {
	normalized := normalizeSource(text)
	if !c.eligible(normalized) {
		return "", false
	}
	entry, err := c.store.GetTranslation(ctx, c.key(normalized, source, target, engine))
	if errors.Is(err, ErrNotFound) && engine != "" {
		entry, err = c.store.GetTranslation(ctx, c.key(normalized, source, target, ""))
	}
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("translation cache lookup failed", zap.Error(err))
		}
		return "", false
	}
	c.logger.Debug("translation cache hit",
		zap.String("engine", entry.Engine),
		zap.Int64("hits", entry.Hits))
	return entry.Translated, true
}

// StoreTranslation records a completed translation under the producing
// engine's slot.
func (c *Cache) StoreTranslation(ctx context.Context, text, source, target, engine, translated string) {
	normalized := normalizeSource(text)
	if !c.eligible(normalized) || translated == "" {
		return
	}
	err := c.store.PutTranslation(ctx, TranslationEntry{
		Key:        c.key(normalized, source, target, engine),
		SourceText: normalized,
		SourceLang: source,
		TargetLang: target,
		Translated: translated,
		Engine:     engine,
	})
	if err != nil {
		c.logger.Warn("translation cache store failed", zap.Error(err))
	}
}

func (c *Cache) Detection(ctx context.Context, text string) (string, bool) {
	normalized := normalizeSource(text)
	if !c.eligible(normalized) {
		return "", false
	}
	entry, err := c.store.GetDetection(ctx, normalized)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("detection cache lookup failed", zap.Error(err))
		}
		return "", false
	}
	return entry.Lang, true
}

func (c *Cache) StoreDetection(ctx context.Context, text, lang string) {
	normalized := normalizeSource(text)
	if !c.eligible(normalized) || lang == "" {
		return
	}
	if err := c.store.PutDetection(ctx, DetectionEntry{SourceText: normalized, Lang: lang}); err != nil {
		c.logger.Warn("detection cache store failed", zap.Error(err))
	}
}

// Stats reports store contents for the status API.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	return c.store.Stats(ctx)
}

// Maintain removes expired entries every interval until ctx is cancelled.
// The first sweep runs one full interval after start.
func (c *Cache) Maintain(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultMaintenanceInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			translations, detections, err := c.store.CleanupExpired(ctx)
			if err != nil {
				c.logger.Warn("cache cleanup failed", zap.Error(err))
				continue
			}
			if translations > 0 || detections > 0 {
				c.logger.Info("expired cache entries removed",
					zap.Int("translations", translations),
					zap.Int("detections", detections))
			}
		}
	}
}

func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) key(normalized, source, target, engine string) string {
	return Key(normalized, source, target, c.profile, engine)
}

func (c *Cache) eligible(normalized string) bool {
	if normalized == "" {
		return false
	}
	return c.limit < 0 || utf8.RuneCountInString(normalized) <= c.limit
}

// normalizeSource folds the text to NFC so visually identical strings
// share one cache slot.
func normalizeSource(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}
