package app

import (
	"context"

	"github.com/Aliisa-yt/twitchbot/internal/observability"
	"github.com/Aliisa-yt/twitchbot/internal/translate"
)

// meteredCache wraps the translation cache so lookup outcomes land in the
// cache_lookups_total counter. The router stays free of any metrics
// dependency this way.
type meteredCache struct {
	inner   translate.Cache
	metrics *observability.Metrics
}

func (m meteredCache) Translation(ctx context.Context, text, source, target, engine string) (string, bool) {
	out, ok := m.inner.Translation(ctx, text, source, target, engine)
	m.metrics.CacheLookups.WithLabelValues("translation", lookupResult(ok)).Inc()
	return out, ok
}

func (m meteredCache) StoreTranslation(ctx context.Context, text, source, target, engine, translated string) {
	m.inner.StoreTranslation(ctx, text, source, target, engine, translated)
}

func (m meteredCache) Detection(ctx context.Context, text string) (string, bool) {
	lang, ok := m.inner.Detection(ctx, text)
	m.metrics.CacheLookups.WithLabelValues("detection", lookupResult(ok)).Inc()
	return lang, ok
}

func (m meteredCache) StoreDetection(ctx context.Context, text, lang string) {
	m.inner.StoreDetection(ctx, text, lang)
}

func lookupResult(ok bool) string {
	if ok {
		return "hit"
	}
	return "miss"
}
