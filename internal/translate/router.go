package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RouterConfig is the routing policy. NativeLanguage is the streamer's
// language, SecondLanguage the audience's; messages already in a language
// from IgnoreLanguages are echoed without translation.
type RouterConfig struct {
	NativeLanguage  string
	SecondLanguage  string
	IgnoreLanguages []string
}

// Request is one translation request. Text may still carry a
// forced-language prefix; ForcedSource and ForcedTarget act as defaults
// when the prefix does not set them (reply inheritance uses ForcedTarget).
type Request struct {
	Text         string
	ForcedSource string
	ForcedTarget string
}

// Result is the routed outcome. Text equals Original when Translated is
// false.
type Result struct {
	Original   string
	Source     string
	Target     string
	Text       string
	Translated bool
	Engine     string
}

// Cache stores completed translations and detections. Implementations must
// be safe for concurrent use; a nil Cache disables caching.
type Cache interface {
	Translation(ctx context.Context, text, source, target, engine string) (string, bool)
	StoreTranslation(ctx context.Context, text, source, target, engine, translated string)
	Detection(ctx context.Context, text string) (string, bool)
	StoreDetection(ctx context.Context, text, lang string)
}

// Router decides whether and how to translate one message: it parses the
// forced-language prefix, detects the source, applies target policy, and
// walks the engine chain on failure.
type Router struct {
	registry *Registry
	cfg      RouterConfig
	cache    Cache
	group    singleflight.Group
	logger   *zap.Logger
	ignore   map[string]struct{}
}

func NewRouter(logger *zap.Logger, registry *Registry, cfg RouterConfig, cache Cache) *Router {
	if canonical, ok := CanonicalLanguage(cfg.NativeLanguage); ok {
		cfg.NativeLanguage = canonical
	}
	if canonical, ok := CanonicalLanguage(cfg.SecondLanguage); ok {
		cfg.SecondLanguage = canonical
	}
	ignore := make(map[string]struct{}, len(cfg.IgnoreLanguages))
	for _, code := range cfg.IgnoreLanguages {
		if canonical, ok := CanonicalLanguage(code); ok {
			ignore[canonical] = struct{}{}
		}
	}
	return &Router{
		registry: registry,
		cfg:      cfg,
		cache:    cache,
		logger:   logger,
		ignore:   ignore,
	}
}

// EngineNames returns the engine names in priority order.
func (r *Router) EngineNames() []string { return r.registry.Names() }

// SetActiveEngine hot-swaps the engine used first for subsequent requests.
func (r *Router) SetActiveEngine(name string) error { return r.registry.SetActive(name) }

// EngineHealth copies the per-engine health state.
func (r *Router) EngineHealth() map[string]Health { return r.registry.HealthSnapshot() }

// Usage queries the active engine's character quota. Engines without a
// quota API return a zero Quota with Valid unset.
func (r *Router) Usage(ctx context.Context) (string, Quota, error) {
	eng, err := r.registry.Active()
	if err != nil {
		return "", Quota{}, err
	}
	reporter, ok := eng.(UsageReporter)
	if !ok {
		return eng.Name(), Quota{}, nil
	}
	quota, err := reporter.Usage(ctx)
	if err != nil {
		return eng.Name(), Quota{}, fmt.Errorf("usage query: %w", err)
	}
	if quota.Valid && quota.Limit > 0 {
		r.registry.RecordQuota(eng.Name(), quota.Limit-quota.Count)
	}
	return eng.Name(), quota, nil
}

// detectTranslation keeps the output of a detect-via-translate call so it
// can stand in for the translation when the target matches.
type detectTranslation struct {
	text   string
	target string
	engine string
}

// Route translates one message according to the forced prefix and the
// configured language policy. When every engine fails after the source
// was detected, the returned Result still carries Original and Source so
// the caller can fall back to speaking the untranslated text.
func (r *Router) Route(ctx context.Context, req Request) (Result, error) {
	body, source, target, err := ParsePrefix(req.Text)
	if err != nil {
		return Result{}, err
	}
	if source == "" && req.ForcedSource != "" {
		canonical, ok := CanonicalLanguage(req.ForcedSource)
		if !ok {
			return Result{}, fmt.Errorf("forced source %q: %w", req.ForcedSource, ErrUnsupportedLanguage)
		}
		source = canonical
	}
	if target == "" && req.ForcedTarget != "" {
		canonical, ok := CanonicalLanguage(req.ForcedTarget)
		if !ok {
			return Result{}, fmt.Errorf("forced target %q: %w", req.ForcedTarget, ErrUnsupportedLanguage)
		}
		target = canonical
	}
	if body == "" {
		return Result{Source: source, Target: target}, nil
	}

	chain := r.registry.Chain()
	if len(chain) == 0 {
		return Result{}, ErrNoEngines
	}

	// Engines that already failed for this request are skipped on the
	// translation walk.
	failed := make(map[string]bool, len(chain))

	var det *detectTranslation
	if source == "" && r.cache != nil {
		if lang, ok := r.cache.Detection(ctx, body); ok {
			source = lang
		}
	}
	if source == "" {
		source, det, err = r.detectSource(ctx, chain, failed, body)
		if err != nil {
			return Result{}, err
		}
		if source == "und" {
			// URL-like content; Google reports it undetermined. Speak it
			// as English and skip translation.
			engine := ""
			if det != nil {
				engine = det.engine
			}
			return Result{Original: body, Source: "en", Target: "en", Text: body, Engine: engine}, nil
		}
		if r.cache != nil {
			r.cache.StoreDetection(ctx, body, source)
		}
	}

	if r.isIgnored(source) {
		return Result{Original: body, Source: source, Target: source, Text: body}, nil
	}

	if target == "" {
		if source == r.cfg.NativeLanguage {
			target = r.cfg.SecondLanguage
		} else {
			target = r.cfg.NativeLanguage
		}
	}
	if source == target {
		return Result{Original: body, Source: source, Target: target, Text: body}, nil
	}

	// A detect-via-translate call already produced the translation when its
	// target matches; reuse it instead of a second round trip.
	if det != nil && det.target == target && det.text != "" {
		result := Result{Original: body, Source: source, Target: target, Text: det.text, Translated: true, Engine: det.engine}
		r.storeTranslation(ctx, result)
		return result, nil
	}

	if r.cache != nil {
		if active, err := r.registry.Active(); err == nil {
			if text, ok := r.cache.Translation(ctx, body, source, target, active.Name()); ok {
				return Result{Original: body, Source: source, Target: target, Text: text, Translated: true, Engine: active.Name()}, nil
			}
		}
	}

	key := source + "|" + target + "|" + body
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.translateViaChain(ctx, chain, failed, body, source, target)
	})
	if err != nil {
		return Result{Original: body, Source: source, Target: target, Text: body}, err
	}
	result := v.(Result)
	r.storeTranslation(ctx, result)
	return result, nil
}

// detectSource walks the chain until one engine yields a source language.
// Engines with a dedicated detection API are asked directly; the rest
// detect through a translation toward the second language, whose output is
// returned for reuse.
func (r *Router) detectSource(ctx context.Context, chain []Engine, failed map[string]bool, body string) (string, *detectTranslation, error) {
	var lastErr error
	for _, eng := range chain {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		name := eng.Name()

		if detector, ok := eng.(Detector); ok {
			lang, err := detector.Detect(ctx, body)
			if err != nil {
				r.noteEngineFailure(name, "detection", err, failed)
				lastErr = err
				continue
			}
			r.registry.MarkSuccess(name)
			return lang, nil, nil
		}

		outcome, err := eng.Translate(ctx, body, "", r.cfg.SecondLanguage)
		if err == nil && outcome.DetectedSource == "" {
			err = errors.New("engine reported no detected language")
		}
		if err != nil {
			r.noteEngineFailure(name, "detection", err, failed)
			lastErr = err
			continue
		}
		r.registry.MarkSuccess(name)
		return outcome.DetectedSource, &detectTranslation{text: outcome.Text, target: r.cfg.SecondLanguage, engine: name}, nil
	}
	return "", nil, fmt.Errorf("%w: language detection failed: %v", ErrAllEnginesExhausted, lastErr)
}

func (r *Router) translateViaChain(ctx context.Context, chain []Engine, failed map[string]bool, body, source, target string) (Result, error) {
	var lastErr error
	for _, eng := range chain {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		name := eng.Name()
		if failed[name] {
			continue
		}
		outcome, err := eng.Translate(ctx, body, source, target)
		if err != nil {
			r.noteEngineFailure(name, "translation", err, failed)
			lastErr = err
			continue
		}
		r.registry.MarkSuccess(name)
		detected := source
		if detected == "" {
			detected = outcome.DetectedSource
		}
		return Result{Original: body, Source: detected, Target: target, Text: outcome.Text, Translated: true, Engine: name}, nil
	}
	if lastErr == nil {
		lastErr = errors.New("every engine already failed this request")
	}
	return Result{}, fmt.Errorf("%w: %v", ErrAllEnginesExhausted, lastErr)
}

func (r *Router) noteEngineFailure(name, stage string, err error, failed map[string]bool) {
	failed[name] = true
	if errors.Is(err, ErrQuotaExceeded) {
		r.registry.MarkQuotaExhausted(name)
	} else {
		r.registry.MarkFailure(name)
	}
	r.logger.Warn("translation engine failed",
		zap.String("engine", name),
		zap.String("stage", stage),
		zap.Error(err))
}

func (r *Router) storeTranslation(ctx context.Context, result Result) {
	if r.cache == nil || !result.Translated {
		return
	}
	r.cache.StoreTranslation(ctx, result.Original, result.Source, result.Target, result.Engine, result.Text)
}

func (r *Router) isIgnored(source string) bool {
	if _, ok := r.ignore[source]; ok {
		return true
	}
	// Region-tagged detections match their base code's ignore entry.
	if base, _, found := strings.Cut(source, "-"); found {
		_, ok := r.ignore[base]
		return ok
	}
	return false
}
