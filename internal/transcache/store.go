package transcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var ErrNotFound = errors.New("cache entry not found")

// TranslationEntry is one cached translation, keyed by the request hash.
type TranslationEntry struct {
	Key        string
	SourceText string
	SourceLang string
	TargetLang string
	Translated string
	Engine     string
	CreatedAt  time.Time
	LastUsedAt time.Time
	Hits       int64
}

// DetectionEntry caches the detected language for a normalized source text.
type DetectionEntry struct {
	SourceText string
	Lang       string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Stats summarizes cache contents for status reporting.
type Stats struct {
	Translations int
	Detections   int
	Hits         int64
	PerEngine    map[string]int
}

// Store persists translation and detection cache entries. Reads refresh the
// entry's last-used time and hit count; entries past their TTL read as
// missing. Implementations must be safe for concurrent use.
type Store interface {
	GetTranslation(ctx context.Context, key string) (TranslationEntry, error)
	PutTranslation(ctx context.Context, entry TranslationEntry) error
	GetDetection(ctx context.Context, sourceText string) (DetectionEntry, error)
	PutDetection(ctx context.Context, entry DetectionEntry) error
	CleanupExpired(ctx context.Context) (translations, detections int, err error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Limits bound entry lifetime and per-engine cache size. Zero values select
// the defaults; a negative MaxPerEngine disables the cap.
type Limits struct {
	TranslationTTL time.Duration
	DetectionTTL   time.Duration
	MaxPerEngine   int
}

const (
	defaultTranslationTTL = 7 * 24 * time.Hour
	defaultDetectionTTL   = 30 * 24 * time.Hour
	defaultMaxPerEngine   = 200
)

func (l Limits) withDefaults() Limits {
	if l.TranslationTTL <= 0 {
		l.TranslationTTL = defaultTranslationTTL
	}
	if l.DetectionTTL <= 0 {
		l.DetectionTTL = defaultDetectionTTL
	}
	if l.MaxPerEngine == 0 {
		l.MaxPerEngine = defaultMaxPerEngine
	}
	return l
}

// Key hashes one translation request into its cache slot. The empty engine
// addresses the engine-independent common slot consulted when the
// engine-specific lookup misses; profile namespaces the whole key space.
func Key(text, source, target, profile, engine string) string {
	sum := sha256.Sum256([]byte(text + "|" + source + "|" + target + "|" + profile + "|" + engine))
	return hex.EncodeToString(sum[:])
}
