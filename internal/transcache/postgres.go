package transcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the translation cache in PostgreSQL so entries
// survive restarts.
type PostgresStore struct {
	pool   *pgxpool.Pool
	limits Limits
}

func NewPostgresStore(ctx context.Context, databaseURL string, limits Limits) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initCacheSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, limits: limits.withDefaults()}, nil
}

func initCacheSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS translation_cache (
			cache_key TEXT PRIMARY KEY,
			source_text TEXT NOT NULL,
			source_lang TEXT NOT NULL,
			target_lang TEXT NOT NULL,
			translated_text TEXT NOT NULL,
			engine TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_used_at TIMESTAMPTZ NOT NULL,
			hit_count BIGINT NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_translation_cache_engine ON translation_cache (engine);`,
		`CREATE INDEX IF NOT EXISTS idx_translation_cache_last_used ON translation_cache (last_used_at);`,
		`CREATE TABLE IF NOT EXISTS detection_cache (
			source_text TEXT PRIMARY KEY,
			detected_lang TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_used_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_detection_cache_last_used ON detection_cache (last_used_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init cache schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// GetTranslation touches the entry and returns it in one round trip;
// entries older than the TTL match nothing and read as missing.
func (s *PostgresStore) GetTranslation(ctx context.Context, key string) (TranslationEntry, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE translation_cache
		    SET last_used_at = now(), hit_count = hit_count + 1
		  WHERE cache_key = $1 AND last_used_at >= $2
		RETURNING cache_key, source_text, source_lang, target_lang, translated_text,
		          engine, created_at, last_used_at, hit_count`,
		key, time.Now().Add(-s.limits.TranslationTTL),
	)
	var entry TranslationEntry
	err := row.Scan(
		&entry.Key,
		&entry.SourceText,
		&entry.SourceLang,
		&entry.TargetLang,
		&entry.Translated,
		&entry.Engine,
		&entry.CreatedAt,
		&entry.LastUsedAt,
		&entry.Hits,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return TranslationEntry{}, ErrNotFound
		}
		return TranslationEntry{}, fmt.Errorf("get translation: %w", err)
	}
	return entry, nil
}

// PutTranslation upserts the entry; replacing an existing key resets its
// hit count.
func (s *PostgresStore) PutTranslation(ctx context.Context, entry TranslationEntry) error {
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastUsedAt.IsZero() {
		entry.LastUsedAt = entry.CreatedAt
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO translation_cache (
			cache_key, source_text, source_lang, target_lang, translated_text,
			engine, created_at, last_used_at, hit_count
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0)
		ON CONFLICT (cache_key) DO UPDATE SET
			source_text=EXCLUDED.source_text,
			source_lang=EXCLUDED.source_lang,
			target_lang=EXCLUDED.target_lang,
			translated_text=EXCLUDED.translated_text,
			engine=EXCLUDED.engine,
			created_at=EXCLUDED.created_at,
			last_used_at=EXCLUDED.last_used_at,
			hit_count=0`,
		entry.Key,
		entry.SourceText,
		entry.SourceLang,
		entry.TargetLang,
		entry.Translated,
		entry.Engine,
		entry.CreatedAt,
		entry.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert translation: %w", err)
	}
	return s.evictOverCap(ctx, entry.Engine)
}

// evictOverCap keeps the MaxPerEngine most recently used entries for the
// engine, breaking ties on higher hit counts.
func (s *PostgresStore) evictOverCap(ctx context.Context, engine string) error {
	if s.limits.MaxPerEngine <= 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM translation_cache
		  WHERE engine = $1 AND cache_key NOT IN (
			SELECT cache_key FROM translation_cache
			 WHERE engine = $1
			 ORDER BY last_used_at DESC, hit_count DESC
			 LIMIT $2
		  )`,
		engine, s.limits.MaxPerEngine,
	)
	if err != nil {
		return fmt.Errorf("evict over cap: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDetection(ctx context.Context, sourceText string) (DetectionEntry, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE detection_cache
		    SET last_used_at = now()
		  WHERE source_text = $1 AND last_used_at >= $2
		RETURNING source_text, detected_lang, created_at, last_used_at`,
		sourceText, time.Now().Add(-s.limits.DetectionTTL),
	)
	var entry DetectionEntry
	if err := row.Scan(&entry.SourceText, &entry.Lang, &entry.CreatedAt, &entry.LastUsedAt); err != nil {
		if err == pgx.ErrNoRows {
			return DetectionEntry{}, ErrNotFound
		}
		return DetectionEntry{}, fmt.Errorf("get detection: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) PutDetection(ctx context.Context, entry DetectionEntry) error {
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastUsedAt.IsZero() {
		entry.LastUsedAt = entry.CreatedAt
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO detection_cache (source_text, detected_lang, created_at, last_used_at)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (source_text) DO UPDATE SET
			detected_lang=EXCLUDED.detected_lang,
			created_at=EXCLUDED.created_at,
			last_used_at=EXCLUDED.last_used_at`,
		entry.SourceText,
		entry.Lang,
		entry.CreatedAt,
		entry.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert detection: %w", err)
	}
	return nil
}

func (s *PostgresStore) CleanupExpired(ctx context.Context) (int, int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM translation_cache WHERE last_used_at < $1`,
		time.Now().Add(-s.limits.TranslationTTL),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("cleanup translations: %w", err)
	}
	translations := int(tag.RowsAffected())

	tag, err = s.pool.Exec(ctx,
		`DELETE FROM detection_cache WHERE last_used_at < $1`,
		time.Now().Add(-s.limits.DetectionTTL),
	)
	if err != nil {
		return translations, 0, fmt.Errorf("cleanup detections: %w", err)
	}
	return translations, int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{PerEngine: make(map[string]int)}

	row := s.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(hit_count), 0) FROM translation_cache`)
	if err := row.Scan(&stats.Translations, &stats.Hits); err != nil {
		return Stats{}, fmt.Errorf("count translations: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT engine, COUNT(*) FROM translation_cache GROUP BY engine`)
	if err != nil {
		return Stats{}, fmt.Errorf("count per engine: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			engine string
			count  int
		)
		if err := rows.Scan(&engine, &count); err != nil {
			return Stats{}, fmt.Errorf("scan engine count: %w", err)
		}
		stats.PerEngine[engine] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate engine counts: %w", err)
	}

	row = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM detection_cache`)
	if err := row.Scan(&stats.Detections); err != nil {
		return Stats{}, fmt.Errorf("count detections: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
