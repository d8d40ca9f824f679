package transcache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process cache store for runs without a database.
type MemoryStore struct {
	mu           sync.Mutex
	limits       Limits
	translations map[string]*TranslationEntry
	detections   map[string]*DetectionEntry
}

func NewMemoryStore(limits Limits) *MemoryStore {
	return &MemoryStore{
		limits:       limits.withDefaults(),
		translations: make(map[string]*TranslationEntry),
		detections:   make(map[string]*DetectionEntry),
	}
}

func (s *MemoryStore) GetTranslation(_ context.Context, key string) (TranslationEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.translations[key]
	if !ok {
		return TranslationEntry{}, ErrNotFound
	}
	now := time.Now()
	if now.Sub(entry.LastUsedAt) > s.limits.TranslationTTL {
		delete(s.translations, key)
		return TranslationEntry{}, ErrNotFound
	}
	entry.LastUsedAt = now
	entry.Hits++
	return *entry, nil
}

func (s *MemoryStore) PutTranslation(_ context.Context, entry TranslationEntry) error {
	if entry.Key == "" {
		return errors.New("translation entry key is empty")
	}
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastUsedAt.IsZero() {
		entry.LastUsedAt = entry.CreatedAt
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.translations[entry.Key] = &entry
	s.evictOverCap(entry.Engine)
	return nil
}

// evictOverCap keeps at most MaxPerEngine entries per engine, dropping the
// least recently used first and breaking ties on lower hit counts.
func (s *MemoryStore) evictOverCap(engine string) {
	if s.limits.MaxPerEngine <= 0 {
		return
	}
	var candidates []*TranslationEntry
	for _, entry := range s.translations {
		if entry.Engine == engine {
			candidates = append(candidates, entry)
		}
	}
	excess := len(candidates) - s.limits.MaxPerEngine
	if excess <= 0 {
		return
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].LastUsedAt.Equal(candidates[j].LastUsedAt) {
			return candidates[i].LastUsedAt.Before(candidates[j].LastUsedAt)
		}
		return candidates[i].Hits < candidates[j].Hits
	})
	for _, entry := range candidates[:excess] {
		delete(s.translations, entry.Key)
	}
}

func (s *MemoryStore) GetDetection(_ context.Context, sourceText string) (DetectionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.detections[sourceText]
	if !ok {
		return DetectionEntry{}, ErrNotFound
	}
	now := time.Now()
	if now.Sub(entry.LastUsedAt) > s.limits.DetectionTTL {
		delete(s.detections, sourceText)
		return DetectionEntry{}, ErrNotFound
	}
	entry.LastUsedAt = now
	return *entry, nil
}

func (s *MemoryStore) PutDetection(_ context.Context, entry DetectionEntry) error {
	if entry.SourceText == "" {
		return errors.New("detection entry source text is empty")
	}
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastUsedAt.IsZero() {
		entry.LastUsedAt = entry.CreatedAt
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections[entry.SourceText] = &entry
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	translations := 0
	for key, entry := range s.translations {
		if now.Sub(entry.LastUsedAt) > s.limits.TranslationTTL {
			delete(s.translations, key)
			translations++
		}
	}
	detections := 0
	for key, entry := range s.detections {
		if now.Sub(entry.LastUsedAt) > s.limits.DetectionTTL {
			delete(s.detections, key)
			detections++
		}
	}
	return translations, detections, nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Stats{
		Translations: len(s.translations),
		Detections:   len(s.detections),
		PerEngine:    make(map[string]int),
	}
	for _, entry := range s.translations {
		stats.Hits += entry.Hits
		stats.PerEngine[entry.Engine]++
	}
	return stats, nil
}

func (s *MemoryStore) Close() error { return nil }
