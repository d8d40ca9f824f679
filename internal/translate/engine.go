package translate

import (
	"context"
	"errors"
)

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrAllEnginesExhausted = errors.New("all translation engines exhausted")
	ErrQuotaExceeded       = errors.New("translation quota exceeded")
	ErrRateLimited         = errors.New("translation rate limited")
	ErrNoEngines           = errors.New("no translation engines configured")
)

// Outcome is one engine response. DetectedSource is filled even when the
// caller supplied a source language, if the backend reports one.
type Outcome struct {
	Text           string
	DetectedSource string
}

// Quota reports character usage for engines with a metered plan.
type Quota struct {
	Count int64
	Limit int64
	Valid bool
}

// Engine is a single translation backend. Source may be empty, in which
// case the backend detects the language itself and reports it in the
// outcome.
type Engine interface {
	Name() string
	Translate(ctx context.Context, text, source, target string) (Outcome, error)
}

// Detector is implemented by engines with a dedicated detection API.
// Engines without it detect as a byproduct of translation, and the router
// reuses that translation when the target matches.
type Detector interface {
	Detect(ctx context.Context, text string) (string, error)
}

// UsageReporter is implemented by engines that can report their character
// quota.
type UsageReporter interface {
	Usage(ctx context.Context) (Quota, error)
}
