package translate

import (
	"context"
	"fmt"
)

// Mock is an offline engine for development and tests: it reports every
// input as DetectLang and "translates" by tagging the text with the target
// code.
type Mock struct {
	EngineName string
	DetectLang string
}

func NewMock() *Mock {
	return &Mock{EngineName: "mock", DetectLang: "en"}
}

func (m *Mock) Name() string {
	if m.EngineName == "" {
		return "mock"
	}
	return m.EngineName
}

func (m *Mock) Translate(_ context.Context, text, source, target string) (Outcome, error) {
	detected := source
	if detected == "" {
		detected = m.DetectLang
	}
	return Outcome{
		Text:           fmt.Sprintf("[%s] %s", target, text),
		DetectedSource: detected,
	}, nil
}
