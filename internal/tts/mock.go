package tts

import (
	"context"

	"github.com/Aliisa-yt/twitchbot/internal/audio"
	"github.com/Aliisa-yt/twitchbot/internal/voice"
)

// Mock is an offline engine for development and tests. It writes a short
// silent WAV instead of calling a backend.
type Mock struct {
	EngineName string
	AudioDir   string
}

func NewMock(dir string) *Mock {
	return &Mock{EngineName: "mock", AudioDir: dir}
}

func (m *Mock) Name() string {
	if m.EngineName == "" {
		return "mock"
	}
	return m.EngineName
}

func (m *Mock) Synthesize(ctx context.Context, _, _ string, _ voice.Params) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// 250ms of silence at the usual engine output rate.
	pcm := make([]byte, outputSamplingRate/4*2)
	wav, err := audio.EncodeWAVPCM16LE(pcm, outputSamplingRate)
	if err != nil {
		return nil, err
	}
	path := artifactPath(m.AudioDir, m.Name(), "wav")
	if err := saveArtifact(path, wav); err != nil {
		return nil, err
	}
	return &Artifact{Path: path, Gain: 100}, nil
}
