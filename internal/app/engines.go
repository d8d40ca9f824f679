package app

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Aliisa-yt/twitchbot/internal/config"
	"github.com/Aliisa-yt/twitchbot/internal/translate"
	"github.com/Aliisa-yt/twitchbot/internal/tts"
	"github.com/Aliisa-yt/twitchbot/internal/voice"
)

// buildTranslators constructs the translation chain in the configured
// priority order. Unknown names fail loudly; a known engine missing its
// credentials is skipped with a warning so the rest of the chain still
// serves.
func buildTranslators(logger *zap.Logger, cfg config.Config) ([]translate.Engine, error) {
	out := make([]translate.Engine, 0, len(cfg.EnginePriority))
	seen := make(map[string]bool, len(cfg.EnginePriority))
	for _, raw := range cfg.EnginePriority {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		switch name {
		case "google":
			out = append(out, translate.NewGoogleFree(logger, translate.GoogleFreeConfig{
				URLSuffix: cfg.GoogleURLSuffix,
				Timeout:   cfg.TranslateTimeout,
			}))
		case "deepl":
			if strings.TrimSpace(cfg.DeepLAPIKey) == "" {
				logger.Warn("deepl is listed in TRANSLATE_ENGINE_PRIORITY but DEEPL_API_KEY is not set, skipping")
				continue
			}
			out = append(out, translate.NewDeepL(logger, translate.DeepLConfig{
				APIKey:  cfg.DeepLAPIKey,
				Timeout: cfg.TranslateTimeout,
			}))
		case "mock":
			out = append(out, translate.NewMock())
		default:
			return nil, fmt.Errorf("unknown translation engine %q in TRANSLATE_ENGINE_PRIORITY (expected google|deepl|mock)", raw)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable translation engine in TRANSLATE_ENGINE_PRIORITY %v", cfg.EnginePriority)
	}
	return out, nil
}

// buildSpeechEngines registers every known synthesis backend.
// Registration is cheap: the registry starts a backend on first use, so
// the voice tables decide which of these actually run.
func buildSpeechEngines(logger *zap.Logger, cfg config.Config, tables voice.Tables) []tts.Engine {
	voicevox := tts.NewVoicevox(logger, tts.VoicevoxConfig{
		Name:        "voicevox",
		BaseURL:     cfg.VoicevoxURL,
		AudioDir:    cfg.TTSAudioDir,
		PauseFields: true,
		Earlyspeech: cfg.Earlyspeech,
		WarmupCasts: tables.Casts("voicevox"),
		ExecPath:    cfg.VoicevoxExecPath,
	})
	coeiroink := tts.NewVoicevox(logger, tts.VoicevoxConfig{
		Name:     "coeiroink",
		BaseURL:  cfg.CoeiroinkURL,
		AudioDir: cfg.TTSAudioDir,
		// COEIROINK's v1 API rejects the pause fields.
		PauseFields: false,
		WarmupCasts: tables.Casts("coeiroink"),
		ExecPath:    cfg.CoeiroinkExecPath,
	})
	bouyomi := tts.NewBouyomichan(logger, tts.BouyomichanConfig{Addr: cfg.BouyomichanAddr})
	gtts := tts.NewGTTS(logger, tts.GTTSConfig{AudioDir: cfg.TTSAudioDir})

	return []tts.Engine{voicevox, coeiroink, bouyomi, gtts}
}
