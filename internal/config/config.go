package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the chat readout service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string

	AllowAnyOrigin bool

	NativeLanguage   string
	SecondLanguage   string
	IgnoreLanguages  []string
	EnginePriority   []string
	DeepLAPIKey      string
	GoogleURLSuffix  string
	TranslateTimeout time.Duration

	VoiceTablePath string

	SpeakOriginal   bool
	SpeakTranslated bool

	TTSWorkers      int
	TTSQueueSize    int
	TTSLimitChars   int
	TTSLimitTime    time.Duration
	TTSSpeechRate   float64
	TTSSynthTimeout time.Duration
	TTSAudioDir     string
	Earlyspeech     bool

	VoicevoxURL       string
	VoicevoxExecPath  string
	CoeiroinkURL      string
	CoeiroinkExecPath string
	BouyomichanAddr   string

	PlaybackQueueSize int
	PlaybackTimeLimit time.Duration
	PlaybackGap       time.Duration

	IngestQueueSize   int
	IgnoreUsers       []string
	BotUserID         string
	TimeSignalEnabled bool

	DatabaseURL         string
	CacheEnabled        bool
	CacheProfile        string
	CacheTextLimit      int
	CacheTranslationTTL time.Duration
	CacheDetectionTTL   time.Duration
	CacheMaxPerEngine   int
	CacheSweepInterval  time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "twitchbot"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		AllowAnyOrigin:   false,
		// The streamer's own language and the audience's second language.
		NativeLanguage:  envOrDefault("TRANSLATE_NATIVE_LANGUAGE", "ja"),
		SecondLanguage:  envOrDefault("TRANSLATE_SECOND_LANGUAGE", "en"),
		GoogleURLSuffix: envOrDefault("TRANSLATE_GOOGLE_URL_SUFFIX", "com"),
		DeepLAPIKey:     stringsTrimSpace("DEEPL_API_KEY"),
		VoiceTablePath:  envOrDefault("VOICE_TABLE_PATH", "voices.yaml"),
		// Empty means the engines place artifacts under the OS temp dir.
		TTSAudioDir:       stringsTrimSpace("TTS_AUDIO_DIR"),
		VoicevoxURL:       envOrDefault("VOICEVOX_URL", "http://127.0.0.1:50021"),
		VoicevoxExecPath:  stringsTrimSpace("VOICEVOX_EXEC_PATH"),
		CoeiroinkURL:      envOrDefault("COEIROINK_URL", "http://127.0.0.1:50031"),
		CoeiroinkExecPath: stringsTrimSpace("COEIROINK_EXEC_PATH"),
		BouyomichanAddr:   envOrDefault("BOUYOMICHAN_ADDR", "127.0.0.1:50001"),
		BotUserID:         stringsTrimSpace("PIPELINE_BOT_USER_ID"),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		CacheProfile:      envOrDefault("CACHE_PROFILE", "default"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 5 * time.Minute,
		TranslateTimeout:         10 * time.Second,
		SpeakOriginal:            true,
		SpeakTranslated:          true,
		TTSWorkers:               2,
		TTSQueueSize:             50,
		TTSLimitChars:            100,
		TTSLimitTime:             30 * time.Second,
		TTSSpeechRate:            8.0,
		TTSSynthTimeout:          30 * time.Second,
		Earlyspeech:              false,
		PlaybackQueueSize:        50,
		PlaybackTimeLimit:        0,
		PlaybackGap:              500 * time.Millisecond,
		IngestQueueSize:          50,
		TimeSignalEnabled:        false,
		CacheEnabled:             true,
		CacheTextLimit:           50,
		CacheTranslationTTL:      7 * 24 * time.Hour,
		CacheDetectionTTL:        30 * 24 * time.Hour,
		CacheMaxPerEngine:        200,
		CacheSweepInterval:       time.Hour,
	}
	cfg.EnginePriority = listFromEnv("TRANSLATE_ENGINE_PRIORITY", []string{"google", "deepl"})
	cfg.IgnoreLanguages = listFromEnv("TRANSLATE_IGNORE_LANGUAGES", nil)
	cfg.IgnoreUsers = listFromEnv("PIPELINE_IGNORE_USERS", nil)

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.TranslateTimeout, err = durationFromEnv("TRANSLATE_TIMEOUT", cfg.TranslateTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeakOriginal, err = boolFromEnv("TTS_SPEAK_ORIGINAL", cfg.SpeakOriginal)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeakTranslated, err = boolFromEnv("TTS_SPEAK_TRANSLATED", cfg.SpeakTranslated)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSWorkers, err = intFromEnv("TTS_WORKERS", cfg.TTSWorkers)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSQueueSize, err = intFromEnv("TTS_QUEUE_SIZE", cfg.TTSQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSLimitChars, err = intFromEnv("TTS_LIMIT_CHARS", cfg.TTSLimitChars)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSLimitTime, err = durationFromEnv("TTS_LIMIT_TIME", cfg.TTSLimitTime)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSSpeechRate, err = floatFromEnv("TTS_SPEECH_RATE", cfg.TTSSpeechRate)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSSynthTimeout, err = durationFromEnv("TTS_SYNTH_TIMEOUT", cfg.TTSSynthTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.Earlyspeech, err = boolFromEnv("TTS_EARLYSPEECH", cfg.Earlyspeech)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackQueueSize, err = intFromEnv("PLAYBACK_QUEUE_SIZE", cfg.PlaybackQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackTimeLimit, err = durationFromEnv("PLAYBACK_TIME_LIMIT", cfg.PlaybackTimeLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackGap, err = durationFromEnv("PLAYBACK_GAP", cfg.PlaybackGap)
	if err != nil {
		return Config{}, err
	}
	cfg.IngestQueueSize, err = intFromEnv("PIPELINE_INGEST_QUEUE_SIZE", cfg.IngestQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.TimeSignalEnabled, err = boolFromEnv("PIPELINE_TIME_SIGNAL", cfg.TimeSignalEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheEnabled, err = boolFromEnv("CACHE_ENABLED", cfg.CacheEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheTextLimit, err = intFromEnv("CACHE_TEXT_LIMIT", cfg.CacheTextLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheTranslationTTL, err = durationFromEnv("CACHE_TRANSLATION_TTL", cfg.CacheTranslationTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheDetectionTTL, err = durationFromEnv("CACHE_DETECTION_TTL", cfg.CacheDetectionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheMaxPerEngine, err = intFromEnv("CACHE_MAX_PER_ENGINE", cfg.CacheMaxPerEngine)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheSweepInterval, err = durationFromEnv("CACHE_SWEEP_INTERVAL", cfg.CacheSweepInterval)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.NativeLanguage == "" {
		return Config{}, fmt.Errorf("TRANSLATE_NATIVE_LANGUAGE must be set")
	}
	if cfg.SecondLanguage == "" {
		return Config{}, fmt.Errorf("TRANSLATE_SECOND_LANGUAGE must be set")
	}
	if len(cfg.EnginePriority) == 0 {
		return Config{}, fmt.Errorf("TRANSLATE_ENGINE_PRIORITY must name at least one engine")
	}
	if cfg.TTSWorkers <= 0 {
		return Config{}, fmt.Errorf("TTS_WORKERS must be positive")
	}
	if cfg.TTSQueueSize <= 0 {
		return Config{}, fmt.Errorf("TTS_QUEUE_SIZE must be positive")
	}
	if cfg.TTSSpeechRate <= 0 {
		return Config{}, fmt.Errorf("TTS_SPEECH_RATE must be positive")
	}
	if cfg.TTSLimitChars < 0 {
		return Config{}, fmt.Errorf("TTS_LIMIT_CHARS must be >= 0")
	}
	if cfg.PlaybackQueueSize <= 0 {
		return Config{}, fmt.Errorf("PLAYBACK_QUEUE_SIZE must be positive")
	}
	if cfg.PlaybackTimeLimit < 0 {
		return Config{}, fmt.Errorf("PLAYBACK_TIME_LIMIT must be >= 0")
	}
	if cfg.IngestQueueSize <= 0 {
		return Config{}, fmt.Errorf("PIPELINE_INGEST_QUEUE_SIZE must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

func listFromEnv(key string, fallback []string) []string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = trimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
