package tts

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Aliisa-yt/twitchbot/internal/voice"
)

func intKnob(v int) *int { return &v }

func TestVoicevoxSynthesize(t *testing.T) {
	var (
		mu           sync.Mutex
		queryText    string
		querySpeaker string
		synthSpeaker string
		upspeak      string
		synthBody    map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/audio_query":
			mu.Lock()
			queryText = r.URL.Query().Get("text")
			querySpeaker = r.URL.Query().Get("speaker")
			mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"accent_phrases":[],"kana":"コンニチハ","speedScale":1.0,"outputSamplingRate":48000}`))
		case "/synthesis":
			mu.Lock()
			synthSpeaker = r.URL.Query().Get("speaker")
			upspeak = r.URL.Query().Get("interrogative_upspeak")
			json.NewDecoder(r.Body).Decode(&synthBody)
			mu.Unlock()
			w.Write([]byte("RIFF-fake-wav"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	vv := NewVoicevox(zap.NewNop(), VoicevoxConfig{
		BaseURL:     srv.URL,
		AudioDir:    t.TempDir(),
		PauseFields: true,
	})
	params := voice.Params{
		Cast:       "8",
		Speed:      intKnob(150),
		Tone:       intKnob(10),
		Intonation: intKnob(120),
		Volume:     intKnob(80),
	}
	art, err := vv.Synthesize(context.Background(), "こんにちは", "ja", params)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if queryText != "こんにちは" || querySpeaker != "8" {
		t.Fatalf("audio_query got text=%q speaker=%q", queryText, querySpeaker)
	}
	if synthSpeaker != "8" || upspeak != "true" {
		t.Fatalf("synthesis got speaker=%q interrogative_upspeak=%q", synthSpeaker, upspeak)
	}

	checks := []struct {
		key  string
		want any
	}{
		{"speedScale", 1.5},
		{"pitchScale", 0.1},
		{"intonationScale", 1.2},
		{"volumeScale", 0.8},
		{"prePhonemeLength", 0.05},
		{"postPhonemeLength", 0.05},
		{"pauseLength", 0.25},
		{"pauseLengthScale", 1.0},
		{"outputSamplingRate", 24000.0},
		{"outputStereo", false},
		{"kana", "コンニチハ"},
	}
	for _, c := range checks {
		got, ok := synthBody[c.key]
		if !ok {
			t.Fatalf("synthesis body missing %q", c.key)
		}
		if got != c.want {
			t.Fatalf("synthesis body %s = %v, want %v", c.key, got, c.want)
		}
	}
	if _, ok := synthBody["accent_phrases"]; !ok {
		t.Fatalf("synthesis body dropped the accent_phrases field")
	}

	base := filepath.Base(art.Path)
	if !strings.HasPrefix(base, "voicevox_") || !strings.HasSuffix(base, ".wav") {
		t.Fatalf("artifact file = %q, want voicevox_*.wav", base)
	}
	data, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	if string(data) != "RIFF-fake-wav" {
		t.Fatalf("artifact content = %q", data)
	}
	if art.Gain != 100 {
		t.Fatalf("artifact gain = %d, want 100", art.Gain)
	}
}

func TestKnobRangeScale(t *testing.T) {
	tests := []struct {
		name string
		r    knobRange
		v    *int
		want float64
	}{
		{"nil uses default", speedRange, nil, 1.00},
		{"speed above range", speedRange, intKnob(300), 2.00},
		{"speed below range", speedRange, intKnob(10), 0.50},
		{"tone maps percent", pitchRange, intKnob(10), 0.10},
		{"tone below range", pitchRange, intKnob(-50), -0.15},
		{"volume zero", volumeRange, intKnob(0), 0.00},
		{"intonation in range", intonationRange, intKnob(140), 1.40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.scale(tt.v); got != tt.want {
				t.Fatalf("scale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAcceleratedSpeed(t *testing.T) {
	if got := acceleratedSpeed(1.0, 30); got != 1.0 {
		t.Fatalf("acceleratedSpeed(1.0, 30) = %v, want unchanged 1.0", got)
	}
	if got := acceleratedSpeed(1.0, 80); math.Abs(got-1.2) > 1e-9 {
		t.Fatalf("acceleratedSpeed(1.0, 80) = %v, want 1.2", got)
	}
	if got := acceleratedSpeed(1.3, 500); got != 1.40 {
		t.Fatalf("acceleratedSpeed(1.3, 500) = %v, want capped 1.40", got)
	}
}

func TestApplyParamsEarlyspeech(t *testing.T) {
	vv := NewVoicevox(zap.NewNop(), VoicevoxConfig{Earlyspeech: true})
	query := map[string]any{}
	vv.applyParams(query, strings.Repeat("あ", 80), voice.Params{})
	got, ok := query["speedScale"].(float64)
	if !ok {
		t.Fatalf("speedScale missing from query")
	}
	if math.Abs(got-1.2) > 1e-9 {
		t.Fatalf("speedScale = %v, want accelerated 1.2", got)
	}
}

func TestApplyParamsSkipsPauseFieldsWhenDisabled(t *testing.T) {
	vv := NewVoicevox(zap.NewNop(), VoicevoxConfig{Name: "coeiroink"})
	query := map[string]any{}
	vv.applyParams(query, "テスト", voice.Params{})
	if _, ok := query["pauseLength"]; ok {
		t.Fatalf("pauseLength set for an engine that rejects it")
	}
	if _, ok := query["pauseLengthScale"]; ok {
		t.Fatalf("pauseLengthScale set for an engine that rejects it")
	}
}

func TestVoicevoxSpeakerID(t *testing.T) {
	var speakerHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/speakers" {
			http.NotFound(w, r)
			return
		}
		speakerHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"name":"四国めたん","styles":[{"name":"ノーマル","id":2},{"name":"あまあま","id":0}]},
			{"name":"ずんだもん","styles":[{"name":"ノーマル","id":3}]}
		]`))
	}))
	defer srv.Close()

	vv := NewVoicevox(zap.NewNop(), VoicevoxConfig{BaseURL: srv.URL})
	ctx := context.Background()

	if id, err := vv.speakerID(ctx, "7"); err != nil || id != 7 {
		t.Fatalf("speakerID(7) = %d, %v, want 7", id, err)
	}
	if got := speakerHits.Load(); got != 0 {
		t.Fatalf("numeric cast fetched the speaker list %d times", got)
	}

	if id, err := vv.speakerID(ctx, "四国めたん|あまあま"); err != nil || id != 0 {
		t.Fatalf("speakerID(named style) = %d, %v, want 0", id, err)
	}
	if id, err := vv.speakerID(ctx, "ずんだもん"); err != nil || id != 3 {
		t.Fatalf("speakerID(default style) = %d, %v, want 3", id, err)
	}
	if got := speakerHits.Load(); got != 2 {
		t.Fatalf("speaker list fetched %d times, want 2", got)
	}

	// Second resolution of a known cast comes from the cache.
	if id, err := vv.speakerID(ctx, "ずんだもん"); err != nil || id != 3 {
		t.Fatalf("cached speakerID = %d, %v, want 3", id, err)
	}
	if got := speakerHits.Load(); got != 2 {
		t.Fatalf("cached cast refetched the speaker list (%d hits)", got)
	}

	if _, err := vv.speakerID(ctx, "だれか"); !errors.Is(err, ErrUnsupportedVoice) {
		t.Fatalf("speakerID(unknown) error = %v, want ErrUnsupportedVoice", err)
	}

	if id, err := vv.speakerID(ctx, ""); err != nil || id != 0 {
		t.Fatalf("speakerID(empty) = %d, %v, want default 0", id, err)
	}
}

func TestVoicevoxStartWaitsForReadiness(t *testing.T) {
	var versionCalls atomic.Int32
	initQuery := make(chan url.Values, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/version":
			if versionCalls.Add(1) <= 2 {
				http.Error(w, "starting up", http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`"9.9.9"`))
		case "/initialize_speaker":
			initQuery <- r.URL.Query()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	vv := NewVoicevox(zap.NewNop(), VoicevoxConfig{
		BaseURL:       srv.URL,
		WarmupCasts:   []string{"8"},
		RetryInterval: 50 * time.Millisecond,
		InitTimeout:   5 * time.Second,
	})
	if err := vv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := versionCalls.Load(); got != 3 {
		t.Fatalf("version polled %d times, want 3", got)
	}

	select {
	case q := <-initQuery:
		if q.Get("speaker") != "8" || q.Get("skip_reinit") != "true" {
			t.Fatalf("initialize_speaker query = %v", q)
		}
	default:
		t.Fatalf("warmup cast was never initialized")
	}
}

func TestVoicevoxStartTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "still starting", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	vv := NewVoicevox(zap.NewNop(), VoicevoxConfig{
		BaseURL:       srv.URL,
		RetryInterval: 5 * time.Millisecond,
		InitTimeout:   25 * time.Millisecond,
	})
	err := vv.Start(context.Background())
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("Start() error = %v, want ErrEngineUnavailable", err)
	}
}

func TestVoicevoxSynthesisRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/audio_query":
			w.Write([]byte(`{}`))
		case "/synthesis":
			http.Error(w, `{"detail":"unprocessable"}`, http.StatusUnprocessableEntity)
		}
	}))
	defer srv.Close()

	vv := NewVoicevox(zap.NewNop(), VoicevoxConfig{BaseURL: srv.URL, AudioDir: t.TempDir()})
	_, err := vv.Synthesize(context.Background(), "テスト", "ja", voice.Params{Cast: "1"})
	if err == nil || !strings.Contains(err.Error(), "status 422") {
		t.Fatalf("Synthesize() error = %v, want status 422", err)
	}
}

func TestVoicevoxUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	vv := NewVoicevox(zap.NewNop(), VoicevoxConfig{BaseURL: srv.URL, AudioDir: t.TempDir()})
	_, err := vv.Synthesize(context.Background(), "テスト", "ja", voice.Params{Cast: "1"})
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("Synthesize() error = %v, want ErrEngineUnavailable", err)
	}
}

func TestVoicevoxSynthesisTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	}))
	defer srv.Close()

	vv := NewVoicevox(zap.NewNop(), VoicevoxConfig{BaseURL: srv.URL, AudioDir: t.TempDir()})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := vv.Synthesize(ctx, "テスト", "ja", voice.Params{Cast: "1"})
	if !errors.Is(err, ErrSynthesisTimeout) {
		t.Fatalf("Synthesize() error = %v, want ErrSynthesisTimeout", err)
	}
}

func TestNewVoicevoxDefaults(t *testing.T) {
	vv := NewVoicevox(zap.NewNop(), VoicevoxConfig{BaseURL: "http://localhost:50031/"})
	if vv.cfg.Name != "voicevox" {
		t.Fatalf("default name = %q, want voicevox", vv.cfg.Name)
	}
	if vv.cfg.BaseURL != "http://localhost:50031" {
		t.Fatalf("base url = %q, want trailing slash trimmed", vv.cfg.BaseURL)
	}
	if vv.cfg.Timeout != voicevoxRequestTimeout {
		t.Fatalf("timeout = %v, want %v", vv.cfg.Timeout, voicevoxRequestTimeout)
	}
}
