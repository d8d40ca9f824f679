package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Aliisa-yt/twitchbot/internal/voice"
)

const (
	voicevoxDefaultURL     = "http://127.0.0.1:50021"
	voicevoxRequestTimeout = 10 * time.Second
	startupRetryInterval   = 2 * time.Second
	startupTimeout         = startupRetryInterval*6 + 500*time.Millisecond
	processStopGrace       = 3 * time.Second

	defaultStyleName = "ノーマル"

	// Fixed synthesis fields applied to every audio query.
	prePhonemeLength   = 0.05
	postPhonemeLength  = 0.05
	pauseLength        = 0.25
	pauseLengthScale   = 1.00
	outputSamplingRate = 24000
)

// knobRange clamps a percentage knob into the engine's accepted scale.
// Integer knob values are percentages: 100 maps to 1.0.
type knobRange struct {
	min, max, def float64
}

var (
	speedRange      = knobRange{0.50, 2.00, 1.00}
	pitchRange      = knobRange{-0.15, 0.15, 0.00}
	intonationRange = knobRange{0.00, 2.00, 1.00}
	volumeRange     = knobRange{0.00, 2.00, 1.00}
)

func (r knobRange) scale(v *int) float64 {
	if v == nil {
		return r.def
	}
	return math.Max(r.min, math.Min(float64(*v)/100.0, r.max))
}

// acceleratedSpeed speeds long messages up along a cubic curve so a busy
// chat does not fall behind. Texts of 30 runes or fewer keep their base
// speed; the result never exceeds 1.40.
func acceleratedSpeed(speed float64, runes int) float64 {
	if runes <= 30 {
		return speed
	}
	x := float64(runes - 30)
	factor := 0.0000008*x*x*x + 0.002*x + 1.0
	return math.Min(speed*factor, 1.40)
}

type VoicevoxConfig struct {
	// Name is the engine key used in voice tables, e.g. "voicevox" or
	// "coeiroink" for COEIROINK's compatible v1 API.
	Name     string
	BaseURL  string
	AudioDir string
	// PauseFields includes pauseLength/pauseLengthScale in the audio
	// query. COEIROINK's v1 API rejects them.
	PauseFields bool
	// Earlyspeech enables length-based speed acceleration.
	Earlyspeech bool
	// WarmupCasts are preloaded with initialize_speaker at startup to cut
	// first-synthesis latency.
	WarmupCasts []string
	// ExecPath, when set, names a local engine binary the registry
	// launches on demand and stops at shutdown.
	ExecPath string
	ExecArgs []string

	Timeout       time.Duration
	InitTimeout   time.Duration
	RetryInterval time.Duration
}

// Voicevox speaks through a VOICEVOX-protocol server: audio_query builds
// a synthesis plan, the plan is adjusted with the resolved voice knobs,
// and synthesis renders it to WAV. COEIROINK v1 exposes the same API, so
// one configured instance per backend covers both.
type Voicevox struct {
	cfg    VoicevoxConfig
	client *http.Client
	logger *zap.Logger

	mu   sync.Mutex
	ids  map[string]int
	cmd  *exec.Cmd
	tail *tailBuffer
}

func NewVoicevox(logger *zap.Logger, cfg VoicevoxConfig) *Voicevox {
	if cfg.Name == "" {
		cfg.Name = "voicevox"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = voicevoxDefaultURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = voicevoxRequestTimeout
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = startupTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = startupRetryInterval
	}
	return &Voicevox{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		ids:    make(map[string]int),
	}
}

func (v *Voicevox) Name() string { return v.cfg.Name }

// Start launches the configured local process if any, waits for the
// server to answer its version endpoint, and preloads the warmup casts.
func (v *Voicevox) Start(ctx context.Context) error {
	spawned, err := v.spawnProcess()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(v.cfg.InitTimeout)
	for {
		version, err := v.version(ctx)
		if err == nil {
			v.logger.Info("tts engine answering",
				zap.String("engine", v.cfg.Name), zap.String("version", version))
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			if spawned {
				v.killProcess()
			}
			return fmt.Errorf("%s did not answer within %s: %w",
				v.cfg.Name, v.cfg.InitTimeout, ErrEngineUnavailable)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(v.cfg.RetryInterval):
		}
	}

	for _, cast := range v.cfg.WarmupCasts {
		id, err := v.speakerID(ctx, cast)
		if err != nil {
			v.logger.Warn("speaker warmup skipped",
				zap.String("engine", v.cfg.Name), zap.String("cast", cast), zap.Error(err))
			continue
		}
		q := url.Values{"speaker": {strconv.Itoa(id)}, "skip_reinit": {"true"}}
		if _, err := v.post(ctx, "/initialize_speaker", q, nil); err != nil {
			v.logger.Warn("speaker warmup failed",
				zap.String("engine", v.cfg.Name), zap.String("cast", cast), zap.Error(err))
		}
	}
	return nil
}

// Stop terminates the managed process, escalating to a kill when it
// ignores the interrupt.
func (v *Voicevox) Stop() error {
	v.mu.Lock()
	cmd := v.cmd
	v.cmd = nil
	v.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-time.After(processStopGrace):
		_ = cmd.Process.Kill()
		<-done
	case <-done:
	}
	v.logger.Info("tts engine process stopped", zap.String("engine", v.cfg.Name))
	return nil
}

func (v *Voicevox) Synthesize(ctx context.Context, text, _ string, params voice.Params) (*Artifact, error) {
	speaker, err := v.speakerID(ctx, params.Cast)
	if err != nil {
		return nil, err
	}

	q := url.Values{"text": {text}, "speaker": {strconv.Itoa(speaker)}}
	data, err := v.post(ctx, "/audio_query", q, nil)
	if err != nil {
		return nil, err
	}
	// The query is kept as a loose map so fields this build does not know
	// about survive the round trip unchanged.
	var query map[string]any
	if err := json.Unmarshal(data, &query); err != nil {
		return nil, fmt.Errorf("%s audio_query response: %w", v.cfg.Name, err)
	}
	v.applyParams(query, text, params)

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("%s audio_query encode: %w", v.cfg.Name, err)
	}
	q = url.Values{"speaker": {strconv.Itoa(speaker)}, "interrogative_upspeak": {"true"}}
	wav, err := v.post(ctx, "/synthesis", q, body)
	if err != nil {
		return nil, err
	}
	if len(wav) == 0 {
		return nil, fmt.Errorf("%s synthesis returned no audio", v.cfg.Name)
	}

	path := artifactPath(v.cfg.AudioDir, v.cfg.Name, "wav")
	if err := saveArtifact(path, wav); err != nil {
		return nil, err
	}
	v.logger.Debug("speech synthesized",
		zap.String("engine", v.cfg.Name),
		zap.Int("speaker", speaker),
		zap.Int("bytes", len(wav)))
	return &Artifact{Path: path, Gain: 100}, nil
}

func (v *Voicevox) applyParams(query map[string]any, text string, params voice.Params) {
	speed := speedRange.scale(params.Speed)
	if v.cfg.Earlyspeech {
		speed = acceleratedSpeed(speed, utf8.RuneCountInString(text))
	}
	query["speedScale"] = speed
	query["pitchScale"] = pitchRange.scale(params.Tone)
	query["intonationScale"] = intonationRange.scale(params.Intonation)
	query["volumeScale"] = volumeRange.scale(params.Volume)
	query["prePhonemeLength"] = prePhonemeLength
	query["postPhonemeLength"] = postPhonemeLength
	if v.cfg.PauseFields {
		query["pauseLength"] = pauseLength
		query["pauseLengthScale"] = pauseLengthScale
	}
	query["outputSamplingRate"] = outputSamplingRate
	query["outputStereo"] = false
}

// speakerID resolves a cast string to a style id. Numeric casts are used
// directly; "Name" and "Name|Style" look the id up from the server's
// speaker list, defaulting the style and caching hits.
func (v *Voicevox) speakerID(ctx context.Context, cast string) (int, error) {
	cast = strings.TrimSpace(cast)
	if cast == "" {
		v.logger.Warn("empty cast, using default speaker", zap.String("engine", v.cfg.Name))
		return 0, nil
	}
	if id, err := strconv.Atoi(cast); err == nil && id >= 0 {
		return id, nil
	}

	v.mu.Lock()
	id, ok := v.ids[cast]
	v.mu.Unlock()
	if ok {
		return id, nil
	}

	name, style := cast, defaultStyleName
	if i := strings.IndexByte(cast, '|'); i >= 0 {
		name, style = cast[:i], cast[i+1:]
	}
	speakers, err := v.speakers(ctx)
	if err != nil {
		return 0, err
	}
	for _, meta := range speakers {
		if meta.Name != name {
			continue
		}
		for _, st := range meta.Styles {
			if st.Name == style {
				v.mu.Lock()
				v.ids[cast] = st.ID
				v.mu.Unlock()
				return st.ID, nil
			}
		}
	}
	return 0, fmt.Errorf("%s cast %q: %w", v.cfg.Name, cast, ErrUnsupportedVoice)
}

type speakerStyle struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

type speakerMeta struct {
	Name   string         `json:"name"`
	Styles []speakerStyle `json:"styles"`
}

func (v *Voicevox) speakers(ctx context.Context) ([]speakerMeta, error) {
	data, err := v.get(ctx, "/speakers")
	if err != nil {
		return nil, err
	}
	var out []speakerMeta
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s speakers response: %w", v.cfg.Name, err)
	}
	return out, nil
}

func (v *Voicevox) version(ctx context.Context) (string, error) {
	attempt, cancel := context.WithTimeout(ctx, v.cfg.RetryInterval)
	defer cancel()
	data, err := v.get(attempt, "/version")
	if err != nil {
		return "", err
	}
	var version string
	if err := json.Unmarshal(data, &version); err != nil {
		version = strings.TrimSpace(string(data))
	}
	return version, nil
}

func (v *Voicevox) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return v.do(req, path)
}

func (v *Voicevox) post(ctx context.Context, path string, q url.Values, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.BaseURL+path+"?"+q.Encode(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return v.do(req, path)
}

func (v *Voicevox) do(req *http.Request, path string) ([]byte, error) {
	resp, err := v.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s %s: %w", v.cfg.Name, path, ErrSynthesisTimeout)
		}
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%s unreachable: %w", v.cfg.Name, ErrEngineUnavailable)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("%s %s read: %w", v.cfg.Name, path, err)
	}
	// initialize_speaker answers 204, so accept the whole 2xx class.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := string(data)
		if len(excerpt) > 200 {
			excerpt = excerpt[:200]
		}
		return nil, fmt.Errorf("%s %s: status %d: %s", v.cfg.Name, path, resp.StatusCode, excerpt)
	}
	return data, nil
}

// spawnProcess starts the configured local binary once. It reports
// whether this call did the spawn so a failed readiness wait can tear the
// process down again.
func (v *Voicevox) spawnProcess() (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cfg.ExecPath == "" || v.cmd != nil {
		return false, nil
	}
	path, err := exec.LookPath(v.cfg.ExecPath)
	if err != nil {
		return false, fmt.Errorf("%s binary: %w", v.cfg.Name, err)
	}
	tail := newTailBuffer(16 << 10)
	cmd := exec.Command(path, v.cfg.ExecArgs...)
	cmd.Stdout = tail
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("start %s: %w", v.cfg.Name, err)
	}
	v.cmd = cmd
	v.tail = tail
	v.logger.Info("tts engine process started",
		zap.String("engine", v.cfg.Name), zap.String("path", path))
	return true, nil
}

func (v *Voicevox) killProcess() {
	v.mu.Lock()
	cmd := v.cmd
	tail := v.tail
	v.cmd = nil
	v.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
	_ = cmd.Wait()
	if tail != nil && tail.String() != "" {
		v.logger.Warn("tts engine process output",
			zap.String("engine", v.cfg.Name), zap.String("tail", tail.String()))
	}
}

// tailBuffer keeps the last max bytes written, for surfacing process
// output when startup fails.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = 16 << 10
	}
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
