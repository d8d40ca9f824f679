package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Aliisa-yt/twitchbot/internal/voice"
)

const (
	gttsDefaultEndpoint = "https://translate.google.com/translate_tts"
	gttsTimeout         = 10 * time.Second
	// The endpoint rejects long inputs; text is fetched in chunks and the
	// MP3 streams concatenated.
	gttsChunkRunes = 100

	gttsBrowserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

type GTTSConfig struct {
	Endpoint string
	AudioDir string
	Timeout  time.Duration
}

// GTTS fetches speech from the Google Translate TTS endpoint. The
// artifact is the raw MP3 stream; the volume knob rides along as a
// playback gain because the endpoint has no volume control.
type GTTS struct {
	cfg    GTTSConfig
	client *http.Client
	logger *zap.Logger
}

func NewGTTS(logger *zap.Logger, cfg GTTSConfig) *GTTS {
	if cfg.Endpoint == "" {
		cfg.Endpoint = gttsDefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = gttsTimeout
	}
	return &GTTS{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (g *GTTS) Name() string { return "gtts" }

func (g *GTTS) Synthesize(ctx context.Context, text, lang string, params voice.Params) (*Artifact, error) {
	if lang == "" {
		return nil, fmt.Errorf("gtts needs a language code for %q", text)
	}
	chunks := splitChunks(text, gttsChunkRunes)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("gtts: nothing to speak")
	}

	var mp3 []byte
	for i, chunk := range chunks {
		part, err := g.fetch(ctx, chunk, lang, i, len(chunks))
		if err != nil {
			return nil, err
		}
		mp3 = append(mp3, part...)
	}

	path := artifactPath(g.cfg.AudioDir, "gtts", "mp3")
	if err := saveArtifact(path, mp3); err != nil {
		return nil, err
	}
	g.logger.Debug("speech fetched",
		zap.String("lang", lang),
		zap.Int("chunks", len(chunks)),
		zap.Int("bytes", len(mp3)))
	return &Artifact{Path: path, Gain: playbackGain(params.Volume)}, nil
}

func (g *GTTS) fetch(ctx context.Context, chunk, lang string, idx, total int) ([]byte, error) {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("q", chunk)
	q.Set("tl", lang)
	q.Set("total", strconv.Itoa(total))
	q.Set("idx", strconv.Itoa(idx))
	q.Set("textlen", strconv.Itoa(utf8.RuneCountInString(chunk)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", gttsBrowserUA)

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("gtts fetch: %w", ErrSynthesisTimeout)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("gtts endpoint: %w", ErrEngineUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gtts fetch for lang %q: status %d", lang, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("gtts read: %w", err)
	}
	return data, nil
}

// playbackGain clamps the volume knob into the 0-200 percent range the
// player applies while streaming. Unset means unity.
func playbackGain(v *int) int {
	if v == nil {
		return 100
	}
	n := *v
	if n < 0 {
		n = 0
	}
	if n > 200 {
		n = 200
	}
	return n
}

// splitChunks cuts text into pieces of at most limit runes, breaking at
// whitespace when there is any to break at.
func splitChunks(text string, limit int) []string {
	var chunks []string
	runes := []rune(strings.TrimSpace(text))
	for len(runes) > limit {
		cut := limit
		for i := limit; i > 0; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		if chunk := strings.TrimSpace(string(runes[:cut])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[cut:]
		for len(runes) > 0 && unicode.IsSpace(runes[0]) {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
