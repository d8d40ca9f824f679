package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Aliisa-yt/twitchbot/internal/reliability"
)

// The free Google endpoint is the web UI's RPC, not an official API: keep
// request volume polite and back off hard on 429s.
const (
	googleRPCID          = "MkEWBc"
	googleMaxRunes       = 5000
	googleCooldownBase   = time.Second
	googleCooldownMax    = 30 * time.Second
	googleCooldownReset  = time.Minute
	googleBrowserUA      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	googleDefaultTimeout = 10 * time.Second
)

type GoogleFreeConfig struct {
	// URLSuffix selects translate.google.<suffix>; defaults to "com".
	URLSuffix string
	Timeout   time.Duration
}

// GoogleFree translates through the Google Translate web RPC. It has no
// dedicated detection API; detection is a byproduct of translation.
type GoogleFree struct {
	cfg      GoogleFreeConfig
	endpoint string
	referer  string
	client   *http.Client
	cooldown *reliability.Cooldown
	logger   *zap.Logger
}

func NewGoogleFree(logger *zap.Logger, cfg GoogleFreeConfig) *GoogleFree {
	if strings.TrimSpace(cfg.URLSuffix) == "" {
		cfg.URLSuffix = "com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = googleDefaultTimeout
	}
	base := "https://translate.google." + cfg.URLSuffix
	return &GoogleFree{
		cfg:      cfg,
		endpoint: base + "/_/TranslateWebserverUi/data/batchexecute",
		referer:  base + "/",
		client:   &http.Client{Timeout: cfg.Timeout},
		cooldown: reliability.NewCooldown(googleCooldownBase, googleCooldownMax, googleCooldownReset),
		logger:   logger,
	}
}

func (g *GoogleFree) Name() string { return "google" }

func (g *GoogleFree) Translate(ctx context.Context, text, source, target string) (Outcome, error) {
	if wait := g.cooldown.Remaining(); wait > 0 {
		return Outcome{}, fmt.Errorf("google throttled for %s: %w", wait.Round(100*time.Millisecond), ErrRateLimited)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{}, errors.New("no characters to translate")
	}
	if utf8.RuneCountInString(text) >= googleMaxRunes {
		return Outcome{}, fmt.Errorf("text exceeds the %d character limit", googleMaxRunes)
	}
	if source == "" {
		source = "auto"
	}
	if target == "" {
		target = "auto"
	}

	body, err := googleRPCBody(text, source, target)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode rpc: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, strings.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Referer", g.referer)
	req.Header.Set("User-Agent", googleBrowserUA)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := g.client.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("google request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, fmt.Errorf("google response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		backoff := g.cooldown.Hit()
		g.logger.Warn("google rate limited", zap.Duration("backoff", backoff))
		return Outcome{}, fmt.Errorf("google returned http 429: %w", ErrRateLimited)
	}
	if resp.StatusCode >= 300 {
		if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return Outcome{}, fmt.Errorf("google transient failure: http %d", resp.StatusCode)
		}
		return Outcome{}, fmt.Errorf("google request rejected: http %d", resp.StatusCode)
	}

	outcome, err := parseGoogleResponse(data)
	if err != nil {
		return Outcome{}, err
	}
	g.logger.Debug("google translation completed",
		zap.String("source", outcome.DetectedSource),
		zap.String("target", target))
	return outcome, nil
}

func googleRPCBody(text, source, target string) (string, error) {
	inner, err := json.Marshal([]any{[]any{text, source, target, true}, []any{1}})
	if err != nil {
		return "", err
	}
	rpc, err := json.Marshal([]any{[]any{[]any{googleRPCID, string(inner), nil, "generic"}}})
	if err != nil {
		return "", err
	}
	return "f.req=" + url.QueryEscape(string(rpc)) + "&", nil
}

// parseGoogleResponse digs the translation out of the batchexecute
// envelope: the payload line carries a JSON string at [0][2], whose decoded
// form has the detected language at [1][3] and the sentence list under
// [1][0]. URL-like inputs come back as a bare string with no sentence
// list; Google reports those as language "und".
func parseGoogleResponse(data []byte) (Outcome, error) {
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.Contains(line, googleRPCID) {
			continue
		}
		var outer []any
		if err := json.Unmarshal([]byte(line), &outer); err != nil {
			continue
		}
		payload, ok := jsonIndex(jsonIndex(outer, 0), 2).(string)
		if !ok {
			continue
		}
		var decoded []any
		if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
			return Outcome{}, fmt.Errorf("google payload: %w", err)
		}
		detected, _ := jsonIndex(jsonIndex(decoded, 1), 3).(string)
		transInfo, ok := jsonIndex(jsonIndex(decoded, 1), 0).([]any)
		if !ok {
			return Outcome{}, errors.New("google payload missing translation info")
		}
		return extractGoogleTranslation(transInfo, detected)
	}
	return Outcome{}, errors.New("google response format not recognized")
}

func extractGoogleTranslation(transInfo []any, detected string) (Outcome, error) {
	switch len(transInfo) {
	case 1:
		first, _ := transInfo[0].([]any)
		if len(first) > 5 {
			sentences, ok := jsonIndex(first, 5).([]any)
			if !ok {
				return Outcome{}, errors.New("google payload missing sentences")
			}
			var b strings.Builder
			for _, sentence := range sentences {
				part, _ := jsonIndex(sentence, 0).(string)
				if part == "" {
					continue
				}
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(strings.TrimSpace(part))
			}
			return Outcome{Text: b.String(), DetectedSource: detected}, nil
		}
		// No sentence list: the input was recognized as a URL.
		text, _ := jsonIndex(first, 0).(string)
		return Outcome{Text: text, DetectedSource: "und"}, nil
	case 2:
		var b strings.Builder
		for _, entry := range transInfo {
			part, _ := jsonIndex(entry, 0).(string)
			if part == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(part)
		}
		return Outcome{Text: b.String(), DetectedSource: detected}, nil
	default:
		return Outcome{}, errors.New("google translation info has unexpected shape")
	}
}

func jsonIndex(v any, i int) any {
	arr, ok := v.([]any)
	if !ok || i < 0 || i >= len(arr) {
		return nil
	}
	return arr[i]
}
