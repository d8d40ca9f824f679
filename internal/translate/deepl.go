package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Aliisa-yt/twitchbot/internal/reliability"
)

const deeplDefaultTimeout = 10 * time.Second

// deeplSupported holds the base language codes DeepL accepts. Requests for
// anything else fail over to the next engine instead of reaching the API.
var deeplSupported = map[string]bool{
	"ar": true, "bg": true, "cs": true, "da": true, "de": true, "el": true,
	"en": true, "es": true, "et": true, "fi": true, "fr": true, "hu": true,
	"id": true, "it": true, "ja": true, "ko": true, "lt": true, "lv": true,
	"nb": true, "nl": true, "pl": true, "pt": true, "ro": true, "ru": true,
	"sk": true, "sl": true, "sv": true, "tr": true, "uk": true, "zh": true,
}

// deeplTargetOverrides lists targets where DeepL rejects the bare upper
// base code.
var deeplTargetOverrides = map[string]string{
	"en":    "EN-US",
	"pt":    "PT-BR",
	"zh":    "ZH",
	"zh-cn": "ZH",
	"zh-tw": "ZH",
}

type DeepLConfig struct {
	APIKey string
	// BaseURL is derived from the key flavor when empty: keys ending in
	// ":fx" are free-plan keys served from api-free.deepl.com.
	BaseURL string
	Timeout time.Duration
}

// DeepL translates through the official REST API. Detection is a
// byproduct of translation; the usage endpoint backs the quota command.
type DeepL struct {
	cfg    DeepLConfig
	client *http.Client
	logger *zap.Logger
}

func NewDeepL(logger *zap.Logger, cfg DeepLConfig) *DeepL {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		if strings.HasSuffix(cfg.APIKey, ":fx") {
			cfg.BaseURL = "https://api-free.deepl.com"
		} else {
			cfg.BaseURL = "https://api.deepl.com"
		}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = deeplDefaultTimeout
	}
	return &DeepL{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (d *DeepL) Name() string { return "deepl" }

func (d *DeepL) Translate(ctx context.Context, text, source, target string) (Outcome, error) {
	targetCode, err := deeplTargetCode(target)
	if err != nil {
		return Outcome{}, err
	}
	form := url.Values{}
	form.Set("text", text)
	form.Set("target_lang", targetCode)
	if source != "" {
		sourceCode, err := deeplSourceCode(source)
		if err != nil {
			return Outcome{}, err
		}
		form.Set("source_lang", sourceCode)
	}

	data, err := d.post(ctx, "/v2/translate", form)
	if err != nil {
		return Outcome{}, err
	}

	var out struct {
		Translations []struct {
			DetectedSourceLanguage string `json:"detected_source_language"`
			Text                   string `json:"text"`
		} `json:"translations"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return Outcome{}, fmt.Errorf("deepl response: %w", err)
	}
	if len(out.Translations) == 0 {
		return Outcome{}, fmt.Errorf("deepl response carried no translations")
	}
	first := out.Translations[0]
	d.logger.Debug("deepl translation completed",
		zap.String("source", first.DetectedSourceLanguage),
		zap.String("target", targetCode))
	return Outcome{
		Text:           first.Text,
		DetectedSource: strings.ToLower(first.DetectedSourceLanguage),
	}, nil
}

func (d *DeepL) Usage(ctx context.Context) (Quota, error) {
	data, err := d.post(ctx, "/v2/usage", url.Values{})
	if err != nil {
		return Quota{}, err
	}
	var out struct {
		CharacterCount int64 `json:"character_count"`
		CharacterLimit int64 `json:"character_limit"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return Quota{}, fmt.Errorf("deepl usage response: %w", err)
	}
	return Quota{Count: out.CharacterCount, Limit: out.CharacterLimit, Valid: true}, nil
}

func (d *DeepL) post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+d.cfg.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepl request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepl response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return data, nil
	case resp.StatusCode == 456:
		// DeepL's own status for an exhausted character quota.
		return nil, fmt.Errorf("deepl character quota reached: %w", ErrQuotaExceeded)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("deepl returned http 429: %w", ErrRateLimited)
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("deepl authorization failed: check the API key")
	case reliability.IsRetryableHTTPStatus(resp.StatusCode):
		return nil, fmt.Errorf("deepl transient failure: http %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("deepl request rejected: http %d", resp.StatusCode)
	}
}

func deeplSourceCode(code string) (string, error) {
	base, _, _ := strings.Cut(strings.ToLower(code), "-")
	if !deeplSupported[base] {
		return "", fmt.Errorf("deepl source %q: %w", code, ErrUnsupportedLanguage)
	}
	return strings.ToUpper(base), nil
}

func deeplTargetCode(code string) (string, error) {
	lower := strings.ToLower(code)
	if override, ok := deeplTargetOverrides[lower]; ok {
		return override, nil
	}
	base, _, _ := strings.Cut(lower, "-")
	if !deeplSupported[base] {
		return "", fmt.Errorf("deepl target %q: %w", code, ErrUnsupportedLanguage)
	}
	return strings.ToUpper(base), nil
}
