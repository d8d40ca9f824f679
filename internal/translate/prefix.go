package translate

import (
	"fmt"
	"regexp"
	"strings"
)

// Forced-language prefixes precede the message body: "en:ja:" forces both
// source and target, "ja:" forces the target only. Codes are two or three
// letters with an optional region subtag (zh-CN).
var (
	twoLanguagePrefix = regexp.MustCompile(`^([A-Za-z]{2,3}(?:-[A-Za-z]{2})?):([A-Za-z]{2,3}(?:-[A-Za-z]{2})?):`)
	oneLanguagePrefix = regexp.MustCompile(`^([A-Za-z]{2,3}(?:-[A-Za-z]{2})?):`)
)

// ParsePrefix extracts a forced-language prefix from text. It returns the
// body with the prefix stripped and the forced source/target codes in
// canonical form; both are empty when no prefix is present. A prefix-shaped
// head with an unrecognized code fails with ErrUnsupportedLanguage.
func ParsePrefix(text string) (body, source, target string, err error) {
	trimmed := strings.TrimSpace(text)

	if m := twoLanguagePrefix.FindStringSubmatch(trimmed); m != nil {
		src, okSrc := CanonicalLanguage(m[1])
		tgt, okTgt := CanonicalLanguage(m[2])
		if !okSrc || !okTgt {
			return "", "", "", fmt.Errorf("forced prefix %q: %w", m[0], ErrUnsupportedLanguage)
		}
		return strings.TrimSpace(trimmed[len(m[0]):]), src, tgt, nil
	}

	if m := oneLanguagePrefix.FindStringSubmatch(trimmed); m != nil {
		tgt, ok := CanonicalLanguage(m[1])
		if !ok {
			return "", "", "", fmt.Errorf("forced prefix %q: %w", m[0], ErrUnsupportedLanguage)
		}
		return strings.TrimSpace(trimmed[len(m[0]):]), "", tgt, nil
	}

	return trimmed, "", "", nil
}
