package pipeline

import (
	"regexp"
	"strings"
)

// Chat text is cleaned twice. Before translation, mentions go but URLs
// stay, so the router can recognize URL-only messages by their
// undetermined language. Before synthesis, URL-like runs go too; reading
// one aloud is noise.
var (
	urlPattern     = regexp.MustCompile(`(?:https?://)?(?:www\.)?[A-Za-z0-9-]+(?:\.[A-Za-z0-9-]+)+(?:/\S*)?`)
	mentionPattern = regexp.MustCompile(`(?:^|\s)@\w{2,25}`)
)

func normalizeChat(text string) string {
	return compressBlanks(mentionPattern.ReplaceAllString(text, " "))
}

func normalizeSpeech(text string) string {
	return compressBlanks(urlPattern.ReplaceAllString(text, " "))
}

// compressBlanks folds whitespace runs into single spaces and trims the
// ends.
func compressBlanks(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
