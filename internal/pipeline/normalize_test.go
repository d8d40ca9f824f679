package pipeline

import "testing"

func TestNormalizeChat(t *testing.T) {
	tests := []struct{ in, want string }{
		{"@streamer hi there", "hi there"},
		{"hi   @Walker_22 and @mods", "hi and"},
		{"just text", "just text"},
		// URLs survive into translation so detection can flag them.
		{"see https://example.com/page now", "see https://example.com/page now"},
		{"@solo", ""},
		{"a  b\t c", "a b c"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeChat(tt.in); got != tt.want {
			t.Errorf("normalizeChat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeSpeech(t *testing.T) {
	tests := []struct{ in, want string }{
		{"check https://example.com/page now", "check now"},
		{"www.example.com", ""},
		{"example.com/path?q=1 wow", "wow"},
		{"plain talk", "plain talk"},
		{"午後3時になりました", "午後3時になりました"},
	}
	for _, tt := range tests {
		if got := normalizeSpeech(tt.in); got != tt.want {
			t.Errorf("normalizeSpeech(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
