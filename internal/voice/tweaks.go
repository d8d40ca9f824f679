package voice

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// tweakBlock matches an in-chat parameter block such as "{v50, s-2}".
// Only integer values are accepted in chat.
var tweakBlock = regexp.MustCompile(`(?i)\{\s*((?:[aistv]-?\d+(?:,\s*|\s+))*[aistv]-?\d+)\s*\}`)

// ExtractTweaks removes every parameter block from text and folds the
// tokens into a single Params, later tokens winning per knob. found is
// false when the text carries no block.
func ExtractTweaks(text string) (cleaned string, p Params, found bool) {
	matches := tweakBlock.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, Params{}, false
	}
	for _, m := range matches {
		for _, item := range strings.FieldsFunc(m[1], func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
			item = strings.ToLower(item)
			if len(item) < 2 {
				continue
			}
			value, err := strconv.Atoi(item[1:])
			if err != nil {
				continue
			}
			p.setKnob(item[0], value)
		}
	}
	cleaned = strings.TrimSpace(tweakBlock.ReplaceAllString(text, " "))
	return cleaned, p, true
}

// Tweaks is the session-scoped voice override set from chat. Overrides
// accumulate per knob until Reset returns voices to the configured
// tables.
type Tweaks struct {
	mu      sync.Mutex
	current Params
}

func NewTweaks() *Tweaks { return &Tweaks{} }

// Push folds p into the active override.
func (t *Tweaks) Push(p Params) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = t.current.Merge(p)
}

// Reset clears the active override.
func (t *Tweaks) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = Params{}
}

// Apply layers the active override on base.
func (t *Tweaks) Apply(base Params) Params {
	t.mu.Lock()
	defer t.mu.Unlock()
	return base.Merge(t.current)
}
