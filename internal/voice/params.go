package voice

import (
	"fmt"
	"strconv"
	"strings"
)

// Params carries the tunable knobs for one synthesis call. A nil knob
// means the engine default; engines read only the knobs they support.
// Decimal values in configuration are stored scaled by 100, so a speed
// of 1.2 and a speed of 120 configure the same voice.
type Params struct {
	Cast       string
	Volume     *int
	Speed      *int
	Tone       *int
	Alpha      *int
	Intonation *int
}

func (p Params) VolumeOr(def int) int     { return knobOr(p.Volume, def) }
func (p Params) SpeedOr(def int) int      { return knobOr(p.Speed, def) }
func (p Params) ToneOr(def int) int       { return knobOr(p.Tone, def) }
func (p Params) AlphaOr(def int) int      { return knobOr(p.Alpha, def) }
func (p Params) IntonationOr(def int) int { return knobOr(p.Intonation, def) }

func knobOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// Merge overlays over's set knobs on p. The cast carries over only when
// over names one.
func (p Params) Merge(over Params) Params {
	out := p
	if over.Cast != "" {
		out.Cast = over.Cast
	}
	if over.Volume != nil {
		out.Volume = over.Volume
	}
	if over.Speed != nil {
		out.Speed = over.Speed
	}
	if over.Tone != nil {
		out.Tone = over.Tone
	}
	if over.Alpha != nil {
		out.Alpha = over.Alpha
	}
	if over.Intonation != nil {
		out.Intonation = over.Intonation
	}
	return out
}

func (p Params) String() string {
	knob := func(v *int) string {
		if v == nil {
			return "-"
		}
		return strconv.Itoa(*v)
	}
	return fmt.Sprintf("cast=%s v=%s s=%s t=%s a=%s i=%s",
		p.Cast, knob(p.Volume), knob(p.Speed), knob(p.Tone), knob(p.Alpha), knob(p.Intonation))
}

// ParseParamString parses a configured parameter string such as
// "v100,s1.2,t-3" into Params. Later tokens override earlier ones for
// the same knob. Decimal values are scaled by 100.
func ParseParamString(s string) (Params, error) {
	var p Params
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(strings.ToLower(item))
		if item == "" {
			continue
		}
		if len(item) < 2 {
			return Params{}, fmt.Errorf("voice parameter %q: token too short", item)
		}
		value, err := parseKnobValue(item[1:])
		if err != nil {
			return Params{}, fmt.Errorf("voice parameter %q: %w", item, err)
		}
		if !p.setKnob(item[0], value) {
			return Params{}, fmt.Errorf("voice parameter %q: unknown knob %q", item, item[:1])
		}
	}
	return p, nil
}

func parseKnobValue(s string) (int, error) {
	if !strings.Contains(s, ".") {
		return strconv.Atoi(s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(f * 100), nil
}

func (p *Params) setKnob(letter byte, value int) bool {
	switch letter {
	case 'v':
		p.Volume = &value
	case 's':
		p.Speed = &value
	case 't':
		p.Tone = &value
	case 'a':
		p.Alpha = &value
	case 'i':
		p.Intonation = &value
	default:
		return false
	}
	return true
}
