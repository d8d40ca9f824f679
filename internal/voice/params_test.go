package voice

import "testing"

func intp(v int) *int { return &v }

func TestParseParamString(t *testing.T) {
	tests := []struct {
		in   string
		want Params
	}{
		{"v100,s120,t-3,a2,i50", Params{Volume: intp(100), Speed: intp(120), Tone: intp(-3), Alpha: intp(2), Intonation: intp(50)}},
		{"s1.2", Params{Speed: intp(120)}},
		{"v0.85", Params{Volume: intp(85)}},
		{"V100, S50", Params{Volume: intp(100), Speed: intp(50)}},
		{"v45,s50,v60", Params{Volume: intp(60), Speed: intp(50)}},
		{"", Params{}},
		{"s-1", Params{Speed: intp(-1)}},
	}
	for _, tt := range tests {
		got, err := ParseParamString(tt.in)
		if err != nil {
			t.Fatalf("ParseParamString(%q) error = %v", tt.in, err)
		}
		if got.String() != tt.want.String() {
			t.Errorf("ParseParamString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseParamStringErrors(t *testing.T) {
	for _, in := range []string{"x100", "v", "vabc", "q50"} {
		if _, err := ParseParamString(in); err == nil {
			t.Errorf("ParseParamString(%q) error = nil, want error", in)
		}
	}
}

func TestParamsMerge(t *testing.T) {
	base := Params{Cast: "8", Volume: intp(100), Speed: intp(100)}
	over := Params{Speed: intp(140), Tone: intp(5)}

	got := base.Merge(over)
	if got.Cast != "8" {
		t.Fatalf("Merge() cast = %q, want base cast kept", got.Cast)
	}
	if got.VolumeOr(0) != 100 || got.SpeedOr(0) != 140 || got.ToneOr(0) != 5 {
		t.Fatalf("Merge() = %v, want v100 s140 t5", got)
	}
	if base.SpeedOr(0) != 100 {
		t.Fatal("Merge() mutated the base")
	}
}

func TestKnobDefaults(t *testing.T) {
	var p Params
	if got := p.VolumeOr(100); got != 100 {
		t.Fatalf("VolumeOr(100) = %d on unset knob", got)
	}
	p.Volume = intp(0)
	if got := p.VolumeOr(100); got != 0 {
		t.Fatalf("VolumeOr(100) = %d, want explicit 0 honored", got)
	}
}
