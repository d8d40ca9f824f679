package observability

import "testing"

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe("translate", 300)
	w.Observe("translate", 500)
	w.Observe("translate", 700)
	w.ObserveIndicator("translation_fallback")
	w.ObserveIndicator("translation_fallback")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "translate" {
		t.Fatalf("Stage = %q, want %q", s.Stage, "translate")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 700 {
		t.Fatalf("LastMS = %.2f, want 700", s.LastMS)
	}
	if s.P50MS != 500 {
		t.Fatalf("P50MS = %.2f, want 500", s.P50MS)
	}
	if s.P95MS <= 500 || s.P95MS > 700 {
		t.Fatalf("P95MS = %.2f, want (500,700]", s.P95MS)
	}
	if s.TargetP95MS != 1200 {
		t.Fatalf("TargetP95MS = %.2f, want 1200", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("len(Indicators) = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Name != "translation_fallback" {
		t.Fatalf("Indicators[0].Name = %q, want %q", snap.Indicators[0].Name, "translation_fallback")
	}
	if snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators[0].Count = %d, want %d", snap.Indicators[0].Count, 2)
	}
}

func TestStageWindowWrapsAroundCapacity(t *testing.T) {
	w := newStageWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe("synthesize", float64(100*(i+1)))
	}

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Samples != 4 {
		t.Fatalf("Samples = %d, want 4", s.Samples)
	}
	if s.LastMS != 1000 {
		t.Fatalf("LastMS = %.2f, want 1000", s.LastMS)
	}
	// Only the newest four samples (700..1000) remain in the window.
	if s.AvgMS != 850 {
		t.Fatalf("AvgMS = %.2f, want 850", s.AvgMS)
	}
}

func TestStageWindowIgnoresInvalidSamples(t *testing.T) {
	w := newStageWindow(4)
	w.Observe("", 100)
	w.Observe("translate", -5)

	snap := w.Snapshot()
	if len(snap.Stages) != 0 {
		t.Fatalf("len(Stages) = %d, want 0", len(snap.Stages))
	}
}

func TestStageWindowReset(t *testing.T) {
	w := newStageWindow(4)
	w.Observe("translate", 100)
	w.ObserveIndicator("queue_drop")
	w.Reset()

	snap := w.Snapshot()
	if len(snap.Stages) != 0 || len(snap.Indicators) != 0 {
		t.Fatalf("snapshot after reset = %+v, want empty", snap)
	}
}
