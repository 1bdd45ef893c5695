package chat

import "testing"

func TestParseScoreClampsAndDefaults(t *testing.T) {
	cases := map[string]float64{
		"1.7":  1,
		"-3":   0,
		"abc":  0.5,
		"":     0.5,
		"NaN":  0.5,
		"+Inf": 0.5,
		"0.25": 0.25,
	}
	for raw, want := range cases {
		if got := ParseScore(raw); got != want {
			t.Fatalf("ParseScore(%q)=%v want %v", raw, got, want)
		}
	}
}

func TestStageForThresholds(t *testing.T) {
	if got := StageFor("", 0.71); got != StagePositive {
		t.Fatalf("expected positive, got %s", got)
	}
	if got := StageFor("", 0.7); got != StageNeutral {
		t.Fatalf("expected neutral at boundary, got %s", got)
	}
	if got := StageFor("", 0.29); got != StageNegative {
		t.Fatalf("expected negative, got %s", got)
	}
	if got := StageFor("Negative", 0.9); got != StageNegative {
		t.Fatalf("explicit stage should win, got %s", got)
	}
	if got := StageFor("ecstatic", 0.9); got != StagePositive {
		t.Fatalf("unknown explicit stage should fall back to threshold, got %s", got)
	}
}

func TestNewValenceStateReflection(t *testing.T) {
	state := NewValenceState("0.2", "", "", "  ")
	if state.ReflectionSummary != nil {
		t.Fatalf("blank reflection should be nil")
	}
	if state.Confidence != DefaultScore {
		t.Fatalf("missing confidence should default, got %v", state.Confidence)
	}
	if state.EmotionalStage != StageNegative {
		t.Fatalf("expected negative stage, got %s", state.EmotionalStage)
	}
}
