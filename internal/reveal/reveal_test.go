package reveal_test

import (
	"strings"
	"testing"
	"time"

	"github.com/marcosvr/gemchat/internal/reveal"
)

func TestStepFor(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   time.Duration
	}{
		{"short message", 10, 30 * time.Millisecond},
		{"boundary at fifty", 50, 20 * time.Millisecond},
		{"medium message", 120, 20 * time.Millisecond},
		{"boundary at two hundred", 200, 10 * time.Millisecond},
		{"long message", 1000, 10 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reveal.StepFor(tt.length); got != tt.want {
				t.Errorf("StepFor(%d) = %v, want %v", tt.length, got, tt.want)
			}
		})
	}
}

func TestScheduleCountsCharactersNotBytes(t *testing.T) {
	// 40 characters but 80 bytes; the step must come from the character
	// count, so this is still a short message.
	content := strings.Repeat("é", 40)
	steps := reveal.Schedule(content)

	if len(steps) != 40 {
		t.Fatalf("got %d steps, want 40", len(steps))
	}
	if steps[1].Delay != 30*time.Millisecond {
		t.Errorf("second character delay = %v, want %v", steps[1].Delay, 30*time.Millisecond)
	}
}

func TestScheduleCoversContent(t *testing.T) {
	content := "Hello there, friend"
	steps := reveal.Schedule(content)

	var sb strings.Builder
	for _, s := range steps {
		sb.WriteRune(s.Char)
	}
	if sb.String() != content {
		t.Errorf("schedule characters = %q, want %q", sb.String(), content)
	}
}

func TestScheduleDelaysAreMonotonic(t *testing.T) {
	steps := reveal.Schedule("The quick brown fox jumps over the lazy dog")

	if len(steps) == 0 {
		t.Fatal("Schedule() returned no steps")
	}
	if steps[0].Delay != 0 {
		t.Errorf("first delay = %v, want 0", steps[0].Delay)
	}
	for i := 1; i < len(steps); i++ {
		if steps[i].Delay < steps[i-1].Delay {
			t.Fatalf("delay decreased at step %d: %v after %v", i, steps[i].Delay, steps[i-1].Delay)
		}
	}
}

func TestScheduleWhitespaceIsImmediate(t *testing.T) {
	steps := reveal.Schedule("ab cd")

	// The space carries the delay already reached, without advancing it.
	if steps[2].Char != ' ' {
		t.Fatalf("steps[2].Char = %q, want space", steps[2].Char)
	}
	if steps[2].Delay != steps[3].Delay {
		t.Errorf("space delay %v advanced the clock for the next char %v", steps[2].Delay, steps[3].Delay)
	}
}

func TestScheduleResetsPerMessage(t *testing.T) {
	first := reveal.Schedule("one message")
	second := reveal.Schedule("another message")

	if first[0].Delay != 0 || second[0].Delay != 0 {
		t.Errorf("delays do not reset to 0 per message: %v, %v", first[0].Delay, second[0].Delay)
	}
}

func TestVisibleLength(t *testing.T) {
	// Short content, so 30ms per non-space char: a@0ms b@30ms, then the
	// space and "c" both become visible at 60ms, and "d" at 90ms.
	content := "ab cd"

	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{-time.Millisecond, 0},
		{0, 1},
		{29 * time.Millisecond, 1},
		{30 * time.Millisecond, 2},
		{60 * time.Millisecond, 4},
		{90 * time.Millisecond, 5},
		{time.Minute, 5},
	}

	for _, tt := range tests {
		if got := reveal.VisibleLength(content, tt.elapsed); got != tt.want {
			t.Errorf("VisibleLength(%q, %v) = %d, want %d", content, tt.elapsed, got, tt.want)
		}
	}
}

func TestTrackerFirstRevealOnly(t *testing.T) {
	tr := reveal.NewTracker()

	if !tr.FirstReveal("m1") {
		t.Error("first FirstReveal(m1) = false, want true")
	}
	if tr.FirstReveal("m1") {
		t.Error("second FirstReveal(m1) = true, want false")
	}
	if !tr.FirstReveal("m2") {
		t.Error("FirstReveal(m2) = false, want true")
	}

	tr.Reset()
	if !tr.FirstReveal("m1") {
		t.Error("FirstReveal(m1) after Reset = false, want true")
	}
}
