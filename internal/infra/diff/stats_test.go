package diff

import "testing"

func TestLineStats(t *testing.T) {
	tests := []struct {
		name           string
		before, after  string
		added, removed int
	}{
		{"identical", "a\nb\n", "a\nb\n", 0, 0},
		{"single edit", "a\nb\nc\n", "a\nB\nc\n", 1, 1},
		{"append", "a\n", "a\nb\nc\n", 2, 0},
		{"delete", "a\nb\nc\n", "a\n", 0, 2},
		{"new file", "", "x\ny", 2, 0},
		{"emptied", "x\ny\n", "", 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, removed := LineStats(tt.before, tt.after)
			if added != tt.added || removed != tt.removed {
				t.Fatalf("LineStats() = (+%d -%d), want (+%d -%d)", added, removed, tt.added, tt.removed)
			}
		})
	}
}
