package tokenizer

import "testing"

func TestCount(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "single word", text: "hello", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Count(tt.text); got != tt.want {
				t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		maxTokens int
		want      string
	}{
		{name: "empty", text: "", maxTokens: 5, want: ""},
		{name: "zero budget", text: "hello world", maxTokens: 0, want: ""},
		{name: "fits", text: "hello world", maxTokens: 10, want: "hello world"},
		{name: "cut", text: "one two three four five six", maxTokens: 3, want: "one two three"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.text, tt.maxTokens); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.text, tt.maxTokens, got, tt.want)
			}
		})
	}
}

func TestTruncateNeverExceedsBudget(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog. The quick brown fox jumps over the lazy dog."
	for budget := 1; budget < 25; budget++ {
		got := Truncate(text, budget)
		if n := Count(got); n > budget {
			t.Errorf("budget %d: truncated text has %d tokens", budget, n)
		}
	}
}
