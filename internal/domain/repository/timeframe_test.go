package repository

import "testing"

func TestNormalizeTimeframe(t *testing.T) {
	cases := map[string]Timeframe{
		"":   TF1m,
		"1s": TF1s,
		"1h": TF1h,
		"7d": TF1m,
	}
	for in, want := range cases {
		if got := NormalizeTimeframe(in); got != want {
			t.Fatalf("NormalizeTimeframe(%q) = %q, want %q", in, got, want)
		}
	}
}
