package main

import "testing"

func TestParseCents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1.25", 125, false},
		{"1", 100, false},
		{"0.01", 1, false},
		{"100.00", 10000, false},
		{"1.255", 0, true}, // sub-cent
		{"0", 0, true},
		{"-1.25", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseCents(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseCents(%q) = %d, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseCents(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("parseCents(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
