package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestToMinor(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"75.50", 7550, false},
		{"0", 0, false},
		{"-20", -2000, false},
		{"0.01", 1, false},
		{"1.005", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ToMinor(decimal.RequireFromString(tt.in))
			if tt.wantErr {
				if !errors.Is(err, ErrPrecision) {
					t.Errorf("ToMinor(%s) error = %v, want ErrPrecision", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ToMinor(%s) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ToMinor(%s) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestToMinorRange(t *testing.T) {
	if _, err := ToMinor(FromMinor(MaxMinor)); err != nil {
		t.Errorf("ToMinor(MaxMinor) unexpected error: %v", err)
	}
	if _, err := ToMinor(FromMinor(-MaxMinor)); err != nil {
		t.Errorf("ToMinor(-MaxMinor) unexpected error: %v", err)
	}
	for _, minor := range []int64{MaxMinor + 1, -MaxMinor - 1, 1 << 62} {
		if _, err := ToMinor(FromMinor(minor)); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("ToMinor(%d) error = %v, want ErrOutOfRange", minor, err)
		}
	}
}

func TestFromMinor(t *testing.T) {
	if got := FromMinor(7550); !got.Equal(decimal.RequireFromString("75.5")) {
		t.Errorf("FromMinor(7550) = %s, want 75.50", got)
	}
	if got := FromMinor(-1); got.String() != "-0.01" {
		t.Errorf("FromMinor(-1) = %s, want -0.01", got)
	}
}
