//go:build unix

package cpu

import (
	"errors"
	"testing"
)

func TestCheckDescriptorLimit(t *testing.T) {
	tests := []struct {
		name    string
		cur     uint64
		wantErr bool
	}{
		{"too low", 64, true},
		{"just below", MinFileDescriptors - 1, true},
		{"at minimum", MinFileDescriptors, false},
		{"unlimited", ^uint64(0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkDescriptorLimit(tt.cur)
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, ErrUnsupported) {
				t.Errorf("expected ErrUnsupported, got %v", err)
			}
		})
	}
}
