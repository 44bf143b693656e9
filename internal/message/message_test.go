package message

import (
	"errors"
	"testing"
)

// TestParseLane tests lane name resolution and the singular alias.
func TestParseLane(t *testing.T) {
	tests := []struct {
		in      string
		want    Lane
		wantErr bool
	}{
		{"mentions", LaneMentions, false},
		{"mention", LaneMentions, false},
		{" Bits ", LaneBits, false},
		{"subs", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLane(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidLane) {
					t.Fatalf("ParseLane(%q) error = %v, want ErrInvalidLane", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLane(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLane(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range Statuses {
		got, err := ParseStatus(string(s))
		if err != nil || got != s {
			t.Errorf("ParseStatus(%q) = %v, %v", s, got, err)
		}
	}
	if got, err := ParseStatus("ready"); err != nil || got != StatusReady {
		t.Errorf("ParseStatus(ready) = %v, %v", got, err)
	}
	if _, err := ParseStatus("QUEUED"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("ParseStatus(QUEUED) error = %v, want ErrInvalidStatus", err)
	}
}

// TestCanTransition walks the full lifecycle table.
func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusProcessing, StatusReady, true},
		{StatusProcessing, StatusError, true},
		{StatusReady, StatusPlaying, true},
		{StatusPlaying, StatusPlayed, true},

		{StatusPending, StatusDeleted, true},
		{StatusProcessing, StatusDeleted, true},
		{StatusReady, StatusDeleted, true},
		{StatusError, StatusDeleted, true},
		{StatusPlaying, StatusDeleted, false},
		{StatusPlayed, StatusDeleted, false},

		// no skipping and no going back
		{StatusPending, StatusReady, false},
		{StatusReady, StatusPlayed, false},
		{StatusReady, StatusPending, false},
		{StatusPlayed, StatusPlaying, false},
		{StatusError, StatusPending, false},
		{StatusDeleted, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
			err := ValidateTransition(tt.from, tt.to)
			if tt.want && err != nil {
				t.Errorf("ValidateTransition unexpected error: %v", err)
			}
			if !tt.want && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("ValidateTransition error = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	terminal := map[Status]bool{StatusPlayed: true, StatusDeleted: true}
	clearable := map[Status]bool{StatusPending: true, StatusReady: true}

	for _, s := range Statuses {
		if got := s.Terminal(); got != terminal[s] {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, terminal[s])
		}
		if got := s.Clearable(); got != clearable[s] {
			t.Errorf("%s.Clearable() = %v, want %v", s, got, clearable[s])
		}
	}
}
