// Package message defines the queued TTS message record, its lanes, and the
// status state machine every component moves it through.
package message

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidLane is returned when a lane name is not mentions or bits.
	ErrInvalidLane = errors.New("message: invalid lane")

	// ErrInvalidStatus is returned when a status name is not recognized.
	ErrInvalidStatus = errors.New("message: invalid status")

	// ErrInvalidTransition is returned when a status change is not allowed
	// by the state machine.
	ErrInvalidTransition = errors.New("message: invalid status transition")
)

// Lane is an independent FIFO sub-queue.
type Lane string

const (
	// LaneMentions holds chat mentions. It is the only lane under a byte budget.
	LaneMentions Lane = "mentions"
	// LaneBits holds cheer messages carrying a bits amount.
	LaneBits Lane = "bits"
)

// Lanes lists every valid lane in display order.
var Lanes = []Lane{LaneMentions, LaneBits}

func (l Lane) String() string { return string(l) }

// Valid reports whether l is a known lane.
func (l Lane) Valid() bool {
	return l == LaneMentions || l == LaneBits
}

// ParseLane resolves a lane name. The singular "mention" used by chat
// bridges is accepted as an alias for mentions.
func ParseLane(s string) (Lane, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mentions", "mention":
		return LaneMentions, nil
	case "bits":
		return LaneBits, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLane, s)
	}
}

// Status is the lifecycle position of a message.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusReady      Status = "READY"
	StatusPlaying    Status = "PLAYING"
	StatusPlayed     Status = "PLAYED"
	StatusError      Status = "ERROR"
	StatusDeleted    Status = "DELETED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusReady,
	StatusPlaying,
	StatusPlayed,
	StatusError,
	StatusDeleted,
}

func (s Status) String() string { return string(s) }

// ParseStatus resolves a status name, case-insensitively.
func ParseStatus(s string) (Status, error) {
	up := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range Statuses {
		if st == up {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// transitions is the allowed forward edges of the lifecycle.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusDeleted},
	StatusProcessing: {StatusReady, StatusError, StatusDeleted},
	StatusReady:      {StatusPlaying, StatusDeleted},
	StatusPlaying:    {StatusPlayed},
	StatusError:      {StatusDeleted},
	StatusPlayed:     {},
	StatusDeleted:    {},
}

// CanTransition reports whether a message may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition wrapped with both states
// when CanTransition is false.
func ValidateTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Terminal reports whether no further transition leaves s. ERROR is not
// terminal because it can still be deleted.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Clearable reports whether a lane clear may delete a message in s.
func (s Status) Clearable() bool {
	return s == StatusPending || s == StatusReady
}

// Message is a single queued TTS request.
type Message struct {
	ID     int64
	Lane   Lane
	Sender string
	Text   string
	Amount *int64
	Status Status

	// AudioPath and AudioSize are set together when synthesis succeeds.
	// Reclamation clears AudioPath once the artifact is removed.
	AudioPath string
	AudioSize int64

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
	PlayedAt    *time.Time
	DeletedAt   *time.Time
}

// HasArtifact reports whether the message still references an audio file.
func (m *Message) HasArtifact() bool {
	return m.AudioPath != ""
}

// New describes a message to enqueue.
type New struct {
	Lane   string
	Sender string
	Text   string
	Amount *int64
}
