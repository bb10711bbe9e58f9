package session

import (
	"errors"
	"fmt"

	"github.com/mcdev12/handduel/go/internal/models"
)

// State is the duel lifecycle position.
type State int

const (
	StateIdle State = iota
	StateQueued
	StateMatched
	StateReadyPending
	StateBattling
	StateResolving // countdown over, waiting for battle_end
	StateResolved
	StateReplayOffered
)

var stateNames = map[State]string{
	StateIdle:          "idle",
	StateQueued:        "queued",
	StateMatched:       "matched",
	StateReadyPending:  "ready_pending",
	StateBattling:      "battling",
	StateResolving:     "resolving",
	StateResolved:      "resolved",
	StateReplayOffered: "replay_offered",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrInvalidTransition is returned by a command that does not apply in the current state.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrStopped is returned by commands after Run has exited.
var ErrStopped = errors.New("session stopped")

// ErrorKind classifies failures surfaced to the Observer. None of them stop the session.
type ErrorKind int

const (
	ErrorTransport ErrorKind = iota
	ErrorDetection
	ErrorSubmission
	ErrorProtocol
	ErrorMedia
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTransport:
		return "transport"
	case ErrorDetection:
		return "detection"
	case ErrorSubmission:
		return "submission"
	case ErrorProtocol:
		return "protocol"
	case ErrorMedia:
		return "media"
	default:
		return "unknown"
	}
}

type Failure struct {
	Kind ErrorKind
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s error: %v", f.Kind, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	State      State                  `json:"state"`
	Self       models.ParticipantID   `json:"self"`
	MatchID    models.MatchID         `json:"match_id,omitempty"`
	Players    []models.ParticipantID `json:"players,omitempty"`
	Reporter   bool                   `json:"reporter"`
	Remaining  int                    `json:"remaining"`
	LastKnown  models.Gesture         `json:"last_known_gesture"`
	Submitted  *models.Gesture        `json:"submitted_gesture,omitempty"`
	Blackout   bool                   `json:"blackout"`
	Outcome    *models.MatchOutcome   `json:"outcome,omitempty"`
	Connected  bool                   `json:"connected"`
	RoundToken string                 `json:"round,omitempty"`
}
