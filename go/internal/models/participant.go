package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidParticipantID is returned when an id cannot be parsed into a ParticipantID.
var ErrInvalidParticipantID = errors.New("invalid participant id")

// ParticipantID identifies an authenticated user. Ids arrive on the wire both as JSON
// numbers and as strings; they are parsed once here and compared numerically everywhere else.
type ParticipantID int64

// ParseParticipantID parses the textual form of an id.
func ParseParticipantID(s string) (ParticipantID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidParticipantID, s)
	}
	return ParticipantID(v), nil
}

func (p ParticipantID) String() string {
	return strconv.FormatInt(int64(p), 10)
}

// MarshalJSON encodes the id as a JSON number.
func (p ParticipantID) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (p *ParticipantID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		id, err := ParseParticipantID(s)
		if err != nil {
			return err
		}
		*p = id
		return nil
	}
	id, err := ParseParticipantID(string(data))
	if err != nil {
		return err
	}
	*p = id
	return nil
}

// MarshalText lets ParticipantID be used as a JSON object key.
func (p ParticipantID) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText lets ParticipantID be decoded from a JSON object key.
func (p *ParticipantID) UnmarshalText(text []byte) error {
	id, err := ParseParticipantID(string(text))
	if err != nil {
		return err
	}
	*p = id
	return nil
}

// MatchID identifies a pairing of two participants, e.g. "3_7".
type MatchID string

func (m MatchID) String() string {
	return string(m)
}

// Match is the pairing announced by match_found. Players is always sorted ascending, so
// Players[0] is the designated initiator on both clients regardless of arrival order.
type Match struct {
	ID      MatchID
	Players [2]ParticipantID
}

// NewMatch validates and normalizes a match_found pairing.
func NewMatch(id MatchID, players []ParticipantID) (Match, error) {
	if id == "" {
		return Match{}, errors.New("match id is required")
	}
	if len(players) != 2 {
		return Match{}, fmt.Errorf("match %s: expected 2 players, got %d", id, len(players))
	}
	if players[0] == players[1] {
		return Match{}, fmt.Errorf("match %s: duplicate participant %s", id, players[0])
	}
	sorted := []ParticipantID{players[0], players[1]}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return Match{ID: id, Players: [2]ParticipantID{sorted[0], sorted[1]}}, nil
}

// Initiator returns the participant that makes the peer offer and reports the outcome.
func (m Match) Initiator() ParticipantID {
	return ElectInitiator(m.Players[0], m.Players[1])
}

// ElectInitiator is the pure election rule: the lower id wins.
func ElectInitiator(a, b ParticipantID) ParticipantID {
	if a < b {
		return a
	}
	return b
}

// Has reports whether p is one of the two participants.
func (m Match) Has(p ParticipantID) bool {
	return m.Players[0] == p || m.Players[1] == p
}

// Opponent returns the other participant.
func (m Match) Opponent(self ParticipantID) ParticipantID {
	if m.Players[0] == self {
		return m.Players[1]
	}
	return m.Players[0]
}
