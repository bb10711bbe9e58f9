package models

import (
	"encoding/json"
	"fmt"
)

// Result is the outcome label used by the persistence interface.
type Result string

const (
	ResultPlayer1 Result = "player1"
	ResultPlayer2 Result = "player2"
	ResultDraw    Result = "draw"
)

// Compare resolves one throw: 1 if a wins, -1 if b wins, 0 for a draw.
func Compare(a, b Gesture) int {
	switch {
	case a.Beats(b):
		return 1
	case b.Beats(a):
		return -1
	default:
		return 0
	}
}

// MatchOutcome is immutable once built; accessors hand out copies.
type MatchOutcome struct {
	match    Match
	gestures [2]Gesture // indexed like match.Players
	winner   ParticipantID
	draw     bool
	gameID   string
}

// ComputeOutcome builds the outcome for a match from each participant's gesture.
// A participant missing from gestures threw Unknown.
func ComputeOutcome(match Match, gestures map[ParticipantID]Gesture) MatchOutcome {
	g1 := gestures[match.Players[0]]
	g2 := gestures[match.Players[1]]
	o := MatchOutcome{match: match, gestures: [2]Gesture{g1, g2}}
	switch Compare(g1, g2) {
	case 1:
		o.winner = match.Players[0]
	case -1:
		o.winner = match.Players[1]
	default:
		o.draw = true
	}
	return o
}

// WithGameID returns a copy carrying the server-side game id.
func (o MatchOutcome) WithGameID(id string) MatchOutcome {
	o.gameID = id
	return o
}

func (o MatchOutcome) Match() Match           { return o.match }
func (o MatchOutcome) MatchID() MatchID       { return o.match.ID }
func (o MatchOutcome) IsDraw() bool           { return o.draw }
func (o MatchOutcome) GameID() string         { return o.gameID }
func (o MatchOutcome) Player1() ParticipantID { return o.match.Players[0] }
func (o MatchOutcome) Player2() ParticipantID { return o.match.Players[1] }

// Winner returns the winning participant; ok is false for a draw.
func (o MatchOutcome) Winner() (ParticipantID, bool) {
	return o.winner, !o.draw
}

// GestureOf returns the gesture recorded for p.
func (o MatchOutcome) GestureOf(p ParticipantID) Gesture {
	switch p {
	case o.match.Players[0]:
		return o.gestures[0]
	case o.match.Players[1]:
		return o.gestures[1]
	}
	return GestureUnknown
}

// Gestures returns a fresh participant→gesture map with exactly two entries.
func (o MatchOutcome) Gestures() map[ParticipantID]Gesture {
	return map[ParticipantID]Gesture{
		o.match.Players[0]: o.gestures[0],
		o.match.Players[1]: o.gestures[1],
	}
}

// Result maps the winner onto the player1/player2/draw labels, player1 being the initiator.
func (o MatchOutcome) Result() Result {
	switch {
	case o.draw:
		return ResultDraw
	case o.winner == o.match.Players[0]:
		return ResultPlayer1
	default:
		return ResultPlayer2
	}
}

// WinnerLabel renders the winner the way battle_end does: an id or "draw".
func (o MatchOutcome) WinnerLabel() string {
	if o.draw {
		return "draw"
	}
	return o.winner.String()
}

func (o MatchOutcome) String() string {
	return fmt.Sprintf("match=%s %s:%s %s:%s winner=%s",
		o.match.ID, o.match.Players[0], o.gestures[0], o.match.Players[1], o.gestures[1], o.WinnerLabel())
}

func (o MatchOutcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		MatchID  MatchID                   `json:"match_id"`
		Gestures map[ParticipantID]Gesture `json:"gestures"`
		Winner   string                    `json:"winner"`
		Result   Result                    `json:"result"`
		GameID   string                    `json:"game_id,omitempty"`
	}{
		MatchID:  o.match.ID,
		Gestures: o.Gestures(),
		Winner:   o.WinnerLabel(),
		Result:   o.Result(),
		GameID:   o.gameID,
	})
}
