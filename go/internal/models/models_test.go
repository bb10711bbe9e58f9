package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCompareExhaustiveGrid(t *testing.T) {
	draws, firstWins, secondWins := 0, 0, 0
	for _, a := range Gestures {
		for _, b := range Gestures {
			switch Compare(a, b) {
			case 0:
				draws++
				if a != b {
					t.Fatalf("%s vs %s: got draw", a, b)
				}
			case 1:
				firstWins++
			case -1:
				secondWins++
			}
			if Compare(a, b) != -Compare(b, a) {
				t.Fatalf("Compare(%s,%s) not antisymmetric", a, b)
			}
		}
	}
	if draws != 3 || firstWins != 3 || secondWins != 3 {
		t.Fatalf("draws=%d firstWins=%d secondWins=%d, want 3/3/3", draws, firstWins, secondWins)
	}
}

func TestComputeOutcome(t *testing.T) {
	match, err := NewMatch("3_7", []ParticipantID{7, 3})
	if err != nil {
		t.Fatalf("new match: %v", err)
	}

	tests := []struct {
		name       string
		g3, g7     Gesture
		wantDraw   bool
		wantWinner ParticipantID
		wantResult Result
	}{
		{"rock beats scissors", GestureRock, GestureScissors, false, 3, ResultPlayer1},
		{"paper paper draws", GesturePaper, GesturePaper, true, 0, ResultDraw},
		{"scissors beats paper", GesturePaper, GestureScissors, false, 7, ResultPlayer2},
		{"known beats unknown", GestureUnknown, GestureRock, false, 7, ResultPlayer2},
		{"unknown vs unknown draws", GestureUnknown, GestureUnknown, true, 0, ResultDraw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := ComputeOutcome(match, map[ParticipantID]Gesture{3: tt.g3, 7: tt.g7})
			if o.IsDraw() != tt.wantDraw {
				t.Fatalf("draw = %v, want %v", o.IsDraw(), tt.wantDraw)
			}
			if w, ok := o.Winner(); ok && w != tt.wantWinner {
				t.Fatalf("winner = %s, want %s", w, tt.wantWinner)
			}
			if o.Result() != tt.wantResult {
				t.Fatalf("result = %s, want %s", o.Result(), tt.wantResult)
			}
			if len(o.Gestures()) != 2 {
				t.Fatalf("gestures has %d entries, want 2", len(o.Gestures()))
			}
		})
	}
}

func TestOutcomeGesturesIsACopy(t *testing.T) {
	match, _ := NewMatch("1_2", []ParticipantID{1, 2})
	o := ComputeOutcome(match, map[ParticipantID]Gesture{1: GestureRock, 2: GesturePaper})
	g := o.Gestures()
	g[1] = GestureScissors
	if o.GestureOf(1) != GestureRock {
		t.Fatalf("outcome mutated through Gestures() map")
	}
}

func TestElectionIsOrderIndependent(t *testing.T) {
	a, _ := NewMatch("3_7", []ParticipantID{7, 3})
	b, _ := NewMatch("3_7", []ParticipantID{3, 7})
	if a.Initiator() != 3 || b.Initiator() != 3 {
		t.Fatalf("initiator = %s/%s, want 3", a.Initiator(), b.Initiator())
	}
	if a.Opponent(3) != 7 || a.Opponent(7) != 3 {
		t.Fatalf("opponent lookup broken: %+v", a)
	}
}

func TestNewMatchRejectsBadPairs(t *testing.T) {
	if _, err := NewMatch("x", []ParticipantID{1}); err == nil {
		t.Fatal("expected error for single player")
	}
	if _, err := NewMatch("x", []ParticipantID{4, 4}); err == nil {
		t.Fatal("expected error for duplicate player")
	}
	if _, err := NewMatch("", []ParticipantID{1, 2}); err == nil {
		t.Fatal("expected error for empty match id")
	}
}

func TestParticipantIDDecodesNumbersAndStrings(t *testing.T) {
	var v struct {
		Players  []ParticipantID          `json:"players"`
		Gestures map[ParticipantID]string `json:"gestures"`
	}
	raw := `{"players":[3,"7"],"gestures":{"3":"Rock","7":"none"}}`
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.Players[0] != 3 || v.Players[1] != 7 {
		t.Fatalf("players = %v", v.Players)
	}
	if v.Gestures[7] != "none" {
		t.Fatalf("gestures = %v", v.Gestures)
	}

	var bad ParticipantID
	err := json.Unmarshal([]byte(`"abc"`), &bad)
	if !errors.Is(err, ErrInvalidParticipantID) {
		t.Fatalf("err = %v, want ErrInvalidParticipantID", err)
	}
}

func TestNormalizeGesture(t *testing.T) {
	tests := map[string]Gesture{
		"Rock":           GestureRock,
		" paper ":        GesturePaper,
		"SCISSORS":       GestureScissors,
		NoDetectionLabel: GestureUnknown,
		"none":           GestureUnknown,
		"Unknown":        GestureUnknown,
		"lizard":         GestureUnknown,
		"":               GestureUnknown,
	}
	for label, want := range tests {
		if got := NormalizeGesture(label); got != want {
			t.Errorf("NormalizeGesture(%q) = %s, want %s", label, got, want)
		}
	}
}

func TestGestureWireForm(t *testing.T) {
	b, _ := json.Marshal(GestureUnknown)
	if string(b) != `"none"` {
		t.Fatalf("unknown encodes as %s", b)
	}
	var g Gesture
	if err := json.Unmarshal([]byte(`null`), &g); err != nil || g != GestureUnknown {
		t.Fatalf("null decodes as %s, err %v", g, err)
	}
}
