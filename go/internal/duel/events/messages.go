package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mcdev12/handduel/go/internal/models"
)

// Action names the kind of message on the coordination channel.
type Action string

// Client → server actions
const (
	ActionJoin      Action = "join"
	ActionReady     Action = "ready"
	ActionUnready   Action = "unready"
	ActionPlayAgain Action = "play_again"
	ActionSignal    Action = "signal"
	ActionGesture   Action = "gesture"
)

// Server → client actions
const (
	ActionStatus            Action = "status"
	ActionMatchFound        Action = "match_found"
	ActionBattleStart       Action = "battle_start"
	ActionBlackout          Action = "blackout"
	ActionBattleEnd         Action = "battle_end"
	ActionPlayerUnready     Action = "player_unready"
	ActionReplay            Action = "replay"
	ActionDisconnect        Action = "disconnect"
	ActionOpponentPlayAgain Action = "opponent_play_again"
)

// ErrUnknownAction is returned by Decode for actions this client does not understand.
var ErrUnknownAction = errors.New("unknown action")

// Outbound is every client → server message. Unused fields are omitted on the wire.
type Outbound struct {
	Action           Action                `json:"action"`
	UserID           *models.ParticipantID `json:"user_id,omitempty"`
	Data             json.RawMessage       `json:"data,omitempty"`
	Gesture          *models.Gesture       `json:"gesture,omitempty"`
	LastValidGesture *models.Gesture       `json:"lastValidGesture,omitempty"`
}

func withUser(action Action, self models.ParticipantID) Outbound {
	return Outbound{Action: action, UserID: &self}
}

func Join(self models.ParticipantID) Outbound      { return withUser(ActionJoin, self) }
func Ready(self models.ParticipantID) Outbound     { return withUser(ActionReady, self) }
func Unready(self models.ParticipantID) Outbound   { return withUser(ActionUnready, self) }
func PlayAgain(self models.ParticipantID) Outbound { return withUser(ActionPlayAgain, self) }

// Signal wraps an opaque peer-link payload for relay.
func Signal(data json.RawMessage) Outbound {
	return Outbound{Action: ActionSignal, Data: data}
}

// SubmitGesture reports the participant's resolved gesture at the end of the battle window.
func SubmitGesture(self models.ParticipantID, g, lastValid models.Gesture) Outbound {
	return Outbound{Action: ActionGesture, UserID: &self, Gesture: &g, LastValidGesture: &lastValid}
}

// Inbound is any decoded server → client message.
type Inbound interface {
	Action() Action
}

type Status struct {
	Message string `json:"message"`
}

type MatchFound struct {
	MatchID models.MatchID         `json:"match_id"`
	Players []models.ParticipantID `json:"players"`
}

type SignalData struct {
	Data json.RawMessage `json:"data"`
}

type BattleStart struct {
	Duration int `json:"duration"`
}

type Blackout struct {
	Duration int `json:"duration"`
}

type BattleEnd struct {
	Winner   Winner                                  `json:"winner"`
	Gestures map[models.ParticipantID]models.Gesture `json:"gestures"`
	GameID   json.RawMessage                         `json:"game_id,omitempty"`
}

type PlayerUnready struct {
	UserID *models.ParticipantID `json:"user_id,omitempty"`
}

type Replay struct {
	Message string `json:"message"`
}

type Disconnect struct {
	Message string `json:"message"`
}

type OpponentPlayAgain struct {
	Message string `json:"message"`
}

func (Status) Action() Action            { return ActionStatus }
func (MatchFound) Action() Action        { return ActionMatchFound }
func (SignalData) Action() Action        { return ActionSignal }
func (BattleStart) Action() Action       { return ActionBattleStart }
func (Blackout) Action() Action          { return ActionBlackout }
func (BattleEnd) Action() Action         { return ActionBattleEnd }
func (PlayerUnready) Action() Action     { return ActionPlayerUnready }
func (Replay) Action() Action            { return ActionReplay }
func (Disconnect) Action() Action        { return ActionDisconnect }
func (OpponentPlayAgain) Action() Action { return ActionOpponentPlayAgain }

// GameIDString returns the optional persisted game id as text, or "".
func (b BattleEnd) GameIDString() string {
	raw := bytes.TrimSpace(b.GameID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Winner is battle_end's winner field: a participant id or the literal "draw".
type Winner struct {
	Draw bool
	ID   models.ParticipantID
}

func (w *Winner) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil && strings.EqualFold(strings.TrimSpace(s), "draw") {
		*w = Winner{Draw: true}
		return nil
	}
	var id models.ParticipantID
	if err := id.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("winner: %w", err)
	}
	*w = Winner{ID: id}
	return nil
}

func (w Winner) MarshalJSON() ([]byte, error) {
	if w.Draw {
		return []byte(`"draw"`), nil
	}
	return w.ID.MarshalJSON()
}

// Decode parses one server frame into its typed message.
func Decode(data []byte) (Inbound, error) {
	var envelope struct {
		Action Action `json:"action"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch envelope.Action {
	case ActionStatus:
		return decodeAs[Status](data)
	case ActionMatchFound:
		return decodeAs[MatchFound](data)
	case ActionSignal:
		return decodeAs[SignalData](data)
	case ActionBattleStart:
		return decodeAs[BattleStart](data)
	case ActionBlackout:
		return decodeAs[Blackout](data)
	case ActionBattleEnd:
		return decodeAs[BattleEnd](data)
	case ActionPlayerUnready:
		return decodeAs[PlayerUnready](data)
	case ActionReplay:
		return decodeAs[Replay](data)
	case ActionDisconnect:
		return decodeAs[Disconnect](data)
	case ActionOpponentPlayAgain:
		return decodeAs[OpponentPlayAgain](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, envelope.Action)
	}
}

func decodeAs[T Inbound](data []byte) (Inbound, error) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", payload.Action(), err)
	}
	return payload, nil
}

// Encode serializes an inbound message with its action tag. Used by the coordination fake.
func Encode(msg Inbound) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	action, _ := json.Marshal(msg.Action())
	fields["action"] = action
	return json.Marshal(fields)
}
