package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/davinci-client/internal/engine"
)

var ErrMalformedFrame = errors.New("malformed frame")
var ErrUnknownEvent = errors.New("unknown event")

type EventName string

const (
	EvtPlayerRegistered   EventName = "player_registered"
	EvtGameStarted        EventName = "game_started"
	EvtYourHand           EventName = "your_hand"
	EvtYourTurn           EventName = "your_turn"
	EvtAttacked           EventName = "attacked"
	EvtStayed             EventName = "stayed"
	EvtAttackerCardChosen EventName = "attacker_card_chosen"
	EvtGameFinished       EventName = "game_finished"
)

type Event interface {
	Name() EventName
	isEvent()
}

type PlayerRegistered struct {
	Index int `json:"index"`
}

type GameStarted struct{}

type YourHand struct {
	Cards []engine.CardID `json:"cards"`
}

type YourTurn struct{}

type Attacked struct {
	Result          bool             `json:"result"`
	TargetPlayer    int              `json:"target_player"`
	TargetHandIndex int              `json:"target_hand_index"`
	Guess           engine.GuessCode `json:"guess"`
	Board           engine.Board     `json:"board"`
}

type Stayed struct {
	Hands []engine.Hand `json:"hands"`
}

type AttackerCardChosen struct {
	Card engine.CardID `json:"card"`
}

type GameFinished struct {
	Winner int `json:"winner"`
}

func (PlayerRegistered) isEvent()   {}
func (GameStarted) isEvent()        {}
func (YourHand) isEvent()           {}
func (YourTurn) isEvent()           {}
func (Attacked) isEvent()           {}
func (Stayed) isEvent()             {}
func (AttackerCardChosen) isEvent() {}
func (GameFinished) isEvent()       {}

func (PlayerRegistered) Name() EventName   { return EvtPlayerRegistered }
func (GameStarted) Name() EventName        { return EvtGameStarted }
func (YourHand) Name() EventName           { return EvtYourHand }
func (YourTurn) Name() EventName           { return EvtYourTurn }
func (Attacked) Name() EventName           { return EvtAttacked }
func (Stayed) Name() EventName             { return EvtStayed }
func (AttackerCardChosen) Name() EventName { return EvtAttackerCardChosen }
func (GameFinished) Name() EventName       { return EvtGameFinished }

// DecodeFrame parses one notification frame: a JSON array holding the event
// name and its payload.
func DecodeFrame(data []byte) (Event, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(pair) != 2 {
		return nil, fmt.Errorf("%w: want 2 elements, got %d", ErrMalformedFrame, len(pair))
	}

	var name EventName
	if err := json.Unmarshal(pair[0], &name); err != nil {
		return nil, fmt.Errorf("%w: event name: %v", ErrMalformedFrame, err)
	}

	payload := pair[1]
	switch name {
	case EvtPlayerRegistered:
		return decodePayload[PlayerRegistered](name, payload)
	case EvtGameStarted:
		return GameStarted{}, nil
	case EvtYourHand:
		return decodePayload[YourHand](name, payload)
	case EvtYourTurn:
		return YourTurn{}, nil
	case EvtAttacked:
		return decodePayload[Attacked](name, payload)
	case EvtStayed:
		return decodePayload[Stayed](name, payload)
	case EvtAttackerCardChosen:
		return decodePayload[AttackerCardChosen](name, payload)
	case EvtGameFinished:
		return decodePayload[GameFinished](name, payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

func decodePayload[T Event](name EventName, payload json.RawMessage) (Event, error) {
	var ev T
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, fmt.Errorf("%w: %s: empty payload", ErrMalformedFrame, name)
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, name, err)
	}
	return ev, nil
}

// EncodeFrame is the inverse of DecodeFrame.
func EncodeFrame(ev Event) ([]byte, error) {
	var payload any = ev
	switch ev.(type) {
	case GameStarted, YourTurn:
		payload = nil
	}
	return json.Marshal([]any{ev.Name(), payload})
}
