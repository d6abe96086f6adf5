package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrBadColor = errors.New("invalid color")
var ErrBadToken = errors.New("invalid unique id")

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusPlaying    Status = "playing"
)

type Color int

const (
	Black Color = 0
	White Color = 1
)

func (c Color) String() string {
	if c == White {
		return "white"
	}
	return "black"
}

func (c Color) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts either the color name or its numeric bit.
func (c *Color) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		switch name {
		case "black":
			*c = Black
		case "white":
			*c = White
		default:
			return fmt.Errorf("%w: %q", ErrBadColor, name)
		}
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrBadColor, data)
	}
	if n != 0 && n != 1 {
		return fmt.Errorf("%w: %d", ErrBadColor, n)
	}
	*c = Color(n)
	return nil
}

// Token identifies one physical card across snapshots. It only supports
// equality: no ordering, no arithmetic.
type Token struct {
	v string
}

func NewToken(s string) Token { return Token{v: s} }

func (t Token) IsZero() bool { return t.v == "" }

func (t Token) String() string { return t.v }

func (t Token) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.v)
}

// UnmarshalJSON keeps strings verbatim and numbers in their literal form.
func (t *Token) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = Token{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Token{v: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrBadToken, data)
	}
	*t = Token{v: n.String()}
	return nil
}

type RoomSnapshot struct {
	Status     Status `json:"status"`
	NumPlayers int    `json:"num_players"`
	Registered int    `json:"registered"`
	YourIndex  *int   `json:"your_index"`
	Board      *Board `json:"board"`
}

type Board struct {
	NumPlayers               int           `json:"num_players"`
	CurrentTurn              *int          `json:"current_turn"`
	YourPlayerIndex          *int          `json:"your_player_index"`
	AttackerCard             *AttackerCard `json:"attacker_card"` // nil when absent
	DeckTop                  *ColorOnly    `json:"deck_top"`
	CanStay                  bool          `json:"can_stay"`
	Winner                   *int          `json:"winner"`
	Hands                    []Hand        `json:"hands"`
	YourHand                 []CardID      `json:"your_hand"`
	YourAttackerCardFromDeck *CardID       `json:"your_attacker_card_from_deck"`
}

// AttackerCard is the card staged by the turn holder. FullCard is only
// populated for the owning client.
type AttackerCard struct {
	Color    Color   `json:"color"`
	FullCard *CardID `json:"full_card"`
	UniqueID Token   `json:"unique_id"`
}

type ColorOnly struct {
	Color Color `json:"color"`
}

type Hand []CardEntry

type CardEntry struct {
	CardID   CardID `json:"card_id"`
	Hidden   bool   `json:"hidden"`
	UniqueID Token  `json:"unique_id"`
}

// HandOf returns the hand of a 1-based player number.
func (b *Board) HandOf(player int) (Hand, bool) {
	if b == nil || player < 1 || player > len(b.Hands) {
		return nil, false
	}
	return b.Hands[player-1], true
}
