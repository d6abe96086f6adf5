package view

import (
	"fmt"
	"strings"

	"github.com/DoyleJ11/davinci-client/internal/engine"
	"github.com/DoyleJ11/davinci-client/internal/types"
	"github.com/dustin/go-humanize"
)

// Description is the human-readable account of one event.
type Description struct {
	Event types.EventName
	Text  string
	// Relocated reports whether the event moved the prior attacker card
	// into a hand. Position is then its 1-based slot there, 0 if not found.
	Relocated bool
	Position  int
}

func (d Description) String() string { return d.Text }

// Describe explains ev against the snapshot that was on display when it
// arrived. The attacker is the prior snapshot's turn holder.
func Describe(prior engine.RoomSnapshot, ev types.Event) Description {
	d := Description{Event: ev.Name()}
	attacker, hasAttacker := priorAttacker(prior)

	switch e := ev.(type) {
	case types.PlayerRegistered:
		d.Text = fmt.Sprintf("player %d registered", e.Index)

	case types.GameStarted:
		d.Text = "game started"

	case types.YourHand:
		cards := make([]string, len(e.Cards))
		for i, c := range e.Cards {
			cards[i] = c.String()
		}
		d.Text = "your hand: " + strings.Join(cards, ", ")

	case types.YourTurn:
		d.Text = "your turn"

	case types.Attacked:
		rank, color := engine.DecodeGuess(e.Guess)
		outcome := "miss"
		if e.Result {
			outcome = "hit"
		}
		d.Text = fmt.Sprintf("%s guessed player %d's %s card is %s %d: %s",
			playerName(attacker, hasAttacker), e.TargetPlayer,
			humanize.Ordinal(e.TargetHandIndex), color, rank, outcome)

		if !e.Result {
			d.relocate(prior, attacker, hasAttacker, e.Board.Hands)
		}

	case types.Stayed:
		d.Text = fmt.Sprintf("%s stayed", playerName(attacker, hasAttacker))
		d.relocate(prior, attacker, hasAttacker, e.Hands)

	case types.AttackerCardChosen:
		d.Text = fmt.Sprintf("you drew %s as your attacker card", e.Card)

	case types.GameFinished:
		d.Text = fmt.Sprintf("player %d won", e.Winner)

	default:
		d.Text = string(ev.Name())
	}
	return d
}

// relocate finds where the prior attacker card landed in the attacker's
// new hand. Nothing happens when no attacker card was staged.
func (d *Description) relocate(prior engine.RoomSnapshot, attacker int, hasAttacker bool, hands []engine.Hand) {
	if prior.Board == nil || prior.Board.AttackerCard == nil {
		return
	}
	d.Relocated = true

	var hand engine.Hand
	if hasAttacker {
		hand, _ = (&engine.Board{Hands: hands}).HandOf(attacker)
	}
	d.Position = engine.FindCardPosition(hand, prior.Board.AttackerCard.UniqueID)

	if d.Position == 0 {
		d.Text += "; attacker card position 0 (not found in hand)"
		return
	}
	d.Text += fmt.Sprintf("; attacker card revealed as the %s card of %s",
		humanize.Ordinal(d.Position), playerName(attacker, hasAttacker))
}

func priorAttacker(prior engine.RoomSnapshot) (int, bool) {
	if prior.Board == nil {
		return 0, false
	}
	return engine.Seat(prior.Board.CurrentTurn)
}

func playerName(p int, ok bool) string {
	if !ok {
		return "a player"
	}
	return fmt.Sprintf("player %d", p)
}
