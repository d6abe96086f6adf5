package engine

import "fmt"

// CardID packs a dealt card: bit 0 is the color, the rest is the rank.
type CardID int

// GuessCode uses the CardID layout but comes from user input.
type GuessCode int

const (
	MaxRank = 11
	MaxCode = 2*MaxRank + 1
)

// Inputs outside [0, MaxCode] are a caller error and are not checked.

func EncodeCard(rank int, c Color) CardID {
	return CardID(2*rank + int(c))
}

func DecodeCard(id CardID) (int, Color) {
	return decode(int(id))
}

func EncodeGuess(rank int, c Color) GuessCode {
	return GuessCode(2*rank + int(c))
}

func DecodeGuess(code GuessCode) (int, Color) {
	return decode(int(code))
}

func decode(n int) (int, Color) {
	if n%2 == 0 {
		return n / 2, Black
	}
	return n / 2, White
}

func (id CardID) Rank() int {
	r, _ := DecodeCard(id)
	return r
}

func (id CardID) Color() Color {
	_, c := DecodeCard(id)
	return c
}

func (id CardID) String() string {
	return fmt.Sprintf("%s %d", id.Color(), id.Rank())
}

func (g GuessCode) String() string {
	r, c := DecodeGuess(g)
	return fmt.Sprintf("%s %d", c, r)
}
