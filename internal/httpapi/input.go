package httpapi

import (
	"strconv"
	"strings"

	"github.com/DoyleJ11/davinci-client/internal/engine"
	"github.com/DoyleJ11/davinci-client/internal/types"
)

const (
	DefaultTargetPlayer    = 1
	DefaultTargetHandIndex = 1
	DefaultGuess           = 0
)

// ParseAttack turns free-form entries into an attack request. Entries never
// get rejected: anything unparsable, or zero, becomes the default.
func ParseAttack(rawPlayer, rawHandIndex, rawGuess string) types.AttackRequest {
	return types.AttackRequest{
		TargetPlayer:    ParseIntOr(rawPlayer, DefaultTargetPlayer),
		TargetHandIndex: ParseIntOr(rawHandIndex, DefaultTargetHandIndex),
		Guess:           engine.GuessCode(ParseIntOr(rawGuess, DefaultGuess)),
	}
}

// ParseIntOr reads an optional sign and the leading digits of raw, ignoring
// anything after them ("3rd" reads as 3).
func ParseIntOr(raw string, def int) int {
	s := strings.TrimSpace(raw)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return def
	}

	n, err := strconv.Atoi(s[:end])
	if err != nil || n == 0 {
		return def
	}
	return n
}
