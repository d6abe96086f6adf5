package engine

// NewEmptySnapshot is what a store holds before the first fetch lands.
func NewEmptySnapshot() RoomSnapshot {
	return RoomSnapshot{Status: StatusNotStarted}
}

// FindCardPosition returns the 1-based slot of the first entry carrying tok,
// or 0 when no entry matches.
func FindCardPosition(hand Hand, tok Token) int {
	for i, entry := range hand {
		if entry.UniqueID == tok {
			return i + 1
		}
	}
	return 0
}

// Seat returns the value of an optional index and whether it was set.
func Seat(p *int) (int, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

func IntPtr(v int) *int { return &v }
