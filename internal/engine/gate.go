package engine

// Action gates. They read the snapshot only and never mutate it.

func HasFinished(s RoomSnapshot) bool {
	return s.Status == StatusPlaying && s.Board != nil && s.Board.Winner != nil
}

// CanAttack also requires the viewer to be seated: a spectator never holds
// the turn even when both indices are unset.
func CanAttack(s RoomSnapshot) bool {
	if s.Status != StatusPlaying || HasFinished(s) || s.Board == nil {
		return false
	}
	b := s.Board
	if b.CurrentTurn == nil || b.YourPlayerIndex == nil {
		return false
	}
	return *b.CurrentTurn == *b.YourPlayerIndex && b.AttackerCard != nil
}

func CanStay(s RoomSnapshot) bool {
	return CanAttack(s) && s.Board.CanStay
}

// CanRegister is evaluated once, on the first snapshot fetched for a room.
// Registration is closed once a game has a turn holder, or before the start
// when this session already holds a seat. The turn is read from the board
// and the seat from your_index.
func CanRegister(initial RoomSnapshot) bool {
	switch initial.Status {
	case StatusPlaying:
		return initial.Board == nil || initial.Board.CurrentTurn == nil
	case StatusNotStarted:
		return initial.YourIndex == nil
	default:
		return true
	}
}
