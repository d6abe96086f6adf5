package types

import "github.com/DoyleJ11/davinci-client/internal/engine"

type CreateRoomRequest struct {
	NumPlayers int `json:"num_players"`
}

type CreateRoomResponse struct {
	RoomID string `json:"roomid"`
}

type AttackRequest struct {
	TargetPlayer    int              `json:"target_player"`
	TargetHandIndex int              `json:"target_hand_index"`
	Guess           engine.GuessCode `json:"guess"`
}
