// Package types holds the wire shapes exchanged with the room collaborator.
//
// Client -> Server (REST, under /api/v1/room)
// CreateRoom: POST /
//   num_players: 2..4
//   -> roomid: string
//
// FetchRoom: GET /{roomid}
//   -> RoomSnapshot (engine package)
//
// Register: POST /{roomid}/register (no body)
//
// Attack: POST /{roomid}/attack
//   target_player: number (1-based)
//   target_hand_index: number (1-based)
//   guess: number (2*rank + color, white = 1)
//
// Stay: POST /{roomid}/stay (no body)
//
// Commands answer 2xx on acceptance and carry no body the client reads.
//
// Server -> Client (socket at /api/v1/room/{roomid}/ws)
// Every frame is a two element array: [name, payload].
//
// player_registered: { index: number }
// game_started:      null
// your_hand:         { cards: number[] }
// your_turn:         null
// attacked:          { result: boolean, target_player, target_hand_index,
//                      guess, board: Board }
// stayed:            { hands: Hand[] }
// attacker_card_chosen: { card: number }
// game_finished:     { winner: number }
package types
