package main

// Messages coming from clients. Fields beyond Action are optional and
// only read by the matching action; a missing required field makes the
// action a no-op.
type ClientAction struct {
	Action         string   `json:"action"`                    // "start_game", "choose_number", "new_round", "stop_game", "clear_history", "set_multiplier", "remove_player", "force_finish_round"
	Number         *float64 `json:"number,omitempty"`          // choose_number
	Multiplier     *float64 `json:"multiplier,omitempty"`      // set_multiplier
	TargetNickname string   `json:"target_nickname,omitempty"` // remove_player
}

// PlayerState is the outward view of one player. Picks stay hidden
// until the round is over.
type PlayerState struct {
	Nickname  string `json:"nickname"`
	IsAdmin   bool   `json:"is_admin"`
	HasChosen bool   `json:"has_chosen"`
	Number    *int   `json:"number"`
	Connected bool   `json:"connected"`
}

// RoomStateMessage is broadcast to every session after each mutation,
// and once immediately on a successful join.
type RoomStateMessage struct {
	Type         string        `json:"type"` // "room_state"
	RoomID       int           `json:"room_id"`
	RoomName     string        `json:"room_name"`
	Players      []PlayerState `json:"players"`
	GameStatus   string        `json:"game_status"`
	CurrentRound int           `json:"current_round"`
	Multiplier   float64       `json:"multiplier"`
	GameHistory  []GameRound   `json:"game_history"`
}

// ErrorMessage is sent to a single client when its join is rejected,
// immediately before the channel is closed.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// snapshot projects the room into its broadcast form. It first heals
// the admin invariant, so a room never broadcasts without a connected
// admin while anyone is connected. Projection rules: a disconnected
// player is never shown as admin, numbers are revealed only once the
// round is over, and players who never picked are omitted from a
// results view entirely.
func (r *Room) snapshot() RoomStateMessage {
	if !r.hasConnectedAdmin() {
		for _, n := range r.order {
			if p := r.Players[n]; p.Connected {
				p.IsAdmin = true
				break
			}
		}
	}

	players := make([]PlayerState, 0, len(r.Players))
	for _, n := range r.order {
		p := r.Players[n]

		if r.Status == statusResults && p.Number == nil {
			continue
		}

		var number *int
		if r.Status == statusResults {
			number = p.Number
		}

		players = append(players, PlayerState{
			Nickname:  p.Nickname,
			IsAdmin:   p.IsAdmin && p.Connected,
			HasChosen: p.Number != nil,
			Number:    number,
			Connected: p.Connected,
		})
	}

	history := make([]GameRound, len(r.History))
	copy(history, r.History)

	return RoomStateMessage{
		Type:         "room_state",
		RoomID:       r.ID,
		RoomName:     r.Name,
		Players:      players,
		GameStatus:   r.Status,
		CurrentRound: r.CurrentRound,
		Multiplier:   r.Multiplier,
		GameHistory:  history,
	}
}
