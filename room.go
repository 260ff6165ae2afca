package main

import (
	"errors"
	"math"
	"time"
)

// Statuses a room cycles through. There is no terminal state; a room
// loops between these until it empties and resets.
const (
	statusWaiting  = "waiting"
	statusChoosing = "choosing"
	statusResults  = "results"
)

var errGameInProgress = errors.New("the game has already started, unable to join now")

// Player holds the data we store server-side for one room occupant.
// A nil Number means the player has not picked this round.
type Player struct {
	Nickname  string
	IsAdmin   bool
	Number    *int
	Connected bool
}

// GameRound is an immutable record of one completed round. Average and
// target are rounded to two decimals for display; winner selection uses
// the full-precision target.
type GameRound struct {
	RoundNumber  int            `json:"round_number"`
	PlayersData  map[string]int `json:"players_data"`
	TotalSum     float64        `json:"total_sum"`
	Average      float64        `json:"average"`
	TargetNumber float64        `json:"target_number"`
	Winner       string         `json:"winner"`
	Timestamp    string         `json:"timestamp"`
}

// GameSettings holds the deployment knobs the engine consults.
type GameSettings struct {
	MinPlayers    int
	Multiplier    float64
	MultiplierMin float64
	MultiplierMax float64
}

// Room is the authoritative state of one game room. All mutation goes
// through the methods below; callers are responsible for serializing
// access (see hub.run).
//
// The order slice preserves roster insertion order, which decides both
// admin promotion and winner tie-breaks.
type Room struct {
	ID           int
	Name         string
	Players      map[string]*Player
	Status       string
	CurrentRound int
	History      []GameRound
	Multiplier   float64
	Settings     GameSettings

	order         []string
	forceFinished bool
}

func newRoom(id int, name string, settings GameSettings) *Room {
	return &Room{
		ID:         id,
		Name:       name,
		Players:    make(map[string]*Player),
		Status:     statusWaiting,
		Multiplier: settings.Multiplier,
		Settings:   settings,
	}
}

// reset returns the room to its initial empty state. Invoked when the
// last connected player leaves.
func (r *Room) reset() {
	r.Players = make(map[string]*Player)
	r.order = nil
	r.Status = statusWaiting
	r.CurrentRound = 0
	r.History = nil
	r.Multiplier = r.Settings.Multiplier
	r.forceFinished = false
}

func (r *Room) connectedCount() int {
	count := 0
	for _, p := range r.Players {
		if p.Connected {
			count++
		}
	}
	return count
}

func (r *Room) hasConnectedAdmin() bool {
	for _, p := range r.Players {
		if p.Connected && p.IsAdmin {
			return true
		}
	}
	return false
}

// connectedPlayer returns the named player only if they are currently
// connected; actions from unknown or disconnected senders are no-ops.
func (r *Room) connectedPlayer(nickname string) *Player {
	p, ok := r.Players[nickname]
	if !ok || !p.Connected {
		return nil
	}
	return p
}

func (r *Room) isAdmin(nickname string) bool {
	p := r.connectedPlayer(nickname)
	return p != nil && p.IsAdmin
}

// Join adds a new player, or reconnects a known one with their previous
// admin status intact. Joining an active room under an unknown nickname
// is the one rejection the engine surfaces as an error.
func (r *Room) Join(nickname string) error {
	p, known := r.Players[nickname]

	if !known && r.Status != statusWaiting {
		return errGameInProgress
	}

	if known {
		p.Connected = true
	} else {
		r.Players[nickname] = &Player{
			Nickname:  nickname,
			IsAdmin:   !r.hasConnectedAdmin(),
			Connected: true,
		}
		r.order = append(r.order, nickname)
	}

	// Only one admin may exist among all players, connected or not;
	// keep the first in roster order.
	found := false
	for _, n := range r.order {
		q := r.Players[n]
		if q.IsAdmin {
			if found {
				q.IsAdmin = false
			}
			found = true
		}
	}

	return nil
}

// Leave marks a player disconnected, hands admin to the next connected
// player in roster order if needed, and resets the room entirely once
// nobody is left connected. Safe to call more than once.
func (r *Room) Leave(nickname string) {
	p, ok := r.Players[nickname]
	if !ok {
		return
	}

	wasAdmin := p.IsAdmin
	p.Connected = false

	if wasAdmin && !r.hasConnectedAdmin() {
		for _, n := range r.order {
			if q := r.Players[n]; q.Connected {
				q.IsAdmin = true
				break
			}
		}
	}

	if r.connectedCount() == 0 {
		r.reset()
	}
}

// beginRound shares the transition used by StartGame and NewRound.
func (r *Room) beginRound() {
	r.Status = statusChoosing
	r.CurrentRound++
	r.forceFinished = false
	for _, p := range r.Players {
		p.Number = nil
	}
}

func (r *Room) StartGame(actor string) bool {
	if !r.isAdmin(actor) || r.Status != statusWaiting || r.connectedCount() < r.Settings.MinPlayers {
		return false
	}
	r.beginRound()
	return true
}

// NewRound restarts the choosing phase from any status.
func (r *Room) NewRound(actor string) bool {
	if !r.isAdmin(actor) {
		return false
	}
	r.beginRound()
	return true
}

// ChooseNumber records a whole number in [0,100] for the acting player.
// A second pick in the same round is dropped. Once every connected
// player has picked, the round finalizes.
func (r *Room) ChooseNumber(actor string, value float64) bool {
	p := r.connectedPlayer(actor)
	if p == nil || r.Status != statusChoosing || r.forceFinished {
		return false
	}
	if value < 0 || value > 100 || value != math.Trunc(value) {
		return false
	}
	if p.Number != nil {
		return false
	}

	n := int(value)
	p.Number = &n

	if r.allConnectedChose() {
		r.finalizeRound()
	}
	return true
}

func (r *Room) allConnectedChose() bool {
	any := false
	for _, p := range r.Players {
		if !p.Connected {
			continue
		}
		if p.Number == nil {
			return false
		}
		any = true
	}
	return any
}

func (r *Room) StopGame(actor string) bool {
	if !r.isAdmin(actor) {
		return false
	}

	r.Status = statusWaiting
	for _, p := range r.Players {
		p.Number = nil
	}

	// Keep at most one admin among connected players.
	found := false
	for _, n := range r.order {
		q := r.Players[n]
		if q.Connected && q.IsAdmin {
			if found {
				q.IsAdmin = false
			}
			found = true
		}
	}

	return true
}

func (r *Room) ClearHistory(actor string) bool {
	if !r.isAdmin(actor) {
		return false
	}
	r.History = nil
	return true
}

func (r *Room) SetMultiplier(actor string, value float64) bool {
	if !r.isAdmin(actor) || r.Status != statusWaiting {
		return false
	}
	if value < r.Settings.MultiplierMin || value > r.Settings.MultiplierMax {
		return false
	}
	r.Multiplier = value
	return true
}

// RemovePlayer marks another player as disconnected mid-round. If the
// remaining connected players have all picked, the round finalizes.
func (r *Room) RemovePlayer(actor, target string) bool {
	if !r.isAdmin(actor) || r.Status != statusChoosing || target == actor {
		return false
	}
	p, ok := r.Players[target]
	if !ok {
		return false
	}

	p.Connected = false

	if r.allConnectedChose() {
		r.finalizeRound()
	}
	return true
}

// ForceFinishRound ends the choosing phase early. Players who never
// picked are marked disconnected so they are excluded from the result
// and from later rounds until they rejoin.
func (r *Room) ForceFinishRound(actor string) bool {
	if !r.isAdmin(actor) || r.Status != statusChoosing {
		return false
	}

	r.forceFinished = true
	for _, p := range r.Players {
		if p.Connected && p.Number == nil {
			p.Connected = false
		}
	}

	r.finalizeRound()
	return true
}

// finalizeRound computes the target from the picks of connected players
// and appends an immutable record to the room history. An empty set of
// picks produces a degenerate record with no winner rather than a crash.
func (r *Room) finalizeRound() {
	sum := 0.0
	count := 0
	playersData := make(map[string]int)

	for _, n := range r.order {
		p := r.Players[n]
		if p.Connected && p.Number != nil {
			sum += float64(*p.Number)
			count++
			playersData[p.Nickname] = *p.Number
		}
	}

	average := 0.0
	if count > 0 {
		average = sum / float64(count)
	}
	target := average * r.Multiplier

	// Closest pick wins; ties go to the earliest joiner.
	winner := ""
	best := math.Inf(1)
	for _, n := range r.order {
		p := r.Players[n]
		if p.Connected && p.Number != nil {
			if distance := math.Abs(float64(*p.Number) - target); distance < best {
				best = distance
				winner = p.Nickname
			}
		}
	}

	r.History = append(r.History, GameRound{
		RoundNumber:  r.CurrentRound,
		PlayersData:  playersData,
		TotalSum:     sum,
		Average:      round2(average),
		TargetNumber: round2(target),
		Winner:       winner,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
	r.Status = statusResults
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
