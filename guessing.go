// Guessbox Target-Number Game
//
// A fixed set of rooms each hosts a round-based guessing game. Every
// connected player picks a number between 0 and 100; when all picks are
// in (or the admin force-finishes), the server averages the picks,
// multiplies by the room's multiplier, and the player closest to that
// target wins the round.
//
// Features:
// - WebSocket per room: /api/ws/:roomid/:nickname
// - First player into an empty room becomes admin
// - Admin succession when the admin disconnects
// - Reconnecting under a known nickname keeps your admin status
// - Joining a room mid-game under a new nickname is rejected
// - Admin controls round lifecycle, multiplier, history, and kicks
// - Force-finish excludes players who never picked
// - Rooms reset completely once the last player disconnects
// - Room listing at /api/rooms for the lobby view
// - In-browser QR button to share a room, backed by go-qrcode

package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Default display names for the reference four-room deployment. Rooms
// past the defaults fall back to a numbered name.
var roomNames = map[int]string{
	1: "The Parlor",
	2: "The Study",
	3: "The Den",
	4: "The Attic",
}

func roomName(id int) string {
	if name, ok := roomNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Room %d", id)
}

type client struct {
	conn     *websocket.Conn
	send     chan any
	nickname string
}

type action struct {
	nickname string
	msg      ClientAction
}

// sessions maps nicknames to their live outbound channel. Pure
// connection bookkeeping; all game semantics live in Room.
type sessions struct {
	clients map[string]*client
	order   []string
}

func newSessions() *sessions {
	return &sessions{clients: make(map[string]*client)}
}

// register stores the channel for a nickname, returning any channel it
// replaced (a reconnect supersedes the old connection).
func (s *sessions) register(nickname string, c *client) *client {
	old, ok := s.clients[nickname]
	s.clients[nickname] = c
	if !ok {
		s.order = append(s.order, nickname)
		return nil
	}
	return old
}

func (s *sessions) unregister(nickname string) {
	if _, ok := s.clients[nickname]; !ok {
		return
	}
	delete(s.clients, nickname)
	for i, n := range s.order {
		if n == nickname {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *sessions) get(nickname string) *client {
	return s.clients[nickname]
}

func (s *sessions) len() int {
	return len(s.clients)
}

func (s *sessions) forEach(fn func(nickname string, c *client)) {
	for _, n := range s.order {
		fn(n, s.clients[n])
	}
}

// hub coordinates one room: it owns the room state and its sessions,
// and its run loop is the single writer for both. The mutex exists only
// so the listing handler can take read-locked snapshots.
type hub struct {
	room     *Room
	sessions *sessions

	register chan *client
	unreg    chan *client
	actions  chan action

	mu sync.RWMutex
}

func newHub(room *Room) *hub {
	return &hub{
		room:     room,
		sessions: newSessions(),
		register: make(chan *client),
		unreg:    make(chan *client),
		actions:  make(chan action),
	}
}

func (h *hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()

			if err := h.room.Join(c.nickname); err != nil {
				c.send <- ErrorMessage{
					Type:    "error",
					Message: err.Error(),
				}
				close(c.send)
				h.mu.Unlock()
				continue
			}

			if old := h.sessions.register(c.nickname, c); old != nil {
				close(old.send)
			}

			logf(cfg, "GAMES: Player %q joined room %d", c.nickname, h.room.ID)
			h.broadcastLocked()

			h.mu.Unlock()

		case c := <-h.unreg:
			h.mu.Lock()

			// A stale connection superseded by a reconnect must not
			// disconnect the player who replaced it.
			if h.sessions.get(c.nickname) == c {
				h.sessions.unregister(c.nickname)
				close(c.send)
				h.room.Leave(c.nickname)
				h.reapLocked()

				logf(cfg, "GAMES: Player %q left room %d", c.nickname, h.room.ID)
				h.broadcastLocked()
			}

			h.mu.Unlock()

		case a := <-h.actions:
			h.mu.Lock()
			h.handleActionLocked(a.nickname, a.msg)
			h.mu.Unlock()
		}
	}
}

// handleActionLocked dispatches one client action to the engine and
// broadcasts if it changed anything. Unknown actions, missing fields,
// and privilege or status violations all fall through silently.
func (h *hub) handleActionLocked(nickname string, msg ClientAction) {
	changed := false

	switch msg.Action {
	case "start_game":
		changed = h.room.StartGame(nickname)
	case "choose_number":
		if msg.Number != nil {
			changed = h.room.ChooseNumber(nickname, *msg.Number)
		}
	case "new_round":
		changed = h.room.NewRound(nickname)
	case "stop_game":
		changed = h.room.StopGame(nickname)
	case "clear_history":
		changed = h.room.ClearHistory(nickname)
	case "set_multiplier":
		if msg.Multiplier != nil {
			changed = h.room.SetMultiplier(nickname, *msg.Multiplier)
		}
	case "remove_player":
		if msg.TargetNickname != "" {
			changed = h.room.RemovePlayer(nickname, msg.TargetNickname)
		}
	case "force_finish_round":
		changed = h.room.ForceFinishRound(nickname)
	default:
		// ignore unknown actions
	}

	if changed {
		h.broadcastLocked()
	}
}

// broadcastLocked fans the current snapshot out to every session. A
// channel that cannot accept the send is treated as a disconnect and
// fed through Leave after the pass; the next state change carries the
// updated roster, so no re-broadcast happens here.
func (h *hub) broadcastLocked() {
	if h.sessions.len() == 0 {
		return
	}

	state := h.room.snapshot()

	var failed []*client
	h.sessions.forEach(func(_ string, c *client) {
		select {
		case c.send <- state:
		default:
			failed = append(failed, c)
		}
	})

	for _, c := range failed {
		h.sessions.unregister(c.nickname)
		close(c.send)
		h.room.Leave(c.nickname)
	}
	h.reapLocked()
}

// reapLocked clears out any sessions left behind by a full room reset.
// These belong to players who were marked disconnected earlier (kicked
// or force-finished out) but whose sockets stayed open; once the room
// empties, their state is gone, so their connections end too.
func (h *hub) reapLocked() {
	if len(h.room.Players) != 0 || h.sessions.len() == 0 {
		return
	}
	h.sessions.forEach(func(_ string, c *client) {
		close(c.send)
	})
	h.sessions = newSessions()
}

func (c *client) readPump(h *hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientAction
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Action == "" {
			continue
		}

		h.actions <- action{
			nickname: c.nickname,
			msg:      msg,
		}
	}
}

// writePump drains the send channel onto the wire. The write deadline
// keeps one stalled connection from holding up its room: a timed-out
// write ends the connection, and the read side reports the disconnect.
func (c *client) writePump(cfg *Config) {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.sendTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// roomDirectory is the fixed collection of provisioned rooms, built
// once at startup and handed to every handler that needs it.
type roomDirectory struct {
	hubs  map[int]*hub
	order []int
}

func newRoomDirectory(cfg *Config) *roomDirectory {
	settings := GameSettings{
		MinPlayers:    cfg.minPlayers,
		Multiplier:    cfg.multiplier,
		MultiplierMin: cfg.multiplierMin,
		MultiplierMax: cfg.multiplierMax,
	}

	dir := &roomDirectory{
		hubs: make(map[int]*hub, cfg.rooms),
	}
	for id := 1; id <= cfg.rooms; id++ {
		h := newHub(newRoom(id, roomName(id), settings))
		dir.hubs[id] = h
		dir.order = append(dir.order, id)
		go h.run(cfg)
	}
	return dir
}

// roomSummary is one row of the lobby listing.
type roomSummary struct {
	RoomID      int      `json:"room_id"`
	RoomName    string   `json:"room_name"`
	PlayerCount int      `json:"player_count"`
	GameStatus  string   `json:"game_status"`
	Players     []string `json:"players"`
}

// summaries reads each room under a read lock; the listing is
// informational, so it never waits on in-flight mutations beyond the
// per-room lock.
func (dir *roomDirectory) summaries() []roomSummary {
	out := make([]roomSummary, 0, len(dir.hubs))

	for _, id := range dir.order {
		h := dir.hubs[id]

		h.mu.RLock()
		connected := make([]string, 0, len(h.room.Players))
		for _, n := range h.room.order {
			if h.room.Players[n].Connected {
				connected = append(connected, n)
			}
		}
		out = append(out, roomSummary{
			RoomID:      h.room.ID,
			RoomName:    h.room.Name,
			PlayerCount: len(connected),
			GameStatus:  h.room.Status,
			Players:     connected,
		})
		h.mu.RUnlock()
	}

	return out
}

func serveRooms(cfg *Config, dir *roomDirectory, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		data, err := json.Marshal(dir.summaries())
		if err != nil {
			errs <- err

			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)

		written, err := w.Write(data)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Room listing (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWSForDirectory upgrades a connection and hands it to the room's
// hub. Unknown room ids are refused before the upgrade.
func serveWSForDirectory(cfg *Config, dir *roomDirectory) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID, err := strconv.Atoi(ps.ByName("roomid"))
		if err != nil {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}

		h, ok := dir.hubs[roomID]
		if !ok {
			http.Error(w, "no such room", http.StatusNotFound)
			return
		}

		nickname := ps.ByName("nickname")
		if nickname == "" {
			http.Error(w, "missing nickname", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		c := &client{
			conn:     conn,
			send:     make(chan any, 8),
			nickname: nickname,
		}

		h.register <- c

		go c.writePump(cfg)
		c.readPump(h)
	}
}

// QR handler: generates a PNG QR code pointing a phone at the client
// page for this room, using go-qrcode.
func qrHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if _, err := strconv.Atoi(roomID); err != nil {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + "/guess?room=" + roomID

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// ---- Static file paths ----

//go:embed guess/index.html
var indexHTML []byte

//go:embed guess/app.css
var guessCSS []byte

//go:embed guess/app.js
var guessJS []byte

func getIndexHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(guessCSS)
	}
}

func getJsHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(guessJS)
	}
}

// registerGuessingGame sets up routes so that:
//   - $path             → HTML client (room picker + game view)
//   - /api/rooms        → JSON lobby listing
//   - /api/ws/:roomid/:nickname → per-room websocket
//   - $path/:roomid/qr  → PNG QR code for that room
func registerGuessingGame(cfg *Config, path string, mux *httprouter.Router, errs chan<- error) *roomDirectory {
	dir := newRoomDirectory(cfg)

	// Client view (HTML)
	mux.GET(cfg.prefix+path, getIndexHandler(cfg))

	// Shared assets
	mux.GET(cfg.prefix+"/assets/guess/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/guess/app.js", getJsHandler(cfg))

	// Lobby listing
	mux.GET(cfg.prefix+"/api/rooms", serveRooms(cfg, dir, errs))

	// Per-room websocket
	mux.GET(cfg.prefix+"/api/ws/:roomid/:nickname", serveWSForDirectory(cfg, dir))

	// Per-room QR code
	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler(cfg))

	return dir
}
