// Package testserver is an in-memory stand-in for the room collaborator: the
// REST surface under /api/v1/room and the per-room notification socket.
// It applies no game rules. Tests script room state with Update and send
// notifications with Push.
package testserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/DoyleJ11/davinci-client/internal/engine"
	"github.com/DoyleJ11/davinci-client/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const sessionCookie = "session"

type room struct {
	snap    engine.RoomSnapshot
	seats   map[string]int // session -> 1-based player index
	conns   map[*websocket.Conn]struct{}
	fetches int
	attacks []types.AttackRequest
	stays   int
	reject  bool
}

// FetchHook runs after a room snapshot has been read for a GET, before the
// response is written. n counts fetches of that room, starting at 1.
type FetchHook func(roomID string, n int)

type Server struct {
	mu        sync.Mutex
	rooms     map[string]*room
	fetchHook FetchHook
	router    chi.Router
	logger    *zap.Logger
}

func New(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		rooms:  make(map[string]*room),
		logger: logger.Named("testserver"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.withLogging)
	r.Use(withSession)

	r.Route("/api/v1/room", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/{roomid}", s.handleGet)
		r.Post("/{roomid}/register", s.handleRegister)
		r.Post("/{roomid}/attack", s.handleAttack)
		r.Post("/{roomid}/stay", s.handleStay)
		r.Get("/{roomid}/ws", s.handleWS)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// withSession hands out a session cookie on first contact.
func withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie(sessionCookie); err != nil {
			c := &http.Cookie{Name: sessionCookie, Value: uuid.NewString(), Path: "/"}
			http.SetCookie(w, c)
			r.AddCookie(c)
		}
		next.ServeHTTP(w, r)
	})
}

func sessionOf(r *http.Request) string {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// ---------- REST ----------

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req types.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.NumPlayers < 2 || req.NumPlayers > 4 {
		http.Error(w, "num_players must be between 2 and 4", http.StatusBadRequest)
		return
	}

	id := s.CreateRoom(req.NumPlayers)
	writeJSON(w, http.StatusOK, types.CreateRoomResponse{RoomID: id})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomid")

	s.mu.Lock()
	rm, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	view := personalize(rm.snap, rm.seats[sessionOf(r)])
	rm.fetches++
	n := rm.fetches
	hook := s.fetchHook
	s.mu.Unlock()

	body, err := json.Marshal(view)
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	if hook != nil {
		hook(roomID, n)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomid")
	session := sessionOf(r)

	s.mu.Lock()
	rm, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if _, seated := rm.seats[session]; seated || rm.reject || rm.snap.Registered >= rm.snap.NumPlayers {
		s.mu.Unlock()
		http.Error(w, "cannot register", http.StatusConflict)
		return
	}
	rm.snap.Registered++
	index := rm.snap.Registered
	rm.seats[session] = index
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
	_ = s.Push(roomID, types.PlayerRegistered{Index: index})
}

func (s *Server) handleAttack(w http.ResponseWriter, r *http.Request) {
	var req types.AttackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	s.command(w, chi.URLParam(r, "roomid"), func(rm *room) { rm.attacks = append(rm.attacks, req) })
}

func (s *Server) handleStay(w http.ResponseWriter, r *http.Request) {
	s.command(w, chi.URLParam(r, "roomid"), func(rm *room) { rm.stays++ })
}

func (s *Server) command(w http.ResponseWriter, roomID string, record func(*room)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm, ok := s.rooms[roomID]
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if rm.reject {
		http.Error(w, "rejected", http.StatusConflict)
		return
	}
	record(rm)
	w.WriteHeader(http.StatusNoContent)
}

// ---------- notifications ----------

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomid")

	s.mu.Lock()
	rm, ok := s.rooms[roomID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	s.mu.Lock()
	rm.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(rm.conns, conn)
		s.mu.Unlock()
	}()

	// The client never sends; wait for it (or Drop) to close the socket.
	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()
}

// Push sends ev to every socket open on the room.
func (s *Server) Push(roomID string, ev types.Event) error {
	frame, err := types.EncodeFrame(ev)
	if err != nil {
		return err
	}
	return s.PushRaw(roomID, frame)
}

// PushRaw sends a frame verbatim.
func (s *Server) PushRaw(roomID string, frame []byte) error {
	var firstErr error
	for _, conn := range s.conns(roomID) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := wsjson.Write(ctx, conn, json.RawMessage(frame))
		cancel()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Drop closes every socket of the room with the given status.
func (s *Server) Drop(roomID string, code websocket.StatusCode) {
	for _, conn := range s.conns(roomID) {
		_ = conn.Close(code, "dropped")
	}
}

func (s *Server) conns(roomID string) []*websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*websocket.Conn, 0, len(rm.conns))
	for c := range rm.conns {
		out = append(out, c)
	}
	return out
}

// ---------- scripting ----------

func (s *Server) CreateRoom(numPlayers int) string {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[id] = &room{
		snap: engine.RoomSnapshot{
			Status:     engine.StatusNotStarted,
			NumPlayers: numPlayers,
		},
		seats: make(map[string]int),
		conns: make(map[*websocket.Conn]struct{}),
	}
	return id
}

// Update edits the authoritative snapshot of a room.
func (s *Server) Update(roomID string, fn func(*engine.RoomSnapshot)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[roomID]
	if ok {
		fn(&rm.snap)
	}
	return ok
}

func (s *Server) SetFetchHook(h FetchHook) {
	s.mu.Lock()
	s.fetchHook = h
	s.mu.Unlock()
}

// RejectCommands makes register/attack/stay answer 409 for the room.
func (s *Server) RejectCommands(roomID string, reject bool) {
	s.withRoom(roomID, func(rm *room) { rm.reject = reject })
}

func (s *Server) Attacks(roomID string) []types.AttackRequest {
	var out []types.AttackRequest
	s.withRoom(roomID, func(rm *room) { out = append(out, rm.attacks...) })
	return out
}

func (s *Server) Stays(roomID string) int {
	var n int
	s.withRoom(roomID, func(rm *room) { n = rm.stays })
	return n
}

func (s *Server) Fetches(roomID string) int {
	var n int
	s.withRoom(roomID, func(rm *room) { n = rm.fetches })
	return n
}

func (s *Server) NumConns(roomID string) int {
	return len(s.conns(roomID))
}

func (s *Server) withRoom(roomID string, fn func(*room)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rm, ok := s.rooms[roomID]; ok {
		fn(rm)
	}
}

// NewToken mints a card identity the way the collaborator would.
func NewToken() engine.Token {
	return engine.NewToken(uuid.NewString())
}

func personalize(snap engine.RoomSnapshot, seat int) engine.RoomSnapshot {
	if seat == 0 {
		return snap
	}
	snap.YourIndex = engine.IntPtr(seat)
	if snap.Board != nil {
		b := *snap.Board
		b.YourPlayerIndex = engine.IntPtr(seat)
		snap.Board = &b
	}
	return snap
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
