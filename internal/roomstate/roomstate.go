package roomstate

import (
	"context"
	"errors"

	"github.com/DoyleJ11/davinci-client/internal/engine"
	"go.uber.org/zap"
)

// Policy decides what happens when fetches complete out of request order.
type Policy string

const (
	// LastWriterWins applies every completion, so a slow fetch can put an
	// older snapshot back on display.
	LastWriterWins Policy = "last-writer-wins"
	// DiscardStale drops completions whose fetch sequence is not newer than
	// the last one applied.
	DiscardStale Policy = "discard"
)

var ErrClosed = errors.New("room store closed")

type Msg interface{ isStoreMsg() }

// Replace overwrites the snapshot. Gen is the room epoch the fetch was issued
// under and Seq its fetch sequence within that epoch.
type Replace struct {
	Gen  uint64
	Seq  uint64
	Room engine.RoomSnapshot
}

func (Replace) isStoreMsg() {}

// Reset starts a new room epoch with an empty snapshot.
type Reset struct {
	Gen uint64
}

func (Reset) isStoreMsg() {}

type Subscribe struct {
	ID     string
	Outbox chan Snapshot // where this subscriber wants to receive snapshots
}

func (Subscribe) isStoreMsg() {}

type Unsubscribe struct{ ID string }

func (Unsubscribe) isStoreMsg() {}

type Shutdown struct{}

func (Shutdown) isStoreMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isStoreMsg() {}

type Snapshot struct {
	Version int
	Gen     uint64
	Room    engine.RoomSnapshot
}

type View struct {
	Version        int
	Gen            uint64
	Seq            uint64
	NumSubscribers int
	Dropped        int
	Room           engine.RoomSnapshot
}

// Store holds the latest room snapshot. All access goes through its inbox,
// so the loop goroutine is the only writer.
type Store struct {
	inbox   chan Msg
	policy  Policy
	room    engine.RoomSnapshot
	version int
	gen     uint64
	seq     uint64
	dropped int
	subs    map[string]chan Snapshot
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewStore(parent context.Context, policy Policy, logger *zap.Logger) *Store {
	ctx, cancel := context.WithCancel(parent)
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == "" {
		policy = LastWriterWins
	}

	s := &Store{
		inbox:  make(chan Msg, 64),
		policy: policy,
		room:   engine.NewEmptySnapshot(),
		subs:   make(map[string]chan Snapshot),
		logger: logger.Named("roomstate"),
		ctx:    ctx,
		cancel: cancel,
	}

	go s.loop()
	return s
}

func (s *Store) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Replace:
				if !s.accept(msg) {
					s.dropped++
					break
				}
				s.room = msg.Room
				s.seq = msg.Seq
				s.version++
				s.broadcast(s.current())

			case Reset:
				s.gen = msg.Gen
				s.seq = 0
				s.room = engine.NewEmptySnapshot()
				s.version++
				s.broadcast(s.current())

			case Subscribe:
				// Register + offer the current snapshot; an outbox with no
				// room for it is closed straight away.
				select {
				case msg.Outbox <- s.current():
					s.subs[msg.ID] = msg.Outbox
				default:
					s.logger.Warn("dropping subscriber with full outbox", zap.String("subscriber", msg.ID))
					close(msg.Outbox)
				}

			case Unsubscribe:
				if ch, ok := s.subs[msg.ID]; ok {
					close(ch)
					delete(s.subs, msg.ID)
				}

			case GetState:
				msg.Reply <- View{
					Version:        s.version,
					Gen:            s.gen,
					Seq:            s.seq,
					NumSubscribers: len(s.subs),
					Dropped:        s.dropped,
					Room:           s.room,
				}

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Store) accept(msg Replace) bool {
	if msg.Gen != s.gen {
		s.logger.Debug("dropping snapshot from previous room",
			zap.Uint64("gen", msg.Gen), zap.Uint64("current_gen", s.gen))
		return false
	}
	if s.policy == DiscardStale && msg.Seq <= s.seq {
		s.logger.Debug("dropping out-of-order snapshot",
			zap.Uint64("seq", msg.Seq), zap.Uint64("applied_seq", s.seq))
		return false
	}
	return true
}

func (s *Store) current() Snapshot {
	return Snapshot{Version: s.version, Gen: s.gen, Room: s.room}
}

func (s *Store) shutdown() {
	for id, ch := range s.subs {
		close(ch) // no more snapshots
		delete(s.subs, id)
	}
	s.cancel()
}

func (s *Store) broadcast(snap Snapshot) {
	for id, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Subscriber is slow/full - drop them.
			s.logger.Warn("dropping slow subscriber", zap.String("subscriber", id))
			close(ch)
			delete(s.subs, id)
		}
	}
}

// Inbox exposes the raw message channel.
func (s *Store) Inbox() chan<- Msg { return s.inbox }

func (s *Store) Policy() Policy { return s.policy }

// Read returns the latest snapshot, or the empty snapshot before any fetch.
func (s *Store) Read(ctx context.Context) (engine.RoomSnapshot, error) {
	v, err := s.View(ctx)
	return v.Room, err
}

// View reports the store state. It fails with ctx.Err() when ctx ends first
// and with ErrClosed once the store has shut down.
func (s *Store) View(ctx context.Context) (View, error) {
	if err := ctx.Err(); err != nil {
		return View{}, err
	}
	reply := make(chan View, 1)
	if !s.send(ctx, GetState{Reply: reply}) {
		return View{}, s.failure(ctx)
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-s.ctx.Done():
		return View{}, ErrClosed
	}
}

// Subscribe registers outbox for every replacement, starting with the
// current snapshot.
func (s *Store) Subscribe(ctx context.Context, id string, outbox chan Snapshot) error {
	if !s.send(ctx, Subscribe{ID: id, Outbox: outbox}) {
		return s.failure(ctx)
	}
	return nil
}

func (s *Store) Replace(ctx context.Context, gen, seq uint64, room engine.RoomSnapshot) bool {
	return s.send(ctx, Replace{Gen: gen, Seq: seq, Room: room})
}

func (s *Store) Reset(ctx context.Context, gen uint64) bool {
	return s.send(ctx, Reset{Gen: gen})
}

func (s *Store) Close() {
	s.cancel()
}

func (s *Store) failure(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrClosed
}

func (s *Store) send(ctx context.Context, m Msg) bool {
	select {
	case s.inbox <- m:
		return true
	case <-ctx.Done():
		return false
	case <-s.ctx.Done():
		return false
	}
}
