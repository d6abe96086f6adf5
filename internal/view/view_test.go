package view

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/davinci-client/internal/engine"
	"github.com/DoyleJ11/davinci-client/internal/httpapi"
	"github.com/DoyleJ11/davinci-client/internal/roomstate"
	"github.com/DoyleJ11/davinci-client/internal/testserver"
	"github.com/DoyleJ11/davinci-client/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

const waitFor = 2 * time.Second
const tick = 10 * time.Millisecond

type harness struct {
	srv    *testserver.Server
	http   *httptest.Server
	client *httpapi.Client
	view   *View
	ctx    context.Context
}

func newHarness(t *testing.T, policy roomstate.Policy) *harness {
	t.Helper()
	srv := testserver.New(nil)
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)

	client, err := httpapi.NewClient(hs.URL, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	v := New(ctx, client, WebsocketDialer(client, nil), Options{Policy: policy})
	t.Cleanup(func() { _ = v.Close() })

	return &harness{srv: srv, http: hs, client: client, view: v, ctx: ctx}
}

func (h *harness) snapshot(t *testing.T) engine.RoomSnapshot {
	t.Helper()
	s, err := h.view.Snapshot(h.ctx)
	require.NoError(t, err)
	return s
}

func (h *harness) status(t *testing.T) Status {
	t.Helper()
	st, err := h.view.Status(h.ctx)
	require.NoError(t, err)
	return st
}

func recvDescription(t *testing.T, ch <-chan Description, within time.Duration) Description {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(within):
		t.Fatalf("timed out waiting for description")
		return Description{} // unreachable
	}
}

func playingBoard(turn int, hands ...engine.Hand) func(*engine.RoomSnapshot) {
	return func(s *engine.RoomSnapshot) {
		s.Status = engine.StatusPlaying
		s.Registered = s.NumPlayers
		s.Board = &engine.Board{
			NumPlayers:   s.NumPlayers,
			CurrentTurn:  engine.IntPtr(turn),
			AttackerCard: &engine.AttackerCard{Color: engine.Black, UniqueID: attackerTok},
			CanStay:      true,
			Hands:        hands,
		}
	}
}

func TestView_CreateAndOpenFreshRoom(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)

	roomID, err := h.client.CreateRoom(h.ctx, 2)
	require.NoError(t, err)
	require.NotEmpty(t, roomID)

	require.NoError(t, h.view.Open(h.ctx, roomID))

	snap := h.snapshot(t)
	assert.Equal(t, engine.StatusNotStarted, snap.Status)
	assert.Equal(t, 0, snap.Registered)
	assert.Nil(t, snap.YourIndex)

	st := h.status(t)
	assert.Equal(t, roomID, st.RoomID)
	assert.True(t, st.Live)
	assert.True(t, st.CanRegister)
}

func TestView_RegisterIncrementsAndSeats(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)
	roomID, err := h.client.CreateRoom(h.ctx, 2)
	require.NoError(t, err)
	require.NoError(t, h.view.Open(h.ctx, roomID))

	require.True(t, h.view.Register(h.ctx))

	snap := h.snapshot(t)
	assert.Equal(t, 1, snap.Registered)
	require.NotNil(t, snap.YourIndex)
	assert.Equal(t, 1, *snap.YourIndex)
	assert.False(t, h.status(t).CanRegister)

	d := recvDescription(t, h.view.Descriptions(), waitFor)
	assert.Equal(t, "player 1 registered", d.Text)

	// a second register from the same session is refused by the collaborator
	assert.False(t, h.view.Register(h.ctx))
}

func TestView_AttackSendsRawGuessCode(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)
	roomID := h.srv.CreateRoom(2)
	require.NoError(t, h.view.Open(h.ctx, roomID))

	req := httpapi.ParseAttack("1", "1", "5")
	require.True(t, h.view.Attack(h.ctx, req))

	attacks := h.srv.Attacks(roomID)
	require.Len(t, attacks, 1)
	assert.Equal(t, types.AttackRequest{TargetPlayer: 1, TargetHandIndex: 1, Guess: 5}, attacks[0])

	rank, color := engine.DecodeGuess(attacks[0].Guess)
	assert.Equal(t, 2, rank)
	assert.Equal(t, engine.White, color)
}

func TestView_StaySucceedsAndRefreshes(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)
	roomID := h.srv.CreateRoom(2)
	require.NoError(t, h.view.Open(h.ctx, roomID))
	before := h.srv.Fetches(roomID)

	require.True(t, h.view.Stay(h.ctx))
	assert.Equal(t, 1, h.srv.Stays(roomID))
	assert.Equal(t, before+1, h.srv.Fetches(roomID))
}

func TestView_RejectedCommandIsFailure(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)
	roomID := h.srv.CreateRoom(2)
	require.NoError(t, h.view.Open(h.ctx, roomID))
	h.srv.RejectCommands(roomID, true)
	before := h.srv.Fetches(roomID)

	assert.False(t, h.view.Register(h.ctx))
	assert.False(t, h.view.Stay(h.ctx))
	assert.True(t, h.status(t).CanRegister, "failed register leaves the flag alone")
	assert.Equal(t, before, h.srv.Fetches(roomID), "failed actions do not refresh")
}

func TestView_TransportFailureIsFailure(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)
	roomID := h.srv.CreateRoom(2)
	require.NoError(t, h.view.Open(h.ctx, roomID))

	h.http.CloseClientConnections()
	h.http.Close()

	assert.False(t, h.view.Stay(h.ctx))
}

func TestView_ActionWithoutRoomFails(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)
	assert.False(t, h.view.Stay(h.ctx))

	_, err := h.view.Refresh(h.ctx)
	assert.ErrorIs(t, err, ErrNoRoom)
}

func TestView_EveryEventRefreshes(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)
	roomID := h.srv.CreateRoom(2)
	require.NoError(t, h.view.Open(h.ctx, roomID))
	before := h.srv.Fetches(roomID)

	events := []types.Event{types.GameStarted{}, types.YourTurn{}, types.GameFinished{Winner: 2}}
	for _, ev := range events {
		require.NoError(t, h.srv.Push(roomID, ev))
		_ = recvDescription(t, h.view.Descriptions(), waitFor)
	}

	require.Eventually(t, func() bool {
		return h.srv.Fetches(roomID) == before+len(events)
	}, waitFor, tick)
}

func TestView_PushedStateBecomesVisible(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)
	roomID := h.srv.CreateRoom(2)
	require.NoError(t, h.view.Open(h.ctx, roomID))

	h.srv.Update(roomID, playingBoard(1, engine.Hand{}, engine.Hand{}))
	require.NoError(t, h.srv.Push(roomID, types.GameStarted{}))

	require.Eventually(t, func() bool {
		return h.snapshot(t).Status == engine.StatusPlaying
	}, waitFor, tick)
}

func TestView_AttackMissRelocatesAttackerCard(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)
	roomID := h.srv.CreateRoom(2)
	h.srv.Update(roomID, playingBoard(1, handWith("a", "b"), handWith("c")))
	require.NoError(t, h.view.Open(h.ctx, roomID))

	ev := types.Attacked{
		Result:          false,
		TargetPlayer:    2,
		TargetHandIndex: 1,
		Guess:           5,
		Board: engine.Board{
			NumPlayers:  2,
			CurrentTurn: engine.IntPtr(2),
			Hands:       []engine.Hand{handWith("a", "attacker", "b"), handWith("c")},
		},
	}
	require.NoError(t, h.srv.Push(roomID, ev))

	d := recvDescription(t, h.view.Descriptions(), waitFor)
	assert.True(t, d.Relocated)
	assert.Equal(t, 2, d.Position)
	assert.Contains(t, d.Text, "white 2: miss")
}

func TestView_UnknownFrameIsSkipped(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)
	roomID := h.srv.CreateRoom(2)
	require.NoError(t, h.view.Open(h.ctx, roomID))

	require.NoError(t, h.srv.PushRaw(roomID, []byte(`["card_exploded", {}]`)))
	require.NoError(t, h.srv.Push(roomID, types.YourTurn{}))

	d := recvDescription(t, h.view.Descriptions(), waitFor)
	assert.Equal(t, "your turn", d.Text)
	assert.True(t, h.status(t).Live)
}

func TestView_OwnAttackMissRelocatesAfterRefresh(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)
	roomID := h.srv.CreateRoom(2)
	h.srv.Update(roomID, playingBoard(1, handWith("a", "b"), handWith("c")))
	require.NoError(t, h.view.Open(h.ctx, roomID))

	// the server has already moved on when the post-attack refresh runs
	after := engine.Board{
		NumPlayers:  2,
		CurrentTurn: engine.IntPtr(2),
		Hands:       []engine.Hand{handWith("a", "attacker", "b"), handWith("c")},
	}
	h.srv.Update(roomID, func(s *engine.RoomSnapshot) {
		b := after
		s.Board = &b
	})
	require.True(t, h.view.Attack(h.ctx, types.AttackRequest{TargetPlayer: 2, TargetHandIndex: 1, Guess: 5}))
	require.Nil(t, h.snapshot(t).Board.AttackerCard)

	require.NoError(t, h.srv.Push(roomID, types.Attacked{
		Result: false, TargetPlayer: 2, TargetHandIndex: 1, Guess: 5, Board: after,
	}))

	d := recvDescription(t, h.view.Descriptions(), waitFor)
	assert.True(t, d.Relocated)
	assert.Equal(t, 2, d.Position)
	assert.Contains(t, d.Text, "player 1 guessed")
}

func TestView_MalformedFrameKeepsChannelOpen(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)
	roomID := h.srv.CreateRoom(2)
	require.NoError(t, h.view.Open(h.ctx, roomID))

	require.NoError(t, h.srv.PushRaw(roomID, []byte(`["player_registered", {"index": "1"}]`)))
	require.NoError(t, h.srv.Push(roomID, types.GameStarted{}))

	d := recvDescription(t, h.view.Descriptions(), waitFor)
	assert.Equal(t, "game started", d.Text)
	assert.True(t, h.status(t).Live)
	assert.Equal(t, 1, h.srv.NumConns(roomID))
}

func TestView_UnreadSubscriberDoesNotStallView(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)
	roomID := h.srv.CreateRoom(2)
	require.NoError(t, h.view.Open(h.ctx, roomID))

	require.NoError(t, h.view.Subscribe(h.ctx, "ui", make(chan roomstate.Snapshot)))

	ctx, cancel := context.WithTimeout(h.ctx, 500*time.Millisecond)
	defer cancel()
	snap, err := h.view.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.NumPlayers)
}

func TestView_ExpiredContextIsNotClosed(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)

	ctx, cancel := context.WithCancel(h.ctx)
	cancel()

	_, err := h.view.Snapshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = h.view.Log(ctx)
	assert.NotErrorIs(t, err, ErrClosed)

	_, err = h.view.Status(h.ctx)
	assert.NoError(t, err, "view still alive")
}

func TestView_SwitchRoomClosesPreviousChannel(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)
	first := h.srv.CreateRoom(2)
	second := h.srv.CreateRoom(3)

	require.NoError(t, h.view.Open(h.ctx, first))
	require.Eventually(t, func() bool { return h.srv.NumConns(first) == 1 }, waitFor, tick)

	require.NoError(t, h.view.Open(h.ctx, second))
	require.Eventually(t, func() bool {
		return h.srv.NumConns(first) == 0 && h.srv.NumConns(second) == 1
	}, waitFor, tick)

	assert.Equal(t, 3, h.snapshot(t).NumPlayers)
	assert.Equal(t, second, h.status(t).RoomID)
}

func TestView_RemoteCloseIsNotRetried(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)
	roomID := h.srv.CreateRoom(2)
	require.NoError(t, h.view.Open(h.ctx, roomID))
	require.Eventually(t, func() bool { return h.srv.NumConns(roomID) == 1 }, waitFor, tick)

	h.srv.Drop(roomID, websocket.StatusGoingAway)

	require.Eventually(t, func() bool { return !h.status(t).Live }, waitFor, tick)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, h.srv.NumConns(roomID), "no reconnection")

	// the view still answers pulls
	_, err := h.view.Refresh(h.ctx)
	assert.NoError(t, err)
}

// slowFirstRefresh arranges for the next fetch to read the room, then stall
// until release is closed while a later fetch overtakes it.
func slowFirstRefresh(t *testing.T, h *harness, roomID string) (release chan struct{}, done chan struct{}) {
	t.Helper()
	slowN := h.srv.Fetches(roomID) + 1
	reached := make(chan struct{})
	release = make(chan struct{})
	h.srv.SetFetchHook(func(id string, n int) {
		if id == roomID && n == slowN {
			close(reached)
			<-release
		}
	})

	done = make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.view.Refresh(h.ctx)
	}()

	select {
	case <-reached:
	case <-time.After(waitFor):
		t.Fatalf("slow fetch never reached the server")
	}
	return release, done
}

func TestView_LastWriterWinsCanDisplayStaleSnapshot(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)
	roomID := h.srv.CreateRoom(2)
	require.NoError(t, h.view.Open(h.ctx, roomID))

	release, done := slowFirstRefresh(t, h, roomID) // reads registered=0
	h.srv.Update(roomID, func(s *engine.RoomSnapshot) { s.Registered = 1 })

	fast, err := h.view.Refresh(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fast.Registered)
	assert.Equal(t, 1, h.snapshot(t).Registered)

	close(release)
	<-done

	assert.Equal(t, 0, h.snapshot(t).Registered, "the slower, older fetch completed last and is displayed")
}

func TestView_DiscardStaleKeepsNewestFetch(t *testing.T) {
	h := newHarness(t, roomstate.DiscardStale)
	roomID := h.srv.CreateRoom(2)
	require.NoError(t, h.view.Open(h.ctx, roomID))

	release, done := slowFirstRefresh(t, h, roomID)
	h.srv.Update(roomID, func(s *engine.RoomSnapshot) { s.Registered = 1 })

	_, err := h.view.Refresh(h.ctx)
	require.NoError(t, err)

	close(release)
	<-done

	v, err := h.view.Store().View(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Room.Registered)
	assert.Equal(t, 1, v.Dropped)
}

func TestView_SubscribeSeesReplacements(t *testing.T) {
	h := newHarness(t, roomstate.LastWriterWins)
	roomID := h.srv.CreateRoom(2)

	out := make(chan roomstate.Snapshot, 8)
	require.NoError(t, h.view.Subscribe(h.ctx, "ui", out))
	require.NoError(t, h.view.Open(h.ctx, roomID))

	require.Eventually(t, func() bool {
		for {
			select {
			case s := <-out:
				if s.Room.NumPlayers == 2 {
					return true
				}
			default:
				return false
			}
		}
	}, waitFor, tick)
}

// ---------- epoch guard, with a scripted event source ----------

type fakeSource struct {
	events chan types.Event
	fail   chan error
	once   sync.Once
	closed chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: make(chan types.Event, 8),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

// Next keeps delivering after Close, like a connection whose close has not
// taken effect yet.
func (f *fakeSource) Next(ctx context.Context) (types.Event, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case err := <-f.fail:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeSource) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeAPI struct {
	mu      sync.Mutex
	fetches map[string]int
}

func (f *fakeAPI) FetchRoom(ctx context.Context, roomID string) (engine.RoomSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetches == nil {
		f.fetches = map[string]int{}
	}
	f.fetches[roomID]++
	return engine.RoomSnapshot{Status: engine.StatusNotStarted, NumPlayers: 2}, nil
}

func (f *fakeAPI) count(roomID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[roomID]
}

func (f *fakeAPI) Register(ctx context.Context, roomID string) error { return nil }

func (f *fakeAPI) Attack(ctx context.Context, roomID string, req types.AttackRequest) error {
	return nil
}

func (f *fakeAPI) Stay(ctx context.Context, roomID string) error { return errors.New("boom") }

func TestView_StaleChannelCallbacksAreIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sources := map[string]*fakeSource{"a": newFakeSource(), "b": newFakeSource()}
	dial := func(ctx context.Context, roomID string) (EventSource, error) {
		return sources[roomID], nil
	}
	api := &fakeAPI{}
	v := New(ctx, api, dial, Options{})
	defer v.Close()

	require.NoError(t, v.Open(ctx, "a"))
	require.NoError(t, v.Open(ctx, "b"))

	select {
	case <-sources["a"].closed:
	default:
		t.Fatalf("previous channel not closed on switch")
	}

	// the old channel still talks after being replaced
	sources["a"].events <- types.YourTurn{}
	sources["a"].fail <- errors.New("late close")

	sources["b"].events <- types.GameStarted{}
	d := recvDescription(t, v.Descriptions(), waitFor)
	assert.Equal(t, "game started", d.Text)

	st, err := v.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Live, "stale close handler must not tear down the new channel")
	assert.Equal(t, "b", st.RoomID)

	log, err := v.Log(ctx)
	require.NoError(t, err)
	require.Len(t, log, 1)

	require.Eventually(t, func() bool { return api.count("b") == 2 }, waitFor, tick)
	assert.Equal(t, 1, api.count("a"), "no refresh from the stale channel")

	assert.False(t, v.Stay(ctx), "transport error reports failure")
}

func TestView_CloseReleasesChannel(t *testing.T) {
	src := newFakeSource()
	v := New(context.Background(), &fakeAPI{}, func(context.Context, string) (EventSource, error) {
		return src, nil
	}, Options{})

	require.NoError(t, v.Open(context.Background(), "a"))
	require.NoError(t, v.Close())

	select {
	case <-src.closed:
	default:
		t.Fatalf("channel not closed on teardown")
	}

	_, err := v.Status(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
