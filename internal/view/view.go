package view

import (
	"context"
	"errors"

	"github.com/DoyleJ11/davinci-client/internal/engine"
	"github.com/DoyleJ11/davinci-client/internal/httpapi"
	"github.com/DoyleJ11/davinci-client/internal/roomstate"
	"github.com/DoyleJ11/davinci-client/internal/types"
	"github.com/DoyleJ11/davinci-client/internal/ws"
	"go.uber.org/zap"
)

var ErrNoRoom = errors.New("no room open")
var ErrClosed = errors.New("view closed")
var ErrSuperseded = errors.New("room switch superseded")

// Commands is the REST surface the view needs.
type Commands interface {
	RoomFetcher
	Register(ctx context.Context, roomID string) error
	Attack(ctx context.Context, roomID string, req types.AttackRequest) error
	Stay(ctx context.Context, roomID string) error
}

// EventSource is a live notification stream for one room.
type EventSource interface {
	Next(ctx context.Context) (types.Event, error)
	Close() error
}

type Dialer func(ctx context.Context, roomID string) (EventSource, error)

// WebsocketDialer dials the notification socket next to the REST client,
// sharing its session cookies.
func WebsocketDialer(c *httpapi.Client, logger *zap.Logger) Dialer {
	return func(ctx context.Context, roomID string) (EventSource, error) {
		ch, err := ws.Dial(ctx, c.WebsocketURL(roomID), roomID, ws.DialOptions{
			HTTPClient: c.HTTPClient(),
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}

type Options struct {
	Policy  roomstate.Policy
	Logger  *zap.Logger
	LogSize int // descriptions kept in memory, default 100
}

type viewMsg interface{ isViewMsg() }

// detach closes the current channel and opens a new room epoch.
type detach struct {
	RoomID string
	Reply  chan uint64
}

type install struct {
	Gen   uint64
	Ch    EventSource
	Reply chan bool
}

type eventArrived struct {
	Gen uint64
	Ev  types.Event
}

type channelEnded struct {
	Gen uint64
	Err error
}

type registerState struct {
	Gen         uint64
	CanRegister bool
}

// stagePrior holds the snapshot an own attack or stay was issued against,
// so the attacker card can still be located when the post-command refresh
// lands before the notification. A nil Snap clears it.
type stagePrior struct {
	Gen  uint64
	Snap *engine.RoomSnapshot
}

type getStatus struct {
	Reply chan Status
}

type getLog struct {
	Reply chan []Description
}

type teardown struct {
	Reply chan error
}

func (detach) isViewMsg()        {}
func (install) isViewMsg()       {}
func (eventArrived) isViewMsg()  {}
func (channelEnded) isViewMsg()  {}
func (registerState) isViewMsg() {}
func (stagePrior) isViewMsg()    {}
func (getStatus) isViewMsg()     {}
func (getLog) isViewMsg()        {}
func (teardown) isViewMsg()      {}

type Status struct {
	RoomID      string
	Gen         uint64
	Live        bool // a notification channel is open
	CanRegister bool
	Dropped     int // descriptions not taken from Descriptions in time
	Policy      roomstate.Policy
}

// View mirrors one displayed room. Its loop goroutine owns the room id, the
// room epoch and the notification channel; every other goroutine talks to
// it through the inbox. Messages stamped with an older epoch are ignored.
type View struct {
	inbox   chan viewMsg
	api     Commands
	dial    Dialer
	store   *roomstate.Store
	fetcher *Fetcher
	descs   chan Description
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	// owned by loop
	roomID      string
	gen         uint64
	ch          EventSource
	canRegister bool
	staged      *engine.RoomSnapshot
	log         []Description
	logSize     int
	dropped     int
}

func New(parent context.Context, api Commands, dial Dialer, opts Options) *View {
	ctx, cancel := context.WithCancel(parent)
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LogSize <= 0 {
		opts.LogSize = 100
	}

	store := roomstate.NewStore(ctx, opts.Policy, logger)
	v := &View{
		inbox:   make(chan viewMsg, 64),
		api:     api,
		dial:    dial,
		store:   store,
		fetcher: NewFetcher(api, store),
		descs:   make(chan Description, 64),
		logger:  logger.Named("view"),
		ctx:     ctx,
		cancel:  cancel,
		logSize: opts.LogSize,
	}
	go v.loop()
	return v
}

func (v *View) loop() {
	for {
		select {
		case <-v.ctx.Done():
			v.release()
			return

		case m := <-v.inbox:
			switch msg := m.(type) {
			case detach:
				v.release()
				v.gen++
				v.roomID = msg.RoomID
				v.canRegister = false
				v.staged = nil
				v.store.Reset(v.ctx, v.gen)
				msg.Reply <- v.gen

			case install:
				if msg.Gen != v.gen {
					// Another Open ran while this one was dialing.
					msg.Reply <- false
					break
				}
				v.ch = msg.Ch
				go v.pump(msg.Gen, msg.Ch)
				msg.Reply <- true

			case eventArrived:
				if msg.Gen != v.gen {
					v.logger.Debug("ignoring event from stale channel",
						zap.Uint64("epoch", msg.Gen), zap.String("event", string(msg.Ev.Name())))
					break
				}
				v.interpret(msg.Ev)

			case channelEnded:
				if msg.Gen != v.gen {
					break
				}
				v.logger.Info("notification channel closed",
					zap.String("room", v.roomID),
					zap.Int("code", int(ws.CloseCode(msg.Err))),
					zap.Error(msg.Err),
				)
				v.release()

			case registerState:
				if msg.Gen == v.gen {
					v.canRegister = msg.CanRegister
				}

			case stagePrior:
				if msg.Gen == v.gen {
					v.staged = msg.Snap
				}

			case getStatus:
				msg.Reply <- Status{
					RoomID:      v.roomID,
					Gen:         v.gen,
					Live:        v.ch != nil,
					CanRegister: v.canRegister,
					Dropped:     v.dropped,
					Policy:      v.store.Policy(),
				}

			case getLog:
				out := make([]Description, len(v.log))
				copy(out, v.log)
				msg.Reply <- out

			case teardown:
				err := v.release()
				v.gen++
				v.store.Close()
				msg.Reply <- err
				v.cancel()
				return
			}
		}
	}
}

// interpret records the description of ev and refreshes the room. Every
// event triggers a refresh, whatever its kind.
func (v *View) interpret(ev types.Event) {
	prior, _ := v.store.Read(v.ctx)
	switch ev.(type) {
	case types.Attacked, types.Stayed:
		if v.staged != nil {
			prior = *v.staged
			v.staged = nil
		}
	}
	d := Describe(prior, ev)
	v.logger.Info("event", zap.String("event", string(d.Event)), zap.String("text", d.Text))

	v.log = append(v.log, d)
	if len(v.log) > v.logSize {
		v.log = v.log[len(v.log)-v.logSize:]
	}
	select {
	case v.descs <- d:
	default:
		v.dropped++
	}

	go v.refresh(v.gen, v.roomID)
}

func (v *View) refresh(gen uint64, roomID string) {
	if _, err := v.fetcher.Refresh(v.ctx, gen, roomID); err != nil {
		v.logger.Warn("refresh failed", zap.String("room", roomID), zap.Error(err))
	}
}

func (v *View) pump(gen uint64, ch EventSource) {
	for {
		ev, err := ch.Next(v.ctx)
		if err != nil {
			v.send(v.ctx, channelEnded{Gen: gen, Err: err})
			return
		}
		if !v.send(v.ctx, eventArrived{Gen: gen, Ev: ev}) {
			return
		}
	}
}

// release closes the current channel, if any.
func (v *View) release() error {
	if v.ch == nil {
		return nil
	}
	err := v.ch.Close()
	v.ch = nil
	if err != nil {
		v.logger.Debug("closing notification channel", zap.Error(err))
	}
	return err
}

// Open makes roomID the displayed room. The previous channel is closed
// before the new one is dialed. The first snapshot decides whether
// registration is offered.
func (v *View) Open(ctx context.Context, roomID string) error {
	reply := make(chan uint64, 1)
	if !v.send(ctx, detach{RoomID: roomID, Reply: reply}) {
		return v.failure(ctx)
	}
	gen, ok := recv(ctx, v.ctx, reply)
	if !ok {
		return v.failure(ctx)
	}

	ch, err := v.dial(ctx, roomID)
	if err != nil {
		return err
	}

	installed := make(chan bool, 1)
	if !v.send(ctx, install{Gen: gen, Ch: ch, Reply: installed}) {
		_ = ch.Close()
		return v.failure(ctx)
	}
	ok, received := recv(ctx, v.ctx, installed)
	if !received {
		_ = ch.Close()
		return v.failure(ctx)
	}
	if !ok {
		_ = ch.Close()
		return ErrSuperseded
	}

	snap, err := v.fetcher.Refresh(ctx, gen, roomID)
	if err != nil {
		return err
	}
	v.send(ctx, registerState{Gen: gen, CanRegister: engine.CanRegister(snap)})
	return nil
}

// Register, Attack and Stay report whether the command was accepted. On
// success the room is refreshed; on failure nothing changes.

func (v *View) Register(ctx context.Context) bool {
	return v.submit(ctx, "register", func(roomID string) error {
		return v.api.Register(ctx, roomID)
	}, func(st Status) {
		v.send(ctx, registerState{Gen: st.Gen, CanRegister: false})
	})
}

func (v *View) Attack(ctx context.Context, req types.AttackRequest) bool {
	return v.submitTurn(ctx, "attack", func(roomID string) error {
		return v.api.Attack(ctx, roomID, req)
	})
}

func (v *View) Stay(ctx context.Context) bool {
	return v.submitTurn(ctx, "stay", func(roomID string) error {
		return v.api.Stay(ctx, roomID)
	})
}

// submitTurn stages the displayed snapshot before an attack or stay and
// drops it again when the command fails.
func (v *View) submitTurn(ctx context.Context, name string, call func(roomID string) error) bool {
	st, err := v.Status(ctx)
	if err != nil {
		v.logger.Warn(name+" failed", zap.Error(err))
		return false
	}
	if prior, err := v.store.Read(ctx); err == nil && prior.Board != nil && prior.Board.AttackerCard != nil {
		v.send(ctx, stagePrior{Gen: st.Gen, Snap: &prior})
	}
	ok := v.submit(ctx, name, call, nil)
	if !ok {
		v.send(ctx, stagePrior{Gen: st.Gen})
	}
	return ok
}

func (v *View) submit(ctx context.Context, name string, call func(roomID string) error, onSuccess func(Status)) bool {
	st, err := v.Status(ctx)
	if err != nil {
		v.logger.Warn(name+" failed", zap.Error(err))
		return false
	}
	if st.RoomID == "" {
		v.logger.Warn(name+" failed", zap.Error(ErrNoRoom))
		return false
	}

	if err := call(st.RoomID); err != nil {
		v.logger.Warn(name+" failed", zap.String("room", st.RoomID), zap.Error(err))
		return false
	}
	if onSuccess != nil {
		onSuccess(st)
	}
	if _, err := v.fetcher.Refresh(ctx, st.Gen, st.RoomID); err != nil {
		v.logger.Warn("refresh failed", zap.String("room", st.RoomID), zap.Error(err))
	}
	return true
}

// Refresh fetches the displayed room now.
func (v *View) Refresh(ctx context.Context) (engine.RoomSnapshot, error) {
	st, err := v.Status(ctx)
	if err != nil {
		return engine.RoomSnapshot{}, err
	}
	if st.RoomID == "" {
		return engine.RoomSnapshot{}, ErrNoRoom
	}
	return v.fetcher.Refresh(ctx, st.Gen, st.RoomID)
}

func (v *View) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if !v.send(ctx, getStatus{Reply: reply}) {
		return Status{}, v.failure(ctx)
	}
	st, ok := recv(ctx, v.ctx, reply)
	if !ok {
		return Status{}, v.failure(ctx)
	}
	return st, nil
}

// Snapshot is the room as currently displayed.
func (v *View) Snapshot(ctx context.Context) (engine.RoomSnapshot, error) {
	room, err := v.store.Read(ctx)
	if errors.Is(err, roomstate.ErrClosed) {
		return engine.RoomSnapshot{}, ErrClosed
	}
	return room, err
}

// Log returns the most recent descriptions, oldest first.
func (v *View) Log(ctx context.Context) ([]Description, error) {
	reply := make(chan []Description, 1)
	if !v.send(ctx, getLog{Reply: reply}) {
		return nil, v.failure(ctx)
	}
	out, ok := recv(ctx, v.ctx, reply)
	if !ok {
		return nil, v.failure(ctx)
	}
	return out, nil
}

// Descriptions delivers descriptions as events are interpreted. A reader
// that falls behind misses descriptions; they stay available from Log.
func (v *View) Descriptions() <-chan Description { return v.descs }

// Subscribe registers outbox for every snapshot replacement, starting with
// the current one. A full outbox gets closed and unsubscribed.
func (v *View) Subscribe(ctx context.Context, id string, outbox chan roomstate.Snapshot) error {
	err := v.store.Subscribe(ctx, id, outbox)
	if errors.Is(err, roomstate.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (v *View) Store() *roomstate.Store { return v.store }

// Close tears the view down and closes its notification channel.
func (v *View) Close() error {
	reply := make(chan error, 1)
	if !v.send(context.Background(), teardown{Reply: reply}) {
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-v.ctx.Done():
		// the loop may have replied right before cancelling
		select {
		case err := <-reply:
			return err
		default:
			return nil
		}
	}
}

// failure names why a request to the loop did not complete.
func (v *View) failure(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrClosed
}

func (v *View) send(ctx context.Context, m viewMsg) bool {
	select {
	case v.inbox <- m:
		return true
	case <-ctx.Done():
		return false
	case <-v.ctx.Done():
		return false
	}
}

func recv[T any](ctx, done context.Context, ch chan T) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-ctx.Done():
	case <-done.Done():
	}
	var zero T
	return zero, false
}
