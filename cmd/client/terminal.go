package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/DoyleJ11/davinci-client/internal/engine"
	"github.com/DoyleJ11/davinci-client/internal/httpapi"
	"github.com/DoyleJ11/davinci-client/internal/view"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errQuit = errors.New("quit")

type roomCreator interface {
	CreateRoom(ctx context.Context, numPlayers int) (string, error)
}

// terminal is the line-oriented display: it prints event descriptions as
// they arrive and runs one command per input line.
type terminal struct {
	view    *view.View
	api     roomCreator
	players int
	logger  *zap.Logger

	mu  sync.Mutex
	out io.Writer
}

const help = `commands:
  show                 print the room snapshot
  register             take a seat
  attack [P] [I] [G]   guess player P's card I is code G (2*rank + 1 for white)
  stay                 end the turn
  open ROOM            switch to another room
  new [N]              create an N-player room and open it
  log                  print recent events
  quit`

func (t *terminal) Run(ctx context.Context, in io.Reader) error {
	g, ctx := errgroup.WithContext(ctx)

	lines := make(chan string)
	go scanLines(ctx, in, lines)

	g.Go(func() error { return t.printDescriptions(ctx) })
	g.Go(func() error { return t.readCommands(ctx, lines) })

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func scanLines(ctx context.Context, in io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
}

func (t *terminal) printDescriptions(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-t.view.Descriptions():
			t.printf("* %s\n", d.Text)
		}
	}
}

func (t *terminal) readCommands(ctx context.Context, lines <-chan string) error {
	t.printf("%s\n", help)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if err := t.exec(ctx, line); err != nil {
				return err
			}
		}
	}
}

func (t *terminal) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	switch fields[0] {
	case "help", "?":
		t.printf("%s\n", help)

	case "quit", "exit":
		return errQuit

	case "show":
		return t.show(ctx)

	case "register":
		st, err := t.view.Status(ctx)
		if err != nil {
			return err
		}
		if !st.CanRegister {
			t.printf("registration is not open\n")
			return nil
		}
		t.report("register", t.view.Register(ctx))

	case "attack":
		snap, err := t.view.Snapshot(ctx)
		if err != nil {
			return err
		}
		if !engine.CanAttack(snap) {
			t.printf("you cannot attack now\n")
			return nil
		}
		req := httpapi.ParseAttack(arg(1), arg(2), arg(3))
		t.printf("attacking player %d card %d, guessing %s\n", req.TargetPlayer, req.TargetHandIndex, req.Guess)
		t.report("attack", t.view.Attack(ctx, req))

	case "stay":
		snap, err := t.view.Snapshot(ctx)
		if err != nil {
			return err
		}
		if !engine.CanStay(snap) {
			t.printf("you cannot stay now\n")
			return nil
		}
		t.report("stay", t.view.Stay(ctx))

	case "open":
		if arg(1) == "" {
			t.printf("usage: open ROOM\n")
			return nil
		}
		t.open(ctx, arg(1))

	case "new":
		n := httpapi.ParseIntOr(arg(1), t.players)
		roomID, err := t.api.CreateRoom(ctx, n)
		if err != nil {
			t.printf("create failed: %v\n", err)
			return nil
		}
		t.printf("created room %s\n", roomID)
		t.open(ctx, roomID)

	case "log":
		log, err := t.view.Log(ctx)
		if err != nil {
			return err
		}
		for _, d := range log {
			t.printf("  %s\n", d.Text)
		}

	default:
		t.printf("unknown command %q, try help\n", fields[0])
	}
	return nil
}

func (t *terminal) open(ctx context.Context, roomID string) {
	if err := t.view.Open(ctx, roomID); err != nil {
		t.logger.Warn("open failed", zap.String("room", roomID), zap.Error(err))
		t.printf("could not open room %s\n", roomID)
		return
	}
	t.printf("room %s\n", roomID)
}

func (t *terminal) show(ctx context.Context) error {
	snap, err := t.view.Snapshot(ctx)
	if err != nil {
		return err
	}
	st, err := t.view.Status(ctx)
	if err != nil {
		return err
	}

	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	t.printf("%s\n", body)
	if snap.Board != nil && len(snap.Board.YourHand) > 0 {
		cards := make([]string, len(snap.Board.YourHand))
		for i, c := range snap.Board.YourHand {
			cards[i] = c.String()
		}
		t.printf("your hand: %s\n", strings.Join(cards, ", "))
	}
	t.printf("room %s  live=%v  policy=%s  register=%v  attack=%v  stay=%v  finished=%v\n",
		st.RoomID, st.Live, st.Policy, st.CanRegister,
		engine.CanAttack(snap), engine.CanStay(snap), engine.HasFinished(snap))
	return nil
}

// report prints the outcome of an action. A failure changes nothing.
func (t *terminal) report(action string, ok bool) {
	if ok {
		t.printf("%s ok\n", action)
		return
	}
	t.printf("%s failed\n", action)
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}
