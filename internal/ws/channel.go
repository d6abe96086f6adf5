package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/DoyleJ11/davinci-client/internal/types"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ErrClosed is returned by Next once Close has been called locally.
var ErrClosed = errors.New("channel closed")

// Channel is one live notification connection for a room. Next yields the
// room's events until the remote side closes or Close is called.
type Channel struct {
	conn   *websocket.Conn
	logger *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

type DialOptions struct {
	// HTTPClient carries the session cookies for the handshake.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func Dial(ctx context.Context, url, roomID string, opts DialOptions) (*Channel, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: opts.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	// Snapshots inside attacked frames can outgrow the default read limit.
	conn.SetReadLimit(1 << 20)

	return &Channel{
		conn:   conn,
		logger: logger.Named("ws").With(zap.String("room", roomID)),
		closed: make(chan struct{}),
	}, nil
}

// Next blocks until the next event arrives. Frames that do not decode, or
// carry an unknown event name, are logged and skipped. Only a read failure
// ends the sequence: the returned error wraps the close status when the
// remote side hung up.
func (c *Channel) Next(ctx context.Context) (types.Event, error) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			select {
			case <-c.closed:
				return nil, ErrClosed
			default:
			}
			return nil, err
		}

		ev, err := types.DecodeFrame(data)
		if err != nil {
			c.logger.Warn("skipping frame", zap.Error(err))
			continue
		}
		return ev, nil
	}
}

// Close releases the connection. It is safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.conn.Close(websocket.StatusNormalClosure, "bye")
		if isClosedErr(c.closeErr) {
			c.closeErr = nil
		}
	})
	return c.closeErr
}

// CloseCode extracts the websocket close status from a Next error, or -1.
func CloseCode(err error) websocket.StatusCode {
	return websocket.CloseStatus(err)
}

func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
