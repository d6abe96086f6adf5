package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"github.com/DoyleJ11/davinci-client/internal/engine"
	"github.com/DoyleJ11/davinci-client/internal/types"
	"go.uber.org/zap"
)

var ErrRejected = errors.New("rejected by server")
var ErrRoomNotFound = errors.New("room not found")
var ErrBadPlayerCount = errors.New("num_players must be between 2 and 4")

const (
	MinPlayers = 2
	MaxPlayers = 4
)

// Client talks to the room REST collaborator. Requests share one cookie jar
// so the collaborator can tie them, and the notification handshake, to the
// same session.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *zap.Logger
}

func NewClient(baseURL string, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("server url %q needs a scheme and host", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// No client timeout: outbound requests are bounded by their context only.
	return &Client{
		base:   base,
		http:   &http.Client{Jar: jar},
		logger: logger.Named("httpapi"),
	}, nil
}

// HTTPClient is shared with the websocket dialer for its cookie jar.
func (c *Client) HTTPClient() *http.Client { return c.http }

// URL resolves an escaped collaborator path under the base url.
func (c *Client) URL(path string) string {
	return withPath(*c.base, path).String()
}

func (c *Client) WebsocketURL(roomID string) string {
	u := withPath(*c.base, wsPath(roomID))
	u.Scheme = wsScheme(u.Scheme)
	return u.String()
}

// withPath appends an escaped collaborator path to the base url, keeping any
// prefix the base carries.
func withPath(u url.URL, escaped string) *url.URL {
	return u.JoinPath(escaped)
}

func (c *Client) CreateRoom(ctx context.Context, numPlayers int) (string, error) {
	if numPlayers < MinPlayers || numPlayers > MaxPlayers {
		return "", fmt.Errorf("%w: got %d", ErrBadPlayerCount, numPlayers)
	}

	resp, err := c.do(ctx, http.MethodPost, roomsPath(), types.CreateRoomRequest{NumPlayers: numPlayers})
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}

	var out types.CreateRoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("create room: decode: %w", err)
	}
	if out.RoomID == "" {
		return "", errors.New("create room: empty roomid")
	}
	return out.RoomID, nil
}

// FetchRoom returns the authoritative snapshot. Errors are returned as-is to
// the caller; nothing here retries.
func (c *Client) FetchRoom(ctx context.Context, roomID string) (engine.RoomSnapshot, error) {
	resp, err := c.do(ctx, http.MethodGet, roomPath(roomID), nil)
	if err != nil {
		return engine.RoomSnapshot{}, fmt.Errorf("fetch room %s: %w", roomID, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return engine.RoomSnapshot{}, fmt.Errorf("fetch room %s: %w", roomID, err)
	}

	var snap engine.RoomSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return engine.RoomSnapshot{}, fmt.Errorf("fetch room %s: decode: %w", roomID, err)
	}
	return snap, nil
}

func (c *Client) Register(ctx context.Context, roomID string) error {
	return c.command(ctx, "register", registerPath(roomID), nil)
}

// Attack sends the guess code as the raw integer.
func (c *Client) Attack(ctx context.Context, roomID string, req types.AttackRequest) error {
	return c.command(ctx, "attack", attackPath(roomID), req)
}

func (c *Client) Stay(ctx context.Context, roomID string) error {
	return c.command(ctx, "stay", stayPath(roomID), nil)
}

// command issues a POST whose only result is success or failure. A non-2xx
// status is reported as ErrRejected.
func (c *Client) command(ctx context.Context, name, path string, body any) error {
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), rd)
	if err != nil {
		return nil, err
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("request", zap.String("method", method), zap.String("path", path))
	return c.http.Do(req)
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrRoomNotFound, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}
