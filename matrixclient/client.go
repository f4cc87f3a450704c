// Package matrixclient wraps a mautrix client for one impersonated IRC
// session: login (password or token), the /sync long-poll loop feeding
// a matrixstate.Store, and the outbound calls the gateway issues on the
// user's behalf (join, send, set topic). The underlying mautrix.Client
// is logged in as one user for the life of the session, and every call
// on it is serialized under a mutex.
package matrixclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nethesis/matrix2irc/gwerrors"
)

// Config configures the Matrix client wrapper for one session.
type Config struct {
	HomeserverURL string
	UserID        id.UserID
	// LoginType is "password" or "token".
	LoginType string
	Password  string
	Token     string
	// DeviceID, if set, is sent with the login request so the
	// homeserver can tell this IRC session's device apart from the
	// user's other Matrix clients. Callers generate one per accepted
	// IRC connection (see ircserver), since spec.md gives each
	// connection an independent Matrix session.
	DeviceID   string
	HTTPClient *http.Client
}

// Client is a per-session Matrix client wrapper.
type Client struct {
	mu  sync.Mutex
	cli *mautrix.Client
}

// New constructs a Client and logs it in against the configured
// homeserver, impersonating cfg.UserID.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.HomeserverURL == "" {
		return nil, errors.New("matrixclient: homeserver url is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("matrixclient: user id is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	cli, err := mautrix.NewClient(cfg.HomeserverURL, "", "")
	if err != nil {
		return nil, fmt.Errorf("matrixclient: create mautrix client: %w", err)
	}
	cli.Client = httpClient

	req := &mautrix.ReqLogin{
		Identifier:               mautrix.UserIdentifier{Type: mautrix.IdentifierTypeUser, User: string(cfg.UserID)},
		DeviceID:                 id.DeviceID(cfg.DeviceID),
		InitialDeviceDisplayName: "matrix2irc",
	}
	switch cfg.LoginType {
	case "token":
		req.Type = mautrix.AuthTypeToken
		req.Token = cfg.Token
	default:
		req.Type = mautrix.AuthTypePassword
		req.Password = cfg.Password
	}

	resp, err := cli.Login(ctx, req)
	if err != nil {
		return nil, classify(err)
	}
	cli.UserID = resp.UserID
	cli.AccessToken = resp.AccessToken

	return &Client{cli: cli}, nil
}

// Sync performs one long-poll /sync call since the given cursor.
func (c *Client) Sync(ctx context.Context, since string, timeout time.Duration) (*mautrix.RespSync, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.cli.SyncRequest(ctx, int(timeout.Milliseconds()), since, "", false, event.PresenceOnline)
	if err != nil {
		return nil, classify(err)
	}
	return resp, nil
}

// JoinRoom joins roomID on behalf of the impersonated user.
func (c *Client) JoinRoom(ctx context.Context, roomID id.RoomID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.cli.JoinRoom(ctx, string(roomID), nil)
	if err != nil {
		return classify(err)
	}
	return nil
}

// SendMessage sends an m.room.message event to roomID.
func (c *Client) SendMessage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.cli.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return "", classify(err)
	}
	return resp.EventID, nil
}

// SetTopic sets roomID's m.room.topic state event.
func (c *Client) SetTopic(ctx context.Context, roomID id.RoomID, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.cli.SendStateEvent(ctx, roomID, event.StateTopic, "", map[string]string{"topic": topic})
	if err != nil {
		return classify(err)
	}
	return nil
}

// GetRoomState fetches the full state event list for roomID, used to
// seed a matrixstate.Store entry outside of /sync (e.g. after MJOIN).
func (c *Client) GetRoomState(ctx context.Context, roomID id.RoomID) ([]*event.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events, err := c.cli.State(ctx, roomID)
	if err != nil {
		return nil, classify(err)
	}
	flat := make([]*event.Event, 0)
	for _, byStateKey := range events {
		for _, evt := range byStateKey {
			flat = append(flat, evt)
		}
	}
	return flat, nil
}

// classify maps a mautrix HTTP error to gwerrors.ErrSyncFatal (401/403),
// gwerrors.ErrSyncTransient (network failure or 5xx), or returns err
// unchanged if it is neither (e.g. a 4xx client error not worth retrying
// nor tearing down the session for).
func classify(err error) error {
	var httpErr mautrix.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Response != nil && (httpErr.Response.StatusCode == http.StatusUnauthorized || httpErr.Response.StatusCode == http.StatusForbidden):
			return fmt.Errorf("%w: %v", gwerrors.ErrSyncFatal, err)
		case httpErr.Response != nil && httpErr.Response.StatusCode >= 500:
			return fmt.Errorf("%w: %v", gwerrors.ErrSyncTransient, err)
		default:
			return err
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", gwerrors.ErrSyncTransient, err)
	}

	return err
}
