package ws

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"keyrelay/internal/action"
)

// Client is a minimal subscriber used by the watch command.
type Client struct {
	conn *websocket.Conn
}

// Dial connects to a keyrelay server. addr may be a ws:// URL or a bare
// host:port, in which case /ws is used.
func Dial(ctx context.Context, addr string) (*Client, error) {
	target, err := normalizeURL(addr)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Next blocks until the next action message arrives.
func (c *Client) Next() (action.Message, error) {
	var msg action.Message
	if err := c.conn.ReadJSON(&msg); err != nil {
		return action.Message{}, err
	}
	return msg, nil
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

func normalizeURL(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("empty server address")
	}
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr + "/ws"
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parse server address %q: %w", addr, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}
