package console

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
)

// MaxMessageSize bounds a single console message.
const MaxMessageSize = 1 << 20

// Socket is a Channel over a WebSocket connection carrying text frames.
type Socket struct {
	conn *websocket.Conn
}

// Accept upgrades r to a WebSocket. Besides the host's own origin, only
// consoleOrigin may open the socket.
func Accept(w http.ResponseWriter, r *http.Request, consoleOrigin string) (*Socket, error) {
	opts := &websocket.AcceptOptions{}
	if host := originHost(consoleOrigin); host != "" {
		opts.OriginPatterns = []string{host}
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(MaxMessageSize)
	return &Socket{conn: conn}, nil
}

// NewSocket wraps an established connection, e.g. one returned by
// websocket.Dial.
func NewSocket(conn *websocket.Conn) *Socket {
	conn.SetReadLimit(MaxMessageSize)
	return &Socket{conn: conn}
}

// Read returns the next text message. Binary frames are rejected.
func (s *Socket) Read(ctx context.Context) ([]byte, error) {
	typ, data, err := s.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText {
		return nil, fmt.Errorf("unexpected %v message", typ)
	}
	return data, nil
}

// Write sends msg as a text message.
func (s *Socket) Write(ctx context.Context, msg []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, msg)
}

// Close performs a normal closing handshake.
func (s *Socket) Close(reason string) error {
	return s.conn.Close(websocket.StatusNormalClosure, reason)
}

// IsNormalClose reports whether err is the peer going away cleanly.
func IsNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}

func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Host
}
