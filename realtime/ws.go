package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/models"
)

const (
	writeWait = 10 * time.Second
	readWait  = 90 * time.Second

	closeSuperseded = 4000
	closeSignedOut  = 4001
)

// WSTransport dials the server's /ws endpoint with gorilla/websocket.
type WSTransport struct {
	URL    string
	Dialer *websocket.Dialer
}

func (t WSTransport) Dial(ctx context.Context, token string) (Link, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, resp, err := dialer.DialContext(ctx, t.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", t.URL, apperr.ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	return &wsLink{conn: conn}, nil
}

type wsLink struct {
	conn *websocket.Conn
}

func (l *wsLink) ReadEnvelope() (models.Envelope, error) {
	var env models.Envelope
	if err := l.conn.ReadJSON(&env); err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			switch ce.Code {
			case closeSuperseded:
				return env, ErrSuperseded
			case closeSignedOut:
				return env, ErrSignedOut
			}
		}
		return env, err
	}
	_ = l.conn.SetReadDeadline(time.Now().Add(readWait))
	return env, nil
}

func (l *wsLink) WriteEnvelope(env models.Envelope) error {
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteJSON(env)
}

func (l *wsLink) Close() error {
	return l.conn.Close()
}
