package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/erazemk/scanfleet/internal/protocol"
)

// maxCloseReason is the longest close reason a control frame can carry.
const maxCloseReason = 123

// conn adapts a websocket connection to session.Conn.
type conn struct {
	c            *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
}

func (w *conn) Send(ctx context.Context, m protocol.Message) error {
	ctx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, w.c, m)
}

// Close starts the closing handshake without waiting for the peer, so a
// dead peer never stalls the caller.
func (w *conn) Close(reason string) error {
	w.close(websocket.StatusGoingAway, reason)
	return nil
}

func (w *conn) close(code websocket.StatusCode, reason string) {
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	w.closeOnce.Do(func() {
		go w.c.Close(code, reason)
	})
}
