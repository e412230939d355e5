// Package session tracks open control-channel connections and keeps them
// alive with heartbeats.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erazemk/scanfleet/internal/protocol"
)

// Conn is the transport under a session. Send must be safe for concurrent
// use; Close must be safe to call more than once.
type Conn interface {
	Send(ctx context.Context, m protocol.Message) error
	Close(reason string) error
}

// Session is one open connection. Registry owns its lifecycle.
type Session struct {
	ID          string
	Role        protocol.Role
	Username    string
	ConnectedAt time.Time

	conn  Conn
	acked atomic.Bool

	mu       sync.Mutex
	status   string
	settings protocol.Settings
}

// New creates a session. It starts acknowledged so the first monitor tick
// pings it instead of evicting it.
func New(id string, role protocol.Role, username string, conn Conn, status string, settings protocol.Settings, now time.Time) *Session {
	s := &Session{
		ID:          id,
		Role:        role,
		Username:    username,
		ConnectedAt: now,
		conn:        conn,
		status:      status,
		settings:    settings,
	}
	s.acked.Store(true)
	return s
}

// Send writes a message to the session's connection.
func (s *Session) Send(ctx context.Context, m protocol.Message) error {
	return s.conn.Send(ctx, m)
}

// Close force-closes the connection.
func (s *Session) Close(reason string) error {
	return s.conn.Close(reason)
}

// Ack records a heartbeat reply.
func (s *Session) Ack() { s.acked.Store(true) }

// takeAck clears the heartbeat flag and reports whether it was set.
func (s *Session) takeAck() bool { return s.acked.Swap(false) }

// Status returns the last status the scanner reported.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Settings returns the scanner's reported settings.
func (s *Session) Settings() protocol.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Session) update(status string, settings *protocol.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status != "" {
		s.status = status
	}
	if settings != nil {
		s.settings = *settings
	}
}

// Info is a read-only snapshot of a session.
type Info struct {
	SessionID   string            `json:"sessionId"`
	Role        protocol.Role     `json:"role"`
	Username    string            `json:"username,omitempty"`
	Status      string            `json:"status,omitempty"`
	Settings    protocol.Settings `json:"settings"`
	ConnectedAt time.Time         `json:"connectedAt"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		SessionID:   s.ID,
		Role:        s.Role,
		Username:    s.Username,
		Status:      s.status,
		Settings:    s.settings,
		ConnectedAt: s.ConnectedAt,
	}
}

// Launched reports whether a scanner is actively running a scan loop.
func (s *Session) Launched() bool {
	switch s.Status() {
	case "scanning", "idle", "paused":
		return true
	}
	return false
}
