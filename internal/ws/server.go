// Package ws serves the control channel: scanners, listeners and overseers
// connect over a websocket, authenticate in the handshake and then exchange
// protocol messages until the connection drops.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/erazemk/scanfleet/internal/auth"
	"github.com/erazemk/scanfleet/internal/clock"
	"github.com/erazemk/scanfleet/internal/command"
	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/metrics"
	"github.com/erazemk/scanfleet/internal/protocol"
	"github.com/erazemk/scanfleet/internal/session"
)

// ErrAuth is returned for handshakes with missing or wrong credentials.
var ErrAuth = errors.New("authentication failed")

// Config holds control-channel settings.
type Config struct {
	// SharedSecret lets any role connect with ?password=. Empty disables it.
	SharedSecret string
	// WriteTimeout bounds every outbound message.
	WriteTimeout time.Duration
	// StatusTimeout bounds the fullStatus replay for a new observer.
	StatusTimeout time.Duration
}

// Server is the http.Handler for the control channel.
type Server struct {
	DB         *db.DB
	Registry   *session.Registry
	Correlator *command.Correlator
	Clock      clock.Clock
	Config     Config
	Metrics    *metrics.Metrics
}

// handshake is the validated query of an upgrade request.
type handshake struct {
	sessionID string
	role      protocol.Role
	username  string
	status    string
	settings  protocol.Settings
}

// ServeHTTP authenticates the handshake, upgrades the connection and runs
// its read loop. Rejected handshakes never create a session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hs, status, err := s.authenticate(r)
	if err != nil {
		slog.Warn("control channel handshake rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), status)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c.SetReadLimit(8 << 20)

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		c.CloseNow()
	}()

	wc := &conn{c: c, writeTimeout: s.writeTimeout()}
	sess := session.New(hs.sessionID, hs.role, hs.username, wc, hs.status, hs.settings, s.Clock.Now())
	s.Registry.Register(sess)
	defer s.Registry.Remove(sess)
	slog.Info("session connected", "session", sess.ID, "role", sess.Role, "user", sess.Username, "remote", r.RemoteAddr)

	s.attach(ctx, &wg, sess)

	for {
		_, raw, err := c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				slog.Debug("session read failed", "session", sess.ID, "error", err)
			}
			slog.Info("session disconnected", "session", sess.ID, "role", sess.Role)
			return
		}

		msg, err := protocol.Decode(sess.Role, raw)
		if err != nil {
			s.Metrics.ProtocolError()
			slog.Warn("closing session on protocol error", "session", sess.ID, "role", sess.Role, "error", err)
			wc.close(websocket.StatusPolicyViolation, err.Error())
			// Drain until the peer acknowledges the close.
			for {
				if _, _, err := c.Read(ctx); err != nil {
					return
				}
			}
		}

		s.dispatch(ctx, &wg, sess, msg)
	}
}

func (s *Server) authenticate(r *http.Request) (handshake, int, error) {
	q := r.URL.Query()
	hs := handshake{sessionID: q.Get("sessionid")}
	if hs.sessionID == "" {
		return hs, http.StatusBadRequest, errors.New("sessionid is required")
	}
	role, err := protocol.ParseRole(q.Get("role"))
	if err != nil {
		return hs, http.StatusBadRequest, err
	}
	hs.role = role

	username, password := q.Get("username"), q.Get("password")
	switch {
	case username != "" && role != protocol.RoleOverseer:
		u, err := auth.AuthenticateScannerUser(r.Context(), s.DB, username, password)
		if errors.Is(err, auth.ErrBadCredentials) || errors.Is(err, auth.ErrDisabled) {
			return hs, http.StatusUnauthorized, errors.Join(ErrAuth, err)
		}
		if err != nil {
			return hs, http.StatusInternalServerError, err
		}
		hs.username = u.Username
	case username == "" && auth.CheckSharedSecret(s.Config.SharedSecret, password):
	default:
		return hs, http.StatusUnauthorized, ErrAuth
	}

	if role == protocol.RoleScanner {
		hs.status = q.Get("status")
		hs.settings.ScanMode = q.Get("scanmode")
		hs.settings.FleaMarketAvailable, _ = strconv.ParseBool(q.Get("fleamarket"))
	}
	return hs, 0, nil
}

// attach replays scanner state to a newly connected observer: a listener
// gets its scanner, an overseer gets every scanner.
func (s *Server) attach(ctx context.Context, wg *sync.WaitGroup, sess *session.Session) {
	var targets []string
	switch sess.Role {
	case protocol.RoleListener:
		targets = []string{sess.ID}
	case protocol.RoleOverseer:
		for _, sc := range s.Registry.Scanners() {
			targets = append(targets, sc.ID)
		}
	}

	for _, id := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.replayStatus(ctx, sess, id)
		}()
	}
}

func (s *Server) replayStatus(ctx context.Context, observer *session.Session, scannerID string) {
	res, err := s.Correlator.Send(ctx, scannerID, protocol.CommandFullStatus, nil, s.Config.StatusTimeout)
	if errors.Is(err, command.ErrNotFound) {
		return
	}
	if err != nil {
		slog.Warn("requesting full status", "scanner", scannerID, "observer", observer.ID, "error", err)
		return
	}
	msg := protocol.Message{Type: protocol.TypeFullStatus, SessionID: scannerID, Data: res.Data, Error: res.Error}
	if err := observer.Send(ctx, msg); err != nil {
		slog.Warn("sending full status", "scanner", scannerID, "observer", observer.ID, "error", err)
	}
}

func (s *Server) dispatch(ctx context.Context, wg *sync.WaitGroup, sess *session.Session, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypePong:
		sess.Ack()

	case protocol.TypeStatus:
		var data protocol.StatusData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				slog.Warn("ignoring malformed status", "session", sess.ID, "error", err)
				return
			}
		}
		s.Registry.UpdateStatus(sess, data.Status, data.Settings)

	case protocol.TypeDebug, protocol.TypeFullStatus:
		s.Registry.Relay(sess.ID, msg)

	case protocol.TypeCommandResponse:
		if !s.Correlator.Resolve(sess.ID, msg) {
			slog.Debug("dropping unmatched command response", "session", sess.ID, "correlation", msg.CorrelationID)
		}

	case protocol.TypeCommand:
		target := sess.ID
		if sess.Role == protocol.RoleOverseer {
			target = msg.SessionID
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.relayCommand(ctx, sess, target, msg)
		}()
	}
}

// relayCommand forwards an observer's command to a scanner and answers the
// observer with the outcome under the observer's own correlation id.
func (s *Server) relayCommand(ctx context.Context, from *session.Session, target string, msg protocol.Message) {
	reply := protocol.Message{
		Type:          protocol.TypeCommandResponse,
		Name:          msg.Name,
		CorrelationID: msg.CorrelationID,
		SessionID:     target,
	}

	if target == "" {
		reply.Error = "sessionId is required"
	} else {
		slog.Info("relaying command", "from", from.ID, "role", from.Role, "to", target, "command", msg.Name)
		res, err := s.Correlator.Send(ctx, target, msg.Name, msg.Data, 0)
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.Data, reply.Error = res.Data, res.Error
		}
	}

	if err := from.Send(ctx, reply); err != nil && ctx.Err() == nil {
		slog.Warn("sending command response", "session", from.ID, "command", msg.Name, "error", err)
	}
}

func (s *Server) writeTimeout() time.Duration {
	if s.Config.WriteTimeout > 0 {
		return s.Config.WriteTimeout
	}
	return 10 * time.Second
}
