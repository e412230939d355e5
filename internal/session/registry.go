package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/erazemk/scanfleet/internal/metrics"
	"github.com/erazemk/scanfleet/internal/protocol"
)

// Registry holds every open session. Scanners are unique per session id;
// listeners and overseers are tracked per connection, so several observers
// may follow the same scanner.
//
// Messages are always sent after the lock is released.
type Registry struct {
	mu        sync.RWMutex
	scanners  map[string]*Session
	observers map[*Session]struct{}

	metrics *metrics.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		scanners:  make(map[string]*Session),
		observers: make(map[*Session]struct{}),
		metrics:   m,
	}
}

// Register adds a session. A scanner registering under an id that is
// already connected replaces the old session, whose connection is closed;
// the replaced session is returned.
func (r *Registry) Register(s *Session) (replaced *Session) {
	r.mu.Lock()
	if s.Role == protocol.RoleScanner {
		replaced = r.scanners[s.ID]
		r.scanners[s.ID] = s
	} else {
		r.observers[s] = struct{}{}
	}
	r.mu.Unlock()

	if replaced != nil {
		slog.Info("scanner reconnected, replacing session", "session", s.ID)
		replaced.Close("replaced by a new connection")
	} else {
		r.metrics.SessionOpened(string(s.Role))
	}

	if s.Role == protocol.RoleScanner {
		r.notify(s.ID, protocol.TypeConnected, protocol.StatusData{Status: s.Status(), Settings: ptr(s.Settings())})
	}
	return replaced
}

// Remove drops a session. It returns false, and notifies no one, when the
// session is no longer registered.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	removed := false
	if s.Role == protocol.RoleScanner {
		if cur, ok := r.scanners[s.ID]; ok && cur == s {
			delete(r.scanners, s.ID)
			removed = true
		}
	} else if _, ok := r.observers[s]; ok {
		delete(r.observers, s)
		removed = true
	}
	r.mu.Unlock()

	if !removed {
		return false
	}
	r.metrics.SessionClosed(string(s.Role))
	if s.Role == protocol.RoleScanner {
		r.notify(s.ID, protocol.TypeDisconnect, nil)
	}
	return true
}

// Find returns the open session with the given id and role. For listeners
// and overseers the first match is returned.
func (r *Registry) Find(id string, role protocol.Role) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if role == protocol.RoleScanner {
		return r.scanners[id]
	}
	for s := range r.observers {
		if s.ID == id && s.Role == role {
			return s
		}
	}
	return nil
}

// ForEachOpen calls fn for every open session for which pred returns true.
// A nil pred matches every session. fn runs without the registry lock.
func (r *Registry) ForEachOpen(pred func(*Session) bool, fn func(*Session)) {
	for _, s := range r.snapshot() {
		if pred == nil || pred(s) {
			fn(s)
		}
	}
}

// Scanners returns the connected scanners ordered by session id.
func (r *Registry) Scanners() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.scanners))
	for _, s := range r.scanners {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Launched returns the connected scanners that are running a scan loop.
func (r *Registry) Launched() []*Session {
	var out []*Session
	for _, s := range r.Scanners() {
		if s.Launched() {
			out = append(out, s)
		}
	}
	return out
}

// List returns a snapshot of every session ordered by role then id.
func (r *Registry) List() []Info {
	sessions := r.snapshot()
	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Role != infos[j].Role {
			return infos[i].Role > infos[j].Role
		}
		return infos[i].SessionID < infos[j].SessionID
	})
	return infos
}

// UpdateStatus stores a scanner's self-report and relays it to its
// observers.
func (r *Registry) UpdateStatus(s *Session, status string, settings *protocol.Settings) {
	s.update(status, settings)
	r.notify(s.ID, protocol.TypeStatus, protocol.StatusData{Status: s.Status(), Settings: ptr(s.Settings())})
}

// Relay forwards m to the observers of sessionID.
func (r *Registry) Relay(sessionID string, m protocol.Message) {
	m.SessionID = sessionID
	for _, o := range r.observersOf(sessionID) {
		if err := o.Send(context.Background(), m); err != nil {
			slog.Warn("relaying message", "type", m.Type, "session", sessionID, "observer", o.ID, "error", err)
		}
	}
}

// CloseUser closes every scanner authenticated as username and returns how
// many were closed. Their read loops remove them from the registry.
func (r *Registry) CloseUser(username string) int {
	n := 0
	for _, s := range r.Scanners() {
		if s.Username == username {
			s.Close("user signed out")
			n++
		}
	}
	return n
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scanners) + len(r.observers)
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.scanners)+len(r.observers))
	for _, s := range r.scanners {
		out = append(out, s)
	}
	for s := range r.observers {
		out = append(out, s)
	}
	return out
}

// observersOf returns the listeners subscribed to sessionID and every
// overseer.
func (r *Registry) observersOf(sessionID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for o := range r.observers {
		if o.Role == protocol.RoleOverseer || o.ID == sessionID {
			out = append(out, o)
		}
	}
	return out
}

func (r *Registry) notify(sessionID string, t protocol.Type, data any) {
	m, err := protocol.Marshal(t, data)
	if err != nil {
		slog.Error("encoding notification", "type", t, "error", err)
		return
	}
	r.Relay(sessionID, m)
}

func ptr[T any](v T) *T { return &v }
