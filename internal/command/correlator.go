// Package command pairs commands sent to scanners with their responses.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/scanfleet/internal/metrics"
	"github.com/erazemk/scanfleet/internal/protocol"
	"github.com/erazemk/scanfleet/internal/session"
)

// DefaultTimeout is long because scanners may be in the middle of a scan
// when a command arrives.
const DefaultTimeout = 20 * time.Minute

var (
	// ErrNotFound is returned when no scanner is connected under the id.
	ErrNotFound = errors.New("scanner not connected")
	// ErrTimeout is returned when the scanner does not answer in time.
	ErrTimeout = errors.New("command timed out")
)

// Result is a scanner's answer to a command.
type Result struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

type waiter struct {
	sessionID string
	ch        chan protocol.Message
}

// Correlator tracks outstanding commands by correlation id. Each id has at
// most one waiter and is resolved at most once.
type Correlator struct {
	registry *session.Registry
	timeout  time.Duration
	metrics  *metrics.Metrics

	mu      sync.Mutex
	pending map[string]*waiter
}

// NewCorrelator creates a Correlator. A non-positive timeout selects
// DefaultTimeout.
func NewCorrelator(reg *session.Registry, timeout time.Duration, m *metrics.Metrics) *Correlator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Correlator{
		registry: reg,
		timeout:  timeout,
		metrics:  m,
		pending:  make(map[string]*waiter),
	}
}

// Send issues a command to the scanner connected as sessionID and waits for
// its response. Only the calling goroutine blocks. A non-positive timeout
// uses the correlator's default.
func (c *Correlator) Send(ctx context.Context, sessionID, name string, payload json.RawMessage, timeout time.Duration) (Result, error) {
	s := c.registry.Find(sessionID, protocol.RoleScanner)
	if s == nil {
		c.metrics.CommandDone("not_found")
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	id := uuid.NewString()
	w := &waiter{sessionID: sessionID, ch: make(chan protocol.Message, 1)}
	c.register(id, w)
	defer c.deregister(id)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := s.Send(ctx, protocol.Message{
		Type:          protocol.TypeCommand,
		Name:          name,
		Data:          payload,
		CorrelationID: id,
	})
	if err != nil {
		c.metrics.CommandDone("error")
		return Result{}, fmt.Errorf("sending %s to %s: %w", name, sessionID, err)
	}

	select {
	case resp := <-w.ch:
		c.metrics.CommandDone("ok")
		return Result{Data: resp.Data, Error: resp.Error}, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.metrics.CommandDone("timeout")
			slog.Warn("command timed out", "session", sessionID, "command", name, "timeout", timeout)
			return Result{}, fmt.Errorf("%w: %s to %s after %s", ErrTimeout, name, sessionID, timeout)
		}
		c.metrics.CommandDone("error")
		return Result{}, ctx.Err()
	}
}

// Resolve delivers a commandResponse received from fromSessionID. It
// returns false when no waiter matches: the id is unknown, already
// resolved, or the command went to a different session.
func (c *Correlator) Resolve(fromSessionID string, m protocol.Message) bool {
	c.mu.Lock()
	w, ok := c.pending[m.CorrelationID]
	if !ok || w.sessionID != fromSessionID {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, m.CorrelationID)
	c.metrics.SetCommandsPending(len(c.pending))
	c.mu.Unlock()

	w.ch <- m
	return true
}

// Pending returns the number of commands awaiting a response.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) register(id string, w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[id] = w
	c.metrics.SetCommandsPending(len(c.pending))
}

func (c *Correlator) deregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
	c.metrics.SetCommandsPending(len(c.pending))
}
