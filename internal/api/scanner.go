package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/erazemk/scanfleet/internal/auth"
	"github.com/erazemk/scanfleet/internal/clock"
	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/lease"
	"github.com/erazemk/scanfleet/internal/metrics"
	"github.com/erazemk/scanfleet/internal/model"
)

// ScannerHandler serves the scanner work-item API. Scanners authenticate
// with username, password and scanner headers on every request; every
// response is HTTP 200 with an errors/warnings/data envelope.
type ScannerHandler struct {
	DB      *db.DB
	Leases  *lease.Manager
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Limiter *UserLimiter
}

type releaseRequest struct {
	OffersFrom lease.OffersFrom `json:"offersFrom"`
	ItemID     string           `json:"itemId"`
	Scanned    bool             `json:"scanned"`
}

// UserLimiter keeps one token bucket per scanner username.
type UserLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewUserLimiter allows perMinute requests per user with an equal burst.
// A non-positive perMinute disables limiting.
func NewUserLimiter(perMinute int) *UserLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &UserLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether username may make another request now.
func (l *UserLimiter) Allow(username string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[username]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[username] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// user authenticates the request headers. On failure the envelope already
// carries the error.
func (h *ScannerHandler) user(r *http.Request, env *envelope) *model.ScannerUser {
	username := r.Header.Get("username")
	u, err := auth.AuthenticateScannerUser(r.Context(), h.DB, username, r.Header.Get("password"))
	switch {
	case errors.Is(err, auth.ErrBadCredentials), errors.Is(err, auth.ErrDisabled):
		slog.Warn("scanner api access denied", "username", username, "remote", r.RemoteAddr)
		env.fail("access denied")
		return nil
	case err != nil:
		slog.Error("failed to authenticate scanner user", "error", err)
		env.fail("internal error")
		return nil
	}

	if !h.Limiter.Allow(u.Username) {
		h.Metrics.RateLimited()
		env.fail("rate limit exceeded")
		return nil
	}
	return u
}

// scanner authenticates the request and resolves the scanner header.
func (h *ScannerHandler) scanner(r *http.Request, env *envelope) *model.Scanner {
	u := h.user(r, env)
	if u == nil {
		return nil
	}

	name := r.Header.Get("scanner")
	if name == "" {
		env.fail("no scanner name specified")
		return nil
	}

	s, err := auth.ResolveScanner(r.Context(), h.DB, u, name, h.Clock.Now())
	if errors.Is(err, auth.ErrScannerDenied) {
		env.fail(err.Error())
		return nil
	}
	if err != nil {
		slog.Error("failed to resolve scanner", "scanner", name, "error", err)
		env.fail("internal error")
		return nil
	}
	return s
}

// Ping handles GET /scanner-ping.
func (h *ScannerHandler) Ping(w http.ResponseWriter, r *http.Request) {
	env := &envelope{}
	if h.user(r, env) != nil {
		env.Data = "ok"
	}
	writeEnvelope(w, env)
}

// Checkout handles GET /scanner-work-items. Options come from a JSON body
// or, when there is none, from the query string.
func (h *ScannerHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	env := &envelope{Data: []model.WorkItem{}}
	defer writeEnvelope(w, env)

	s := h.scanner(r, env)
	if s == nil {
		return
	}

	opts, err := checkoutOptions(r)
	if err != nil {
		env.fail(err.Error())
		return
	}

	batch, err := h.Leases.Checkout(r.Context(), s, opts)
	if err != nil {
		h.leaseError(env, s, "checkout", err)
		return
	}
	env.Data = batch.Items
	slog.Debug("scanner checked out items", "scanner", s.Name, "domain", batch.Domain, "count", len(batch.Items))
}

// Submit handles POST /scanner-work-items.
func (h *ScannerHandler) Submit(w http.ResponseWriter, r *http.Request) {
	env := &envelope{}
	defer writeEnvelope(w, env)

	s := h.scanner(r, env)
	if s == nil {
		return
	}

	var sub lease.Submission
	if err := decodeJSON(r, &sub); err != nil {
		env.fail("invalid request body")
		return
	}

	res, err := h.Leases.SubmitPrices(r.Context(), s, sub)
	env.Errors = append(env.Errors, res.Errors...)
	env.Warnings = append(env.Warnings, res.Warnings...)
	if err != nil {
		h.leaseError(env, s, "submit", err)
		return
	}
	env.Data = map[string]any{
		"player_prices": res.PlayerPrices,
		"trader_prices": res.TraderPrices,
		"released":      res.Released,
	}
}

// Release handles DELETE /scanner-work-items. Without an itemId every item
// the scanner holds in the domain is released.
func (h *ScannerHandler) Release(w http.ResponseWriter, r *http.Request) {
	env := &envelope{Data: 0}
	defer writeEnvelope(w, env)

	s := h.scanner(r, env)
	if s == nil {
		return
	}

	var req releaseRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			env.fail("invalid request body")
			return
		}
	}

	domain := req.OffersFrom.Domain()
	markScanned := req.Scanned && req.ItemID != "" && !s.UserCapabilities.SkipPriceInsert && !s.Flags.SkipPriceInsert
	n, err := h.Leases.Release(r.Context(), s.ID, domain, req.ItemID, markScanned)
	if err != nil {
		h.leaseError(env, s, "release", err)
		return
	}
	if n == 0 && req.ItemID != "" {
		env.warn("item " + req.ItemID + " was not checked out")
	}
	env.Data = n
}

func (h *ScannerHandler) leaseError(env *envelope, s *model.Scanner, op string, err error) {
	if !errors.Is(err, lease.ErrForbidden) {
		slog.Error("scanner work item request failed", "op", op, "scanner", s.Name, "error", err)
	}
	env.fail(err.Error())
}

func checkoutOptions(r *http.Request) (lease.Options, error) {
	var opts lease.Options
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &opts); err != nil {
			return opts, errors.New("invalid request body")
		}
		return opts, nil
	}

	q := r.URL.Query()
	if v := q.Get("batchSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, errors.New("invalid batchSize")
		}
		opts.BatchSize = n
	}
	of, err := lease.ParseOffersFrom(q.Get("offersFrom"))
	if err != nil {
		return opts, err
	}
	opts.OffersFrom = of
	if v := q.Get("limitTraderScan"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errors.New("invalid limitTraderScan")
		}
		opts.LimitTraderScan = &b
	}
	opts.FleaMarketAvailable, _ = strconv.ParseBool(q.Get("fleaMarketAvailable"))
	return opts, nil
}
