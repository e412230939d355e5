package api

import (
	"net/http"

	"github.com/erazemk/scanfleet/internal/clock"
	"github.com/erazemk/scanfleet/internal/command"
	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/lease"
	"github.com/erazemk/scanfleet/internal/metrics"
	"github.com/erazemk/scanfleet/internal/model"
	"github.com/erazemk/scanfleet/internal/reclaim"
	"github.com/erazemk/scanfleet/internal/session"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	DB         *db.DB
	JWTSecret  string
	Clock      clock.Clock
	Registry   *session.Registry
	Correlator *command.Correlator
	Leases     *lease.Manager
	Sweeper    *reclaim.Sweeper
	Metrics    *metrics.Metrics
	Limiter    *UserLimiter
	// Control is the websocket control channel, mounted at /ws.
	Control http.Handler
}

// NewRouter creates the router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: d.DB, JWTSecret: d.JWTSecret}
	operatorsHandler := &OperatorsHandler{DB: d.DB}
	fleetHandler := &FleetHandler{DB: d.DB, Registry: d.Registry, Correlator: d.Correlator, Sweeper: d.Sweeper}
	scannerHandler := &ScannerHandler{DB: d.DB, Leases: d.Leases, Clock: d.Clock, Metrics: d.Metrics, Limiter: d.Limiter}

	authMW := AuthMiddleware(d.JWTSecret, d.DB)
	requireAdmin := RequireRole(model.RoleAdmin)

	// Control channel and metrics.
	if d.Control != nil {
		mux.Handle("GET /ws", d.Control)
	}
	mux.Handle("GET /metrics", d.Metrics.Handler())

	// Scanner API: header credentials, envelope responses.
	mux.HandleFunc("GET /scanner-ping", scannerHandler.Ping)
	mux.HandleFunc("GET /scanner-work-items", scannerHandler.Checkout)
	mux.HandleFunc("POST /scanner-work-items", scannerHandler.Submit)
	mux.HandleFunc("DELETE /scanner-work-items", scannerHandler.Release)

	// Public: login.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Authenticated routes.
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))

	// Fleet: read (all roles), act (admin).
	mux.Handle("GET /api/sessions", authMW(http.HandlerFunc(fleetHandler.Sessions)))
	mux.Handle("POST /api/sessions/{sessionId}/commands", authMW(requireAdmin(http.HandlerFunc(fleetHandler.Command))))
	mux.Handle("POST /api/reclaim", authMW(requireAdmin(http.HandlerFunc(fleetHandler.Reclaim))))
	mux.Handle("GET /api/scanners", authMW(http.HandlerFunc(fleetHandler.Scanners)))
	mux.Handle("PUT /api/scanners/{id}/flags", authMW(requireAdmin(http.HandlerFunc(fleetHandler.SetScannerFlags))))
	mux.Handle("GET /api/scanner-users", authMW(http.HandlerFunc(fleetHandler.ScannerUsers)))
	mux.Handle("PUT /api/scanner-users/{id}/disabled", authMW(requireAdmin(http.HandlerFunc(fleetHandler.SetScannerUserDisabled))))

	// Operators (admin only).
	mux.Handle("GET /api/operators", authMW(requireAdmin(http.HandlerFunc(operatorsHandler.List))))
	mux.Handle("POST /api/operators", authMW(requireAdmin(http.HandlerFunc(operatorsHandler.Create))))
	mux.Handle("GET /api/operators/{id}", authMW(requireAdmin(http.HandlerFunc(operatorsHandler.Get))))
	mux.Handle("PUT /api/operators/{id}/password", authMW(requireAdmin(http.HandlerFunc(operatorsHandler.ResetPassword))))
	mux.Handle("DELETE /api/operators/{id}", authMW(requireAdmin(http.HandlerFunc(operatorsHandler.Delete))))

	return mux
}
