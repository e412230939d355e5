package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/erazemk/scanfleet/internal/command"
	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/model"
	"github.com/erazemk/scanfleet/internal/protocol"
	"github.com/erazemk/scanfleet/internal/reclaim"
	"github.com/erazemk/scanfleet/internal/session"
	"github.com/erazemk/scanfleet/internal/store"
)

// FleetHandler exposes connected sessions, scanner commands and scanner
// administration to operators.
type FleetHandler struct {
	DB         *db.DB
	Registry   *session.Registry
	Correlator *command.Correlator
	Sweeper    *reclaim.Sweeper
}

type commandRequest struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
	// Timeout in seconds; zero uses the server default.
	Timeout int `json:"timeout,omitempty"`
}

type scannerFlagsRequest struct {
	Flags model.ScannerFlags `json:"flags"`
}

type disableRequest struct {
	Disabled bool `json:"disabled"`
}

// Sessions handles GET /api/sessions. With launched=true only scanners that
// report a running scan loop are listed.
func (h *FleetHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	var launched bool
	if v := r.URL.Query().Get("launched"); v != "" {
		var err error
		if launched, err = strconv.ParseBool(v); err != nil {
			jsonError(w, http.StatusBadRequest, "invalid launched filter")
			return
		}
	}
	if !launched {
		jsonResponse(w, http.StatusOK, h.Registry.List())
		return
	}
	infos := []session.Info{}
	for _, s := range h.Registry.Launched() {
		infos = append(infos, s.Info())
	}
	jsonResponse(w, http.StatusOK, infos)
}

// Command handles POST /api/sessions/{sessionId}/commands. It blocks until
// the scanner answers or the command times out.
func (h *FleetHandler) Command(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")

	var req commandRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		jsonError(w, http.StatusBadRequest, "command name required")
		return
	}
	if !protocol.KnownCommand(req.Name) {
		slog.Warn("forwarding unknown command", "command", req.Name, "session", sessionID)
	}

	claims := GetClaims(r.Context())
	slog.Info("operator command", "operator", claims.Username, "session", sessionID, "command", req.Name)

	res, err := h.Correlator.Send(r.Context(), sessionID, req.Name, req.Data, time.Duration(req.Timeout)*time.Second)
	switch {
	case errors.Is(err, command.ErrNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, command.ErrTimeout):
		jsonError(w, http.StatusGatewayTimeout, err.Error())
	case err != nil && r.Context().Err() != nil:
		// The operator went away; nobody reads the response.
		slog.Info("operator command abandoned", "session", sessionID, "command", req.Name, "error", err)
	case err != nil:
		slog.Warn("operator command failed", "session", sessionID, "command", req.Name, "error", err)
		jsonError(w, http.StatusBadGateway, err.Error())
	default:
		jsonResponse(w, http.StatusOK, res)
	}
}

// Reclaim handles POST /api/reclaim by running one sweep immediately.
func (h *FleetHandler) Reclaim(w http.ResponseWriter, r *http.Request) {
	rep := h.Sweeper.Sweep(r.Context())
	claims := GetClaims(r.Context())
	slog.Info("manual reclaim", "operator", claims.Username, "checked", rep.Checked, "failures", rep.Failures)
	jsonResponse(w, http.StatusOK, rep)
}

// Scanners handles GET /api/scanners.
func (h *FleetHandler) Scanners(w http.ResponseWriter, r *http.Request) {
	scanners, err := store.ListScanners(r.Context(), h.DB)
	if err != nil {
		slog.Error("failed to list scanners", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list scanners")
		return
	}
	if scanners == nil {
		scanners = []model.Scanner{}
	}
	jsonResponse(w, http.StatusOK, scanners)
}

// SetScannerFlags handles PUT /api/scanners/{id}/flags.
func (h *FleetHandler) SetScannerFlags(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid scanner id")
		return
	}

	var req scannerFlagsRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s, err := store.GetScanner(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get scanner", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get scanner")
		return
	}
	if s == nil {
		jsonError(w, http.StatusNotFound, "scanner not found")
		return
	}

	if err := store.SetScannerFlags(r.Context(), h.DB, id, req.Flags); err != nil {
		slog.Error("failed to set scanner flags", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to set scanner flags")
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("scanner flags updated", "operator", claims.Username, "scanner", s.Name, "flags", req.Flags.Bits())
	s.Flags = req.Flags
	jsonResponse(w, http.StatusOK, s)
}

// ScannerUsers handles GET /api/scanner-users.
func (h *FleetHandler) ScannerUsers(w http.ResponseWriter, r *http.Request) {
	users, err := store.ListScannerUsers(r.Context(), h.DB)
	if err != nil {
		slog.Error("failed to list scanner users", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list scanner users")
		return
	}
	if users == nil {
		users = []model.ScannerUser{}
	}
	jsonResponse(w, http.StatusOK, users)
}

// SetScannerUserDisabled handles PUT /api/scanner-users/{id}/disabled.
// Disabling a user disconnects its scanners from the control channel and
// releases every lease they hold.
func (h *FleetHandler) SetScannerUserDisabled(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid scanner user id")
		return
	}

	var req disableRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	users, err := store.ListScannerUsers(r.Context(), h.DB)
	if err != nil {
		slog.Error("failed to list scanner users", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update scanner user")
		return
	}
	var target *model.ScannerUser
	for i := range users {
		if users[i].ID == id {
			target = &users[i]
		}
	}
	if target == nil {
		jsonError(w, http.StatusNotFound, "scanner user not found")
		return
	}

	if err := store.SetScannerUserDisabled(r.Context(), h.DB, id, req.Disabled); err != nil {
		slog.Error("failed to update scanner user", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update scanner user")
		return
	}

	var closed int
	var released int64
	if req.Disabled {
		closed = h.Registry.CloseUser(target.Username)
		if released, err = store.ReleaseUserLeases(r.Context(), h.DB, id); err != nil {
			slog.Error("failed to release scanner user leases", "scanner_user", target.Username, "error", err)
			jsonError(w, http.StatusInternalServerError, "failed to release scanner user leases")
			return
		}
	}

	claims := GetClaims(r.Context())
	slog.Info("scanner user updated", "operator", claims.Username, "scanner_user", target.Username,
		"disabled", req.Disabled, "sessions_closed", closed, "leases_released", released)
	target.Disabled = req.Disabled
	jsonResponse(w, http.StatusOK, target)
}
