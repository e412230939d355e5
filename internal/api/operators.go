package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/scanfleet/internal/auth"
	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/model"
	"github.com/erazemk/scanfleet/internal/store"
)

// OperatorsHandler handles operator management endpoints (admin only).
type OperatorsHandler struct {
	DB *db.DB
}

type createOperatorRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

// List handles GET /api/operators.
func (h *OperatorsHandler) List(w http.ResponseWriter, r *http.Request) {
	ops, err := store.ListOperators(r.Context(), h.DB)
	if err != nil {
		slog.Error("failed to list operators", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list operators")
		return
	}
	if ops == nil {
		ops = []model.Operator{}
	}
	jsonResponse(w, http.StatusOK, ops)
}

// Create handles POST /api/operators.
func (h *OperatorsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOperatorRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" || req.Role == "" {
		jsonError(w, http.StatusBadRequest, "username, password, and role required")
		return
	}
	if !model.ValidRole(req.Role) {
		jsonError(w, http.StatusBadRequest, "invalid role")
		return
	}
	if err := model.ValidatePassword(req.Password); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	op, err := store.CreateOperator(r.Context(), h.DB, req.Username, hash, req.Role)
	if err != nil {
		jsonError(w, http.StatusConflict, "username already exists")
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("operator created", "operator", claims.Username, "new_operator", req.Username, "role", req.Role)
	jsonResponse(w, http.StatusCreated, op)
}

// Get handles GET /api/operators/{id}.
func (h *OperatorsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid operator id")
		return
	}

	op, err := store.GetOperator(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get operator", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get operator")
		return
	}
	if op == nil || op.DeletedAt != nil {
		jsonError(w, http.StatusNotFound, "operator not found")
		return
	}

	jsonResponse(w, http.StatusOK, op)
}

// ResetPassword handles PUT /api/operators/{id}/password.
func (h *OperatorsHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid operator id")
		return
	}

	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := model.ValidatePassword(req.Password); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	if err := store.UpdateOperatorPassword(r.Context(), h.DB, id, hash); err != nil {
		slog.Error("failed to reset password", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to reset password")
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("operator password reset", "operator", claims.Username, "target_operator", operatorName(r, h.DB, id))
	jsonResponse(w, http.StatusOK, map[string]string{"message": "password reset"})
}

// Delete handles DELETE /api/operators/{id}.
func (h *OperatorsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid operator id")
		return
	}

	claims := GetClaims(r.Context())
	if claims != nil && claims.OperatorID == id {
		jsonError(w, http.StatusBadRequest, "cannot delete yourself")
		return
	}

	target := operatorName(r, h.DB, id)
	if err := store.DeleteOperator(r.Context(), h.DB, id); err != nil {
		slog.Error("failed to delete operator", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete operator")
		return
	}

	slog.Info("operator deleted", "operator", claims.Username, "deleted_operator", target)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "operator deleted"})
}

func operatorName(r *http.Request, d *db.DB, id int64) string {
	if op, _ := store.GetOperator(r.Context(), d, id); op != nil {
		return op.Username
	}
	return fmt.Sprintf("id:%d", id)
}
