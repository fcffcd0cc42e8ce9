package locks

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/covenant-app/covenant/internal/auth"
	"github.com/covenant-app/covenant/internal/platform/httpx"
	"github.com/covenant-app/covenant/internal/rbac"
	"github.com/covenant-app/covenant/internal/shared"
)

// Handler exposes the lock RPCs over HTTP.
type Handler struct {
	logger  *slog.Logger
	manager *Manager
	guard   rbac.Guard
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, manager *Manager, guard rbac.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, manager: manager, guard: guard}
}

// MountRoutes registers lock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard.Require(shared.PermLocksWrite)).Post("/{resourceType}/{resourceID}", h.acquire)
	r.With(h.guard.Require(shared.PermLocksWrite)).Delete("/{resourceType}/{resourceID}", h.release)
	r.With(h.guard.Require(shared.PermLocksRead)).Get("/{resourceType}/{resourceID}", h.check)
}

type acquireResponse struct {
	Success   bool       `json:"success"`
	LockedBy  string     `json:"lockedBy,omitempty"`
	Code      string     `json:"code,omitempty"`
	Error     string     `json:"error,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Renewed   bool       `json:"renewed,omitempty"`
	Degraded  bool       `json:"degraded,omitempty"`
}

type releaseResponse struct {
	Success  bool `json:"success"`
	Degraded bool `json:"degraded,omitempty"`
}

type checkResponse struct {
	IsLocked   bool       `json:"isLocked"`
	LockedBy   string     `json:"lockedBy,omitempty"`
	AcquiredAt *time.Time `json:"acquiredAt,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Degraded   bool       `json:"degraded,omitempty"`
}

func holderFrom(r *http.Request) Holder {
	p, _ := auth.PrincipalFromContext(r.Context())
	return Holder{ID: p.ID, DisplayName: p.DisplayName}
}

func (h *Handler) acquire(w http.ResponseWriter, r *http.Request) {
	result, err := h.manager.Acquire(r.Context(), chi.URLParam(r, "resourceType"), chi.URLParam(r, "resourceID"), holderFrom(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !result.Success {
		h.logger.Debug("lock conflict",
			slog.String("resource_type", result.Lock.ResourceType),
			slog.String("resource_id", result.Lock.ResourceID),
			slog.String("locked_by", result.Lock.HolderID))
		denied := shared.LockDenied(result.LockedBy)
		httpx.JSON(w, denied.Code.Status(), acquireResponse{
			Success:  false,
			LockedBy: result.LockedBy,
			Code:     string(denied.Code),
			Error:    denied.Message,
		})
		return
	}
	expiresAt := result.Lock.ExpiresAt
	httpx.JSON(w, http.StatusOK, acquireResponse{
		Success:   true,
		ExpiresAt: &expiresAt,
		Renewed:   result.Renewed,
		Degraded:  result.Degraded,
	})
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	result, err := h.manager.Release(r.Context(), chi.URLParam(r, "resourceType"), chi.URLParam(r, "resourceID"), holderFrom(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, releaseResponse{Success: result.Success, Degraded: result.Degraded})
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	state, err := h.manager.Check(r.Context(), chi.URLParam(r, "resourceType"), chi.URLParam(r, "resourceID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := checkResponse{IsLocked: state.IsLocked, LockedBy: state.LockedBy, Degraded: state.Degraded}
	if state.IsLocked {
		acquiredAt, expiresAt := state.AcquiredAt, state.ExpiresAt
		resp.AcquiredAt = &acquiredAt
		resp.ExpiresAt = &expiresAt
	}
	httpx.JSON(w, http.StatusOK, resp)
}
