package members

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/covenant-app/covenant/internal/auth"
	"github.com/covenant-app/covenant/internal/locks"
	"github.com/covenant-app/covenant/internal/platform/httpx"
	"github.com/covenant-app/covenant/internal/rbac"
	"github.com/covenant-app/covenant/internal/shared"
)

// ResourceType names members in permissions and lock keys.
const ResourceType = "member"

// LockChecker reports edit-lock ownership.
type LockChecker interface {
	HeldBy(ctx context.Context, resourceType, resourceID, holderID string) (bool, locks.CheckResult, error)
}

// Handler serves member routes.
type Handler struct {
	logger    *slog.Logger
	repo      Repository
	locks     LockChecker
	guard     rbac.Guard
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, repo Repository, lockChecker LockChecker, guard rbac.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, repo: repo, locks: lockChecker, guard: guard, validator: validator.New()}
}

// MountRoutes registers member routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard.RequireCollection(shared.PermMembersRead, ResourceType)).Get("/", h.list)
	r.With(h.guard.RequireResource(shared.PermMembersRead, ResourceType, "id")).Get("/{id}", h.get)
	r.With(h.guard.RequireResource(shared.PermMembersUpdate, ResourceType, "id")).Patch("/{id}", h.update)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	scope := rbac.ScopeFromContext(r.Context())
	filter := ListFilter{}
	if scope.Filter {
		filter.OwnerID = scope.OwnerID
	}
	list, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list members", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if list == nil {
		list = []Member{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"members": list, "scoped": scope.Filter})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	member, err := h.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("get member", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, member)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var patch Patch
	if err := httpx.DecodeJSON(r, &patch); err != nil || patch.Empty() {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidation, "invalid request body")
		return
	}
	if err := h.validator.Struct(patch); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidation, "invalid member fields")
		return
	}
	id := chi.URLParam(r, "id")
	principal, _ := auth.PrincipalFromContext(r.Context())
	held, state, err := h.locks.HeldBy(r.Context(), ResourceType, id, principal.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !held {
		denied := shared.LockDenied(state.LockedBy)
		if !state.IsLocked {
			denied.Message = "acquire the edit lock before updating"
		}
		httpx.RespondError(w, denied)
		return
	}
	member, err := h.repo.Update(r.Context(), id, patch)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("update member", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, member)
}
