package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/covenant-app/covenant/internal/platform/httpx"
	"github.com/covenant-app/covenant/internal/shared"
)

// RolesHandler exposes the compiled role table.
type RolesHandler struct {
	resolver *Resolver
	guard    Guard
}

// NewRolesHandler builds RolesHandler instance.
func NewRolesHandler(resolver *Resolver, guard Guard) *RolesHandler {
	return &RolesHandler{resolver: resolver, guard: guard}
}

// MountRoutes registers role routes.
func (h *RolesHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.PermRolesRead))
		r.Get("/", h.listRoles)
	})
}

type rolesResponse struct {
	Top    string           `json:"top"`
	Roles  []RoleDefinition `json:"roles"`
	Scopes []string         `json:"scopes"`
}

func (h *RolesHandler) listRoles(w http.ResponseWriter, r *http.Request) {
	table := h.resolver.Table()
	httpx.JSON(w, http.StatusOK, rolesResponse{Top: table.Top(), Roles: table.Definitions(), Scopes: shared.CoreScopes()})
}
