package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/covenant-app/covenant/internal/auth"
	"github.com/covenant-app/covenant/internal/locks"
	"github.com/covenant-app/covenant/internal/members"
	"github.com/covenant-app/covenant/internal/observability"
	"github.com/covenant-app/covenant/internal/platform/httpx"
	"github.com/covenant-app/covenant/internal/rbac"
	"github.com/covenant-app/covenant/internal/shared"
	"github.com/covenant-app/covenant/internal/users"
	"github.com/covenant-app/covenant/jobs"
)

// Pinger reports whether a backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	Guard   rbac.Guard

	AuthHandler    *auth.Handler
	UsersHandler   *users.Handler
	MembersHandler *members.Handler
	LocksHandler   *locks.Handler
	RolesHandler   *rbac.RolesHandler
	JobHandler     *jobs.Handler
	SocketHandler  http.Handler

	// LockStore is pinged by /healthz; a failure reports degraded, not down.
	LockStore Pinger
}

type healthResponse struct {
	Status    string `json:"status"`
	LockStore string `json:"lockStore"`
}

// NewRouter constructs the chi.Router with Covenant defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	mwCfg := MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}
	for _, mw := range BaseMiddleware(mwCfg) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", LockStore: "ok"}
		if params.LockStore != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.LockStore.Ping(ctx); err != nil {
				params.Logger.Warn("healthz lock store", slog.Any("error", err))
				resp.Status = "degraded"
				resp.LockStore = "unavailable"
			}
		}
		httpx.JSON(w, http.StatusOK, resp)
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.SocketHandler != nil {
		r.With(params.Guard.Authenticate).Handle("/ws", params.SocketHandler)
	}

	r.Group(func(r chi.Router) {
		for _, mw := range RequestMiddleware(mwCfg) {
			r.Use(mw)
		}
		r.Use(chimw.Logger)

		if params.AuthHandler != nil {
			limit := 10
			if params.Config != nil && params.Config.LoginRateLimit > 0 {
				limit = params.Config.LoginRateLimit
			}
			r.Route("/auth", func(r chi.Router) {
				r.Use(httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
				params.AuthHandler.MountRoutes(r)
			})
		}
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		if params.MembersHandler != nil {
			r.Route("/members", params.MembersHandler.MountRoutes)
		}
		if params.LocksHandler != nil {
			r.Route("/locks", params.LocksHandler.MountRoutes)
		}
		if params.RolesHandler != nil {
			r.Route("/roles", params.RolesHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.Guard.Require(shared.PermAuditRead))
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	return r
}
