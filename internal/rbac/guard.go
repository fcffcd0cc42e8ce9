package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/covenant-app/covenant/internal/auth"
	"github.com/covenant-app/covenant/internal/observability"
	"github.com/covenant-app/covenant/internal/platform/httpx"
	"github.com/covenant-app/covenant/internal/shared"
)

// TokenVerifier validates a bearer credential.
type TokenVerifier interface {
	Verify(token string) (auth.Principal, error)
}

// Denial describes a refused request for the audit trail.
type Denial struct {
	PrincipalID  string    `json:"principalId"`
	Role         string    `json:"role"`
	Permission   string    `json:"permission"`
	ResourceType string    `json:"resourceType,omitempty"`
	ResourceID   string    `json:"resourceId,omitempty"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	RequestID    string    `json:"requestId,omitempty"`
	At           time.Time `json:"at"`
}

// DenialRecorder persists denials out of band. Guard calls it after the
// response is written; wrap slow recorders in a DenialQueue.
type DenialRecorder interface {
	RecordDenial(ctx context.Context, denial Denial) error
}

// Guard composes credential verification and permission resolution into
// request middleware.
type Guard struct {
	Verifier        TokenVerifier
	Resolver        *Resolver
	Logger          *slog.Logger
	Metrics         *observability.Metrics
	Auditor         DenialRecorder
	AllowQueryToken bool
}

// Scope tells a collection handler how to narrow its result set.
type Scope struct {
	Filter  bool
	OwnerID string
}

type scopeContextKey struct{}
type decisionContextKey struct{}

// ScopeFromContext returns the collection scope attached by RequireCollection.
func ScopeFromContext(ctx context.Context) Scope {
	scope, _ := ctx.Value(scopeContextKey{}).(Scope)
	return scope
}

// DecisionFromContext returns the decision attached by RequireResource.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(Decision)
	return d, ok
}

// Authenticate verifies the credential and stores the principal in context.
func (g Guard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.PrincipalFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" && g.AllowQueryToken {
			token = r.URL.Query().Get("access_token")
		}
		principal, err := g.Verifier.Verify(token)
		if err != nil {
			accessErr := auth.AccessErrorFor(err)
			g.logger().Debug("credential rejected", slog.String("code", string(accessErr.Code)), slog.Any("error", err))
			httpx.RespondError(w, accessErr)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// Require admits only principals holding permission globally.
func (g Guard) Require(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			decision := g.Resolver.ResolveScoped(principal, permission, "", "")
			if decision.Kind != AllowGlobal {
				decision.Kind = Deny
				g.deny(w, r, principal, decision)
				return
			}
			g.Metrics.ObserveDecision(decision.Kind.String())
			next.ServeHTTP(w, r)
		}))
	}
}

// RequireResource resolves the resource id from the idParam path parameter and
// admits global grants or an ownership match.
func (g Guard) RequireResource(permission, resourceType, idParam string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			resourceID := chi.URLParam(r, idParam)
			decision := g.Resolver.ResolveScoped(principal, permission, resourceType, resourceID)
			if resourceID == "" && decision.Kind == ScopeFilterRequired {
				decision.Kind = Deny
			}
			if !decision.Allowed() {
				decision.ResourceID = resourceID
				g.deny(w, r, principal, decision)
				return
			}
			g.Metrics.ObserveDecision(decision.Kind.String())
			ctx := context.WithValue(r.Context(), decisionContextKey{}, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		}))
	}
}

// RequireCollection admits global grants unfiltered and ownership grants with
// a Scope requiring the handler to filter by the principal's linked id.
func (g Guard) RequireCollection(permission, resourceType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			decision := g.Resolver.ResolveScoped(principal, permission, resourceType, "")
			var scope Scope
			switch decision.Kind {
			case AllowGlobal:
			case ScopeFilterRequired:
				scope = Scope{Filter: true, OwnerID: decision.ResourceID}
			default:
				g.deny(w, r, principal, decision)
				return
			}
			g.Metrics.ObserveDecision(decision.Kind.String())
			ctx := context.WithValue(r.Context(), decisionContextKey{}, decision)
			ctx = context.WithValue(ctx, scopeContextKey{}, scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		}))
	}
}

// CanWatch reports whether principal may observe the lock state of a
// resource. It applies the same grant as GET /locks/{type}/{id}, with an
// ownership match admitted for own-scoped grants.
func (g Guard) CanWatch(principal auth.Principal, resourceType, resourceID string) bool {
	decision := g.Resolver.ResolveScoped(principal, shared.PermLocksRead, resourceType, resourceID)
	if resourceID == "" || !decision.Allowed() {
		g.Metrics.ObserveDecision(Deny.String())
		g.logger().Info("lock subscription denied",
			slog.String("principal_id", principal.ID),
			slog.String("role", principal.Role),
			slog.String("required", decision.Permission),
			slog.String("resource_type", resourceType),
		)
		return false
	}
	g.Metrics.ObserveDecision(decision.Kind.String())
	return true
}

func (g Guard) deny(w http.ResponseWriter, r *http.Request, principal auth.Principal, decision Decision) {
	g.Metrics.ObserveDecision(Deny.String())
	g.logger().Info("access denied",
		slog.String("principal_id", principal.ID),
		slog.String("role", principal.Role),
		slog.String("required", decision.Permission),
		slog.String("resource_type", decision.ResourceType),
		slog.String("path", r.URL.Path),
	)
	httpx.RespondError(w, shared.Forbidden(decision.Permission, principal.Role))
	if g.Auditor == nil {
		return
	}
	err := g.Auditor.RecordDenial(context.WithoutCancel(r.Context()), Denial{
		PrincipalID:  principal.ID,
		Role:         principal.Role,
		Permission:   decision.Permission,
		ResourceType: decision.ResourceType,
		ResourceID:   decision.ResourceID,
		Method:       r.Method,
		Path:         r.URL.Path,
		RequestID:    middleware.GetReqID(r.Context()),
		At:           time.Now().UTC(),
	})
	if err != nil {
		g.logger().Warn("record denial", slog.Any("error", err))
	}
}

func (g Guard) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}
