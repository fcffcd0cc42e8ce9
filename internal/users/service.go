package users

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/covenant-app/covenant/internal/auth"
	"github.com/covenant-app/covenant/internal/rbac"
	"github.com/covenant-app/covenant/internal/shared"
)

// AuditRecorder persists management actions.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles user business logic.
type Service struct {
	repo     Repository
	resolver *rbac.Resolver
	audit    AuditRecorder
	logger   *slog.Logger
}

// NewService builds Service instance. audit may be nil.
func NewService(repo Repository, resolver *rbac.Resolver, audit AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, resolver: resolver, audit: audit, logger: logger}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// ChangeRole assigns newRole to target. The actor must outrank both the role
// granted and the target's current role.
func (s *Service) ChangeRole(ctx context.Context, actor auth.Principal, targetID, newRole string) (User, error) {
	if !s.resolver.KnownRole(newRole) {
		return User{}, fmt.Errorf("%w: unknown role %q", shared.ErrValidation, newRole)
	}
	if actor.ID == targetID {
		return User{}, fmt.Errorf("%w: cannot change own role", shared.ErrValidation)
	}
	if !s.resolver.CanManageRole(actor.Role, newRole) {
		return User{}, shared.RoleEscalation(newRole, actor.Role)
	}
	var updated User
	var previous string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		target, err := tx.LockUser(ctx, targetID)
		if err != nil {
			return err
		}
		if !s.resolver.CanManageRole(actor.Role, target.Role) {
			return shared.InsufficientPrivilege(actor.Role)
		}
		previous = target.Role
		updated, err = tx.UpdateRole(ctx, targetID, newRole)
		return err
	})
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actor, "user.role_changed", targetID, map[string]any{"from": previous, "to": newRole})
	return updated, nil
}

// DeleteUser deactivates target when the actor outranks it.
func (s *Service) DeleteUser(ctx context.Context, actor auth.Principal, targetID string) error {
	if actor.ID == targetID {
		return fmt.Errorf("%w: cannot delete own account", shared.ErrValidation)
	}
	var role string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		target, err := tx.LockUser(ctx, targetID)
		if err != nil {
			return err
		}
		if !s.resolver.CanManageRole(actor.Role, target.Role) {
			return shared.InsufficientPrivilege(actor.Role)
		}
		role = target.Role
		return tx.Deactivate(ctx, targetID)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "user.deleted", targetID, map[string]any{"role": role})
	return nil
}

func (s *Service) record(ctx context.Context, actor auth.Principal, action, targetID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	meta["actor_role"] = actor.Role
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "user",
		EntityID: targetID,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("users: audit", slog.String("action", action), slog.Any("error", err))
	}
}
