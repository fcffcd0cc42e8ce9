package locks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/covenant-app/covenant/internal/notify"
	"github.com/covenant-app/covenant/internal/observability"
	"github.com/covenant-app/covenant/internal/shared"
)

// DefaultTTL bounds how long an abandoned lock survives.
const DefaultTTL = 5 * time.Minute

const publishTimeout = 2 * time.Second

// Config tunes the Manager.
type Config struct {
	TTL time.Duration
	Now func() time.Time
}

// Manager arbitrates edit locks. Store failures fail open: acquire and release
// report success and check reports unlocked, with Degraded set.
type Manager struct {
	store     Store
	publisher notify.Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	ttl       time.Duration
	now       func() time.Time
	validate  *validator.Validate
}

// NewManager constructs a Manager. publisher may be nil.
func NewManager(store Store, publisher notify.Publisher, logger *slog.Logger, metrics *observability.Metrics, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		ttl:       cfg.TTL,
		now:       cfg.Now,
		validate:  validator.New(),
	}
}

// TTL returns the configured lock lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

type lockTarget struct {
	ResourceType string `validate:"required,max=64,excludesall=:"`
	ResourceID   string `validate:"required,max=128,excludesall=:"`
}

func (m *Manager) key(resourceType, resourceID string) (string, error) {
	if err := m.validate.Struct(lockTarget{ResourceType: resourceType, ResourceID: resourceID}); err != nil {
		return "", fmt.Errorf("%w: invalid lock target", shared.ErrValidation)
	}
	return shared.LockKey(resourceType, resourceID), nil
}

// Acquire takes the lock for holder, or renews it when holder already has it.
func (m *Manager) Acquire(ctx context.Context, resourceType, resourceID string, holder Holder) (AcquireResult, error) {
	key, err := m.key(resourceType, resourceID)
	if err != nil {
		return AcquireResult{}, err
	}
	if holder.ID == "" {
		return AcquireResult{}, fmt.Errorf("%w: holder required", shared.ErrValidation)
	}
	now := m.now().UTC()
	rec := Record{HolderID: holder.ID, HolderName: holder.DisplayName, AcquiredAt: now, ExpiresAt: now.Add(m.ttl)}
	outcome, current, err := m.store.Acquire(ctx, key, rec, m.ttl)
	if errors.Is(err, ErrContended) {
		outcome, current, err = m.settleContended(ctx, key, rec)
	}
	if err != nil {
		m.logger.Warn("lock store unavailable, granting acquire",
			slog.String("key", key), slog.String("holder_id", holder.ID), slog.Any("error", err))
		m.metrics.ObserveLock("acquire", "degraded")
		return AcquireResult{Success: true, Degraded: true, Lock: toLock(resourceType, resourceID, rec)}, nil
	}
	lock := toLock(resourceType, resourceID, current)
	switch outcome {
	case Acquired:
		m.metrics.ObserveLock("acquire", "acquired")
		m.publish(ctx, notify.Event{
			ResourceType: resourceType,
			ResourceID:   resourceID,
			IsLocked:     true,
			LockedBy:     lock.LockedBy(),
			LockedByID:   lock.HolderID,
		})
		return AcquireResult{Success: true, Lock: lock}, nil
	case Renewed:
		m.metrics.ObserveLock("acquire", "renewed")
		return AcquireResult{Success: true, Renewed: true, Lock: lock}, nil
	default:
		m.metrics.ObserveLock("acquire", "conflict")
		return AcquireResult{Success: false, LockedBy: lock.LockedBy(), Lock: lock}, nil
	}
}

func (m *Manager) settleContended(ctx context.Context, key string, rec Record) (Outcome, Record, error) {
	current, found, err := m.store.Get(ctx, key)
	if err != nil {
		return 0, Record{}, err
	}
	if found && current.HolderID != rec.HolderID {
		return Conflict, current, nil
	}
	outcome, current, err := m.store.Acquire(ctx, key, rec, m.ttl)
	if !errors.Is(err, ErrContended) {
		return outcome, current, err
	}
	// Still contended: report whoever holds it now.
	current, found, err = m.store.Get(ctx, key)
	if err != nil {
		return 0, Record{}, err
	}
	if found && current.HolderID == rec.HolderID {
		return Renewed, current, nil
	}
	return Conflict, current, nil
}

// Release drops the lock if holder is the recorded holder. Other callers get
// a silent success.
func (m *Manager) Release(ctx context.Context, resourceType, resourceID string, holder Holder) (ReleaseResult, error) {
	key, err := m.key(resourceType, resourceID)
	if err != nil {
		return ReleaseResult{}, err
	}
	released, err := m.store.Release(ctx, key, holder.ID)
	if err != nil {
		m.logger.Warn("lock store unavailable, skipping release",
			slog.String("key", key), slog.String("holder_id", holder.ID), slog.Any("error", err))
		m.metrics.ObserveLock("release", "degraded")
		return ReleaseResult{Success: true, Degraded: true}, nil
	}
	if !released {
		m.metrics.ObserveLock("release", "noop")
		return ReleaseResult{Success: true}, nil
	}
	m.metrics.ObserveLock("release", "released")
	m.publish(ctx, notify.Event{ResourceType: resourceType, ResourceID: resourceID, IsLocked: false})
	return ReleaseResult{Success: true, Released: true}, nil
}

// Check reads the lock state without side effects.
func (m *Manager) Check(ctx context.Context, resourceType, resourceID string) (CheckResult, error) {
	key, err := m.key(resourceType, resourceID)
	if err != nil {
		return CheckResult{}, err
	}
	rec, found, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.Warn("lock store unavailable, reporting unlocked", slog.String("key", key), slog.Any("error", err))
		m.metrics.ObserveLock("check", "degraded")
		return CheckResult{Degraded: true}, nil
	}
	if !found {
		return CheckResult{}, nil
	}
	lock := toLock(resourceType, resourceID, rec)
	return CheckResult{
		IsLocked:   true,
		LockedBy:   lock.LockedBy(),
		LockedByID: lock.HolderID,
		AcquiredAt: lock.AcquiredAt,
		ExpiresAt:  lock.ExpiresAt,
	}, nil
}

// Snapshot renders the current state as a notification event.
func (m *Manager) Snapshot(ctx context.Context, resourceType, resourceID string) notify.Event {
	ev := notify.Event{ResourceType: resourceType, ResourceID: resourceID}
	state, err := m.Check(ctx, resourceType, resourceID)
	if err != nil {
		return ev
	}
	ev.IsLocked = state.IsLocked
	ev.LockedBy = state.LockedBy
	ev.LockedByID = state.LockedByID
	return ev
}

// HeldBy reports whether holderID currently holds the lock. A degraded check
// counts as held.
func (m *Manager) HeldBy(ctx context.Context, resourceType, resourceID, holderID string) (bool, CheckResult, error) {
	state, err := m.Check(ctx, resourceType, resourceID)
	if err != nil {
		return false, state, err
	}
	if state.Degraded {
		return true, state, nil
	}
	return state.IsLocked && state.LockedByID == holderID, state, nil
}

func (m *Manager) publish(ctx context.Context, ev notify.Event) {
	if m.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := m.publisher.Publish(ctx, ev); err != nil {
		m.logger.Warn("publish lock event", slog.String("topic", ev.Topic()), slog.Any("error", err))
	}
}

func toLock(resourceType, resourceID string, rec Record) Lock {
	return Lock{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		HolderID:     rec.HolderID,
		HolderName:   rec.HolderName,
		AcquiredAt:   rec.AcquiredAt,
		ExpiresAt:    rec.ExpiresAt,
	}
}

var _ notify.StateReader = (*Manager)(nil)
