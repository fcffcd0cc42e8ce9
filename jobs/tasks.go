package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/covenant-app/covenant/internal/jobs"
	"github.com/covenant-app/covenant/internal/rbac"
	"github.com/covenant-app/covenant/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditAccessDenied persists an authorization denial.
	TaskAuditAccessDenied = "audit:access-denied"
)

// NewAccessDeniedTask constructs an Asynq task for a denial.
func NewAccessDeniedTask(denial rbac.Denial) (*asynq.Task, error) {
	data, err := json.Marshal(denial)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditAccessDenied, data, asynq.MaxRetry(5), asynq.Timeout(30*time.Second)), nil
}

// AuditWriter persists audit rows; satisfied by *shared.AuditLogger.
type AuditWriter interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AccessDeniedJob writes denials to audit_logs.
type AccessDeniedJob struct {
	Audit   AuditWriter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAccessDeniedJob initialises the denial audit handler.
func NewAccessDeniedJob(audit AuditWriter, logger *slog.Logger, metrics *jobmetrics.Metrics) *AccessDeniedJob {
	return &AccessDeniedJob{Audit: audit, Logger: logger, Metrics: metrics}
}

// Handle executes the denial audit.
func (j *AccessDeniedJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Audit == nil {
		return errors.New("access denied audit: handler not configured")
	}
	var denial rbac.Denial
	if err := json.Unmarshal(t.Payload(), &denial); err != nil {
		return fmt.Errorf("access denied audit: decode: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskAuditAccessDenied)
	entity := denial.ResourceType
	if entity == "" {
		entity = "route"
	}
	err := j.Audit.Record(ctx, shared.AuditLog{
		ActorID:  denial.PrincipalID,
		Action:   "access.denied",
		Entity:   entity,
		EntityID: denial.ResourceID,
		Meta: map[string]any{
			"role":       denial.Role,
			"permission": denial.Permission,
			"method":     denial.Method,
			"path":       denial.Path,
			"request_id": denial.RequestID,
		},
		At: denial.At,
	})
	if err != nil {
		if j.Logger != nil {
			j.Logger.Warn("access denied audit", slog.Any("error", err))
		}
		return tracker.End(err)
	}
	j.Metrics.AddDenial(denial.Role, denial.Permission)
	return tracker.End(nil)
}
