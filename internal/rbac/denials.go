package rbac

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/covenant-app/covenant/internal/observability"
)

// ErrDenialQueueFull is returned when the audit buffer has no room.
var ErrDenialQueueFull = errors.New("rbac: denial queue full")

const (
	defaultDenialBuffer = 256
	denialRecordTimeout = 2 * time.Second
	denialDrainTimeout  = 5 * time.Second
)

// DenialQueue buffers denials in memory and forwards them to a slower
// recorder from a single goroutine. RecordDenial never blocks.
type DenialQueue struct {
	recorder DenialRecorder
	ch       chan Denial
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewDenialQueue constructs a DenialQueue. Call Run to start forwarding.
func NewDenialQueue(recorder DenialRecorder, size int, logger *slog.Logger, metrics *observability.Metrics) *DenialQueue {
	if size <= 0 {
		size = defaultDenialBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DenialQueue{
		recorder: recorder,
		ch:       make(chan Denial, size),
		logger:   logger,
		metrics:  metrics,
	}
}

// RecordDenial queues denial, or drops it when the buffer is full.
func (q *DenialQueue) RecordDenial(_ context.Context, denial Denial) error {
	select {
	case q.ch <- denial:
		q.metrics.ObserveDenialAudit("queued")
		return nil
	default:
		q.metrics.ObserveDenialAudit("dropped")
		return ErrDenialQueueFull
	}
}

// Pending reports the number of buffered denials.
func (q *DenialQueue) Pending() int {
	return len(q.ch)
}

// Run forwards queued denials until ctx is done, then flushes what is left
// within a bounded window.
func (q *DenialQueue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.drain()
			return
		case denial := <-q.ch:
			q.forward(ctx, denial)
		}
	}
}

func (q *DenialQueue) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), denialDrainTimeout)
	defer cancel()
	for {
		select {
		case denial := <-q.ch:
			if ctx.Err() != nil {
				q.metrics.ObserveDenialAudit("dropped")
				continue
			}
			q.forward(ctx, denial)
		default:
			return
		}
	}
}

func (q *DenialQueue) forward(ctx context.Context, denial Denial) {
	ctx, cancel := context.WithTimeout(ctx, denialRecordTimeout)
	defer cancel()
	if err := q.recorder.RecordDenial(ctx, denial); err != nil {
		q.metrics.ObserveDenialAudit("failed")
		q.logger.Warn("record denial",
			slog.String("principal_id", denial.PrincipalID),
			slog.String("required", denial.Permission),
			slog.Any("error", err))
	}
}

var _ DenialRecorder = (*DenialQueue)(nil)
