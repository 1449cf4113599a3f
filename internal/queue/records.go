// Package queue defers payment-record writes that failed inline to asynq, which
// retries them until the database accepts the row or the task is archived.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pos/internal/obs"
	"github.com/noah-isme/backend-pos/internal/settlement"
)

const (
	// TypePaymentRecord is the asynq task type carrying a settlement.Descriptor.
	TypePaymentRecord = "payment:record"
	// QueuePayments is the queue record tasks are placed on.
	QueuePayments = "payments"

	defaultMaxRetry = 10
)

var (
	// ErrNotConfigured is returned when the queue has no client or recorder.
	ErrNotConfigured = errors.New("queue: not configured")
	// ErrInvalidTask is returned for descriptors that cannot be queued.
	ErrInvalidTask = errors.New("queue: invalid payment record")
)

// Enqueuer implements settlement.RecordQueue on an asynq client. A descriptor is
// queued at most once per attempt while its task is pending or retrying.
type Enqueuer struct {
	Client   *asynq.Client
	MaxRetry int
}

// EnqueueRecord queues d for a later write.
func (e Enqueuer) EnqueueRecord(ctx context.Context, d settlement.Descriptor) error {
	if e.Client == nil {
		return ErrNotConfigured
	}
	if d.AttemptID == "" {
		return fmt.Errorf("%w: missing attempt id", ErrInvalidTask)
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode payment record: %w", err)
	}
	maxRetry := e.MaxRetry
	if maxRetry <= 0 {
		maxRetry = defaultMaxRetry
	}
	task := asynq.NewTask(TypePaymentRecord, payload)
	_, err = e.Client.EnqueueContext(ctx, task,
		asynq.Queue(QueuePayments),
		asynq.MaxRetry(maxRetry),
		asynq.TaskID(TaskID(d.AttemptID)),
	)
	switch {
	case errors.Is(err, asynq.ErrTaskIDConflict):
		count("duplicate")
		return nil
	case err != nil:
		count("enqueue_failed")
		return fmt.Errorf("enqueue payment record: %w", err)
	}
	count("enqueued")
	return nil
}

// TaskID derives the asynq task id for an attempt.
func TaskID(attemptID string) string {
	return "payment-record:" + attemptID
}

// RecordHandler writes queued descriptors through Recorder.
type RecordHandler struct {
	Recorder settlement.Recorder
	Logger   zerolog.Logger
}

// ProcessTask implements asynq.Handler. Undecodable payloads are archived without retry.
func (h RecordHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var d settlement.Descriptor
	if err := json.Unmarshal(t.Payload(), &d); err != nil {
		count("dropped")
		return fmt.Errorf("decode payment record: %v: %w", err, asynq.SkipRetry)
	}
	if d.AttemptID == "" {
		count("dropped")
		return fmt.Errorf("%w: missing attempt id: %w", ErrInvalidTask, asynq.SkipRetry)
	}
	if h.Recorder == nil {
		return ErrNotConfigured
	}
	retried, _ := asynq.GetRetryCount(ctx)
	if err := h.Recorder.Record(ctx, d); err != nil {
		count("failed")
		h.Logger.Warn().Err(err).Str("attempt_id", d.AttemptID).Int("retried", retried).Msg("payment_record_retry_failed")
		return err
	}
	count("recorded")
	h.Logger.Info().Str("attempt_id", d.AttemptID).Int("retried", retried).Msg("payment_record_recovered")
	return nil
}

// NewMux routes record tasks to h.
func NewMux(h RecordHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypePaymentRecord, h)
	return mux
}

// NewServer builds the worker that drains QueuePayments.
func NewServer(opt asynq.RedisConnOpt, concurrency int, logger zerolog.Logger) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency:  max(concurrency, 1),
		Queues:       map[string]int{QueuePayments: 1},
		Logger:       zerologAdapter{logger: logger},
		LogLevel:     asynq.WarnLevel,
		ErrorHandler: asynq.ErrorHandlerFunc(archiveReporter(logger)),
	})
}

func archiveReporter(logger zerolog.Logger) func(context.Context, *asynq.Task, error) {
	return func(ctx context.Context, t *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried < maxRetry && !errors.Is(err, asynq.SkipRetry) {
			return
		}
		id, _ := asynq.GetTaskID(ctx)
		count("archived")
		logger.Error().Err(err).Str("task_id", id).Str("type", t.Type()).Int("retried", retried).Msg("payment_record_archived")
	}
}

func count(result string) {
	if obs.PaymentRecordRetryTotal != nil {
		obs.PaymentRecordRetryTotal.WithLabelValues(result).Inc()
	}
}
