package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/payment-bridge/internal/common"
	"github.com/noah-isme/payment-bridge/internal/payment"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqSink enqueues results for the worker to persist.
type AsynqSink struct {
	Client    enqueuer
	Queue     string
	MaxRetry  int
	Retention time.Duration
}

// Publish implements payment.ResultSink. The task id is derived from the
// result so a redelivered notification collapses into the pending task.
func (s AsynqSink) Publish(ctx context.Context, result payment.NormalizedPaymentResult) error {
	if s.Client == nil {
		return errors.New("events: asynq client not configured")
	}
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("events: encode result: %w", err)
	}
	opts := []asynq.Option{asynq.TaskID(DedupKey(result))}
	if s.Queue != "" {
		opts = append(opts, asynq.Queue(s.Queue))
	}
	if s.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(s.MaxRetry))
	}
	if s.Retention > 0 {
		opts = append(opts, asynq.Retention(s.Retention))
	}
	_, err = s.Client.EnqueueContext(ctx, asynq.NewTask(TaskPaymentResult, body), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// DedupKey identifies one provider state transition of one order.
func DedupKey(r payment.NormalizedPaymentResult) string {
	return "result:" + common.Sha256Hex(r.OrderID+"|"+r.ProviderPaymentID+"|"+r.ProviderStatus+"|"+r.EventType)
}
