package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/dref-api/internal/models"
	"github.com/noah-isme/dref-api/pkg/jobs"
)

const lifecycleJobPrefix = "dref.lifecycle."

type eventPublisher interface {
	Publish(ctx context.Context, event models.LifecycleEvent) (int64, error)
}

type eventMetrics interface {
	RecordEventPublished(ok bool)
}

// EventDispatcherConfig tunes asynchronous delivery.
type EventDispatcherConfig struct {
	Workers    int
	Retries    int
	RetryDelay time.Duration
}

// EventDispatcher delivers lifecycle events after commit through a background queue.
// Delivery failures are logged and never reach the request that caused the event.
type EventDispatcher struct {
	queue     *jobs.Queue
	publisher eventPublisher
	metrics   eventMetrics
	logger    *zap.Logger
}

// NewEventDispatcher wires the queue handler to publisher.
func NewEventDispatcher(publisher eventPublisher, metrics eventMetrics, logger *zap.Logger, cfg EventDispatcherConfig) *EventDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &EventDispatcher{publisher: publisher, metrics: metrics, logger: logger}
	d.queue = jobs.NewQueue("dref-lifecycle-events", d.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return d
}

// Start launches the delivery workers.
func (d *EventDispatcher) Start(ctx context.Context) {
	if d == nil {
		return
	}
	d.queue.Start(ctx)
}

// Stop drains nothing; pending events are dropped once workers exit.
func (d *EventDispatcher) Stop() {
	if d == nil {
		return
	}
	d.queue.Stop()
}

// Emit queues event for delivery.
func (d *EventDispatcher) Emit(_ context.Context, event models.LifecycleEvent) {
	if d == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	job := jobs.Job{ID: event.ID, Type: lifecycleJobPrefix + string(event.Type), Payload: event}
	if err := d.queue.TryEnqueue(job); err != nil {
		d.logger.Warn("failed to enqueue lifecycle event",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Int64("record_id", event.RecordID),
			zap.Error(err))
	}
}

func (d *EventDispatcher) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.LifecycleEvent)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID))
	}
	receivers, err := d.publisher.Publish(ctx, event)
	if d.metrics != nil {
		d.metrics.RecordEventPublished(err == nil)
	}
	if err != nil {
		return err
	}
	d.logger.Debug("lifecycle event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.Int64("receivers", receivers))
	return nil
}
