package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"candlewatch/internal/domain"
	"candlewatch/internal/observability"
	"candlewatch/internal/storage"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// Notifier delivers one trigger to a channel (log, webhook, messenger).
type Notifier interface {
	Deliver(ctx context.Context, trigger *domain.AlertTrigger) error
}

// LogNotifier writes triggers to the log. The default delivery channel.
type LogNotifier struct {
	log logrus.FieldLogger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogNotifier{log: log.WithField("component", "notifier")}
}

// Compile-time interface check.
var _ Notifier = (*LogNotifier)(nil)

// Deliver logs the trigger.
func (n *LogNotifier) Deliver(ctx context.Context, trigger *domain.AlertTrigger) error {
	n.log.WithFields(logrus.Fields{
		"trigger_id":   trigger.ID,
		"alert_id":     trigger.AlertID,
		"trigger_type": trigger.TriggerType,
		"value":        trigger.ObservedValue,
	}).Info(trigger.Message)
	return nil
}

// DefaultMaxDeliveryRetries bounds redelivery attempts per trigger.
const DefaultMaxDeliveryRetries = 3

// Dispatcher drains undelivered triggers and advances their delivery state:
// pending/retrying -> delivered on success, retrying while attempts remain,
// failed once retries are exhausted.
type Dispatcher struct {
	triggerStore storage.TriggerStore
	notifier     Notifier
	log          logrus.FieldLogger

	batchSize  int
	maxRetries int
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(triggerStore storage.TriggerStore, notifier Notifier, log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		triggerStore: triggerStore,
		notifier:     notifier,
		log:          log.WithField("component", "dispatcher"),
		batchSize:    100,
		maxRetries:   DefaultMaxDeliveryRetries,
	}
}

// Pass attempts delivery for one batch of undelivered triggers. Returns the
// number delivered. Individual failures only affect their own trigger.
func (d *Dispatcher) Pass(ctx context.Context) (int, error) {
	pending, err := d.triggerStore.ListUndelivered(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list undelivered triggers: %w", err)
	}

	delivered := 0
	for _, trigger := range pending {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		if err := d.notifier.Deliver(ctx, trigger); err != nil {
			d.markFailedAttempt(ctx, trigger, err)
			continue
		}

		now := nowUTC()
		if err := d.triggerStore.UpdateDelivery(ctx, trigger.ID, domain.DeliveryDelivered, trigger.RetryCount, &now); err != nil {
			d.log.WithError(err).WithField("trigger_id", trigger.ID).Error("failed to mark trigger delivered")
			continue
		}
		observability.RecordDelivery(string(domain.DeliveryDelivered))
		delivered++
	}
	return delivered, nil
}

// markFailedAttempt advances retry bookkeeping after a delivery failure.
func (d *Dispatcher) markFailedAttempt(ctx context.Context, trigger *domain.AlertTrigger, cause error) {
	retries := trigger.RetryCount + 1
	status := domain.DeliveryRetrying
	if retries >= d.maxRetries {
		status = domain.DeliveryFailed
	}

	d.log.WithError(cause).WithFields(logrus.Fields{
		"trigger_id": trigger.ID,
		"retries":    retries,
		"status":     status,
	}).Warn("trigger delivery failed")

	now := nowUTC()
	if err := d.triggerStore.UpdateDelivery(ctx, trigger.ID, status, retries, &now); err != nil {
		d.log.WithError(err).WithField("trigger_id", trigger.ID).Error("failed to record delivery attempt")
		return
	}
	observability.RecordDelivery(string(status))
}
