package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wadispatch/internal/constants"
	"wadispatch/internal/errors"
	"wadispatch/internal/metrics"
	"wadispatch/internal/topic"

	"github.com/sirupsen/logrus"
)

// Kind names an alert condition.
type Kind string

const (
	KindTierUsage Kind = "tier_usage"
	KindDLQDepth  Kind = "dlq_depth"
	KindCritical  Kind = "critical_error"
)

const defaultCooldown = 5 * time.Minute

// Alert is the payload published to the alert topic.
type Alert struct {
	Kind      Kind              `json:"kind"`
	Namespace string            `json:"namespace"`
	Message   string            `json:"message"`
	Value     float64           `json:"value,omitempty"`
	Threshold float64           `json:"threshold,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Emitter records C12 gauges and publishes alerts when thresholds are crossed.
// Repeats of the same alert are suppressed for a cooldown period.
type Emitter struct {
	publisher topic.Publisher
	topic     string
	registry  *metrics.Registry
	logger    *logrus.Logger
	cooldown  time.Duration
	now       func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewEmitter(publisher topic.Publisher, alertTopic string, registry *metrics.Registry, logger *logrus.Logger) *Emitter {
	if logger == nil {
		logger = logrus.New()
	}
	if alertTopic == "" {
		alertTopic = constants.DefaultAlertTopic
	}
	return &Emitter{
		publisher: publisher,
		topic:     alertTopic,
		registry:  registry,
		logger:    logger,
		cooldown:  defaultCooldown,
		now:       time.Now,
		last:      make(map[string]time.Time),
	}
}

// TierUsage records the tier gauge and alerts at or above the warning percentage.
func (e *Emitter) TierUsage(ctx context.Context, phoneNumberID string, percent float64) {
	e.registry.SetTierUsage(phoneNumberID, percent)
	if percent < constants.TierWarningPercent {
		return
	}
	e.publish(ctx, Alert{
		Kind:      KindTierUsage,
		Message:   fmt.Sprintf("WhatsApp tier usage at %.1f%% for %s", percent, phoneNumberID),
		Value:     percent,
		Threshold: constants.TierWarningPercent,
		Labels:    map[string]string{"phone_number_id": phoneNumberID},
	})
}

// DLQDepth records the queue depth gauge and alerts above the threshold.
func (e *Emitter) DLQDepth(ctx context.Context, queue string, depth int) {
	e.registry.SetDLQDepth(queue, depth)
	if depth <= constants.DLQDepthAlertThreshold {
		return
	}
	e.publish(ctx, Alert{
		Kind:      KindDLQDepth,
		Message:   fmt.Sprintf("DLQ %s holds %d entries", queue, depth),
		Value:     float64(depth),
		Threshold: constants.DLQDepthAlertThreshold,
		Labels:    map[string]string{"queue": queue},
	})
}

// Error publishes err when it classifies as CRITICAL and reports whether it did.
func (e *Emitter) Error(ctx context.Context, operation string, err error) bool {
	if errors.Classify(err) != errors.SeverityCritical {
		return false
	}
	labels := map[string]string{
		"operation":  operation,
		"error_code": string(errors.GetCode(err)),
	}
	return e.publish(ctx, Alert{
		Kind:    KindCritical,
		Message: fmt.Sprintf("%s: %v", operation, err),
		Labels:  labels,
	})
}

func (e *Emitter) publish(ctx context.Context, alert Alert) bool {
	now := e.now()
	key := dedupKey(alert)

	e.mu.Lock()
	if last, ok := e.last[key]; ok && now.Sub(last) < e.cooldown {
		e.mu.Unlock()
		return false
	}
	e.last[key] = now
	e.mu.Unlock()

	alert.Namespace = e.registry.Namespace()
	alert.Timestamp = now.Unix()

	payload, err := json.Marshal(alert)
	if err != nil {
		e.logger.WithError(err).Error("Failed to encode alert")
		return false
	}
	if err := e.publisher.Publish(ctx, e.topic, payload); err != nil {
		errors.Entry(e.logger, err).WithField("alert_kind", alert.Kind).Error("Failed to publish alert")
		e.mu.Lock()
		delete(e.last, key)
		e.mu.Unlock()
		return false
	}

	e.registry.IncrementCounter(metrics.AlertsPublished, map[string]string{"Kind": string(alert.Kind)}, "Alerts published")
	e.logger.WithFields(logrus.Fields{
		"alert_kind": alert.Kind,
		"value":      alert.Value,
	}).Warn(alert.Message)
	return true
}

func dedupKey(a Alert) string {
	switch a.Kind {
	case KindTierUsage:
		return string(a.Kind) + ":" + a.Labels["phone_number_id"]
	case KindDLQDepth:
		return string(a.Kind) + ":" + a.Labels["queue"]
	default:
		return string(a.Kind) + ":" + a.Labels["operation"] + ":" + a.Labels["error_code"]
	}
}
