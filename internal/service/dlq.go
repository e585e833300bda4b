package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wadispatch/internal/alerts"
	"wadispatch/internal/constants"
	"wadispatch/internal/database"
	"wadispatch/internal/errors"
	"wadispatch/internal/metrics"
	"wadispatch/internal/models"
	"wadispatch/internal/tracing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ReplayHandler re-runs the unit of work stored in a DLQ payload.
type ReplayHandler func(ctx context.Context, payload json.RawMessage) error

// DLQService keeps failed units of work and replays them through their original handler.
type DLQService struct {
	store      database.DocumentStore
	tables     database.Tables
	metrics    *metrics.Registry
	alerts     *alerts.Emitter
	cfg        models.DLQConfig
	logger     *logrus.Logger
	now        func() time.Time
	mu         sync.RWMutex
	handlers   map[string]ReplayHandler
	maxRetries int
	batchSize  int
}

func NewDLQService(store database.DocumentStore, registry *metrics.Registry, emitter *alerts.Emitter, cfg models.DLQConfig, logger *logrus.Logger) *DLQService {
	if logger == nil {
		logger = logrus.New()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = constants.MaxDLQRetries
	}
	batch := cfg.BatchSize
	if batch <= 0 || batch > constants.MaxDLQBatchSize {
		batch = constants.MaxDLQBatchSize
	}
	return &DLQService{
		store:      store,
		tables:     store.Tables(),
		metrics:    registry,
		alerts:     emitter,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		handlers:   make(map[string]ReplayHandler),
		maxRetries: maxRetries,
		batchSize:  batch,
	}
}

// Register sets the replay handler for a queue.
func (d *DLQService) Register(queue string, handler ReplayHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[queue] = handler
}

func (d *DLQService) handler(queue string) ReplayHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[queue]
}

// ShouldRouteThrottled reports whether a failed outbound send belongs in the outbound queue.
func (d *DLQService) ShouldRouteThrottled(err error) bool {
	return d.cfg.RouteThrottled && errors.HasCode(err, errors.ErrCodeProviderThrottle)
}

// Enqueue appends a failed unit. A write failure is critical: the work would be lost.
func (d *DLQService) Enqueue(ctx context.Context, queue, originalID string, payload interface{}, cause error) (*models.DLQEntry, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to encode DLQ payload")
		}
		raw = encoded
	}

	now := d.now()
	entry := &models.DLQEntry{
		DLQMessageID:      uuid.New().String(),
		OriginalMessageID: originalID,
		QueueName:         queue,
		LastAttemptAt:     now.Unix(),
		Payload:           raw,
		CreatedAt:         now.Unix(),
		ExpiresAt:         now.Add(constants.DLQEntryTTL).Unix(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	fields := logrus.Fields{LogFieldQueue: queue, "original_message_id": originalID}
	if err := d.store.Put(context.WithoutCancel(ctx), d.tables.DLQ, entry.DLQMessageID, entry); err != nil {
		werr := errors.Wrap(err, errors.ErrCodeDLQWrite, "failed to write DLQ entry").WithContext("queue", queue)
		errors.Entry(logEntry(ctx, d.logger, fields), werr).Error("Unit of work lost: DLQ write failed")
		if d.alerts != nil {
			d.alerts.Error(ctx, "dlq_write", werr)
		}
		return nil, werr
	}

	logEntry(ctx, d.logger, fields).WithField("error", entry.Error).Warn("Unit of work routed to DLQ")
	d.refreshDepth(ctx, queue)
	return entry, nil
}

// List returns queue entries oldest attempt first.
func (d *DLQService) List(ctx context.Context, queue string, limit int) ([]models.DLQEntry, error) {
	raws, err := d.store.Query(ctx, d.tables.DLQ, database.Query{Partition: queue, Limit: limit})
	if err != nil {
		return nil, err
	}
	return database.Decode[models.DLQEntry](raws)
}

// Depth counts live entries and updates the depth gauge and alert.
func (d *DLQService) Depth(ctx context.Context, queue string) (int, error) {
	n, err := d.store.Count(ctx, d.tables.DLQ, database.Query{Partition: queue})
	if err != nil {
		return 0, err
	}
	if d.alerts != nil {
		d.alerts.DLQDepth(ctx, queue, n)
	} else if d.metrics != nil {
		d.metrics.SetDLQDepth(queue, n)
	}
	return n, nil
}

func (d *DLQService) refreshDepth(ctx context.Context, queue string) {
	if _, err := d.Depth(ctx, queue); err != nil {
		logEntry(ctx, d.logger, logrus.Fields{LogFieldQueue: queue}).WithError(err).Debug("Failed to refresh DLQ depth")
	}
}

// replayable returns up to limit entries below the retry limit, oldest attempt
// first, and how many exhausted entries it passed over.
func (d *DLQService) replayable(ctx context.Context, queue string, limit int) ([]models.DLQEntry, int, error) {
	all, err := d.List(ctx, queue, 0)
	if err != nil {
		return nil, 0, err
	}
	batch := make([]models.DLQEntry, 0, limit)
	exhausted := 0
	for _, entry := range all {
		if entry.RetryCount >= d.maxRetries {
			exhausted++
			continue
		}
		if len(batch) < limit {
			batch = append(batch, entry)
		}
	}
	return batch, exhausted, nil
}

// Replay pulls one batch of entries still under the retry limit and re-runs each
// through the queue's handler. Exhausted entries stay listed but never take a
// batch slot. Repeats of an original message within the batch are handled once.
func (d *DLQService) Replay(ctx context.Context, queue string, limit int) (report *models.ReplayReport, err error) {
	handler := d.handler(queue)
	if handler == nil {
		return nil, errors.NewValidationError("queue", queue, "no replay handler registered for queue")
	}
	if limit <= 0 || limit > d.batchSize {
		limit = d.batchSize
	}

	ctx, span := tracing.StartUnit(ctx, "dlq_replay", tracing.AttrQueue.String(queue))
	defer func() { tracing.EndUnit(span, err) }()

	start := d.now()
	entries, exhausted, err := d.replayable(ctx, queue, limit)
	if err != nil {
		return nil, err
	}

	report = &models.ReplayReport{Queue: queue, Pulled: len(entries), Skipped: exhausted}
	outcome := make(map[string]bool)

	for _, entry := range entries {
		fields := logrus.Fields{LogFieldQueue: queue, "dlq_message_id": entry.DLQMessageID}
		if succeeded, seen := outcome[entry.OriginalMessageID]; seen && entry.OriginalMessageID != "" {
			report.Duplicates++
			if succeeded {
				if err := d.store.Delete(ctx, d.tables.DLQ, entry.DLQMessageID); err != nil {
					logEntry(ctx, d.logger, fields).WithError(err).Warn("Failed to delete duplicate DLQ entry")
				}
			}
			continue
		}

		runErr := handler(ctx, entry.Payload)
		outcome[entry.OriginalMessageID] = runErr == nil
		if runErr == nil {
			report.Replayed++
			if err := d.store.Delete(ctx, d.tables.DLQ, entry.DLQMessageID); err != nil {
				logEntry(ctx, d.logger, fields).WithError(err).Warn("Replayed entry could not be deleted")
			}
			continue
		}

		report.Failed++
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", entry.DLQMessageID, runErr))
		set := map[string]interface{}{
			"retryCount":    entry.RetryCount + 1,
			"lastAttemptAt": d.now().Unix(),
			"error":         runErr.Error(),
		}
		if err := d.store.Update(ctx, d.tables.DLQ, entry.DLQMessageID, set, database.Exists(), nil); err != nil {
			logEntry(ctx, d.logger, fields).WithError(err).Warn("Failed to record DLQ retry")
		}
	}

	if d.metrics != nil {
		d.metrics.RecordBulkJob("dlq_replay", d.now().Sub(start))
	}
	d.refreshDepth(ctx, queue)

	logEntry(ctx, d.logger, logrus.Fields{
		LogFieldQueue: queue,
		"pulled":      report.Pulled,
		"replayed":    report.Replayed,
		"failed":      report.Failed,
		"skipped":     report.Skipped,
		"duplicates":  report.Duplicates,
	}).Info("DLQ replay completed")
	return report, nil
}

// OutboundReplayHandler replays stored send requests through the send engine.
func OutboundReplayHandler(sender Sender) ReplayHandler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var req models.SendRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid outbound DLQ payload")
		}
		req.Source = "dlq"
		_, err := sender.Send(ctx, &req)
		return err
	}
}
