package service

import (
	"context"
	stderrors "errors"
	"time"

	"wadispatch/internal/constants"
	"wadispatch/internal/database"
	"wadispatch/internal/models"
)

// Deduplicator claims provider events so each is processed once.
type Deduplicator struct {
	store  database.DocumentStore
	tables database.Tables
	now    func() time.Time
}

func NewDeduplicator(store database.DocumentStore) *Deduplicator {
	return &Deduplicator{store: store, tables: store.Tables(), now: time.Now}
}

// MessageExists reports whether a Message row already carries the provider message ID.
func (d *Deduplicator) MessageExists(ctx context.Context, providerMessageID string) (bool, error) {
	raws, err := d.store.Query(ctx, d.tables.Messages, database.Query{Lookup: []string{providerMessageID}, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(raws) > 0, nil
}

// Claim writes a marker for key if none exists. It returns false when another
// unit already claimed the key.
func (d *Deduplicator) Claim(ctx context.Context, key, messageID string) (bool, error) {
	now := d.now()
	marker := models.DedupMarker{
		Key:       key,
		MessageID: messageID,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(constants.DedupMarkerTTL).Unix(),
	}
	err := d.store.ConditionalPut(ctx, d.tables.Dedup, key, marker, database.NotExists())
	if stderrors.Is(err, database.ErrPreconditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Release drops a claim so the event can be processed again.
func (d *Deduplicator) Release(ctx context.Context, key string) error {
	return d.store.Delete(ctx, d.tables.Dedup, key)
}

func messageDedupKey(providerMessageID string) string {
	return "msg:" + providerMessageID
}

func paymentDedupKey(referenceID, status string) string {
	return "payment:" + referenceID + ":" + status
}
