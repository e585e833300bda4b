package models

import "encoding/json"

// DLQ queue names
const (
	QueueInbound  = "inbound"
	QueueOutbound = "outbound"
)

// DLQEntry is a failed unit of work kept for replay.
type DLQEntry struct {
	DLQMessageID      string          `json:"dlqMessageId"`
	OriginalMessageID string          `json:"originalMessageId"`
	QueueName         string          `json:"queueName"`
	RetryCount        int             `json:"retryCount"`
	LastAttemptAt     int64           `json:"lastAttemptAt"`
	Error             string          `json:"error"`
	Payload           json.RawMessage `json:"payload"`
	CreatedAt         int64           `json:"createdAt"`
	ExpiresAt         int64           `json:"expiresAt"`
}

// ReplayReport summarises a DLQ replay batch.
type ReplayReport struct {
	Queue      string   `json:"queue"`
	Pulled     int      `json:"pulled"`
	Replayed   int      `json:"replayed"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	Duplicates int      `json:"duplicates"`
	Errors     []string `json:"errors,omitempty"`
}
