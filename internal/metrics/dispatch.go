package metrics

import (
	"encoding/json"
	"net/http"
	"time"
)

// Dispatch metric names.
const (
	MessagesSuccess          = "MessagesSuccess"
	MessagesFailed           = "MessagesFailed"
	MessagesTotal            = "MessagesTotal"
	MessagesRejected         = "MessagesRejected"
	InboundProcessed         = "InboundProcessed"
	InboundDuplicates        = "InboundDuplicates"
	BulkJobDuration          = "BulkJobDuration"
	APILatency               = "APILatency"
	DLQDepth                 = "DLQDepth"
	WhatsAppTierUsagePercent = "WhatsAppTierUsagePercent"
	AlertsPublished          = "AlertsPublished"
)

// SendDimensions label a terminal send outcome.
type SendDimensions struct {
	Channel     string
	Status      string
	MessageType string
}

func (d SendDimensions) labels() map[string]string {
	return map[string]string{
		"Channel":     d.Channel,
		"Status":      d.Status,
		"MessageType": d.MessageType,
	}
}

// RecordSend counts one terminal send state: MessagesTotal always, then
// MessagesSuccess or MessagesFailed.
func (r *Registry) RecordSend(d SendDimensions, success bool) {
	labels := d.labels()
	r.IncrementCounter(MessagesTotal, labels, "Terminal send attempts")
	if success {
		r.IncrementCounter(MessagesSuccess, labels, "Successful sends")
	} else {
		r.IncrementCounter(MessagesFailed, labels, "Failed sends")
	}
}

// RecordRejected counts sends refused before dispatch (validation, consent, rate).
func (r *Registry) RecordRejected(channel, reason string) {
	r.IncrementCounter(MessagesRejected, map[string]string{"Channel": channel, "Reason": reason}, "Sends rejected before dispatch")
}

// RecordAPILatency times one provider call.
func (r *Registry) RecordAPILatency(operation string, d time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	r.RecordTimer(APILatency, d, map[string]string{"Operation": operation, "Outcome": outcome}, "Provider API latency")
}

// RecordBulkJob times a batch unit such as a scheduled tick or DLQ replay.
func (r *Registry) RecordBulkJob(job string, d time.Duration) {
	r.RecordTimer(BulkJobDuration, d, map[string]string{"Job": job}, "Batch job duration")
}

func (r *Registry) RecordInbound(kind string, duplicate bool) {
	if duplicate {
		r.IncrementCounter(InboundDuplicates, map[string]string{"Kind": kind}, "Duplicate inbound events skipped")
		return
	}
	r.IncrementCounter(InboundProcessed, map[string]string{"Kind": kind}, "Inbound events processed")
}

func (r *Registry) SetDLQDepth(queue string, depth int) {
	r.SetGauge(DLQDepth, float64(depth), map[string]string{"Queue": queue}, "Entries waiting in the dead letter queue")
}

func (r *Registry) SetTierUsage(phoneNumberID string, percent float64) {
	r.SetGauge(WhatsAppTierUsagePercent, percent, map[string]string{"PhoneNumberId": phoneNumberID}, "Rolling 24h conversation tier usage")
}

// Handler serves the snapshot as JSON.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(r.Snapshot()); err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
