package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"wadispatch/internal/errors"
	"wadispatch/internal/models"
	"wadispatch/internal/service"
	"wadispatch/internal/tracing"
	"wadispatch/internal/validation"
	"wadispatch/internal/versioning"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// webhookBatch is a delivery of several notification records. A body without
// "records" is treated as a single record.
type webhookBatch struct {
	Records []json.RawMessage `json:"records"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error, requestID string) {
	writeJSON(w, errors.HTTPStatusCode(err), errors.ToHTTPResponse(err, requestID))
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, message string) {
	errors.Log(s.logger.WithFields(tracing.LogFields(r.Context())), err, message)
	writeError(w, err, tracing.GetRequestID(r.Context()))
}

func decodeBody(r *http.Request, out interface{}) error {
	if err := validation.ValidateHTTPRequestSize(r, maxAPIBodyBytes); err != nil {
		return err
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxAPIBodyBytes))
	if err := dec.Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid JSON body").
			WithUserMessage("Request body is not valid JSON")
	}
	return nil
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]interface{}{
			"status":     "ok",
			"sendMode":   s.app.Config.SendMode,
			"apiVersion": versioning.CurrentVersion.String(),
		}
		if err := s.app.Store.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["store"] = err.Error()
		}
		if s.app.MQTT != nil {
			body["mqttConnected"] = s.app.MQTT.IsConnected()
		}
		body["eventSubscribers"] = s.app.Feed.Subscribers()
		writeJSON(w, status, body)
	}
}

func (s *Server) handleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := verifySignature(r, s.app.Config.Server.WebhookSecret, maxWebhookBytes)
		if err != nil {
			s.logger.WithError(err).WithField("remote_ip", r.RemoteAddr).Warn("Rejected webhook delivery")
			writeError(w, errors.Wrap(err, errors.ErrCodeUnauthorized, "webhook signature check failed").
				WithUserMessage("Unauthorized"), tracing.GetRequestID(r.Context()))
			return
		}

		var batch webhookBatch
		if err := json.Unmarshal(body, &batch); err != nil {
			s.fail(w, r, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid webhook body"), "Invalid webhook body")
			return
		}
		records := batch.Records
		if records == nil {
			records = []json.RawMessage{body}
		}
		raw := make([][]byte, len(records))
		for i, rec := range records {
			raw[i] = rec
		}

		ctx := service.WithVerbose(r.Context(), s.verbose)
		report := s.app.Inbound.ProcessBatch(ctx, raw)
		s.logger.WithFields(logrus.Fields{
			"records":   report.Records,
			"processed": report.Processed,
			"failed":    report.Failed,
		}).Info("Webhook batch processed")
		// Failed records are already in the DLQ, so the delivery itself succeeded.
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handleSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.SendRequest
		if err := decodeBody(r, &req); err != nil {
			s.fail(w, r, err, "Invalid send request")
			return
		}
		ctx := service.WithVerbose(r.Context(), s.verbose)

		result, err := s.app.Engine.Send(ctx, &req)
		if result == nil {
			s.fail(w, r, err, "Send failed")
			return
		}
		if err != nil && s.app.DLQ.ShouldRouteThrottled(err) {
			entry, dlqErr := s.app.DLQ.Enqueue(ctx, models.QueueOutbound, result.MessageID, &req, err)
			if dlqErr == nil {
				writeJSON(w, http.StatusAccepted, map[string]interface{}{
					"status":       "queued",
					"messageId":    result.MessageID,
					"dlqMessageId": entry.DLQMessageID,
				})
				return
			}
		}
		if result.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
		}
		status := result.StatusCode
		if status == 0 {
			status = errors.HTTPStatusCode(err)
		}
		writeJSON(w, status, result)
	}
}

func (s *Server) handleCreateContact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in models.ContactInput
		if err := decodeBody(r, &in); err != nil {
			s.fail(w, r, err, "Invalid contact body")
			return
		}
		contact, err := s.app.Contacts.Create(r.Context(), in)
		if err != nil {
			s.fail(w, r, err, "Failed to create contact")
			return
		}
		writeJSON(w, http.StatusCreated, contact)
	}
}

func (s *Server) handleGetContact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contact, err := s.app.Contacts.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.fail(w, r, err, "Failed to get contact")
			return
		}
		writeJSON(w, http.StatusOK, contact)
	}
}

func (s *Server) handleUpdateContact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var update models.ConsentUpdate
		if err := decodeBody(r, &update); err != nil {
			s.fail(w, r, err, "Invalid consent update")
			return
		}
		contact, err := s.app.Contacts.UpdateConsent(r.Context(), mux.Vars(r)["id"], update)
		if err != nil {
			s.fail(w, r, err, "Failed to update contact")
			return
		}
		writeJSON(w, http.StatusOK, contact)
	}
}

// handleDeleteContact soft deletes; ?hard=true erases the contact with its messages and media.
func (s *Server) handleDeleteContact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if hard, _ := strconv.ParseBool(r.URL.Query().Get("hard")); hard {
			report, err := s.app.Contacts.HardDelete(r.Context(), id)
			if err != nil {
				s.fail(w, r, err, "Failed to erase contact")
				return
			}
			writeJSON(w, http.StatusOK, report)
			return
		}
		if err := s.app.Contacts.SoftDelete(r.Context(), id); err != nil {
			s.fail(w, r, err, "Failed to delete contact")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleCreateScheduled() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in models.ScheduledInput
		if err := decodeBody(r, &in); err != nil {
			s.fail(w, r, err, "Invalid scheduled message")
			return
		}
		entry, err := s.app.Scheduled.Create(r.Context(), in)
		if err != nil {
			s.fail(w, r, err, "Failed to schedule message")
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

func (s *Server) handleListScheduled() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := models.ScheduledStatus(r.URL.Query().Get("status"))
		if status == "" {
			status = models.ScheduledPending
		}
		entries, err := s.app.Scheduled.List(r.Context(), status, queryInt(r, "limit", 100))
		if err != nil {
			s.fail(w, r, err, "Failed to list scheduled messages")
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func (s *Server) handleGetScheduled() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := s.app.Scheduled.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.fail(w, r, err, "Failed to get scheduled message")
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func (s *Server) handleUpdateScheduled() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in models.ScheduledInput
		if err := decodeBody(r, &in); err != nil {
			s.fail(w, r, err, "Invalid scheduled message")
			return
		}
		entry, err := s.app.Scheduled.Update(r.Context(), mux.Vars(r)["id"], in)
		if err != nil {
			s.fail(w, r, err, "Failed to update scheduled message")
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func (s *Server) handleCancelScheduled() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.app.Scheduled.Cancel(r.Context(), mux.Vars(r)["id"]); err != nil {
			s.fail(w, r, err, "Failed to cancel scheduled message")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleListDLQ() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.app.DLQ.List(r.Context(), mux.Vars(r)["queue"], queryInt(r, "limit", 100))
		if err != nil {
			s.fail(w, r, err, "Failed to list DLQ")
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func (s *Server) handleReplayDLQ() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := service.WithVerbose(r.Context(), s.verbose)
		report, err := s.app.DLQ.Replay(ctx, mux.Vars(r)["queue"], queryInt(r, "limit", 0))
		if err != nil {
			s.fail(w, r, err, "DLQ replay failed")
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handleGetSystemConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := s.app.SysConfig.Get(r.Context(), mux.Vars(r)["key"])
		if err != nil {
			s.fail(w, r, err, "Failed to read system config")
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}

func (s *Server) handlePutSystemConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var value json.RawMessage
		if err := decodeBody(r, &value); err != nil {
			s.fail(w, r, err, "Invalid system config value")
			return
		}
		cfg, err := s.app.SysConfig.Put(r.Context(), mux.Vars(r)["key"], value)
		if err != nil {
			s.fail(w, r, err, "Failed to write system config")
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}
