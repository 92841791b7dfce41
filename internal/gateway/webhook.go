package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pontoonlabs/pontoon/internal/call"
)

// Webhook event names sent by the media provider.
const (
	EventCallInitiated = "call.initiated"
	EventCallHangup    = "call.hangup"
)

// WebhookEvent is the provider's call lifecycle notification.
type WebhookEvent struct {
	// Event is the event name, e.g. "call.initiated".
	Event string `json:"event"`

	// CallID identifies the call the event refers to.
	CallID string `json:"call_id"`

	// From and To are the call addresses, present on call.initiated.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// Reason is an optional cause on call.hangup.
	Reason string `json:"reason,omitempty"`
}

// handleWebhook processes provider call events. An incoming call is answered
// through the control API with the gateway's media URL; the provider then
// dials /media and the call proper begins. A hangup event ends the matching
// active session if one exists.
//
// Unknown events are acknowledged and ignored so the provider does not
// retry them.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var ev WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed event: " + err.Error()})
		return
	}
	if ev.CallID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "call_id is required"})
		return
	}

	switch ev.Event {
	case EventCallInitiated:
		if s.control == nil {
			slog.Warn("incoming call not answered: no control API configured", "call_id", ev.CallID)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err := s.control.Answer(r.Context(), ev.CallID, s.cfg.MediaURL); err != nil {
			slog.Error("answer failed", "call_id", ev.CallID, "err", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		slog.Info("incoming call answered", "call_id", ev.CallID, "from", ev.From, "to", ev.To)
		w.WriteHeader(http.StatusNoContent)

	case EventCallHangup:
		if sess, ok := s.manager.Get(ev.CallID); ok {
			sess.Hangup(call.ReasonCompleted)
			slog.Info("call hung up by provider", "call_id", ev.CallID, "reason", ev.Reason)
		} else {
			slog.Debug("hangup for unknown call", "call_id", ev.CallID)
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		slog.Debug("webhook event ignored", "event", ev.Event, "call_id", ev.CallID)
		w.WriteHeader(http.StatusNoContent)
	}
}
