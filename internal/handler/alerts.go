package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiwari-pos/console/internal/alert"
	"github.com/kiwari-pos/console/internal/console"
	"github.com/sirupsen/logrus"
)

// AlertSource defines the poller methods needed by alert handlers.
// Satisfied by *alert.Poller; narrow interface for testability.
type AlertSource interface {
	Current() (alert.Alert, bool)
	Dismiss()
}

// SoundSource reports the alert cue state. Satisfied by *console.Sound.
type SoundSource interface {
	State() console.SoundState
}

// AlertHandler handles the new-order alert endpoints.
type AlertHandler struct {
	alerts AlertSource
	sound  SoundSource
	log    logrus.FieldLogger
}

// NewAlertHandler creates a new AlertHandler.
func NewAlertHandler(alerts AlertSource, sound SoundSource, log logrus.FieldLogger) *AlertHandler {
	return &AlertHandler{alerts: alerts, sound: sound, log: log.WithField("component", "alert_handler")}
}

// RegisterRoutes registers alert endpoints on the given Chi router.
// Expected to be mounted at /alerts
func (h *AlertHandler) RegisterRoutes(r chi.Router) {
	r.Get("/current", h.Current)
	r.Post("/dismiss", h.Dismiss)
}

type currentAlertResponse struct {
	Alert *alert.Alert       `json:"alert"`
	Sound console.SoundState `json:"sound"`
}

// Current handles GET /alerts/current.
func (h *AlertHandler) Current(w http.ResponseWriter, r *http.Request) {
	var resp currentAlertResponse
	if a, ok := h.alerts.Current(); ok {
		resp.Alert = &a
	}
	if h.sound != nil {
		resp.Sound = h.sound.State()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Dismiss handles POST /alerts/dismiss. Dismissing with no alert pending
// still silences the sound.
func (h *AlertHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	a, pending := h.alerts.Current()
	h.alerts.Dismiss()
	if pending {
		h.log.WithField("order_id", a.Order.ID).Info("alert dismissed")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"dismissed": pending})
}
