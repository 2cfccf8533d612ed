package worker

// alert_worker.go
// Processes operator alert jobs from QueueAlert. Sends plain-text emails
// via SMTP when a fiscal transaction exhausts its retry budget.

import (
	"context"
	"encoding/json"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/infra"

	"github.com/rs/zerolog/log"
)

// AlertJobPayload is the job envelope sent to QueueAlert.
type AlertJobPayload struct {
	ToEmail string `json:"to_email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// AlertWorker delivers operator alert emails.
type AlertWorker struct {
	mailer *infra.Mailer
}

func NewAlertWorker(mailer *infra.Mailer) *AlertWorker {
	return &AlertWorker{mailer: mailer}
}

// Process sends one alert email.
func (w *AlertWorker) Process(_ context.Context, raw json.RawMessage) {
	var payload AlertJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Error().Err(err).Msg("alert_worker: invalid payload")
		return
	}
	if payload.ToEmail == "" {
		log.Warn().Msg("alert_worker: empty to_email — skipping")
		return
	}

	if err := w.mailer.SendAlert(payload.ToEmail, payload.Subject, payload.Body); err != nil {
		log.Error().Err(err).Str("to", payload.ToEmail).Msg("alert_worker: failed to send alert")
		return
	}
	log.Info().Str("to", payload.ToEmail).Msg("alert_worker: alert sent")
}
