package worker

// fiscal_worker.go
// Processes order fiscal events from QueueFiscal. The order subsystem
// enqueues an event when a sale completes, a refund is issued, or a
// payment method changes; this worker records the matching ledger entry.
// A duplicate-active rejection is logged and dropped — the in-flight
// record already covers the event.

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/dto"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/model"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/repository"

	"github.com/rs/zerolog/log"
)

// TransactionRecorder creates fiscal ledger entries. Implemented by the
// fiscal service; defined here so the worker package stays independent
// of the service layer.
type TransactionRecorder interface {
	CreateTransaction(ctx context.Context, req dto.CreateFiscalTransactionRequest) (*dto.FiscalTransactionResponse, error)
}

// FiscalEventWorker turns queued order events into ledger records.
type FiscalEventWorker struct {
	recorder TransactionRecorder
}

func NewFiscalEventWorker(recorder TransactionRecorder) *FiscalEventWorker {
	return &FiscalEventWorker{recorder: recorder}
}

// FiscalEventPayload is the job envelope sent to QueueFiscal.
type FiscalEventPayload struct {
	Event       string                             `json:"event"` // sale_completed | refund_issued | payment_method_changed
	Transaction dto.CreateFiscalTransactionRequest `json:"transaction"`
}

// Process records one fiscal event.
func (w *FiscalEventWorker) Process(ctx context.Context, raw json.RawMessage) {
	var payload FiscalEventPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Error().Err(err).Msg("fiscal_worker: invalid payload")
		return
	}

	if payload.Event == "payment_method_changed" && payload.Transaction.RefundType == nil {
		rt := model.RefundTypePaymentChange
		payload.Transaction.RefundType = &rt
	}

	resp, err := w.recorder.CreateTransaction(ctx, payload.Transaction)
	if errors.Is(err, repository.ErrDuplicateActive) {
		log.Info().
			Str("order_id", payload.Transaction.OrderID).
			Str("type", payload.Transaction.TransactionType).
			Msg("fiscal_worker: active record already exists — event merged")
		return
	}
	if err != nil {
		log.Error().Err(err).
			Str("order_id", payload.Transaction.OrderID).
			Msg("fiscal_worker: failed to record fiscal event")
		return
	}
	log.Info().
		Str("transaction_id", resp.ID).
		Str("order_id", resp.OrderID).
		Str("type", resp.TransactionType).
		Msg("fiscal_worker: fiscal transaction recorded")
}
