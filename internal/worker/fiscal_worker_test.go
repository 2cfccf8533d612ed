package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/dto"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/model"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRecorder struct {
	requests []dto.CreateFiscalTransactionRequest
	err      error
}

func (r *stubRecorder) CreateTransaction(_ context.Context, req dto.CreateFiscalTransactionRequest) (*dto.FiscalTransactionResponse, error) {
	r.requests = append(r.requests, req)
	if r.err != nil {
		return nil, r.err
	}
	return &dto.FiscalTransactionResponse{
		ID:              uuid.New().String(),
		OrderID:         req.OrderID,
		TransactionType: req.TransactionType,
		Status:          model.StatusPending,
	}, nil
}

var _ TransactionRecorder = (*stubRecorder)(nil)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestFiscalEventWorkerRecordsEvent(t *testing.T) {
	rec := &stubRecorder{}
	w := NewFiscalEventWorker(rec)

	payload := FiscalEventPayload{
		Event: "sale_completed",
		Transaction: dto.CreateFiscalTransactionRequest{
			OrderID:         uuid.New().String(),
			BranchID:        uuid.New().String(),
			TransactionType: model.TypeSale,
		},
	}
	w.Process(context.Background(), mustJSON(t, payload))

	require.Len(t, rec.requests, 1)
	assert.Equal(t, model.TypeSale, rec.requests[0].TransactionType)
}

// payment_method_changed events default the refund type when the
// producer did not set one.
func TestFiscalEventWorkerDefaultsPaymentChangeRefundType(t *testing.T) {
	rec := &stubRecorder{}
	w := NewFiscalEventWorker(rec)

	payload := FiscalEventPayload{
		Event: "payment_method_changed",
		Transaction: dto.CreateFiscalTransactionRequest{
			OrderID:         uuid.New().String(),
			BranchID:        uuid.New().String(),
			TransactionType: model.TypeRefund,
		},
	}
	w.Process(context.Background(), mustJSON(t, payload))

	require.Len(t, rec.requests, 1)
	require.NotNil(t, rec.requests[0].RefundType)
	assert.Equal(t, model.RefundTypePaymentChange, *rec.requests[0].RefundType)
}

// A duplicate-active rejection means the in-flight record already covers
// the event; the worker drops it without panicking or retrying.
func TestFiscalEventWorkerMergesDuplicateEvents(t *testing.T) {
	rec := &stubRecorder{err: repository.ErrDuplicateActive}
	w := NewFiscalEventWorker(rec)

	payload := FiscalEventPayload{
		Event: "sale_completed",
		Transaction: dto.CreateFiscalTransactionRequest{
			OrderID:         uuid.New().String(),
			BranchID:        uuid.New().String(),
			TransactionType: model.TypeSale,
		},
	}
	assert.NotPanics(t, func() {
		w.Process(context.Background(), mustJSON(t, payload))
	})
}

func TestFiscalEventWorkerInvalidPayloadNoPanic(t *testing.T) {
	rec := &stubRecorder{}
	w := NewFiscalEventWorker(rec)

	assert.NotPanics(t, func() {
		w.Process(context.Background(), json.RawMessage(`{not json`))
	})
	assert.Empty(t, rec.requests)
}
