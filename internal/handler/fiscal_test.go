package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/dto"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/repository"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// ── In-memory Service Stub ───────────────────────────────────────────────────

type stubFiscalService struct {
	createErr  error
	createResp *dto.FiscalTransactionResponse
}

func (s *stubFiscalService) CreateTransaction(_ context.Context, _ dto.CreateFiscalTransactionRequest) (*dto.FiscalTransactionResponse, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.createResp, nil
}

func (s *stubFiscalService) Status(_ context.Context, _ uuid.UUID) (*dto.FiscalTransactionResponse, error) {
	return nil, errors.New("not implemented")
}

func (s *stubFiscalService) History(_ context.Context, _ uuid.UUID) (*dto.FiscalHistoryResponse, error) {
	return nil, errors.New("not implemented")
}

func (s *stubFiscalService) QueueStats(_ context.Context, _ uuid.UUID) (*dto.QueueStatsResponse, error) {
	return nil, errors.New("not implemented")
}

func (s *stubFiscalService) ReceiptPDF(_ context.Context, _ uuid.UUID) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *stubFiscalService) ProcessQueue(_ context.Context, _ uuid.UUID) (*dto.DrainReportResponse, error) {
	return nil, errors.New("not implemented")
}

func (s *stubFiscalService) Resubmit(_ context.Context, _ uuid.UUID, _ string) (*dto.FiscalTransactionResponse, error) {
	return nil, errors.New("not implemented")
}

var _ service.FiscalService = (*stubFiscalService)(nil)

// ── Helpers ──────────────────────────────────────────────────────────────────

func postCreate(svc service.FiscalService) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewFiscalHandler(svc)
	r.POST("/v1/fiscal/transactions", h.Create)

	body := []byte(`{
		"order_id": "bbbbbbbb-0000-0000-0000-000000000001",
		"branch_id": "aaaaaaaa-0000-0000-0000-000000000001",
		"transaction_type": "VEN",
		"order": {
			"order_number": "A-1",
			"taken_at": "2025-03-14T18:30:45Z",
			"payment_method": "card",
			"closing": true,
			"lines": [
				{"description": "Poutine", "quantity": 2, "unit_price": 9.50, "tax_code": "FP"}
			]
		}
	}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/fiscal/transactions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ── Tests ────────────────────────────────────────────────────────────────────

func TestCreateSuccess(t *testing.T) {
	svc := &stubFiscalService{createResp: &dto.FiscalTransactionResponse{
		ID:     uuid.NewString(),
		Status: "pending",
	}}

	w := postCreate(svc)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"pending"`)
}

func TestCreateDuplicateActiveIsConflict(t *testing.T) {
	svc := &stubFiscalService{createErr: repository.ErrDuplicateActive}

	w := postCreate(svc)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateInvalidRequestIsBadRequest(t *testing.T) {
	svc := &stubFiscalService{
		createErr: fmt.Errorf("%w: refund_type is only valid on REM transactions", service.ErrInvalidRequest),
	}

	w := postCreate(svc)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "refund_type")
}

// A storage fault is the server's problem, never the caller's.
func TestCreateStorageFaultIsServerError(t *testing.T) {
	svc := &stubFiscalService{createErr: errors.New("pq: connection refused")}

	w := postCreate(svc)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused",
		"internal error detail must not leak to the caller")
}
