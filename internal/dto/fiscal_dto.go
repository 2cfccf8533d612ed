package dto

import "github.com/shopspring/decimal"

// ─── Request DTOs ────────────────────────────────────────────────────────────

// OrderLineDTO is one itemized line of the order snapshot.
type OrderLineDTO struct {
	Description string          `json:"description" validate:"required"`
	Quantity    int             `json:"quantity"    validate:"required,min=1"`
	UnitPrice   decimal.Decimal `json:"unit_price"  validate:"required"`
	TaxCode     string          `json:"tax_code"    validate:"required,oneof=FP F P NON"`
}

// OrderSnapshotDTO is the immutable order view carried by the fiscal event.
type OrderSnapshotDTO struct {
	OrderNumber   string         `json:"order_number"   validate:"required"`
	TakenAt       string         `json:"taken_at"       validate:"required"` // RFC 3339
	PaymentMethod string         `json:"payment_method"`
	Closing       bool           `json:"closing"`
	Lines         []OrderLineDTO `json:"lines" validate:"required,min=1,dive"`
}

// CreateFiscalTransactionRequest records a sale, refund, or
// payment-method change from the order subsystem.
type CreateFiscalTransactionRequest struct {
	OrderID         string           `json:"order_id"         validate:"required,uuid"`
	BranchID        string           `json:"branch_id"        validate:"required,uuid"`
	TransactionType string           `json:"transaction_type" validate:"required,oneof=VEN REM"`
	RefundType      *string          `json:"refund_type,omitempty"`
	OriginalPayment *string          `json:"original_payment_method,omitempty"`
	ChangeTo        *string          `json:"change_to,omitempty"`
	Order           OrderSnapshotDTO `json:"order" validate:"required"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type FiscalTransactionResponse struct {
	ID                     string          `json:"id"`
	OrderID                string          `json:"order_id"`
	BranchID               string          `json:"branch_id"`
	TransactionType        string          `json:"transaction_type"`
	RefundType             *string         `json:"refund_type,omitempty"`
	OriginalPayment        *string         `json:"original_payment_method,omitempty"`
	ChangeTo               *string         `json:"change_to,omitempty"`
	Status                 string          `json:"status"`
	AuthorityTransactionID *string         `json:"authority_transaction_id,omitempty"`
	ResponseCode           *string         `json:"response_code,omitempty"`
	ErrorMessage           *string         `json:"error_message,omitempty"`
	Amount                 decimal.Decimal `json:"amount"`
	RetryCount             int             `json:"retry_count"`
	MaxRetries             int             `json:"max_retries"`
	NextRetryAt            *string         `json:"next_retry_at,omitempty"`
	CreatedAt              string          `json:"created_at"`
	CompletedAt            *string         `json:"completed_at,omitempty"`
	LastErrorAt            *string         `json:"last_error_at,omitempty"`
}

type FiscalHistoryResponse struct {
	OrderID string                      `json:"order_id"`
	Count   int                         `json:"count"`
	Data    []FiscalTransactionResponse `json:"data"`
}

// DrainReportResponse summarizes one queue drain run.
type DrainReportResponse struct {
	Attempted    int   `json:"attempted"`
	Completed    int   `json:"completed"`
	Failed       int   `json:"failed"`
	StillPending int64 `json:"still_pending"`
}

type QueueStatsResponse struct {
	BranchID   string `json:"branch_id"`
	Pending    int64  `json:"pending"`
	Processing int64  `json:"processing"`
	Completed  int64  `json:"completed"`
	Failed     int64  `json:"failed"`
	DLQDepth   int64  `json:"dlq_depth"`
}
