package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Transaction status lifecycle.
// pending → processing → completed (terminal)
// pending → processing → pending   (failed attempt, retry budget left)
// pending → processing → failed    (validation reject or budget exhausted)
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Transaction types as reported to the WEB-SRM endpoint.
// VEN = sale, REM = refund (including payment-method corrections).
const (
	TypeSale   = "VEN"
	TypeRefund = "REM"
)

// RefundTypePaymentChange marks a REM record issued to correct the
// payment method of an earlier sale rather than to return money.
const RefundTypePaymentChange = "payment_method_change"

// FiscalTransaction is one entry in the fiscal ledger: a sale, refund,
// or payment-method correction that must reach the WEB-SRM endpoint.
// Rows are never deleted; the full sequence per order is the audit trail.
type FiscalTransaction struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrderID  uuid.UUID `gorm:"type:uuid;index:idx_fiscal_tx_order;not null"`
	BranchID uuid.UUID `gorm:"type:uuid;index;not null"`

	TransactionType string  `gorm:"type:varchar(10);not null"`
	RefundType      *string `gorm:"type:varchar(40)"`
	// Populated only for payment-method-change refunds
	OriginalPaymentMethod *string `gorm:"type:varchar(30)"`
	ChangeTo              *string `gorm:"type:varchar(30)"`

	Status string `gorm:"type:varchar(20);not null;default:'pending'"`

	// AuthorityTransactionID is assigned by WEB-SRM on success and is
	// set if and only if Status == completed.
	AuthorityTransactionID *string `gorm:"type:varchar(64)"`
	ResponseCode           *string `gorm:"type:varchar(20)"`
	ErrorMessage           *string

	Amount decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	// PayloadSnapshot is the exact compiled payload submitted to the
	// authority, retained for audit replay and byte-identical resubmission.
	PayloadSnapshot datatypes.JSON `gorm:"type:jsonb"`

	RetryCount  int        `gorm:"not null;default:0"`
	MaxRetries  int        `gorm:"not null;default:3"`
	NextRetryAt *time.Time `gorm:"column:next_retry_at"`
	// ProcessingAt is set when the record is claimed; the recovery sweep
	// uses it to detect claims orphaned by a crash.
	ProcessingAt *time.Time
	CompletedAt  *time.Time
	LastErrorAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether no further automatic transition may occur.
func (t *FiscalTransaction) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// Active reports whether the record counts against the one-active-per
// (order_id, transaction_type) idempotency invariant.
func (t *FiscalTransaction) Active() bool {
	return t.Status == StatusPending || t.Status == StatusProcessing
}
