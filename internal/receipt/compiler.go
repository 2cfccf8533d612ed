// Package receipt compiles the prescribed WEB-SRM receipt payload from an
// order snapshot. Compilation is pure and deterministic: the same input
// always produces byte-identical output, because the compiled payload is
// persisted on the transaction record and must be reproducible for audit
// and for byte-identical resubmission. No I/O happens here.
package receipt

import (
	"encoding/json"
	"time"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tax codes on an order line. GST and QST are always reported as two
// separate amounts, never merged.
const (
	TaxBoth    = "FP"  // GST + QST
	TaxGSTOnly = "F"   // GST only
	TaxQSTOnly = "P"   // QST only
	TaxExempt  = "NON" // no tax
)

var (
	gstRate = decimal.NewFromFloat(0.05)
	qstRate = decimal.NewFromFloat(0.09975)
)

// OrderLine is one itemized line of the order snapshot.
type OrderLine struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxCode     string          `json:"tax_code"`
}

// OrderSnapshot is the immutable view of an order at the moment the
// fiscal event occurred. Later edits to the order never affect it.
type OrderSnapshot struct {
	OrderID       uuid.UUID
	OrderNumber   string
	TakenAt       time.Time
	Lines         []OrderLine
	PaymentMethod string
	// Closing marks a finalizing transaction; only those carry the
	// payment method on the receipt.
	Closing bool
}

// MerchantInfo carries the branch fiscal identity printed on the receipt.
type MerchantInfo struct {
	LegalName string `json:"legal_name"`
	Address   string `json:"address"`
	Phone     string `json:"phone"`
	GSTNumber string `json:"gst_number"`
	QSTNumber string `json:"qst_number"`
	DeviceID  string `json:"device_id"`
}

// PayloadLine is one itemized line as submitted to the authority.
type PayloadLine struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	TaxCode     string `json:"tax_code"`
	LineTotal   string `json:"line_total"`
}

// Payload is the compiled transaction as submitted to WEB-SRM and kept
// as the record's payload snapshot. All amounts are fixed two-decimal
// strings so that serialization is byte-stable across runs.
type Payload struct {
	Merchant        MerchantInfo  `json:"merchant"`
	TransactionID   string        `json:"transaction_id"` // our record id — the client reference
	TransactionType string        `json:"transaction_type"`
	RefundType      string        `json:"refund_type,omitempty"`
	OriginalPayment string        `json:"original_payment_method,omitempty"`
	ChangeTo        string        `json:"change_to,omitempty"`
	OrderNumber     string        `json:"order_number"`
	Timestamp       string        `json:"timestamp"` // YYYYMMDDhhmmss UTC
	Lines           []PayloadLine `json:"lines"`
	Subtotal        string        `json:"subtotal"`
	GST             string        `json:"gst"`
	QST             string        `json:"qst"`
	Total           string        `json:"total"`
	PaymentMethod   string        `json:"payment_method,omitempty"`
}

// Compile builds the payload for a fiscal transaction. It returns both
// the structured payload and its canonical JSON encoding.
func Compile(tx *model.FiscalTransaction, snap OrderSnapshot, merchant MerchantInfo) (*Payload, []byte, error) {
	subtotal := decimal.Zero
	gstBase := decimal.Zero
	qstBase := decimal.Zero

	lines := make([]PayloadLine, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		lineTotal := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		subtotal = subtotal.Add(lineTotal)
		switch l.TaxCode {
		case TaxBoth:
			gstBase = gstBase.Add(lineTotal)
			qstBase = qstBase.Add(lineTotal)
		case TaxGSTOnly:
			gstBase = gstBase.Add(lineTotal)
		case TaxQSTOnly:
			qstBase = qstBase.Add(lineTotal)
		}
		lines = append(lines, PayloadLine{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice.StringFixed(2),
			TaxCode:     l.TaxCode,
			LineTotal:   lineTotal.StringFixed(2),
		})
	}

	gst := gstBase.Mul(gstRate).Round(2)
	qst := qstBase.Mul(qstRate).Round(2)
	total := subtotal.Add(gst).Add(qst)

	p := &Payload{
		Merchant:        merchant,
		TransactionID:   tx.ID.String(),
		TransactionType: tx.TransactionType,
		OrderNumber:     snap.OrderNumber,
		Timestamp:       snap.TakenAt.UTC().Format("20060102150405"),
		Lines:           lines,
		Subtotal:        subtotal.StringFixed(2),
		GST:             gst.StringFixed(2),
		QST:             qst.StringFixed(2),
		Total:           total.StringFixed(2),
	}
	if tx.RefundType != nil {
		p.RefundType = *tx.RefundType
	}
	if tx.OriginalPaymentMethod != nil {
		p.OriginalPayment = *tx.OriginalPaymentMethod
	}
	if tx.ChangeTo != nil {
		p.ChangeTo = *tx.ChangeTo
	}
	// Payment method only appears on a closing transaction; provisional
	// receipts (additions) omit it.
	if snap.Closing {
		p.PaymentMethod = snap.PaymentMethod
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}
	return p, raw, nil
}

// Total computes the tax-inclusive total for a snapshot without building
// the full payload. Used when creating the transaction record.
func Total(snap OrderSnapshot) decimal.Decimal {
	p, _, err := Compile(&model.FiscalTransaction{ID: uuid.Nil, TransactionType: model.TypeSale}, snap, MerchantInfo{})
	if err != nil {
		return decimal.Zero
	}
	t, _ := decimal.NewFromString(p.Total)
	return t
}
