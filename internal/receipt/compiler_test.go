package receipt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot(closing bool) OrderSnapshot {
	return OrderSnapshot{
		OrderID:     uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		OrderNumber: "A-1042",
		TakenAt:     time.Date(2025, 3, 14, 18, 30, 45, 0, time.UTC),
		Lines: []OrderLine{
			{Description: "Poutine classique", Quantity: 2, UnitPrice: decimal.NewFromFloat(9.50), TaxCode: TaxBoth},
			{Description: "Bouteille d'eau", Quantity: 1, UnitPrice: decimal.NewFromFloat(2.00), TaxCode: TaxExempt},
		},
		PaymentMethod: "card",
		Closing:       closing,
	}
}

func sampleMerchant() MerchantInfo {
	return MerchantInfo{
		LegalName: "Restaurant Chez Test Inc.",
		Address:   "123 Rue Principale, Montréal QC",
		Phone:     "514-555-0100",
		GSTNumber: "123456789RT0001",
		QSTNumber: "1234567890TQ0001",
		DeviceID:  "SRM-DEV-42",
	}
}

func TestCompileTaxBreakout(t *testing.T) {
	tx := &model.FiscalTransaction{
		ID:              uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		TransactionType: model.TypeSale,
	}

	p, raw, err := Compile(tx, sampleSnapshot(true), sampleMerchant())
	require.NoError(t, err)
	require.NotNil(t, p)

	// Taxable base is 19.00 (the water is exempt).
	assert.Equal(t, "21.00", p.Subtotal)
	assert.Equal(t, "0.95", p.GST)  // 19.00 * 5%
	assert.Equal(t, "1.90", p.QST)  // 19.00 * 9.975% rounded
	assert.Equal(t, "23.85", p.Total)
	assert.Equal(t, "20250314183045", p.Timestamp)
	assert.Equal(t, "card", p.PaymentMethod)
	assert.Equal(t, tx.ID.String(), p.TransactionID)

	require.Len(t, p.Lines, 2)
	assert.Equal(t, "19.00", p.Lines[0].LineTotal)
	assert.Equal(t, TaxExempt, p.Lines[1].TaxCode)

	// GST and QST must never be merged into a single tax amount.
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "gst")
	assert.Contains(t, decoded, "qst")
}

func TestCompileIsDeterministic(t *testing.T) {
	tx := &model.FiscalTransaction{
		ID:              uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		TransactionType: model.TypeSale,
	}
	snap := sampleSnapshot(true)
	merchant := sampleMerchant()

	_, first, err := Compile(tx, snap, merchant)
	require.NoError(t, err)
	_, second, err := Compile(tx, snap, merchant)
	require.NoError(t, err)

	// Byte-identical output is required for audit and resubmission.
	assert.Equal(t, first, second)
}

func TestCompileProvisionalOmitsPaymentMethod(t *testing.T) {
	tx := &model.FiscalTransaction{ID: uuid.New(), TransactionType: model.TypeSale}

	p, raw, err := Compile(tx, sampleSnapshot(false), sampleMerchant())
	require.NoError(t, err)

	assert.Empty(t, p.PaymentMethod)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.NotContains(t, decoded, "payment_method")
}

func TestCompileRefundFields(t *testing.T) {
	refundType := model.RefundTypePaymentChange
	original := "card"
	changeTo := "cash"
	tx := &model.FiscalTransaction{
		ID:                    uuid.New(),
		TransactionType:       model.TypeRefund,
		RefundType:            &refundType,
		OriginalPaymentMethod: &original,
		ChangeTo:              &changeTo,
	}

	p, _, err := Compile(tx, sampleSnapshot(true), sampleMerchant())
	require.NoError(t, err)

	assert.Equal(t, model.TypeRefund, p.TransactionType)
	assert.Equal(t, model.RefundTypePaymentChange, p.RefundType)
	assert.Equal(t, "card", p.OriginalPayment)
	assert.Equal(t, "cash", p.ChangeTo)
}

func TestCompileTaxCodePartialCoverage(t *testing.T) {
	tx := &model.FiscalTransaction{ID: uuid.New(), TransactionType: model.TypeSale}
	snap := OrderSnapshot{
		OrderNumber: "B-7",
		TakenAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Lines: []OrderLine{
			{Description: "GST only", Quantity: 1, UnitPrice: decimal.NewFromFloat(10.00), TaxCode: TaxGSTOnly},
			{Description: "QST only", Quantity: 1, UnitPrice: decimal.NewFromFloat(10.00), TaxCode: TaxQSTOnly},
		},
	}

	p, _, err := Compile(tx, snap, sampleMerchant())
	require.NoError(t, err)

	assert.Equal(t, "0.50", p.GST)
	assert.Equal(t, "1.00", p.QST) // 10.00 * 9.975% = 0.9975 → 1.00
	assert.Equal(t, "21.50", p.Total)
}

func TestTotal(t *testing.T) {
	total := Total(sampleSnapshot(true))
	assert.True(t, total.Equal(decimal.NewFromFloat(23.85)), "got %s", total)
}
