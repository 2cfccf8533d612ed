package infra

// pdf.go — printable receipt rendering using go-pdf/fpdf.
// Thermal-format document with merchant identity, tax registration
// numbers, itemized lines, GST and QST broken out, total, payment method
// (closing transactions only), and the QR verification code built from
// the authority transaction id. Read side only: rendering never touches
// the queue's write path.

import (
	"bytes"
	"fmt"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/receipt"

	"github.com/go-pdf/fpdf"
	qrcode "github.com/skip2/go-qrcode"
)

// RenderReceiptPDF renders a completed transaction's compiled payload to
// a PDF. verificationURL is the full QR target, already carrying the
// authority transaction id.
func RenderReceiptPDF(p *receipt.Payload, authorityTxID, verificationURL string) ([]byte, error) {
	// 80mm thermal roll, height grows with line count
	height := 120.0 + float64(len(p.Lines))*5
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: 80, Ht: height},
	})
	pdf.SetMargins(5, 5, 5)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(70, 5, p.Merchant.LegalName, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 7)
	pdf.CellFormat(70, 3.5, p.Merchant.Address, "", 1, "C", false, 0, "")
	pdf.CellFormat(70, 3.5, p.Merchant.Phone, "", 1, "C", false, 0, "")
	pdf.CellFormat(70, 3.5, "TPS: "+p.Merchant.GSTNumber, "", 1, "C", false, 0, "")
	pdf.CellFormat(70, 3.5, "TVQ: "+p.Merchant.QSTNumber, "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.CellFormat(35, 3.5, "Order "+p.OrderNumber, "", 0, "L", false, 0, "")
	pdf.CellFormat(35, 3.5, p.Timestamp, "", 1, "R", false, 0, "")
	pdf.Ln(1)

	for _, l := range p.Lines {
		pdf.CellFormat(40, 4, fmt.Sprintf("%dx %s", l.Quantity, l.Description), "", 0, "L", false, 0, "")
		pdf.CellFormat(20, 4, l.LineTotal, "", 0, "R", false, 0, "")
		pdf.CellFormat(10, 4, l.TaxCode, "", 1, "R", false, 0, "")
	}
	pdf.Ln(1)

	totalLine := func(label, amount string, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, 8)
		pdf.CellFormat(45, 4, label, "", 0, "L", false, 0, "")
		pdf.CellFormat(25, 4, amount, "", 1, "R", false, 0, "")
	}
	totalLine("Subtotal", p.Subtotal, false)
	totalLine("TPS (5%)", p.GST, false)
	totalLine("TVQ (9.975%)", p.QST, false)
	totalLine("TOTAL", p.Total, true)

	if p.PaymentMethod != "" {
		pdf.SetFont("Helvetica", "", 7)
		pdf.CellFormat(70, 4, "Payment: "+p.PaymentMethod, "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 6)
	pdf.CellFormat(70, 3, "No. "+authorityTxID, "", 1, "C", false, 0, "")

	png, err := qrcode.Encode(verificationURL, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("pdf: encode QR: %w", err)
	}
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("verification-qr", opts, bytes.NewReader(png))
	x := (80 - 25) / 2.0
	pdf.ImageOptions("verification-qr", x, pdf.GetY(), 25, 25, false, opts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf: render receipt: %w", err)
	}
	return buf.Bytes(), nil
}
