package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is one append-only settlement entry against an invoice. Invoice
// aggregates are never trusted incrementally; they are refolded from the
// full payment history on every append.
type Payment struct {
	ID          int64
	Number      string
	InvoiceID   int64
	Amount      decimal.Decimal
	Method      string
	PaymentDate time.Time
	Reference   string
	Notes       string
}

// InvoiceBalance is the settlement view of an invoice.
type InvoiceBalance struct {
	InvoiceID       int64
	Total           decimal.Decimal
	TotalPaid       decimal.Decimal
	RemainingAmount decimal.Decimal
}

// Fold recomputes the balance from a payment history.
func Fold(invoiceID int64, total decimal.Decimal, history []Payment) InvoiceBalance {
	paid := decimal.Zero
	for _, p := range history {
		paid = paid.Add(p.Amount)
	}
	remaining := total.Sub(paid)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return InvoiceBalance{
		InvoiceID:       invoiceID,
		Total:           total,
		TotalPaid:       paid,
		RemainingAmount: remaining,
	}
}
