package invoicing

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus enumerates invoice settlement states.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentPaid          PaymentStatus = "paid"
)

// MatchStatus is the outcome of a 3-way match run. Empty until a match has
// been performed.
type MatchStatus string

const (
	MatchVerified       MatchStatus = "verified"
	MatchVarianceReview MatchStatus = "variance_review"
)

// Invoice is the payable document derived from an accepted goods receipt or
// created standalone. remainingAmount + totalPaid always equals total.
type Invoice struct {
	ID              int64
	Number          string
	GRNID           *int64
	SupplierID      int64
	Items           []Line
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
	PaymentStatus   PaymentStatus
	TotalPaid       decimal.Decimal
	RemainingAmount decimal.Decimal
	MatchStatus     MatchStatus
	InvoiceDate     time.Time
	DueDate         time.Time
}

// Line mirrors a received item with its computed total.
type Line struct {
	ID          int64
	InvoiceID   int64
	MaterialID  int64
	Description string
	Quantity    float64
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
}

// VarianceField names which side of the match diverged.
type VarianceField string

const (
	VarianceQuantity VarianceField = "quantity"
	VariancePrice    VarianceField = "price"
)

// Variance records one flagged discrepancy between the invoice and its
// reference documents. Flagged lines go to manual review; they never block
// the invoice.
type Variance struct {
	ID           int64
	InvoiceID    int64
	MaterialID   int64
	Field        VarianceField
	InvoiceValue decimal.Decimal
	ExpectedVal  decimal.Decimal
	Delta        decimal.Decimal
}
