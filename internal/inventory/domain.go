package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-procure/internal/shared"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIn represents a stock credit (goods receipt).
	MovementIn MovementType = "in"
	// MovementOut represents a stock debit (issue to production).
	MovementOut MovementType = "out"
)

// StockMovement is an append-only ledger entry. The reference field carries
// the originating document number (GRN or invoice) and doubles as the
// deduplication key: one credit per (materialID, reference) pair.
type StockMovement struct {
	ID          int64
	MaterialID  int64
	Type        MovementType
	Quantity    float64
	Reason      string
	Reference   string
	BatchNumber string
	SupplierID  int64
	PostedAt    time.Time
}

// Material caches the running stock quantity for fast reads. The cache and
// the movement ledger must agree; ReplayStockLevel verifies that.
type Material struct {
	ID        int64
	Name      string
	Unit      string
	Quantity  float64
	UpdatedAt time.Time
}

// CreditInput describes a stock credit from an accepted delivery.
type CreditInput struct {
	MaterialID  int64
	Quantity    float64
	Reference   string
	Reason      string
	BatchNumber string
	SupplierID  int64
}

// DebitInput describes a stock issue.
type DebitInput struct {
	MaterialID int64
	Quantity   float64
	Reference  string
	Reason     string
}

var (
	// ErrNegativeStock triggered when a debit would drive quantity below zero.
	ErrNegativeStock = errors.New("inventory: negative stock not allowed")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = fmt.Errorf("inventory: quantity must be positive: %w", shared.ErrValidation)
	// ErrMissingReference indicates a movement without a dedup reference.
	ErrMissingReference = fmt.Errorf("inventory: reference required: %w", shared.ErrValidation)
)
