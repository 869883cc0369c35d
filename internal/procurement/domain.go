package procurement

import (
	"time"
)

// PreparationStatus tracks a line item from approval to completed receipt.
type PreparationStatus string

const (
	PrepPendingAssignment PreparationStatus = "pending_supplier_assignment"
	PrepSupplierAssigned  PreparationStatus = "supplier_assigned"
	PrepDeliveredPending  PreparationStatus = "delivered_pending_qc"
	PrepCompleted         PreparationStatus = "completed"
	PrepQCFailed          PreparationStatus = "qc_failed"
)

// POStatus enumerates the purchase order lifecycle.
type POStatus string

const (
	POStatusDraft             POStatus = "draft"
	POStatusIssued            POStatus = "issued"
	POStatusPartiallyReceived POStatus = "partially_received"
	POStatusFullyReceived     POStatus = "fully_received"
	POStatusClosed            POStatus = "closed"
)

// Preparation is one purchase-preparation row. The row spawned on MD
// approval carries no supplier; allocation splits it into one row per
// (requisition, material, supplier) combination.
type Preparation struct {
	ID               int64
	RequestID        int64
	RequestType      string
	MaterialID       int64
	MaterialName     string
	RequiredQuantity float64
	Unit             string
	Status           PreparationStatus
	SupplierID       int64
	UnitPrice        float64
	ExpectedDelivery *time.Time
	Notes            string
}

// PurchaseOrder commits a quantity, price and delivery date to a supplier.
// totalCost is always quantity times unit price at the time of assignment.
type PurchaseOrder struct {
	ID               int64
	Number           string
	PreparationID    int64
	SupplierID       int64
	MaterialID       int64
	Quantity         float64
	UnitPrice        float64
	TotalCost        float64
	Status           POStatus
	ExpectedDelivery time.Time
	CreatedAt        time.Time
}
