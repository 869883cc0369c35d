package receiving

import (
	"time"

	"github.com/meridian-erp/meridian-procure/internal/grading"
)

// Status tracks a goods receipt note from arrival to settlement.
type Status string

const (
	StatusPendingQC Status = "pending_qc"
	StatusQCPassed  Status = "qc_passed"
	StatusQCFailed  Status = "qc_failed"
	StatusInvoiced  Status = "invoiced"
)

// Condition records the physical state of a received line.
type Condition string

const (
	ConditionGood    Condition = "good"
	ConditionDamaged Condition = "damaged"
)

// Item is one received line. QualityGrade and Condition stay empty until
// the QC officer signs off.
type Item struct {
	ID                int64
	GRNID             int64
	MaterialID        int64
	MaterialName      string
	OrderedQuantity   float64
	DeliveredQuantity float64
	UnitPrice         float64
	TotalPrice        float64
	QualityGrade      grading.Grade
	Condition         Condition
}

// GRN is the goods receipt note for one delivery against a purchase order.
// Immutable once invoiced.
type GRN struct {
	ID           int64
	Number       string
	POID         int64
	SupplierID   int64
	DeliveryDate time.Time
	Items        []Item
	Status       Status
	TotalAmount  float64
	QCOfficer    string
	QCDate       *time.Time
	RejectReason string
}

// AverageGrade folds the per-item grades into the delivery grade fed back
// to supplier scoring.
func AverageGrade(items []Item) grading.Grade {
	var grades []grading.Grade
	for _, item := range items {
		if item.QualityGrade != "" {
			grades = append(grades, item.QualityGrade)
		}
	}
	_, letter := grading.Average(grades)
	return letter
}
