package grading

import (
	"time"
)

// Grade is the letter grade assigned by quality control.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// SupplierStatus enumerates supplier lifecycle states.
type SupplierStatus string

const (
	SupplierActive    SupplierStatus = "active"
	SupplierInactive  SupplierStatus = "inactive"
	SupplierSuspended SupplierStatus = "suspended"
)

// Supplier carries the rolling grade aggregates mutated exclusively by this
// package, exactly once per accepted delivery.
type Supplier struct {
	ID                int64
	Name              string
	Status            SupplierStatus
	CurrentGrade      Grade
	AveragePoints     float64
	TotalDeliveries   int64
	LastDeliveryGrade Grade
	LastGradeUpdate   time.Time
}

// QCRecord is the append-only audit trail the grading engine folds over.
// Records are never mutated after creation.
type QCRecord struct {
	ID         int64
	GRNID      int64
	GRNNumber  string
	SupplierID int64
	Grade      Grade
	QCDate     time.Time
	QCOfficer  string
}

// GradePoints maps a letter grade to its numeric points: A=4, B=3, C=2, D=1.
// Unknown grades map to 0.
func GradePoints(g Grade) float64 {
	switch g {
	case GradeA:
		return 4
	case GradeB:
		return 3
	case GradeC:
		return 2
	case GradeD:
		return 1
	}
	return 0
}

// LetterFor maps average points onto a letter grade:
// avg >= 3.5 -> A, >= 2.5 -> B, >= 1.5 -> C, else D.
func LetterFor(avg float64) Grade {
	switch {
	case avg >= 3.5:
		return GradeA
	case avg >= 2.5:
		return GradeB
	case avg >= 1.5:
		return GradeC
	}
	return GradeD
}

// Average folds a set of grades into average points and the mapped letter.
func Average(grades []Grade) (float64, Grade) {
	if len(grades) == 0 {
		return 0, GradeD
	}
	var sum float64
	for _, g := range grades {
		sum += GradePoints(g)
	}
	avg := sum / float64(len(grades))
	return avg, LetterFor(avg)
}

// ValidGrade reports whether g is one of the four letter grades.
func ValidGrade(g Grade) bool {
	switch g {
	case GradeA, GradeB, GradeC, GradeD:
		return true
	}
	return false
}
