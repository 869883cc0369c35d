package grading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-procure/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	ListQCRecords(ctx context.Context, supplierID int64) ([]QCRecord, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertQCRecord(ctx context.Context, rec QCRecord) (int64, error)
	FindQCRecordByGRN(ctx context.Context, grnID int64) (QCRecord, error)
	ListQCRecords(ctx context.Context, supplierID int64) ([]QCRecord, error)
	UpdateSupplierGrade(ctx context.Context, update SupplierGradeUpdate) error
}

// SupplierGradeUpdate carries the derived grade fields. Only these columns
// are written, so concurrent edits to other supplier fields are untouched.
type SupplierGradeUpdate struct {
	SupplierID        int64
	CurrentGrade      Grade
	AveragePoints     float64
	TotalDeliveries   int64
	LastDeliveryGrade Grade
	LastGradeUpdate   time.Time
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service recomputes supplier grades from quality-control outcomes.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService constructs the grading engine.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// RecordDeliveryInput describes one graded delivery.
type RecordDeliveryInput struct {
	SupplierID int64
	GRNID      int64
	GRNNumber  string
	Grade      Grade
	QCOfficer  string
	QCDate     time.Time
}

// RecordDelivery appends the QC record for a delivery and regrades the
// supplier over full history. totalDeliveries is the count of all records
// after insertion, including the new one. A GRN that already has a QC
// record is not recorded twice: the supplier is regraded from the existing
// history, so a replayed approval cannot inflate the delivery count.
func (s *Service) RecordDelivery(ctx context.Context, input RecordDeliveryInput) (Supplier, error) {
	if !ValidGrade(input.Grade) {
		return Supplier{}, fmt.Errorf("grading: grade %q: %w", input.Grade, shared.ErrValidation)
	}
	supplier, err := s.repo.GetSupplier(ctx, input.SupplierID)
	if err != nil {
		return Supplier{}, err
	}
	if input.QCDate.IsZero() {
		input.QCDate = time.Now()
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		recorded := false
		if input.GRNID != 0 {
			if _, err := tx.FindQCRecordByGRN(ctx, input.GRNID); err == nil {
				recorded = true
			} else if !errors.Is(err, shared.ErrNotFound) {
				return err
			}
		}
		if !recorded {
			if _, err := tx.InsertQCRecord(ctx, QCRecord{
				GRNID:      input.GRNID,
				GRNNumber:  input.GRNNumber,
				SupplierID: input.SupplierID,
				Grade:      input.Grade,
				QCDate:     input.QCDate,
				QCOfficer:  input.QCOfficer,
			}); err != nil {
				return err
			}
		}
		records, err := tx.ListQCRecords(ctx, input.SupplierID)
		if err != nil {
			return err
		}
		update := foldRecords(input.SupplierID, records, input.Grade)
		supplier.CurrentGrade = update.CurrentGrade
		supplier.AveragePoints = update.AveragePoints
		supplier.TotalDeliveries = update.TotalDeliveries
		supplier.LastDeliveryGrade = update.LastDeliveryGrade
		supplier.LastGradeUpdate = update.LastGradeUpdate
		return tx.UpdateSupplierGrade(ctx, update)
	})
	if err != nil {
		return Supplier{}, err
	}
	s.recordAudit(ctx, "SUPPLIER_REGRADE", supplier.ID, map[string]any{
		"grade":      supplier.CurrentGrade,
		"avg_points": supplier.AveragePoints,
		"deliveries": supplier.TotalDeliveries,
	})
	return supplier, nil
}

// Regrade recomputes the supplier's aggregates from the full QC history
// without appending a record. Used to repair drifted aggregates.
func (s *Service) Regrade(ctx context.Context, supplierID int64) (Supplier, error) {
	supplier, err := s.repo.GetSupplier(ctx, supplierID)
	if err != nil {
		return Supplier{}, err
	}
	records, err := s.repo.ListQCRecords(ctx, supplierID)
	if err != nil {
		return Supplier{}, err
	}
	last := supplier.LastDeliveryGrade
	if len(records) > 0 {
		last = records[len(records)-1].Grade
	}
	update := foldRecords(supplierID, records, last)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateSupplierGrade(ctx, update)
	})
	if err != nil {
		return Supplier{}, err
	}
	supplier.CurrentGrade = update.CurrentGrade
	supplier.AveragePoints = update.AveragePoints
	supplier.TotalDeliveries = update.TotalDeliveries
	supplier.LastDeliveryGrade = update.LastDeliveryGrade
	supplier.LastGradeUpdate = update.LastGradeUpdate
	return supplier, nil
}

// GetSupplier returns the supplier with current aggregates.
func (s *Service) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	return s.repo.GetSupplier(ctx, id)
}

// History lists the supplier's QC records, oldest first.
func (s *Service) History(ctx context.Context, supplierID int64) ([]QCRecord, error) {
	return s.repo.ListQCRecords(ctx, supplierID)
}

func foldRecords(supplierID int64, records []QCRecord, lastGrade Grade) SupplierGradeUpdate {
	grades := make([]Grade, 0, len(records))
	for _, r := range records {
		grades = append(grades, r.Grade)
	}
	avg, letter := Average(grades)
	return SupplierGradeUpdate{
		SupplierID:        supplierID,
		CurrentGrade:      letter,
		AveragePoints:     avg,
		TotalDeliveries:   int64(len(records)),
		LastDeliveryGrade: lastGrade,
		LastGradeUpdate:   time.Now(),
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "supplier", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
