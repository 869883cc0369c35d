package receiving

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-procure/internal/grading"
	"github.com/meridian-erp/meridian-procure/internal/inventory"
	"github.com/meridian-erp/meridian-procure/internal/invoicing"
	"github.com/meridian-erp/meridian-procure/internal/notify"
	"github.com/meridian-erp/meridian-procure/internal/procurement"
	"github.com/meridian-erp/meridian-procure/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetGRN(ctx context.Context, id int64) (GRN, error)
	ListGRNsByPO(ctx context.Context, poID int64) ([]GRN, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertGRN(ctx context.Context, grn GRN) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	CompareAndSwapStatus(ctx context.Context, id int64, from, to Status) error
	SetItemQC(ctx context.Context, itemID int64, grade grading.Grade, condition Condition) error
	RecordQC(ctx context.Context, grnID int64, officer string, at time.Time) error
	RecordRejection(ctx context.Context, grnID int64, officer, reason string, at time.Time) error
}

// NumberPort issues document numbers.
type NumberPort interface {
	Next(ctx context.Context, prefix string) (string, error)
}

// IdempotencyPort guards the approval against re-runs.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// InventoryPort credits warehouse stock.
type InventoryPort interface {
	CreditStock(ctx context.Context, input inventory.CreditInput) (inventory.StockMovement, error)
}

// GradingPort feeds QC outcomes back to supplier scoring.
type GradingPort interface {
	RecordDelivery(ctx context.Context, input grading.RecordDeliveryInput) (grading.Supplier, error)
}

// InvoicingPort derives the payable invoice from an accepted receipt.
type InvoicingPort interface {
	CreateFromGRN(ctx context.Context, input invoicing.GRNInput) (invoicing.Invoice, error)
}

// OrderPort advances the purchase order and its preparation as goods move
// through receipt and QC.
type OrderPort interface {
	GetPO(ctx context.Context, id int64) (procurement.PurchaseOrder, error)
	MarkDelivered(ctx context.Context, poID int64) error
	CompletePreparation(ctx context.Context, poID int64) error
	FailPreparation(ctx context.Context, poID int64) error
	UpdatePOReceiptStatus(ctx context.Context, poID int64) (procurement.POStatus, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns goods receipt and quality control.
type Service struct {
	repo     RepositoryPort
	orders   OrderPort
	stock    InventoryPort
	grades   GradingPort
	invoices InvoicingPort
	idem     IdempotencyPort
	notifier notify.Notifier
	numbers  NumberPort
	audit    AuditPort
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs the service.
func NewService(repo RepositoryPort, orders OrderPort, stock InventoryPort, grades GradingPort,
	invoices InvoicingPort, idem IdempotencyPort, notifier notify.Notifier, numbers NumberPort,
	audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		orders:   orders,
		stock:    stock,
		grades:   grades,
		invoices: invoices,
		idem:     idem,
		notifier: notifier,
		numbers:  numbers,
		audit:    audit,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
}

// ItemInput is one delivered line.
type ItemInput struct {
	MaterialID        int64   `validate:"required"`
	MaterialName      string  `validate:"required"`
	OrderedQuantity   float64 `validate:"gt=0"`
	DeliveredQuantity float64 `validate:"gte=0"`
	UnitPrice         float64 `validate:"gt=0"`
}

// CreateInput registers a delivery against a purchase order.
type CreateInput struct {
	POID         int64       `validate:"required"`
	DeliveryDate time.Time   `validate:"required"`
	Items        []ItemInput `validate:"required,min=1,dive"`
}

// CreateGRN registers the delivery in pending_qc and refreshes the purchase
// order's receipt status.
func (s *Service) CreateGRN(ctx context.Context, input CreateInput) (GRN, error) {
	if err := s.validate.Struct(input); err != nil {
		return GRN{}, fmt.Errorf("receiving: %v: %w", err, shared.ErrValidation)
	}
	po, err := s.orders.GetPO(ctx, input.POID)
	if err != nil {
		return GRN{}, err
	}
	number, err := s.numbers.Next(ctx, "GRN")
	if err != nil {
		return GRN{}, err
	}

	grn := GRN{
		Number:       number,
		POID:         po.ID,
		SupplierID:   po.SupplierID,
		DeliveryDate: input.DeliveryDate,
		Status:       StatusPendingQC,
	}
	for _, item := range input.Items {
		total := round2(item.DeliveredQuantity * item.UnitPrice)
		grn.Items = append(grn.Items, Item{
			MaterialID:        item.MaterialID,
			MaterialName:      item.MaterialName,
			OrderedQuantity:   item.OrderedQuantity,
			DeliveredQuantity: item.DeliveredQuantity,
			UnitPrice:         item.UnitPrice,
			TotalPrice:        total,
		})
		grn.TotalAmount = round2(grn.TotalAmount + total)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertGRN(ctx, grn)
		if err != nil {
			return err
		}
		grn.ID = id
		for i := range grn.Items {
			grn.Items[i].GRNID = id
			itemID, err := tx.InsertItem(ctx, grn.Items[i])
			if err != nil {
				return err
			}
			grn.Items[i].ID = itemID
		}
		return nil
	})
	if err != nil {
		return GRN{}, err
	}

	// A later GRN against the same PO finds the preparation already
	// delivered; that is not an error.
	if err := s.orders.MarkDelivered(ctx, po.ID); err != nil && !errors.Is(err, shared.ErrInvalidState) {
		return GRN{}, err
	}
	if _, err := s.orders.UpdatePOReceiptStatus(ctx, po.ID); err != nil {
		return GRN{}, err
	}

	s.send(ctx, notify.RoleRecipient(notify.RoleWarehouse), notify.Notification{
		Type:    "grn_created",
		Message: fmt.Sprintf("GRN %s awaiting quality control", grn.Number),
		Data:    map[string]any{"grn_id": grn.ID, "po_number": po.Number},
	})
	s.recordAudit(ctx, "GRN_CREATE", grn.ID, map[string]any{"number": grn.Number, "po_id": po.ID})
	return grn, nil
}

// GradeInput is the QC verdict for one line.
type GradeInput struct {
	ItemID    int64
	Grade     grading.Grade
	Condition Condition
}

// ApproveInput accepts a delivery after inspection.
type ApproveInput struct {
	GRNID     int64
	QCOfficer string
	Grades    []GradeInput
}

// ApproveGRN accepts the delivery: items are graded, stock is credited once
// per (material, grnNumber), the supplier is re-scored from the delivery
// grade and the payable invoice is derived. A repeated approval fails with
// ErrDuplicateOperation and performs none of the side effects again.
//
// The QC verdict commits first; the downstream effects run after it and
// each dedupes on the GRN reference. When an effect fails the key is
// released and the GRN stays qc_passed, so a retried approval skips the
// verdict and replays only the effects still missing.
func (s *Service) ApproveGRN(ctx context.Context, input ApproveInput) (GRN, error) {
	if input.QCOfficer == "" || len(input.Grades) == 0 {
		return GRN{}, fmt.Errorf("receiving: officer and grades required: %w", shared.ErrValidation)
	}
	for _, g := range input.Grades {
		if !grading.ValidGrade(g.Grade) {
			return GRN{}, fmt.Errorf("receiving: grade %q: %w", g.Grade, shared.ErrValidation)
		}
		if g.Condition != ConditionGood && g.Condition != ConditionDamaged {
			return GRN{}, fmt.Errorf("receiving: condition %q: %w", g.Condition, shared.ErrValidation)
		}
	}
	grn, err := s.repo.GetGRN(ctx, input.GRNID)
	if err != nil {
		return GRN{}, err
	}

	idemKey := "GRN:" + grn.Number
	if err := s.idem.CheckAndInsert(ctx, idemKey, "receiving"); err != nil {
		return GRN{}, err
	}

	qcAt := s.now()
	switch grn.Status {
	case StatusPendingQC:
		verdicts := make(map[int64]GradeInput, len(input.Grades))
		for _, g := range input.Grades {
			verdicts[g.ItemID] = g
		}
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.CompareAndSwapStatus(ctx, grn.ID, StatusPendingQC, StatusQCPassed); err != nil {
				return err
			}
			for i := range grn.Items {
				verdict, ok := verdicts[grn.Items[i].ID]
				if !ok {
					return fmt.Errorf("receiving: item %d ungraded: %w", grn.Items[i].ID, shared.ErrValidation)
				}
				grn.Items[i].QualityGrade = verdict.Grade
				grn.Items[i].Condition = verdict.Condition
				if err := tx.SetItemQC(ctx, grn.Items[i].ID, verdict.Grade, verdict.Condition); err != nil {
					return err
				}
			}
			return tx.RecordQC(ctx, grn.ID, input.QCOfficer, qcAt)
		})
		if err != nil {
			s.releaseKey(ctx, idemKey)
			return GRN{}, err
		}
		grn.Status = StatusQCPassed
		grn.QCOfficer = input.QCOfficer
		grn.QCDate = &qcAt
	case StatusQCPassed:
		// Resuming an approval that passed QC but failed downstream. The
		// stored item grades and QC record stand; only the effects replay.
		s.logger.InfoContext(ctx, "resuming GRN approval", slog.String("grn", grn.Number))
		if grn.QCDate == nil {
			grn.QCDate = &qcAt
		}
		if grn.QCOfficer == "" {
			grn.QCOfficer = input.QCOfficer
		}
	default:
		s.releaseKey(ctx, idemKey)
		return GRN{}, fmt.Errorf("receiving: grn %s is %s: %w", grn.Number, grn.Status, shared.ErrInvalidState)
	}

	if err := s.applyAcceptanceEffects(ctx, &grn); err != nil {
		s.releaseKey(ctx, idemKey)
		return GRN{}, err
	}

	s.recordAudit(ctx, "GRN_APPROVE", grn.ID, map[string]any{
		"number":  grn.Number,
		"officer": input.QCOfficer,
		"grade":   string(AverageGrade(grn.Items)),
	})
	return grn, nil
}

// applyAcceptanceEffects runs the downstream consequences of a passed QC:
// stock credit, supplier regrade, invoice, preparation completion. Stock
// credit dedupes on (materialId, grnNumber), the regrade and invoice
// creation on grnId, so the whole sequence can be replayed.
func (s *Service) applyAcceptanceEffects(ctx context.Context, grn *GRN) error {
	for _, item := range grn.Items {
		if item.DeliveredQuantity <= 0 {
			continue
		}
		_, err := s.stock.CreditStock(ctx, inventory.CreditInput{
			MaterialID:  item.MaterialID,
			Quantity:    item.DeliveredQuantity,
			Reference:   grn.Number,
			Reason:      "goods receipt",
			BatchNumber: grn.Number,
			SupplierID:  grn.SupplierID,
		})
		if err != nil {
			return err
		}
	}

	supplier, err := s.grades.RecordDelivery(ctx, grading.RecordDeliveryInput{
		SupplierID: grn.SupplierID,
		GRNID:      grn.ID,
		GRNNumber:  grn.Number,
		Grade:      AverageGrade(grn.Items),
		QCOfficer:  grn.QCOfficer,
		QCDate:     *grn.QCDate,
	})
	if err != nil {
		return err
	}

	invoiceInput := invoicing.GRNInput{GRNID: grn.ID, SupplierID: grn.SupplierID}
	for _, item := range grn.Items {
		if item.DeliveredQuantity <= 0 {
			continue
		}
		invoiceInput.Items = append(invoiceInput.Items, invoicing.LineInput{
			MaterialID:  item.MaterialID,
			Description: item.MaterialName,
			Quantity:    item.DeliveredQuantity,
			UnitPrice:   decimal.NewFromFloat(item.UnitPrice),
		})
	}
	inv, err := s.invoices.CreateFromGRN(ctx, invoiceInput)
	switch {
	case errors.Is(err, shared.ErrDuplicateOperation):
		s.logger.InfoContext(ctx, "GRN already invoiced", slog.String("grn", grn.Number))
	case err != nil:
		return err
	default:
		s.send(ctx, notify.RoleRecipient(notify.RoleFinance), notify.Notification{
			Type:    "invoice_created",
			Message: fmt.Sprintf("Invoice %s issued for GRN %s (%s total)", inv.Number, grn.Number, notify.FormatAmount(inv.Total.InexactFloat64())),
			Data:    map[string]any{"invoice_id": inv.ID, "grn_id": grn.ID},
		})
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.CompareAndSwapStatus(ctx, grn.ID, StatusQCPassed, StatusInvoiced)
	})
	if err != nil {
		return err
	}
	grn.Status = StatusInvoiced

	if err := s.orders.CompletePreparation(ctx, grn.POID); err != nil && !errors.Is(err, shared.ErrInvalidState) {
		return err
	}
	if _, err := s.orders.UpdatePOReceiptStatus(ctx, grn.POID); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "GRN accepted",
		slog.String("grn", grn.Number),
		slog.Int64("supplier", grn.SupplierID),
		slog.String("supplier_grade", string(supplier.CurrentGrade)))
	return nil
}

// RejectGRN fails the delivery at QC. Terminal: no stock credit, no invoice,
// no supplier regrade.
func (s *Service) RejectGRN(ctx context.Context, grnID int64, officer, reason string) (GRN, error) {
	if officer == "" || reason == "" {
		return GRN{}, fmt.Errorf("receiving: officer and reason required: %w", shared.ErrValidation)
	}
	grn, err := s.repo.GetGRN(ctx, grnID)
	if err != nil {
		return GRN{}, err
	}
	rejectedAt := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.CompareAndSwapStatus(ctx, grn.ID, StatusPendingQC, StatusQCFailed); err != nil {
			return err
		}
		return tx.RecordRejection(ctx, grn.ID, officer, reason, rejectedAt)
	})
	if err != nil {
		return GRN{}, err
	}
	grn.Status = StatusQCFailed
	grn.QCOfficer = officer
	grn.QCDate = &rejectedAt
	grn.RejectReason = reason

	if err := s.orders.FailPreparation(ctx, grn.POID); err != nil && !errors.Is(err, shared.ErrInvalidState) {
		return GRN{}, err
	}

	s.send(ctx, notify.RoleRecipient(notify.RoleHeadOfOperations), notify.Notification{
		Type:    "grn_rejected",
		Message: fmt.Sprintf("GRN %s failed quality control: %s", grn.Number, reason),
		Data:    map[string]any{"grn_id": grn.ID, "po_id": grn.POID},
	})
	s.recordAudit(ctx, "GRN_REJECT", grn.ID, map[string]any{"number": grn.Number, "reason": reason})
	return grn, nil
}

// GetGRN fetches a goods receipt note with its items.
func (s *Service) GetGRN(ctx context.Context, id int64) (GRN, error) {
	return s.repo.GetGRN(ctx, id)
}

// ListGRNsByPO lists the receipts recorded against a purchase order.
func (s *Service) ListGRNsByPO(ctx context.Context, poID int64) ([]GRN, error) {
	return s.repo.ListGRNsByPO(ctx, poID)
}

// releaseKey frees the approval key after a failed run so the operator can
// retry once the cause is fixed.
func (s *Service) releaseKey(ctx context.Context, key string) {
	if err := s.idem.Delete(ctx, key); err != nil {
		s.logger.ErrorContext(ctx, "release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) send(ctx context.Context, to notify.Recipient, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, to, n)
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "receiving", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
