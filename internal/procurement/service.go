package procurement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-procure/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRequirement(ctx context.Context, requestID, materialID int64) (Preparation, error)
	ListAllocations(ctx context.Context, requestID, materialID int64) ([]Preparation, error)
	ListPreparationsByRequest(ctx context.Context, requestID int64) ([]Preparation, error)
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	SumReceivedForPO(ctx context.Context, poID int64) (float64, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	UpsertRequirement(ctx context.Context, prep Preparation) (int64, error)
	UpsertAllocation(ctx context.Context, prep Preparation) (int64, error)
	FindPOByPreparation(ctx context.Context, preparationID int64) (PurchaseOrder, error)
	InsertPO(ctx context.Context, po PurchaseOrder) (int64, error)
	UpdatePOTerms(ctx context.Context, id int64, quantity, unitPrice, totalCost float64, expected time.Time) error
	UpdatePOStatus(ctx context.Context, id int64, status POStatus) error
	UpdatePreparationStatusByPO(ctx context.Context, poID int64, from, to PreparationStatus) error
}

// NumberPort issues document numbers.
type NumberPort interface {
	Next(ctx context.Context, prefix string) (string, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns purchase preparations and purchase orders.
type Service struct {
	repo     RepositoryPort
	numbers  NumberPort
	audit    AuditPort
	validate *validator.Validate
}

// NewService constructs the service.
func NewService(repo RepositoryPort, numbers NumberPort, audit AuditPort) *Service {
	return &Service{repo: repo, numbers: numbers, audit: audit, validate: validator.New()}
}

// SpawnInput carries the approved requisition lines.
type SpawnInput struct {
	RequestID   int64
	RequestType string
	Lines       []SpawnLine
}

// SpawnLine is one approved line item.
type SpawnLine struct {
	MaterialID   int64
	MaterialName string
	Quantity     float64
	Unit         string
}

// SpawnPreparations creates one preparation row per approved line item in
// pending_supplier_assignment. Spawning commits before the approval that
// triggered it; when that approval has to be retried, the rows are
// refreshed in place rather than duplicated.
func (s *Service) SpawnPreparations(ctx context.Context, input SpawnInput) error {
	if input.RequestID == 0 || len(input.Lines) == 0 {
		return fmt.Errorf("procurement: approved request with lines required: %w", shared.ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, line := range input.Lines {
			prep := Preparation{
				RequestID:        input.RequestID,
				RequestType:      input.RequestType,
				MaterialID:       line.MaterialID,
				MaterialName:     line.MaterialName,
				RequiredQuantity: line.Quantity,
				Unit:             line.Unit,
				Status:           PrepPendingAssignment,
			}
			if _, err := tx.UpsertRequirement(ctx, prep); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PREP_SPAWN", input.RequestID, map[string]any{"lines": len(input.Lines)})
	return nil
}

// AllocationInput is one supplier commitment. An entry missing any required
// field is skipped rather than rejected; partial allocation is legal.
type AllocationInput struct {
	SupplierID   int64
	Quantity     float64
	UnitPrice    float64
	DeliveryDate time.Time
	Notes        string
}

// AllocateInput addresses the preparation set for one material.
type AllocateInput struct {
	RequestID   int64             `validate:"required"`
	MaterialID  int64             `validate:"required"`
	Allocations []AllocationInput `validate:"required,min=1"`
}

func (a AllocationInput) complete() bool {
	return a.SupplierID != 0 && a.Quantity > 0 && a.UnitPrice > 0 && !a.DeliveryDate.IsZero()
}

// Allocate splits a material's required quantity across suppliers and emits
// one purchase order per (request, material, supplier) combination.
// Re-submitting the same combination updates the existing preparation and
// purchase order; it never creates a duplicate. Exceeding the approved
// quantity fails with ErrOverAllocation before anything is written.
func (s *Service) Allocate(ctx context.Context, input AllocateInput) ([]PurchaseOrder, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("procurement: %v: %w", err, shared.ErrValidation)
	}
	requirement, err := s.repo.GetRequirement(ctx, input.RequestID, input.MaterialID)
	if err != nil {
		return nil, err
	}

	// Entries for the same supplier collapse to the last one; they all feed
	// the same upsert row and must not count twice against the quantity.
	var complete []AllocationInput
	position := make(map[int64]int)
	var total float64
	for _, alloc := range input.Allocations {
		if !alloc.complete() {
			continue
		}
		if i, seen := position[alloc.SupplierID]; seen {
			total += alloc.Quantity - complete[i].Quantity
			complete[i] = alloc
			continue
		}
		position[alloc.SupplierID] = len(complete)
		complete = append(complete, alloc)
		total += alloc.Quantity
	}

	// Prior allocations to suppliers absent from this submission still count
	// against the approved quantity.
	existing, err := s.repo.ListAllocations(ctx, input.RequestID, input.MaterialID)
	if err != nil {
		return nil, err
	}
	for _, prior := range existing {
		if _, resubmitted := position[prior.SupplierID]; !resubmitted {
			total += prior.RequiredQuantity
		}
	}
	if total > requirement.RequiredQuantity+1e-9 {
		return nil, fmt.Errorf("procurement: allocated %.2f of %.2f %s: %w",
			total, requirement.RequiredQuantity, requirement.Unit, shared.ErrOverAllocation)
	}
	if len(complete) == 0 {
		return nil, nil
	}

	var orders []PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		orders = orders[:0]
		for _, alloc := range complete {
			expected := alloc.DeliveryDate
			prep := Preparation{
				RequestID:        input.RequestID,
				RequestType:      requirement.RequestType,
				MaterialID:       input.MaterialID,
				MaterialName:     requirement.MaterialName,
				RequiredQuantity: alloc.Quantity,
				Unit:             requirement.Unit,
				Status:           PrepSupplierAssigned,
				SupplierID:       alloc.SupplierID,
				UnitPrice:        alloc.UnitPrice,
				ExpectedDelivery: &expected,
				Notes:            alloc.Notes,
			}
			prepID, err := tx.UpsertAllocation(ctx, prep)
			if err != nil {
				return err
			}
			totalCost := round2(alloc.Quantity * alloc.UnitPrice)
			po, err := tx.FindPOByPreparation(ctx, prepID)
			switch {
			case err == nil:
				if err := tx.UpdatePOTerms(ctx, po.ID, alloc.Quantity, alloc.UnitPrice, totalCost, expected); err != nil {
					return err
				}
				po.Quantity = alloc.Quantity
				po.UnitPrice = alloc.UnitPrice
				po.TotalCost = totalCost
				po.ExpectedDelivery = expected
			case errors.Is(err, shared.ErrNotFound):
				number, err := s.numbers.Next(ctx, "PO")
				if err != nil {
					return err
				}
				po = PurchaseOrder{
					Number:           number,
					PreparationID:    prepID,
					SupplierID:       alloc.SupplierID,
					MaterialID:       input.MaterialID,
					Quantity:         alloc.Quantity,
					UnitPrice:        alloc.UnitPrice,
					TotalCost:        totalCost,
					Status:           POStatusIssued,
					ExpectedDelivery: expected,
				}
				id, err := tx.InsertPO(ctx, po)
				if err != nil {
					return err
				}
				po.ID = id
			default:
				return err
			}
			orders = append(orders, po)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "PREP_ALLOCATE", input.RequestID, map[string]any{
		"material_id": input.MaterialID,
		"orders":      len(orders),
	})
	return orders, nil
}

// UpdatePOReceiptStatus recomputes the PO receipt status from all GRNs
// recorded against it.
func (s *Service) UpdatePOReceiptStatus(ctx context.Context, poID int64) (POStatus, error) {
	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return "", err
	}
	received, err := s.repo.SumReceivedForPO(ctx, poID)
	if err != nil {
		return "", err
	}
	status := po.Status
	switch {
	case received <= 0:
		return status, nil
	case received < po.Quantity:
		status = POStatusPartiallyReceived
	default:
		status = POStatusFullyReceived
	}
	if status == po.Status {
		return status, nil
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdatePOStatus(ctx, poID, status)
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// MarkDelivered moves the preparation behind a PO to delivered_pending_qc
// when goods arrive.
func (s *Service) MarkDelivered(ctx context.Context, poID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdatePreparationStatusByPO(ctx, poID, PrepSupplierAssigned, PrepDeliveredPending)
	})
}

// CompletePreparation marks the preparation completed after QC acceptance.
func (s *Service) CompletePreparation(ctx context.Context, poID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdatePreparationStatusByPO(ctx, poID, PrepDeliveredPending, PrepCompleted)
	})
}

// FailPreparation marks the preparation qc_failed after QC rejection.
func (s *Service) FailPreparation(ctx context.Context, poID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdatePreparationStatusByPO(ctx, poID, PrepDeliveredPending, PrepQCFailed)
	})
}

// ClosePO closes a fully received purchase order.
func (s *Service) ClosePO(ctx context.Context, poID int64) error {
	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return err
	}
	if po.Status != POStatusFullyReceived {
		return fmt.Errorf("procurement: close PO %s from %s: %w", po.Number, po.Status, shared.ErrInvalidState)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdatePOStatus(ctx, poID, POStatusClosed)
	})
}

// GetPO fetches a purchase order.
func (s *Service) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, id)
}

// ListPreparationsByRequest lists all preparation rows for a requisition.
func (s *Service) ListPreparationsByRequest(ctx context.Context, requestID int64) ([]Preparation, error) {
	return s.repo.ListPreparationsByRequest(ctx, requestID)
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "procurement", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
