package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-procure/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMaterial(ctx context.Context, id int64) (Material, error)
	ListMovements(ctx context.Context, materialID int64) ([]StockMovement, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetMaterialForUpdate(ctx context.Context, id int64) (Material, error)
	FindMovement(ctx context.Context, materialID int64, reference string) (StockMovement, error)
	InsertMovement(ctx context.Context, movement StockMovement) (int64, error)
	SetMaterialQuantity(ctx context.Context, materialID int64, quantity float64) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock movements and the cached quantity.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	allowNeg bool
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: audit, allowNeg: cfg.AllowNegativeStock}
}

// CreditStock appends an inbound movement and bumps the cached quantity in
// one transaction. A movement with the same (material, reference) pair is
// treated as already applied: the existing movement is returned and nothing
// is credited again, which keeps GRN approval and invoice creation from
// double-crediting the same physical delivery.
func (s *Service) CreditStock(ctx context.Context, input CreditInput) (StockMovement, error) {
	if input.Quantity <= 0 {
		return StockMovement{}, ErrInvalidQuantity
	}
	if input.Reference == "" {
		return StockMovement{}, ErrMissingReference
	}
	var movement StockMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.FindMovement(ctx, input.MaterialID, input.Reference)
		if err == nil {
			movement = existing
			return nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		material, err := tx.GetMaterialForUpdate(ctx, input.MaterialID)
		if err != nil {
			return err
		}
		movement = StockMovement{
			MaterialID:  input.MaterialID,
			Type:        MovementIn,
			Quantity:    input.Quantity,
			Reason:      input.Reason,
			Reference:   input.Reference,
			BatchNumber: input.BatchNumber,
			SupplierID:  input.SupplierID,
			PostedAt:    time.Now().UTC(),
		}
		id, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id
		return tx.SetMaterialQuantity(ctx, input.MaterialID, material.Quantity+input.Quantity)
	})
	if err != nil {
		return StockMovement{}, err
	}
	s.recordAudit(ctx, "STOCK_CREDIT", input.MaterialID, map[string]any{
		"qty":       input.Quantity,
		"reference": input.Reference,
	})
	return movement, nil
}

// DebitStock appends an outbound movement. Negative resulting stock is
// rejected unless the service is configured to allow it.
func (s *Service) DebitStock(ctx context.Context, input DebitInput) (StockMovement, error) {
	if input.Quantity <= 0 {
		return StockMovement{}, ErrInvalidQuantity
	}
	if input.Reference == "" {
		return StockMovement{}, ErrMissingReference
	}
	var movement StockMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		material, err := tx.GetMaterialForUpdate(ctx, input.MaterialID)
		if err != nil {
			return err
		}
		newQty := material.Quantity - input.Quantity
		if !s.allowNeg && newQty < -0.0001 {
			return ErrNegativeStock
		}
		movement = StockMovement{
			MaterialID: input.MaterialID,
			Type:       MovementOut,
			Quantity:   input.Quantity,
			Reason:     input.Reason,
			Reference:  input.Reference,
			PostedAt:   time.Now().UTC(),
		}
		id, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id
		return tx.SetMaterialQuantity(ctx, input.MaterialID, newQty)
	})
	if err != nil {
		return StockMovement{}, err
	}
	s.recordAudit(ctx, "STOCK_DEBIT", input.MaterialID, map[string]any{
		"qty":       input.Quantity,
		"reference": input.Reference,
	})
	return movement, nil
}

// GetStockLevel returns the cached quantity on the material record.
func (s *Service) GetStockLevel(ctx context.Context, materialID int64) (float64, error) {
	material, err := s.repo.GetMaterial(ctx, materialID)
	if err != nil {
		return 0, err
	}
	return material.Quantity, nil
}

// ReplayStockLevel folds the movement ledger and returns the running sum.
// The result must agree with the cached quantity.
func (s *Service) ReplayStockLevel(ctx context.Context, materialID int64) (float64, error) {
	movements, err := s.repo.ListMovements(ctx, materialID)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, m := range movements {
		switch m.Type {
		case MovementIn:
			total += m.Quantity
		case MovementOut:
			total -= m.Quantity
		}
	}
	return total, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, materialID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "material", EntityID: fmt.Sprintf("%d", materialID), Meta: meta})
}
