package invoicing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-procure/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	GetInvoiceByGRN(ctx context.Context, grnID int64) (Invoice, error)
	ListVariances(ctx context.Context, invoiceID int64) ([]Variance, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CountInvoicesForGRN(ctx context.Context, grnID int64) (int64, error)
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	InsertLine(ctx context.Context, line Line) error
	InsertVariance(ctx context.Context, v Variance) error
	UpdateMatchStatus(ctx context.Context, invoiceID int64, status MatchStatus) error
}

// NumberPort issues document numbers.
type NumberPort interface {
	Next(ctx context.Context, prefix string) (string, error)
}

// OrderPort resolves purchase order terms for the 3-way match.
type OrderPort interface {
	OrderTerms(ctx context.Context, poID int64) (OrderTerms, error)
}

// OrderTerms is the committed price side of the match.
type OrderTerms struct {
	MaterialID int64
	Quantity   float64
	UnitPrice  decimal.Decimal
}

// ReceiptPort resolves delivered quantities for the 3-way match.
type ReceiptPort interface {
	ReceiptLines(ctx context.Context, grnID int64) ([]ReceiptLine, error)
}

// ReceiptLine is the delivered side of the match.
type ReceiptLine struct {
	MaterialID        int64
	DeliveredQuantity float64
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Terms hold the billing parameters applied at invoice creation.
type Terms struct {
	TaxRate      decimal.Decimal
	DiscountRate decimal.Decimal
	DueDays      int
}

// Service derives invoices and reconciles them against their source
// documents.
type Service struct {
	repo     RepositoryPort
	numbers  NumberPort
	orders   OrderPort
	receipts ReceiptPort
	audit    AuditPort
	terms    Terms
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs the service.
func NewService(repo RepositoryPort, numbers NumberPort, orders OrderPort, receipts ReceiptPort, audit AuditPort, terms Terms) *Service {
	return &Service{
		repo:     repo,
		numbers:  numbers,
		orders:   orders,
		receipts: receipts,
		audit:    audit,
		terms:    terms,
		validate: validator.New(),
		now:      time.Now,
	}
}

// LineInput is one billable line.
type LineInput struct {
	MaterialID  int64           `validate:"required"`
	Description string          `validate:"required"`
	Quantity    float64         `validate:"gt=0"`
	UnitPrice   decimal.Decimal `validate:"required"`
}

// CreateInput creates a standalone invoice.
type CreateInput struct {
	SupplierID int64       `validate:"required"`
	Items      []LineInput `validate:"required,min=1,dive"`
}

// GRNInput creates an invoice from an accepted goods receipt.
type GRNInput struct {
	GRNID      int64       `validate:"required"`
	SupplierID int64       `validate:"required"`
	Items      []LineInput `validate:"required,min=1,dive"`
}

// CreateFromGRN derives a payable invoice from an accepted goods receipt.
// A GRN spawns at most one invoice; a repeat call fails with
// ErrDuplicateOperation and leaves the first invoice untouched.
func (s *Service) CreateFromGRN(ctx context.Context, input GRNInput) (Invoice, error) {
	if err := s.validate.Struct(input); err != nil {
		return Invoice{}, fmt.Errorf("invoicing: %v: %w", err, shared.ErrValidation)
	}
	number, err := s.numbers.Next(ctx, "INV")
	if err != nil {
		return Invoice{}, err
	}
	grnID := input.GRNID
	inv := s.compute(number, input.SupplierID, input.Items)
	inv.GRNID = &grnID

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		count, err := tx.CountInvoicesForGRN(ctx, grnID)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("invoicing: GRN %d already invoiced: %w", grnID, shared.ErrDuplicateOperation)
		}
		return s.insert(ctx, tx, &inv)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, "INVOICE_CREATE", inv.ID, map[string]any{"number": inv.Number, "grn_id": grnID})
	return inv, nil
}

// CreateInvoice creates an invoice with no goods-receipt linkage.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInput) (Invoice, error) {
	if err := s.validate.Struct(input); err != nil {
		return Invoice{}, fmt.Errorf("invoicing: %v: %w", err, shared.ErrValidation)
	}
	number, err := s.numbers.Next(ctx, "INV")
	if err != nil {
		return Invoice{}, err
	}
	inv := s.compute(number, input.SupplierID, input.Items)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.insert(ctx, tx, &inv)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, "INVOICE_CREATE", inv.ID, map[string]any{"number": inv.Number})
	return inv, nil
}

// priceTolerance is the largest unit-price difference the match ignores.
var priceTolerance = decimal.NewFromFloat(0.01)

// ThreeWayMatch reconciles an invoice against its purchase order price and
// goods-receipt quantities. Any line whose quantity differs from the GRN, or
// whose price differs from the PO by more than the tolerance, is recorded as
// a variance and the invoice goes to variance_review; a clean pass marks it
// verified.
func (s *Service) ThreeWayMatch(ctx context.Context, invoiceID, poID, grnID int64) ([]Variance, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	terms, err := s.orders.OrderTerms(ctx, poID)
	if err != nil {
		return nil, err
	}
	received, err := s.receipts.ReceiptLines(ctx, grnID)
	if err != nil {
		return nil, err
	}
	delivered := make(map[int64]float64, len(received))
	for _, line := range received {
		delivered[line.MaterialID] = line.DeliveredQuantity
	}

	var variances []Variance
	for _, line := range inv.Items {
		if grnQty, ok := delivered[line.MaterialID]; ok && line.Quantity != grnQty {
			invQty := decimal.NewFromFloat(line.Quantity)
			expQty := decimal.NewFromFloat(grnQty)
			variances = append(variances, Variance{
				InvoiceID:    invoiceID,
				MaterialID:   line.MaterialID,
				Field:        VarianceQuantity,
				InvoiceValue: invQty,
				ExpectedVal:  expQty,
				Delta:        invQty.Sub(expQty),
			})
		}
		if line.MaterialID == terms.MaterialID {
			delta := line.UnitPrice.Sub(terms.UnitPrice)
			if delta.Abs().GreaterThan(priceTolerance) {
				variances = append(variances, Variance{
					InvoiceID:    invoiceID,
					MaterialID:   line.MaterialID,
					Field:        VariancePrice,
					InvoiceValue: line.UnitPrice,
					ExpectedVal:  terms.UnitPrice,
					Delta:        delta,
				})
			}
		}
	}

	status := MatchVerified
	if len(variances) > 0 {
		status = MatchVarianceReview
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, v := range variances {
			if err := tx.InsertVariance(ctx, v); err != nil {
				return err
			}
		}
		return tx.UpdateMatchStatus(ctx, invoiceID, status)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "INVOICE_MATCH", invoiceID, map[string]any{"status": string(status), "variances": len(variances)})
	return variances, nil
}

// GetInvoice fetches an invoice with its lines.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// GetInvoiceByGRN fetches the invoice derived from a goods receipt.
func (s *Service) GetInvoiceByGRN(ctx context.Context, grnID int64) (Invoice, error) {
	return s.repo.GetInvoiceByGRN(ctx, grnID)
}

// ListVariances returns the recorded match discrepancies for an invoice.
func (s *Service) ListVariances(ctx context.Context, invoiceID int64) ([]Variance, error) {
	return s.repo.ListVariances(ctx, invoiceID)
}

func (s *Service) compute(number string, supplierID int64, items []LineInput) Invoice {
	now := s.now()
	inv := Invoice{
		Number:        number,
		SupplierID:    supplierID,
		PaymentStatus: PaymentPending,
		InvoiceDate:   now,
		DueDate:       now.AddDate(0, 0, s.terms.DueDays),
	}
	subtotal := decimal.Zero
	for _, item := range items {
		total := decimal.NewFromFloat(item.Quantity).Mul(item.UnitPrice).Round(2)
		inv.Items = append(inv.Items, Line{
			MaterialID:  item.MaterialID,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Total:       total,
		})
		subtotal = subtotal.Add(total)
	}
	inv.Subtotal = subtotal
	inv.Tax = subtotal.Mul(s.terms.TaxRate).Round(2)
	inv.Discount = subtotal.Mul(s.terms.DiscountRate).Round(2)
	inv.Total = subtotal.Add(inv.Tax).Sub(inv.Discount)
	inv.TotalPaid = decimal.Zero
	inv.RemainingAmount = inv.Total
	return inv
}

func (s *Service) insert(ctx context.Context, tx TxRepository, inv *Invoice) error {
	id, err := tx.InsertInvoice(ctx, *inv)
	if err != nil {
		return err
	}
	inv.ID = id
	for i := range inv.Items {
		inv.Items[i].InvoiceID = id
		if err := tx.InsertLine(ctx, inv.Items[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "invoicing", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
