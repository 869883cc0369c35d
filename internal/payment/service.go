package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-procure/internal/invoicing"
	"github.com/meridian-erp/meridian-procure/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	GetBalance(ctx context.Context, invoiceID int64) (InvoiceBalance, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, invoiceID int64) (InvoiceBalance, error)
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	UpdateInvoiceAggregates(ctx context.Context, invoiceID int64, bal InvoiceBalance, status invoicing.PaymentStatus) error
}

// NumberPort issues document numbers.
type NumberPort interface {
	Next(ctx context.Context, prefix string) (string, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service records payments and keeps invoice settlement aggregates
// consistent with the payment ledger.
type Service struct {
	repo     RepositoryPort
	numbers  NumberPort
	audit    AuditPort
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs the service.
func NewService(repo RepositoryPort, numbers NumberPort, audit AuditPort) *Service {
	return &Service{repo: repo, numbers: numbers, audit: audit, validate: validator.New(), now: time.Now}
}

// RecordInput is one settlement against an invoice.
type RecordInput struct {
	InvoiceID int64           `validate:"required"`
	Amount    decimal.Decimal `validate:"required"`
	Method    string          `validate:"required"`
	Reference string
	Notes     string
}

// Record appends a payment and rewrites the invoice's settlement aggregates
// in the same transaction. The aggregates come from replaying the full
// payment history, not from adjusting cached totals, so a retried or
// concurrent append can never leave totalPaid and remainingAmount
// disagreeing with the ledger.
func (s *Service) Record(ctx context.Context, input RecordInput) (Payment, InvoiceBalance, error) {
	if err := s.validate.Struct(input); err != nil {
		return Payment{}, InvoiceBalance{}, fmt.Errorf("payment: %v: %w", err, shared.ErrValidation)
	}
	if !input.Amount.IsPositive() {
		return Payment{}, InvoiceBalance{}, fmt.Errorf("payment: amount %s must be positive: %w", input.Amount, shared.ErrInvalidAmount)
	}
	number, err := s.numbers.Next(ctx, "PAY")
	if err != nil {
		return Payment{}, InvoiceBalance{}, err
	}

	p := Payment{
		Number:      number,
		InvoiceID:   input.InvoiceID,
		Amount:      input.Amount,
		Method:      input.Method,
		PaymentDate: s.now(),
		Reference:   input.Reference,
		Notes:       input.Notes,
	}
	var bal InvoiceBalance
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetBalanceForUpdate(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		if input.Amount.GreaterThan(current.RemainingAmount) {
			return fmt.Errorf("payment: amount %s exceeds remaining %s: %w",
				input.Amount, current.RemainingAmount, shared.ErrInvalidAmount)
		}
		id, err := tx.InsertPayment(ctx, p)
		if err != nil {
			return err
		}
		p.ID = id

		history, err := tx.ListPayments(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		bal = Fold(input.InvoiceID, current.Total, history)
		return tx.UpdateInvoiceAggregates(ctx, input.InvoiceID, bal, statusFor(bal))
	})
	if err != nil {
		return Payment{}, InvoiceBalance{}, err
	}
	s.recordAudit(ctx, "PAYMENT_RECORD", p.ID, map[string]any{
		"number":     p.Number,
		"invoice_id": p.InvoiceID,
		"amount":     p.Amount.String(),
	})
	return p, bal, nil
}

// Recompute refolds an invoice's aggregates from its payment history. Used
// to repair drift after a manual correction to the ledger.
func (s *Service) Recompute(ctx context.Context, invoiceID int64) (InvoiceBalance, error) {
	var bal InvoiceBalance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetBalanceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		history, err := tx.ListPayments(ctx, invoiceID)
		if err != nil {
			return err
		}
		bal = Fold(invoiceID, current.Total, history)
		return tx.UpdateInvoiceAggregates(ctx, invoiceID, bal, statusFor(bal))
	})
	if err != nil {
		return InvoiceBalance{}, err
	}
	return bal, nil
}

// History lists the payments recorded against an invoice, oldest first.
func (s *Service) History(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, invoiceID)
}

// Balance returns the current settlement view of an invoice.
func (s *Service) Balance(ctx context.Context, invoiceID int64) (InvoiceBalance, error) {
	return s.repo.GetBalance(ctx, invoiceID)
}

func statusFor(bal InvoiceBalance) invoicing.PaymentStatus {
	switch {
	case bal.RemainingAmount.IsZero() && bal.TotalPaid.IsPositive():
		return invoicing.PaymentPaid
	case bal.TotalPaid.IsPositive():
		return invoicing.PaymentPartiallyPaid
	default:
		return invoicing.PaymentPending
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "payment", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
