package payment

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-procure/internal/invoicing"
	"github.com/meridian-erp/meridian-procure/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepo{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// ListPayments returns payments for an invoice, oldest first.
func (r *Repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return listPayments(ctx, r.pool, invoiceID)
}

// GetBalance returns the settlement view of an invoice.
func (r *Repository) GetBalance(ctx context.Context, invoiceID int64) (InvoiceBalance, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, total, total_paid, remaining_amount FROM invoices WHERE id = $1`, invoiceID)
	return scanBalance(row)
}

func (tx *txRepo) GetBalanceForUpdate(ctx context.Context, invoiceID int64) (InvoiceBalance, error) {
	row := tx.tx.QueryRow(ctx, `SELECT id, total, total_paid, remaining_amount FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID)
	return scanBalance(row)
}

func scanBalance(row pgx.Row) (InvoiceBalance, error) {
	var bal InvoiceBalance
	err := row.Scan(&bal.InvoiceID, &bal.Total, &bal.TotalPaid, &bal.RemainingAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InvoiceBalance{}, shared.ErrNotFound
		}
		return InvoiceBalance{}, err
	}
	return bal, nil
}

func (tx *txRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO payments (number, invoice_id, amount, method, payment_date, reference, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		p.Number, p.InvoiceID, p.Amount, p.Method, p.PaymentDate, p.Reference, p.Notes).Scan(&id)
	return id, err
}

func (tx *txRepo) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return listPayments(ctx, tx.tx, invoiceID)
}

func (tx *txRepo) UpdateInvoiceAggregates(ctx context.Context, invoiceID int64, bal InvoiceBalance, status invoicing.PaymentStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE invoices SET total_paid = $1, remaining_amount = $2, payment_status = $3 WHERE id = $4`,
		bal.TotalPaid, bal.RemainingAmount, string(status), invoiceID)
	return err
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listPayments(ctx context.Context, q queryer, invoiceID int64) ([]Payment, error) {
	rows, err := q.Query(ctx, `SELECT id, number, invoice_id, amount, method, payment_date, COALESCE(reference, ''), COALESCE(notes, '')
FROM payments WHERE invoice_id = $1 ORDER BY payment_date ASC, id ASC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.Number, &p.InvoiceID, &p.Amount, &p.Method, &p.PaymentDate, &p.Reference, &p.Notes); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
