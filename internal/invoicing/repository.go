package invoicing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

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

const invoiceColumns = `id, number, grn_id, supplier_id, subtotal, tax, discount, total,
payment_status, total_paid, remaining_amount, COALESCE(match_status, ''), invoice_date, due_date`

// GetInvoice returns an invoice and its lines.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	return r.scanWithLines(ctx, row)
}

// GetInvoiceByGRN returns the invoice derived from a goods receipt.
func (r *Repository) GetInvoiceByGRN(ctx context.Context, grnID int64) (Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE grn_id = $1`, grnID)
	return r.scanWithLines(ctx, row)
}

func (r *Repository) scanWithLines(ctx context.Context, row pgx.Row) (Invoice, error) {
	inv, err := scanInvoice(row)
	if err != nil {
		return Invoice{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, material_id, description, quantity, unit_price, total
FROM invoice_lines WHERE invoice_id = $1 ORDER BY id ASC`, inv.ID)
	if err != nil {
		return Invoice{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.MaterialID, &line.Description,
			&line.Quantity, &line.UnitPrice, &line.Total); err != nil {
			return Invoice{}, err
		}
		inv.Items = append(inv.Items, line)
	}
	if err := rows.Err(); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var payStatus, matchStatus string
	err := row.Scan(&inv.ID, &inv.Number, &inv.GRNID, &inv.SupplierID,
		&inv.Subtotal, &inv.Tax, &inv.Discount, &inv.Total,
		&payStatus, &inv.TotalPaid, &inv.RemainingAmount, &matchStatus,
		&inv.InvoiceDate, &inv.DueDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, shared.ErrNotFound
		}
		return Invoice{}, err
	}
	inv.PaymentStatus = PaymentStatus(payStatus)
	inv.MatchStatus = MatchStatus(matchStatus)
	return inv, nil
}

// ListVariances returns recorded match discrepancies, newest last.
func (r *Repository) ListVariances(ctx context.Context, invoiceID int64) ([]Variance, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, material_id, field, invoice_value, expected_value, delta
FROM invoice_variances WHERE invoice_id = $1 ORDER BY id ASC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Variance
	for rows.Next() {
		var v Variance
		var field string
		if err := rows.Scan(&v.ID, &v.InvoiceID, &v.MaterialID, &field, &v.InvoiceValue, &v.ExpectedVal, &v.Delta); err != nil {
			return nil, err
		}
		v.Field = VarianceField(field)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (tx *txRepo) CountInvoicesForGRN(ctx context.Context, grnID int64) (int64, error) {
	var count int64
	err := tx.tx.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE grn_id = $1`, grnID).Scan(&count)
	return count, err
}

func (tx *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO invoices
(number, grn_id, supplier_id, subtotal, tax, discount, total, payment_status, total_paid, remaining_amount, invoice_date, due_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		inv.Number, inv.GRNID, inv.SupplierID, inv.Subtotal, inv.Tax, inv.Discount, inv.Total,
		string(inv.PaymentStatus), inv.TotalPaid, inv.RemainingAmount, inv.InvoiceDate, inv.DueDate).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertLine(ctx context.Context, line Line) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO invoice_lines (invoice_id, material_id, description, quantity, unit_price, total)
VALUES ($1, $2, $3, $4, $5, $6)`,
		line.InvoiceID, line.MaterialID, line.Description, line.Quantity, line.UnitPrice, line.Total)
	return err
}

func (tx *txRepo) InsertVariance(ctx context.Context, v Variance) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO invoice_variances (invoice_id, material_id, field, invoice_value, expected_value, delta)
VALUES ($1, $2, $3, $4, $5, $6)`,
		v.InvoiceID, v.MaterialID, string(v.Field), v.InvoiceValue, v.ExpectedVal, v.Delta)
	return err
}

func (tx *txRepo) UpdateMatchStatus(ctx context.Context, invoiceID int64, status MatchStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE invoices SET match_status = $1 WHERE id = $2`, string(status), invoiceID)
	return err
}
