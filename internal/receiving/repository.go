package receiving

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-procure/internal/grading"
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

const grnColumns = `id, number, po_id, supplier_id, delivery_date, status, total_amount,
COALESCE(qc_officer, ''), qc_date, COALESCE(reject_reason, '')`

// GetGRN returns a goods receipt note and its items.
func (r *Repository) GetGRN(ctx context.Context, id int64) (GRN, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+grnColumns+` FROM grns WHERE id = $1`, id)
	grn, err := scanGRN(row)
	if err != nil {
		return GRN{}, err
	}
	if err := r.loadItems(ctx, &grn); err != nil {
		return GRN{}, err
	}
	return grn, nil
}

// ListGRNsByPO returns the receipts recorded against a purchase order,
// oldest first.
func (r *Repository) ListGRNsByPO(ctx context.Context, poID int64) ([]GRN, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+grnColumns+` FROM grns WHERE po_id = $1 ORDER BY id ASC`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grns []GRN
	for rows.Next() {
		grn, err := scanGRN(rows)
		if err != nil {
			return nil, err
		}
		grns = append(grns, grn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range grns {
		if err := r.loadItems(ctx, &grns[i]); err != nil {
			return nil, err
		}
	}
	return grns, nil
}

func (r *Repository) loadItems(ctx context.Context, grn *GRN) error {
	rows, err := r.pool.Query(ctx, `SELECT id, grn_id, material_id, material_name, ordered_quantity,
delivered_quantity, unit_price, total_price, COALESCE(quality_grade, ''), COALESCE(condition, '')
FROM grn_items WHERE grn_id = $1 ORDER BY id ASC`, grn.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		var grade, condition string
		if err := rows.Scan(&item.ID, &item.GRNID, &item.MaterialID, &item.MaterialName,
			&item.OrderedQuantity, &item.DeliveredQuantity, &item.UnitPrice, &item.TotalPrice,
			&grade, &condition); err != nil {
			return err
		}
		item.QualityGrade = grading.Grade(grade)
		item.Condition = Condition(condition)
		grn.Items = append(grn.Items, item)
	}
	return rows.Err()
}

func scanGRN(row pgx.Row) (GRN, error) {
	var grn GRN
	var status string
	err := row.Scan(&grn.ID, &grn.Number, &grn.POID, &grn.SupplierID, &grn.DeliveryDate,
		&status, &grn.TotalAmount, &grn.QCOfficer, &grn.QCDate, &grn.RejectReason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GRN{}, shared.ErrNotFound
		}
		return GRN{}, err
	}
	grn.Status = Status(status)
	return grn, nil
}

func (tx *txRepo) InsertGRN(ctx context.Context, grn GRN) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO grns (number, po_id, supplier_id, delivery_date, status, total_amount)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		grn.Number, grn.POID, grn.SupplierID, grn.DeliveryDate, string(grn.Status), grn.TotalAmount).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO grn_items
(grn_id, material_id, material_name, ordered_quantity, delivered_quantity, unit_price, total_price)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		item.GRNID, item.MaterialID, item.MaterialName, item.OrderedQuantity,
		item.DeliveredQuantity, item.UnitPrice, item.TotalPrice).Scan(&id)
	return id, err
}

// CompareAndSwapStatus only succeeds when the row still holds the expected
// status; zero rows affected means a concurrent transition won.
func (tx *txRepo) CompareAndSwapStatus(ctx context.Context, id int64, from, to Status) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE grns SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrInvalidState
	}
	return nil
}

func (tx *txRepo) SetItemQC(ctx context.Context, itemID int64, grade grading.Grade, condition Condition) error {
	_, err := tx.tx.Exec(ctx, `UPDATE grn_items SET quality_grade = $1, condition = $2 WHERE id = $3`,
		string(grade), string(condition), itemID)
	return err
}

func (tx *txRepo) RecordQC(ctx context.Context, grnID int64, officer string, at time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE grns SET qc_officer = $1, qc_date = $2 WHERE id = $3`, officer, at, grnID)
	return err
}

func (tx *txRepo) RecordRejection(ctx context.Context, grnID int64, officer, reason string, at time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE grns SET qc_officer = $1, qc_date = $2, reject_reason = $3 WHERE id = $4`,
		officer, at, reason, grnID)
	return err
}
