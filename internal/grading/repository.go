package grading

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

// GetSupplier fetches a supplier with its grade aggregates.
func (r *Repository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, status, COALESCE(current_grade, ''),
COALESCE(average_grade_points, 0), COALESCE(total_deliveries, 0),
COALESCE(last_delivery_grade, ''), COALESCE(last_grade_update, NOW())
FROM suppliers WHERE id = $1`, id)
	var sup Supplier
	var status, current, last string
	if err := row.Scan(&sup.ID, &sup.Name, &status, &current, &sup.AveragePoints, &sup.TotalDeliveries, &last, &sup.LastGradeUpdate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, shared.ErrNotFound
		}
		return Supplier{}, err
	}
	sup.Status = SupplierStatus(status)
	sup.CurrentGrade = Grade(current)
	sup.LastDeliveryGrade = Grade(last)
	return sup, nil
}

// ListQCRecords returns all QC records for the supplier, oldest first.
func (r *Repository) ListQCRecords(ctx context.Context, supplierID int64) ([]QCRecord, error) {
	return listQCRecords(ctx, r.pool, supplierID)
}

func (tx *txRepo) InsertQCRecord(ctx context.Context, rec QCRecord) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO qc_records (grn_id, grn_number, supplier_id, grade, qc_date, qc_officer)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		rec.GRNID, rec.GRNNumber, rec.SupplierID, string(rec.Grade), rec.QCDate, rec.QCOfficer).Scan(&id)
	return id, err
}

func (tx *txRepo) FindQCRecordByGRN(ctx context.Context, grnID int64) (QCRecord, error) {
	row := tx.tx.QueryRow(ctx, `SELECT id, COALESCE(grn_id, 0), COALESCE(grn_number, ''), supplier_id, grade, qc_date, COALESCE(qc_officer, '')
FROM qc_records WHERE grn_id = $1 LIMIT 1`, grnID)
	var rec QCRecord
	var grade string
	if err := row.Scan(&rec.ID, &rec.GRNID, &rec.GRNNumber, &rec.SupplierID, &grade, &rec.QCDate, &rec.QCOfficer); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QCRecord{}, shared.ErrNotFound
		}
		return QCRecord{}, err
	}
	rec.Grade = Grade(grade)
	return rec, nil
}

func (tx *txRepo) ListQCRecords(ctx context.Context, supplierID int64) ([]QCRecord, error) {
	return listQCRecords(ctx, tx.tx, supplierID)
}

// UpdateSupplierGrade writes only the derived grade columns.
func (tx *txRepo) UpdateSupplierGrade(ctx context.Context, update SupplierGradeUpdate) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE suppliers SET current_grade = $1, average_grade_points = $2,
total_deliveries = $3, last_delivery_grade = $4, last_grade_update = $5 WHERE id = $6`,
		string(update.CurrentGrade), update.AveragePoints, update.TotalDeliveries,
		string(update.LastDeliveryGrade), update.LastGradeUpdate, update.SupplierID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listQCRecords(ctx context.Context, q queryer, supplierID int64) ([]QCRecord, error) {
	rows, err := q.Query(ctx, `SELECT id, COALESCE(grn_id, 0), COALESCE(grn_number, ''), supplier_id, grade, qc_date, COALESCE(qc_officer, '')
FROM qc_records WHERE supplier_id = $1 ORDER BY qc_date ASC, id ASC`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []QCRecord
	for rows.Next() {
		var rec QCRecord
		var grade string
		if err := rows.Scan(&rec.ID, &rec.GRNID, &rec.GRNNumber, &rec.SupplierID, &grade, &rec.QCDate, &rec.QCOfficer); err != nil {
			return nil, err
		}
		rec.Grade = Grade(grade)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
