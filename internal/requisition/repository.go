package requisition

import (
	"context"
	"errors"
	"time"

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

// GetRequisition returns a requisition and its lines.
func (r *Repository) GetRequisition(ctx context.Context, id int64) (Requisition, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, number, type, status, requested_by, submitted_at,
COALESCE(ho_approver, 0), COALESCE(ho_comments, ''), ho_approved_at,
COALESCE(md_approver, 0), COALESCE(md_comments, ''), md_approved_at,
rejected_at, COALESCE(reject_reason, '')
FROM requisitions WHERE id = $1`, id)
	var req Requisition
	var typ, status string
	if err := row.Scan(&req.ID, &req.Number, &typ, &status, &req.RequestedBy, &req.SubmittedAt,
		&req.HOApprover, &req.HOComments, &req.HOApprovedAt,
		&req.MDApprover, &req.MDComments, &req.MDApprovedAt,
		&req.RejectedAt, &req.RejectReason); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Requisition{}, shared.ErrNotFound
		}
		return Requisition{}, err
	}
	req.Type = RequestType(typ)
	req.Status = Status(status)

	rows, err := r.pool.Query(ctx, `SELECT id, requisition_id, material_id, material_name, requested_quantity, unit
FROM requisition_lines WHERE requisition_id = $1 ORDER BY id ASC`, id)
	if err != nil {
		return Requisition{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.RequisitionID, &line.MaterialID, &line.MaterialName, &line.RequestedQuantity, &line.Unit); err != nil {
			return Requisition{}, err
		}
		req.Items = append(req.Items, line)
	}
	if err := rows.Err(); err != nil {
		return Requisition{}, err
	}
	return req, nil
}

func (tx *txRepo) InsertRequisition(ctx context.Context, req Requisition) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO requisitions (number, type, status, requested_by, submitted_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		req.Number, string(req.Type), string(req.Status), req.RequestedBy, req.SubmittedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertLine(ctx context.Context, line Line) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO requisition_lines (requisition_id, material_id, material_name, requested_quantity, unit)
VALUES ($1, $2, $3, $4, $5)`,
		line.RequisitionID, line.MaterialID, line.MaterialName, line.RequestedQuantity, line.Unit)
	return err
}

// CompareAndSwapStatus only succeeds when the row still holds the expected
// status; zero rows affected means a concurrent transition won.
func (tx *txRepo) CompareAndSwapStatus(ctx context.Context, id int64, from, to Status) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE requisitions SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrInvalidState
	}
	return nil
}

func (tx *txRepo) RecordHOApproval(ctx context.Context, id int64, approver int64, comments string, at time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE requisitions SET ho_approver = $1, ho_comments = $2, ho_approved_at = $3 WHERE id = $4`,
		approver, comments, at, id)
	return err
}

func (tx *txRepo) RecordMDApproval(ctx context.Context, id int64, approver int64, comments string, at time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE requisitions SET md_approver = $1, md_comments = $2, md_approved_at = $3 WHERE id = $4`,
		approver, comments, at, id)
	return err
}

func (tx *txRepo) RecordRejection(ctx context.Context, id int64, actor int64, reason string, at time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE requisitions SET reject_reason = $1, rejected_at = $2, rejected_by = $3 WHERE id = $4`,
		reason, at, actor, id)
	return err
}
