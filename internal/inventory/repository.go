package inventory

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

// GetMaterial fetches a material with its cached quantity.
func (r *Repository) GetMaterial(ctx context.Context, id int64) (Material, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, COALESCE(unit, ''), COALESCE(quantity, 0), COALESCE(updated_at, NOW())
FROM materials WHERE id = $1`, id)
	var m Material
	if err := row.Scan(&m.ID, &m.Name, &m.Unit, &m.Quantity, &m.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Material{}, shared.ErrNotFound
		}
		return Material{}, err
	}
	return m, nil
}

// ListMovements returns all movements for the material, oldest first.
func (r *Repository) ListMovements(ctx context.Context, materialID int64) ([]StockMovement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, material_id, type, quantity, COALESCE(reason, ''), reference,
COALESCE(batch_number, ''), COALESCE(supplier_id, 0), posted_at
FROM stock_movements WHERE material_id = $1 ORDER BY posted_at ASC, id ASC`, materialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []StockMovement
	for rows.Next() {
		var m StockMovement
		var typ string
		if err := rows.Scan(&m.ID, &m.MaterialID, &typ, &m.Quantity, &m.Reason, &m.Reference, &m.BatchNumber, &m.SupplierID, &m.PostedAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(typ)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (tx *txRepo) GetMaterialForUpdate(ctx context.Context, id int64) (Material, error) {
	row := tx.tx.QueryRow(ctx, `SELECT id, name, COALESCE(unit, ''), COALESCE(quantity, 0), COALESCE(updated_at, NOW())
FROM materials WHERE id = $1 FOR UPDATE`, id)
	var m Material
	if err := row.Scan(&m.ID, &m.Name, &m.Unit, &m.Quantity, &m.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Material{}, shared.ErrNotFound
		}
		return Material{}, err
	}
	return m, nil
}

func (tx *txRepo) FindMovement(ctx context.Context, materialID int64, reference string) (StockMovement, error) {
	row := tx.tx.QueryRow(ctx, `SELECT id, material_id, type, quantity, COALESCE(reason, ''), reference,
COALESCE(batch_number, ''), COALESCE(supplier_id, 0), posted_at
FROM stock_movements WHERE material_id = $1 AND reference = $2 LIMIT 1`, materialID, reference)
	var m StockMovement
	var typ string
	if err := row.Scan(&m.ID, &m.MaterialID, &typ, &m.Quantity, &m.Reason, &m.Reference, &m.BatchNumber, &m.SupplierID, &m.PostedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockMovement{}, shared.ErrNotFound
		}
		return StockMovement{}, err
	}
	m.Type = MovementType(typ)
	return m, nil
}

func (tx *txRepo) InsertMovement(ctx context.Context, movement StockMovement) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO stock_movements (material_id, type, quantity, reason, reference, batch_number, supplier_id, posted_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, 0), $8) RETURNING id`,
		movement.MaterialID, string(movement.Type), movement.Quantity, movement.Reason,
		movement.Reference, movement.BatchNumber, movement.SupplierID, movement.PostedAt).Scan(&id)
	return id, err
}

// SetMaterialQuantity writes only the cached quantity column.
func (tx *txRepo) SetMaterialQuantity(ctx context.Context, materialID int64, quantity float64) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE materials SET quantity = $1, updated_at = NOW() WHERE id = $2`, quantity, materialID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
