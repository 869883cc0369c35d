package procurement

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

const prepColumns = `id, request_id, request_type, material_id, material_name,
required_quantity, unit, status, COALESCE(supplier_id, 0), COALESCE(unit_price, 0),
expected_delivery, COALESCE(notes, '')`

func scanPreparation(row pgx.Row) (Preparation, error) {
	var prep Preparation
	var status string
	err := row.Scan(&prep.ID, &prep.RequestID, &prep.RequestType, &prep.MaterialID, &prep.MaterialName,
		&prep.RequiredQuantity, &prep.Unit, &status, &prep.SupplierID, &prep.UnitPrice,
		&prep.ExpectedDelivery, &prep.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Preparation{}, shared.ErrNotFound
		}
		return Preparation{}, err
	}
	prep.Status = PreparationStatus(status)
	return prep, nil
}

// GetRequirement returns the base preparation row for a material, the one
// spawned at approval that carries the full required quantity and no supplier.
func (r *Repository) GetRequirement(ctx context.Context, requestID, materialID int64) (Preparation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+prepColumns+`
FROM preparations WHERE request_id = $1 AND material_id = $2 AND supplier_id IS NULL`,
		requestID, materialID)
	return scanPreparation(row)
}

// ListAllocations returns the per-supplier preparation rows for a material.
func (r *Repository) ListAllocations(ctx context.Context, requestID, materialID int64) ([]Preparation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+prepColumns+`
FROM preparations WHERE request_id = $1 AND material_id = $2 AND supplier_id IS NOT NULL
ORDER BY id ASC`, requestID, materialID)
	if err != nil {
		return nil, err
	}
	return collectPreparations(rows)
}

// ListPreparationsByRequest returns every preparation row for a requisition.
func (r *Repository) ListPreparationsByRequest(ctx context.Context, requestID int64) ([]Preparation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+prepColumns+`
FROM preparations WHERE request_id = $1 ORDER BY material_id ASC, id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	return collectPreparations(rows)
}

func collectPreparations(rows pgx.Rows) ([]Preparation, error) {
	defer rows.Close()
	var preps []Preparation
	for rows.Next() {
		prep, err := scanPreparation(rows)
		if err != nil {
			return nil, err
		}
		preps = append(preps, prep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return preps, nil
}

// GetPO fetches a purchase order by id.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, number, preparation_id, supplier_id, material_id,
quantity, unit_price, total_cost, status, expected_delivery, created_at
FROM purchase_orders WHERE id = $1`, id)
	return scanPO(row)
}

// SumReceivedForPO totals delivered quantities across every goods receipt
// note recorded against the order, whatever its QC outcome.
func (r *Repository) SumReceivedForPO(ctx context.Context, poID int64) (float64, error) {
	var received float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(i.delivered_quantity), 0)
FROM grn_items i JOIN grns g ON g.id = i.grn_id WHERE g.po_id = $1`, poID).Scan(&received)
	return received, err
}

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status string
	err := row.Scan(&po.ID, &po.Number, &po.PreparationID, &po.SupplierID, &po.MaterialID,
		&po.Quantity, &po.UnitPrice, &po.TotalCost, &status, &po.ExpectedDelivery, &po.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, shared.ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	po.Status = POStatus(status)
	return po, nil
}

// UpsertRequirement inserts or refreshes the base row for a material. The
// partial unique index on (request_id, material_id) WHERE supplier_id IS
// NULL makes a re-spawned approval refresh the row, never duplicate it.
func (tx *txRepo) UpsertRequirement(ctx context.Context, prep Preparation) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO preparations (request_id, request_type, material_id, material_name, required_quantity, unit, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (request_id, material_id) WHERE supplier_id IS NULL
DO UPDATE SET material_name = EXCLUDED.material_name,
	required_quantity = EXCLUDED.required_quantity,
	unit = EXCLUDED.unit
RETURNING id`,
		prep.RequestID, prep.RequestType, prep.MaterialID, prep.MaterialName,
		prep.RequiredQuantity, prep.Unit, string(prep.Status)).Scan(&id)
	return id, err
}

// UpsertAllocation inserts or refreshes the per-supplier row. The partial
// unique index on (request_id, material_id, supplier_id) makes re-allocation
// an update, never a duplicate.
func (tx *txRepo) UpsertAllocation(ctx context.Context, prep Preparation) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO preparations
(request_id, request_type, material_id, material_name, required_quantity, unit, status, supplier_id, unit_price, expected_delivery, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (request_id, material_id, supplier_id) WHERE supplier_id IS NOT NULL
DO UPDATE SET required_quantity = EXCLUDED.required_quantity,
	unit_price = EXCLUDED.unit_price,
	expected_delivery = EXCLUDED.expected_delivery,
	notes = EXCLUDED.notes
RETURNING id`,
		prep.RequestID, prep.RequestType, prep.MaterialID, prep.MaterialName,
		prep.RequiredQuantity, prep.Unit, string(prep.Status), prep.SupplierID,
		prep.UnitPrice, prep.ExpectedDelivery, prep.Notes).Scan(&id)
	return id, err
}

func (tx *txRepo) FindPOByPreparation(ctx context.Context, preparationID int64) (PurchaseOrder, error) {
	row := tx.tx.QueryRow(ctx, `SELECT id, number, preparation_id, supplier_id, material_id,
quantity, unit_price, total_cost, status, expected_delivery, created_at
FROM purchase_orders WHERE preparation_id = $1`, preparationID)
	return scanPO(row)
}

func (tx *txRepo) InsertPO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_orders
(number, preparation_id, supplier_id, material_id, quantity, unit_price, total_cost, status, expected_delivery, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now()) RETURNING id`,
		po.Number, po.PreparationID, po.SupplierID, po.MaterialID,
		po.Quantity, po.UnitPrice, po.TotalCost, string(po.Status), po.ExpectedDelivery).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdatePOTerms(ctx context.Context, id int64, quantity, unitPrice, totalCost float64, expected time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_orders
SET quantity = $1, unit_price = $2, total_cost = $3, expected_delivery = $4 WHERE id = $5`,
		quantity, unitPrice, totalCost, expected, id)
	return err
}

func (tx *txRepo) UpdatePOStatus(ctx context.Context, id int64, status POStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET status = $1 WHERE id = $2`, string(status), id)
	return err
}

// UpdatePreparationStatusByPO advances the preparation behind a purchase
// order; zero rows affected means the preparation was not in the expected
// state.
func (tx *txRepo) UpdatePreparationStatusByPO(ctx context.Context, poID int64, from, to PreparationStatus) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE preparations p SET status = $1
FROM purchase_orders po WHERE po.preparation_id = p.id AND po.id = $2 AND p.status = $3`,
		string(to), poID, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrInvalidState
	}
	return nil
}
