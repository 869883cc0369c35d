package grading

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-procure/internal/shared"
)

type memoryGradingRepo struct {
	suppliers map[int64]Supplier
	records   map[int64][]QCRecord
	nextID    int64
}

type memoryGradingTx struct {
	repo *memoryGradingRepo
}

func newMemoryGradingRepo() *memoryGradingRepo {
	return &memoryGradingRepo{
		suppliers: make(map[int64]Supplier),
		records:   make(map[int64][]QCRecord),
	}
}

func (r *memoryGradingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryGradingTx{repo: r})
}

func (r *memoryGradingRepo) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	sup, ok := r.suppliers[id]
	if !ok {
		return Supplier{}, shared.ErrNotFound
	}
	return sup, nil
}

func (r *memoryGradingRepo) ListQCRecords(ctx context.Context, supplierID int64) ([]QCRecord, error) {
	return append([]QCRecord(nil), r.records[supplierID]...), nil
}

func (tx *memoryGradingTx) InsertQCRecord(ctx context.Context, rec QCRecord) (int64, error) {
	tx.repo.nextID++
	rec.ID = tx.repo.nextID
	tx.repo.records[rec.SupplierID] = append(tx.repo.records[rec.SupplierID], rec)
	return rec.ID, nil
}

func (tx *memoryGradingTx) FindQCRecordByGRN(ctx context.Context, grnID int64) (QCRecord, error) {
	for _, recs := range tx.repo.records {
		for _, rec := range recs {
			if rec.GRNID == grnID {
				return rec, nil
			}
		}
	}
	return QCRecord{}, shared.ErrNotFound
}

func (tx *memoryGradingTx) ListQCRecords(ctx context.Context, supplierID int64) ([]QCRecord, error) {
	return tx.repo.ListQCRecords(ctx, supplierID)
}

func (tx *memoryGradingTx) UpdateSupplierGrade(ctx context.Context, update SupplierGradeUpdate) error {
	sup, ok := tx.repo.suppliers[update.SupplierID]
	if !ok {
		return shared.ErrNotFound
	}
	sup.CurrentGrade = update.CurrentGrade
	sup.AveragePoints = update.AveragePoints
	sup.TotalDeliveries = update.TotalDeliveries
	sup.LastDeliveryGrade = update.LastDeliveryGrade
	sup.LastGradeUpdate = update.LastGradeUpdate
	tx.repo.suppliers[update.SupplierID] = sup
	return nil
}

func TestGradePointsAndThresholds(t *testing.T) {
	require.Equal(t, 4.0, GradePoints(GradeA))
	require.Equal(t, 3.0, GradePoints(GradeB))
	require.Equal(t, 2.0, GradePoints(GradeC))
	require.Equal(t, 1.0, GradePoints(GradeD))

	require.Equal(t, GradeA, LetterFor(3.5))
	require.Equal(t, GradeA, LetterFor(4.0))
	require.Equal(t, GradeB, LetterFor(3.49))
	require.Equal(t, GradeB, LetterFor(2.5))
	require.Equal(t, GradeC, LetterFor(2.49))
	require.Equal(t, GradeC, LetterFor(1.5))
	require.Equal(t, GradeD, LetterFor(1.49))
}

func TestRecordDeliveryFirstAndSecond(t *testing.T) {
	repo := newMemoryGradingRepo()
	repo.suppliers[1] = Supplier{ID: 1, Name: "Acme Polymers", Status: SupplierActive}
	svc := NewService(repo, nil)
	ctx := context.Background()

	// First graded delivery: B -> 3 points, one delivery.
	sup, err := svc.RecordDelivery(ctx, RecordDeliveryInput{
		SupplierID: 1, GRNID: 10, GRNNumber: "GRN20260001", Grade: GradeB, QCOfficer: "qc-1",
	})
	require.NoError(t, err)
	require.Equal(t, GradeB, sup.CurrentGrade)
	require.InDelta(t, 3.0, sup.AveragePoints, 1e-9)
	require.EqualValues(t, 1, sup.TotalDeliveries)
	require.Equal(t, GradeB, sup.LastDeliveryGrade)

	// Second delivery graded A: (3+4)/2 = 3.5 -> A.
	sup, err = svc.RecordDelivery(ctx, RecordDeliveryInput{
		SupplierID: 1, GRNID: 11, GRNNumber: "GRN20260002", Grade: GradeA, QCOfficer: "qc-1",
	})
	require.NoError(t, err)
	require.Equal(t, GradeA, sup.CurrentGrade)
	require.InDelta(t, 3.5, sup.AveragePoints, 1e-9)
	require.EqualValues(t, 2, sup.TotalDeliveries)
	require.Equal(t, GradeA, sup.LastDeliveryGrade)
}

func TestRecordDeliveryOncePerGRN(t *testing.T) {
	repo := newMemoryGradingRepo()
	repo.suppliers[1] = Supplier{ID: 1, Name: "Acme Polymers", Status: SupplierActive}
	svc := NewService(repo, nil)
	ctx := context.Background()

	input := RecordDeliveryInput{
		SupplierID: 1, GRNID: 10, GRNNumber: "GRN20260001", Grade: GradeB, QCOfficer: "qc-1",
	}
	_, err := svc.RecordDelivery(ctx, input)
	require.NoError(t, err)

	// The same GRN recorded again regrades but appends nothing.
	sup, err := svc.RecordDelivery(ctx, input)
	require.NoError(t, err)
	require.EqualValues(t, 1, sup.TotalDeliveries)
	require.InDelta(t, 3.0, sup.AveragePoints, 1e-9)
	require.Len(t, repo.records[1], 1)
}

func TestRecordDeliveryUnknownSupplier(t *testing.T) {
	repo := newMemoryGradingRepo()
	svc := NewService(repo, nil)

	_, err := svc.RecordDelivery(context.Background(), RecordDeliveryInput{SupplierID: 404, Grade: GradeA})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRecordDeliveryInvalidGrade(t *testing.T) {
	repo := newMemoryGradingRepo()
	repo.suppliers[1] = Supplier{ID: 1}
	svc := NewService(repo, nil)

	_, err := svc.RecordDelivery(context.Background(), RecordDeliveryInput{SupplierID: 1, Grade: "E"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRegradeOrderIndependence(t *testing.T) {
	grades := []Grade{GradeA, GradeD, GradeB, GradeC, GradeA}
	orders := [][]int{
		{0, 1, 2, 3, 4},
		{4, 3, 2, 1, 0},
		{2, 0, 4, 1, 3},
	}
	var want float64
	for i, order := range orders {
		repo := newMemoryGradingRepo()
		repo.suppliers[1] = Supplier{ID: 1}
		for _, idx := range order {
			repo.records[1] = append(repo.records[1], QCRecord{SupplierID: 1, Grade: grades[idx], QCDate: time.Now()})
		}
		svc := NewService(repo, nil)
		sup, err := svc.Regrade(context.Background(), 1)
		require.NoError(t, err)
		if i == 0 {
			want = sup.AveragePoints
		}
		require.InDelta(t, want, sup.AveragePoints, 1e-9)
		require.Equal(t, LetterFor(want), sup.CurrentGrade)
		require.EqualValues(t, len(grades), sup.TotalDeliveries)
	}
}
