package receiving

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-procure/internal/grading"
	"github.com/meridian-erp/meridian-procure/internal/inventory"
	"github.com/meridian-erp/meridian-procure/internal/invoicing"
	"github.com/meridian-erp/meridian-procure/internal/procurement"
	"github.com/meridian-erp/meridian-procure/internal/shared"
)

type memoryGRNRepo struct {
	grns       map[int64]GRN
	nextID     int64
	nextItemID int64
}

type memoryGRNTx struct {
	repo *memoryGRNRepo
}

func newMemoryGRNRepo() *memoryGRNRepo {
	return &memoryGRNRepo{grns: make(map[int64]GRN)}
}

// WithTx restores the previous state when fn fails, mirroring a rollback.
func (r *memoryGRNRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]GRN, len(r.grns))
	for id, grn := range r.grns {
		copied := grn
		copied.Items = append([]Item(nil), grn.Items...)
		snapshot[id] = copied
	}
	if err := fn(ctx, &memoryGRNTx{repo: r}); err != nil {
		r.grns = snapshot
		return err
	}
	return nil
}

func (r *memoryGRNRepo) GetGRN(ctx context.Context, id int64) (GRN, error) {
	grn, ok := r.grns[id]
	if !ok {
		return GRN{}, shared.ErrNotFound
	}
	return grn, nil
}

func (r *memoryGRNRepo) ListGRNsByPO(ctx context.Context, poID int64) ([]GRN, error) {
	var out []GRN
	for _, grn := range r.grns {
		if grn.POID == poID {
			out = append(out, grn)
		}
	}
	return out, nil
}

func (tx *memoryGRNTx) InsertGRN(ctx context.Context, grn GRN) (int64, error) {
	tx.repo.nextID++
	grn.ID = tx.repo.nextID
	grn.Items = nil
	tx.repo.grns[grn.ID] = grn
	return grn.ID, nil
}

func (tx *memoryGRNTx) InsertItem(ctx context.Context, item Item) (int64, error) {
	tx.repo.nextItemID++
	item.ID = tx.repo.nextItemID
	grn := tx.repo.grns[item.GRNID]
	grn.Items = append(grn.Items, item)
	tx.repo.grns[item.GRNID] = grn
	return item.ID, nil
}

func (tx *memoryGRNTx) CompareAndSwapStatus(ctx context.Context, id int64, from, to Status) error {
	grn, ok := tx.repo.grns[id]
	if !ok || grn.Status != from {
		return shared.ErrInvalidState
	}
	grn.Status = to
	tx.repo.grns[id] = grn
	return nil
}

func (tx *memoryGRNTx) SetItemQC(ctx context.Context, itemID int64, grade grading.Grade, condition Condition) error {
	for id, grn := range tx.repo.grns {
		for i := range grn.Items {
			if grn.Items[i].ID == itemID {
				grn.Items[i].QualityGrade = grade
				grn.Items[i].Condition = condition
				tx.repo.grns[id] = grn
				return nil
			}
		}
	}
	return shared.ErrNotFound
}

func (tx *memoryGRNTx) RecordQC(ctx context.Context, grnID int64, officer string, at time.Time) error {
	grn := tx.repo.grns[grnID]
	grn.QCOfficer = officer
	grn.QCDate = &at
	tx.repo.grns[grnID] = grn
	return nil
}

func (tx *memoryGRNTx) RecordRejection(ctx context.Context, grnID int64, officer, reason string, at time.Time) error {
	grn := tx.repo.grns[grnID]
	grn.QCOfficer = officer
	grn.QCDate = &at
	grn.RejectReason = reason
	tx.repo.grns[grnID] = grn
	return nil
}

type stubOrders struct {
	po        procurement.PurchaseOrder
	delivered int
	completed int
	failed    int
}

func (s *stubOrders) GetPO(ctx context.Context, id int64) (procurement.PurchaseOrder, error) {
	if id != s.po.ID {
		return procurement.PurchaseOrder{}, shared.ErrNotFound
	}
	return s.po, nil
}

func (s *stubOrders) MarkDelivered(ctx context.Context, poID int64) error {
	s.delivered++
	if s.delivered > 1 {
		return shared.ErrInvalidState
	}
	return nil
}

func (s *stubOrders) CompletePreparation(ctx context.Context, poID int64) error {
	s.completed++
	return nil
}

func (s *stubOrders) FailPreparation(ctx context.Context, poID int64) error {
	s.failed++
	return nil
}

func (s *stubOrders) UpdatePOReceiptStatus(ctx context.Context, poID int64) (procurement.POStatus, error) {
	return procurement.POStatusPartiallyReceived, nil
}

// stubStock mirrors the real credit path's (materialId, reference) dedup.
type stubStock struct {
	credits map[string]inventory.CreditInput
}

func newStubStock() *stubStock {
	return &stubStock{credits: make(map[string]inventory.CreditInput)}
}

func (s *stubStock) CreditStock(ctx context.Context, input inventory.CreditInput) (inventory.StockMovement, error) {
	key := fmt.Sprintf("%d:%s", input.MaterialID, input.Reference)
	if _, ok := s.credits[key]; !ok {
		s.credits[key] = input
	}
	return inventory.StockMovement{MaterialID: input.MaterialID, Quantity: input.Quantity, Reference: input.Reference}, nil
}

// stubGrades mirrors the grading engine's once-per-GRN record.
type stubGrades struct {
	recorded []grading.RecordDeliveryInput
}

func (s *stubGrades) RecordDelivery(ctx context.Context, input grading.RecordDeliveryInput) (grading.Supplier, error) {
	for _, prior := range s.recorded {
		if prior.GRNID == input.GRNID {
			return grading.Supplier{ID: input.SupplierID, CurrentGrade: prior.Grade}, nil
		}
	}
	s.recorded = append(s.recorded, input)
	return grading.Supplier{ID: input.SupplierID, CurrentGrade: input.Grade}, nil
}

type stubInvoices struct {
	created  map[int64]invoicing.Invoice
	nextID   int64
	failures int
}

func newStubInvoices() *stubInvoices {
	return &stubInvoices{created: make(map[int64]invoicing.Invoice)}
}

func (s *stubInvoices) CreateFromGRN(ctx context.Context, input invoicing.GRNInput) (invoicing.Invoice, error) {
	if s.failures > 0 {
		s.failures--
		return invoicing.Invoice{}, fmt.Errorf("invoicing unavailable")
	}
	if _, ok := s.created[input.GRNID]; ok {
		return invoicing.Invoice{}, shared.ErrDuplicateOperation
	}
	s.nextID++
	grnID := input.GRNID
	inv := invoicing.Invoice{ID: s.nextID, Number: fmt.Sprintf("INV2026%04d", s.nextID), GRNID: &grnID}
	s.created[input.GRNID] = inv
	return inv, nil
}

type stubIdem struct {
	keys map[string]bool
}

func newStubIdem() *stubIdem {
	return &stubIdem{keys: make(map[string]bool)}
}

func (s *stubIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	if s.keys[key] {
		return shared.ErrDuplicateOperation
	}
	s.keys[key] = true
	return nil
}

func (s *stubIdem) Delete(ctx context.Context, key string) error {
	delete(s.keys, key)
	return nil
}

type fakeNumbers struct {
	seq int
}

func (f *fakeNumbers) Next(ctx context.Context, prefix string) (string, error) {
	f.seq++
	return fmt.Sprintf("%s2026%04d", prefix, f.seq), nil
}

type fixture struct {
	svc      *Service
	repo     *memoryGRNRepo
	orders   *stubOrders
	stock    *stubStock
	grades   *stubGrades
	invoices *stubInvoices
	idem     *stubIdem
}

func newFixture() *fixture {
	f := &fixture{
		repo:     newMemoryGRNRepo(),
		orders:   &stubOrders{po: procurement.PurchaseOrder{ID: 1, Number: "PO20260001", SupplierID: 31, MaterialID: 5, Quantity: 60, UnitPrice: 2.50}},
		stock:    newStubStock(),
		grades:   &stubGrades{},
		invoices: newStubInvoices(),
		idem:     newStubIdem(),
	}
	f.svc = NewService(f.repo, f.orders, f.stock, f.grades, f.invoices, f.idem, nil, &fakeNumbers{}, nil, nil)
	return f
}

func createTestGRN(t *testing.T, f *fixture) GRN {
	t.Helper()
	grn, err := f.svc.CreateGRN(context.Background(), CreateInput{
		POID:         1,
		DeliveryDate: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		Items: []ItemInput{
			{MaterialID: 5, MaterialName: "HDPE Resin", OrderedQuantity: 60, DeliveredQuantity: 60, UnitPrice: 2.50},
		},
	})
	require.NoError(t, err)
	return grn
}

func approveAll(t *testing.T, f *fixture, grn GRN, grade grading.Grade) (GRN, error) {
	t.Helper()
	input := ApproveInput{GRNID: grn.ID, QCOfficer: "qc.officer"}
	for _, item := range grn.Items {
		input.Grades = append(input.Grades, GradeInput{ItemID: item.ID, Grade: grade, Condition: ConditionGood})
	}
	return f.svc.ApproveGRN(context.Background(), input)
}

func TestCreateGRNComputesTotalAndMarksDelivered(t *testing.T) {
	f := newFixture()
	grn := createTestGRN(t, f)

	require.Equal(t, "GRN20260001", grn.Number)
	require.Equal(t, StatusPendingQC, grn.Status)
	require.EqualValues(t, 31, grn.SupplierID)
	require.InDelta(t, 150.0, grn.TotalAmount, 0.001)
	require.Equal(t, 1, f.orders.delivered)
}

func TestCreateGRNRequiresItems(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateGRN(context.Background(), CreateInput{POID: 1, DeliveryDate: time.Now()})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestApproveGRNAppliesAllEffects(t *testing.T) {
	f := newFixture()
	grn := createTestGRN(t, f)

	approved, err := approveAll(t, f, grn, grading.GradeB)
	require.NoError(t, err)
	require.Equal(t, StatusInvoiced, approved.Status)
	require.Equal(t, "qc.officer", approved.QCOfficer)

	// Stock credited once with the GRN number as reference.
	require.Len(t, f.stock.credits, 1)
	credit := f.stock.credits["5:GRN20260001"]
	require.InDelta(t, 60.0, credit.Quantity, 0.001)
	require.EqualValues(t, 31, credit.SupplierID)

	// Supplier regraded from the delivery grade.
	require.Len(t, f.grades.recorded, 1)
	require.Equal(t, grading.GradeB, f.grades.recorded[0].Grade)
	require.Equal(t, "GRN20260001", f.grades.recorded[0].GRNNumber)

	// Invoice derived and preparation completed.
	require.Len(t, f.invoices.created, 1)
	require.Equal(t, 1, f.orders.completed)
}

func TestApproveGRNIsIdempotent(t *testing.T) {
	f := newFixture()
	grn := createTestGRN(t, f)

	_, err := approveAll(t, f, grn, grading.GradeA)
	require.NoError(t, err)

	_, err = approveAll(t, f, grn, grading.GradeA)
	require.ErrorIs(t, err, shared.ErrDuplicateOperation)

	// No duplicated side effects.
	require.Len(t, f.stock.credits, 1)
	require.Len(t, f.grades.recorded, 1)
	require.Len(t, f.invoices.created, 1)
}

func TestApproveGRNSkipsZeroDeliveryLines(t *testing.T) {
	f := newFixture()
	grn, err := f.svc.CreateGRN(context.Background(), CreateInput{
		POID:         1,
		DeliveryDate: time.Now(),
		Items: []ItemInput{
			{MaterialID: 5, MaterialName: "HDPE Resin", OrderedQuantity: 60, DeliveredQuantity: 60, UnitPrice: 2.50},
			{MaterialID: 6, MaterialName: "Masterbatch Blue", OrderedQuantity: 10, DeliveredQuantity: 0, UnitPrice: 8},
		},
	})
	require.NoError(t, err)

	_, err = approveAll(t, f, grn, grading.GradeA)
	require.NoError(t, err)

	// Only the line actually delivered credits stock.
	require.Len(t, f.stock.credits, 1)
	_, ok := f.stock.credits["5:GRN20260001"]
	require.True(t, ok)
}

func TestApproveGRNAveragesItemGrades(t *testing.T) {
	f := newFixture()
	grn, err := f.svc.CreateGRN(context.Background(), CreateInput{
		POID:         1,
		DeliveryDate: time.Now(),
		Items: []ItemInput{
			{MaterialID: 5, MaterialName: "HDPE Resin", OrderedQuantity: 30, DeliveredQuantity: 30, UnitPrice: 2.50},
			{MaterialID: 6, MaterialName: "Masterbatch Blue", OrderedQuantity: 10, DeliveredQuantity: 10, UnitPrice: 8},
		},
	})
	require.NoError(t, err)

	// B (3) and A (4) average to 3.5, the A threshold.
	input := ApproveInput{GRNID: grn.ID, QCOfficer: "qc.officer"}
	input.Grades = append(input.Grades, GradeInput{ItemID: grn.Items[0].ID, Grade: grading.GradeB, Condition: ConditionGood})
	input.Grades = append(input.Grades, GradeInput{ItemID: grn.Items[1].ID, Grade: grading.GradeA, Condition: ConditionGood})
	_, err = f.svc.ApproveGRN(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, f.grades.recorded, 1)
	require.Equal(t, grading.GradeA, f.grades.recorded[0].Grade)
}

func TestApproveGRNValidatesVerdicts(t *testing.T) {
	f := newFixture()
	grn := createTestGRN(t, f)

	_, err := f.svc.ApproveGRN(context.Background(), ApproveInput{
		GRNID:     grn.ID,
		QCOfficer: "qc.officer",
		Grades:    []GradeInput{{ItemID: grn.Items[0].ID, Grade: "E", Condition: ConditionGood}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.ApproveGRN(context.Background(), ApproveInput{
		GRNID:     grn.ID,
		QCOfficer: "qc.officer",
		Grades:    []GradeInput{{ItemID: grn.Items[0].ID, Grade: grading.GradeA, Condition: "pristine"}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRejectGRNHasNoSideEffects(t *testing.T) {
	f := newFixture()
	grn := createTestGRN(t, f)

	rejected, err := f.svc.RejectGRN(context.Background(), grn.ID, "qc.officer", "moisture damage")
	require.NoError(t, err)
	require.Equal(t, StatusQCFailed, rejected.Status)
	require.Equal(t, "moisture damage", rejected.RejectReason)
	require.Equal(t, 1, f.orders.failed)

	require.Empty(t, f.stock.credits)
	require.Empty(t, f.grades.recorded)
	require.Empty(t, f.invoices.created)

	// Terminal: approval afterwards fails.
	_, err = approveAll(t, f, grn, grading.GradeA)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRejectGRNRequiresReason(t *testing.T) {
	f := newFixture()
	grn := createTestGRN(t, f)
	_, err := f.svc.RejectGRN(context.Background(), grn.ID, "qc.officer", "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestFailedApprovalReleasesKeyForRetry(t *testing.T) {
	f := newFixture()
	grn := createTestGRN(t, f)

	// Missing verdict for the only item fails inside the transaction.
	_, err := f.svc.ApproveGRN(context.Background(), ApproveInput{
		GRNID:     grn.ID,
		QCOfficer: "qc.officer",
		Grades:    []GradeInput{{ItemID: 999, Grade: grading.GradeA, Condition: ConditionGood}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, f.idem.keys)

	// The corrected approval goes through.
	_, err = approveAll(t, f, grn, grading.GradeA)
	require.NoError(t, err)
}

func TestApproveGRNResumesAfterDownstreamFailure(t *testing.T) {
	f := newFixture()
	f.invoices.failures = 1
	grn := createTestGRN(t, f)

	// The QC verdict commits, stock is credited and the supplier regraded,
	// then invoicing fails and the key is released.
	_, err := approveAll(t, f, grn, grading.GradeA)
	require.Error(t, err)
	require.Empty(t, f.idem.keys)

	stored, err := f.repo.GetGRN(context.Background(), grn.ID)
	require.NoError(t, err)
	require.Equal(t, StatusQCPassed, stored.Status)
	require.Len(t, f.stock.credits, 1)
	require.Len(t, f.grades.recorded, 1)
	require.Empty(t, f.invoices.created)

	// The retry skips the verdict and replays only the missing effects.
	approved, err := approveAll(t, f, grn, grading.GradeA)
	require.NoError(t, err)
	require.Equal(t, StatusInvoiced, approved.Status)
	require.Len(t, f.stock.credits, 1)
	require.Len(t, f.grades.recorded, 1)
	require.Len(t, f.invoices.created, 1)
	require.Equal(t, 1, f.orders.completed)
}
