package requisition

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-procure/internal/shared"
)

type memoryReqRepo struct {
	reqs   map[int64]Requisition
	nextID int64
}

type memoryReqTx struct {
	repo *memoryReqRepo
}

func newMemoryReqRepo() *memoryReqRepo {
	return &memoryReqRepo{reqs: make(map[int64]Requisition)}
}

func (r *memoryReqRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryReqTx{repo: r})
}

func (r *memoryReqRepo) GetRequisition(ctx context.Context, id int64) (Requisition, error) {
	req, ok := r.reqs[id]
	if !ok {
		return Requisition{}, shared.ErrNotFound
	}
	return req, nil
}

func (tx *memoryReqTx) InsertRequisition(ctx context.Context, req Requisition) (int64, error) {
	tx.repo.nextID++
	req.ID = tx.repo.nextID
	tx.repo.reqs[req.ID] = req
	return req.ID, nil
}

func (tx *memoryReqTx) InsertLine(ctx context.Context, line Line) error {
	req := tx.repo.reqs[line.RequisitionID]
	line.ID = int64(len(req.Items) + 1)
	req.Items = append(req.Items, line)
	tx.repo.reqs[line.RequisitionID] = req
	return nil
}

func (tx *memoryReqTx) CompareAndSwapStatus(ctx context.Context, id int64, from, to Status) error {
	req, ok := tx.repo.reqs[id]
	if !ok || req.Status != from {
		return shared.ErrInvalidState
	}
	req.Status = to
	tx.repo.reqs[id] = req
	return nil
}

func (tx *memoryReqTx) RecordHOApproval(ctx context.Context, id int64, approver int64, comments string, at time.Time) error {
	req := tx.repo.reqs[id]
	req.HOApprover = approver
	req.HOComments = comments
	req.HOApprovedAt = &at
	tx.repo.reqs[id] = req
	return nil
}

func (tx *memoryReqTx) RecordMDApproval(ctx context.Context, id int64, approver int64, comments string, at time.Time) error {
	req := tx.repo.reqs[id]
	req.MDApprover = approver
	req.MDComments = comments
	req.MDApprovedAt = &at
	tx.repo.reqs[id] = req
	return nil
}

func (tx *memoryReqTx) RecordRejection(ctx context.Context, id int64, actor int64, reason string, at time.Time) error {
	req := tx.repo.reqs[id]
	req.RejectReason = reason
	req.RejectedAt = &at
	tx.repo.reqs[id] = req
	return nil
}

type stubPreparations struct {
	spawned []Requisition
}

func (s *stubPreparations) SpawnPreparations(ctx context.Context, req Requisition) error {
	s.spawned = append(s.spawned, req)
	return nil
}

type fakeNumbers struct {
	seq int
}

func (f *fakeNumbers) Next(ctx context.Context, prefix string) (string, error) {
	f.seq++
	return fmt.Sprintf("%s2026%04d", prefix, f.seq), nil
}

func submitTestRequisition(t *testing.T, svc *Service) Requisition {
	t.Helper()
	req, err := svc.Submit(context.Background(), SubmitInput{
		Type:        TypeMaterial,
		RequestedBy: 7,
		Items: []LineInput{
			{MaterialID: 1, MaterialName: "HDPE Resin", Quantity: 100, Unit: "kg"},
		},
	})
	require.NoError(t, err)
	return req
}

func TestSubmitRequiresItems(t *testing.T) {
	svc := NewService(newMemoryReqRepo(), nil, nil, &fakeNumbers{}, nil)
	_, err := svc.Submit(context.Background(), SubmitInput{Type: TypeMaterial, RequestedBy: 7})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTwoLevelApprovalFlow(t *testing.T) {
	repo := newMemoryReqRepo()
	preps := &stubPreparations{}
	svc := NewService(repo, preps, nil, &fakeNumbers{}, nil)
	ctx := context.Background()

	req := submitTestRequisition(t, svc)
	require.Equal(t, StatusPendingHO, req.Status)
	require.Equal(t, "REQ20260001", req.Number)

	req, err := svc.HOApprove(ctx, req.ID, 11, "stock low")
	require.NoError(t, err)
	require.Equal(t, StatusForwardedToMD, req.Status)
	require.NotNil(t, req.HOApprovedAt)

	req, err = svc.MDApprove(ctx, req.ID, 21, "go ahead")
	require.NoError(t, err)
	require.Equal(t, StatusMDApproved, req.Status)

	// MD approval spawns preparations exactly once.
	require.Len(t, preps.spawned, 1)
	require.Equal(t, req.ID, preps.spawned[0].ID)
	require.Len(t, preps.spawned[0].Items, 1)
}

func TestMDCannotSkipHOLevel(t *testing.T) {
	svc := NewService(newMemoryReqRepo(), &stubPreparations{}, nil, &fakeNumbers{}, nil)
	req := submitTestRequisition(t, svc)

	_, err := svc.MDApprove(context.Background(), req.ID, 21, "")
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRejectionIsTerminal(t *testing.T) {
	svc := NewService(newMemoryReqRepo(), &stubPreparations{}, nil, &fakeNumbers{}, nil)
	ctx := context.Background()
	req := submitTestRequisition(t, svc)

	rejected, err := svc.HOReject(ctx, req.ID, 11, "budget freeze")
	require.NoError(t, err)
	require.Equal(t, StatusHORejected, rejected.Status)
	require.Equal(t, "budget freeze", rejected.RejectReason)

	// Terminal: a later approval attempt must fail.
	_, err = svc.HOApprove(ctx, req.ID, 11, "")
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRejectRequiresReason(t *testing.T) {
	svc := NewService(newMemoryReqRepo(), &stubPreparations{}, nil, &fakeNumbers{}, nil)
	req := submitTestRequisition(t, svc)

	_, err := svc.HOReject(context.Background(), req.ID, 11, "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestMDRejectFromForwarded(t *testing.T) {
	svc := NewService(newMemoryReqRepo(), &stubPreparations{}, nil, &fakeNumbers{}, nil)
	ctx := context.Background()
	req := submitTestRequisition(t, svc)

	_, err := svc.HOApprove(ctx, req.ID, 11, "")
	require.NoError(t, err)
	rejected, err := svc.MDReject(ctx, req.ID, 21, "supplier under review")
	require.NoError(t, err)
	require.Equal(t, StatusMDRejected, rejected.Status)
}

func TestTransitionTable(t *testing.T) {
	_, ok := NextStatus(StatusPendingHO, EventMDApprove)
	require.False(t, ok)
	next, ok := NextStatus(StatusPendingHO, EventHOApprove)
	require.True(t, ok)
	require.Equal(t, StatusForwardedToMD, next)
	require.True(t, Terminal(StatusHORejected))
	require.True(t, Terminal(StatusMDApproved))
	require.False(t, Terminal(StatusForwardedToMD))
}
