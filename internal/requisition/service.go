package requisition

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-procure/internal/notify"
	"github.com/meridian-erp/meridian-procure/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRequisition(ctx context.Context, id int64) (Requisition, error)
}

// TxRepository exposes transactional operations. Status changes are
// compare-and-swap on the current status so a concurrent transition is
// surfaced instead of silently overwritten.
type TxRepository interface {
	InsertRequisition(ctx context.Context, req Requisition) (int64, error)
	InsertLine(ctx context.Context, line Line) error
	CompareAndSwapStatus(ctx context.Context, id int64, from, to Status) error
	RecordHOApproval(ctx context.Context, id int64, approver int64, comments string, at time.Time) error
	RecordMDApproval(ctx context.Context, id int64, approver int64, comments string, at time.Time) error
	RecordRejection(ctx context.Context, id int64, actor int64, reason string, at time.Time) error
}

// PreparationPort spawns purchase-preparation rows once a requisition is
// fully approved.
type PreparationPort interface {
	SpawnPreparations(ctx context.Context, req Requisition) error
}

// NumberPort issues document numbers.
type NumberPort interface {
	Next(ctx context.Context, prefix string) (string, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the requisition approval state machine.
type Service struct {
	repo         RepositoryPort
	preparations PreparationPort
	notifier     notify.Notifier
	numbers      NumberPort
	audit        AuditPort
	validate     *validator.Validate
}

// NewService constructs the state machine service.
func NewService(repo RepositoryPort, preparations PreparationPort, notifier notify.Notifier, numbers NumberPort, audit AuditPort) *Service {
	return &Service{
		repo:         repo,
		preparations: preparations,
		notifier:     notifier,
		numbers:      numbers,
		audit:        audit,
		validate:     validator.New(),
	}
}

// SubmitInput describes a new requisition.
type SubmitInput struct {
	Type        RequestType `validate:"required,oneof=material packing_material"`
	RequestedBy int64       `validate:"required"`
	Items       []LineInput `validate:"required,min=1,dive"`
}

// LineInput is one requested material.
type LineInput struct {
	MaterialID   int64   `validate:"required"`
	MaterialName string  `validate:"required"`
	Quantity     float64 `validate:"required,gt=0"`
	Unit         string  `validate:"required"`
}

// Submit creates a requisition in pending_ho and notifies the
// Head-of-Operations role.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (Requisition, error) {
	if err := s.validate.Struct(input); err != nil {
		return Requisition{}, fmt.Errorf("requisition: %v: %w", err, shared.ErrValidation)
	}
	number, err := s.numbers.Next(ctx, "REQ")
	if err != nil {
		return Requisition{}, err
	}
	req := Requisition{
		Number:      number,
		Type:        input.Type,
		Status:      StatusPendingHO,
		RequestedBy: input.RequestedBy,
		SubmittedAt: time.Now(),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertRequisition(ctx, req)
		if err != nil {
			return err
		}
		req.ID = id
		for _, item := range input.Items {
			line := Line{
				RequisitionID:     id,
				MaterialID:        item.MaterialID,
				MaterialName:      item.MaterialName,
				RequestedQuantity: item.Quantity,
				Unit:              item.Unit,
			}
			if err := tx.InsertLine(ctx, line); err != nil {
				return err
			}
			req.Items = append(req.Items, line)
		}
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	s.notify(ctx, notify.RoleRecipient(notify.RoleHeadOfOperations), notify.Notification{
		Type:    "requisition_submitted",
		Message: fmt.Sprintf("Requisition %s awaiting your approval", req.Number),
		Data:    map[string]any{"requisition_id": req.ID},
	})
	s.recordAudit(ctx, "REQ_SUBMIT", req.ID, map[string]any{"number": req.Number, "items": len(req.Items)})
	return req, nil
}

// HOApprove forwards a pending requisition to the Managing Director.
func (s *Service) HOApprove(ctx context.Context, id int64, approver int64, comments string) (Requisition, error) {
	req, next, err := s.prepare(ctx, id, EventHOApprove)
	if err != nil {
		return Requisition{}, err
	}
	now := time.Now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.CompareAndSwapStatus(ctx, id, req.Status, next); err != nil {
			return err
		}
		return tx.RecordHOApproval(ctx, id, approver, comments, now)
	})
	if err != nil {
		return Requisition{}, err
	}
	req.Status = next
	req.HOApprover = approver
	req.HOComments = comments
	req.HOApprovedAt = &now
	s.notify(ctx, notify.RoleRecipient(notify.RoleManagingDirector), notify.Notification{
		Type:    "requisition_forwarded",
		Message: fmt.Sprintf("Requisition %s forwarded for final approval", req.Number),
		Data:    map[string]any{"requisition_id": req.ID},
	})
	s.notify(ctx, notify.UserRecipient(req.RequestedBy), notify.Notification{
		Type:    "requisition_forwarded",
		Message: fmt.Sprintf("Requisition %s approved by operations and forwarded", req.Number),
	})
	s.recordAudit(ctx, "REQ_HO_APPROVE", id, map[string]any{"approver": approver})
	return req, nil
}

// HOReject terminates a pending requisition. The reason is mandatory.
func (s *Service) HOReject(ctx context.Context, id int64, approver int64, reason string) (Requisition, error) {
	return s.reject(ctx, id, approver, reason, EventHOReject, "REQ_HO_REJECT")
}

// MDApprove fully approves a forwarded requisition and spawns one purchase
// preparation per line item.
func (s *Service) MDApprove(ctx context.Context, id int64, approver int64, comments string) (Requisition, error) {
	req, next, err := s.prepare(ctx, id, EventMDApprove)
	if err != nil {
		return Requisition{}, err
	}
	now := time.Now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.CompareAndSwapStatus(ctx, id, req.Status, next); err != nil {
			return err
		}
		if err := tx.RecordMDApproval(ctx, id, approver, comments, now); err != nil {
			return err
		}
		if s.preparations != nil {
			approved := req
			approved.Status = next
			if err := s.preparations.SpawnPreparations(ctx, approved); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	req.Status = next
	req.MDApprover = approver
	req.MDComments = comments
	req.MDApprovedAt = &now
	s.notify(ctx, notify.UserRecipient(req.RequestedBy), notify.Notification{
		Type:    "requisition_approved",
		Message: fmt.Sprintf("Requisition %s fully approved", req.Number),
	})
	if req.HOApprover != 0 {
		s.notify(ctx, notify.UserRecipient(req.HOApprover), notify.Notification{
			Type:    "requisition_approved",
			Message: fmt.Sprintf("Requisition %s approved by managing director", req.Number),
		})
	}
	s.recordAudit(ctx, "REQ_MD_APPROVE", id, map[string]any{"approver": approver})
	return req, nil
}

// MDReject terminates a forwarded requisition.
func (s *Service) MDReject(ctx context.Context, id int64, approver int64, reason string) (Requisition, error) {
	return s.reject(ctx, id, approver, reason, EventMDReject, "REQ_MD_REJECT")
}

// Get returns the requisition with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Requisition, error) {
	return s.repo.GetRequisition(ctx, id)
}

func (s *Service) reject(ctx context.Context, id int64, actor int64, reason string, event Event, auditAction string) (Requisition, error) {
	if reason == "" {
		return Requisition{}, fmt.Errorf("requisition: rejection reason required: %w", shared.ErrValidation)
	}
	req, next, err := s.prepare(ctx, id, event)
	if err != nil {
		return Requisition{}, err
	}
	now := time.Now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.CompareAndSwapStatus(ctx, id, req.Status, next); err != nil {
			return err
		}
		return tx.RecordRejection(ctx, id, actor, reason, now)
	})
	if err != nil {
		return Requisition{}, err
	}
	req.Status = next
	req.RejectReason = reason
	req.RejectedAt = &now
	s.notify(ctx, notify.UserRecipient(req.RequestedBy), notify.Notification{
		Type:    "requisition_rejected",
		Message: fmt.Sprintf("Requisition %s rejected: %s", req.Number, reason),
	})
	if event == EventMDReject && req.HOApprover != 0 {
		s.notify(ctx, notify.UserRecipient(req.HOApprover), notify.Notification{
			Type:    "requisition_rejected",
			Message: fmt.Sprintf("Requisition %s rejected by managing director", req.Number),
		})
	}
	s.recordAudit(ctx, auditAction, id, map[string]any{"actor": actor, "reason": reason})
	return req, nil
}

// prepare loads the requisition and resolves the transition table.
func (s *Service) prepare(ctx context.Context, id int64, event Event) (Requisition, Status, error) {
	req, err := s.repo.GetRequisition(ctx, id)
	if err != nil {
		return Requisition{}, "", err
	}
	next, ok := NextStatus(req.Status, event)
	if !ok {
		return Requisition{}, "", fmt.Errorf("requisition %s: %s from %s: %w", req.Number, event, req.Status, shared.ErrInvalidState)
	}
	return req, next, nil
}

func (s *Service) notify(ctx context.Context, recipient notify.Recipient, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, recipient, n)
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "requisition", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
