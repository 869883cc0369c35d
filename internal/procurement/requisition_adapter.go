package procurement

import (
	"context"

	"github.com/meridian-erp/meridian-procure/internal/requisition"
)

// RequisitionAdapter satisfies requisition.PreparationPort.
type RequisitionAdapter struct {
	service *Service
}

// NewRequisitionAdapter wires the procurement service behind the
// requisition state machine's preparation hook.
func NewRequisitionAdapter(service *Service) *RequisitionAdapter {
	return &RequisitionAdapter{service: service}
}

// SpawnPreparations converts an approved requisition into preparation rows.
func (a *RequisitionAdapter) SpawnPreparations(ctx context.Context, req requisition.Requisition) error {
	input := SpawnInput{
		RequestID:   req.ID,
		RequestType: string(req.Type),
	}
	for _, item := range req.Items {
		input.Lines = append(input.Lines, SpawnLine{
			MaterialID:   item.MaterialID,
			MaterialName: item.MaterialName,
			Quantity:     item.RequestedQuantity,
			Unit:         item.Unit,
		})
	}
	return a.service.SpawnPreparations(ctx, input)
}
