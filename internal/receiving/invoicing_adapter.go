package receiving

import (
	"context"

	"github.com/meridian-erp/meridian-procure/internal/invoicing"
)

// InvoicingAdapter exposes delivered quantities to the 3-way match.
type InvoicingAdapter struct {
	service *Service
}

// NewInvoicingAdapter wires the receiving service behind invoicing's
// receipt port.
func NewInvoicingAdapter(service *Service) *InvoicingAdapter {
	return &InvoicingAdapter{service: service}
}

// ReceiptLines returns the delivered quantity per material for a GRN.
func (a *InvoicingAdapter) ReceiptLines(ctx context.Context, grnID int64) ([]invoicing.ReceiptLine, error) {
	grn, err := a.service.GetGRN(ctx, grnID)
	if err != nil {
		return nil, err
	}
	lines := make([]invoicing.ReceiptLine, 0, len(grn.Items))
	for _, item := range grn.Items {
		lines = append(lines, invoicing.ReceiptLine{
			MaterialID:        item.MaterialID,
			DeliveredQuantity: item.DeliveredQuantity,
		})
	}
	return lines, nil
}
