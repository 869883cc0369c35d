package procurement

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-procure/internal/invoicing"
)

// InvoicingAdapter exposes purchase order terms to the 3-way match.
type InvoicingAdapter struct {
	service *Service
}

// NewInvoicingAdapter wires the procurement service behind invoicing's
// order port.
func NewInvoicingAdapter(service *Service) *InvoicingAdapter {
	return &InvoicingAdapter{service: service}
}

// OrderTerms returns the committed quantity and price for a purchase order.
func (a *InvoicingAdapter) OrderTerms(ctx context.Context, poID int64) (invoicing.OrderTerms, error) {
	po, err := a.service.GetPO(ctx, poID)
	if err != nil {
		return invoicing.OrderTerms{}, err
	}
	return invoicing.OrderTerms{
		MaterialID: po.MaterialID,
		Quantity:   po.Quantity,
		UnitPrice:  decimal.NewFromFloat(po.UnitPrice),
	}, nil
}
