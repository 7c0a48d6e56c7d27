package production

import (
	"context"
	"time"
)

// ConsumptionEvent is one ingredient debit of a registered production.
type ConsumptionEvent struct {
	ProductID int64   `json:"productId"`
	Qty       float64 `json:"qty"`
	Unit      string  `json:"unit"`
	Cost      float64 `json:"cost"`
}

// OutputEvent is one result credit of a registered production.
type OutputEvent struct {
	ProductID int64   `json:"productId"`
	Qty       float64 `json:"qty"`
}

// RegisteredEvent is emitted after a production commits.
type RegisteredEvent struct {
	ID          int64              `json:"id"`
	Ref         string             `json:"ref"`
	RecipeID    int64              `json:"recipeId"`
	Batches     int                `json:"batches"`
	TotalCost   float64            `json:"totalCost"`
	ProducedAt  time.Time          `json:"producedAt"`
	Actor       string             `json:"actor"`
	Consumption []ConsumptionEvent `json:"consumption"`
	Outputs     []OutputEvent      `json:"outputs"`
}

// IntegrationHandler receives production events for downstream processing.
type IntegrationHandler interface {
	HandleProductionRegistered(ctx context.Context, evt RegisteredEvent) error
}

func newRegisteredEvent(p Production, actor string) RegisteredEvent {
	evt := RegisteredEvent{
		ID:         p.ID,
		Ref:        p.Ref,
		RecipeID:   p.RecipeID,
		Batches:    p.Batches,
		TotalCost:  p.TotalCost,
		ProducedAt: p.ProducedAt,
		Actor:      actor,
	}
	for _, c := range p.Consumption {
		evt.Consumption = append(evt.Consumption, ConsumptionEvent{ProductID: c.ProductID, Qty: c.Quantity, Unit: string(c.Unit), Cost: c.Cost})
	}
	for _, r := range p.Results {
		if r.Credited > 0 {
			evt.Outputs = append(evt.Outputs, OutputEvent{ProductID: r.ProductID, Qty: r.Credited})
		}
	}
	return evt
}
