package production

import (
	"errors"
	"fmt"
	"time"

	"github.com/sistemagestao/sistemagestao/internal/shared"
	"github.com/sistemagestao/sistemagestao/internal/units"
)

// State tracks a registration through its gates.
type State string

const (
	// StateValidated means the request passed structural validation.
	StateValidated State = "VALIDATED"
	// StateCostComputed means requirements and cost were derived from the recipe.
	StateCostComputed State = "COST_COMPUTED"
	// StateStockChecked means every requirement is covered by live stock.
	StateStockChecked State = "STOCK_CHECKED"
	// StateCommitted is terminal: stock moved and the record persisted.
	StateCommitted State = "COMMITTED"
	// StateRejected is terminal: nothing was changed.
	StateRejected State = "REJECTED"
)

// RefModule tags stock movements posted by productions.
const RefModule = "PRODUCTION"

// Production is the immutable record of one recipe execution.
type Production struct {
	ID               int64
	Ref              string
	RecipeID         int64
	RecipeName       string
	Batches          int
	QuantityProduced int
	TotalCost        float64
	EstimatedProfit  float64
	StockDiscounted  bool
	Notes            string
	ProducedAt       time.Time
	State            State
	Results          []Result
	Consumption      []Consumption
}

// Result is one declared output credited to stock.
type Result struct {
	ID           int64
	ProductionID int64
	ProductID    int64
	ProductName  string
	Quantity     float64
	Unit         units.Unit
	// Credited is the amount added to the product, in the product's unit.
	Credited float64
	Notes    string
}

// Consumption is the aggregated debit applied to one ingredient product.
type Consumption struct {
	ProductID   int64      `json:"productId"`
	ProductName string     `json:"productName"`
	Unit        units.Unit `json:"unit"`
	Quantity    float64    `json:"quantity"`
	Cost        float64    `json:"cost"`
}

// ResultInput declares an output in a registration request.
type ResultInput struct {
	ProductID int64   `json:"productId" validate:"required,gt=0"`
	Quantity  float64 `json:"quantity" validate:"gte=0"`
	Unit      string  `json:"unit" validate:"required"`
	Notes     string  `json:"notes" validate:"max=500"`
}

// Request asks for a production to be registered. When Results is empty the
// request is in batch mode and Batches must be positive; otherwise Batches
// defaults to 1.
type Request struct {
	RecipeID         int64         `json:"recipeId" validate:"required,gt=0"`
	Batches          int           `json:"batches" validate:"gte=0"`
	QuantityProduced int           `json:"quantityProduced" validate:"gte=0"`
	Results          []ResultInput `json:"results" validate:"omitempty,dive"`
	Notes            string        `json:"notes" validate:"max=1000"`
	IdempotencyKey   string        `json:"idempotencyKey" validate:"omitempty,max=128"`
	Actor            string        `json:"-"`
}

// EstimateItem is one ad-hoc line of a cost estimate.
type EstimateItem struct {
	ProductID int64   `json:"productId" validate:"required,gt=0"`
	Quantity  float64 `json:"quantity" validate:"gt=0"`
	Unit      string  `json:"unit" validate:"required"`
}

// EstimateRequest simulates the cost of a set of ingredients.
type EstimateRequest struct {
	Items         []EstimateItem `json:"items" validate:"required,min=1,dive"`
	MarginPercent *float64       `json:"marginPercent" validate:"omitempty,gte=0"`
	Portions      int            `json:"portions" validate:"gte=0"`
}

// EstimateLine is the costed form of an EstimateItem.
type EstimateLine struct {
	ProductID   int64
	ProductName string
	Quantity    float64
	Unit        units.Unit
	Converted   float64
	ProductUnit units.Unit
	UnitPrice   float64
	Cost        float64
}

// Estimate is the outcome of EstimateCost.
type Estimate struct {
	Lines          []EstimateLine
	TotalCost      float64
	SuggestedPrice *float64
	CostPerPortion *float64
}

// ErrProductionNotFound is returned when a production id does not exist.
var ErrProductionNotFound = fmt.Errorf("production: production %w", shared.ErrNotFound)

// ErrBatchesRequired rejects batch-mode requests without a positive batch count.
var ErrBatchesRequired = fmt.Errorf("production: batches must be greater than zero: %w", shared.ErrValidation)

// ErrInvalidUnit rejects result units that cannot be recognised.
var ErrInvalidUnit = fmt.Errorf("production: unknown unit: %w", shared.ErrValidation)

var errNonFinite = errors.New("production: conversion produced a non-finite value")
