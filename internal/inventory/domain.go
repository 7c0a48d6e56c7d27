package inventory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sistemagestao/sistemagestao/internal/shared"
	"github.com/sistemagestao/sistemagestao/internal/units"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIn represents an inbound movement.
	MovementIn MovementType = "IN"
	// MovementOut represents an outbound movement.
	MovementOut MovementType = "OUT"
)

// Product is the stock-bearing row owned by the inventory subsystem.
type Product struct {
	ID   int64
	Name string
	Unit units.Unit
	// RawUnit keeps the stored text when it had to be normalised.
	RawUnit       string
	Quantity      float64
	PurchasePrice *float64
	SalePrice     *float64
	WeightPerUnit *float64
	UpdatedAt     time.Time
}

// Price returns the purchase price, 0 when unset.
func (p Product) Price() float64 {
	if p.PurchasePrice == nil {
		return 0
	}
	return *p.PurchasePrice
}

// WeightFactor returns the weight per unit when usable for bridging.
func (p Product) WeightFactor() (float64, bool) {
	if p.WeightPerUnit == nil || *p.WeightPerUnit <= 0 {
		return 0, false
	}
	return *p.WeightPerUnit, true
}

// Movement models one stock card line.
type Movement struct {
	ID            int64
	ProductID     int64
	Type          MovementType
	Qty           float64
	BalanceBefore float64
	BalanceAfter  float64
	RefModule     string
	RefID         string
	Note          string
	PostedAt      time.Time
}

// MovementInput describes a debit or credit request.
type MovementInput struct {
	ProductID int64
	Qty       float64
	RefModule string
	RefID     string
	Note      string
	Actor     string
}

// MovementFilter filters stock card entries.
type MovementFilter struct {
	ProductID int64
	From      time.Time
	To        time.Time
	Limit     int
}

// ErrProductNotFound is returned when a referenced product does not exist.
var ErrProductNotFound = fmt.Errorf("inventory: product %w", shared.ErrNotFound)

// ErrInvalidQuantity indicates a non-positive movement amount.
var ErrInvalidQuantity = errors.New("inventory: quantity must be greater than zero")

// ErrInsufficientStock matches every InsufficientStockError via errors.Is.
var ErrInsufficientStock = errors.New("inventory: insufficient stock")

// Shortage reports one product that cannot cover its requirement.
type Shortage struct {
	ProductID   int64
	ProductName string
	Unit        units.Unit
	Available   float64
	Required    float64
}

// InsufficientStockError lists every product short of stock.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s: available %.2f %s, required %.2f %s",
			s.ProductName, s.Available, s.Unit, s.Required, s.Unit))
	}
	return "inventory: insufficient stock of " + strings.Join(parts, "; ")
}

// Is lets errors.Is match ErrInsufficientStock and shared.ErrConflict.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock || target == shared.ErrConflict
}

// CheckAvailability returns a shortage when required exceeds the product's
// quantity. The comparison is exact.
func CheckAvailability(p Product, required float64) (Shortage, bool) {
	if required > p.Quantity {
		return Shortage{
			ProductID:   p.ID,
			ProductName: p.Name,
			Unit:        p.Unit,
			Available:   p.Quantity,
			Required:    required,
		}, true
	}
	return Shortage{}, false
}
