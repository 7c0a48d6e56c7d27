package production

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/sistemagestao/sistemagestao/internal/inventory"
	"github.com/sistemagestao/sistemagestao/internal/recipes"
	"github.com/sistemagestao/sistemagestao/internal/units"
)

// Fallback reasons reported when a conversion passes the value through.
const (
	FallbackIncompatible  = "incompatible_families"
	FallbackMissingWeight = "missing_weight"
	FallbackBridgeError   = "bridge_error"
)

// conversion is the outcome of converting a quantity into a product's unit.
type conversion struct {
	value    float64
	fallback string
}

// convertForProduct expresses v (in unit from) in p's unit. Units of the same
// family convert by factor. Count against mass or volume is bridged with the
// product's weight per unit, quoted in KG or L per count unit. Anything else
// passes v through unchanged and reports why.
func convertForProduct(from units.Unit, v float64, p inventory.Product) conversion {
	to := p.Unit
	if units.Convertible(from, to) {
		return conversion{value: units.Convert(from, to, v)}
	}
	direct := units.Convert(from, to, v)
	if from.IsCount() == to.IsCount() || !(from.Measurable() || to.Measurable()) {
		return conversion{value: direct, fallback: FallbackIncompatible}
	}
	wpu, ok := p.WeightFactor()
	if !ok {
		return conversion{value: direct, fallback: FallbackMissingWeight}
	}
	out, err := bridge(from, to, v, wpu)
	if err != nil {
		return conversion{value: direct, fallback: FallbackBridgeError}
	}
	return conversion{value: out}
}

func bridge(from, to units.Unit, v, wpu float64) (out float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("production: bridge %s to %s: %v", from, to, r)
		}
	}()
	if from.IsCount() {
		perUnit := units.ToBase(units.BulkUnit(to.Family()), wpu)
		out = units.FromBase(to, v*perUnit)
	} else {
		perUnit := units.ToBase(units.BulkUnit(from.Family()), wpu)
		out = units.ToBase(from, v) / perUnit
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, errNonFinite
	}
	return out, nil
}

// requirement is the aggregated stock needed from one product.
type requirement struct {
	product  inventory.Product
	quantity float64
	cost     float64
}

// plan converts every ingredient of snap for the given batch count, sums
// requirements per product and prices them. The result is ordered by
// product id.
func (s *Service) plan(snap recipes.Snapshot, batches int) ([]requirement, float64) {
	byProduct := make(map[int64]*requirement, len(snap.Lines))
	for _, line := range snap.Lines {
		ing := line.Ingredient
		required := ing.Quantity * float64(batches)
		conv := convertForProduct(ing.Unit, required, line.Product)
		if conv.fallback != "" {
			s.reportFallback(conv.fallback,
				slog.Int64("recipe_id", snap.Recipe.ID),
				slog.Int64("product_id", line.Product.ID),
				slog.String("from", string(ing.Unit)),
				slog.String("to", string(line.Product.Unit)))
		}
		req, ok := byProduct[line.Product.ID]
		if !ok {
			req = &requirement{product: line.Product}
			byProduct[line.Product.ID] = req
		}
		req.quantity += conv.value
		req.cost += conv.value * line.Product.Price()
	}

	out := make([]requirement, 0, len(byProduct))
	for _, req := range byProduct {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].product.ID < out[j].product.ID })
	total := 0.0
	for _, req := range out {
		total += req.cost
	}
	return out, total
}

func (s *Service) reportFallback(reason string, attrs ...any) {
	s.logger.Warn("unit conversion fell back to pass-through", append([]any{slog.String("reason", reason)}, attrs...)...)
	s.metrics.ObserveConversionFallback(reason)
}
