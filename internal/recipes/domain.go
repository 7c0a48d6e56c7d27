package recipes

import (
	"fmt"
	"strings"
	"time"

	"github.com/sistemagestao/sistemagestao/internal/inventory"
	"github.com/sistemagestao/sistemagestao/internal/shared"
	"github.com/sistemagestao/sistemagestao/internal/units"
)

// Recipe is a named formula producing StandardYield units per batch.
type Recipe struct {
	ID             int64
	Name           string
	Description    string
	StandardYield  *float64
	SuggestedPrice *float64
	Ingredients    []Ingredient
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Yield returns the standard yield, 0 when unset.
func (r Recipe) Yield() float64 {
	if r.StandardYield == nil {
		return 0
	}
	return *r.StandardYield
}

// Ingredient is one per-batch requirement of a recipe. Older rows reference
// their product only by name and carry ProductID 0.
type Ingredient struct {
	ID          int64
	RecipeID    int64
	ProductID   int64
	ProductName string
	Quantity    float64
	Unit        units.Unit
	RawUnit     string
	Notes       string
}

// Line pairs an ingredient with its product as it was at load time.
type Line struct {
	Ingredient Ingredient
	Product    inventory.Product
}

// Snapshot is an immutable view of a recipe and its ingredient products.
type Snapshot struct {
	Recipe   Recipe
	Lines    []Line
	LoadedAt time.Time
}

// Clone returns a deep copy so callers never share slices or pointers.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Recipe: s.Recipe, LoadedAt: s.LoadedAt}
	out.Recipe.StandardYield = cloneFloat(s.Recipe.StandardYield)
	out.Recipe.SuggestedPrice = cloneFloat(s.Recipe.SuggestedPrice)
	if s.Recipe.Ingredients != nil {
		out.Recipe.Ingredients = append([]Ingredient(nil), s.Recipe.Ingredients...)
	}
	if s.Lines != nil {
		out.Lines = make([]Line, len(s.Lines))
		for i, l := range s.Lines {
			p := l.Product
			p.PurchasePrice = cloneFloat(p.PurchasePrice)
			p.SalePrice = cloneFloat(p.SalePrice)
			p.WeightPerUnit = cloneFloat(p.WeightPerUnit)
			out.Lines[i] = Line{Ingredient: l.Ingredient, Product: p}
		}
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// ErrRecipeNotFound is returned when a recipe id does not exist.
var ErrRecipeNotFound = fmt.Errorf("recipes: recipe %w", shared.ErrNotFound)

// ErrNoIngredients rejects recipes that would consume nothing.
var ErrNoIngredients = fmt.Errorf("recipes: recipe has no ingredients: %w", shared.ErrValidation)

// AmbiguousProductError is returned when a legacy ingredient name matches
// more than one product.
type AmbiguousProductError struct {
	Name       string
	Candidates []inventory.Product
}

func (e *AmbiguousProductError) Error() string {
	names := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		names = append(names, fmt.Sprintf("%s (#%d)", c.Name, c.ID))
	}
	return fmt.Sprintf("recipes: product name %q is ambiguous: %s", e.Name, strings.Join(names, ", "))
}

// Is lets errors.Is treat ambiguity as a validation failure.
func (e *AmbiguousProductError) Is(target error) bool {
	return target == shared.ErrValidation
}
