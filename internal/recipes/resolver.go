package recipes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sistemagestao/sistemagestao/internal/inventory"
)

// RepositoryPort abstracts recipe and product lookups.
type RepositoryPort interface {
	GetRecipe(ctx context.Context, id int64) (Recipe, error)
	GetProducts(ctx context.Context, ids []int64) (map[int64]inventory.Product, error)
	FindProductsByName(ctx context.Context, name string) ([]inventory.Product, error)
}

// Resolver loads recipe snapshots. Concurrent loads of the same recipe share
// a single fetch.
type Resolver struct {
	repo   RepositoryPort
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewResolver builds Resolver.
func NewResolver(repo RepositoryPort, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Load returns the recipe with every ingredient's product attached. Each
// caller gets its own copy.
func (r *Resolver) Load(ctx context.Context, id int64) (Snapshot, error) {
	if id <= 0 {
		return Snapshot{}, ErrRecipeNotFound
	}
	ch := r.group.DoChan(strconv.FormatInt(id, 10), func() (any, error) {
		return r.load(context.WithoutCancel(ctx), id)
	})
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot).Clone(), nil
	}
}

func (r *Resolver) load(ctx context.Context, id int64) (Snapshot, error) {
	recipe, err := r.repo.GetRecipe(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	if len(recipe.Ingredients) == 0 {
		return Snapshot{}, ErrNoIngredients
	}

	ids := make([]int64, 0, len(recipe.Ingredients))
	for _, ing := range recipe.Ingredients {
		if ing.ProductID != 0 {
			ids = append(ids, ing.ProductID)
		}
	}
	products, err := r.repo.GetProducts(ctx, ids)
	if err != nil {
		return Snapshot{}, fmt.Errorf("recipes: load products: %w", err)
	}

	lines := make([]Line, 0, len(recipe.Ingredients))
	for i, ing := range recipe.Ingredients {
		var p inventory.Product
		if ing.ProductID != 0 {
			found, ok := products[ing.ProductID]
			if !ok {
				return Snapshot{}, fmt.Errorf("recipes: ingredient %d of recipe %d: %w", ing.ID, id, inventory.ErrProductNotFound)
			}
			p = found
		} else {
			p, err = r.byName(ctx, ing.ProductName)
			if err != nil {
				return Snapshot{}, err
			}
			recipe.Ingredients[i].ProductID = p.ID
			ing.ProductID = p.ID
		}
		if ing.ProductName == "" {
			recipe.Ingredients[i].ProductName = p.Name
			ing.ProductName = p.Name
		}
		if ing.RawUnit != "" {
			r.logger.Warn("legacy ingredient unit normalised",
				slog.Int64("recipe_id", id),
				slog.Int64("ingredient_id", ing.ID),
				slog.String("raw", ing.RawUnit),
				slog.String("unit", string(ing.Unit)))
		}
		lines = append(lines, Line{Ingredient: ing, Product: p})
	}
	return Snapshot{Recipe: recipe, Lines: lines, LoadedAt: r.now()}, nil
}

func (r *Resolver) byName(ctx context.Context, name string) (inventory.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return inventory.Product{}, fmt.Errorf("recipes: ingredient without product: %w", inventory.ErrProductNotFound)
	}
	matches, err := r.repo.FindProductsByName(ctx, name)
	if err != nil {
		return inventory.Product{}, err
	}
	switch len(matches) {
	case 0:
		return inventory.Product{}, fmt.Errorf("recipes: product %q: %w", name, inventory.ErrProductNotFound)
	case 1:
		return matches[0], nil
	default:
		return inventory.Product{}, &AmbiguousProductError{Name: name, Candidates: matches}
	}
}

// IsAmbiguous reports whether err carries an AmbiguousProductError.
func IsAmbiguous(err error) bool {
	var amb *AmbiguousProductError
	return errors.As(err, &amb)
}
