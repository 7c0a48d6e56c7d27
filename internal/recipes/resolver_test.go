package recipes

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sistemagestao/sistemagestao/internal/inventory"
	"github.com/sistemagestao/sistemagestao/internal/shared"
	"github.com/sistemagestao/sistemagestao/internal/units"
)

type memoryRepo struct {
	recipes  map[int64]Recipe
	products map[int64]inventory.Product
	calls    atomic.Int32
	gate     chan struct{}
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{recipes: map[int64]Recipe{}, products: map[int64]inventory.Product{}}
}

func (m *memoryRepo) GetRecipe(_ context.Context, id int64) (Recipe, error) {
	m.calls.Add(1)
	if m.gate != nil {
		<-m.gate
	}
	rec, ok := m.recipes[id]
	if !ok {
		return Recipe{}, ErrRecipeNotFound
	}
	rec.Ingredients = append([]Ingredient(nil), rec.Ingredients...)
	return rec, nil
}

func (m *memoryRepo) GetProducts(_ context.Context, ids []int64) (map[int64]inventory.Product, error) {
	out := map[int64]inventory.Product{}
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *memoryRepo) FindProductsByName(_ context.Context, name string) ([]inventory.Product, error) {
	var out []inventory.Product
	for _, p := range m.products {
		if strings.EqualFold(p.Name, name) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func ptr(v float64) *float64 { return &v }

func seedBread(m *memoryRepo) {
	m.products[1] = inventory.Product{ID: 1, Name: "Flour", Unit: units.Kilogram, Quantity: 10, PurchasePrice: ptr(2)}
	m.products[2] = inventory.Product{ID: 2, Name: "Egg", Unit: units.Each, Quantity: 30, WeightPerUnit: ptr(0.05)}
	m.recipes[7] = Recipe{
		ID:            7,
		Name:          "Bread",
		StandardYield: ptr(12),
		Ingredients: []Ingredient{
			{ID: 1, RecipeID: 7, ProductID: 1, Quantity: 0.5, Unit: units.Kilogram},
			{ID: 2, RecipeID: 7, ProductName: "egg", Quantity: 2, Unit: units.Each},
		},
	}
}

func TestLoadAttachesProducts(t *testing.T) {
	repo := newMemoryRepo()
	seedBread(repo)
	r := NewResolver(repo, nil)

	snap, err := r.Load(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, "Bread", snap.Recipe.Name)
	require.Len(t, snap.Lines, 2)
	require.Equal(t, "Flour", snap.Lines[0].Product.Name)
	require.Equal(t, "Flour", snap.Lines[0].Ingredient.ProductName)
	require.Equal(t, int64(2), snap.Lines[1].Ingredient.ProductID)
	require.InDelta(t, 12.0, snap.Recipe.Yield(), 1e-9)
	require.False(t, snap.LoadedAt.IsZero())
}

func TestLoadErrors(t *testing.T) {
	repo := newMemoryRepo()
	seedBread(repo)
	repo.recipes[8] = Recipe{ID: 8, Name: "Empty"}
	repo.recipes[9] = Recipe{ID: 9, Name: "Ghost", Ingredients: []Ingredient{{ID: 3, ProductID: 42, Quantity: 1, Unit: units.Gram}}}
	repo.recipes[10] = Recipe{ID: 10, Name: "Unknown", Ingredients: []Ingredient{{ID: 4, ProductName: "Saffron", Quantity: 1, Unit: units.Gram}}}
	r := NewResolver(repo, nil)
	ctx := context.Background()

	_, err := r.Load(ctx, 99)
	require.ErrorIs(t, err, ErrRecipeNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = r.Load(ctx, 0)
	require.ErrorIs(t, err, ErrRecipeNotFound)

	_, err = r.Load(ctx, 8)
	require.ErrorIs(t, err, ErrNoIngredients)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = r.Load(ctx, 9)
	require.ErrorIs(t, err, inventory.ErrProductNotFound)

	_, err = r.Load(ctx, 10)
	require.ErrorIs(t, err, inventory.ErrProductNotFound)
}

func TestLoadAmbiguousName(t *testing.T) {
	repo := newMemoryRepo()
	repo.products[1] = inventory.Product{ID: 1, Name: "Sugar", Unit: units.Kilogram}
	repo.products[2] = inventory.Product{ID: 2, Name: "SUGAR", Unit: units.Gram}
	repo.recipes[1] = Recipe{ID: 1, Name: "Syrup", Ingredients: []Ingredient{{ID: 1, ProductName: "sugar", Quantity: 1, Unit: units.Kilogram}}}
	r := NewResolver(repo, nil)

	_, err := r.Load(context.Background(), 1)
	require.Error(t, err)
	require.True(t, IsAmbiguous(err))
	require.ErrorIs(t, err, shared.ErrValidation)

	var amb *AmbiguousProductError
	require.True(t, errors.As(err, &amb))
	require.Len(t, amb.Candidates, 2)
	require.Contains(t, err.Error(), "#1")
	require.Contains(t, err.Error(), "#2")
}

func TestLoadSharesFetchAndCopies(t *testing.T) {
	repo := newMemoryRepo()
	seedBread(repo)
	repo.gate = make(chan struct{})
	r := NewResolver(repo, nil)

	const n = 8
	var (
		wg    sync.WaitGroup
		snaps = make([]Snapshot, n)
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snaps[i], errs[i] = r.Load(context.Background(), 7)
		}(i)
	}
	require.Eventually(t, func() bool { return repo.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(repo.gate)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}
	require.LessOrEqual(t, repo.calls.Load(), int32(n))

	*snaps[0].Lines[0].Product.PurchasePrice = 999
	snaps[0].Lines[0].Ingredient.Quantity = 42
	require.InDelta(t, 2.0, *snaps[1].Lines[0].Product.PurchasePrice, 1e-9)
	require.InDelta(t, 0.5, snaps[1].Lines[0].Ingredient.Quantity, 1e-9)
}

func TestLoadHonoursCallerContext(t *testing.T) {
	repo := newMemoryRepo()
	seedBread(repo)
	repo.gate = make(chan struct{})
	defer close(repo.gate)
	r := NewResolver(repo, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Load(ctx, 7)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSnapshotClone(t *testing.T) {
	s := Snapshot{
		Recipe: Recipe{Name: "Cake", StandardYield: ptr(3), Ingredients: []Ingredient{{ID: 1}}},
		Lines:  []Line{{Product: inventory.Product{WeightPerUnit: ptr(0.2)}}},
	}
	c := s.Clone()
	*c.Recipe.StandardYield = 5
	c.Recipe.Ingredients[0].ID = 9
	*c.Lines[0].Product.WeightPerUnit = 1

	require.InDelta(t, 3.0, *s.Recipe.StandardYield, 1e-9)
	require.Equal(t, int64(1), s.Recipe.Ingredients[0].ID)
	require.InDelta(t, 0.2, *s.Lines[0].Product.WeightPerUnit, 1e-9)
}
