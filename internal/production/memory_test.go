package production

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sistemagestao/sistemagestao/internal/inventory"
	"github.com/sistemagestao/sistemagestao/internal/inventory/inventorytest"
	"github.com/sistemagestao/sistemagestao/internal/recipes"
	"github.com/sistemagestao/sistemagestao/internal/shared"
)

type memoryRepo struct {
	store       *inventorytest.Store
	mu          sync.Mutex
	productions []Production
	nextID      int64
	failInsert  error
}

type memoryTx struct {
	*inventorytest.Tx
	repo        *memoryRepo
	productions []Production
	results     []Result
}

func newMemoryRepo(store *inventorytest.Store) *memoryRepo {
	return &memoryRepo{store: store}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{Tx: r.store.Begin(), repo: r}
	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	tx.Commit()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range tx.productions {
		for _, res := range tx.results {
			if res.ProductionID == p.ID {
				p.Results = append(p.Results, res)
			}
		}
		p.State = StateCommitted
		r.productions = append(r.productions, p)
	}
	return nil
}

func (tx *memoryTx) InsertProduction(_ context.Context, p Production) (int64, error) {
	if tx.repo.failInsert != nil {
		return 0, tx.repo.failInsert
	}
	tx.repo.mu.Lock()
	tx.repo.nextID++
	p.ID = tx.repo.nextID
	tx.repo.mu.Unlock()
	p.Results = nil
	p.Consumption = append([]Consumption(nil), p.Consumption...)
	tx.productions = append(tx.productions, p)
	return p.ID, nil
}

func (tx *memoryTx) InsertResult(_ context.Context, res Result) (int64, error) {
	res.ID = int64(len(tx.results) + 1)
	tx.results = append(tx.results, res)
	return res.ID, nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (Production, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.productions {
		if p.ID == id {
			return p, nil
		}
	}
	return Production{}, ErrProductionNotFound
}

func (r *memoryRepo) ListByRecipe(_ context.Context, recipeID int64) ([]Production, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Production
	for _, p := range r.productions {
		if p.RecipeID == recipeID {
			out = append(out, p)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *memoryRepo) List(_ context.Context, limit int) ([]Production, error) {
	r.mu.Lock()
	out := append([]Production(nil), r.productions...)
	r.mu.Unlock()
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.productions)
}

func sortNewestFirst(list []Production) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].ProducedAt.Equal(list[j].ProducedAt) {
			return list[i].ProducedAt.After(list[j].ProducedAt)
		}
		return list[i].ID > list[j].ID
	})
}

// recipeRepo serves recipes and reads products from the shared stock store.
type recipeRepo struct {
	store   *inventorytest.Store
	recipes map[int64]recipes.Recipe
}

func (r *recipeRepo) GetRecipe(_ context.Context, id int64) (recipes.Recipe, error) {
	rec, ok := r.recipes[id]
	if !ok {
		return recipes.Recipe{}, recipes.ErrRecipeNotFound
	}
	rec.Ingredients = append([]recipes.Ingredient(nil), rec.Ingredients...)
	return rec, nil
}

func (r *recipeRepo) GetProducts(ctx context.Context, ids []int64) (map[int64]inventory.Product, error) {
	out := make(map[int64]inventory.Product, len(ids))
	for _, id := range ids {
		p, err := r.store.GetProduct(ctx, id)
		if errors.Is(err, inventory.ErrProductNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

func (r *recipeRepo) FindProductsByName(_ context.Context, name string) ([]inventory.Product, error) {
	var out []inventory.Product
	for _, p := range r.store.Products() {
		if strings.EqualFold(p.Name, name) {
			out = append(out, p)
		}
	}
	return out, nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type auditRecorder struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *auditRecorder) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []RegisteredEvent
}

func (e *eventRecorder) HandleProductionRegistered(_ context.Context, evt RegisteredEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
	return nil
}

type metricsRecorder struct {
	mu        sync.Mutex
	outcomes  map[string]int
	fallbacks map[string]int
}

func newMetricsRecorder() *metricsRecorder {
	return &metricsRecorder{outcomes: map[string]int{}, fallbacks: map[string]int{}}
}

func (m *metricsRecorder) ObserveProduction(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *metricsRecorder) ObserveConversionFallback(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks[reason]++
}

func (m *metricsRecorder) ObserveLockWait(time.Duration) {}
