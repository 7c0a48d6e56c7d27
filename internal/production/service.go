package production

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sistemagestao/sistemagestao/internal/inventory"
	"github.com/sistemagestao/sistemagestao/internal/observability"
	"github.com/sistemagestao/sistemagestao/internal/recipes"
	"github.com/sistemagestao/sistemagestao/internal/shared"
	"github.com/sistemagestao/sistemagestao/internal/units"
)

const idempotencyModule = "production"

// ErrProductChanged is returned when a product's unit changes between recipe
// load and stock lock.
var ErrProductChanged = fmt.Errorf("production: product changed during registration: %w", shared.ErrConflict)

// RepositoryPort abstracts production persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Production, error)
	ListByRecipe(ctx context.Context, recipeID int64) ([]Production, error)
	List(ctx context.Context, limit int) ([]Production, error)
}

// TxRepository extends the stock ledger's transactional operations with
// production writes so both commit together.
type TxRepository interface {
	inventory.TxRepository
	InsertProduction(ctx context.Context, p Production) (int64, error)
	InsertResult(ctx context.Context, r Result) (int64, error)
}

// RecipeLoader resolves recipe snapshots.
type RecipeLoader interface {
	Load(ctx context.Context, id int64) (recipes.Snapshot, error)
}

// ProductReader loads products for cost estimates.
type ProductReader interface {
	GetProducts(ctx context.Context, ids []int64) (map[int64]inventory.Product, error)
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims and releases request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MetricsPort receives production metrics.
type MetricsPort interface {
	ObserveProduction(outcome string)
	ObserveConversionFallback(reason string)
	ObserveLockWait(d time.Duration)
}

// Deps groups the collaborators of Service. Repo, Recipes and Products are
// required.
type Deps struct {
	Repo        RepositoryPort
	Recipes     RecipeLoader
	Products    ProductReader
	Locker      shared.Locker
	Audit       AuditPort
	Idempotency IdempotencyPort
	Integration IntegrationHandler
	Metrics     MetricsPort
	Logger      *slog.Logger
}

// Service registers productions and answers production queries.
type Service struct {
	repo        RepositoryPort
	recipes     RecipeLoader
	products    ProductReader
	locker      shared.Locker
	audit       AuditPort
	idem        IdempotencyPort
	integration IntegrationHandler
	metrics     MetricsPort
	logger      *slog.Logger
	validate    *validator.Validate
	now         func() time.Time
}

// NewService builds Service.
func NewService(deps Deps) *Service {
	s := &Service{
		repo:        deps.Repo,
		recipes:     deps.Recipes,
		products:    deps.Products,
		locker:      deps.Locker,
		audit:       deps.Audit,
		idem:        deps.Idempotency,
		integration: deps.Integration,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		validate:    validator.New(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	if s.locker == nil {
		s.locker = shared.NewKeyedMutex()
	}
	if s.metrics == nil {
		s.metrics = (*observability.Metrics)(nil)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Register validates req, checks every ingredient against live stock and,
// when all are covered, debits ingredients, credits results and persists the
// production in one transaction. Nothing changes on any error.
func (s *Service) Register(ctx context.Context, req Request) (Production, error) {
	prod, err := s.register(ctx, req)
	switch {
	case err == nil:
		s.metrics.ObserveProduction(observability.OutcomeCommitted)
	case errors.Is(err, inventory.ErrInsufficientStock):
		s.metrics.ObserveProduction(observability.OutcomeInsufficientStock)
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrIdempotencyConflict), errors.Is(err, shared.ErrConflict):
		s.metrics.ObserveProduction(observability.OutcomeRejected)
	default:
		s.metrics.ObserveProduction(observability.OutcomeFailed)
	}
	return prod, err
}

func (s *Service) register(ctx context.Context, req Request) (prod Production, err error) {
	state := StateRejected
	defer func() {
		if err != nil {
			s.logger.Info("production rejected",
				slog.Int64("recipe_id", req.RecipeID),
				slog.String("last_state", string(state)),
				slog.Any("error", err))
		}
	}()

	batches, results, err := s.check(req)
	if err != nil {
		return Production{}, err
	}
	state = StateValidated

	if req.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, req.IdempotencyKey, idempotencyModule); err != nil {
			return Production{}, err
		}
		defer func() {
			if err == nil {
				return
			}
			if delErr := s.idem.Delete(context.WithoutCancel(ctx), req.IdempotencyKey); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", req.IdempotencyKey), slog.Any("error", delErr))
			}
		}()
	}

	snap, err := s.recipes.Load(ctx, req.RecipeID)
	if err != nil {
		return Production{}, err
	}
	reqs, totalCost := s.plan(snap, batches)
	produced := req.QuantityProduced
	if produced == 0 {
		produced = int(math.Round(float64(batches) * snap.Recipe.Yield()))
	}
	prod = Production{
		Ref:              uuid.NewString(),
		RecipeID:         snap.Recipe.ID,
		RecipeName:       snap.Recipe.Name,
		Batches:          batches,
		QuantityProduced: produced,
		TotalCost:        totalCost,
		EstimatedProfit:  0,
		Notes:            req.Notes,
		ProducedAt:       s.now(),
	}
	state = StateCostComputed

	ids := touchedProducts(reqs, results)
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, shared.ProductLockKey(id))
	}
	start := time.Now()
	unlock, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return Production{}, err
	}
	defer unlock()
	s.metrics.ObserveLockWait(time.Since(start))

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		live := make(map[int64]inventory.Product, len(ids))
		for _, id := range ids {
			p, err := tx.GetProductForUpdate(ctx, id)
			if err != nil {
				return err
			}
			live[id] = p
		}

		var shortages []inventory.Shortage
		for _, r := range reqs {
			p := live[r.product.ID]
			if p.Unit != r.product.Unit {
				return fmt.Errorf("%w: product %d unit %s, recipe loaded with %s", ErrProductChanged, p.ID, p.Unit, r.product.Unit)
			}
			if shortage, short := inventory.CheckAvailability(p, r.quantity); short {
				shortages = append(shortages, shortage)
			}
		}
		if len(shortages) > 0 {
			return &inventory.InsufficientStockError{Shortages: shortages}
		}
		state = StateStockChecked

		note := fmt.Sprintf("production %s of %s", prod.Ref, prod.RecipeName)
		for _, r := range reqs {
			p := live[r.product.ID]
			prod.Consumption = append(prod.Consumption, Consumption{
				ProductID:   p.ID,
				ProductName: p.Name,
				Unit:        p.Unit,
				Quantity:    r.quantity,
				Cost:        r.cost,
			})
			if r.quantity <= 0 {
				continue
			}
			if _, err := inventory.DebitTx(ctx, tx, inventory.MovementInput{
				ProductID: p.ID,
				Qty:       r.quantity,
				RefModule: RefModule,
				RefID:     prod.Ref,
				Note:      note,
				Actor:     req.Actor,
			}, prod.ProducedAt); err != nil {
				return err
			}
		}

		for i := range results {
			res := &results[i]
			p := live[res.ProductID]
			res.ProductName = p.Name
			conv := convertForProduct(res.Unit, res.Quantity, p)
			if conv.fallback != "" {
				s.reportFallback(conv.fallback,
					slog.Int64("product_id", p.ID),
					slog.String("from", string(res.Unit)),
					slog.String("to", string(p.Unit)))
			}
			if conv.value <= 0 {
				continue
			}
			res.Credited = conv.value
			if _, err := inventory.CreditTx(ctx, tx, inventory.MovementInput{
				ProductID: p.ID,
				Qty:       conv.value,
				RefModule: RefModule,
				RefID:     prod.Ref,
				Note:      note,
				Actor:     req.Actor,
			}, prod.ProducedAt); err != nil {
				return err
			}
		}

		prod.StockDiscounted = true
		id, err := tx.InsertProduction(ctx, prod)
		if err != nil {
			return err
		}
		prod.ID = id
		for i := range results {
			results[i].ProductionID = id
			rid, err := tx.InsertResult(ctx, results[i])
			if err != nil {
				return err
			}
			results[i].ID = rid
		}
		prod.Results = results
		return nil
	})
	if err != nil {
		return Production{}, err
	}
	prod.State = StateCommitted
	state = StateCommitted

	s.logger.Info("production registered",
		slog.Int64("production_id", prod.ID),
		slog.String("ref", prod.Ref),
		slog.Int64("recipe_id", prod.RecipeID),
		slog.Int("batches", prod.Batches),
		slog.Float64("total_cost", prod.TotalCost))
	s.afterCommit(ctx, prod, req.Actor)
	return prod, nil
}

func (s *Service) afterCommit(ctx context.Context, prod Production, actor string) {
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "production:register",
			Entity:   "production",
			EntityID: fmt.Sprintf("%d", prod.ID),
			Meta: map[string]any{
				"ref":        prod.Ref,
				"recipe_id":  prod.RecipeID,
				"batches":    prod.Batches,
				"total_cost": prod.TotalCost,
			},
		}); err != nil {
			s.logger.Warn("audit production", slog.Any("error", err))
		}
	}
	if s.integration != nil {
		if err := s.integration.HandleProductionRegistered(ctx, newRegisteredEvent(prod, actor)); err != nil {
			s.logger.Warn("publish production event", slog.Int64("production_id", prod.ID), slog.Any("error", err))
		}
	}
}

// check validates req and returns the effective batch count and the results
// with parsed units.
func (s *Service) check(req Request) (int, []Result, error) {
	if err := s.validate.Struct(req); err != nil {
		return 0, nil, validationError(err)
	}
	batches := req.Batches
	if len(req.Results) == 0 {
		if batches <= 0 {
			return 0, nil, ErrBatchesRequired
		}
		return batches, nil, nil
	}
	if batches == 0 {
		batches = 1
	}
	results := make([]Result, 0, len(req.Results))
	for _, in := range req.Results {
		u, err := parseUnit(in.Unit)
		if err != nil {
			return 0, nil, err
		}
		results = append(results, Result{ProductID: in.ProductID, Quantity: in.Quantity, Unit: u, Notes: in.Notes})
	}
	return batches, results, nil
}

// Get returns a production with its results and consumption.
func (s *Service) Get(ctx context.Context, id int64) (Production, error) {
	if id <= 0 {
		return Production{}, ErrProductionNotFound
	}
	return s.repo.Get(ctx, id)
}

// ListByRecipe returns a recipe's productions, newest first.
func (s *Service) ListByRecipe(ctx context.Context, recipeID int64) ([]Production, error) {
	if recipeID <= 0 {
		return nil, fmt.Errorf("production: recipe required: %w", shared.ErrValidation)
	}
	return s.repo.ListByRecipe(ctx, recipeID)
}

// List returns the most recent productions across recipes, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Production, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.List(ctx, limit)
}

// EstimateCost prices an ad-hoc ingredient list without touching stock.
func (s *Service) EstimateCost(ctx context.Context, req EstimateRequest) (Estimate, error) {
	if err := s.validate.Struct(req); err != nil {
		return Estimate{}, validationError(err)
	}
	ids := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.GetProducts(ctx, ids)
	if err != nil {
		return Estimate{}, err
	}

	var est Estimate
	for _, item := range req.Items {
		p, ok := products[item.ProductID]
		if !ok {
			return Estimate{}, fmt.Errorf("production: estimate product %d: %w", item.ProductID, inventory.ErrProductNotFound)
		}
		u, err := parseUnit(item.Unit)
		if err != nil {
			return Estimate{}, err
		}
		conv := convertForProduct(u, item.Quantity, p)
		if conv.fallback != "" {
			s.reportFallback(conv.fallback,
				slog.Int64("product_id", p.ID),
				slog.String("from", string(u)),
				slog.String("to", string(p.Unit)))
		}
		line := EstimateLine{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    item.Quantity,
			Unit:        u,
			Converted:   conv.value,
			ProductUnit: p.Unit,
			UnitPrice:   p.Price(),
			Cost:        conv.value * p.Price(),
		}
		est.Lines = append(est.Lines, line)
		est.TotalCost += line.Cost
	}
	if req.MarginPercent != nil {
		price := est.TotalCost * (1 + *req.MarginPercent/100)
		est.SuggestedPrice = &price
	}
	if req.Portions > 0 {
		per := est.TotalCost / float64(req.Portions)
		est.CostPerPortion = &per
	}
	return est, nil
}

func touchedProducts(reqs []requirement, results []Result) []int64 {
	seen := make(map[int64]struct{}, len(reqs)+len(results))
	ids := make([]int64, 0, len(reqs)+len(results))
	add := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, r := range reqs {
		add(r.product.ID)
	}
	for _, r := range results {
		add(r.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func parseUnit(s string) (units.Unit, error) {
	u, ok := units.Normalize(s)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidUnit, s)
	}
	return u, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("production: invalid request (%s): %w", strings.Join(fields, "; "), shared.ErrValidation)
	}
	return fmt.Errorf("production: %v: %w", err, shared.ErrValidation)
}
