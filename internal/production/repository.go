package production

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sistemagestao/sistemagestao/internal/inventory"
	"github.com/sistemagestao/sistemagestao/internal/platform/db"
)

// Repository persists productions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

type txRepo struct {
	inventory.TxRepository
	tx pgx.Tx
}

// WithTx executes fn inside one READ COMMITTED transaction shared by stock
// movements and production rows.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepository: inventory.NewTxRepository(tx), tx: tx})
	})
}

func (r *txRepo) InsertProduction(ctx context.Context, p Production) (int64, error) {
	ref, err := uuid.Parse(p.Ref)
	if err != nil {
		return 0, err
	}
	consumption := p.Consumption
	if consumption == nil {
		consumption = []Consumption{}
	}
	var id int64
	err = r.tx.QueryRow(ctx, `
		INSERT INTO productions (ref, recipe_id, recipe_name, batches, quantity_produced, total_cost, estimated_profit, stock_discounted, notes, consumption, produced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		ref, p.RecipeID, p.RecipeName, p.Batches, p.QuantityProduced, p.TotalCost, p.EstimatedProfit,
		p.StockDiscounted, p.Notes, consumption, p.ProducedAt,
	).Scan(&id)
	return id, err
}

func (r *txRepo) InsertResult(ctx context.Context, res Result) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO production_results (production_id, product_id, product_name, quantity, unit, credited, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		res.ProductionID, res.ProductID, res.ProductName, res.Quantity, string(res.Unit), res.Credited, res.Notes,
	).Scan(&id)
	return id, err
}

const selectProduction = `
	SELECT id, ref, recipe_id, recipe_name, batches, quantity_produced, total_cost, estimated_profit,
	       stock_discounted, notes, consumption, produced_at
	FROM productions`

// Get loads one production with its results.
func (r *Repository) Get(ctx context.Context, id int64) (Production, error) {
	rows, err := r.pool.Query(ctx, selectProduction+` WHERE id = $1`, id)
	if err != nil {
		return Production{}, err
	}
	out, err := r.collect(ctx, rows)
	if err != nil {
		return Production{}, err
	}
	if len(out) == 0 {
		return Production{}, ErrProductionNotFound
	}
	return out[0], nil
}

// ListByRecipe returns a recipe's productions, newest first.
func (r *Repository) ListByRecipe(ctx context.Context, recipeID int64) ([]Production, error) {
	rows, err := r.pool.Query(ctx, selectProduction+` WHERE recipe_id = $1 ORDER BY produced_at DESC, id DESC`, recipeID)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

// List returns the latest productions, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]Production, error) {
	rows, err := r.pool.Query(ctx, selectProduction+` ORDER BY produced_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

func (r *Repository) collect(ctx context.Context, rows pgx.Rows) ([]Production, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Production, error) {
		var (
			p   Production
			ref uuid.UUID
		)
		err := row.Scan(&p.ID, &ref, &p.RecipeID, &p.RecipeName, &p.Batches, &p.QuantityProduced, &p.TotalCost,
			&p.EstimatedProfit, &p.StockDiscounted, &p.Notes, &p.Consumption, &p.ProducedAt)
		p.Ref = ref.String()
		p.State = StateCommitted
		return p, err
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]int64, 0, len(out))
	index := make(map[int64]int, len(out))
	for i, p := range out {
		ids = append(ids, p.ID)
		index[p.ID] = i
	}
	resRows, err := r.pool.Query(ctx, `
		SELECT id, production_id, product_id, product_name, quantity, unit, credited, notes
		FROM production_results
		WHERE production_id = ANY($1)
		ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer resRows.Close()
	for resRows.Next() {
		var (
			res     Result
			rawUnit string
			ignored string
		)
		if err := resRows.Scan(&res.ID, &res.ProductionID, &res.ProductID, &res.ProductName, &res.Quantity, &rawUnit, &res.Credited, &res.Notes); err != nil {
			return nil, err
		}
		res.Unit = inventory.NormalizeUnit(rawUnit, &ignored)
		i := index[res.ProductionID]
		out[i].Results = append(out[i].Results, res)
	}
	if err := resRows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
