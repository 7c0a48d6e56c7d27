package recipes

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sistemagestao/sistemagestao/internal/inventory"
)

// Repository reads recipes and their products from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

const productColumns = `id, name, unit, COALESCE(quantity, 0), purchase_price, sale_price, weight_per_unit, updated_at`

// GetRecipe loads a recipe with its ingredients in insertion order.
func (r *Repository) GetRecipe(ctx context.Context, id int64) (Recipe, error) {
	var (
		rec       Recipe
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(description, ''), standard_yield, suggested_price, created_at, updated_at
		FROM recipes WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.Name, &rec.Description, &rec.StandardYield, &rec.SuggestedPrice, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Recipe{}, ErrRecipeNotFound
		}
		return Recipe{}, err
	}
	rec.CreatedAt = createdAt.Time
	rec.UpdatedAt = updatedAt.Time

	rows, err := r.pool.Query(ctx, `
		SELECT id, recipe_id, COALESCE(product_id, 0), COALESCE(product_name, ''), quantity, unit, COALESCE(notes, '')
		FROM recipe_ingredients
		WHERE recipe_id = $1
		ORDER BY id`, id)
	if err != nil {
		return Recipe{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ing     Ingredient
			rawUnit string
		)
		if err := rows.Scan(&ing.ID, &ing.RecipeID, &ing.ProductID, &ing.ProductName, &ing.Quantity, &rawUnit, &ing.Notes); err != nil {
			return Recipe{}, err
		}
		ing.Unit = inventory.NormalizeUnit(rawUnit, &ing.RawUnit)
		rec.Ingredients = append(rec.Ingredients, ing)
	}
	return rec, rows.Err()
}

// GetProducts loads the given products keyed by id. Missing ids are absent
// from the result.
func (r *Repository) GetProducts(ctx context.Context, ids []int64) (map[int64]inventory.Product, error) {
	out := make(map[int64]inventory.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	products, err := collectProducts(rows)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// FindProductsByName matches products by case-insensitive name.
func (r *Repository) FindProductsByName(ctx context.Context, name string) ([]inventory.Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE LOWER(name) = LOWER($1) ORDER BY id`, name)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

func collectProducts(rows pgx.Rows) ([]inventory.Product, error) {
	defer rows.Close()
	var out []inventory.Product
	for rows.Next() {
		var (
			p         inventory.Product
			rawUnit   string
			updatedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&p.ID, &p.Name, &rawUnit, &p.Quantity, &p.PurchasePrice, &p.SalePrice, &p.WeightPerUnit, &updatedAt); err != nil {
			return nil, err
		}
		p.Unit = inventory.NormalizeUnit(rawUnit, &p.RawUnit)
		p.UpdatedAt = updatedAt.Time
		out = append(out, p)
	}
	return out, rows.Err()
}
