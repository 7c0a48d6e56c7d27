package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sistemagestao/sistemagestao/internal/platform/db"
	"github.com/sistemagestao/sistemagestao/internal/units"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the ledger.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, id int64) (Product, error)
	UpdateProductQuantity(ctx context.Context, id int64, qty float64) error
	InsertMovement(ctx context.Context, mv Movement) (int64, error)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so other modules can post stock
// movements atomically with their own writes.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx executes the callback inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const selectProduct = `SELECT id, name, unit, COALESCE(quantity, 0), purchase_price, sale_price, weight_per_unit, updated_at FROM products WHERE id = $1`

// GetProduct loads a product without locking it.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	return scanProduct(ctx, r.pool, selectProduct, id)
}

// ListMovements returns stock card entries newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, product_id, movement_type, qty, balance_before, balance_after, ref_module, ref_id, note, posted_at
		FROM stock_movements
		WHERE product_id = $1
		  AND ($2::timestamptz IS NULL OR posted_at >= $2)
		  AND ($3::timestamptz IS NULL OR posted_at <= $3)
		ORDER BY posted_at DESC, id DESC
		LIMIT $4`,
		filter.ProductID,
		pgtype.Timestamptz{Time: filter.From, Valid: !filter.From.IsZero()},
		pgtype.Timestamptz{Time: filter.To, Valid: !filter.To.IsZero()},
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var (
			mv    Movement
			kind  string
			refID pgtype.UUID
		)
		if err := rows.Scan(&mv.ID, &mv.ProductID, &kind, &mv.Qty, &mv.BalanceBefore, &mv.BalanceAfter, &mv.RefModule, &refID, &mv.Note, &mv.PostedAt); err != nil {
			return nil, err
		}
		mv.Type = MovementType(kind)
		if refID.Valid {
			mv.RefID = uuid.UUID(refID.Bytes).String()
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

func (r *txRepo) GetProductForUpdate(ctx context.Context, id int64) (Product, error) {
	return scanProduct(ctx, r.tx, selectProduct+` FOR UPDATE`, id)
}

func (r *txRepo) UpdateProductQuantity(ctx context.Context, id int64, qty float64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET quantity = $2, updated_at = NOW() WHERE id = $1`, id, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *txRepo) InsertMovement(ctx context.Context, mv Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO stock_movements (product_id, movement_type, qty, balance_before, balance_after, ref_module, ref_id, note, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		mv.ProductID, string(mv.Type), mv.Qty, mv.BalanceBefore, mv.BalanceAfter, mv.RefModule,
		pgtype.UUID{Bytes: parseUUID(mv.RefID), Valid: mv.RefID != ""},
		mv.Note, mv.PostedAt,
	).Scan(&id)
	return id, err
}

func scanProduct(ctx context.Context, q querier, sql string, id int64) (Product, error) {
	var (
		p         Product
		rawUnit   string
		updatedAt pgtype.Timestamptz
	)
	err := q.QueryRow(ctx, sql, id).Scan(&p.ID, &p.Name, &rawUnit, &p.Quantity, &p.PurchasePrice, &p.SalePrice, &p.WeightPerUnit, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	p.Unit = NormalizeUnit(rawUnit, &p.RawUnit)
	p.UpdatedAt = updatedAt.Time
	return p, nil
}

// NormalizeUnit maps a stored unit text to a known unit. When the text was
// not canonical it is copied into raw.
func NormalizeUnit(text string, raw *string) units.Unit {
	u, ok := units.Normalize(text)
	if !ok || string(u) != text {
		*raw = text
	}
	return u
}

func parseUUID(s string) [16]byte {
	if s == "" {
		return [16]byte{}
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}
	}
	return id
}
