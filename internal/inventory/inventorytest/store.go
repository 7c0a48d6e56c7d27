// Package inventorytest provides an in-memory stock store for tests. Writes
// made inside a transaction are staged and only become visible on commit, and
// GetProductForUpdate holds a row lock until the transaction ends.
package inventorytest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sistemagestao/sistemagestao/internal/inventory"
	"github.com/sistemagestao/sistemagestao/internal/shared"
)

// Store is a thread-safe in-memory implementation of inventory.RepositoryPort.
type Store struct {
	mu        sync.Mutex
	rows      *shared.KeyedMutex
	products  map[int64]inventory.Product
	movements []inventory.Movement
	nextID    int64

	// FailUpdate, when set, is consulted before each quantity update.
	FailUpdate func(productID int64) error
}

var _ inventory.RepositoryPort = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{rows: shared.NewKeyedMutex(), products: map[int64]inventory.Product{}}
}

// AddProduct inserts p, assigning an id when it has none.
func (s *Store) AddProduct(p inventory.Product) inventory.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		s.nextID++
		p.ID = s.nextID
	} else if p.ID > s.nextID {
		s.nextID = p.ID
	}
	if p.Unit == "" {
		p.Unit = inventory.NormalizeUnit(p.RawUnit, &p.RawUnit)
	}
	s.products[p.ID] = p
	return p
}

// Products returns every committed product ordered by id.
func (s *Store) Products() []inventory.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inventory.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Quantity returns the committed quantity of a product.
func (s *Store) Quantity(id int64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].Quantity
}

// AllMovements returns every committed movement in insertion order.
func (s *Store) AllMovements() []inventory.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inventory.Movement, len(s.movements))
	copy(out, s.movements)
	return out
}

// GetProduct implements inventory.RepositoryPort.
func (s *Store) GetProduct(_ context.Context, id int64) (inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return p, nil
}

// ListMovements implements inventory.RepositoryPort.
func (s *Store) ListMovements(_ context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Movement
	for i := len(s.movements) - 1; i >= 0; i-- {
		mv := s.movements[i]
		if mv.ProductID != filter.ProductID {
			continue
		}
		if !filter.From.IsZero() && mv.PostedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && mv.PostedAt.After(filter.To) {
			continue
		}
		out = append(out, mv)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// WithTx implements inventory.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	tx := s.Begin()
	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	tx.Commit()
	return nil
}

// Begin opens a staged transaction. Callers must Commit or Rollback it.
func (s *Store) Begin() *Tx {
	return &Tx{store: s, products: map[int64]inventory.Product{}}
}

// Tx stages product and movement writes.
type Tx struct {
	store     *Store
	products  map[int64]inventory.Product
	movements []inventory.Movement
	unlocks   []func()
	done      bool
}

var _ inventory.TxRepository = (*Tx)(nil)

// GetProductForUpdate returns the staged or committed product and keeps its
// row locked until the transaction ends.
func (tx *Tx) GetProductForUpdate(ctx context.Context, id int64) (inventory.Product, error) {
	if p, ok := tx.products[id]; ok {
		return p, nil
	}
	unlock, err := tx.store.rows.Lock(ctx, fmt.Sprintf("row:%d", id))
	if err != nil {
		return inventory.Product{}, err
	}
	tx.unlocks = append(tx.unlocks, unlock)
	p, err := tx.store.GetProduct(ctx, id)
	if err != nil {
		return inventory.Product{}, err
	}
	tx.products[id] = p
	return p, nil
}

// UpdateProductQuantity stages a quantity change.
func (tx *Tx) UpdateProductQuantity(ctx context.Context, id int64, qty float64) error {
	if tx.store.FailUpdate != nil {
		if err := tx.store.FailUpdate(id); err != nil {
			return err
		}
	}
	p, ok := tx.products[id]
	if !ok {
		var err error
		if p, err = tx.store.GetProduct(ctx, id); err != nil {
			return err
		}
	}
	if qty < 0 {
		return errors.New("inventorytest: quantity check constraint violated")
	}
	p.Quantity = qty
	tx.products[id] = p
	return nil
}

// InsertMovement stages a movement.
func (tx *Tx) InsertMovement(_ context.Context, mv inventory.Movement) (int64, error) {
	tx.store.mu.Lock()
	tx.store.nextID++
	mv.ID = tx.store.nextID
	tx.store.mu.Unlock()
	tx.movements = append(tx.movements, mv)
	return mv.ID, nil
}

// Commit publishes staged writes and releases row locks.
func (tx *Tx) Commit() {
	if tx.done {
		return
	}
	tx.store.mu.Lock()
	for id, p := range tx.products {
		tx.store.products[id] = p
	}
	tx.store.movements = append(tx.store.movements, tx.movements...)
	tx.store.mu.Unlock()
	tx.finish()
}

// Rollback discards staged writes and releases row locks.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.finish()
}

func (tx *Tx) finish() {
	tx.done = true
	for i := len(tx.unlocks) - 1; i >= 0; i-- {
		tx.unlocks[i]()
	}
	tx.unlocks = nil
}
