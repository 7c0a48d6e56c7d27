package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sistemagestao/sistemagestao/internal/inventory"
	"github.com/sistemagestao/sistemagestao/internal/inventory/inventorytest"
	"github.com/sistemagestao/sistemagestao/internal/shared"
	"github.com/sistemagestao/sistemagestao/internal/units"
)

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

func newLedger(t *testing.T) (*inventory.Service, *inventorytest.Store, *auditRecorder) {
	t.Helper()
	store := inventorytest.New()
	audit := &auditRecorder{}
	return inventory.NewService(store, nil, audit, nil), store, audit
}

func TestDebitAndCreditUpdateBalance(t *testing.T) {
	svc, store, audit := newLedger(t)
	ctx := context.Background()
	flour := store.AddProduct(inventory.Product{Name: "Flour", Unit: units.Kilogram, Quantity: 10})

	mv, err := svc.Debit(ctx, inventory.MovementInput{ProductID: flour.ID, Qty: 2.5, RefModule: "TEST"})
	require.NoError(t, err)
	require.Equal(t, inventory.MovementOut, mv.Type)
	require.InDelta(t, 10.0, mv.BalanceBefore, 1e-9)
	require.InDelta(t, 7.5, mv.BalanceAfter, 1e-9)

	mv, err = svc.Credit(ctx, inventory.MovementInput{ProductID: flour.ID, Qty: 1})
	require.NoError(t, err)
	require.Equal(t, inventory.MovementIn, mv.Type)
	require.InDelta(t, 8.5, mv.BalanceAfter, 1e-9)

	qty, err := svc.Peek(ctx, flour.ID)
	require.NoError(t, err)
	require.InDelta(t, 8.5, qty, 1e-9)
	require.Len(t, store.AllMovements(), 2)
	require.Len(t, audit.logs, 2)
	require.Equal(t, "inventory:OUT", audit.logs[0].Action)
}

func TestDebitInsufficientLeavesStockUntouched(t *testing.T) {
	svc, store, _ := newLedger(t)
	ctx := context.Background()
	sugar := store.AddProduct(inventory.Product{Name: "Sugar", Unit: units.Kilogram, Quantity: 1})

	_, err := svc.Debit(ctx, inventory.MovementInput{ProductID: sugar.ID, Qty: 1.0001})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.ErrorIs(t, err, shared.ErrConflict)

	var short *inventory.InsufficientStockError
	require.True(t, errors.As(err, &short))
	require.Len(t, short.Shortages, 1)
	require.Equal(t, "Sugar", short.Shortages[0].ProductName)
	require.InDelta(t, 1.0, short.Shortages[0].Available, 1e-9)

	require.InDelta(t, 1.0, store.Quantity(sugar.ID), 1e-9)
	require.Empty(t, store.AllMovements())
}

func TestDebitExactBalanceSucceeds(t *testing.T) {
	svc, store, _ := newLedger(t)
	ctx := context.Background()
	milk := store.AddProduct(inventory.Product{Name: "Milk", Unit: units.Liter, Quantity: 2})

	mv, err := svc.Debit(ctx, inventory.MovementInput{ProductID: milk.ID, Qty: 2})
	require.NoError(t, err)
	require.Zero(t, mv.BalanceAfter)
}

func TestDebitUnsetQuantityIsZero(t *testing.T) {
	svc, store, _ := newLedger(t)
	p := store.AddProduct(inventory.Product{Name: "Salt", Unit: units.Gram})

	_, err := svc.Debit(context.Background(), inventory.MovementInput{ProductID: p.ID, Qty: 1})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
}

func TestMovementValidation(t *testing.T) {
	svc, store, _ := newLedger(t)
	ctx := context.Background()
	p := store.AddProduct(inventory.Product{Name: "Egg", Unit: units.Each, Quantity: 12})

	_, err := svc.Debit(ctx, inventory.MovementInput{ProductID: p.ID, Qty: 0})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	_, err = svc.Credit(ctx, inventory.MovementInput{ProductID: p.ID, Qty: -3})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	_, err = svc.Credit(ctx, inventory.MovementInput{Qty: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Credit(ctx, inventory.MovementInput{ProductID: p.ID, Qty: 1, RefID: "not-a-uuid"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Debit(ctx, inventory.MovementInput{ProductID: 999, Qty: 1})
	require.ErrorIs(t, err, inventory.ErrProductNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestConcurrentDebitsNeverOversell(t *testing.T) {
	svc, store, _ := newLedger(t)
	ctx := context.Background()
	p := store.AddProduct(inventory.Product{Name: "Butter", Unit: units.Gram, Quantity: 100})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, inventory.MovementInput{ProductID: p.ID, Qty: 10})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, inventory.ErrInsufficientStock):
				fail++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 10, ok)
	require.Equal(t, 10, fail)
	require.Zero(t, store.Quantity(p.ID))
}

func TestMovementsNewestFirst(t *testing.T) {
	svc, store, _ := newLedger(t)
	ctx := context.Background()
	p := store.AddProduct(inventory.Product{Name: "Yeast", Unit: units.Gram, Quantity: 50})

	_, err := svc.Debit(ctx, inventory.MovementInput{ProductID: p.ID, Qty: 5, Note: "first"})
	require.NoError(t, err)
	_, err = svc.Debit(ctx, inventory.MovementInput{ProductID: p.ID, Qty: 5, Note: "second"})
	require.NoError(t, err)

	rows, err := svc.Movements(ctx, inventory.MovementFilter{ProductID: p.ID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "second", rows[0].Note)

	_, err = svc.Movements(ctx, inventory.MovementFilter{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestNormalizeUnitKeepsRawText(t *testing.T) {
	var raw string
	require.Equal(t, units.Kilogram, inventory.NormalizeUnit("KG", &raw))
	require.Empty(t, raw)

	require.Equal(t, units.Kilogram, inventory.NormalizeUnit("Quilo", &raw))
	require.Equal(t, "Quilo", raw)

	raw = ""
	require.Equal(t, units.Each, inventory.NormalizeUnit("caixa", &raw))
	require.Equal(t, "caixa", raw)
}
