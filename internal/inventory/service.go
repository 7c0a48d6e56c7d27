package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sistemagestao/sistemagestao/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the stock ledger. Every mutation holds the product's lock key
// and row lock for the whole read-check-write sequence.
type Service struct {
	repo   RepositoryPort
	locker shared.Locker
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service. A nil locker falls back to an in-process one.
func NewService(repo RepositoryPort, locker shared.Locker, audit AuditPort, logger *slog.Logger) *Service {
	if locker == nil {
		locker = shared.NewKeyedMutex()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, locker: locker, audit: audit, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Debit removes stock from a product.
func (s *Service) Debit(ctx context.Context, input MovementInput) (Movement, error) {
	return s.apply(ctx, input, MovementOut)
}

// Credit adds stock to a product.
func (s *Service) Credit(ctx context.Context, input MovementInput) (Movement, error) {
	return s.apply(ctx, input, MovementIn)
}

// Peek returns the current quantity of a product.
func (s *Service) Peek(ctx context.Context, productID int64) (float64, error) {
	p, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return p.Quantity, nil
}

// GetProduct returns the product row.
func (s *Service) GetProduct(ctx context.Context, productID int64) (Product, error) {
	return s.repo.GetProduct(ctx, productID)
}

// Movements lists stock card entries, newest first.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.ProductID == 0 {
		return nil, fmt.Errorf("inventory: product required: %w", shared.ErrValidation)
	}
	return s.repo.ListMovements(ctx, filter)
}

func (s *Service) apply(ctx context.Context, input MovementInput, kind MovementType) (Movement, error) {
	if input.ProductID == 0 {
		return Movement{}, fmt.Errorf("inventory: product required: %w", shared.ErrValidation)
	}
	if input.Qty <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	if input.RefID != "" {
		if _, err := uuid.Parse(input.RefID); err != nil {
			return Movement{}, fmt.Errorf("inventory: invalid ref id: %w", shared.ErrValidation)
		}
	}
	unlock, err := s.locker.Lock(ctx, shared.ProductLockKey(input.ProductID))
	if err != nil {
		return Movement{}, err
	}
	defer unlock()

	now := s.now()
	var mv Movement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if kind == MovementOut {
			mv, err = DebitTx(ctx, tx, input, now)
		} else {
			mv, err = CreditTx(ctx, tx, input, now)
		}
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.logger.Info("stock movement posted",
		slog.Int64("product_id", mv.ProductID),
		slog.String("type", string(mv.Type)),
		slog.Float64("qty", mv.Qty),
		slog.Float64("balance", mv.BalanceAfter))
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    input.Actor,
			Action:   fmt.Sprintf("inventory:%s", kind),
			Entity:   "product",
			EntityID: fmt.Sprintf("%d", input.ProductID),
			Meta: map[string]any{
				"qty":            input.Qty,
				"balance_before": mv.BalanceBefore,
				"balance_after":  mv.BalanceAfter,
				"note":           input.Note,
			},
		}); err != nil {
			s.logger.Warn("audit stock movement", slog.Any("error", err))
		}
	}
	return mv, nil
}

// DebitTx locks the product row, re-validates availability and decrements it
// inside tx.
func DebitTx(ctx context.Context, tx TxRepository, input MovementInput, at time.Time) (Movement, error) {
	if input.Qty <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	p, err := tx.GetProductForUpdate(ctx, input.ProductID)
	if err != nil {
		return Movement{}, err
	}
	if shortage, short := CheckAvailability(p, input.Qty); short {
		return Movement{}, &InsufficientStockError{Shortages: []Shortage{shortage}}
	}
	return post(ctx, tx, p, input, MovementOut, p.Quantity-input.Qty, at)
}

// CreditTx locks the product row and increments it inside tx.
func CreditTx(ctx context.Context, tx TxRepository, input MovementInput, at time.Time) (Movement, error) {
	if input.Qty <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	p, err := tx.GetProductForUpdate(ctx, input.ProductID)
	if err != nil {
		return Movement{}, err
	}
	return post(ctx, tx, p, input, MovementIn, p.Quantity+input.Qty, at)
}

func post(ctx context.Context, tx TxRepository, p Product, input MovementInput, kind MovementType, newQty float64, at time.Time) (Movement, error) {
	if newQty < 0 {
		return Movement{}, errors.Join(ErrInsufficientStock, fmt.Errorf("inventory: product %d would go negative", p.ID))
	}
	if err := tx.UpdateProductQuantity(ctx, p.ID, newQty); err != nil {
		return Movement{}, err
	}
	mv := Movement{
		ProductID:     p.ID,
		Type:          kind,
		Qty:           input.Qty,
		BalanceBefore: p.Quantity,
		BalanceAfter:  newQty,
		RefModule:     input.RefModule,
		RefID:         input.RefID,
		Note:          input.Note,
		PostedAt:      at,
	}
	id, err := tx.InsertMovement(ctx, mv)
	if err != nil {
		return Movement{}, err
	}
	mv.ID = id
	return mv, nil
}
