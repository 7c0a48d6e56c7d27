package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/hibiken/asynq"

	"github.com/sistemagestao/sistemagestao/internal/inventory"
	jobmetrics "github.com/sistemagestao/sistemagestao/internal/jobs"
	"github.com/sistemagestao/sistemagestao/internal/production"
	"github.com/sistemagestao/sistemagestao/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// StockReader reads current product balances.
type StockReader interface {
	GetProduct(ctx context.Context, id int64) (inventory.Product, error)
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ProductionEventsJob inspects the ingredients of a committed production and
// records an audit entry for every product left without stock.
type ProductionEventsJob struct {
	Stock   StockReader
	Audit   AuditPort
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewProductionEventsJob wires dependencies for the production follow-up handler.
func NewProductionEventsJob(stock StockReader, audit AuditPort, logger *slog.Logger, metrics *jobmetrics.Metrics) *ProductionEventsJob {
	return &ProductionEventsJob{Stock: stock, Audit: audit, Logger: logger, Metrics: metrics}
}

// Handle processes TaskProductionRegistered tasks.
func (j *ProductionEventsJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Stock == nil {
		return errors.New("production events: handler not configured")
	}
	var evt production.RegisteredEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}
	if evt.Ref == "" {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskProductionRegistered)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.String("ref", evt.Ref), slog.Int64("production_id", evt.ID))

	seen := make(map[int64]bool, len(evt.Consumption))
	depleted := 0
	for _, c := range evt.Consumption {
		if seen[c.ProductID] {
			continue
		}
		seen[c.ProductID] = true
		p, err := j.Stock.GetProduct(ctx, c.ProductID)
		if errors.Is(err, inventory.ErrProductNotFound) {
			logger.Warn("consumed product vanished", slog.Int64("product_id", c.ProductID))
			continue
		}
		if err != nil {
			return err
		}
		if p.Quantity > 0 {
			continue
		}
		depleted++
		logger.Warn("product depleted by production", slog.Int64("product_id", p.ID), slog.String("product", p.Name))
		if j.Audit == nil {
			continue
		}
		if err := j.Audit.Record(ctx, shared.AuditLog{
			Actor:    evt.Actor,
			Action:   "inventory:depleted",
			Entity:   "product",
			EntityID: strconv.FormatInt(p.ID, 10),
			Meta: map[string]any{
				"production_ref": evt.Ref,
				"unit":           string(p.Unit),
			},
		}); err != nil {
			return err
		}
	}
	j.metrics().AddDepletions(depleted)
	logger.Info("production follow-up processed", slog.Int("ingredients", len(seen)), slog.Int("depleted", depleted))
	return nil
}

func (j *ProductionEventsJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskProductionRegistered))
	}
	return slog.Default().With(slog.String("job", TaskProductionRegistered))
}

func (j *ProductionEventsJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
