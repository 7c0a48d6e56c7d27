package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/sistemagestao/sistemagestao/internal/inventory"
	"github.com/sistemagestao/sistemagestao/internal/inventory/inventorytest"
	jobmetrics "github.com/sistemagestao/sistemagestao/internal/jobs"
	"github.com/sistemagestao/sistemagestao/internal/production"
	"github.com/sistemagestao/sistemagestao/internal/shared"
	"github.com/sistemagestao/sistemagestao/internal/units"
)

type auditRecorder struct {
	mu   sync.Mutex
	logs []shared.AuditLog
	err  error
}

func (a *auditRecorder) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.logs = append(a.logs, log)
	return nil
}

func registeredTask(t *testing.T, evt production.RegisteredEvent) *asynq.Task {
	t.Helper()
	task, err := NewProductionRegisteredTask(evt)
	require.NoError(t, err)
	require.Equal(t, TaskProductionRegistered, task.Type())
	return task
}

func TestProductionEventsJobAuditsDepletedProducts(t *testing.T) {
	store := inventorytest.New()
	flour := store.AddProduct(inventory.Product{Name: "Flour", Unit: units.Kilogram, Quantity: 0})
	salt := store.AddProduct(inventory.Product{Name: "Salt", Unit: units.Gram, Quantity: 50})
	audit := &auditRecorder{}
	job := NewProductionEventsJob(store, audit, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task := registeredTask(t, production.RegisteredEvent{
		ID:    7,
		Ref:   "5f2b7f0e-2f7e-4a8e-9f55-0d7f2f3c1a10",
		Actor: "baker",
		Consumption: []production.ConsumptionEvent{
			{ProductID: flour.ID, Qty: 2, Unit: "KG"},
			{ProductID: salt.ID, Qty: 10, Unit: "G"},
			{ProductID: flour.ID, Qty: 1, Unit: "KG"},
			{ProductID: 999, Qty: 1, Unit: "UN"},
		},
	})

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, audit.logs, 1)
	require.Equal(t, "inventory:depleted", audit.logs[0].Action)
	require.Equal(t, "baker", audit.logs[0].Actor)
	require.Equal(t, "1", audit.logs[0].EntityID)
	require.Equal(t, "5f2b7f0e-2f7e-4a8e-9f55-0d7f2f3c1a10", audit.logs[0].Meta["production_ref"])
}

func TestProductionEventsJobPropagatesAuditFailure(t *testing.T) {
	store := inventorytest.New()
	flour := store.AddProduct(inventory.Product{Name: "Flour", Unit: units.Kilogram})
	boom := errors.New("audit down")
	job := NewProductionEventsJob(store, &auditRecorder{err: boom}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task := registeredTask(t, production.RegisteredEvent{
		Ref:         "ref-1",
		Consumption: []production.ConsumptionEvent{{ProductID: flour.ID, Qty: 1}},
	})
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestProductionEventsJobSkipsBadPayload(t *testing.T) {
	job := NewProductionEventsJob(inventorytest.New(), nil, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskProductionRegistered, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskProductionRegistered, []byte(`{"id":1}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)

	var unset *ProductionEventsJob
	require.Error(t, unset.Handle(context.Background(), asynq.NewTask(TaskProductionRegistered, nil)))
}

type cleanerStub struct {
	got     time.Duration
	removed int64
}

func (c *cleanerStub) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	c.got = olderThan
	return c.removed, nil
}

func TestIdempotencyCleanupJob(t *testing.T) {
	stub := &cleanerStub{removed: 3}
	job := &IdempotencyCleanupJob{Store: stub, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, DefaultIdempotencyRetention, stub.got)

	task, err := NewIdempotencyCleanupTask(IdempotencyCleanupPayload{Retention: time.Hour})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Hour, stub.got)

	err = job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestClientEnqueuesProductionRegisteredOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	evt := production.RegisteredEvent{ID: 1, Ref: "6c8e5a4e-1d7b-4b53-8f0a-2a4b8f1c9d21", RecipeID: 3, Batches: 2}
	require.NoError(t, client.HandleProductionRegistered(context.Background(), evt))
	require.NoError(t, client.HandleProductionRegistered(context.Background(), evt))

	pending, err := mr.List("asynq:{" + QueueDefault + "}:pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, evt.Ref, pending[0])
}

func TestNilClientIsNoop(t *testing.T) {
	var client *Client
	require.NoError(t, client.HandleProductionRegistered(context.Background(), production.RegisteredEvent{Ref: "x"}))
	require.NoError(t, client.Close())
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, QueueDefault, body["queue"])
}

func TestNewWorkerRegistersCron(t *testing.T) {
	mr := miniredis.RunT(t)
	task, err := NewIdempotencyCleanupTask(IdempotencyCleanupPayload{})
	require.NoError(t, err)

	worker, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: mr.Addr()},
		Handlers:  []TaskHandler{{Type: TaskIdempotencyCleanup, Handler: (&IdempotencyCleanupJob{Store: &cleanerStub{}}).Handle}},
		Cron:      []CronRegistration{{Spec: "@daily", Task: task}},
	})
	require.NoError(t, err)
	require.NotNil(t, worker.scheduler)

	_, err = NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: mr.Addr()},
		Cron:      []CronRegistration{{Spec: "not a cron", Task: task}},
	})
	require.Error(t, err)
}
