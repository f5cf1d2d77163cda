package orderhistory_test

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	platformsqlite "github.com/rai/orderhistory-go/internal/platform/sqlite"
	"github.com/rai/orderhistory-go/modules/orderhistory"
	"github.com/rai/orderhistory-go/modules/orderhistory/application/commands"
	"github.com/rai/orderhistory-go/modules/orderhistory/application/queries"
	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
	"github.com/rai/orderhistory-go/modules/orderhistory/infrastructure/persistence"
	"github.com/rai/orderhistory-go/modules/shared/events"
	"github.com/rai/orderhistory-go/modules/shared/events/contracts"
)

func modules(t *testing.T) map[string]func(t *testing.T, cache orderhistory.OrderCache) orderhistory.Module {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	return map[string]func(t *testing.T, cache orderhistory.OrderCache) orderhistory.Module{
		"memory": func(t *testing.T, cache orderhistory.OrderCache) orderhistory.Module {
			store := persistence.NewInMemoryStore()
			return orderhistory.New(orderhistory.Config{
				Repository:       store,
				Tracker:          store,
				TransactionScope: store,
				Cache:            cache,
				Logger:           logger,
			})
		},
		"sqlite": func(t *testing.T, cache orderhistory.OrderCache) orderhistory.Module {
			db, err := platformsqlite.Open(platformsqlite.Config{Path: filepath.Join(t.TempDir(), "orders.db")})
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { _ = db.Close() })
			repo := persistence.NewSQLiteRepository(db)
			if err := repo.Migrate(context.Background()); err != nil {
				t.Fatalf("migrate: %v", err)
			}
			return orderhistory.New(orderhistory.Config{
				Repository:       repo,
				Tracker:          repo,
				TransactionScope: platformsqlite.NewTransactionScope(db),
				Cache:            cache,
				Logger:           logger,
			})
		},
	}
}

func addOrderCommand(orderID, consumerID string, created time.Time, source *domain.SourceEvent) commands.AddOrderCommand {
	return commands.AddOrderCommand{
		OrderID:        orderID,
		ConsumerID:     consumerID,
		CreationDate:   created,
		RestaurantID:   1,
		RestaurantName: "Ajanta",
		LineItems: []commands.LineItemInput{
			{MenuItemID: "m1", Name: "Chicken Vindaloo", Price: 1250, Currency: "USD", Quantity: 1},
		},
		Source: source,
	}
}

func historyIDs(t *testing.T, m orderhistory.Module, query queries.FindOrderHistoryQuery) []string {
	t.Helper()
	page, err := m.FindOrderHistory(context.Background(), query)
	if err != nil {
		t.Fatalf("FindOrderHistory: %v", err)
	}
	ids := make([]string, 0, len(page.Orders))
	for _, o := range page.Orders {
		ids = append(ids, o.OrderID)
	}
	return ids
}

func TestModule_CreateCancelScenario(t *testing.T) {
	for name, newModule := range modules(t) {
		t.Run(name, func(t *testing.T) {
			m := newModule(t, nil)
			ctx := context.Background()
			consumer := uuid.NewString()
			orderID := uuid.NewString()
			created, _ := domain.NewSourceEvent(contracts.OrderAggregateType, orderID, uuid.NewString())

			applied, err := m.AddOrder(ctx, addOrderCommand(orderID, consumer, time.Now().Add(-5*24*time.Hour), &created))
			if err != nil || !applied {
				t.Fatalf("AddOrder = %v, %v; want applied", applied, err)
			}
			applied, err = m.AddOrder(ctx, addOrderCommand(orderID, consumer, time.Now().Add(-5*24*time.Hour), &created))
			if err != nil || applied {
				t.Fatalf("repeated AddOrder = %v, %v; want not applied", applied, err)
			}

			if got := historyIDs(t, m, queries.FindOrderHistoryQuery{ConsumerID: consumer}); len(got) != 1 || got[0] != orderID {
				t.Fatalf("history = %v, want [%s]", got, orderID)
			}

			cancelled, _ := domain.NewSourceEvent(contracts.OrderAggregateType, orderID, uuid.NewString())
			applied, err = m.CancelOrder(ctx, orderID, &cancelled)
			if err != nil || !applied {
				t.Fatalf("CancelOrder = %v, %v; want applied", applied, err)
			}

			pending := historyIDs(t, m, queries.FindOrderHistoryQuery{ConsumerID: consumer, Status: "APPROVAL_PENDING"})
			if len(pending) != 0 {
				t.Fatalf("pending history = %v, want empty", pending)
			}

			applied, err = m.CancelOrder(ctx, orderID, &cancelled)
			if err != nil || applied {
				t.Fatalf("repeated CancelOrder = %v, %v; want not applied", applied, err)
			}

			order, found, err := m.FindOrder(ctx, orderID)
			if err != nil || !found {
				t.Fatalf("FindOrder = %v, %v", found, err)
			}
			if order.Status != "CANCELLED" {
				t.Errorf("status = %s, want CANCELLED", order.Status)
			}
		})
	}
}

func TestModule_IngestRedeliveredStream(t *testing.T) {
	for name, newModule := range modules(t) {
		t.Run(name, func(t *testing.T) {
			m := newModule(t, nil)
			ctx := context.Background()
			createdAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

			created, _ := events.NewEnvelope(contracts.OrderAggregateType, "order-1", "e-1", contracts.OrderCreatedEventType, contracts.OrderCreatedEvent{
				ConsumerID: "consumer-1",
				CreatedAt:  createdAt,
				LineItems:  []contracts.LineItem{{MenuItemID: "m1", Name: "Samosa", Price: 400, Quantity: 3}},
			})
			approved, _ := events.NewEnvelope(contracts.OrderAggregateType, "order-1", "e-2", contracts.OrderApprovedEventType, contracts.OrderStatusEvent{})
			delivered, _ := events.NewEnvelope(contracts.DeliveryAggregateType, "delivery-1", "e-1", contracts.OrderDeliveredEventType,
				contracts.OrderStatusEvent{OrderID: "order-1"})

			// Redelivered and reordered: approval arrives again after delivery.
			stream := []events.Envelope{created, approved, created, delivered, approved}
			want := []domain.Outcome{
				domain.OutcomeApplied,
				domain.OutcomeApplied,
				domain.OutcomeDuplicate,
				domain.OutcomeApplied,
				domain.OutcomeDuplicate,
			}
			outcomes, err := m.IngestBatch(ctx, stream)
			if err != nil {
				t.Fatalf("IngestBatch: %v", err)
			}
			for i := range want {
				if outcomes[i] != want[i] {
					t.Errorf("envelope %d: outcome = %s, want %s", i, outcomes[i], want[i])
				}
			}

			order, found, err := m.FindOrder(ctx, "order-1")
			if err != nil || !found {
				t.Fatalf("FindOrder = %v, %v", found, err)
			}
			if order.Status != "DELIVERED" || !order.CreationDate.Equal(createdAt) {
				t.Errorf("unexpected order %+v", order)
			}
		})
	}
}

func TestModule_FindOrderNotFound(t *testing.T) {
	m := modules(t)["memory"](t, nil)
	_, found, err := m.FindOrder(context.Background(), "missing")
	if err != nil || found {
		t.Fatalf("FindOrder = %v, %v; want not found", found, err)
	}
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*queries.OrderDTO
	floors  map[string]int64
}

func (c *fakeCache) Get(ctx context.Context, orderID string) (*queries.OrderDTO, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[orderID], nil
}

func (c *fakeCache) Set(ctx context.Context, order *queries.OrderDTO) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if order.Version < c.floors[order.OrderID] {
		return nil
	}
	c.entries[order.OrderID] = order
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, orderID string, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.floors[orderID] = max(c.floors[orderID], version)
	delete(c.entries, orderID)
	return nil
}

func TestModule_CacheStaysFresh(t *testing.T) {
	cache := &fakeCache{entries: make(map[string]*queries.OrderDTO), floors: make(map[string]int64)}
	m := modules(t)["memory"](t, cache)
	ctx := context.Background()

	if _, err := m.AddOrder(ctx, addOrderCommand("order-1", "consumer-1", time.Now(), nil)); err != nil {
		t.Fatalf("AddOrder: %v", err)
	}
	if order, _, _ := m.FindOrder(ctx, "order-1"); order.Status != "APPROVAL_PENDING" {
		t.Fatalf("status = %s", order.Status)
	}
	if _, ok := cache.entries["order-1"]; !ok {
		t.Fatal("expected the order to be cached after a read")
	}

	if _, err := m.CancelOrder(ctx, "order-1", nil); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if order, _, _ := m.FindOrder(ctx, "order-1"); order.Status != "CANCELLED" {
		t.Errorf("status = %s, want CANCELLED", order.Status)
	}

	// A reader that loaded the order before the cancellation writes late.
	if err := cache.Set(ctx, &queries.OrderDTO{OrderID: "order-1", Status: "APPROVAL_PENDING", Version: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if order, _, _ := m.FindOrder(ctx, "order-1"); order.Status != "CANCELLED" || order.Version != 2 {
		t.Errorf("order = %s@%d, want CANCELLED@2", order.Status, order.Version)
	}
}
