// Package persistence implements the order history repositories.
package persistence

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
)

// InMemoryStore keeps order projections and applied-event markers in memory.
// It implements domain.OrderRepository, domain.IdempotencyTracker and
// transaction.Scope. Writes made inside Execute are staged and become visible
// atomically on commit, which fails with domain.ErrConcurrentUpdate when a
// staged order changed since it was loaded.
type InMemoryStore struct {
	mu      sync.RWMutex
	orders  map[string]domain.Snapshot
	applied map[string]map[string]struct{} // order ID -> markers
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		orders:  make(map[string]domain.Snapshot),
		applied: make(map[string]map[string]struct{}),
	}
}

// memoryTx is the unit of work staged by Execute.
type memoryTx struct {
	orders  map[string]stagedOrder
	markers map[string][]string
}

type stagedOrder struct {
	snapshot        domain.Snapshot
	expectedVersion int64
}

type memoryTxKey struct{}

func memoryTxFromContext(ctx context.Context) (*memoryTx, bool) {
	tx, ok := ctx.Value(memoryTxKey{}).(*memoryTx)
	return tx, ok
}

// Execute runs fn in a staged unit of work. A nested call joins the outer one.
func (s *InMemoryStore) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := memoryTxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx := &memoryTx{
		orders:  make(map[string]stagedOrder),
		markers: make(map[string][]string),
	}
	if err := fn(context.WithValue(ctx, memoryTxKey{}, tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *InMemoryStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, staged := range tx.orders {
		if s.storedVersion(id) != staged.expectedVersion {
			return domain.ErrConcurrentUpdate
		}
	}
	for id, staged := range tx.orders {
		s.orders[id] = staged.snapshot
	}
	for id, markers := range tx.markers {
		s.recordLocked(id, markers...)
	}
	return nil
}

func (s *InMemoryStore) storedVersion(orderID string) int64 {
	stored, ok := s.orders[orderID]
	if !ok {
		return 0
	}
	return stored.Version
}

func (s *InMemoryStore) recordLocked(orderID string, markers ...string) {
	set, ok := s.applied[orderID]
	if !ok {
		set = make(map[string]struct{})
		s.applied[orderID] = set
	}
	for _, m := range markers {
		set[m] = struct{}{}
	}
}

func (s *InMemoryStore) FindByID(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	if tx, ok := memoryTxFromContext(ctx); ok {
		if staged, ok := tx.orders[id.String()]; ok {
			return domain.Reconstitute(staged.snapshot), nil
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.orders[id.String()]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return domain.Reconstitute(snapshot), nil
}

// FindByConsumer returns the consumer's orders in history order.
func (s *InMemoryStore) FindByConsumer(ctx context.Context, consumerID domain.ConsumerID) ([]*domain.Order, error) {
	s.mu.RLock()
	snapshots := make(map[string]domain.Snapshot)
	for id, snapshot := range s.orders {
		if snapshot.ConsumerID == consumerID.String() {
			snapshots[id] = snapshot
		}
	}
	s.mu.RUnlock()

	if tx, ok := memoryTxFromContext(ctx); ok {
		for id, staged := range tx.orders {
			if staged.snapshot.ConsumerID == consumerID.String() {
				snapshots[id] = staged.snapshot
			}
		}
	}

	orders := make([]*domain.Order, 0, len(snapshots))
	for _, snapshot := range snapshots {
		orders = append(orders, domain.Reconstitute(snapshot))
	}
	slices.SortFunc(orders, func(a, b *domain.Order) int {
		return domain.CompareHistoryKey(a.HistoryKey(), b.HistoryKey())
	})
	return orders, nil
}

// Save stages the order when called inside Execute and writes it immediately
// otherwise.
func (s *InMemoryStore) Save(ctx context.Context, order *domain.Order) error {
	snapshot := order.Snapshot()
	expected := snapshot.Version
	snapshot.Version++

	if tx, ok := memoryTxFromContext(ctx); ok {
		if prev, ok := tx.orders[snapshot.OrderID]; ok {
			if prev.snapshot.Version != expected {
				return domain.ErrConcurrentUpdate
			}
			expected = prev.expectedVersion
		}
		tx.orders[snapshot.OrderID] = stagedOrder{snapshot: snapshot, expectedVersion: expected}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storedVersion(snapshot.OrderID) != expected {
		return domain.ErrConcurrentUpdate
	}
	s.orders[snapshot.OrderID] = snapshot
	return nil
}

func (s *InMemoryStore) HasBeenApplied(ctx context.Context, orderID domain.OrderID, event domain.SourceEvent) (bool, error) {
	marker := event.Marker()
	if tx, ok := memoryTxFromContext(ctx); ok {
		if slices.Contains(tx.markers[orderID.String()], marker) {
			return true, nil
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.applied[orderID.String()][marker]
	return ok, nil
}

func (s *InMemoryStore) RecordApplied(ctx context.Context, orderID domain.OrderID, event domain.SourceEvent) error {
	if tx, ok := memoryTxFromContext(ctx); ok {
		tx.markers[orderID.String()] = append(tx.markers[orderID.String()], event.Marker())
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked(orderID.String(), event.Marker())
	return nil
}

// AppliedEvents lists the markers recorded for an order, sorted.
func (s *InMemoryStore) AppliedEvents(orderID domain.OrderID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.applied[orderID.String()]))
}
