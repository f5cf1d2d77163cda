package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	platformspanner "github.com/rai/orderhistory-go/internal/platform/spanner"
	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
	"github.com/rai/orderhistory-go/modules/shared/transaction"
	"github.com/rai/orderhistory-go/modules/shared/types"
)

// SpannerRepository stores order projections in Cloud Spanner. Line items and
// applied-event markers are interleaved under their order. Writes join the
// read-write transaction carried in ctx; see schema/spanner.sql.
type SpannerRepository struct {
	client    *spanner.Client
	snapshots transaction.Scope
}

func NewSpannerRepository(client *spanner.Client) *SpannerRepository {
	return &SpannerRepository{
		client:    client,
		snapshots: platformspanner.NewReadOnlyTransactionScope(client),
	}
}

var (
	orderColumnNames    = []string{"OrderID", "ConsumerID", "Status", "CreationDate", "RestaurantID", "RestaurantName", "Version"}
	lineItemColumnNames = []string{"OrderID", "Position", "MenuItemID", "Name", "PriceAmount", "PriceCurrency", "Quantity"}
)

func (r *SpannerRepository) FindByID(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	reader, ok := platformspanner.ReadTransactionFromContext(ctx)
	if !ok {
		// Orders and OrderLineItems must be read at the same timestamp.
		return transaction.ExecuteWithResult(ctx, r.snapshots, func(ctx context.Context) (*domain.Order, error) {
			return r.FindByID(ctx, id)
		})
	}

	row, err := reader.ReadRow(ctx, "Orders", spanner.Key{id.String()}, orderColumnNames)
	if err != nil {
		if spanner.ErrCode(err) == codes.NotFound {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to read order: %w", err)
	}
	snapshot, err := scanSpannerOrder(row)
	if err != nil {
		return nil, err
	}

	items, err := r.readLineItems(reader.Read(ctx, "OrderLineItems",
		spanner.Key{id.String()}.AsPrefix(), lineItemColumnNames))
	if err != nil {
		return nil, err
	}
	snapshot.LineItems = items[snapshot.OrderID]
	return domain.Reconstitute(snapshot), nil
}

func (r *SpannerRepository) FindByConsumer(ctx context.Context, consumerID domain.ConsumerID) ([]*domain.Order, error) {
	reader, ok := platformspanner.ReadTransactionFromContext(ctx)
	if !ok {
		return transaction.ExecuteWithResult(ctx, r.snapshots, func(ctx context.Context) ([]*domain.Order, error) {
			return r.FindByConsumer(ctx, consumerID)
		})
	}

	params := map[string]interface{}{"consumerID": consumerID.String()}
	iter := reader.Query(ctx, spanner.Statement{
		SQL: `SELECT OrderID, ConsumerID, Status, CreationDate, RestaurantID, RestaurantName, Version
		      FROM Orders@{FORCE_INDEX=OrdersByConsumer}
		      WHERE ConsumerID = @consumerID
		      ORDER BY CreationDate DESC, OrderID`,
		Params: params,
	})
	defer iter.Stop()

	var snapshots []domain.Snapshot
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query orders: %w", err)
		}
		snapshot, err := scanSpannerOrder(row)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	if len(snapshots) == 0 {
		return nil, nil
	}

	items, err := r.readLineItems(reader.Query(ctx, spanner.Statement{
		SQL: `SELECT li.OrderID, li.Position, li.MenuItemID, li.Name, li.PriceAmount, li.PriceCurrency, li.Quantity
		      FROM Orders@{FORCE_INDEX=OrdersByConsumer} o
		      JOIN OrderLineItems li ON li.OrderID = o.OrderID
		      WHERE o.ConsumerID = @consumerID
		      ORDER BY li.OrderID, li.Position`,
		Params: params,
	}))
	if err != nil {
		return nil, err
	}

	orders := make([]*domain.Order, len(snapshots))
	for i, snapshot := range snapshots {
		snapshot.LineItems = items[snapshot.OrderID]
		orders[i] = domain.Reconstitute(snapshot)
	}
	return orders, nil
}

// Save inserts a new order or updates one whose stored version still matches.
// Without a transaction in ctx it runs in its own.
func (r *SpannerRepository) Save(ctx context.Context, order *domain.Order) error {
	if tx, ok := platformspanner.ReadWriteTxFromContext(ctx); ok {
		return r.saveWithTx(ctx, tx, order)
	}

	_, err := r.client.ReadWriteTransaction(ctx, func(ctx context.Context, tx *spanner.ReadWriteTransaction) error {
		return r.saveWithTx(ctx, tx, order)
	})
	if spanner.ErrCode(err) == codes.AlreadyExists {
		return domain.ErrConcurrentUpdate
	}
	if err != nil && !errors.Is(err, domain.ErrConcurrentUpdate) {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return err
}

func (r *SpannerRepository) saveWithTx(ctx context.Context, tx *spanner.ReadWriteTransaction, order *domain.Order) error {
	s := order.Snapshot()

	row, err := tx.ReadRow(ctx, "Orders", spanner.Key{s.OrderID}, []string{"Version"})
	var stored int64
	switch {
	case spanner.ErrCode(err) == codes.NotFound:
	case err != nil:
		return fmt.Errorf("failed to read order version: %w", err)
	default:
		if err := row.Columns(&stored); err != nil {
			return fmt.Errorf("failed to scan order version: %w", err)
		}
	}
	if stored != s.Version {
		return domain.ErrConcurrentUpdate
	}

	values := []interface{}{
		s.OrderID,
		s.ConsumerID,
		s.Status.String(),
		s.CreationDate,
		s.RestaurantID,
		s.RestaurantName,
		s.Version + 1,
	}
	var mutations []*spanner.Mutation
	if s.Version == 0 {
		mutations = append(mutations, spanner.Insert("Orders", orderColumnNames, values))
	} else {
		mutations = append(mutations,
			spanner.Update("Orders", orderColumnNames, values),
			spanner.Delete("OrderLineItems", spanner.Key{s.OrderID}.AsPrefix()),
		)
	}
	for i, item := range s.LineItems {
		mutations = append(mutations, spanner.Insert("OrderLineItems", lineItemColumnNames, []interface{}{
			s.OrderID,
			int64(i),
			item.MenuItemID,
			item.Name,
			item.Price.Amount(),
			item.Price.Currency(),
			int64(item.Quantity),
		}))
	}
	return tx.BufferWrite(mutations)
}

func (r *SpannerRepository) HasBeenApplied(ctx context.Context, orderID domain.OrderID, event domain.SourceEvent) (bool, error) {
	reader, ok := platformspanner.ReadTransactionFromContext(ctx)
	if !ok {
		reader = r.client.Single()
	}

	_, err := reader.ReadRow(ctx, "OrderAppliedEvents",
		spanner.Key{orderID.String(), event.AggregateType, event.AggregateID, event.EventID},
		[]string{"EventID"},
	)
	if spanner.ErrCode(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read applied event: %w", err)
	}
	return true, nil
}

func (r *SpannerRepository) RecordApplied(ctx context.Context, orderID domain.OrderID, event domain.SourceEvent) error {
	mutations := []*spanner.Mutation{
		spanner.InsertOrUpdate("OrderAppliedEvents",
			[]string{"OrderID", "AggregateType", "AggregateID", "EventID", "AppliedAt"},
			[]interface{}{orderID.String(), event.AggregateType, event.AggregateID, event.EventID, spanner.CommitTimestamp},
		),
	}

	if tx, ok := platformspanner.ReadWriteTxFromContext(ctx); ok {
		return tx.BufferWrite(mutations)
	}
	if _, err := r.client.Apply(ctx, mutations); err != nil {
		return fmt.Errorf("failed to record applied event: %w", err)
	}
	return nil
}

func scanSpannerOrder(row *spanner.Row) (domain.Snapshot, error) {
	var (
		s            domain.Snapshot
		status       string
		creationDate time.Time
	)
	if err := row.Columns(&s.OrderID, &s.ConsumerID, &status, &creationDate,
		&s.RestaurantID, &s.RestaurantName, &s.Version); err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to scan order: %w", err)
	}
	s.Status = domain.Status(status)
	s.CreationDate = creationDate
	return s, nil
}

// readLineItems drains iter and groups line items by order ID.
func (r *SpannerRepository) readLineItems(iter *spanner.RowIterator) (map[string][]domain.LineItem, error) {
	defer iter.Stop()

	items := make(map[string][]domain.LineItem)
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read line items: %w", err)
		}

		var (
			orderID, menuItemID, name, currency string
			position, amount, quantity          int64
		)
		if err := row.Columns(&orderID, &position, &menuItemID, &name, &amount, &currency, &quantity); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		price, err := types.NewMoney(amount, currency)
		if err != nil {
			return nil, fmt.Errorf("failed to read line item price: %w", err)
		}
		items[orderID] = append(items[orderID], domain.LineItem{
			MenuItemID: menuItemID,
			Name:       name,
			Price:      price,
			Quantity:   int(quantity),
		})
	}
	return items, nil
}
