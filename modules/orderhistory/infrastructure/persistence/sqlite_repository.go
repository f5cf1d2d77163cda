package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	platformsqlite "github.com/rai/orderhistory-go/internal/platform/sqlite"
	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
	"github.com/rai/orderhistory-go/modules/orderhistory/infrastructure/persistence/migrations"
	"github.com/rai/orderhistory-go/modules/shared/types"
)

// SQLiteRepository stores order projections and applied-event markers in
// SQLite. It joins the transaction started by platformsqlite.TransactionScope.
// Creation dates are stored as Unix nanoseconds so that page tokens compare
// equal to stored keys.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Migrate applies the embedded order history schema.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	return platformsqlite.ApplyMigrations(ctx, r.db, migrations.FS)
}

const orderColumns = `order_id, consumer_id, status, creation_date, restaurant_id, restaurant_name, version`

func (r *SQLiteRepository) FindByID(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	q := platformsqlite.QuerierFromContext(ctx, r.db)

	row := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, id.String())
	snapshot, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to read order: %w", err)
	}

	items, err := r.readLineItems(ctx, q,
		`SELECT order_id, menu_item_id, name, price_amount, price_currency, quantity
		 FROM order_line_items WHERE order_id = ? ORDER BY position`, id.String())
	if err != nil {
		return nil, err
	}
	snapshot.LineItems = items[snapshot.OrderID]
	return domain.Reconstitute(snapshot), nil
}

// FindByConsumer returns the consumer's orders in history order.
func (r *SQLiteRepository) FindByConsumer(ctx context.Context, consumerID domain.ConsumerID) ([]*domain.Order, error) {
	q := platformsqlite.QuerierFromContext(ctx, r.db)

	rows, err := q.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE consumer_id = ?
		 ORDER BY creation_date DESC, order_id ASC`, consumerID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var snapshots []domain.Snapshot
	for rows.Next() {
		snapshot, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	items, err := r.readLineItems(ctx, q,
		`SELECT li.order_id, li.menu_item_id, li.name, li.price_amount, li.price_currency, li.quantity
		 FROM order_line_items li JOIN orders o ON o.order_id = li.order_id
		 WHERE o.consumer_id = ?
		 ORDER BY li.order_id, li.position`, consumerID.String())
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

// Save inserts or version-checks and updates the order, then rewrites its
// line items.
func (r *SQLiteRepository) Save(ctx context.Context, order *domain.Order) error {
	if _, ok := platformsqlite.TxFromContext(ctx); !ok {
		return platformsqlite.NewTransactionScope(r.db).Execute(ctx, func(ctx context.Context) error {
			return r.Save(ctx, order)
		})
	}
	q := platformsqlite.QuerierFromContext(ctx, r.db)
	s := order.Snapshot()

	if s.Version == 0 {
		_, err := q.ExecContext(ctx,
			`INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, 1)`,
			s.OrderID, s.ConsumerID, s.Status.String(), s.CreationDate.UnixNano(),
			s.RestaurantID, s.RestaurantName,
		)
		if err != nil {
			if isConstraintViolation(err) {
				return domain.ErrConcurrentUpdate
			}
			return fmt.Errorf("failed to insert order: %w", err)
		}
	} else {
		res, err := q.ExecContext(ctx,
			`UPDATE orders
			 SET status = ?, restaurant_id = ?, restaurant_name = ?, version = version + 1
			 WHERE order_id = ? AND version = ?`,
			s.Status.String(), s.RestaurantID, s.RestaurantName, s.OrderID, s.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		if n == 0 {
			return domain.ErrConcurrentUpdate
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM order_line_items WHERE order_id = ?`, s.OrderID); err != nil {
			return fmt.Errorf("failed to delete existing line items: %w", err)
		}
	}

	for i, item := range s.LineItems {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO order_line_items (order_id, position, menu_item_id, name, price_amount, price_currency, quantity)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.OrderID, i, item.MenuItemID, item.Name, item.Price.Amount(), item.Price.Currency(), item.Quantity,
		); err != nil {
			return fmt.Errorf("failed to insert line item: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRepository) HasBeenApplied(ctx context.Context, orderID domain.OrderID, event domain.SourceEvent) (bool, error) {
	var found int
	err := platformsqlite.QuerierFromContext(ctx, r.db).QueryRowContext(ctx,
		`SELECT 1 FROM order_applied_events
		 WHERE order_id = ? AND aggregate_type = ? AND aggregate_id = ? AND event_id = ?`,
		orderID.String(), event.AggregateType, event.AggregateID, event.EventID,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read applied events: %w", err)
	}
	return true, nil
}

func (r *SQLiteRepository) RecordApplied(ctx context.Context, orderID domain.OrderID, event domain.SourceEvent) error {
	_, err := platformsqlite.QuerierFromContext(ctx, r.db).ExecContext(ctx,
		`INSERT OR IGNORE INTO order_applied_events (order_id, aggregate_type, aggregate_id, event_id, applied_at)
		 VALUES (?, ?, ?, ?, ?)`,
		orderID.String(), event.AggregateType, event.AggregateID, event.EventID, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record applied event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Snapshot, error) {
	var (
		s            domain.Snapshot
		status       string
		creationDate int64
	)
	if err := row.Scan(&s.OrderID, &s.ConsumerID, &status, &creationDate,
		&s.RestaurantID, &s.RestaurantName, &s.Version); err != nil {
		return domain.Snapshot{}, err
	}
	s.Status = domain.Status(status)
	s.CreationDate = time.Unix(0, creationDate).UTC()
	return s, nil
}

// readLineItems groups the selected line items by order ID.
func (r *SQLiteRepository) readLineItems(ctx context.Context, q platformsqlite.Querier, query string, args ...any) (map[string][]domain.LineItem, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read line items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]domain.LineItem)
	for rows.Next() {
		var (
			orderID, menuItemID, name, currency string
			amount                              int64
			quantity                            int
		)
		if err := rows.Scan(&orderID, &menuItemID, &name, &amount, &currency, &quantity); err != nil {
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
			Quantity:   quantity,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read line items: %w", err)
	}
	return items, nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
