package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	platformdynamodb "github.com/rai/orderhistory-go/internal/platform/dynamodb"
	"github.com/rai/orderhistory-go/internal/platform/httpserver"
	platformspanner "github.com/rai/orderhistory-go/internal/platform/spanner"
	platformsqlite "github.com/rai/orderhistory-go/internal/platform/sqlite"
	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
	"github.com/rai/orderhistory-go/modules/orderhistory/infrastructure/persistence"
	"github.com/rai/orderhistory-go/modules/shared/transaction"
)

// store is one backend in its three roles, plus a readiness check.
type store struct {
	repo    domain.OrderRepository
	tracker domain.IdempotencyTracker
	scope   transaction.Scope
	check   httpserver.Check
	close   func() error
}

func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (*store, error) {
	switch cfg.Store {
	case storeSQLite:
		db, err := platformsqlite.Open(cfg.SQLite)
		if err != nil {
			return nil, err
		}
		repo := persistence.NewSQLiteRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		logger.Info("using sqlite store", slog.String("path", cfg.SQLite.Path))
		return &store{
			repo:    repo,
			tracker: repo,
			scope:   platformsqlite.NewTransactionScope(db),
			check:   db.PingContext,
			close:   db.Close,
		}, nil

	case storeSpanner:
		client, err := platformspanner.NewClient(ctx, cfg.Spanner)
		if err != nil {
			return nil, err
		}
		repo := persistence.NewSpannerRepository(client)
		logger.Info("using spanner store", slog.String("dsn", cfg.Spanner.DSN()))
		return &store{
			repo:    repo,
			tracker: repo,
			scope:   platformspanner.NewReadWriteTransactionScope(client),
			check: func(ctx context.Context) error {
				_, err := repo.FindByID(ctx, domain.MustParseOrderID("readiness-probe"))
				if errors.Is(err, domain.ErrOrderNotFound) {
					return nil
				}
				return err
			},
			close: func() error {
				client.Close()
				return nil
			},
		}, nil

	case storeDynamoDB:
		client, err := platformdynamodb.NewClient(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		repo := persistence.NewDynamoDBRepository(client, cfg.DynamoDB.Table)
		if cfg.CreateTables {
			if err := repo.CreateTable(ctx); err != nil {
				return nil, err
			}
		}
		logger.Info("using dynamodb store", slog.String("table", cfg.DynamoDB.Table))
		return &store{
			repo:    repo,
			tracker: repo,
			scope:   repo,
			check: func(ctx context.Context) error {
				_, err := repo.HasBeenApplied(ctx, domain.MustParseOrderID("readiness-probe"), domain.SourceEvent{
					AggregateType: "Probe", AggregateID: "probe", EventID: "probe",
				})
				return err
			},
			close: func() error { return nil },
		}, nil

	default:
		logger.Warn("using in-memory store, order history is lost on restart")
		s := persistence.NewInMemoryStore()
		return &store{
			repo:    s,
			tracker: s,
			scope:   s,
			check:   func(context.Context) error { return nil },
			close:   func() error { return nil },
		}, nil
	}
}
