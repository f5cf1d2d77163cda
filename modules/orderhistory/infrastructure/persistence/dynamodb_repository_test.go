package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
	"github.com/rai/orderhistory-go/modules/orderhistory/infrastructure/persistence"
)

// --- Mocks ---

type mockDynamoDB struct {
	getItemFn            func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	putItemFn            func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	updateItemFn         func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	transactWriteItemsFn func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error)
	queryFn              func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
}

func (m *mockDynamoDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getItemFn == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return m.getItemFn(in)
}

func (m *mockDynamoDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return m.putItemFn(in)
}

func (m *mockDynamoDB) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return m.updateItemFn(in)
}

func (m *mockDynamoDB) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	return m.transactWriteItemsFn(in)
}

func (m *mockDynamoDB) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return m.queryFn(in)
}

func (m *mockDynamoDB) CreateTable(context.Context, *dynamodb.CreateTableInput, ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	return &dynamodb.CreateTableOutput{}, nil
}

type storedItem struct {
	OrderID       string   `dynamodbav:"orderId"`
	ConsumerID    string   `dynamodbav:"consumerId"`
	Status        string   `dynamodbav:"status"`
	CreationDate  int64    `dynamodbav:"creationDate"`
	Version       int64    `dynamodbav:"version"`
	AppliedEvents []string `dynamodbav:"appliedEvents,stringset,omitempty"`
}

func marshalItem(t *testing.T, item storedItem) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return av
}

// --- Tests ---

func TestDynamoDBRepository_NewOrderCommitsSingleConditionalPut(t *testing.T) {
	var put *dynamodb.PutItemInput
	client := &mockDynamoDB{
		putItemFn: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			put = in
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	repo := persistence.NewDynamoDBRepository(client, "order_history")
	orderID := domain.MustParseOrderID("order-1")

	err := repo.Execute(context.Background(), func(ctx context.Context) error {
		if err := repo.Save(ctx, newOrder(t, "order-1", "consumer-1", time.Now(), "pizza")); err != nil {
			return err
		}
		return repo.RecordApplied(ctx, orderID, source(t, "e-1"))
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if put == nil {
		t.Fatal("expected PutItem")
	}
	if got := aws.ToString(put.ConditionExpression); got != "attribute_not_exists(orderId)" {
		t.Errorf("condition = %q", got)
	}
	var item storedItem
	if err := attributevalue.UnmarshalMap(put.Item, &item); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if item.Version != 1 {
		t.Errorf("version = %d, want 1", item.Version)
	}
	if len(item.AppliedEvents) != 1 || item.AppliedEvents[0] != "Order/order-1#e-1" {
		t.Errorf("applied events = %v", item.AppliedEvents)
	}
}

func TestDynamoDBRepository_UpdateIsGuardedByLoadedVersion(t *testing.T) {
	var update *dynamodb.UpdateItemInput
	client := &mockDynamoDB{
		getItemFn: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: marshalItem(t, storedItem{
				OrderID:      "order-1",
				ConsumerID:   "consumer-1",
				Status:       string(domain.StatusApproved),
				CreationDate: time.Now().UnixNano(),
				Version:      4,
			})}, nil
		},
		updateItemFn: func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			update = in
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}
	repo := persistence.NewDynamoDBRepository(client, "order_history")
	orderID := domain.MustParseOrderID("order-1")

	err := repo.Execute(context.Background(), func(ctx context.Context) error {
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		order.Cancel()
		if err := repo.Save(ctx, order); err != nil {
			return err
		}
		return repo.RecordApplied(ctx, orderID, source(t, "e-2"))
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if update == nil {
		t.Fatal("expected UpdateItem")
	}
	if got := aws.ToString(update.ConditionExpression); got != "#version = :expected" {
		t.Errorf("condition = %q", got)
	}
	if n := update.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value; n != "4" {
		t.Errorf(":expected = %s, want 4", n)
	}
	if n := update.ExpressionAttributeValues[":next"].(*types.AttributeValueMemberN).Value; n != "5" {
		t.Errorf(":next = %s, want 5", n)
	}
	if s := update.ExpressionAttributeValues[":status"].(*types.AttributeValueMemberS).Value; s != string(domain.StatusCancelled) {
		t.Errorf(":status = %s", s)
	}
	markers := update.ExpressionAttributeValues[":markers"].(*types.AttributeValueMemberSS).Value
	if len(markers) != 1 || markers[0] != "Order/order-1#e-2" {
		t.Errorf(":markers = %v", markers)
	}
}

func TestDynamoDBRepository_SeveralOrdersCommitInOneTransaction(t *testing.T) {
	var tx *dynamodb.TransactWriteItemsInput
	client := &mockDynamoDB{
		transactWriteItemsFn: func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			tx = in
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}
	repo := persistence.NewDynamoDBRepository(client, "order_history")

	err := repo.Execute(context.Background(), func(ctx context.Context) error {
		for _, id := range []string{"order-1", "order-2"} {
			if err := repo.Save(ctx, newOrder(t, id, "consumer-1", time.Now(), "pizza")); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if tx == nil || len(tx.TransactItems) != 2 {
		t.Fatalf("expected a transaction with 2 items, got %+v", tx)
	}
}

func TestDynamoDBRepository_ConditionFailureIsConcurrentUpdate(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "conditional check failed", err: &types.ConditionalCheckFailedException{Message: aws.String("failed")}},
		{name: "transaction cancelled", err: &types.TransactionCanceledException{
			CancellationReasons: []types.CancellationReason{{Code: aws.String("None")}, {Code: aws.String("ConditionalCheckFailed")}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockDynamoDB{
				putItemFn: func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
					return nil, tt.err
				},
			}
			repo := persistence.NewDynamoDBRepository(client, "order_history")

			err := repo.Save(context.Background(), newOrder(t, "order-1", "consumer-1", time.Now(), "pizza"))
			if !errors.Is(err, domain.ErrConcurrentUpdate) {
				t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
			}
		})
	}
}

func TestDynamoDBRepository_HasBeenApplied(t *testing.T) {
	client := &mockDynamoDB{
		getItemFn: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			if !aws.ToBool(in.ConsistentRead) {
				t.Error("expected a consistent read")
			}
			return &dynamodb.GetItemOutput{Item: marshalItem(t, storedItem{
				OrderID:       "order-1",
				ConsumerID:    "consumer-1",
				Status:        string(domain.StatusApprovalPending),
				Version:       1,
				AppliedEvents: []string{"Order/order-1#e-1"},
			})}, nil
		},
	}
	repo := persistence.NewDynamoDBRepository(client, "order_history")
	orderID := domain.MustParseOrderID("order-1")

	if applied, err := repo.HasBeenApplied(context.Background(), orderID, source(t, "e-1")); err != nil || !applied {
		t.Errorf("e-1: applied=%v err=%v, want true", applied, err)
	}
	if applied, err := repo.HasBeenApplied(context.Background(), orderID, source(t, "e-2")); err != nil || applied {
		t.Errorf("e-2: applied=%v err=%v, want false", applied, err)
	}
}

func TestDynamoDBRepository_MarkersKeepSeparatorsInsideFields(t *testing.T) {
	approved, err := domain.NewSourceEvent("Order", "x#1", "2")
	if err != nil {
		t.Fatalf("new source event: %v", err)
	}
	cancelled, err := domain.NewSourceEvent("Order", "x", "1#2")
	if err != nil {
		t.Fatalf("new source event: %v", err)
	}
	client := &mockDynamoDB{
		getItemFn: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: marshalItem(t, storedItem{
				OrderID:       "order-1",
				ConsumerID:    "consumer-1",
				Status:        string(domain.StatusApproved),
				Version:       2,
				AppliedEvents: []string{approved.Marker()},
			})}, nil
		},
	}
	repo := persistence.NewDynamoDBRepository(client, "order_history")
	orderID := domain.MustParseOrderID("order-1")

	if applied, err := repo.HasBeenApplied(context.Background(), orderID, cancelled); err != nil || applied {
		t.Errorf("distinct event reported as applied: applied=%v err=%v", applied, err)
	}
	if applied, err := repo.HasBeenApplied(context.Background(), orderID, approved); err != nil || !applied {
		t.Errorf("recorded event: applied=%v err=%v", applied, err)
	}
}

func TestDynamoDBRepository_FindByConsumerQueriesIndex(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	client := &mockDynamoDB{
		queryFn: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			if aws.ToString(in.IndexName) != persistence.ConsumerIndex {
				t.Errorf("index = %q", aws.ToString(in.IndexName))
			}
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
				marshalItem(t, storedItem{OrderID: "b", ConsumerID: "consumer-1", Status: "APPROVED", CreationDate: base.UnixNano(), Version: 1}),
				marshalItem(t, storedItem{OrderID: "a", ConsumerID: "consumer-1", Status: "APPROVED", CreationDate: base.UnixNano(), Version: 1}),
			}}, nil
		},
	}
	repo := persistence.NewDynamoDBRepository(client, "order_history")

	orders, err := repo.FindByConsumer(context.Background(), domain.MustParseConsumerID("consumer-1"))
	if err != nil {
		t.Fatalf("find by consumer: %v", err)
	}
	if len(orders) != 2 || orders[0].ID().String() != "a" || orders[1].ID().String() != "b" {
		t.Fatalf("unexpected order: %v", orders)
	}
}
