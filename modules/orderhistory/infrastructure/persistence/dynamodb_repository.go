package persistence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	platformdynamodb "github.com/rai/orderhistory-go/internal/platform/dynamodb"
	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
	sharedtypes "github.com/rai/orderhistory-go/modules/shared/types"
)

// ConsumerIndex is the global secondary index used for history scans.
const ConsumerIndex = "consumerId-creationDate-index"

// DynamoDBAPI is the subset of *dynamodb.Client the repository uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// DynamoDBRepository stores one item per order. Applied-event markers live in
// the item's appliedEvents string set, so an order change and its marker are
// written by the same conditional request. It implements transaction.Scope:
// writes are staged and sent on commit as a single PutItem or UpdateItem, or
// as TransactWriteItems when several orders changed.
type DynamoDBRepository struct {
	client DynamoDBAPI
	table  string
}

func NewDynamoDBRepository(client DynamoDBAPI, table string) *DynamoDBRepository {
	return &DynamoDBRepository{client: client, table: table}
}

type ddbOrder struct {
	OrderID        string        `dynamodbav:"orderId"`
	ConsumerID     string        `dynamodbav:"consumerId"`
	Status         string        `dynamodbav:"status"`
	CreationDate   int64         `dynamodbav:"creationDate"`
	RestaurantID   int64         `dynamodbav:"restaurantId"`
	RestaurantName string        `dynamodbav:"restaurantName"`
	LineItems      []ddbLineItem `dynamodbav:"lineItems"`
	Version        int64         `dynamodbav:"version"`
	AppliedEvents  []string      `dynamodbav:"appliedEvents,stringset,omitempty"`
}

type ddbLineItem struct {
	MenuItemID string `dynamodbav:"menuItemId"`
	Name       string `dynamodbav:"name"`
	Price      int64  `dynamodbav:"price"`
	Currency   string `dynamodbav:"currency,omitempty"`
	Quantity   int    `dynamodbav:"quantity"`
}

func toDDBOrder(s domain.Snapshot) ddbOrder {
	items := make([]ddbLineItem, len(s.LineItems))
	for i, item := range s.LineItems {
		items[i] = ddbLineItem{
			MenuItemID: item.MenuItemID,
			Name:       item.Name,
			Price:      item.Price.Amount(),
			Currency:   item.Price.Currency(),
			Quantity:   item.Quantity,
		}
	}
	return ddbOrder{
		OrderID:        s.OrderID,
		ConsumerID:     s.ConsumerID,
		Status:         s.Status.String(),
		CreationDate:   s.CreationDate.UnixNano(),
		RestaurantID:   s.RestaurantID,
		RestaurantName: s.RestaurantName,
		LineItems:      items,
		Version:        s.Version,
	}
}

func (o ddbOrder) toDomain() (*domain.Order, error) {
	items := make([]domain.LineItem, len(o.LineItems))
	for i, item := range o.LineItems {
		price, err := sharedtypes.NewMoney(item.Price, item.Currency)
		if err != nil {
			return nil, fmt.Errorf("invalid price on order %s: %w", o.OrderID, err)
		}
		items[i] = domain.LineItem{
			MenuItemID: item.MenuItemID,
			Name:       item.Name,
			Price:      price,
			Quantity:   item.Quantity,
		}
	}
	return domain.Reconstitute(domain.Snapshot{
		OrderID:        o.OrderID,
		ConsumerID:     o.ConsumerID,
		Status:         domain.Status(o.Status),
		CreationDate:   time.Unix(0, o.CreationDate).UTC(),
		RestaurantID:   o.RestaurantID,
		RestaurantName: o.RestaurantName,
		LineItems:      items,
		Version:        o.Version,
	}), nil
}

// dynamoTx stages the writes of one unit of work, per order.
type dynamoTx struct {
	writes map[string]*dynamoWrite
	order  []string
}

type dynamoWrite struct {
	item            *ddbOrder // nil when only markers were recorded
	expectedVersion int64
	markers         []string
}

func (tx *dynamoTx) write(orderID string) *dynamoWrite {
	w, ok := tx.writes[orderID]
	if !ok {
		w = &dynamoWrite{}
		tx.writes[orderID] = w
		tx.order = append(tx.order, orderID)
	}
	return w
}

type dynamoTxKey struct{}

func dynamoTxFromContext(ctx context.Context) (*dynamoTx, bool) {
	tx, ok := ctx.Value(dynamoTxKey{}).(*dynamoTx)
	return tx, ok
}

// Execute stages the writes of fn and commits them atomically. A lost
// condition check is reported as domain.ErrConcurrentUpdate. A nested call
// joins the outer unit of work.
func (r *DynamoDBRepository) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := dynamoTxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx := &dynamoTx{writes: make(map[string]*dynamoWrite)}
	if err := fn(context.WithValue(ctx, dynamoTxKey{}, tx)); err != nil {
		return err
	}

	err := r.commit(ctx, tx)
	if platformdynamodb.IsConditionFailure(err) {
		return fmt.Errorf("%w: %w", domain.ErrConcurrentUpdate, err)
	}
	return err
}

func (r *DynamoDBRepository) commit(ctx context.Context, tx *dynamoTx) error {
	items := make([]types.TransactWriteItem, 0, len(tx.order))
	for _, orderID := range tx.order {
		item, err := r.writeItem(orderID, tx.writes[orderID])
		if err != nil {
			return err
		}
		items = append(items, item)
	}

	switch len(items) {
	case 0:
		return nil
	case 1:
		if put := items[0].Put; put != nil {
			_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
				TableName:                 put.TableName,
				Item:                      put.Item,
				ConditionExpression:       put.ConditionExpression,
				ExpressionAttributeNames:  put.ExpressionAttributeNames,
				ExpressionAttributeValues: put.ExpressionAttributeValues,
			})
			if err != nil {
				return fmt.Errorf("dynamodb PutItem failed: %w", err)
			}
			return nil
		}
		update := items[0].Update
		_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 update.TableName,
			Key:                       update.Key,
			UpdateExpression:          update.UpdateExpression,
			ConditionExpression:       update.ConditionExpression,
			ExpressionAttributeNames:  update.ExpressionAttributeNames,
			ExpressionAttributeValues: update.ExpressionAttributeValues,
		})
		if err != nil {
			return fmt.Errorf("dynamodb UpdateItem failed: %w", err)
		}
		return nil
	default:
		_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err != nil {
			return fmt.Errorf("dynamodb TransactWriteItems failed: %w", err)
		}
		return nil
	}
}

// writeItem turns a staged write into a conditional request: a Put for a new
// order, an Update guarded by the loaded version for an existing one, or a
// marker-only Update for an order that was not changed.
func (r *DynamoDBRepository) writeItem(orderID string, w *dynamoWrite) (types.TransactWriteItem, error) {
	key := map[string]types.AttributeValue{"orderId": &types.AttributeValueMemberS{Value: orderID}}

	if w.item != nil && w.expectedVersion == 0 {
		item := *w.item
		item.AppliedEvents = w.markers
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return types.TransactWriteItem{}, fmt.Errorf("marshal order: %w", err)
		}
		return types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(r.table),
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(orderId)"),
		}}, nil
	}

	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	var expr, cond string

	if w.item != nil {
		lineItems, err := attributevalue.Marshal(w.item.LineItems)
		if err != nil {
			return types.TransactWriteItem{}, fmt.Errorf("marshal line items: %w", err)
		}
		expr = "SET #status = :status, #restaurantId = :restaurantId, #restaurantName = :restaurantName, #lineItems = :lineItems, #version = :next"
		cond = "#version = :expected"
		names["#status"] = "status"
		names["#restaurantId"] = "restaurantId"
		names["#restaurantName"] = "restaurantName"
		names["#lineItems"] = "lineItems"
		names["#version"] = "version"
		values[":status"] = &types.AttributeValueMemberS{Value: w.item.Status}
		values[":restaurantId"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(w.item.RestaurantID, 10)}
		values[":restaurantName"] = &types.AttributeValueMemberS{Value: w.item.RestaurantName}
		values[":lineItems"] = lineItems
		values[":next"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(w.item.Version, 10)}
		values[":expected"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(w.expectedVersion, 10)}
	} else {
		cond = "attribute_exists(orderId)"
	}

	if len(w.markers) > 0 {
		if expr != "" {
			expr += " "
		}
		expr += "ADD #appliedEvents :markers"
		names["#appliedEvents"] = "appliedEvents"
		values[":markers"] = &types.AttributeValueMemberSS{Value: w.markers}
	}

	update := &types.Update{
		TableName:                aws.String(r.table),
		Key:                      key,
		UpdateExpression:         aws.String(expr),
		ConditionExpression:      aws.String(cond),
		ExpressionAttributeNames: names,
	}
	if len(values) > 0 {
		update.ExpressionAttributeValues = values
	}
	return types.TransactWriteItem{Update: update}, nil
}

func (r *DynamoDBRepository) getItem(ctx context.Context, orderID string) (*ddbOrder, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            map[string]types.AttributeValue{"orderId": &types.AttributeValueMemberS{Value: orderID}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var item ddbOrder
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &item, nil
}

func (r *DynamoDBRepository) FindByID(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	if tx, ok := dynamoTxFromContext(ctx); ok {
		if w, ok := tx.writes[id.String()]; ok && w.item != nil {
			return w.item.toDomain()
		}
	}

	item, err := r.getItem(ctx, id.String())
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrOrderNotFound
	}
	return item.toDomain()
}

// FindByConsumer queries the consumer index. Index reads are eventually
// consistent, so a just-projected order can be missing for a short while.
func (r *DynamoDBRepository) FindByConsumer(ctx context.Context, consumerID domain.ConsumerID) ([]*domain.Order, error) {
	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String(ConsumerIndex),
		KeyConditionExpression: aws.String("consumerId = :consumerId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":consumerId": &types.AttributeValueMemberS{Value: consumerID.String()},
		},
		ScanIndexForward: aws.Bool(false),
	})

	var orders []*domain.Order
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb Query failed: %w", err)
		}
		var items []ddbOrder
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		for _, item := range items {
			order, err := item.toDomain()
			if err != nil {
				return nil, err
			}
			orders = append(orders, order)
		}
	}

	// The index orders by creation date only.
	slices.SortStableFunc(orders, func(a, b *domain.Order) int {
		return domain.CompareHistoryKey(a.HistoryKey(), b.HistoryKey())
	})
	return orders, nil
}

// Save stages the order inside Execute and otherwise runs its own unit of
// work.
func (r *DynamoDBRepository) Save(ctx context.Context, order *domain.Order) error {
	tx, ok := dynamoTxFromContext(ctx)
	if !ok {
		return r.Execute(ctx, func(ctx context.Context) error {
			return r.Save(ctx, order)
		})
	}

	item := toDDBOrder(order.Snapshot())
	w := tx.write(item.OrderID)
	if w.item == nil {
		w.expectedVersion = item.Version
	} else if w.item.Version != item.Version {
		return domain.ErrConcurrentUpdate
	}
	item.Version++
	w.item = &item
	return nil
}

func (r *DynamoDBRepository) HasBeenApplied(ctx context.Context, orderID domain.OrderID, event domain.SourceEvent) (bool, error) {
	marker := event.Marker()
	if tx, ok := dynamoTxFromContext(ctx); ok {
		if w, ok := tx.writes[orderID.String()]; ok && slices.Contains(w.markers, marker) {
			return true, nil
		}
	}

	item, err := r.getItem(ctx, orderID.String())
	if err != nil {
		return false, err
	}
	return item != nil && slices.Contains(item.AppliedEvents, marker), nil
}

func (r *DynamoDBRepository) RecordApplied(ctx context.Context, orderID domain.OrderID, event domain.SourceEvent) error {
	tx, ok := dynamoTxFromContext(ctx)
	if !ok {
		return r.Execute(ctx, func(ctx context.Context) error {
			return r.RecordApplied(ctx, orderID, event)
		})
	}

	w := tx.write(orderID.String())
	if marker := event.Marker(); !slices.Contains(w.markers, marker) {
		w.markers = append(w.markers, marker)
	}
	return nil
}

// CreateTable creates the order table and its consumer index. An existing
// table is left as is.
func (r *DynamoDBRepository) CreateTable(ctx context.Context) error {
	_, err := r.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(r.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("orderId"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("consumerId"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("creationDate"), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("orderId"), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String(ConsumerIndex),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("consumerId"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("creationDate"), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dynamodb CreateTable failed: %w", err)
	}
	return nil
}
