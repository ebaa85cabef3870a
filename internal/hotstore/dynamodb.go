// Package hotstore is the short-TTL key-value store holding messages for
// conversations that are still in progress. Backed by DynamoDB: items are
// keyed by a composite partition key (the conversation key from spec §3)
// and a sort key combining a sortable UTC timestamp with the message id.
package hotstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

const (
	attrPK               = "PK"
	attrSK               = "SK"
	attrText             = "text"
	attrSource           = "source"
	attrCreatedAt        = "created_at"
	attrResolutionStatus = "resolution_status"
	attrTTL              = "ttl"

	// deleteBatchSize is chunked to 10 to stay aligned with the ingress
	// queue's delete-batch limit, even though DynamoDB's BatchWriteItem
	// allows up to 25.
	deleteBatchSize = 10
)

// Item is one hot-store row: a message attached to an in-progress
// conversation.
type Item struct {
	PartitionKey     string
	SortKey          string
	Text             string
	Source           string
	CreatedAt        string
	ResolutionStatus int
	ExpiresAt        time.Time
}

// Message is the subset of decode.Message the hot store needs to write.
type Message struct {
	ID        string
	Text      string
	Source    string
	CreatedAt string
}

type Store struct {
	client    *dynamodb.Client
	tableName string
}

func NewStore(client *dynamodb.Client, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// ConversationKey builds the partition key K = project#contact#channel.
func ConversationKey(project uuid.UUID, contactURN string, channel uuid.UUID) string {
	return fmt.Sprintf("%s#%s#%s", project, contactURN, channel)
}

// Store writes one message with composite key K and sort key S, expiring
// at now + ttl. Callers must only invoke this while the owning
// conversation is IN_PROGRESS.
func (s *Store) Store(ctx context.Context, key string, msg Message, resolutionStatus int, ttl time.Duration) error {
	createdAt := normalizeTimestamp(msg.CreatedAt)
	sortKey := fmt.Sprintf("%s#%s", createdAt, msg.ID)
	expiresAt := time.Now().Add(ttl)

	item := map[string]types.AttributeValue{
		attrPK:               &types.AttributeValueMemberS{Value: key},
		attrSK:               &types.AttributeValueMemberS{Value: sortKey},
		attrText:             &types.AttributeValueMemberS{Value: msg.Text},
		attrSource:           &types.AttributeValueMemberS{Value: msg.Source},
		attrCreatedAt:        &types.AttributeValueMemberS{Value: createdAt},
		attrResolutionStatus: &types.AttributeValueMemberN{Value: strconv.Itoa(resolutionStatus)},
		attrTTL:              &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Unix(), 10)},
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put hot message: %w", err)
	}
	return nil
}

// normalizeTimestamp parses the given ISO-8601 string, converts to UTC,
// and formats without an offset. On parse failure it strips a trailing "Z"
// or "+00:00" and stores the residual, per spec §4.4.
func normalizeTimestamp(raw string) string {
	candidates := []string{time.RFC3339, "2006-01-02T15:04:05"}
	for _, layout := range candidates {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format("2006-01-02T15:04:05")
		}
	}
	stripped := strings.TrimSuffix(raw, "Z")
	stripped = strings.TrimSuffix(stripped, "+00:00")
	return stripped
}

// GetMessages returns up to limit items for key, newest first, along with
// an opaque cursor for the next page (empty when exhausted).
func (s *Store) GetMessages(ctx context.Context, key string, limit int32, cursor string) ([]Item, string, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrPK,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: key},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(limit),
	}

	if cursor != "" {
		key, err := decodeCursor(cursor)
		if err != nil {
			// An undecodable cursor is ignored without reporting an error:
			// the query starts from the beginning of the partition.
			key = nil
		}
		input.ExclusiveStartKey = key
	}

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("query hot messages: %w", err)
	}

	items, err := itemsFromAttributeMaps(out.Items)
	if err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(out.LastEvaluatedKey) > 0 {
		nextCursor, err = encodeCursor(out.LastEvaluatedKey)
		if err != nil {
			return nil, "", err
		}
	}
	return items, nextCursor, nil
}

// GetAllMessages walks the entire partition for key, paging through every
// item. Used by the Migration Service to drain a closed conversation.
func (s *Store) GetAllMessages(ctx context.Context, key string) ([]Item, error) {
	var all []Item
	var startKey map[string]types.AttributeValue

	for {
		input := &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("#pk = :pk"),
			ExpressionAttributeNames: map[string]string{
				"#pk": attrPK,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: key},
			},
			ScanIndexForward:  aws.Bool(false),
			ExclusiveStartKey: startKey,
		}

		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan hot messages: %w", err)
		}

		items, err := itemsFromAttributeMaps(out.Items)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return all, nil
}

// DeleteAll best-effort deletes every item, chunked into batches of
// deleteBatchSize. Returns the first error encountered but keeps deleting
// remaining chunks — a partial failure is logged by the caller and relied
// on TTL to clean up eventually.
func (s *Store) DeleteAll(ctx context.Context, items []Item) error {
	var firstErr error

	for start := 0; start < len(items); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		writeRequests := make([]types.WriteRequest, 0, len(chunk))
		for _, item := range chunk {
			writeRequests = append(writeRequests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{
						attrPK: &types.AttributeValueMemberS{Value: item.PartitionKey},
						attrSK: &types.AttributeValueMemberS{Value: item.SortKey},
					},
				},
			})
		}

		_, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				s.tableName: writeRequests,
			},
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("batch delete hot messages: %w", err)
		}
	}
	return firstErr
}

func itemsFromAttributeMaps(maps []map[string]types.AttributeValue) ([]Item, error) {
	items := make([]Item, 0, len(maps))
	for _, m := range maps {
		item, err := itemFromAttributeMap(m)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].SortKey > items[j].SortKey
	})
	return items, nil
}

func itemFromAttributeMap(m map[string]types.AttributeValue) (Item, error) {
	item := Item{}
	var err error

	item.PartitionKey, err = attrString(m, attrPK)
	if err != nil {
		return Item{}, err
	}
	item.SortKey, err = attrString(m, attrSK)
	if err != nil {
		return Item{}, err
	}
	item.Text, _ = attrString(m, attrText)
	item.Source, _ = attrString(m, attrSource)
	item.CreatedAt, _ = attrString(m, attrCreatedAt)

	if n, ok := m[attrResolutionStatus].(*types.AttributeValueMemberN); ok {
		item.ResolutionStatus, _ = strconv.Atoi(n.Value)
	}
	if n, ok := m[attrTTL].(*types.AttributeValueMemberN); ok {
		epoch, _ := strconv.ParseInt(n.Value, 10, 64)
		item.ExpiresAt = time.Unix(epoch, 0).UTC()
	}
	return item, nil
}

func attrString(m map[string]types.AttributeValue, key string) (string, error) {
	v, ok := m[key].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %s missing or not a string", key)
	}
	return v.Value, nil
}

func encodeCursor(key map[string]types.AttributeValue) (string, error) {
	plain := make(map[string]string, len(key))
	for k, v := range key {
		s, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		plain[k] = s.Value
	}
	raw, err := json.Marshal(plain)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	var plain map[string]string
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("unmarshal cursor: %w", err)
	}
	out := make(map[string]types.AttributeValue, len(plain))
	for k, v := range plain {
		out[k] = &types.AttributeValueMemberS{Value: v}
	}
	return out, nil
}
