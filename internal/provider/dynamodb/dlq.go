package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/muse/pkg/types"
)

// Put stores a dead-letter entry unless an entry with the same ID exists.
func (s *Store) Put(ctx context.Context, entry types.DLQEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling dlq entry %q: %w", entry.ID, err)
	}

	item := map[string]ddbtypes.AttributeValue{
		"PK":        &ddbtypes.AttributeValueMemberS{Value: dlqPK()},
		"SK":        &ddbtypes.AttributeValueMemberS{Value: dlqSK(entry.ID)},
		"operation": &ddbtypes.AttributeValueMemberS{Value: entry.Operation},
		"data":      &ddbtypes.AttributeValueMemberS{Value: string(data)},
	}
	// Entries are kept until replayed unless a retention window is configured.
	if s.retentionTTL > 0 {
		item["ttl"] = &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlEpoch(s.now(), s.retentionTTL))}
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("dlq entry %q already exists", entry.ID)
		}
		return fmt.Errorf("storing dlq entry %q: %w", entry.ID, err)
	}
	return nil
}

// List returns every stored entry in ID order. Items past their ttl remain
// listed until DynamoDB's TTL sweeper removes them.
func (s *Store) List(ctx context.Context) ([]types.DLQEntry, error) {
	var (
		entries  []types.DLQEntry
		startKey map[string]ddbtypes.AttributeValue
	)
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              &s.tableName,
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk":     &ddbtypes.AttributeValueMemberS{Value: dlqPK()},
				":prefix": &ddbtypes.AttributeValueMemberS{Value: prefixDLQ},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("listing dlq entries: %w", err)
		}

		for _, item := range out.Items {
			data, err := attributeStr(item, "data")
			if err != nil {
				return nil, err
			}
			var e types.DLQEntry
			if err := json.Unmarshal([]byte(data), &e); err != nil {
				return nil, fmt.Errorf("unmarshaling dlq entry: %w", err)
			}
			entries = append(entries, e)
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return entries, nil
}

// Delete removes an entry.
func (s *Store) Delete(ctx context.Context, entry types.DLQEntry) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: dlqPK()},
			"SK": &ddbtypes.AttributeValueMemberS{Value: dlqSK(entry.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting dlq entry %q: %w", entry.ID, err)
	}
	return nil
}
