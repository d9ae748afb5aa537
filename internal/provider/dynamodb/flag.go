package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func flagKey() map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"PK": &ddbtypes.AttributeValueMemberS{Value: flagPK()},
		"SK": &ddbtypes.AttributeValueMemberS{Value: flagSK()},
	}
}

// Write stores the gate flag. Last write wins.
func (s *Store) Write(ctx context.Context, writtenAt time.Time) error {
	item := flagKey()
	item["writtenAt"] = &ddbtypes.AttributeValueMemberS{Value: writtenAt.UTC().Format(time.RFC3339Nano)}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("writing gate flag: %w", err)
	}
	return nil
}

// Read returns the gate flag's written-at timestamp and whether it exists.
func (s *Store) Read(ctx context.Context) (time.Time, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            flagKey(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading gate flag: %w", err)
	}
	if out.Item == nil {
		return time.Time{}, false, nil
	}

	raw, err := attributeStr(out.Item, "writtenAt")
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading gate flag: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing gate flag %q: %w", raw, err)
	}
	return t, true, nil
}

// Clear deletes the gate flag. Deleting an absent item is not an error.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key:       flagKey(),
	})
	if err != nil {
		return fmt.Errorf("clearing gate flag: %w", err)
	}
	return nil
}
