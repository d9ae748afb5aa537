// Package sqs implements the dead-letter store on an Amazon SQS queue.
//
// SQS has no random-access listing: List receives messages with a visibility
// timeout and carries each receipt handle in DLQEntry.Handle. Entries that are
// not deleted become visible again once the timeout lapses, which matches the
// keep-on-failure replay contract.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/dwsmith1983/muse/internal/provider"
	"github.com/dwsmith1983/muse/pkg/types"
)

var _ provider.DeadLetterStore = (*Store)(nil)

const (
	defaultVisibility  = 300 // seconds
	defaultMaxMessages = 1000
	batchSize          = 10
)

// SQSAPI is the subset of the SQS client used by Store.
type SQSAPI interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Store is a DeadLetterStore backed by one SQS queue.
type Store struct {
	client      SQSAPI
	queueURL    string
	visibility  int32
	maxMessages int
}

// New creates a Store using the default AWS credential chain.
func New(ctx context.Context, queueURL string) (*Store, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("sqs queueUrl required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewWithClient(sqs.NewFromConfig(awsCfg), queueURL), nil
}

// NewWithClient creates a Store over an existing client.
func NewWithClient(client SQSAPI, queueURL string) *Store {
	return &Store{
		client:      client,
		queueURL:    queueURL,
		visibility:  defaultVisibility,
		maxMessages: defaultMaxMessages,
	}
}

// Put sends the entry as a JSON message body.
func (s *Store) Put(ctx context.Context, entry types.DLQEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling dlq entry %q: %w", entry.ID, err)
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &s.queueURL,
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"operation": {DataType: aws.String("String"), StringValue: aws.String(entry.Operation)},
			"entryId":   {DataType: aws.String("String"), StringValue: aws.String(entry.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("sending dlq entry %q: %w", entry.ID, err)
	}
	return nil
}

// List drains currently visible messages up to the store's limit. Each
// returned entry's Handle is its receipt handle for Delete.
func (s *Store) List(ctx context.Context) ([]types.DLQEntry, error) {
	var (
		entries []types.DLQEntry
		seen    = make(map[string]bool)
	)
	for len(entries) < s.maxMessages {
		out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &s.queueURL,
			MaxNumberOfMessages: batchSize,
			VisibilityTimeout:   s.visibility,
			WaitTimeSeconds:     0,
		})
		if err != nil {
			return nil, fmt.Errorf("receiving dlq messages: %w", err)
		}
		if len(out.Messages) == 0 {
			break
		}

		for _, m := range out.Messages {
			id := aws.ToString(m.MessageId)
			if seen[id] {
				continue
			}
			seen[id] = true

			var e types.DLQEntry
			if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &e); err != nil {
				return nil, fmt.Errorf("decoding dlq message %s: %w", id, err)
			}
			e.Handle = aws.ToString(m.ReceiptHandle)
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Delete removes the message identified by the entry's receipt handle.
func (s *Store) Delete(ctx context.Context, entry types.DLQEntry) error {
	if entry.Handle == "" {
		return fmt.Errorf("dlq entry %q has no receipt handle", entry.ID)
	}
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &s.queueURL,
		ReceiptHandle: aws.String(entry.Handle),
	})
	if err != nil {
		return fmt.Errorf("deleting dlq entry %q: %w", entry.ID, err)
	}
	return nil
}
