package ingest

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// RawMessage is one polled queue message, carrying just enough for the
// pipeline and the per-group worker pool to do their job.
type RawMessage struct {
	MessageID     string
	ReceiptHandle string
	Body          []byte
	GroupID       string
}

// QueueClient is the FIFO source the Ingestion Pipeline polls. Implemented
// here against SQS FIFO, where message-group ordering and at-most-one
// in-flight delivery per group are native guarantees.
type QueueClient interface {
	Receive(ctx context.Context) ([]RawMessage, error)
	DeleteBatch(ctx context.Context, handles []string) error
}

type sqsClient struct {
	client              *sqs.Client
	queueURL            string
	waitTimeSeconds     int32
	maxNumberOfMessages int32
}

func NewSQSClient(client *sqs.Client, queueURL string, waitTimeSeconds, maxNumberOfMessages int32) QueueClient {
	return &sqsClient{
		client:              client,
		queueURL:            queueURL,
		waitTimeSeconds:     waitTimeSeconds,
		maxNumberOfMessages: maxNumberOfMessages,
	}
}

// Receive long-polls for up to maxNumberOfMessages messages, waiting up to
// waitTimeSeconds. Returns an empty slice (not an error) on timeout.
func (c *sqsClient) Receive(ctx context.Context) ([]RawMessage, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(c.queueURL),
		MaxNumberOfMessages:   c.maxNumberOfMessages,
		WaitTimeSeconds:       c.waitTimeSeconds,
		MessageAttributeNames: []string{"All"},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameMessageGroupId,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	messages := make([]RawMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		groupID := m.Attributes[string(types.MessageSystemAttributeNameMessageGroupId)]
		messages = append(messages, RawMessage{
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          []byte(aws.ToString(m.Body)),
			GroupID:       groupID,
		})
	}
	return messages, nil
}

// DeleteBatch deletes up to 10 handles in one call, falling back to
// per-message deletes for any that the batch call reports as failed.
func (c *sqsClient) DeleteBatch(ctx context.Context, handles []string) error {
	if len(handles) == 0 {
		return nil
	}

	entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(handles))
	for i, h := range handles {
		entries = append(entries, types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(fmt.Sprintf("%d", i)),
			ReceiptHandle: aws.String(h),
		})
	}

	out, err := c.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(c.queueURL),
		Entries:  entries,
	})
	if err != nil {
		return c.deleteOneByOne(ctx, handles)
	}

	if len(out.Failed) == 0 {
		return nil
	}

	failedIndices := make(map[string]bool, len(out.Failed))
	for _, f := range out.Failed {
		failedIndices[aws.ToString(f.Id)] = true
	}
	var retry []string
	for i, h := range handles {
		if failedIndices[fmt.Sprintf("%d", i)] {
			retry = append(retry, h)
		}
	}
	return c.deleteOneByOne(ctx, retry)
}

func (c *sqsClient) deleteOneByOne(ctx context.Context, handles []string) error {
	var firstErr error
	for _, h := range handles {
		_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.queueURL),
			ReceiptHandle: aws.String(h),
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete message: %w", err)
		}
	}
	return firstErr
}
