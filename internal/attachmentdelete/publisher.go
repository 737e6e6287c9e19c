// Package attachmentdelete queues attachment content for asynchronous
// removal from the blob service.
package attachmentdelete

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// MaxBlobsPerMessage bounds the blob IDs carried by one queue message.
const MaxBlobsPerMessage = 100

// Publisher queues blob deletions.
type Publisher interface {
	PublishAttachmentDeletions(ctx context.Context, accountID string, blobIDs []string) error
}

// Message is the SQS message body consumed by the attachment-delete worker.
type Message struct {
	AccountID string   `json:"accountId"`
	BlobIDs   []string `json:"blobIds"`
}

// SQSSender abstracts SQS send operations for dependency inversion.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher publishes deletion requests to an SQS queue.
type SQSPublisher struct {
	client   SQSSender
	queueURL string
}

// NewSQSPublisher creates a new SQSPublisher.
func NewSQSPublisher(client SQSSender, queueURL string) *SQSPublisher {
	return &SQSPublisher{client: client, queueURL: queueURL}
}

// PublishAttachmentDeletions sends one message per MaxBlobsPerMessage blob IDs.
func (p *SQSPublisher) PublishAttachmentDeletions(ctx context.Context, accountID string, blobIDs []string) error {
	for start := 0; start < len(blobIDs); start += MaxBlobsPerMessage {
		end := min(start+MaxBlobsPerMessage, len(blobIDs))
		body, err := json.Marshal(Message{AccountID: accountID, BlobIDs: blobIDs[start:end]})
		if err != nil {
			return err
		}
		_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			return fmt.Errorf("sending deletion message: %w", err)
		}
	}
	return nil
}
