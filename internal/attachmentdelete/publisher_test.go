package attachmentdelete

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// mockSQSSender implements SQSSender for testing.
type mockSQSSender struct {
	sendFunc func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

func (m *mockSQSSender) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if m.sendFunc != nil {
		return m.sendFunc(ctx, params, optFns...)
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSPublisher_PublishAttachmentDeletions(t *testing.T) {
	var bodies []string
	var queue string
	mock := &mockSQSSender{
		sendFunc: func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
			bodies = append(bodies, *params.MessageBody)
			queue = *params.QueueUrl
			return &sqs.SendMessageOutput{}, nil
		},
	}

	pub := NewSQSPublisher(mock, "https://sqs.example.com/queue")
	if err := pub.PublishAttachmentDeletions(context.Background(), "user-123", []string{"blob-1", "blob-2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if queue != "https://sqs.example.com/queue" {
		t.Errorf("QueueUrl = %q", queue)
	}
	if len(bodies) != 1 {
		t.Fatalf("messages = %d, want 1", len(bodies))
	}

	var msg Message
	if err := json.Unmarshal([]byte(bodies[0]), &msg); err != nil {
		t.Fatalf("failed to parse message body: %v", err)
	}
	if msg.AccountID != "user-123" {
		t.Errorf("AccountID = %q, want %q", msg.AccountID, "user-123")
	}
	if len(msg.BlobIDs) != 2 || msg.BlobIDs[0] != "blob-1" || msg.BlobIDs[1] != "blob-2" {
		t.Errorf("BlobIDs = %v", msg.BlobIDs)
	}
}

func TestSQSPublisher_Batches(t *testing.T) {
	var sizes []int
	mock := &mockSQSSender{
		sendFunc: func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
			var msg Message
			_ = json.Unmarshal([]byte(*params.MessageBody), &msg)
			sizes = append(sizes, len(msg.BlobIDs))
			return &sqs.SendMessageOutput{}, nil
		},
	}

	ids := make([]string, 2*MaxBlobsPerMessage+5)
	for i := range ids {
		ids[i] = fmt.Sprintf("blob-%d", i)
	}
	if err := NewSQSPublisher(mock, "q").PublishAttachmentDeletions(context.Background(), "acc", ids); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sizes) != 3 || sizes[0] != MaxBlobsPerMessage || sizes[2] != 5 {
		t.Errorf("batch sizes = %v", sizes)
	}
}

func TestSQSPublisher_SQSError(t *testing.T) {
	mock := &mockSQSSender{
		sendFunc: func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
			return nil, errors.New("sqs send failed")
		},
	}
	err := NewSQSPublisher(mock, "q").PublishAttachmentDeletions(context.Background(), "acc", []string{"b"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestSQSPublisher_EmptyBlobIDs(t *testing.T) {
	sendCalled := false
	mock := &mockSQSSender{
		sendFunc: func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
			sendCalled = true
			return &sqs.SendMessageOutput{}, nil
		},
	}
	if err := NewSQSPublisher(mock, "q").PublishAttachmentDeletions(context.Background(), "acc", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sendCalled {
		t.Error("SendMessage should not be called for empty blob IDs")
	}
}
