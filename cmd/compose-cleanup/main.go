// Package main implements the compose-cleanup DynamoDB Streams handler.
// It triggers on REMOVE events of composition space items, whether closed
// or expired by TTL, and deletes the attachments of the removed space.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"

	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment/blobstore"
	"github.com/jarrod-lowe/jmap-service-compose/internal/attachmentdelete"
	"github.com/jarrod-lowe/jmap-service-compose/internal/dynamo"
)

var logger = logging.New()

// AttachmentDeleter removes the attachments of a composition space.
type AttachmentDeleter interface {
	DeleteAttachmentsByCompositionSpace(ctx context.Context, accountID string, spaceID uuid.UUID) error
}

// handler implements the compose-cleanup stream consumer logic.
type handler struct {
	attachments AttachmentDeleter
}

// newHandler creates a new handler.
func newHandler(attachments AttachmentDeleter) *handler {
	return &handler{attachments: attachments}
}

// handle processes a DynamoDB Streams event. A failed deletion fails the
// batch so the stream retries it.
func (h *handler) handle(ctx context.Context, event events.DynamoDBEvent) error {
	ctx, span := tracing.Tracer("jmap-compose-cleanup").Start(ctx, "ComposeCleanupHandler")
	defer span.End()

	cleaned := 0
	for _, record := range event.Records {
		if record.EventName != string(events.DynamoDBOperationTypeRemove) {
			continue
		}
		accountID, spaceID, ok := spaceKeys(record.Change.Keys)
		if !ok {
			continue
		}

		if err := h.attachments.DeleteAttachmentsByCompositionSpace(ctx, accountID, spaceID); err != nil {
			logger.ErrorContext(ctx, "Failed to delete attachments of removed composition space",
				slog.String("account_id", accountID),
				slog.String("space_id", spaceID.String()),
				slog.String("error", err.Error()),
			)
			tracing.RecordError(span, err)
			return err
		}
		cleaned++
	}

	logger.InfoContext(ctx, "Compose cleanup batch completed",
		slog.Int("total", len(event.Records)),
		slog.Int("cleaned", cleaned),
	)
	return nil
}

// spaceKeys extracts the account and space of a composition space item.
// Other items in the table are skipped.
func spaceKeys(keys map[string]events.DynamoDBAttributeValue) (string, uuid.UUID, bool) {
	pk, ok := keys[dynamo.AttrPK]
	if !ok || pk.DataType() != events.DataTypeString {
		return "", uuid.Nil, false
	}
	sk, ok := keys[dynamo.AttrSK]
	if !ok || sk.DataType() != events.DataTypeString {
		return "", uuid.Nil, false
	}
	accountID, ok := dynamo.AccountFromPK(pk.String())
	if !ok {
		return "", uuid.Nil, false
	}
	raw, ok := dynamo.SpaceFromSK(sk.String())
	if !ok {
		return "", uuid.Nil, false
	}
	spaceID, err := uuid.Parse(raw)
	if err != nil {
		return "", uuid.Nil, false
	}
	return accountID, spaceID, true
}

func main() {
	ctx := context.Background()

	tp, err := tracing.Init(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracer provider", slog.String("error", err.Error()))
		panic(err)
	}
	otel.SetTracerProvider(tp)

	attachmentTable := os.Getenv("ATTACHMENT_TABLE_NAME")
	deleteQueueURL := os.Getenv("ATTACHMENT_DELETE_QUEUE_URL")

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to load AWS config", slog.String("error", err.Error()))
		panic(err)
	}

	// Instrument AWS SDK clients with OTel tracing
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	var publisher attachmentdelete.Publisher
	if deleteQueueURL != "" {
		publisher = attachmentdelete.NewSQSPublisher(sqs.NewFromConfig(cfg), deleteQueueURL)
	}
	store := blobstore.NewStore(dynamodb.NewFromConfig(cfg), attachmentTable, nil, nil, publisher)

	h := newHandler(store)
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
