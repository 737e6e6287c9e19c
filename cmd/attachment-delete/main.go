// Package main implements the attachment-delete SQS consumer Lambda handler.
// It removes the blobs of deleted attachments from the blob service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jarrod-lowe/jmap-service-compose/internal/attachmentdelete"
	"github.com/jarrod-lowe/jmap-service-compose/internal/blob"
)

var logger = logging.New()

var errNoAccount = errors.New("message has no account")

// BlobDeleter abstracts blob deletion for dependency inversion.
type BlobDeleter interface {
	Delete(ctx context.Context, accountID, blobID string) error
}

// handler implements the attachment-delete SQS consumer logic.
type handler struct {
	blobDeleter BlobDeleter
}

// newHandler creates a new handler.
func newHandler(blobDeleter BlobDeleter) *handler {
	return &handler{blobDeleter: blobDeleter}
}

// handle processes an SQS event. A message is reported as a batch item
// failure if it cannot be parsed or any of its blobs cannot be deleted.
func (h *handler) handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	ctx, span := tracing.Tracer("jmap-attachment-delete").Start(ctx, "AttachmentDeleteHandler")
	defer span.End()

	var failures []events.SQSBatchItemFailure
	deleted := 0

	for _, record := range event.Records {
		msg, err := parseMessage(record.Body)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to parse SQS message",
				slog.String("message_id", record.MessageId),
				slog.String("error", err.Error()),
			)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}

		failed := false
		for _, blobID := range msg.BlobIDs {
			if err := h.blobDeleter.Delete(ctx, msg.AccountID, blobID); err != nil {
				logger.ErrorContext(ctx, "Failed to delete attachment blob",
					slog.String("account_id", msg.AccountID),
					slog.String("blob_id", blobID),
					slog.String("error", err.Error()),
				)
				failed = true
				continue
			}
			deleted++
		}
		if failed {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}

	logger.InfoContext(ctx, "Attachment delete batch completed",
		slog.Int("total", len(event.Records)),
		slog.Int("deleted", deleted),
		slog.Int("failures", len(failures)),
	)

	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

func parseMessage(body string) (attachmentdelete.Message, error) {
	var msg attachmentdelete.Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return msg, err
	}
	if msg.AccountID == "" {
		return msg, errNoAccount
	}
	return msg, nil
}

func main() {
	ctx := context.Background()

	tp, err := tracing.Init(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracer provider", slog.String("error", err.Error()))
		panic(err)
	}
	otel.SetTracerProvider(tp)

	// Set X-Ray propagator as global propagator for HTTP client trace context injection
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		xray.Propagator{},
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	blobURL := os.Getenv("BLOB_API_URL")

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to load AWS config", slog.String("error", err.Error()))
		panic(err)
	}

	// Instrument AWS SDK clients with OTel tracing
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	transport := blob.NewSigV4Transport(otelhttp.NewTransport(http.DefaultTransport), cfg.Credentials, cfg.Region)
	blobClient := blob.NewClient(blobURL, &http.Client{Transport: transport})

	h := newHandler(blobClient)
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
