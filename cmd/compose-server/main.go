// Package main runs the composition space HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/99designs/keyring"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment"
	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment/blobstore"
	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment/dbstore"
	"github.com/jarrod-lowe/jmap-service-compose/internal/attachmentdelete"
	"github.com/jarrod-lowe/jmap-service-compose/internal/blob"
	"github.com/jarrod-lowe/jmap-service-compose/internal/compose"
	"github.com/jarrod-lowe/jmap-service-compose/internal/config"
	"github.com/jarrod-lowe/jmap-service-compose/internal/credential"
	"github.com/jarrod-lowe/jmap-service-compose/internal/mailaccess"
	"github.com/jarrod-lowe/jmap-service-compose/internal/session"
	"github.com/jarrod-lowe/jmap-service-compose/internal/spacestore"
	"github.com/jarrod-lowe/jmap-service-compose/internal/transport"
)

var logger = logging.New()

const shutdownTimeout = 10 * time.Second

func fatal(msg string, err error) {
	logger.Error("FATAL: "+msg, slog.String("error", err.Error()))
	os.Exit(1)
}

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("Failed to load configuration", err)
	}

	tp, err := tracing.Init(ctx)
	if err != nil {
		fatal("Failed to initialize tracer provider", err)
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		xray.Propagator{},
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("Failed to load AWS config", err)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	store := spacestore.NewStore(dynamoClient, cfg.SpaceTableName, cfg.MaxSpaces, cfg.SpaceTTL)

	storage, closeStorage, err := openAttachmentStorage(cfg, awsCfg, dynamoClient)
	if err != nil {
		fatal("Failed to open attachment storage", err)
	}
	defer closeStorage()
	resolver := &attachment.CapabilityResolver{Default: storage}

	passwords, err := credential.Open(credential.Config{
		ServiceName:  cfg.Keyring.ServiceName,
		FileDir:      cfg.Keyring.FileDir,
		FilePassword: cfg.Keyring.FilePassword,
		Backends:     backendTypes(cfg.Keyring.Backends),
	})
	if err != nil {
		fatal("Failed to open keyring", err)
	}
	connector := mailaccess.NewIMAPConnector(mailAccounts(cfg.MailAccounts), passwords, nil)

	sender := transport.NewSMTPSender(transport.SMTPConfig{
		Addr:     cfg.SMTP.Addr,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		Security: cfg.SMTP.Security,
	})

	svc := compose.NewService(store, resolver, transport.NewBuilder(cfg.Domain), sender,
		compose.WithLimits(compose.Limits{
			MaxMailSize:      cfg.Limits.MaxMailSize,
			MaxSubjectLength: cfg.Limits.MaxSubjectLength,
			MaxContentLength: cfg.Limits.MaxContentLength,
			MaxHeaderLength:  cfg.Limits.MaxHeaderLength,
		}),
		compose.WithDrafts(cfg.DraftsMailAccount, cfg.DraftsFolder),
		compose.WithSharedAttachmentsFolder(cfg.SharedAttachmentsFolder),
	)

	sessions := session.NewManager(store, resolver, connector, session.Config{
		Timeout:          cfg.SessionTimeout,
		SpaceMaxIdle:     cfg.SpaceTTL,
		SpaceIdleTimeout: cfg.IdleTimeout,
		SpaceCheckEvery:  cfg.CheckInterval,
	})
	go sessions.Run(ctx, cfg.SweepInterval)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           otelhttp.NewHandler(newHandler(sessions, svc, cfg.Limits.MaxMailSize).routes(), "compose-server"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Compose server listening", slog.String("addr", cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("HTTP server failed", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
	}
	sessions.Close(shutdownCtx)
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("Tracer provider shutdown failed", slog.String("error", err.Error()))
	}
	logger.Info("Compose server stopped")
}

// openAttachmentStorage builds the configured attachment backend and a
// function releasing it.
func openAttachmentStorage(cfg *config.Config, awsCfg aws.Config, dynamoClient *dynamodb.Client) (attachment.Storage, func(), error) {
	if cfg.AttachmentBackend == config.BackendDB {
		db, err := dbstore.Open(cfg.AttachmentDBPath)
		if err != nil {
			return nil, nil, err
		}
		return db, func() {
			if err := db.Close(); err != nil {
				logger.Error("Failed to close attachment database", slog.String("error", err.Error()))
			}
		}, nil
	}

	signed := &http.Client{Transport: blob.NewSigV4Transport(otelhttp.NewTransport(http.DefaultTransport), awsCfg.Credentials, awsCfg.Region)}
	plain := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	var publisher attachmentdelete.Publisher
	if cfg.DeleteQueueURL != "" {
		publisher = attachmentdelete.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.DeleteQueueURL)
	}
	store := blobstore.NewStore(dynamoClient, cfg.AttachmentTableName,
		blob.NewUploader(cfg.BlobURL, signed, plain),
		blob.NewClient(cfg.BlobURL, signed),
		publisher)
	return store, func() {}, nil
}

func backendTypes(names []string) []keyring.BackendType {
	out := make([]keyring.BackendType, 0, len(names))
	for _, n := range names {
		out = append(out, keyring.BackendType(n))
	}
	return out
}

func mailAccounts(list []config.MailAccount) []mailaccess.Account {
	out := make([]mailaccess.Account, 0, len(list))
	for _, a := range list {
		out = append(out, mailaccess.Account{
			ID:           a.ID,
			Addr:         a.Addr,
			Username:     a.Username,
			Security:     mailaccess.Security(a.Security),
			DraftsFolder: a.DraftsFolder,
		})
	}
	return out
}
