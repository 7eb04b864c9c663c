package feed

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tidepool-org/cdc-worker/cdc"
)

const closeTimeout = 5 * time.Second

var Module = fx.Provide(
	NewConfig,
	NewMongoClient,
	NewMongoSource,
	func(source *MongoSource) Source { return source },
)

func NewMongoClient(config Config, logger *zap.SugaredLogger, lifecycle fx.Lifecycle) (*mongo.Client, error) {
	sink := &cdc.MongoLoggerAdapter{SugaredLogger: logger.Named("mongo")}
	loggerOptions := options.Logger().
		SetSink(sink).
		SetComponentLevel(options.LogComponentAll, options.LogLevelInfo)

	clientOptions := options.Client().
		ApplyURI(config.MongoURI).
		SetConnectTimeout(config.ConnectTimeout).
		SetLoggerOptions(loggerOptions)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, errors.Wrap(err, "could not open mongo connection")
	}

	lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Disconnect(ctx)
		},
	})

	return client, nil
}

// MongoSource watches a single collection using a change stream
type MongoSource struct {
	collection *mongo.Collection
	pipeline   mongo.Pipeline
	config     Config
	logger     *zap.SugaredLogger
}

func NewMongoSource(client *mongo.Client, config Config, logger *zap.SugaredLogger) (*MongoSource, error) {
	pipeline, err := config.Pipeline()
	if err != nil {
		return nil, err
	}

	return &MongoSource{
		collection: client.Database(config.Database).Collection(config.Collection),
		pipeline:   pipeline,
		config:     config,
		logger:     logger,
	}, nil
}

func (m *MongoSource) Subscribe(ctx context.Context, resumeFrom bson.Raw, opts SubscribeOptions) (Handle, error) {
	m.logger.Debugw("opening change stream",
		"namespace", m.config.Namespace(),
		"resumeFrom", cdc.FormatPosition(resumeFrom),
		"includePostImage", opts.IncludePostImage,
		"includePreImage", opts.IncludePreImage,
	)

	stream, err := m.collection.Watch(ctx, m.pipeline, ChangeStreamOptions(m.config, resumeFrom, opts))
	if err != nil {
		return nil, errors.Wrap(err, "could not begin change stream")
	}

	return &changeStreamHandle{stream: stream}, nil
}

// ChangeStreamOptions returns the driver options for a subscription
func ChangeStreamOptions(config Config, resumeFrom bson.Raw, opts SubscribeOptions) *options.ChangeStreamOptions {
	streamOpts := options.ChangeStream()
	if opts.IncludePostImage {
		streamOpts.SetFullDocument(options.UpdateLookup)
	}
	if opts.IncludePreImage {
		streamOpts.SetFullDocumentBeforeChange(options.WhenAvailable)
	}
	if len(resumeFrom) > 0 {
		streamOpts.SetResumeAfter(resumeFrom)
	}
	if config.BatchSize > 0 {
		streamOpts.SetBatchSize(config.BatchSize)
	}
	if config.MaxAwaitTime > 0 {
		streamOpts.SetMaxAwaitTime(config.MaxAwaitTime)
	}
	return streamOpts
}

type changeStreamHandle struct {
	stream *mongo.ChangeStream
}

func (c *changeStreamHandle) Next(ctx context.Context) (cdc.RawChangeRecord, error) {
	if !c.stream.Next(ctx) {
		if err := c.stream.Err(); err != nil {
			return cdc.RawChangeRecord{}, errors.Wrap(err, "unable to read message from change stream")
		}
		if err := ctx.Err(); err != nil {
			return cdc.RawChangeRecord{}, err
		}
		return cdc.RawChangeRecord{}, cdc.ErrFeedExhausted
	}

	record := cdc.RawChangeRecord{}
	if err := c.stream.Decode(&record); err != nil {
		return cdc.RawChangeRecord{}, cdc.Fatal(errors.Wrap(err, "unable to decode change event"))
	}

	// The stream's resume token may point past the event _id when the batch is exhausted
	if token := c.stream.ResumeToken(); len(token) > 0 {
		record.ResumeToken = append(bson.Raw(nil), token...)
	}

	return record, nil
}

func (c *changeStreamHandle) Position() bson.Raw {
	token := c.stream.ResumeToken()
	if len(token) == 0 {
		return nil
	}
	return append(bson.Raw(nil), token...)
}

func (c *changeStreamHandle) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	return c.stream.Close(ctx)
}
