package feed

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type Config struct {
	MongoURI         string        `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	Database         string        `envconfig:"MONGO_DATABASE" default:"orders"`
	Collection       string        `envconfig:"CDC_COLLECTION" default:"orders_source"`
	IncludePostImage bool          `envconfig:"CDC_INCLUDE_POST_IMAGE" default:"true"`
	IncludePreImage  bool          `envconfig:"CDC_INCLUDE_PRE_IMAGE" default:"true"`
	MatchFilter      string        `envconfig:"CDC_MATCH_FILTER"`
	BatchSize        int32         `envconfig:"CDC_BATCH_SIZE" default:"0"`
	MaxAwaitTime     time.Duration `envconfig:"CDC_MAX_AWAIT_TIME" default:"0"`
	ConnectTimeout   time.Duration `envconfig:"MONGO_CONNECT_TIMEOUT" default:"10s"`
}

func NewConfig() (Config, error) {
	config := Config{}
	if err := envconfig.Process("", &config); err != nil {
		return config, err
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	if c.Database == "" {
		return errors.New("database is required")
	}
	if c.Collection == "" {
		return errors.New("collection is required")
	}
	_, err := c.Pipeline()
	return err
}

// Namespace returns the database.collection name of the watched collection
func (c Config) Namespace() string {
	return c.Database + "." + c.Collection
}

func (c Config) SubscribeOptions() SubscribeOptions {
	return SubscribeOptions{
		IncludePostImage: c.IncludePostImage,
		IncludePreImage:  c.IncludePreImage,
	}
}

// Pipeline returns the aggregation pipeline applied to the change stream.
// MatchFilter is an extended json document used as a $match stage.
func (c Config) Pipeline() (mongo.Pipeline, error) {
	if strings.TrimSpace(c.MatchFilter) == "" {
		return mongo.Pipeline{}, nil
	}

	var filter bson.D
	if err := bson.UnmarshalExtJSON([]byte(c.MatchFilter), false, &filter); err != nil {
		return nil, errors.Wrap(err, "invalid match filter")
	}

	return mongo.Pipeline{{{Key: "$match", Value: filter}}}, nil
}
