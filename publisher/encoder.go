package publisher

import (
	ce "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/tidepool-org/cdc-worker/cdc"
)

const cloudEventTypePrefix = "org.tidepool.cdc."

// Encoder serializes a canonical event to the payload appended to the destination
type Encoder interface {
	Encode(event *cdc.Event) ([]byte, error)
	ContentType() string
}

func NewEncoder(config Config) (Encoder, error) {
	jsonEncoder := &JSONEncoder{Canonical: config.CanonicalJSON}
	switch config.PayloadFormat {
	case FormatJSON:
		return jsonEncoder, nil
	case FormatCloudEvents:
		return &CloudEventsEncoder{Source: config.EventSource, JSON: jsonEncoder}, nil
	default:
		return nil, errors.Errorf("unsupported payload format %q", config.PayloadFormat)
	}
}

// JSONEncoder encodes events as MongoDB extended json
type JSONEncoder struct {
	Canonical bool
}

func (j *JSONEncoder) Encode(event *cdc.Event) ([]byte, error) {
	return bson.MarshalExtJSON(event, j.Canonical, false)
}

func (j *JSONEncoder) ContentType() string {
	return ce.ApplicationJSON
}

// CloudEventsEncoder wraps the extended json payload in a structured CloudEvents envelope
type CloudEventsEncoder struct {
	Source string
	JSON   *JSONEncoder
}

func (c *CloudEventsEncoder) Encode(event *cdc.Event) ([]byte, error) {
	data, err := c.JSON.Encode(event)
	if err != nil {
		return nil, err
	}

	id := event.EventID
	if id == "" {
		id = uuid.NewString()
	}

	e := ce.NewEvent()
	e.SetID(id)
	e.SetSource(c.Source)
	e.SetType(cloudEventTypePrefix + string(event.OperationType))
	e.SetSubject(event.Namespace.String())
	e.SetTime(event.ObservedAt)
	if err := e.SetData(ce.ApplicationJSON, data); err != nil {
		return nil, errors.Wrap(err, "unable to set cloud event data")
	}
	if err := e.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid cloud event")
	}

	return e.MarshalJSON()
}

func (c *CloudEventsEncoder) ContentType() string {
	return ce.ApplicationCloudEventsJSON
}
