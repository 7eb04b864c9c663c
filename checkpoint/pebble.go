package checkpoint

import (
	"context"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// PebbleStore keeps checkpoints on the local disk
type PebbleStore struct {
	db *pebble.DB
}

func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open checkpoint store in %s", dir)
	}
	return &PebbleStore{db: db}, nil
}

func (p *PebbleStore) Load(_ context.Context, key string) (bson.Raw, error) {
	value, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "unable to load checkpoint %s", key)
	}
	defer closer.Close()

	// value is only valid until the closer is closed
	return clone(value), nil
}

func (p *PebbleStore) Save(_ context.Context, key string, token bson.Raw) error {
	if err := p.db.Set([]byte(key), token, pebble.Sync); err != nil {
		return errors.Wrapf(err, "unable to save checkpoint %s", key)
	}
	return nil
}

func (p *PebbleStore) Clear(_ context.Context, key string) error {
	if err := p.db.Delete([]byte(key), pebble.Sync); err != nil {
		return errors.Wrapf(err, "unable to clear checkpoint %s", key)
	}
	return nil
}

func (p *PebbleStore) Close() error {
	return p.db.Close()
}

var _ Store = &PebbleStore{}
