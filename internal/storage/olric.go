package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/n3tuk/time-locked-savings/internal/store"
)

// OlricRepository keeps the encoded record sets as three keys in a
// distributed store, letting every node of a cluster read the last
// flushed snapshot.
type OlricRepository struct {
	store  store.Store
	prefix string
	logger *zap.Logger
}

// NewOlricRepository creates a repository over s. Keys are namespaced
// with prefix.
func NewOlricRepository(s store.Store, prefix string, logger *zap.Logger) *OlricRepository {
	return &OlricRepository{
		store:  s,
		prefix: prefix,
		logger: logger,
	}
}

func (r *OlricRepository) key(name string) string {
	return r.prefix + name
}

// Load fetches the record sets. Absent keys load as empty sets.
func (r *OlricRepository) Load(ctx context.Context) (*Snapshot, *LoadReport, error) {
	var enc Encoded
	var err error

	if enc.Accounts, err = r.get(ctx, AccountsFile); err != nil {
		return nil, nil, err
	}
	if enc.LockBoxes, err = r.get(ctx, LockBoxesFile); err != nil {
		return nil, nil, err
	}
	if enc.ReleaseLog, err = r.get(ctx, ReleaseLogFile); err != nil {
		return nil, nil, err
	}

	snap, report := Decode(enc)
	logReport(r.logger, report)
	return snap, report, nil
}

// Save stores the record sets. Lock boxes are written before accounts so
// a reader that races a save sees at worst an orphaned box, which a load
// drops, rather than an account missing its boxes.
func (r *OlricRepository) Save(ctx context.Context, snap *Snapshot) error {
	enc := Encode(snap)

	for _, kv := range []struct {
		name string
		data []byte
	}{
		{ReleaseLogFile, enc.ReleaseLog},
		{LockBoxesFile, enc.LockBoxes},
		{AccountsFile, enc.Accounts},
	} {
		if err := r.store.Put(ctx, r.key(kv.name), string(kv.data), 0); err != nil {
			return fmt.Errorf("failed to store %s: %w", kv.name, err)
		}
	}

	r.logger.Debug("Snapshot stored in olric",
		zap.String("prefix", r.prefix),
		zap.Int("accounts", len(snap.Accounts)),
	)
	return nil
}

func (r *OlricRepository) get(ctx context.Context, name string) ([]byte, error) {
	v, err := r.store.Get(ctx, r.key(name))
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", name, err)
	}
	return []byte(v), nil
}
