// Package store provides the embedded distributed key/value store used to
// share ledger snapshots between nodes.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get when the key does not exist.
var ErrKeyNotFound = errors.New("key not found")

// Store is a string key/value store with cluster introspection.
type Store interface {
	// Put stores value under key. A zero ttl never expires.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Stats reports cluster membership and partitioning.
	Stats(ctx context.Context) (*Stats, error)

	// Close leaves the cluster and stops the embedded server.
	Close(ctx context.Context) error
}

// Stats describes the cluster backing a store.
type Stats struct {
	ClusterMembers    int
	PartitionCount    int
	BackupCount       int
	ReplicationFactor int
}
