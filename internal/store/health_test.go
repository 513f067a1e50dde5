package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/n3tuk/time-locked-savings/internal/health"
)

// memStore is an in-memory Store for exercising the checkers without an
// Olric node.
type memStore struct {
	mu      sync.Mutex
	data    map[string]string
	members int
	err     error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string), members: 1}
}

func (m *memStore) Put(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.data[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *memStore) Ping(context.Context) error { return m.err }

func (m *memStore) Stats(context.Context) (*Stats, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &Stats{ClusterMembers: m.members}, nil
}

func (m *memStore) Close(context.Context) error { return nil }

func TestConnectionHealthChecker(t *testing.T) {
	s := newMemStore()
	checker := NewConnectionHealthChecker(zap.NewNop(), s)

	if checker.Name() != "olric-connection" {
		t.Errorf("Name() = %s, want olric-connection", checker.Name())
	}
	if r := checker.Check(context.Background()); r.Status != health.StatusOK {
		t.Errorf("Check() status = %s, want ok: %s", r.Status, r.Message)
	}

	s.err = errors.New("connection refused")
	if r := checker.Check(context.Background()); r.Status != health.StatusError {
		t.Errorf("Check() status = %s, want error", r.Status)
	}
}

func TestClusterHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		members    int
		quorum     int
		singleNode bool
		want       health.Status
	}{
		{name: "single node always passes", members: 0, quorum: 3, singleNode: true, want: health.StatusOK},
		{name: "quorum met", members: 2, quorum: 2, want: health.StatusOK},
		{name: "below quorum", members: 1, quorum: 2, want: health.StatusNotReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMemStore()
			s.members = tt.members

			checker := NewClusterHealthChecker(zap.NewNop(), s, tt.quorum, tt.singleNode)
			if r := checker.Check(context.Background()); r.Status != tt.want {
				t.Errorf("Check() status = %s, want %s: %s", r.Status, tt.want, r.Message)
			}
		})
	}
}

func TestStorageHealthChecker(t *testing.T) {
	s := newMemStore()
	checker := NewStorageHealthChecker(zap.NewNop(), s)

	if checker.Name() != "olric-storage" {
		t.Errorf("Name() = %s, want olric-storage", checker.Name())
	}

	r := checker.Check(context.Background())
	if r.Status != health.StatusOK {
		t.Fatalf("Check() status = %s, want ok: %s", r.Status, r.Message)
	}
	if len(s.data) != 0 {
		t.Errorf("probe key left behind: %v", s.data)
	}

	s.err = errors.New("write failed")
	if r := checker.Check(context.Background()); r.Status != health.StatusError {
		t.Errorf("Check() status = %s, want error", r.Status)
	}
}

func TestStorageHealthChecker_Olric(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	s := newTestStore(t, 13327)
	r := NewStorageHealthChecker(zap.NewNop(), s).Check(context.Background())
	if r.Status != health.StatusOK {
		t.Errorf("Check() status = %s, want ok: %s", r.Status, r.Message)
	}
}
