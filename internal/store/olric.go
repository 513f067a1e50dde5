package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/logutils"
	"github.com/olric-data/olric"
	"github.com/olric-data/olric/config"
	"go.uber.org/zap"
)

// OlricStore is a Store backed by an embedded Olric node.
type OlricStore struct {
	config *OlricConfig
	logger *zap.Logger
	db     *olric.Olric
	client *olric.EmbeddedClient
	dmap   olric.DMap
}

// NewOlricStore starts an embedded Olric node, joins the configured peers
// and opens the snapshot DMap.
func NewOlricStore(ctx context.Context, cfg *OlricConfig, logger *zap.Logger) (*OlricStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid olric configuration: %w", err)
	}

	s := &OlricStore{
		config: cfg,
		logger: logger,
	}

	logger.Info("Starting Olric embedded server",
		zap.String("bind_addr", net.JoinHostPort(cfg.BindAddr, strconv.Itoa(cfg.BindPort))),
		zap.Bool("single_node", cfg.IsSingleNode()),
		zap.Strings("join_addrs", cfg.JoinAddrs),
	)

	// Start blocks until the node stops, so it runs in its own goroutine
	// and readiness is signalled through the Started callback.
	started := make(chan struct{})
	startErr := make(chan error, 1)

	db, err := olric.New(s.olricConfig(func() { close(started) }))
	if err != nil {
		return nil, fmt.Errorf("failed to create olric instance: %w", err)
	}

	go func() {
		if err := db.Start(); err != nil {
			startErr <- err
		}
	}()

	select {
	case <-started:
	case err := <-startErr:
		return nil, fmt.Errorf("failed to start olric: %w", err)
	case <-ctx.Done():
		_ = db.Shutdown(context.Background())
		return nil, ctx.Err()
	}

	s.db = db
	s.client = db.NewEmbeddedClient()

	if err := s.waitForCluster(ctx); err != nil {
		_ = db.Shutdown(context.Background())
		return nil, fmt.Errorf("cluster not ready: %w", err)
	}

	dmap, err := s.client.NewDMap(cfg.DMapName)
	if err != nil {
		_ = db.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create dmap: %w", err)
	}
	s.dmap = dmap

	logger.Info("Olric store initialized", zap.String("dmap", cfg.DMapName))
	return s, nil
}

func (s *OlricStore) olricConfig(started func()) *config.Config {
	filter := &logutils.LevelFilter{
		Levels:   []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERROR"},
		MinLevel: logutils.LogLevel(s.config.LogLevel),
		Writer:   io.Discard,
	}
	// Olric's own output only surfaces when explicitly asked for, and goes
	// to stderr with the rest of the logs.
	if s.config.LogLevel == "DEBUG" || s.config.LogLevel == "INFO" {
		filter.Writer = os.Stderr
	}

	c := config.New("lan")
	c.BindAddr = s.config.BindAddr
	c.BindPort = s.config.BindPort
	c.KeepAlivePeriod = s.config.KeepAlivePeriod
	c.PartitionCount = s.config.PartitionCount
	c.ReplicaCount = s.config.ReplicationFactor
	c.ReadQuorum = 1
	c.WriteQuorum = 1
	c.MemberCountQuorum = int32(s.config.MemberCountQuorum)
	c.LogLevel = s.config.LogLevel
	c.Logger = log.New(filter, "", log.LstdFlags)
	c.JoinRetryInterval = s.config.JoinRetryInterval
	c.MaxJoinAttempts = s.config.MaxJoinAttempts
	c.Started = started

	if s.config.ReplicationMode == "sync" {
		c.ReplicationMode = config.SyncReplicationMode
	} else {
		c.ReplicationMode = config.AsyncReplicationMode
	}
	if len(s.config.JoinAddrs) > 0 {
		c.Peers = s.config.JoinAddrs
	}

	return c
}

func (s *OlricStore) waitForCluster(ctx context.Context) error {
	if s.config.IsSingleNode() {
		return nil
	}

	ticker := time.NewTicker(s.config.JoinRetryInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		members, err := s.client.Members(ctx)
		if err != nil {
			s.logger.Warn("Failed to get members", zap.Error(err))
		}

		if len(members) >= s.config.MemberCountQuorum {
			s.logger.Info("Cluster member quorum reached",
				zap.Int("member_count", len(members)),
				zap.Int("quorum", s.config.MemberCountQuorum),
			)
			return nil
		}

		s.logger.Debug("Waiting for cluster members",
			zap.Int("current_members", len(members)),
			zap.Int("required_members", s.config.MemberCountQuorum),
			zap.Int("attempt", attempt),
		)

		if attempt >= s.config.MaxJoinAttempts {
			return fmt.Errorf("max join attempts (%d) reached, only %d/%d members present",
				s.config.MaxJoinAttempts, len(members), s.config.MemberCountQuorum)
		}
	}
}

// Put stores value under key.
func (s *OlricStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl > 0 {
		return s.dmap.Put(ctx, key, value, olric.EX(ttl))
	}
	return s.dmap.Put(ctx, key, value)
}

// Get returns the value stored under key.
func (s *OlricStore) Get(ctx context.Context, key string) (string, error) {
	resp, err := s.dmap.Get(ctx, key)
	if errors.Is(err, olric.ErrKeyNotFound) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return resp.String()
}

// Delete removes key.
func (s *OlricStore) Delete(ctx context.Context, key string) error {
	_, err := s.dmap.Delete(ctx, key)
	if err != nil && !errors.Is(err, olric.ErrKeyNotFound) {
		return err
	}
	return nil
}

// Exists reports whether key is present.
func (s *OlricStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.dmap.Get(ctx, key)
	if errors.Is(err, olric.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Ping dials the node's listener.
func (s *OlricStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("olric db is nil")
	}

	addr := net.JoinHostPort(s.config.BindAddr, strconv.Itoa(s.config.BindPort))
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to olric: %w", err)
	}
	return conn.Close()
}

// Stats reports cluster membership.
func (s *OlricStore) Stats(ctx context.Context) (*Stats, error) {
	members, err := s.client.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}

	return &Stats{
		ClusterMembers:    len(members),
		PartitionCount:    int(s.config.PartitionCount),
		BackupCount:       s.config.BackupCount,
		ReplicationFactor: s.config.ReplicationFactor,
	}, nil
}

// Close shuts the embedded node down.
func (s *OlricStore) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}

	s.logger.Info("Shutting down Olric store")
	if err := s.db.Shutdown(ctx); err != nil {
		s.logger.Error("Error shutting down Olric", zap.Error(err))
		return err
	}
	return nil
}
