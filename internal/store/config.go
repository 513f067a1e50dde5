package store

import (
	"fmt"
	"net"
	"time"
)

// OlricConfig configures the embedded Olric node.
type OlricConfig struct {
	// BindAddr and BindPort are where the node listens.
	BindAddr string
	BindPort int

	// JoinAddrs lists peers to join. Empty means single-node mode.
	JoinAddrs []string

	// ReplicationMode is "sync" or "async".
	ReplicationMode string

	// ReplicationFactor is the number of copies of each partition.
	ReplicationFactor int

	PartitionCount uint64
	BackupCount    int

	// MemberCountQuorum is how many members must be present before the
	// node considers the cluster ready.
	MemberCountQuorum int

	JoinRetryInterval time.Duration
	MaxJoinAttempts   int

	// LogLevel filters Olric's own logging: DEBUG, INFO, WARN or ERROR.
	LogLevel string

	KeepAlivePeriod time.Duration

	// DMapName is the distributed map holding snapshot record sets.
	DMapName string
}

const (
	DefaultBindAddr          = "0.0.0.0"
	DefaultBindPort          = 3320
	DefaultReplicationMode   = "async"
	DefaultReplicationFactor = 1
	DefaultPartitionCount    = 271
	DefaultBackupCount       = 1
	DefaultMemberCountQuorum = 1
	DefaultJoinRetryInterval = 1 * time.Second
	DefaultMaxJoinAttempts   = 30
	DefaultLogLevel          = "WARN"
	DefaultKeepAlivePeriod   = 30 * time.Second
	DefaultDMapName          = "lockbox-snapshots"
)

// NewDefaultOlricConfig returns a single-node configuration.
func NewDefaultOlricConfig() *OlricConfig {
	return &OlricConfig{
		BindAddr:          DefaultBindAddr,
		BindPort:          DefaultBindPort,
		JoinAddrs:         []string{},
		ReplicationMode:   DefaultReplicationMode,
		ReplicationFactor: DefaultReplicationFactor,
		PartitionCount:    DefaultPartitionCount,
		BackupCount:       DefaultBackupCount,
		MemberCountQuorum: DefaultMemberCountQuorum,
		JoinRetryInterval: DefaultJoinRetryInterval,
		MaxJoinAttempts:   DefaultMaxJoinAttempts,
		LogLevel:          DefaultLogLevel,
		KeepAlivePeriod:   DefaultKeepAlivePeriod,
		DMapName:          DefaultDMapName,
	}
}

// Validate checks the configuration.
func (c *OlricConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("bind address cannot be empty")
	}
	if net.ParseIP(c.BindAddr) == nil {
		return fmt.Errorf("bind address must be a valid IPv4 or IPv6 address, got: %s", c.BindAddr)
	}
	if c.BindPort < 1 || c.BindPort > 65535 {
		return fmt.Errorf("bind port must be between 1 and 65535, got: %d", c.BindPort)
	}
	if c.ReplicationMode != "sync" && c.ReplicationMode != "async" {
		return fmt.Errorf("replication mode must be sync or async, got: %s", c.ReplicationMode)
	}
	if c.ReplicationFactor < 1 {
		return fmt.Errorf("replication factor must be at least 1, got: %d", c.ReplicationFactor)
	}
	if c.PartitionCount < 1 {
		return fmt.Errorf("partition count must be at least 1, got: %d", c.PartitionCount)
	}
	if c.BackupCount < 0 {
		return fmt.Errorf("backup count must be zero or greater, got: %d", c.BackupCount)
	}
	if c.MemberCountQuorum < 1 {
		return fmt.Errorf("member count quorum must be at least 1, got: %d", c.MemberCountQuorum)
	}
	if c.JoinRetryInterval <= 0 {
		return fmt.Errorf("join retry interval must be positive, got: %v", c.JoinRetryInterval)
	}
	if c.MaxJoinAttempts < 1 {
		return fmt.Errorf("max join attempts must be at least 1, got: %d", c.MaxJoinAttempts)
	}

	switch c.LogLevel {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid log level: %s (must be DEBUG, INFO, WARN, or ERROR)", c.LogLevel)
	}

	if c.KeepAlivePeriod <= 0 {
		return fmt.Errorf("keep alive period must be positive")
	}
	if c.DMapName == "" {
		return fmt.Errorf("dmap name cannot be empty")
	}

	if len(c.JoinAddrs) == 0 && c.MemberCountQuorum > 1 {
		return fmt.Errorf("member count quorum is %d but no join addresses provided", c.MemberCountQuorum)
	}
	if len(c.JoinAddrs) > 0 {
		if c.MemberCountQuorum > len(c.JoinAddrs)+1 {
			return fmt.Errorf("member count quorum (%d) cannot be greater than number of join addresses + 1 (%d)",
				c.MemberCountQuorum, len(c.JoinAddrs)+1)
		}
		if c.ReplicationFactor < 2 {
			return fmt.Errorf("replication factor should be at least 2 in multi-node mode (current: %d)", c.ReplicationFactor)
		}
	}

	return nil
}

// IsSingleNode reports whether no peers are configured.
func (c *OlricConfig) IsSingleNode() bool {
	return len(c.JoinAddrs) == 0
}
