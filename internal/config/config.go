// Package config loads the engine's tunables from the environment. Every
// value has a sane default; nothing here is REQUIRED the way auth secrets
// are, so LoadEngineConfig never fails — it is safe to call before logging
// is even initialized.
package config

import (
	"os"
	"strconv"
	"time"
)

// EngineConfig holds the document engine's runtime tunables.
type EngineConfig struct {
	// MaxOpsInMemory bounds the in-memory op-log per document before it is
	// truncated behind the latest checkpoint.
	MaxOpsInMemory int

	// CheckpointInterval is how many committed ops elapse between automatic
	// checkpoints.
	CheckpointInterval int

	// CacheTTL is how long a transform-cache entry survives.
	CacheTTL time.Duration

	// InactiveDocumentTTL is how long a document with no connected session
	// stays resident before its state is evicted from memory.
	InactiveDocumentTTL time.Duration

	// SequenceGapTimeout is how long the ordering queue waits for a missing
	// (author, sequence) before escalating to a ResyncRequest.
	SequenceGapTimeout time.Duration

	// FabricRetention is how long a published fabric message is retained
	// for late-joining or reconnecting instances.
	FabricRetention time.Duration

	// FabricMaxMessageSize caps a single fabric message in bytes.
	FabricMaxMessageSize int

	// LoadBalancerStrategy selects the registry's instance-selection policy:
	// "round_robin", "least_connections", or "random".
	LoadBalancerStrategy string

	// AckRequired controls whether fabric publishes block on at-least-one
	// subscriber ack before returning, or fire-and-forget.
	AckRequired bool

	// PersistenceEnabled toggles whether checkpoints and the op-log are
	// written through to the database, versus kept purely in memory (useful
	// for tests and ephemeral deployments).
	PersistenceEnabled bool
}

// LoadEngineConfig reads EngineConfig from the environment, falling back to
// defaults for anything unset.
func LoadEngineConfig() *EngineConfig {
	return &EngineConfig{
		MaxOpsInMemory:        envInt("ENGINE_MAX_OPS_IN_MEMORY", 1000),
		CheckpointInterval:    envInt("ENGINE_CHECKPOINT_INTERVAL", 100),
		CacheTTL:              envDuration("ENGINE_CACHE_TTL", 5*time.Minute),
		InactiveDocumentTTL:   envDuration("ENGINE_INACTIVE_DOCUMENT_TTL", time.Hour),
		SequenceGapTimeout:    envDuration("ENGINE_SEQUENCE_GAP_TIMEOUT", 30*time.Second),
		FabricRetention:       envDuration("ENGINE_FABRIC_RETENTION", 24*time.Hour),
		FabricMaxMessageSize:  envInt("ENGINE_FABRIC_MAX_MESSAGE_SIZE", 1<<20),
		LoadBalancerStrategy:  envString("ENGINE_LOAD_BALANCER_STRATEGY", "least_connections"),
		AckRequired:           envBool("ENGINE_ACK_REQUIRED", true),
		PersistenceEnabled:    envBool("ENGINE_PERSISTENCE_ENABLED", true),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
