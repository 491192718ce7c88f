package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for a node. The P2P port is the only
// value the core needs; everything else has workable defaults.
type Config struct {
	// Node identity (generated at start when empty)
	NodeID string

	// Network
	P2PPort   int
	SeedNodes []string // bootstrap endpoints
	MaxPeers  int      // target connected-peer count

	// RPC surface (0 disables it)
	RPCPort int

	// Logging
	LogLevel string // debug, info, warn, error

	// Demo data
	SeedData bool // populate the chain with demo blocks at start
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		P2PPort: 5000,
		SeedNodes: []string{
			"127.0.0.1:5001",
			"127.0.0.1:5002",
			"127.0.0.1:5003",
		},
		MaxPeers: 8,
		RPCPort:  0,
		LogLevel: "info",
	}
}

// LoadFromEnv loads configuration from environment variables on top of
// the defaults.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if nodeID := os.Getenv("GSC_NODE_ID"); nodeID != "" {
		cfg.NodeID = nodeID
	}

	if p2pPort := os.Getenv("GSC_PORT"); p2pPort != "" {
		if port, err := strconv.Atoi(p2pPort); err == nil {
			cfg.P2PPort = port
		}
	}

	if rpcPort := os.Getenv("GSC_RPC_PORT"); rpcPort != "" {
		if port, err := strconv.Atoi(rpcPort); err == nil {
			cfg.RPCPort = port
		}
	}

	if seeds := os.Getenv("GSC_SEEDS"); seeds != "" {
		cfg.SeedNodes = strings.Split(seeds, ",")
	}

	if maxPeers := os.Getenv("GSC_MAX_PEERS"); maxPeers != "" {
		if n, err := strconv.Atoi(maxPeers); err == nil {
			cfg.MaxPeers = n
		}
	}

	if logLevel := os.Getenv("GSC_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if seedData := os.Getenv("GSC_SEED_DATA"); seedData != "" {
		cfg.SeedData = strings.ToLower(seedData) == "true"
	}

	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.P2PPort < 1 || c.P2PPort > 65535 {
		return fmt.Errorf("invalid P2P port: %d", c.P2PPort)
	}
	if c.RPCPort < 0 || c.RPCPort > 65535 {
		return fmt.Errorf("invalid RPC port: %d", c.RPCPort)
	}
	if c.RPCPort != 0 && c.RPCPort == c.P2PPort {
		return fmt.Errorf("RPC port %d collides with P2P port", c.RPCPort)
	}
	if c.MaxPeers < 1 {
		return fmt.Errorf("max peers must be positive: %d", c.MaxPeers)
	}

	for _, seed := range c.SeedNodes {
		host, portStr, err := splitHostPort(seed)
		if err != nil || host == "" {
			return fmt.Errorf("invalid seed endpoint: %q", seed)
		}
		if port, err := strconv.Atoi(portStr); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid seed endpoint: %q", seed)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}

func splitHostPort(endpoint string) (string, string, error) {
	idx := strings.LastIndex(endpoint, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("missing port in %q", endpoint)
	}
	return endpoint[:idx], endpoint[idx+1:], nil
}

// GetRPCAddress returns the RPC listen address.
func (c *Config) GetRPCAddress() string {
	return fmt.Sprintf(":%d", c.RPCPort)
}
