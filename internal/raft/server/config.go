package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"raft-log-core/internal/raft"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort    = 50051
	DefaultDataDir = "./data"
)

// Config is the configuration of one node. It is read from a YAML or a TOML file, the format is picked by the file
// extension.
type Config struct {
	Node    NodeConfig    `yaml:"node" toml:"node"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
	Peers   []PeerConfig  `yaml:"peers" toml:"peers"`
}

type NodeConfig struct {
	// Generated when left empty
	ID string `yaml:"id" toml:"id"`
	// 0 picks a random free port
	Port    int    `yaml:"port" toml:"port"`
	DataDir string `yaml:"data_dir" toml:"data_dir"`
	// Only used when the data directory holds no newer term
	InitialTerm int64 `yaml:"initial_term" toml:"initial_term"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" toml:"level"`
	Encoding string `yaml:"encoding" toml:"encoding"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	// Where the JSON report is written on shutdown. Empty disables the file.
	ReportPath string `yaml:"report_path" toml:"report_path"`
}

// PeerConfig names another node, so clients can address it by ID
type PeerConfig struct {
	ID      string `yaml:"id" toml:"id"`
	Address string `yaml:"address" toml:"address"`
}

// DefaultConfig returns a configuration that passes Validate once a node ID is set
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Port:    DefaultPort,
			DataDir: DefaultDataDir,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// LoadConfig reads path on top of DefaultConfig, fills in a node ID if none is set and validates the result
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}

	config.ensureNodeID()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) ensureNodeID() {
	if c.Node.ID == "" {
		c.Node.ID = uuid.New().String()
	}
}

func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}

	if c.Node.Port < 0 || c.Node.Port > 65535 {
		return fmt.Errorf("node.port must be between 0 and 65535, got %d", c.Node.Port)
	}

	if c.Node.DataDir == "" {
		return fmt.Errorf("node.data_dir is required")
	}

	if c.Node.InitialTerm < 0 {
		return fmt.Errorf("node.initial_term must not be negative, got %d", c.Node.InitialTerm)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	if c.Logging.Encoding != "json" && c.Logging.Encoding != "console" {
		return fmt.Errorf("logging.encoding must be json or console, got %q", c.Logging.Encoding)
	}

	uniqueIDs := make(map[string]bool)
	for _, peer := range c.Peers {
		if peer.ID == "" {
			return fmt.Errorf("peer at %q has no id", peer.Address)
		}
		if peer.Address == "" {
			return fmt.Errorf("peer %s has no address", peer.ID)
		}
		if peer.ID == c.Node.ID {
			return fmt.Errorf("node.id=%s must not be listed in peers", peer.ID)
		}
		if uniqueIDs[peer.ID] {
			return fmt.Errorf("duplicate peer ID: %s", peer.ID)
		}
		uniqueIDs[peer.ID] = true
	}

	return nil
}

// NodeID returns the configured node ID
func (c *Config) NodeID() raft.NodeID {
	return raft.NodeID(c.Node.ID)
}

// DBPath returns the bbolt file of the node inside its data directory
func (c *Config) DBPath() string {
	return filepath.Join(c.Node.DataDir, fmt.Sprintf("raft-%s.db", c.Node.ID))
}

// GetPeers returns the peer addresses keyed by node ID
func (c *Config) GetPeers() map[raft.NodeID]ServerAddress {
	res := make(map[raft.NodeID]ServerAddress, len(c.Peers))
	for _, peer := range c.Peers {
		res[raft.NodeID(peer.ID)] = ServerAddress(peer.Address)
	}
	return res
}
