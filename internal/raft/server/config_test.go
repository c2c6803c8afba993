package server

import (
	"os"
	"path/filepath"
	"testing"

	"raft-log-core/internal/raft"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, "node.yaml", `
node:
  id: node-1
  port: 6001
  data_dir: /var/lib/raft
  initial_term: 3
logging:
  level: debug
  encoding: json
metrics:
  enabled: false
  report_path: /tmp/report.json
peers:
  - id: node-2
    address: localhost:6002
  - id: node-3
    address: localhost:6003
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "node-1", config.Node.ID)
	assert.Equal(t, 6001, config.Node.Port)
	assert.Equal(t, "/var/lib/raft", config.Node.DataDir)
	assert.Equal(t, int64(3), config.Node.InitialTerm)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Encoding)
	assert.False(t, config.Metrics.Enabled)
	assert.Equal(t, "/tmp/report.json", config.Metrics.ReportPath)
	assert.Equal(t, map[raft.NodeID]ServerAddress{
		"node-2": "localhost:6002",
		"node-3": "localhost:6003",
	}, config.GetPeers())
}

func TestLoadConfig_TOML(t *testing.T) {
	path := writeConfig(t, "node.toml", `
[node]
id = "node-1"
port = 7001
data_dir = "/srv/raft"

[logging]
level = "warn"

[[peers]]
id = "node-2"
address = "localhost:7002"
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "node-1", config.Node.ID)
	assert.Equal(t, 7001, config.Node.Port)
	assert.Equal(t, "/srv/raft", config.Node.DataDir)
	assert.Equal(t, "warn", config.Logging.Level)
	// Untouched keys keep their defaults
	assert.Equal(t, "console", config.Logging.Encoding)
	assert.True(t, config.Metrics.Enabled)
	require.Len(t, config.Peers, 1)
	assert.Equal(t, "localhost:7002", config.Peers[0].Address)
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, "empty.yml", "")

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, config.Node.Port)
	assert.Equal(t, DefaultDataDir, config.Node.DataDir)
	assert.Equal(t, "info", config.Logging.Level)

	// A missing ID is generated
	_, err = uuid.Parse(config.Node.ID)
	assert.NoError(t, err)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("unsupported extension", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "node.json", "{}"))
		assert.ErrorContains(t, err, "unsupported config file extension")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "bad.yaml", "node: [unclosed"))
		assert.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("malformed toml", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "bad.toml", "[node\nid ="))
		assert.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "bad.yaml", "node:\n  port: 70000\n"))
		assert.ErrorContains(t, err, "invalid configuration")
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig()
		c.Node.ID = "node-1"
		c.Peers = []PeerConfig{{ID: "node-2", Address: "localhost:5002"}}
		return c
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"empty id", func(c *Config) { c.Node.ID = "" }, "node.id is required"},
		{"negative port", func(c *Config) { c.Node.Port = -1 }, "node.port"},
		{"port too large", func(c *Config) { c.Node.Port = 65536 }, "node.port"},
		{"empty data dir", func(c *Config) { c.Node.DataDir = "" }, "node.data_dir is required"},
		{"negative initial term", func(c *Config) { c.Node.InitialTerm = -1 }, "node.initial_term"},
		{"unknown level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"unknown encoding", func(c *Config) { c.Logging.Encoding = "xml" }, "logging.encoding"},
		{"peer without id", func(c *Config) { c.Peers[0].ID = "" }, "has no id"},
		{"peer without address", func(c *Config) { c.Peers[0].Address = "" }, "has no address"},
		{"self listed as peer", func(c *Config) { c.Peers[0].ID = "node-1" }, "must not be listed in peers"},
		{"duplicate peer", func(c *Config) {
			c.Peers = append(c.Peers, PeerConfig{ID: "node-2", Address: "localhost:5003"})
		}, "duplicate peer ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.errMsg)
		})
	}
}

func TestConfig_DBPath(t *testing.T) {
	c := DefaultConfig()
	c.Node.ID = "abc"
	c.Node.DataDir = "/data"

	assert.Equal(t, filepath.Join("/data", "raft-abc.db"), c.DBPath())
	assert.Equal(t, raft.NodeID("abc"), c.NodeID())
}

func TestNewLogger(t *testing.T) {
	t.Run("builds for valid config", func(t *testing.T) {
		logger, err := NewLogger(LoggingConfig{Level: "debug", Encoding: "json"}, "node-1")
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := NewLogger(LoggingConfig{Level: "loud", Encoding: "json"}, "node-1")
		assert.Error(t, err)
	})

	t.Run("rejects unknown encoding", func(t *testing.T) {
		_, err := NewLogger(LoggingConfig{Level: "info", Encoding: "xml"}, "node-1")
		assert.Error(t, err)
	})
}
