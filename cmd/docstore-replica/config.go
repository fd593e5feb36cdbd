package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-docstore/pkg/repl"
	"github.com/dd0wney/cluso-docstore/pkg/validation"
)

// Config is the replica node configuration file.
type Config struct {
	NodeID   string `yaml:"node_id"`
	LogLevel string `yaml:"log_level"`
	HTTPAddr string `yaml:"http_addr"`

	Replication ReplicationConfig `yaml:"replication"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
	Archive     ArchiveConfig     `yaml:"archive"`
}

// ReplicationConfig is the replication section.
type ReplicationConfig struct {
	DataDir    string                     `yaml:"data_dir"`
	FeedAddr   string                     `yaml:"feed_addr"`
	FeedSecret string                     `yaml:"feed_secret"`
	Members    []validation.MemberRequest `yaml:"members"`

	SlaveDelay     time.Duration `yaml:"slave_delay"`
	SocketTimeout  time.Duration `yaml:"socket_timeout"`
	FetchBatchSize int           `yaml:"fetch_batch_size"`
	HighWatermark  int           `yaml:"high_watermark"`
	LowWatermark   int           `yaml:"low_watermark"`
}

// CheckpointConfig selects where the GTID checkpoint is persisted.
type CheckpointConfig struct {
	Backend       string        `yaml:"backend"` // file or postgres
	PostgresDSN   string        `yaml:"postgres_dsn"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// ArchiveConfig controls the rollback archive.
type ArchiveConfig struct {
	Dir string `yaml:"dir"`

	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Prefix    string `yaml:"s3_prefix"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	req := &validation.ReplicaRequest{
		DataDir:    cfg.Replication.DataDir,
		FeedAddr:   cfg.Replication.FeedAddr,
		FeedSecret: cfg.Replication.FeedSecret,
		Members:    cfg.Replication.Members,
	}
	if err := validation.ValidateReplicaRequest(req); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch cfg.Checkpoint.Backend {
	case "file":
	case "postgres":
		if cfg.Checkpoint.PostgresDSN == "" {
			return nil, fmt.Errorf("invalid config: checkpoint.postgres_dsn is required for the postgres backend")
		}
	default:
		return nil, fmt.Errorf("invalid config: unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = "file"
	}
	if c.Checkpoint.FlushInterval <= 0 {
		c.Checkpoint.FlushInterval = 5 * time.Second
	}
	if c.Archive.Dir == "" && c.Replication.DataDir != "" {
		c.Archive.Dir = c.Replication.DataDir + "/rollback"
	}
}

// SyncConfig builds the pipeline config from the file values.
func (c *Config) SyncConfig() repl.SyncConfig {
	cfg := repl.DefaultSyncConfig()
	cfg.SlaveDelay = c.Replication.SlaveDelay
	if c.Replication.SocketTimeout > 0 {
		cfg.SocketTimeout = c.Replication.SocketTimeout
	}
	if c.Replication.FetchBatchSize > 0 {
		cfg.FetchBatchSize = c.Replication.FetchBatchSize
	}
	if c.Replication.HighWatermark > 0 {
		cfg.HighWatermark = c.Replication.HighWatermark
	}
	if c.Replication.LowWatermark > 0 {
		cfg.LowWatermark = c.Replication.LowWatermark
	}
	return cfg
}
