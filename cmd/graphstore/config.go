package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/hupe1980/graphstore"
	"github.com/hupe1980/graphstore/backup"
	"github.com/hupe1980/graphstore/blobstore"
	minioblob "github.com/hupe1980/graphstore/blobstore/minio"
	s3blob "github.com/hupe1980/graphstore/blobstore/s3"
	"github.com/hupe1980/graphstore/manifest"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration file. Flags override its values.
//
//	db: ./graph.db
//	durability: strict
//	log_level: info
//	log_format: text
//	backup:
//	  kind: s3
//	  codec: zstd
//	  limits: {concurrency: 8, bytes_per_sec: 52428800}
//	  s3: {bucket: graph-backups, prefix: main/, region: eu-west-1, commit_table: graphstore-commits}
type Config struct {
	DB         string              `yaml:"db"`
	Durability manifest.Durability `yaml:"durability"`
	LogLevel   string              `yaml:"log_level"`
	LogFormat  string              `yaml:"log_format"`
	Backup     BackupConfig        `yaml:"backup"`
}

// BackupConfig selects and configures the remote store.
type BackupConfig struct {
	// Kind is one of "local", "s3" or "minio".
	Kind   string           `yaml:"kind"`
	Path   string           `yaml:"path"`
	Codec  backup.Codec     `yaml:"codec"`
	Limits backup.Limits    `yaml:"limits"`
	S3     s3blob.Config    `yaml:"s3"`
	MinIO  minioblob.Config `yaml:"minio"`
}

func defaultConfig() Config {
	return Config{
		DB:         "./graph.db",
		Durability: manifest.DurabilityStrict,
		LogLevel:   "warn",
		LogFormat:  "text",
		Backup: BackupConfig{
			Kind:   "local",
			Codec:  backup.CodecZstd,
			Limits: backup.Limits{Concurrency: 4},
		},
	}
}

// loadConfig reads path on top of the defaults. A missing path is only an
// error when it was given explicitly.
func loadConfig(path string, explicit bool) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) logger() (*graphstore.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text":
		return graphstore.NewTextLogger(level), nil
	case "json":
		return graphstore.NewJSONLogger(level), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", c.LogFormat)
	}
}

// remote opens the configured backup target.
func (b BackupConfig) remote(ctx context.Context) (blobstore.BlobStore, error) {
	switch b.Kind {
	case "", "local":
		if b.Path == "" {
			return nil, errors.New("backup.path is required for kind local")
		}
		return blobstore.NewLocalStore(b.Path, nil), nil
	case "s3":
		return s3blob.New(ctx, b.S3)
	case "minio":
		return minioblob.New(ctx, b.MinIO)
	default:
		return nil, fmt.Errorf("unknown backup kind %q", b.Kind)
	}
}
