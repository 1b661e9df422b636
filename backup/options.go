package backup

import (
	"errors"
	"time"

	"github.com/hupe1980/graphstore"
	"github.com/hupe1980/graphstore/internal/fs"
	"github.com/hupe1980/graphstore/internal/resource"
	"github.com/hupe1980/graphstore/manifest"
)

var (
	// ErrEphemeral is returned when exporting a store without a directory.
	ErrEphemeral = errors.New("backup: ephemeral store has no segment files")

	// ErrNoBackup is returned when the remote store holds no current pointer.
	ErrNoBackup = errors.New("backup: no backup found")

	// ErrChecksumMismatch is returned when a downloaded body does not match
	// its catalog checksum.
	ErrChecksumMismatch = errors.New("backup: checksum mismatch")

	// ErrCatalogMismatch is returned when a catalog does not describe the
	// manifest stored next to it.
	ErrCatalogMismatch = errors.New("backup: catalog does not match manifest")
)

// Limits bounds the resources a transfer may use. Zero values mean
// "unlimited", except Concurrency which defaults to 4.
type Limits struct {
	Concurrency      int   `yaml:"concurrency"`
	BytesPerSec      int64 `yaml:"bytes_per_sec"`
	MaxInFlightBytes int64 `yaml:"max_in_flight_bytes"`
}

type options struct {
	codec      Codec
	limits     Limits
	logger     *graphstore.Logger
	fs         fs.FileSystem
	now        func() time.Time
	durability manifest.Durability
}

func defaultOptions() options {
	return options{
		codec:  CodecZstd,
		limits: Limits{Concurrency: 4},
		logger: graphstore.NoopLogger(),
		fs:     fs.LocalFS{},
		now:    time.Now,
	}
}

// Option configures an Exporter or Restore.
type Option func(*options)

// WithCodec selects the segment compression. Default: CodecZstd.
func WithCodec(c Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithLimits bounds concurrency, throughput and buffered bytes.
func WithLimits(l Limits) Option {
	return func(o *options) {
		if l.Concurrency <= 0 {
			l.Concurrency = 4
		}
		o.limits = l
	}
}

// WithLogger sets the logger.
func WithLogger(l *graphstore.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithFileSystem replaces the local file system segments are read from and
// restored to.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

// WithClock sets the time source for catalog timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithDurability sets the durability of the chain created by Restore.
func WithDurability(d manifest.Durability) Option {
	return func(o *options) {
		o.durability = d
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) controller() *resource.Controller {
	return resource.NewController(resource.Config{
		MaxTransfers:     int64(o.limits.Concurrency),
		BytesPerSec:      o.limits.BytesPerSec,
		MaxInFlightBytes: o.limits.MaxInFlightBytes,
	})
}
