package manifest

import (
	"time"

	"github.com/hupe1980/graphstore"
	"github.com/hupe1980/graphstore/internal/fs"
)

type options struct {
	durability Durability
	logger     *graphstore.Logger
	metrics    graphstore.MetricsCollector
	fs         fs.FileSystem
	now        func() time.Time
}

// Option configures Create, Open and Ephemeral.
type Option func(*options)

func defaultOptions() options {
	return options{
		durability: DurabilityStrict,
		logger:     graphstore.NoopLogger(),
		metrics:    graphstore.NoopMetricsCollector{},
		fs:         fs.Default,
		now:        time.Now,
	}
}

// WithDurability sets the commit durability policy. Default is DurabilityStrict.
func WithDurability(d Durability) Option {
	return func(o *options) {
		o.durability = d
	}
}

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *graphstore.Logger) Option {
	return func(o *options) {
		if l == nil {
			l = graphstore.NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector sets the metrics sink.
func WithMetricsCollector(mc graphstore.MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = graphstore.NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithFileSystem replaces the filesystem used for every read and write.
// Tests use it to inject faults.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys == nil {
			fsys = fs.Default
		}
		o.fs = fsys
	}
}

// WithClock overrides the time source for Manifest.CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
