package queueview

import (
	"time"

	"github.com/psantana5/ffqueue/pkg/backend"
	"github.com/psantana5/ffqueue/pkg/bulk"
	"github.com/psantana5/ffqueue/pkg/comparator"
	"github.com/psantana5/ffqueue/pkg/config"
	"github.com/psantana5/ffqueue/pkg/logging"
	"github.com/psantana5/ffqueue/pkg/messages"
	"github.com/psantana5/ffqueue/pkg/metrics"
	"github.com/psantana5/ffqueue/pkg/models"
	"github.com/psantana5/ffqueue/pkg/ordering"
	"github.com/psantana5/ffqueue/pkg/tracing"
)

// Config tunes a View
type Config struct {
	Ordering  ordering.Config
	Sort      comparator.SortConfig
	QueueMode bool

	// RevisionWaitTimeout bounds how long a command waits for the backend
	// to announce its effect
	RevisionWaitTimeout time.Duration

	// RefreshRate limits refreshes triggered by revision events, per second
	RefreshRate  float64
	RefreshBurst int
}

// DefaultConfig returns production settings
func DefaultConfig() Config {
	return Config{
		Ordering:            ordering.DefaultConfig(),
		Sort:                comparator.DefaultSortConfig(),
		RevisionWaitTimeout: bulk.DefaultRevisionWaitTimeout,
		RefreshRate:         4,
		RefreshBurst:        1,
	}
}

// FromConfig maps the client configuration onto a view configuration
func FromConfig(c config.Config) Config {
	cfg := DefaultConfig()
	if c.Sort.LargeQueueThreshold > 0 {
		cfg.Ordering.LargeQueueThreshold = c.Sort.LargeQueueThreshold
	}
	if c.Sort.ChunkSize > 0 {
		cfg.Ordering.ChunkSize = c.Sort.ChunkSize
	}
	if c.Sort.InitialBatchSize > 0 {
		cfg.Ordering.InitialBatchSize = c.Sort.InitialBatchSize
	}
	if c.Sort.YieldEveryItems > 0 {
		cfg.Ordering.YieldEveryItems = c.Sort.YieldEveryItems
	}
	if c.RevisionWaitTimeout > 0 {
		cfg.RevisionWaitTimeout = c.RevisionWaitTimeout
	}
	if c.RefreshRate > 0 {
		cfg.RefreshRate = c.RefreshRate
	}
	if c.RefreshBurst > 0 {
		cfg.RefreshBurst = c.RefreshBurst
	}
	return cfg
}

func (c *Config) defaults() {
	if c.Sort.Primary == "" {
		c.Sort = comparator.DefaultSortConfig()
	}
	if c.Ordering.ChunkSize <= 0 {
		d := ordering.DefaultConfig()
		d.Synchronous, d.Yield = c.Ordering.Synchronous, c.Ordering.Yield
		c.Ordering = d
	}
	if c.RefreshRate <= 0 {
		c.RefreshRate = 4
	}
	if c.RefreshBurst <= 0 {
		c.RefreshBurst = 1
	}
}

// Option configures a View
type Option func(v *View, b *backend.Backend)

// WithBackend connects commands and refreshes to b
func WithBackend(b backend.Backend) Option {
	return func(_ *View, dst *backend.Backend) { *dst = b }
}

// WithSubscriber sets the push channel consumed by Run
func WithSubscriber(s backend.Subscriber) Option {
	return func(v *View, _ *backend.Backend) { v.subscriber = s }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(v *View, _ *backend.Backend) { v.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(r *metrics.Recorder) Option {
	return func(v *View, _ *backend.Backend) { v.metrics = r }
}

// WithTracer sets the tracing provider
func WithTracer(p *tracing.Provider) Option {
	return func(v *View, _ *backend.Backend) { v.tracer = p }
}

// WithTranslator sets the language of user-visible messages
func WithTranslator(tr *messages.Translator) Option {
	return func(v *View, _ *backend.Backend) { v.tr = tr }
}

// WithCompletionHandler is called once for every job observed finishing
func WithCompletionHandler(fn func(*models.Job)) Option {
	return func(v *View, _ *backend.Backend) { v.onComplete = fn }
}
