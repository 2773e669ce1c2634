package chunkstore

// Default engine parameters. These match the limits the format was designed
// around; all of them can be overridden per store via Options.
const (
	// DefaultTableSize is the default index capacity (distinct live keys).
	DefaultTableSize = 16384

	// DefaultFragmentationThreshold is the wasted/(useful+wasted) ratio
	// past which a successful Set triggers compaction.
	DefaultFragmentationThreshold = 0.5

	// DefaultStreamBufferSize is the buffer size used to stream payloads
	// during scan and compaction, keeping memory use independent of
	// chunk size.
	DefaultStreamBufferSize = 64 << 10
)

// Config holds the tunable parameters of a store.
type Config struct {
	// TableSize is the fixed capacity of the in-memory index. The table
	// does not grow; once full, Set returns ErrTableFull for new keys.
	TableSize int

	// FragmentationThreshold triggers automatic compaction after a Set
	// when wasted/(useful+wasted) exceeds it. Values >= 1 combined with
	// AutoCompact=false disable the automatic trigger entirely;
	// Compact can always be called directly.
	FragmentationThreshold float64

	// AutoCompact enables the automatic compaction trigger on Set.
	AutoCompact bool

	// StreamBufferSize bounds the buffers used when streaming payloads
	// during scan and compaction.
	StreamBufferSize int

	// Metrics receives operation observations when non-nil.
	Metrics Metrics
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		TableSize:              DefaultTableSize,
		FragmentationThreshold: DefaultFragmentationThreshold,
		AutoCompact:            true,
		StreamBufferSize:       DefaultStreamBufferSize,
	}
}

// Option customizes a store at open time.
type Option func(*Config)

// WithTableSize sets the fixed index capacity.
func WithTableSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.TableSize = n
		}
	}
}

// WithFragmentationThreshold sets the automatic compaction trigger ratio.
func WithFragmentationThreshold(ratio float64) Option {
	return func(c *Config) {
		if ratio > 0 {
			c.FragmentationThreshold = ratio
		}
	}
}

// WithAutoCompact enables or disables the automatic compaction trigger.
func WithAutoCompact(enabled bool) Option {
	return func(c *Config) {
		c.AutoCompact = enabled
	}
}

// WithStreamBufferSize sets the streaming buffer size for scan and compaction.
func WithStreamBufferSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.StreamBufferSize = n
		}
	}
}

// WithMetrics attaches a metrics sink to the store.
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}
