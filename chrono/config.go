package chrono

import (
	"github.com/chronosched/chronosched/config"
)

// Config holds the collaborators a Pipeline is assembled from. Mirrors the
// teacher package's own functional-options shape (WithCheckInterval and
// friends).
type Config struct {
	registryStorage    RegistryStorage
	broadcasterStorage BroadcasterStorage
	evaluator          CronEvaluator
	tz                 TZConverter
	clock              Clock
	seed               []*Job
}

// Option configures a Pipeline.
type Option func(*Config)

// WithRegistryStorage sets the durable catalog backend. Defaults to an
// in-memory store if unset.
func WithRegistryStorage(s RegistryStorage) Option {
	return func(c *Config) { c.registryStorage = s }
}

// WithBroadcasterStorage sets the durable watermark backend. Defaults to an
// in-memory store if unset.
func WithBroadcasterStorage(s BroadcasterStorage) Option {
	return func(c *Config) { c.broadcasterStorage = s }
}

// WithCronEvaluator overrides the default RobfigEvaluator.
func WithCronEvaluator(e CronEvaluator) Option {
	return func(c *Config) { c.evaluator = e }
}

// WithTZConverter overrides the default StdTZConverter.
func WithTZConverter(tz TZConverter) Option {
	return func(c *Config) { c.tz = tz }
}

// WithClock overrides the default real-time Clock, primarily for tests.
func WithClock(clk Clock) Option {
	return func(c *Config) { c.clock = clk }
}

// WithSeed supplies the initial catalog used when RegistryStorage reports
// ErrNotApplicable (no persisted catalog yet).
func WithSeed(jobs []*Job) Option {
	return func(c *Config) { c.seed = jobs }
}

// Environment variables consulted by WithStoragePathsFromEnv.
const (
	envRegistryPath    = "CHRONOSCHED_REGISTRY_PATH"
	envBroadcasterPath = "CHRONOSCHED_BROADCASTER_PATH"
)

// WithStoragePathsFromEnv points the catalog and watermark at file-backed
// storage whose paths come from CHRONOSCHED_REGISTRY_PATH and
// CHRONOSCHED_BROADCASTER_PATH. Either variable left unset skips that
// storage, leaving whatever WithRegistryStorage/WithBroadcasterStorage (or
// the in-memory default) was already configured. The file extension picks
// the on-disk format, same as FileRegistryStorage/FileBroadcasterStorage.
func WithStoragePathsFromEnv() Option {
	return func(c *Config) {
		if p := config.GetEnvAsString(envRegistryPath, ""); p != "" {
			s, err := NewFileRegistryStorage(p)
			if err != nil {
				logger.ErrorF("chrono: %s=%q: %v", envRegistryPath, p, err)
			} else {
				c.registryStorage = s
			}
		}
		if p := config.GetEnvAsString(envBroadcasterPath, ""); p != "" {
			s, err := NewFileBroadcasterStorage(p)
			if err != nil {
				logger.ErrorF("chrono: %s=%q: %v", envBroadcasterPath, p, err)
			} else {
				c.broadcasterStorage = s
			}
		}
	}
}

func newConfig(opts []Option) *Config {
	c := &Config{
		registryStorage:    NewInMemoryRegistryStorage(),
		broadcasterStorage: NewInMemoryBroadcasterStorage(),
		evaluator:          NewRobfigEvaluator(),
		tz:                 NewStdTZConverter(),
		clock:              NewClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
