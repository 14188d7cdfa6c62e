package neuroprep

type Config struct {
	OutputDir       string
	Workers         int
	Seed            uint64
	FrontalChannels []string
	AutoReject      AutoRejectConfig
	Logger          Logger
	Storage         Storage
}

// AutoRejectConfig holds the candidate grids searched by the epoch
// rejection step. Empty grids fall back to the defaults.
type AutoRejectConfig struct {
	Consensus    []float64
	NInterpolate []int
	Folds        int
}

type Option func(*Config)

func WithOutputDir(dir string) Option {
	return func(c *Config) {
		c.OutputDir = dir
	}
}

// WithWorkers sets the process-wide worker count when the service is
// created. Values below 1 leave the current setting alone.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

// WithSeed fixes the ICA initialisation. Zero selects the default seed.
func WithSeed(seed uint64) Option {
	return func(c *Config) {
		c.Seed = seed
	}
}

// WithFrontalChannels replaces the electrodes correlated against ICA
// components to find eye artifacts.
func WithFrontalChannels(names ...string) Option {
	return func(c *Config) {
		c.FrontalChannels = append([]string(nil), names...)
	}
}

func WithAutoReject(cfg AutoRejectConfig) Option {
	return func(c *Config) {
		c.AutoReject = cfg
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

func defaultConfig() *Config {
	return &Config{
		OutputDir:       ".",
		FrontalChannels: []string{"FP1", "FP2", "F8"},
		Logger:          nil,
	}
}
