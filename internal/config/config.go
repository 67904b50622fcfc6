// Package config loads the simulator configuration: defaults, then an
// optional TOML file, then EMBER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"

	"ember/emberos/kernel"
)

// EnvPrefix prefixes every environment override, e.g. EMBER_KERNEL_CORES.
const EnvPrefix = "EMBER"

type Config struct {
	Kernel   KernelConfig   `toml:"kernel"`
	Log      LogConfig      `toml:"log"`
	Host     HostConfig     `toml:"host"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Services ServicesConfig `toml:"services"`
}

// KernelConfig mirrors the table limits of kernel.Config.
type KernelConfig struct {
	Cores          int `toml:"cores" envconfig:"CORES"`
	MaxProcesses   int `toml:"max_processes" envconfig:"MAX_PROCESSES"`
	MaxThreads     int `toml:"max_threads" envconfig:"MAX_THREADS"`
	MaxServers     int `toml:"max_servers" envconfig:"MAX_SERVERS"`
	MaxConnections int `toml:"max_connections" envconfig:"MAX_CONNECTIONS"`
	QueueDepth     int `toml:"queue_depth" envconfig:"QUEUE_DEPTH"`
	Pages          int `toml:"pages" envconfig:"PAGES"`
	StackPages     int `toml:"stack_pages" envconfig:"STACK_PAGES"`
	QuantumTicks   int `toml:"quantum_ticks" envconfig:"QUANTUM_TICKS"`
}

type LogConfig struct {
	Level       string `toml:"level" envconfig:"LEVEL"`
	Development bool   `toml:"development" envconfig:"DEV"`
}

type HostConfig struct {
	Headless bool `toml:"headless" envconfig:"HEADLESS"`
	// Hz is the host step rate.
	Hz int `toml:"hz" envconfig:"HZ"`
	// Ticks stops a headless run after that many steps; zero runs forever.
	Ticks  uint64 `toml:"ticks" envconfig:"TICKS"`
	Width  int    `toml:"width" envconfig:"WIDTH"`
	Height int    `toml:"height" envconfig:"HEIGHT"`
	Scale  int    `toml:"scale" envconfig:"SCALE"`
}

type MetricsConfig struct {
	// Addr is where /metrics is served; empty disables it.
	Addr string `toml:"addr" envconfig:"ADDR"`
}

type ServicesConfig struct {
	NamesCapacity int  `toml:"names_capacity" envconfig:"NAMES_CAPACITY"`
	Console       bool `toml:"console" envconfig:"CONSOLE"`
}

// Default returns the built-in configuration.
func Default() Config {
	k := kernel.DefaultConfig()
	return Config{
		Kernel: KernelConfig{
			Cores:          k.Cores,
			MaxProcesses:   k.MaxProcesses,
			MaxThreads:     k.MaxThreads,
			MaxServers:     k.MaxServers,
			MaxConnections: k.MaxConnections,
			QueueDepth:     k.QueueDepth,
			Pages:          k.Pages,
			StackPages:     k.StackPages,
			QuantumTicks:   k.QuantumTicks,
		},
		Log:      LogConfig{Level: "info"},
		Host:     HostConfig{Hz: 60, Width: 320, Height: 320, Scale: 2},
		Services: ServicesConfig{NamesCapacity: 128, Console: true},
	}
}

// Load applies path (if not empty) and the environment over Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadToml(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.KernelConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log level %q: %w", c.Log.Level, err))
	}
	if c.Host.Hz <= 0 {
		errs = append(errs, fmt.Errorf("host hz %d must be positive", c.Host.Hz))
	}
	if c.Host.Width <= 0 || c.Host.Height <= 0 {
		errs = append(errs, fmt.Errorf("host size %dx%d must be positive", c.Host.Width, c.Host.Height))
	}
	if c.Services.NamesCapacity <= 0 {
		errs = append(errs, fmt.Errorf("names capacity %d must be positive", c.Services.NamesCapacity))
	}
	return errors.Join(errs...)
}

// KernelConfig converts the kernel section.
func (c Config) KernelConfig() kernel.Config {
	k := kernel.DefaultConfig()
	k.Cores = c.Kernel.Cores
	k.MaxProcesses = c.Kernel.MaxProcesses
	k.MaxThreads = c.Kernel.MaxThreads
	k.MaxServers = c.Kernel.MaxServers
	k.MaxConnections = c.Kernel.MaxConnections
	k.QueueDepth = c.Kernel.QueueDepth
	k.Pages = c.Kernel.Pages
	k.StackPages = c.Kernel.StackPages
	k.QuantumTicks = c.Kernel.QuantumTicks
	return k
}
