// Package config loads node settings from defaults, an optional YAML file
// and RNR_-prefixed environment variables, in increasing precedence.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/LICODX/rnr-poh/pkg/hash"
	"github.com/LICODX/rnr-poh/pkg/logging"
	"github.com/LICODX/rnr-poh/pkg/metronome"
	"github.com/LICODX/rnr-poh/pkg/worker"
)

const EnvPrefix = "RNR"

type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	PoH     PoHConfig     `mapstructure:"poh"`
	P2P     P2PConfig     `mapstructure:"p2p"`
	Key     KeyConfig     `mapstructure:"key"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Node    NodeConfig    `mapstructure:"node"`
	Worker  WorkerConfig  `mapstructure:"worker"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type PoHConfig struct {
	Algorithm     uint8         `mapstructure:"algorithm"`
	Schedule      string        `mapstructure:"schedule"`
	SpinThreshold time.Duration `mapstructure:"spin_threshold"`
	// Seed is hex when prefixed with 0x, raw text otherwise. Empty means
	// 64 zero bytes.
	Seed string `mapstructure:"seed"`
}

type P2PConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Host    string `mapstructure:"host"`
	Ticket  string `mapstructure:"ticket"`
	Name    string `mapstructure:"name"`
	Fanout  int    `mapstructure:"fanout"`
	MaxTTL  int    `mapstructure:"max_ttl"`
}

type KeyConfig struct {
	File     string `mapstructure:"file"`
	Password string `mapstructure:"password"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type NodeConfig struct {
	ChannelCapacity int `mapstructure:"channel_capacity"`
	BatchSize       int `mapstructure:"batch_size"`
	TailSize        int `mapstructure:"tail_size"`
	ValidatorPool   int `mapstructure:"validator_pool"`
}

type WorkerConfig struct {
	MaxThreads     int    `mapstructure:"max_threads"`
	CoreAllocation string `mapstructure:"core_allocation"`
	CoreMin        int    `mapstructure:"core_min"`
	CoreMax        int    `mapstructure:"core_max"`
	Priority       uint8  `mapstructure:"priority"`
}

// SetDefaults registers every key so that environment overrides resolve
// even when no file is present.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("poh.algorithm", hash.DefaultAlgorithm.Byte())
	v.SetDefault("poh.schedule", "production")
	v.SetDefault("poh.spin_threshold", metronome.SpinThreshold)
	v.SetDefault("poh.seed", "")

	v.SetDefault("p2p.enabled", true)
	v.SetDefault("p2p.port", 9000)
	v.SetDefault("p2p.host", "0.0.0.0")
	v.SetDefault("p2p.ticket", "")
	v.SetDefault("p2p.name", "")
	v.SetDefault("p2p.fanout", 6)
	v.SetDefault("p2p.max_ttl", 4)

	v.SetDefault("key.file", "")
	v.SetDefault("key.password", "")

	v.SetDefault("metrics.addr", ":9100")

	v.SetDefault("node.channel_capacity", metronome.ChannelCapacity)
	v.SetDefault("node.batch_size", metronome.BatchSize)
	v.SetDefault("node.tail_size", 4*metronome.RevsPerPhase)
	v.SetDefault("node.validator_pool", 2)

	v.SetDefault("worker.max_threads", 16)
	v.SetDefault("worker.core_allocation", "os-default")
	v.SetDefault("worker.core_min", 0)
	v.SetDefault("worker.core_max", 0)
	v.SetDefault("worker.priority", 0)
}

// NewViper returns a viper instance with defaults and env binding, reading
// cfgFile when it is non-empty.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}
	return v, nil
}

func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := metronome.ScheduleByName(c.PoH.Schedule); err != nil {
		errs = append(errs, err)
	}
	if c.PoH.SpinThreshold < 0 {
		errs = append(errs, fmt.Errorf("poh.spin_threshold must not be negative"))
	}
	if _, err := c.SeedBytes(); err != nil {
		errs = append(errs, err)
	}
	if c.P2P.Port < 0 || c.P2P.Port > 65535 {
		errs = append(errs, fmt.Errorf("p2p.port %d out of range", c.P2P.Port))
	}
	if c.Node.ChannelCapacity <= 0 {
		errs = append(errs, fmt.Errorf("node.channel_capacity must be positive"))
	}
	if c.Node.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("node.batch_size must be positive"))
	}
	if c.Node.TailSize <= 0 {
		errs = append(errs, fmt.Errorf("node.tail_size must be positive"))
	}
	if c.Node.ValidatorPool <= 0 {
		errs = append(errs, fmt.Errorf("node.validator_pool must be positive"))
	}
	if _, err := c.WorkerConfig(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) Algorithm() hash.Algorithm {
	return hash.AlgorithmFromByte(c.PoH.Algorithm)
}

func (c Config) Schedule() metronome.Schedule {
	s, err := metronome.ScheduleByName(c.PoH.Schedule)
	if err != nil {
		return metronome.Production()
	}
	return s
}

func (c Config) LogLevel() logging.LogLevel {
	l, _ := logging.ParseLevel(c.Log.Level)
	return l
}

func (c Config) SeedBytes() ([]byte, error) {
	s := c.PoH.Seed
	switch {
	case s == "":
		return make([]byte, 64), nil
	case strings.HasPrefix(s, "0x"):
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, fmt.Errorf("poh.seed: %w", err)
		}
		return b, nil
	default:
		return []byte(s), nil
	}
}

func (c Config) WorkerConfig() (worker.Config, error) {
	kind, err := worker.ParseAllocationKind(c.Worker.CoreAllocation)
	if err != nil {
		return worker.Config{}, err
	}
	wc := worker.DefaultConfig()
	wc.MaxThreads = c.Worker.MaxThreads
	wc.Priority = c.Worker.Priority
	wc.CoreAllocation = worker.CoreAllocation{Kind: kind, Min: c.Worker.CoreMin, Max: c.Worker.CoreMax}
	if err := wc.Validate(); err != nil {
		return worker.Config{}, fmt.Errorf("worker: %w", err)
	}
	return wc, nil
}

// ListenAddr is the libp2p TCP listen address.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("/ip4/%s/tcp/%d", c.P2P.Host, c.P2P.Port)
}
