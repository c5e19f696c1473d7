package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bigbag/meshrelay/embedded"
	"github.com/bigbag/meshrelay/internal/logging"
	"github.com/bigbag/meshrelay/internal/protocol"
	"github.com/bigbag/meshrelay/internal/transform"
)

// Duration decodes TOML strings such as "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	NodeName  string          `toml:"node_name"`
	NetworkID uint16          `toml:"network_id"`
	Log       LogConfig       `toml:"log"`
	Decoder   DecoderConfig   `toml:"decoder"`
	Node      NodeConfig      `toml:"node"`
	Forward   ForwardConfig   `toml:"forward"`
	Transform TransformConfig `toml:"transform"`
	Radio     PortConfig      `toml:"radio"`
	Feed      PortConfig      `toml:"feed"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Display   DisplayConfig   `toml:"display"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type DecoderConfig struct {
	BufferCapacity int `toml:"buffer_capacity"`
}

type NodeConfig struct {
	PollInterval Duration `toml:"poll_interval"`
	StallTimeout Duration `toml:"stall_timeout"`
}

type ForwardConfig struct {
	Marker  string `toml:"marker"`
	MaxHops int    `toml:"max_hops"`
}

type TransformConfig struct {
	Name  string `toml:"name"`
	Key   string `toml:"key"`
	Debug bool   `toml:"debug"`
}

type PortConfig struct {
	Port         string   `toml:"port"`
	Baud         int      `toml:"baud"`
	Address      int      `toml:"address"`
	ReplyTimeout Duration `toml:"reply_timeout"`
}

type MetricsConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

type DisplayConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns the embedded relay.toml.
func Default() (Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(embedded.RelayConfig()), &cfg); err != nil {
		return Config{}, fmt.Errorf("embedded config parse failed: %w", err)
	}
	return cfg, nil
}

// Load reads path over the defaults and validates the result. Keys absent
// from the file keep their default values.
func Load(path string) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field requirements.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.NodeName) == "" {
		return fmt.Errorf("config missing node_name")
	}
	if _, ok := logging.ParseLevel(cfg.Log.Level); !ok {
		return fmt.Errorf("log.level %q not recognized", cfg.Log.Level)
	}
	if cfg.Decoder.BufferCapacity < protocol.MinFrameSize || cfg.Decoder.BufferCapacity > protocol.MaxPayloadLength {
		return fmt.Errorf("decoder.buffer_capacity %d out of range [%d, %d]",
			cfg.Decoder.BufferCapacity, protocol.MinFrameSize, protocol.MaxPayloadLength)
	}
	if cfg.Node.PollInterval.Duration <= 0 {
		return fmt.Errorf("node.poll_interval must be positive")
	}
	if cfg.Node.StallTimeout.Duration < 0 {
		return fmt.Errorf("node.stall_timeout must not be negative")
	}
	if cfg.Forward.Marker == "" {
		return fmt.Errorf("forward.marker must not be empty")
	}
	if cfg.Forward.MaxHops < 0 {
		return fmt.Errorf("forward.max_hops must not be negative")
	}
	switch transform.NormalizeName(cfg.Transform.Name) {
	case transform.NameIdentity:
	case transform.NameXOR:
		if cfg.Transform.Key == "" {
			return fmt.Errorf("transform.key required for xor")
		}
	default:
		return fmt.Errorf("transform.name %q not recognized", cfg.Transform.Name)
	}
	for name, p := range map[string]PortConfig{"radio": cfg.Radio, "feed": cfg.Feed} {
		if p.Port != "" && p.Baud <= 0 {
			return fmt.Errorf("%s.baud must be positive", name)
		}
	}
	return nil
}
