package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Endpoint    string `toml:"endpoint"`
	Network     string `toml:"network"`
	ServiceRoot string `toml:"service_root"`
	CACert      string `toml:"ca_cert"`

	Stream   StreamConfig   `toml:"stream"`
	Queue    QueueConfig    `toml:"queue"`
	Store    StoreConfig    `toml:"store"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Contract ContractConfig `toml:"contract"`
	Signing  SigningConfig  `toml:"signing"`
}

type StreamConfig struct {
	Reconnect               bool `toml:"reconnect"`
	ReconnectLimit          int  `toml:"reconnect_limit"`
	IdleTimeoutSeconds      int  `toml:"idle_timeout_seconds"`
	HandshakeTimeoutSeconds int  `toml:"handshake_timeout_seconds"`
}

type QueueConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Topic    string `toml:"topic"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"`
}

type ContractConfig struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Prefix  string `toml:"prefix"`
	Path    string `toml:"path"`
}

type SigningConfig struct {
	Key string `toml:"key"`
}

// Default returns the baseline configuration; Load overlays the file on it,
// so keys absent from the file keep these values.
func Default() Config {
	return Config{
		Endpoint:    "http://localhost:8085",
		Network:     "consortium",
		ServiceRoot: "scabbard",
		Stream: StreamConfig{
			Reconnect:               true,
			ReconnectLimit:          10,
			IdleTimeoutSeconds:      60,
			HandshakeTimeoutSeconds: 10,
		},
		Queue: QueueConfig{
			Addr:  "localhost:6379",
			Topic: "consortium-events",
		},
		Store: StoreConfig{
			Path: "consortiumd.db",
		},
		Contract: ContractConfig{
			Name:    "consortium",
			Version: "1.0",
			Prefix:  "cad1b2",
			Path:    "consortium.wasm",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()
	if err := loadToml(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return fmt.Errorf("config missing endpoint")
	}
	if !strings.HasPrefix(cfg.Endpoint, "http://") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		return fmt.Errorf("config endpoint must be an http(s) URL: %s", cfg.Endpoint)
	}
	if strings.TrimSpace(cfg.Network) == "" {
		return fmt.Errorf("config missing network")
	}
	if strings.TrimSpace(cfg.ServiceRoot) == "" {
		return fmt.Errorf("config missing service_root")
	}
	if cfg.Stream.ReconnectLimit < 0 {
		return fmt.Errorf("config reconnect_limit must not be negative")
	}
	if cfg.Stream.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("config idle_timeout_seconds must be positive")
	}
	if strings.TrimSpace(cfg.Queue.Addr) == "" {
		return fmt.Errorf("config missing queue addr")
	}
	if strings.TrimSpace(cfg.Queue.Topic) == "" {
		return fmt.Errorf("config missing queue topic")
	}
	if strings.TrimSpace(cfg.Store.Path) == "" {
		return fmt.Errorf("config missing store path")
	}
	if err := validateContract(cfg.Contract); err != nil {
		return err
	}
	if key := strings.TrimSpace(cfg.Signing.Key); key != "" && len(key) != 64 {
		return fmt.Errorf("config signing key must be 64 hex characters")
	}
	return nil
}

func validateContract(cfg ContractConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("config missing contract name")
	}
	if strings.TrimSpace(cfg.Version) == "" {
		return fmt.Errorf("config missing contract version")
	}
	if len(cfg.Prefix) != 6 {
		return fmt.Errorf("config contract prefix must be 6 characters, got %q", cfg.Prefix)
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return fmt.Errorf("config missing contract path")
	}
	return nil
}
