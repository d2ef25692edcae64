package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/meshwork-io/consortiumd/internal/contract"
	"github.com/meshwork-io/consortiumd/internal/pubsub"
	"github.com/meshwork-io/consortiumd/internal/stream"
)

// StreamSettings maps the stream section onto supervisor settings, keeping
// the default backoff curve.
func StreamSettings(cfg Config) stream.Config {
	out := stream.DefaultConfig()
	out.Reconnect = cfg.Stream.Reconnect
	out.ReconnectLimit = uint(cfg.Stream.ReconnectLimit)
	out.IdleTimeout = time.Duration(cfg.Stream.IdleTimeoutSeconds) * time.Second
	if cfg.Stream.HandshakeTimeoutSeconds > 0 {
		out.HandshakeTimeout = time.Duration(cfg.Stream.HandshakeTimeoutSeconds) * time.Second
	}
	return out
}

// TLSSettings builds the client TLS configuration for https endpoints. With
// no ca_cert configured it returns nil and the system trust store applies.
func TLSSettings(cfg Config) (*tls.Config, error) {
	if cfg.CACert == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(cfg.CACert)
	if err != nil {
		return nil, fmt.Errorf("config load ca_cert (%s): %w", cfg.CACert, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("config ca_cert (%s): no certificates found", cfg.CACert)
	}
	return &tls.Config{RootCAs: pool}, nil
}

func QueueSettings(cfg Config) pubsub.StreamConfig {
	return pubsub.StreamConfig{
		Addr:     cfg.Queue.Addr,
		Password: cfg.Queue.Password,
		DB:       cfg.Queue.DB,
		Topic:    cfg.Queue.Topic,
	}
}

func ContractSettings(cfg Config) contract.Config {
	return contract.Config{
		Name:    cfg.Contract.Name,
		Version: cfg.Contract.Version,
		Prefix:  cfg.Contract.Prefix,
		Path:    cfg.Contract.Path,
	}
}
