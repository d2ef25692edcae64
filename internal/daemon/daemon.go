// Package daemon wires the admin stream, lifecycle dispatcher, persistence,
// queue publisher and contract bootstrapper into one runnable service.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meshwork-io/consortiumd/internal/admin"
	"github.com/meshwork-io/consortiumd/internal/config"
	"github.com/meshwork-io/consortiumd/internal/contract"
	"github.com/meshwork-io/consortiumd/internal/nodeinfo"
	"github.com/meshwork-io/consortiumd/internal/observability"
	"github.com/meshwork-io/consortiumd/internal/pubsub"
	"github.com/meshwork-io/consortiumd/internal/signing"
	"github.com/meshwork-io/consortiumd/internal/store"
	"github.com/meshwork-io/consortiumd/internal/stream"
)

type Service struct {
	cfg config.Config
}

func New(cfg config.Config) *Service {
	return &Service{cfg: cfg}
}

// Run blocks until the admin stream closes or the process receives an
// interrupt. A terminal stream error is returned to the caller.
func (s *Service) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	observability.RegisterMetrics()
	if srv := observability.StartMetricsServer(s.cfg.Metrics.Addr); srv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info().Str("addr", s.cfg.Metrics.Addr).Msg("metrics listener started")
	}

	signer, err := s.signer()
	if err != nil {
		return err
	}
	log.Info().Str("public_key", signer.PublicKeyHex()).Msg("signing identity loaded")

	tlsCfg, err := config.TLSSettings(s.cfg)
	if err != nil {
		return err
	}

	node, err := nodeinfo.New(s.cfg.Endpoint, tlsCfg).LocalNode(ctx)
	if err != nil {
		return fmt.Errorf("daemon: resolve local node: %w", err)
	}
	log.Info().Str("node_id", node.Identity).Str("endpoint", node.Endpoint).Msg("local node resolved")

	st, err := store.Open(s.cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	pub, err := pubsub.NewStreamPublisher(config.QueueSettings(s.cfg))
	if err != nil {
		return err
	}
	defer pub.Close()

	streamCfg := config.StreamSettings(s.cfg)
	streamCfg.TLS = tlsCfg
	boot, err := contract.NewBootstrapper(s.cfg.Endpoint, s.cfg.ServiceRoot, config.ContractSettings(s.cfg), signer, pub, streamCfg)
	if err != nil {
		return err
	}
	defer boot.Close()

	dispatcher := admin.NewDispatcher(node.Identity, pub, st, boot)
	adminURL := stream.WebsocketURL(s.cfg.Endpoint, "/ws/admin/register/"+s.cfg.Network)
	sup, err := stream.New("admin", adminURL, streamCfg, dispatcher.HandleFrame)
	if err != nil {
		return err
	}
	if err := sup.Start(ctx); err != nil {
		return err
	}
	log.Info().Str("url", adminURL).Msg("admin stream supervision started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		sup.Close()
		<-sup.Done()
		return nil
	case <-sup.Done():
		if err := sup.Err(); err != nil {
			return fmt.Errorf("daemon: admin stream closed: %w", err)
		}
		return nil
	}
}

func (s *Service) signer() (*signing.Signer, error) {
	if key := s.cfg.Signing.Key; key != "" {
		return signing.NewSignerFromHex(key)
	}
	log.Warn().Msg("no signing key configured, generating an ephemeral key")
	return signing.NewRandomSigner()
}
