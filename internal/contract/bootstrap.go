package contract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meshwork-io/consortiumd/internal/observability"
	"github.com/meshwork-io/consortiumd/internal/pubsub"
	"github.com/meshwork-io/consortiumd/internal/signing"
	"github.com/meshwork-io/consortiumd/internal/statechange"
	"github.com/meshwork-io/consortiumd/internal/stream"
)

var (
	ErrSubmit        = errors.New("contract: batch submission failed")
	ErrConfigMissing = errors.New("contract: deployment configuration incomplete")
)

const (
	txnFamily        = "contract_admin"
	txnFamilyVersion = "1.0"
)

// Config carries the deployment-time contract parameters.
type Config struct {
	Name    string
	Version string
	Prefix  string
	Path    string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name", ErrConfigMissing)
	}
	if strings.TrimSpace(c.Version) == "" {
		return fmt.Errorf("%w: version", ErrConfigMissing)
	}
	if len(c.Prefix) != 6 {
		return fmt.Errorf("%w: prefix must be 6 characters, got %q", ErrConfigMissing, c.Prefix)
	}
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("%w: path", ErrConfigMissing)
	}
	return nil
}

// Request captures the circuit context for one deployment, by value.
type Request struct {
	CircuitID       string
	ServiceID       string
	AdminKeys       []string
	Requester       string
	RequesterNodeID string
}

// Bootstrapper deploys the application contract to a circuit's execution
// endpoint and opens that circuit's state subscription stream.
type Bootstrapper struct {
	baseURL     string
	serviceRoot string
	cfg         Config
	signer      *signing.Signer
	pub         pubsub.Publisher
	streamCfg   stream.Config
	client      *http.Client

	readContract func(path string) ([]byte, error)

	mu      sync.Mutex
	streams []*stream.Supervisor
}

func NewBootstrapper(baseURL, serviceRoot string, cfg Config, signer *signing.Signer, pub pubsub.Publisher, streamCfg stream.Config) (*Bootstrapper, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("contract: base url required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Bootstrapper{
		baseURL:     strings.TrimRight(baseURL, "/"),
		serviceRoot: strings.Trim(serviceRoot, "/"),
		cfg:         cfg,
		signer:      signer,
		pub:         pub,
		streamCfg:   streamCfg,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{TLSClientConfig: streamCfg.TLS},
		},
		readContract: os.ReadFile,
	}, nil
}

// Bootstrap builds, signs and submits the deployment batch, then opens the
// circuit's state stream. Submission failure leaves the stream unopened.
func (b *Bootstrapper) Bootstrap(ctx context.Context, req Request) error {
	batch, err := b.buildDeploymentBatch(req.AdminKeys)
	if err != nil {
		observability.RecordDeployment(false)
		return err
	}
	if err := b.submit(ctx, req.CircuitID, req.ServiceID, batch); err != nil {
		observability.RecordDeployment(false)
		return err
	}
	observability.RecordDeployment(true)
	log.Info().
		Str("circuit_id", req.CircuitID).
		Str("service_id", req.ServiceID).
		Str("contract", b.cfg.Name).
		Msg("contract deployment submitted")
	return b.openStateStream(ctx, req)
}

func (b *Bootstrapper) buildDeploymentBatch(adminKeys []string) (Batch, error) {
	contractBytes, err := b.readContract(b.cfg.Path)
	if err != nil {
		return Batch{}, fmt.Errorf("contract: read contract %s: %w", b.cfg.Path, err)
	}

	registryAddr := ContractRegistryAddress(b.cfg.Name)
	contractAddr := ContractAddress(b.cfg.Name, b.cfg.Version)
	nsAddr := NamespaceRegistryAddress(b.cfg.Prefix)

	steps := []struct {
		payload []byte
		inputs  []string
		outputs []string
	}{
		{
			payload: CreateContractRegistryPayload(b.cfg.Name, adminKeys),
			inputs:  []string{registryAddr},
			outputs: []string{registryAddr},
		},
		{
			payload: CreateContractPayload(b.cfg.Name, b.cfg.Version, contractBytes),
			inputs:  []string{registryAddr, contractAddr},
			outputs: []string{registryAddr, contractAddr},
		},
		{
			payload: CreateNamespaceRegistryPayload(b.cfg.Prefix, adminKeys),
			inputs:  []string{nsAddr},
			outputs: []string{nsAddr},
		},
		{
			payload: GrantNamespacePermissionPayload(b.cfg.Prefix, b.cfg.Name, true, true),
			inputs:  []string{nsAddr},
			outputs: []string{nsAddr},
		},
	}

	txns := make([]Transaction, 0, len(steps))
	for _, step := range steps {
		txn, err := BuildTransaction(b.signer, TxnHeader{
			FamilyName:    txnFamily,
			FamilyVersion: txnFamilyVersion,
			Inputs:        step.inputs,
			Outputs:       step.outputs,
		}, step.payload)
		if err != nil {
			return Batch{}, err
		}
		txns = append(txns, txn)
	}
	return BuildBatch(b.signer, txns)
}

func (b *Bootstrapper) submit(ctx context.Context, circuitID, serviceID string, batch Batch) error {
	url := fmt.Sprintf("%s/%s/%s/%s/batches", b.baseURL, b.serviceRoot, circuitID, serviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(batch.Encode()))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrSubmit, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubmit, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrSubmit, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (b *Bootstrapper) openStateStream(ctx context.Context, req Request) error {
	processor := statechange.NewProcessor(
		req.CircuitID,
		req.RequesterNodeID,
		req.Requester,
		ContractRegistryAddress(b.cfg.Name),
		b.cfg.Prefix,
		b.pub,
	)
	url := stream.WebsocketURL(b.baseURL,
		fmt.Sprintf("/%s/%s/%s/ws/subscribe", b.serviceRoot, req.CircuitID, req.ServiceID))
	sup, err := stream.New("state:"+req.CircuitID, url, b.streamCfg, processor.HandleFrame)
	if err != nil {
		return fmt.Errorf("contract: open state stream: %w", err)
	}
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("contract: start state stream: %w", err)
	}
	b.mu.Lock()
	b.streams = append(b.streams, sup)
	b.mu.Unlock()
	return nil
}

// Close stops every state stream this bootstrapper opened.
func (b *Bootstrapper) Close() {
	b.mu.Lock()
	streams := append([]*stream.Supervisor(nil), b.streams...)
	b.mu.Unlock()
	for _, s := range streams {
		s.Close()
	}
}
