package statechange

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meshwork-io/consortiumd/internal/observability"
	"github.com/meshwork-io/consortiumd/internal/pubsub"
	"github.com/meshwork-io/consortiumd/internal/stream"
	"github.com/meshwork-io/consortiumd/internal/wire"
)

// Processor classifies state changes from one circuit's subscription feed and
// forwards the publishable ones. Context fields are captured by value at
// circuit-ready time.
type Processor struct {
	circuitID   string
	nodeID      string
	requester   string
	rootAddress string
	prefix      string
	pub         pubsub.Publisher
	now         func() time.Time
}

func NewProcessor(circuitID, nodeID, requester, rootAddress, prefix string, pub pubsub.Publisher) *Processor {
	return &Processor{
		circuitID:   circuitID,
		nodeID:      nodeID,
		requester:   requester,
		rootAddress: rootAddress,
		prefix:      prefix,
		pub:         pub,
		now:         time.Now,
	}
}

// HandleFrame decodes one subscription frame and processes its records in
// arrival order. A malformed frame is a protocol error; a failed publish is
// logged and the remaining records still run.
func (p *Processor) HandleFrame(ctx context.Context, frame []byte) error {
	changes, err := ParseBatch(frame)
	if err != nil {
		return fmt.Errorf("%w: %v", stream.ErrProtocol, err)
	}
	for _, change := range changes {
		p.handleChange(ctx, change)
	}
	return nil
}

func (p *Processor) handleChange(ctx context.Context, change Change) {
	class := Classify(change, p.rootAddress, p.prefix)
	observability.RecordStateChange(class.String())
	switch class {
	case ClassContractCreated:
		log.Debug().Str("circuit_id", p.circuitID).Msg("contract created on circuit")
		env, err := wire.EncodeProposalNotice(wire.MsgContractCreated, wire.ProposalNotice{
			Requester:       p.requester,
			RequesterNodeID: p.nodeID,
			CircuitID:       p.circuitID,
			TimestampMS:     uint64(p.now().UnixMilli()),
		})
		if err != nil {
			log.Error().Err(err).Str("circuit_id", p.circuitID).Msg("encode contract-created notice")
			return
		}
		p.publish(ctx, env)
	case ClassApplicationPayload:
		env, err := wire.EncodeStatePayload(wire.StatePayload{
			Requester:       p.requester,
			RequesterNodeID: p.nodeID,
			CircuitID:       p.circuitID,
			Data:            change.Value,
			TimestampMS:     uint64(p.now().UnixMilli()),
		})
		if err != nil {
			log.Error().Err(err).Str("circuit_id", p.circuitID).Msg("encode state payload")
			return
		}
		p.publish(ctx, env)
	case ClassIgnored:
		log.Debug().Str("circuit_id", p.circuitID).Str("key", change.Key).Msg("delete state, skipping")
	default:
		log.Debug().Str("circuit_id", p.circuitID).Str("key", change.Key).Msg("unrecognized state change, skipping")
	}
}

func (p *Processor) publish(ctx context.Context, env wire.Envelope) {
	if err := p.pub.Publish(ctx, env); err != nil {
		log.Error().Err(err).
			Str("circuit_id", p.circuitID).
			Str("message_type", env.Type.String()).
			Msg("publish failed, event dropped")
	}
}
