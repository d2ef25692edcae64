package admin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meshwork-io/consortiumd/internal/contract"
	"github.com/meshwork-io/consortiumd/internal/observability"
	"github.com/meshwork-io/consortiumd/internal/pubsub"
	"github.com/meshwork-io/consortiumd/internal/store"
	"github.com/meshwork-io/consortiumd/internal/stream"
	"github.com/meshwork-io/consortiumd/internal/wire"
)

var ErrMissingVoter = errors.New("admin: missing vote from signer")

// ProposalStore is the persistence surface the dispatcher needs.
type ProposalStore interface {
	InsertProposal(ctx context.Context, p store.Proposal, c store.Consortium, members []store.Member, services []store.Service) (int64, error)
	PendingProposalID(ctx context.Context, circuitID string) (int64, error)
	SetProposalStatus(ctx context.Context, id int64, status string, at time.Time) error
	InsertVote(ctx context.Context, v store.VoteRecord) error
}

// Bootstrapper deploys the contract and opens the circuit's state stream.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, req contract.Request) error
}

// Dispatcher drives the proposal lifecycle state machine over admin events,
// one event at a time in arrival order.
type Dispatcher struct {
	nodeID string
	pub    pubsub.Publisher
	store  ProposalStore
	boot   Bootstrapper
	now    func() time.Time
}

func NewDispatcher(nodeID string, pub pubsub.Publisher, st ProposalStore, boot Bootstrapper) *Dispatcher {
	return &Dispatcher{
		nodeID: nodeID,
		pub:    pub,
		store:  st,
		boot:   boot,
		now:    time.Now,
	}
}

// HandleFrame is the admin stream's message handler. A frame that does not
// decode as an admin event is a protocol error and closes the stream;
// per-event failures are logged by the supervisor and do not.
func (d *Dispatcher) HandleFrame(ctx context.Context, frame []byte) error {
	ev, err := ParseEvent(frame)
	if err != nil {
		return fmt.Errorf("%w: %v", stream.ErrProtocol, err)
	}
	err = d.HandleEvent(ctx, ev)
	observability.RecordAdminEvent(ev.Kind.String(), err == nil)
	if err != nil {
		return fmt.Errorf("admin: %s for circuit %s: %w", ev.Kind, ev.Proposal.CircuitID, err)
	}
	return nil
}

// HandleEvent applies one decoded event's side effects.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventProposalSubmitted:
		return d.handleSubmitted(ctx, ev.Proposal)
	case EventProposalVote:
		return d.handleVote(ctx, ev, wire.MsgProposalVote, "")
	case EventProposalAccepted:
		return d.handleVote(ctx, ev, wire.MsgProposalAccept, store.StatusAccepted)
	case EventProposalRejected:
		return d.handleVote(ctx, ev, wire.MsgProposalReject, store.StatusRejected)
	case EventCircuitReady:
		return d.handleReady(ctx, ev.Proposal)
	default:
		return fmt.Errorf("admin: unhandled event kind %s", ev.Kind)
	}
}

func (d *Dispatcher) handleSubmitted(ctx context.Context, p CircuitProposal) error {
	at := d.now()
	requester := ToHex(p.Requester)

	proposal := TranslateProposal(p, at, requester)
	consortium, err := TranslateConsortium(p.Circuit, at)
	if err != nil {
		return err
	}
	members := TranslateMembers(p.CircuitID, p.Circuit.Members, at)
	services := TranslateServices(p.CircuitID, p.Circuit.Roster, at)

	id, err := d.store.InsertProposal(ctx, proposal, consortium, members, services)
	if err != nil {
		return err
	}
	log.Info().Str("circuit_id", p.CircuitID).Int64("proposal_id", id).Msg("proposal recorded")

	env, err := wire.EncodeProposalNotice(wire.MsgProposalSubmit, wire.ProposalNotice{
		Requester:       requester,
		RequesterNodeID: p.RequesterNodeID,
		CircuitID:       p.CircuitID,
		TimestampMS:     uint64(at.UnixMilli()),
	})
	if err != nil {
		return err
	}
	return d.pub.Publish(ctx, env)
}

// handleVote records the signer's vote; terminalStatus is empty for plain
// vote events and a terminal proposal status for accepted/rejected events.
func (d *Dispatcher) handleVote(ctx context.Context, ev Event, msgType wire.MessageType, terminalStatus string) error {
	entry, ok := findVote(ev.Proposal.Votes, ev.SignerPublicKey)
	if !ok {
		return ErrMissingVoter
	}
	at := d.now()

	voteValue := entry.Vote
	switch terminalStatus {
	case store.StatusAccepted:
		voteValue = store.VoteAccept
	case store.StatusRejected:
		voteValue = store.VoteReject
	}

	proposalID, err := d.store.PendingProposalID(ctx, ev.Proposal.CircuitID)
	if err != nil {
		return err
	}
	if err := d.store.InsertVote(ctx, store.VoteRecord{
		ProposalID:     proposalID,
		VoterPublicKey: ToHex(ev.SignerPublicKey),
		VoterNodeID:    entry.VoterNodeID,
		Vote:           voteValue,
		CreatedTime:    at,
	}); err != nil {
		return err
	}
	if terminalStatus != "" {
		if err := d.store.SetProposalStatus(ctx, proposalID, terminalStatus, at); err != nil {
			if errors.Is(err, store.ErrTerminal) {
				log.Warn().Int64("proposal_id", proposalID).Str("status", terminalStatus).
					Msg("proposal already terminal, status unchanged")
			} else {
				return err
			}
		}
	}

	env, err := wire.EncodeVoteNotice(msgType, wire.VoteNotice{
		Voter:       ToHex(ev.SignerPublicKey),
		VoterNodeID: entry.VoterNodeID,
		CircuitID:   ev.Proposal.CircuitID,
		TimestampMS: uint64(at.UnixMilli()),
	})
	if err != nil {
		return err
	}
	return d.pub.Publish(ctx, env)
}

func (d *Dispatcher) handleReady(ctx context.Context, p CircuitProposal) error {
	serviceID, ok := LocalServiceID(p.Circuit.Roster, d.nodeID)
	if !ok {
		log.Debug().Str("circuit_id", p.CircuitID).Str("node_id", d.nodeID).
			Msg("ready circuit has no service for this node")
		return nil
	}
	meta, err := ParseMetadata(p.Circuit.ApplicationMetadata)
	if err != nil {
		return err
	}

	at := d.now()
	requester := ToHex(p.Requester)
	env, err := wire.EncodeProposalNotice(wire.MsgProposalReady, wire.ProposalNotice{
		Requester:       requester,
		RequesterNodeID: p.RequesterNodeID,
		CircuitID:       p.CircuitID,
		TimestampMS:     uint64(at.UnixMilli()),
	})
	if err != nil {
		return err
	}
	if err := d.pub.Publish(ctx, env); err != nil {
		return err
	}

	// Deployment and the state stream open run off the receive loop.
	req := contract.Request{
		CircuitID:       p.CircuitID,
		ServiceID:       serviceID,
		AdminKeys:       append([]string(nil), meta.AdminKeys...),
		Requester:       requester,
		RequesterNodeID: p.RequesterNodeID,
	}
	go func() {
		if err := d.boot.Bootstrap(ctx, req); err != nil {
			log.Error().Err(err).Str("circuit_id", req.CircuitID).Msg("contract bootstrap failed")
		}
	}()
	return nil
}

func findVote(votes []VoteEntry, signer []byte) (VoteEntry, bool) {
	for _, v := range votes {
		if bytes.Equal(v.PublicKey, signer) {
			return v, true
		}
	}
	return VoteEntry{}, false
}
