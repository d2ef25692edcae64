package admin

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/meshwork-io/consortiumd/internal/contract"
	"github.com/meshwork-io/consortiumd/internal/store"
	"github.com/meshwork-io/consortiumd/internal/stream"
	"github.com/meshwork-io/consortiumd/internal/testutil/testlog"
	"github.com/meshwork-io/consortiumd/internal/wire"
)

type fakeStore struct {
	proposals  []store.Proposal
	votes      []store.VoteRecord
	statuses   map[int64]string
	pendingID  int64
	pendingErr error
	statusErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: make(map[int64]string), pendingID: 7}
}

func (f *fakeStore) InsertProposal(_ context.Context, p store.Proposal, _ store.Consortium, _ []store.Member, _ []store.Service) (int64, error) {
	f.proposals = append(f.proposals, p)
	return int64(len(f.proposals)), nil
}

func (f *fakeStore) PendingProposalID(_ context.Context, _ string) (int64, error) {
	if f.pendingErr != nil {
		return 0, f.pendingErr
	}
	return f.pendingID, nil
}

func (f *fakeStore) SetProposalStatus(_ context.Context, id int64, status string, _ time.Time) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statuses[id] = status
	return nil
}

func (f *fakeStore) InsertVote(_ context.Context, v store.VoteRecord) error {
	f.votes = append(f.votes, v)
	return nil
}

type fakePublisher struct {
	envs []wire.Envelope
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, env wire.Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.envs = append(f.envs, env)
	return nil
}

type fakeBootstrapper struct {
	requests chan contract.Request
}

func newFakeBootstrapper() *fakeBootstrapper {
	return &fakeBootstrapper{requests: make(chan contract.Request, 1)}
}

func (f *fakeBootstrapper) Bootstrap(_ context.Context, req contract.Request) error {
	f.requests <- req
	return nil
}

func sampleProposal(t *testing.T) CircuitProposal {
	t.Helper()
	return CircuitProposal{
		ProposalType:    "Create",
		CircuitID:       "alpha-circuit",
		CircuitHash:     "hash-1",
		Requester:       []byte{0xab, 0xcd},
		RequesterNodeID: "node-a",
		Circuit: CreateCircuit{
			CircuitID: "alpha-circuit",
			Roster: []CircuitService{{
				ServiceID:    "svc-a",
				ServiceType:  "scabbard",
				AllowedNodes: []string{"node-a"},
			}},
			Members:               []CircuitNode{{NodeID: "node-a", Endpoint: "tcps://node-a:8044"}},
			CircuitManagementType: "consortium",
			ApplicationMetadata:   RawBytes(metadataJSON(t, "alpha-room", []string{"aabb"})),
		},
		Votes: []VoteEntry{{
			PublicKey:   []byte{0x01, 0x02},
			Vote:        "Accept",
			VoterNodeID: "node-b",
		}},
	}
}

func newTestDispatcher(st *fakeStore, pub *fakePublisher, boot *fakeBootstrapper) *Dispatcher {
	d := NewDispatcher("node-a", pub, st, boot)
	d.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return d
}

func TestDispatcherSubmittedPersistsAndPublishes(t *testing.T) {
	testlog.Start(t)
	st := newFakeStore()
	pub := &fakePublisher{}
	d := newTestDispatcher(st, pub, newFakeBootstrapper())

	err := d.HandleEvent(context.Background(), Event{Kind: EventProposalSubmitted, Proposal: sampleProposal(t)})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(st.proposals) != 1 {
		t.Fatalf("expected one stored proposal, got %d", len(st.proposals))
	}
	if st.proposals[0].Requester != "abcd" {
		t.Fatalf("unexpected requester: %q", st.proposals[0].Requester)
	}
	if len(pub.envs) != 1 || pub.envs[0].Type != wire.MsgProposalSubmit {
		t.Fatalf("unexpected publishes: %+v", pub.envs)
	}
	notice, err := wire.DecodeProposalNotice(pub.envs[0])
	if err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if notice.CircuitID != "alpha-circuit" || notice.RequesterNodeID != "node-a" {
		t.Fatalf("unexpected notice: %+v", notice)
	}
}

func TestDispatcherSubmittedRejectsBadMetadata(t *testing.T) {
	testlog.Start(t)
	st := newFakeStore()
	pub := &fakePublisher{}
	d := newTestDispatcher(st, pub, newFakeBootstrapper())

	proposal := sampleProposal(t)
	proposal.Circuit.ApplicationMetadata = RawBytes(metadataJSON(t, "", nil))
	err := d.HandleEvent(context.Background(), Event{Kind: EventProposalSubmitted, Proposal: proposal})
	if !errors.Is(err, ErrBadMetadata) {
		t.Fatalf("expected ErrBadMetadata, got %v", err)
	}
	if len(st.proposals) != 0 || len(pub.envs) != 0 {
		t.Fatalf("bad metadata must not persist or publish")
	}
}

func TestDispatcherVoteRecordsSignerBallot(t *testing.T) {
	testlog.Start(t)
	st := newFakeStore()
	pub := &fakePublisher{}
	d := newTestDispatcher(st, pub, newFakeBootstrapper())

	err := d.HandleEvent(context.Background(), Event{
		Kind:            EventProposalVote,
		Proposal:        sampleProposal(t),
		SignerPublicKey: []byte{0x01, 0x02},
	})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(st.votes) != 1 {
		t.Fatalf("expected one vote record, got %d", len(st.votes))
	}
	if st.votes[0].ProposalID != 7 || st.votes[0].Vote != "Accept" || st.votes[0].VoterNodeID != "node-b" {
		t.Fatalf("unexpected vote record: %+v", st.votes[0])
	}
	if len(st.statuses) != 0 {
		t.Fatalf("plain vote must not change proposal status")
	}
	if len(pub.envs) != 1 || pub.envs[0].Type != wire.MsgProposalVote {
		t.Fatalf("unexpected publishes: %+v", pub.envs)
	}
}

func TestDispatcherVoteMissingSignerDropsEvent(t *testing.T) {
	testlog.Start(t)
	st := newFakeStore()
	pub := &fakePublisher{}
	d := newTestDispatcher(st, pub, newFakeBootstrapper())

	err := d.HandleEvent(context.Background(), Event{
		Kind:            EventProposalVote,
		Proposal:        sampleProposal(t),
		SignerPublicKey: []byte{0xff},
	})
	if !errors.Is(err, ErrMissingVoter) {
		t.Fatalf("expected ErrMissingVoter, got %v", err)
	}
	if len(st.votes) != 0 || len(pub.envs) != 0 {
		t.Fatalf("missing voter must not persist or publish")
	}
}

func TestDispatcherAcceptedMovesProposalTerminal(t *testing.T) {
	testlog.Start(t)
	st := newFakeStore()
	pub := &fakePublisher{}
	d := newTestDispatcher(st, pub, newFakeBootstrapper())

	proposal := sampleProposal(t)
	proposal.Votes[0].Vote = "Reject" // envelope kind wins over the recorded ballot text
	err := d.HandleEvent(context.Background(), Event{
		Kind:            EventProposalAccepted,
		Proposal:        proposal,
		SignerPublicKey: []byte{0x01, 0x02},
	})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if st.votes[0].Vote != store.VoteAccept {
		t.Fatalf("unexpected recorded vote: %q", st.votes[0].Vote)
	}
	if st.statuses[7] != store.StatusAccepted {
		t.Fatalf("unexpected status: %q", st.statuses[7])
	}
	if len(pub.envs) != 1 || pub.envs[0].Type != wire.MsgProposalAccept {
		t.Fatalf("unexpected publishes: %+v", pub.envs)
	}
}

func TestDispatcherRejectedAfterTerminalKeepsStatus(t *testing.T) {
	testlog.Start(t)
	st := newFakeStore()
	st.statusErr = fmt.Errorf("%w: proposal 7", store.ErrTerminal)
	pub := &fakePublisher{}
	d := newTestDispatcher(st, pub, newFakeBootstrapper())

	err := d.HandleEvent(context.Background(), Event{
		Kind:            EventProposalRejected,
		Proposal:        sampleProposal(t),
		SignerPublicKey: []byte{0x01, 0x02},
	})
	if err != nil {
		t.Fatalf("terminal status must not fail the event: %v", err)
	}
	if len(pub.envs) != 1 || pub.envs[0].Type != wire.MsgProposalReject {
		t.Fatalf("unexpected publishes: %+v", pub.envs)
	}
}

func TestDispatcherReadyPublishesAndBootstraps(t *testing.T) {
	testlog.Start(t)
	st := newFakeStore()
	pub := &fakePublisher{}
	boot := newFakeBootstrapper()
	d := newTestDispatcher(st, pub, boot)

	err := d.HandleEvent(context.Background(), Event{Kind: EventCircuitReady, Proposal: sampleProposal(t)})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(pub.envs) != 1 || pub.envs[0].Type != wire.MsgProposalReady {
		t.Fatalf("unexpected publishes: %+v", pub.envs)
	}

	select {
	case req := <-boot.requests:
		if req.CircuitID != "alpha-circuit" || req.ServiceID != "svc-a" {
			t.Fatalf("unexpected bootstrap request: %+v", req)
		}
		if len(req.AdminKeys) != 1 || req.AdminKeys[0] != "aabb" {
			t.Fatalf("unexpected admin keys: %v", req.AdminKeys)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("bootstrap not invoked")
	}
}

func TestDispatcherReadyWithoutLocalServiceIsNoop(t *testing.T) {
	testlog.Start(t)
	st := newFakeStore()
	pub := &fakePublisher{}
	boot := newFakeBootstrapper()
	d := NewDispatcher("node-z", pub, st, boot)

	err := d.HandleEvent(context.Background(), Event{Kind: EventCircuitReady, Proposal: sampleProposal(t)})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(pub.envs) != 0 {
		t.Fatalf("foreign circuit must not publish")
	}
	select {
	case <-boot.requests:
		t.Fatalf("foreign circuit must not bootstrap")
	default:
	}
}

func TestDispatcherHandleFrameBadJSONIsProtocolError(t *testing.T) {
	testlog.Start(t)
	d := newTestDispatcher(newFakeStore(), &fakePublisher{}, newFakeBootstrapper())

	err := d.HandleFrame(context.Background(), []byte("{not json"))
	if !errors.Is(err, stream.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}
