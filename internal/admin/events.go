package admin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyEvent   = errors.New("admin: empty event frame")
	ErrUnknownEvent = errors.New("admin: unknown event tag")
	ErrBadEvent     = errors.New("admin: malformed event")
)

// RawBytes decodes the upstream byte-array representation (a JSON array of
// numbers) into a byte slice.
type RawBytes []byte

func (r *RawBytes) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*r = nil
		return nil
	}
	var nums []uint16
	if err := json.Unmarshal(b, &nums); err != nil {
		return fmt.Errorf("byte array: %w", err)
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n > 0xFF {
			return fmt.Errorf("byte array: value %d out of range at index %d", n, i)
		}
		out[i] = byte(n)
	}
	*r = out
	return nil
}

func (r RawBytes) MarshalJSON() ([]byte, error) {
	nums := make([]uint16, len(r))
	for i, b := range r {
		nums[i] = uint16(b)
	}
	return json.Marshal(nums)
}

// CircuitNode is one network participant listed in a proposal.
type CircuitNode struct {
	NodeID   string `json:"node_id"`
	Endpoint string `json:"endpoint"`
}

// CircuitService is one service entry in the circuit roster.
type CircuitService struct {
	ServiceID    string      `json:"service_id"`
	ServiceType  string      `json:"service_type"`
	AllowedNodes []string    `json:"allowed_nodes"`
	Arguments    [][2]string `json:"arguments"`
}

// CreateCircuit is the circuit definition embedded in a proposal.
type CreateCircuit struct {
	CircuitID             string           `json:"circuit_id"`
	Roster                []CircuitService `json:"roster"`
	Members               []CircuitNode    `json:"members"`
	AuthorizationType     string           `json:"authorization_type"`
	Persistence           string           `json:"persistence"`
	Durability            string           `json:"durability"`
	Routes                string           `json:"routes"`
	CircuitManagementType string           `json:"circuit_management_type"`
	ApplicationMetadata   RawBytes         `json:"application_metadata"`
}

// VoteEntry is one recorded vote on a proposal.
type VoteEntry struct {
	PublicKey   RawBytes `json:"public_key"`
	Vote        string   `json:"vote"`
	VoterNodeID string   `json:"voter_node_id"`
}

// CircuitProposal is the wire shape of a governance proposal.
type CircuitProposal struct {
	ProposalType    string        `json:"proposal_type"`
	CircuitID       string        `json:"circuit_id"`
	CircuitHash     string        `json:"circuit_hash"`
	Circuit         CreateCircuit `json:"circuit"`
	Votes           []VoteEntry   `json:"votes"`
	Requester       RawBytes      `json:"requester"`
	RequesterNodeID string        `json:"requester_node_id"`
}

// EventKind discriminates the closed admin event union.
type EventKind int

const (
	EventProposalSubmitted EventKind = iota + 1
	EventProposalVote
	EventProposalAccepted
	EventProposalRejected
	EventCircuitReady
)

func (k EventKind) String() string {
	switch k {
	case EventProposalSubmitted:
		return "ProposalSubmitted"
	case EventProposalVote:
		return "ProposalVote"
	case EventProposalAccepted:
		return "ProposalAccepted"
	case EventProposalRejected:
		return "ProposalRejected"
	case EventCircuitReady:
		return "CircuitReady"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one decoded admin-stream event. SignerPublicKey is set only for
// the vote-carrying kinds.
type Event struct {
	Kind            EventKind
	Proposal        CircuitProposal
	SignerPublicKey []byte
}

// rawEvent mirrors the externally tagged upstream encoding: bare-proposal
// variants carry the proposal directly, vote variants carry a
// [proposal, signer_public_key] pair.
type rawEvent struct {
	ProposalSubmitted *CircuitProposal `json:"ProposalSubmitted"`
	ProposalVote      json.RawMessage  `json:"ProposalVote"`
	ProposalAccepted  json.RawMessage  `json:"ProposalAccepted"`
	ProposalRejected  json.RawMessage  `json:"ProposalRejected"`
	CircuitReady      *CircuitProposal `json:"CircuitReady"`
}

// ParseEvent decodes one admin-stream frame.
func ParseEvent(frame []byte) (Event, error) {
	if len(bytes.TrimSpace(frame)) == 0 {
		return Event{}, ErrEmptyEvent
	}
	var raw rawEvent
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}
	switch {
	case raw.ProposalSubmitted != nil:
		return Event{Kind: EventProposalSubmitted, Proposal: *raw.ProposalSubmitted}, nil
	case raw.ProposalVote != nil:
		return parseVoteVariant(EventProposalVote, raw.ProposalVote)
	case raw.ProposalAccepted != nil:
		return parseVoteVariant(EventProposalAccepted, raw.ProposalAccepted)
	case raw.ProposalRejected != nil:
		return parseVoteVariant(EventProposalRejected, raw.ProposalRejected)
	case raw.CircuitReady != nil:
		return Event{Kind: EventCircuitReady, Proposal: *raw.CircuitReady}, nil
	default:
		return Event{}, ErrUnknownEvent
	}
}

func parseVoteVariant(kind EventKind, body json.RawMessage) (Event, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(body, &pair); err != nil {
		return Event{}, fmt.Errorf("%w: %s pair: %v", ErrBadEvent, kind, err)
	}
	if len(pair) != 2 {
		return Event{}, fmt.Errorf("%w: %s expects [proposal, signer], got %d elements", ErrBadEvent, kind, len(pair))
	}
	var proposal CircuitProposal
	if err := json.Unmarshal(pair[0], &proposal); err != nil {
		return Event{}, fmt.Errorf("%w: %s proposal: %v", ErrBadEvent, kind, err)
	}
	var signer RawBytes
	if err := json.Unmarshal(pair[1], &signer); err != nil {
		return Event{}, fmt.Errorf("%w: %s signer key: %v", ErrBadEvent, kind, err)
	}
	return Event{Kind: kind, Proposal: proposal, SignerPublicKey: signer}, nil
}
