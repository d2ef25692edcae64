package wire

import (
	"fmt"
	"strings"
)

// ProposalNotice is the payload shape for PROPOSAL_SUBMIT, PROPOSAL_READY
// and CONTRACT_CREATED envelopes.
type ProposalNotice struct {
	Requester       string
	RequesterNodeID string
	CircuitID       string
	TimestampMS     uint64
}

func (n ProposalNotice) Validate() error {
	if strings.TrimSpace(n.Requester) == "" {
		return fmt.Errorf("proposal notice missing requester")
	}
	if strings.TrimSpace(n.RequesterNodeID) == "" {
		return fmt.Errorf("proposal notice missing requester_node_id")
	}
	if strings.TrimSpace(n.CircuitID) == "" {
		return fmt.Errorf("proposal notice missing circuit_id")
	}
	return nil
}

// VoteNotice is the payload shape for PROPOSAL_VOTE, PROPOSAL_ACCEPT and
// PROPOSAL_REJECT envelopes.
type VoteNotice struct {
	Voter       string
	VoterNodeID string
	CircuitID   string
	TimestampMS uint64
}

func (n VoteNotice) Validate() error {
	if strings.TrimSpace(n.Voter) == "" {
		return fmt.Errorf("vote notice missing voter")
	}
	if strings.TrimSpace(n.VoterNodeID) == "" {
		return fmt.Errorf("vote notice missing voter_node_id")
	}
	if strings.TrimSpace(n.CircuitID) == "" {
		return fmt.Errorf("vote notice missing circuit_id")
	}
	return nil
}

// StatePayload is the payload shape for STATE_PAYLOAD envelopes. Data carries
// the state-change value verbatim.
type StatePayload struct {
	Requester       string
	RequesterNodeID string
	CircuitID       string
	Data            []byte
	TimestampMS     uint64
}

func (p StatePayload) Validate() error {
	if strings.TrimSpace(p.Requester) == "" {
		return fmt.Errorf("state payload missing requester")
	}
	if strings.TrimSpace(p.RequesterNodeID) == "" {
		return fmt.Errorf("state payload missing requester_node_id")
	}
	if strings.TrimSpace(p.CircuitID) == "" {
		return fmt.Errorf("state payload missing circuit_id")
	}
	if p.Data == nil {
		return fmt.Errorf("state payload missing data")
	}
	return nil
}

func EncodeProposalNotice(msgType MessageType, n ProposalNotice) (Envelope, error) {
	switch msgType {
	case MsgProposalSubmit, MsgProposalReady, MsgContractCreated:
	default:
		return Envelope{}, fmt.Errorf("wire: message type %s does not carry a proposal notice", msgType)
	}
	if err := n.Validate(); err != nil {
		return Envelope{}, err
	}
	fields := []Field{
		{ID: FieldRequester, Type: TypeString, Value: []byte(n.Requester)},
		{ID: FieldRequesterNode, Type: TypeString, Value: []byte(n.RequesterNodeID)},
		{ID: FieldCircuitID, Type: TypeString, Value: []byte(n.CircuitID)},
	}
	if n.TimestampMS != 0 {
		fields = append(fields, Field{ID: FieldTimestampMS, Type: TypeU64, Value: putU64(n.TimestampMS)})
	}
	if err := Validate(msgType, fields); err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: EncodeFields(fields)}, nil
}

func DecodeProposalNotice(e Envelope) (ProposalNotice, error) {
	fields, err := DecodeFields(e.Payload)
	if err != nil {
		return ProposalNotice{}, err
	}
	if err := Validate(e.Type, fields); err != nil {
		return ProposalNotice{}, err
	}
	var n ProposalNotice
	for _, f := range fields {
		switch f.ID {
		case FieldRequester:
			n.Requester = string(f.Value)
		case FieldRequesterNode:
			n.RequesterNodeID = string(f.Value)
		case FieldCircuitID:
			n.CircuitID = string(f.Value)
		case FieldTimestampMS:
			if n.TimestampMS, err = u64FromBytes(f.Value); err != nil {
				return ProposalNotice{}, err
			}
		}
	}
	return n, nil
}

func EncodeVoteNotice(msgType MessageType, n VoteNotice) (Envelope, error) {
	switch msgType {
	case MsgProposalVote, MsgProposalAccept, MsgProposalReject:
	default:
		return Envelope{}, fmt.Errorf("wire: message type %s does not carry a vote notice", msgType)
	}
	if err := n.Validate(); err != nil {
		return Envelope{}, err
	}
	fields := []Field{
		{ID: FieldVoter, Type: TypeString, Value: []byte(n.Voter)},
		{ID: FieldVoterNode, Type: TypeString, Value: []byte(n.VoterNodeID)},
		{ID: FieldCircuitID, Type: TypeString, Value: []byte(n.CircuitID)},
	}
	if n.TimestampMS != 0 {
		fields = append(fields, Field{ID: FieldTimestampMS, Type: TypeU64, Value: putU64(n.TimestampMS)})
	}
	if err := Validate(msgType, fields); err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: EncodeFields(fields)}, nil
}

func DecodeVoteNotice(e Envelope) (VoteNotice, error) {
	fields, err := DecodeFields(e.Payload)
	if err != nil {
		return VoteNotice{}, err
	}
	if err := Validate(e.Type, fields); err != nil {
		return VoteNotice{}, err
	}
	var n VoteNotice
	for _, f := range fields {
		switch f.ID {
		case FieldVoter:
			n.Voter = string(f.Value)
		case FieldVoterNode:
			n.VoterNodeID = string(f.Value)
		case FieldCircuitID:
			n.CircuitID = string(f.Value)
		case FieldTimestampMS:
			if n.TimestampMS, err = u64FromBytes(f.Value); err != nil {
				return VoteNotice{}, err
			}
		}
	}
	return n, nil
}

func EncodeStatePayload(p StatePayload) (Envelope, error) {
	if err := p.Validate(); err != nil {
		return Envelope{}, err
	}
	fields := []Field{
		{ID: FieldRequester, Type: TypeString, Value: []byte(p.Requester)},
		{ID: FieldRequesterNode, Type: TypeString, Value: []byte(p.RequesterNodeID)},
		{ID: FieldCircuitID, Type: TypeString, Value: []byte(p.CircuitID)},
		{ID: FieldData, Type: TypeBytes, Value: p.Data},
	}
	if p.TimestampMS != 0 {
		fields = append(fields, Field{ID: FieldTimestampMS, Type: TypeU64, Value: putU64(p.TimestampMS)})
	}
	if err := Validate(MsgStatePayload, fields); err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: MsgStatePayload, Payload: EncodeFields(fields)}, nil
}

func DecodeStatePayload(e Envelope) (StatePayload, error) {
	fields, err := DecodeFields(e.Payload)
	if err != nil {
		return StatePayload{}, err
	}
	if err := Validate(MsgStatePayload, fields); err != nil {
		return StatePayload{}, err
	}
	var p StatePayload
	for _, f := range fields {
		switch f.ID {
		case FieldRequester:
			p.Requester = string(f.Value)
		case FieldRequesterNode:
			p.RequesterNodeID = string(f.Value)
		case FieldCircuitID:
			p.CircuitID = string(f.Value)
		case FieldData:
			p.Data = f.Value
		case FieldTimestampMS:
			if p.TimestampMS, err = u64FromBytes(f.Value); err != nil {
				return StatePayload{}, err
			}
		}
	}
	return p, nil
}
