package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Envelope layout: 2-byte magic, 1-byte version, 4-byte message type,
// 4-byte payload length, payload bytes. Big-endian throughout.
const (
	envelopeMagic   uint16 = 0xC0D5
	envelopeVersion uint8  = 1
	envelopeHdrLen         = 11

	MaxPayloadBytes = 8 * 1024 * 1024
)

var (
	ErrShortEnvelope    = errors.New("wire: short envelope")
	ErrBadMagic         = errors.New("wire: bad envelope magic")
	ErrBadVersion       = errors.New("wire: unsupported envelope version")
	ErrPayloadTooLarge  = errors.New("wire: payload too large")
	ErrPayloadTruncated = errors.New("wire: payload truncated")
)

// MessageType tags one outbound envelope.
type MessageType uint32

const (
	MsgProposalSubmit  MessageType = 1
	MsgProposalVote    MessageType = 2
	MsgProposalAccept  MessageType = 3
	MsgProposalReject  MessageType = 4
	MsgProposalReady   MessageType = 5
	MsgContractCreated MessageType = 6
	MsgStatePayload    MessageType = 7
)

func (m MessageType) String() string {
	switch m {
	case MsgProposalSubmit:
		return "PROPOSAL_SUBMIT"
	case MsgProposalVote:
		return "PROPOSAL_VOTE"
	case MsgProposalAccept:
		return "PROPOSAL_ACCEPT"
	case MsgProposalReject:
		return "PROPOSAL_REJECT"
	case MsgProposalReady:
		return "PROPOSAL_READY"
	case MsgContractCreated:
		return "CONTRACT_CREATED"
	case MsgStatePayload:
		return "STATE_PAYLOAD"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(m))
	}
}

// Envelope is one immutable outbound message.
type Envelope struct {
	Type    MessageType
	Payload []byte
}

func EncodeEnvelope(e Envelope) ([]byte, error) {
	if len(e.Payload) > MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, envelopeHdrLen+len(e.Payload))
	binary.BigEndian.PutUint16(buf[0:2], envelopeMagic)
	buf[2] = envelopeVersion
	binary.BigEndian.PutUint32(buf[3:7], uint32(e.Type))
	binary.BigEndian.PutUint32(buf[7:11], uint32(len(e.Payload)))
	copy(buf[envelopeHdrLen:], e.Payload)
	return buf, nil
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) < envelopeHdrLen {
		return Envelope{}, ErrShortEnvelope
	}
	if binary.BigEndian.Uint16(b[0:2]) != envelopeMagic {
		return Envelope{}, ErrBadMagic
	}
	if b[2] != envelopeVersion {
		return Envelope{}, ErrBadVersion
	}
	msgType := MessageType(binary.BigEndian.Uint32(b[3:7]))
	payloadLen := binary.BigEndian.Uint32(b[7:11])
	if uint64(payloadLen) > MaxPayloadBytes {
		return Envelope{}, ErrPayloadTooLarge
	}
	if uint32(len(b)-envelopeHdrLen) < payloadLen {
		return Envelope{}, ErrPayloadTruncated
	}
	payload := make([]byte, payloadLen)
	copy(payload, b[envelopeHdrLen:envelopeHdrLen+int(payloadLen)])
	return Envelope{Type: msgType, Payload: payload}, nil
}

// Field IDs shared by all payload shapes.
const (
	FieldCircuitID     uint16 = 1
	FieldTimestampMS   uint16 = 2
	FieldRequester     uint16 = 10
	FieldRequesterNode uint16 = 11
	FieldVoter         uint16 = 20
	FieldVoterNode     uint16 = 21
	FieldData          uint16 = 30
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType MessageType
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("wire: message_type=%s: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("wire: message_type=%s field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[MessageType][]Requirement{
	MsgProposalSubmit: {
		{FieldRequester, TypeString},
		{FieldRequesterNode, TypeString},
		{FieldCircuitID, TypeString},
	},
	MsgProposalVote: {
		{FieldVoter, TypeString},
		{FieldVoterNode, TypeString},
		{FieldCircuitID, TypeString},
	},
	MsgProposalAccept: {
		{FieldVoter, TypeString},
		{FieldVoterNode, TypeString},
		{FieldCircuitID, TypeString},
	},
	MsgProposalReject: {
		{FieldVoter, TypeString},
		{FieldVoterNode, TypeString},
		{FieldCircuitID, TypeString},
	},
	MsgProposalReady: {
		{FieldRequester, TypeString},
		{FieldRequesterNode, TypeString},
		{FieldCircuitID, TypeString},
	},
	MsgContractCreated: {
		{FieldRequester, TypeString},
		{FieldRequesterNode, TypeString},
		{FieldCircuitID, TypeString},
	},
	MsgStatePayload: {
		{FieldRequester, TypeString},
		{FieldRequesterNode, TypeString},
		{FieldCircuitID, TypeString},
		{FieldData, TypeBytes},
	},
}

// Validate enforces required fields and field types for a message type.
// Unknown extra fields are ignored.
func Validate(msgType MessageType, fields []Field) error {
	reqs, ok := requirements[msgType]
	if !ok {
		return ValidationError{MessageType: msgType, Reason: "unknown message type"}
	}
	for _, req := range reqs {
		f, ok := GetField(fields, req.ID)
		if !ok {
			return ValidationError{MessageType: msgType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			return ValidationError{
				MessageType: msgType,
				FieldID:     req.ID,
				Reason:      fmt.Sprintf("type mismatch: got %d want %d", f.Type, req.Type),
			}
		}
	}
	return nil
}
