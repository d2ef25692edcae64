package statechange

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyFrame = errors.New("statechange: empty frame")
	ErrBadFrame   = errors.New("statechange: malformed frame")
)

// Kind discriminates one state mutation record.
type Kind int

const (
	KindSet Kind = iota + 1
	KindDelete
)

// Change is one decoded state mutation.
type Change struct {
	Kind  Kind
	Key   string
	Value []byte
}

// rawChange mirrors the externally tagged upstream encoding.
type rawChange struct {
	Set *struct {
		Key   string    `json:"key"`
		Value valueByte `json:"value"`
	} `json:"Set"`
	Delete *struct {
		Key string `json:"key"`
	} `json:"Delete"`
}

// valueByte decodes the upstream byte-array representation.
type valueByte []byte

func (v *valueByte) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*v = nil
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
	*v = out
	return nil
}

// ParseBatch decodes one subscription frame, a JSON array of state changes.
// Records keep their arrival order.
func ParseBatch(frame []byte) ([]Change, error) {
	if len(bytes.TrimSpace(frame)) == 0 {
		return nil, ErrEmptyFrame
	}
	var raws []rawChange
	if err := json.Unmarshal(frame, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	out := make([]Change, 0, len(raws))
	for i, r := range raws {
		switch {
		case r.Set != nil:
			out = append(out, Change{Kind: KindSet, Key: r.Set.Key, Value: r.Set.Value})
		case r.Delete != nil:
			out = append(out, Change{Kind: KindDelete, Key: r.Delete.Key})
		default:
			return nil, fmt.Errorf("%w: record %d has no recognized tag", ErrBadFrame, i)
		}
	}
	return out, nil
}

// Class is the downstream classification of one change.
type Class int

const (
	ClassContractCreated Class = iota + 1
	ClassApplicationPayload
	ClassIgnored
	ClassUnrecognized
)

func (c Class) String() string {
	switch c {
	case ClassContractCreated:
		return "contract_created"
	case ClassApplicationPayload:
		return "application_payload"
	case ClassIgnored:
		return "ignored"
	case ClassUnrecognized:
		return "unrecognized"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

const addressPrefixLen = 6

// Classify buckets one change against the contract's root address and the
// configured address prefix.
func Classify(c Change, rootAddress, prefix string) Class {
	switch c.Kind {
	case KindSet:
		if c.Key == rootAddress {
			return ClassContractCreated
		}
		if len(c.Key) >= addressPrefixLen && c.Key[:addressPrefixLen] == prefix {
			return ClassApplicationPayload
		}
		return ClassUnrecognized
	case KindDelete:
		return ClassIgnored
	default:
		return ClassUnrecognized
	}
}
