package contract

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/meshwork-io/consortiumd/internal/signing"
)

var (
	ErrNoTransactions = errors.New("contract: batch requires at least one transaction")
	ErrBadHeader      = errors.New("contract: invalid transaction header")
)

// Deployment action tags carried in transaction payloads.
const (
	actionCreateContractRegistry  uint32 = 1
	actionCreateContract          uint32 = 2
	actionCreateNamespaceRegistry uint32 = 3
	actionGrantNamespacePerm      uint32 = 4
)

// Payload field IDs (TLV-encoded, big-endian).
const (
	fieldName     uint16 = 1
	fieldVersion  uint16 = 2
	fieldPrefix   uint16 = 3
	fieldOwners   uint16 = 4
	fieldContract uint16 = 5
	fieldRead     uint16 = 6
	fieldWrite    uint16 = 7
)

const listSep = "\x1f"

func encodeField(id uint16, value []byte) []byte {
	buf := make([]byte, 7+len(value))
	binary.BigEndian.PutUint16(buf[0:2], id)
	buf[2] = 0 // reserved
	binary.BigEndian.PutUint32(buf[3:7], uint32(len(value)))
	copy(buf[7:], value)
	return buf
}

func encodePayload(action uint32, fields ...[]byte) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, action)
	for _, f := range fields {
		out = append(out, f...)
	}
	return out
}

// CreateContractRegistryPayload authorizes owners over the contract's
// registry entry.
func CreateContractRegistryPayload(name string, owners []string) []byte {
	return encodePayload(actionCreateContractRegistry,
		encodeField(fieldName, []byte(name)),
		encodeField(fieldOwners, []byte(strings.Join(owners, listSep))),
	)
}

// CreateContractPayload uploads one contract version.
func CreateContractPayload(name, version string, contract []byte) []byte {
	return encodePayload(actionCreateContract,
		encodeField(fieldName, []byte(name)),
		encodeField(fieldVersion, []byte(version)),
		encodeField(fieldContract, contract),
	)
}

// CreateNamespaceRegistryPayload authorizes owners over a state prefix.
func CreateNamespaceRegistryPayload(prefix string, owners []string) []byte {
	return encodePayload(actionCreateNamespaceRegistry,
		encodeField(fieldPrefix, []byte(prefix)),
		encodeField(fieldOwners, []byte(strings.Join(owners, listSep))),
	)
}

// GrantNamespacePermissionPayload grants a contract read/write access to a
// state prefix.
func GrantNamespacePermissionPayload(prefix, name string, read, write bool) []byte {
	return encodePayload(actionGrantNamespacePerm,
		encodeField(fieldPrefix, []byte(prefix)),
		encodeField(fieldName, []byte(name)),
		encodeField(fieldRead, boolByte(read)),
		encodeField(fieldWrite, boolByte(write)),
	)
}

func boolByte(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// TxnHeader describes one transaction before signing.
type TxnHeader struct {
	FamilyName      string
	FamilyVersion   string
	Inputs          []string
	Outputs         []string
	SignerPublicKey string
	PayloadSHA512   string
	Nonce           string
}

func (h TxnHeader) encode() ([]byte, error) {
	if strings.TrimSpace(h.FamilyName) == "" {
		return nil, fmt.Errorf("%w: missing family name", ErrBadHeader)
	}
	if strings.TrimSpace(h.SignerPublicKey) == "" {
		return nil, fmt.Errorf("%w: missing signer public key", ErrBadHeader)
	}
	if strings.TrimSpace(h.PayloadSHA512) == "" {
		return nil, fmt.Errorf("%w: missing payload hash", ErrBadHeader)
	}
	out := make([]byte, 0, 256)
	out = append(out, encodeField(fieldHdrFamilyName, []byte(h.FamilyName))...)
	out = append(out, encodeField(fieldHdrFamilyVersion, []byte(h.FamilyVersion))...)
	out = append(out, encodeField(fieldHdrInputs, []byte(strings.Join(h.Inputs, listSep)))...)
	out = append(out, encodeField(fieldHdrOutputs, []byte(strings.Join(h.Outputs, listSep)))...)
	out = append(out, encodeField(fieldHdrSigner, []byte(h.SignerPublicKey))...)
	out = append(out, encodeField(fieldHdrPayloadHash, []byte(h.PayloadSHA512))...)
	out = append(out, encodeField(fieldHdrNonce, []byte(h.Nonce))...)
	return out, nil
}

// Header field IDs.
const (
	fieldHdrFamilyName    uint16 = 100
	fieldHdrFamilyVersion uint16 = 101
	fieldHdrInputs        uint16 = 102
	fieldHdrOutputs       uint16 = 103
	fieldHdrSigner        uint16 = 104
	fieldHdrPayloadHash   uint16 = 105
	fieldHdrNonce         uint16 = 106
	fieldHdrTxnIDs        uint16 = 107
)

// Transaction is one signed deployment operation.
type Transaction struct {
	Header    []byte
	Signature string
	Payload   []byte
}

// Batch is the signed submission unit.
type Batch struct {
	Header       []byte
	Signature    string
	Transactions []Transaction
}

// BuildTransaction hashes the payload, encodes the header, and signs it.
func BuildTransaction(signer *signing.Signer, h TxnHeader, payload []byte) (Transaction, error) {
	payloadSum := sha512.Sum512(payload)
	h.PayloadSHA512 = hex.EncodeToString(payloadSum[:])
	h.SignerPublicKey = signer.PublicKeyHex()
	if h.Nonce == "" {
		h.Nonce = uuid.NewString()
	}
	header, err := h.encode()
	if err != nil {
		return Transaction{}, err
	}
	digest := sha256.Sum256(header)
	return Transaction{
		Header:    header,
		Signature: signer.Sign(digest[:]),
		Payload:   payload,
	}, nil
}

// BuildBatch signs a batch header binding the transaction signatures.
func BuildBatch(signer *signing.Signer, txns []Transaction) (Batch, error) {
	if len(txns) == 0 {
		return Batch{}, ErrNoTransactions
	}
	ids := make([]string, len(txns))
	for i, t := range txns {
		ids[i] = t.Signature
	}
	header := make([]byte, 0, 128)
	header = append(header, encodeField(fieldHdrSigner, []byte(signer.PublicKeyHex()))...)
	header = append(header, encodeField(fieldHdrTxnIDs, []byte(strings.Join(ids, listSep)))...)
	digest := sha256.Sum256(header)
	return Batch{
		Header:       header,
		Signature:    signer.Sign(digest[:]),
		Transactions: txns,
	}, nil
}

// Encode serializes the batch for submission: batch header, signature, then
// each transaction as header, signature, payload, all length-prefixed.
func (b Batch) Encode() []byte {
	out := make([]byte, 0, 1024)
	out = appendChunk(out, b.Header)
	out = appendChunk(out, []byte(b.Signature))
	count := make([]byte, 4)
	binary.BigEndian.PutUint32(count, uint32(len(b.Transactions)))
	out = append(out, count...)
	for _, t := range b.Transactions {
		out = appendChunk(out, t.Header)
		out = appendChunk(out, []byte(t.Signature))
		out = appendChunk(out, t.Payload)
	}
	return out
}

func appendChunk(dst, chunk []byte) []byte {
	l := make([]byte, 4)
	binary.BigEndian.PutUint32(l, uint32(len(chunk)))
	dst = append(dst, l...)
	return append(dst, chunk...)
}
