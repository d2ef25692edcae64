package signing

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

var ErrBadPrivateKey = errors.New("signing: invalid private key")

// Signer holds the process secp256k1 identity used to sign transaction and
// batch headers.
type Signer struct {
	priv *secp256k1.PrivateKey
}

// NewRandomSigner generates a fresh keypair.
func NewRandomSigner() (*Signer, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("signing: generate key: %w", err)
	}
	return &Signer{priv: priv}, nil
}

// NewSignerFromHex loads a 32-byte private key from its hex encoding.
func NewSignerFromHex(keyHex string) (*Signer, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPrivateKey, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: expected 32 bytes, got %d", ErrBadPrivateKey, len(raw))
	}
	return &Signer{priv: secp256k1.PrivKeyFromBytes(raw)}, nil
}

// PublicKeyHex returns the compressed public key, hex encoded.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.priv.PubKey().SerializeCompressed())
}

// PrivateKeyHex returns the private key, hex encoded.
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(s.priv.Serialize())
}

// Sign produces a compact 64-byte (r || s) signature over msg, hex encoded.
// The message is expected to be pre-hashed by the caller.
func (s *Signer) Sign(digest []byte) string {
	sig := ecdsa.SignCompact(s.priv, digest, true)
	// SignCompact prepends a recovery byte; the wire signature is r || s.
	return hex.EncodeToString(sig[1:])
}

// Verify checks a compact hex signature against a compressed hex public key.
func Verify(pubKeyHex, sigHex string, digest []byte) (bool, error) {
	pubRaw, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("signing: decode public key: %w", err)
	}
	pub, err := secp256k1.ParsePubKey(pubRaw)
	if err != nil {
		return false, fmt.Errorf("signing: parse public key: %w", err)
	}
	sigRaw, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("signing: decode signature: %w", err)
	}
	if len(sigRaw) != 64 {
		return false, fmt.Errorf("signing: expected 64-byte signature, got %d", len(sigRaw))
	}
	var r, sv secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sigRaw[:32]); overflow {
		return false, fmt.Errorf("signing: signature r overflows")
	}
	if overflow := sv.SetByteSlice(sigRaw[32:]); overflow {
		return false, fmt.Errorf("signing: signature s overflows")
	}
	sig := ecdsa.NewSignature(&r, &sv)
	return sig.Verify(digest, pub), nil
}
