package solana

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

var (
	// ErrInvalidPubkey is returned for strings that are not 32-byte base58 keys.
	ErrInvalidPubkey = errors.New("solana: invalid public key")
	// ErrInvalidSecretKey is returned for malformed keypair material.
	ErrInvalidSecretKey = errors.New("solana: invalid secret key")
	// ErrMalformedTx is returned when a serialized transaction cannot be parsed.
	ErrMalformedTx = errors.New("solana: malformed transaction")
)

// ParsePubkey validates that s decodes to exactly 32 bytes of base58.
func ParsePubkey(s string) (Pubkey, error) {
	if len(s) < 32 || len(s) > 44 {
		return "", fmt.Errorf("%w: length %d", ErrInvalidPubkey, len(s))
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPubkey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: decoded %d bytes", ErrInvalidPubkey, len(raw))
	}
	return Pubkey(s), nil
}

// IsValidPubkey is a convenience wrapper over ParsePubkey.
func IsValidPubkey(s string) bool {
	_, err := ParsePubkey(s)
	return err == nil
}

// Signer signs serialized transactions on behalf of one wallet.
type Signer interface {
	Pubkey() Pubkey
	SignTransaction(txBase64 string) (string, error)
}

// KeypairSigner holds an ed25519 keypair in memory.
type KeypairSigner struct {
	key    ed25519.PrivateKey
	pubkey Pubkey
}

// NewKeypairSigner decodes a base58 64-byte secret key (the format exported
// by Phantom and solana-keygen).
func NewKeypairSigner(secretBase58 string) (*KeypairSigner, error) {
	raw, err := base58.Decode(secretBase58)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecretKey, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSecretKey, ed25519.PrivateKeySize, len(raw))
	}
	key := ed25519.PrivateKey(raw)
	pub := key.Public().(ed25519.PublicKey)
	return &KeypairSigner{
		key:    key,
		pubkey: Pubkey(base58.Encode(pub)),
	}, nil
}

func (s *KeypairSigner) Pubkey() Pubkey { return s.pubkey }

// SignTransaction fills the fee-payer signature slot of a base64 wire
// transaction (legacy or v0). Jupiter returns swap transactions with the
// user's slot zeroed.
func (s *KeypairSigner) SignTransaction(txBase64 string) (string, error) {
	tx, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}

	numSigs, n := decodeShortVec(tx)
	if n == 0 || numSigs == 0 {
		return "", fmt.Errorf("%w: missing signature header", ErrMalformedTx)
	}
	msgStart := n + numSigs*ed25519.SignatureSize
	if msgStart >= len(tx) {
		return "", fmt.Errorf("%w: truncated", ErrMalformedTx)
	}

	sig := ed25519.Sign(s.key, tx[msgStart:])
	copy(tx[n:n+ed25519.SignatureSize], sig)
	return base64.StdEncoding.EncodeToString(tx), nil
}

// FirstSignature extracts the fee-payer signature of a signed wire
// transaction, base58 encoded the way RPC nodes report it.
func FirstSignature(txBase64 string) (Signature, error) {
	tx, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}
	numSigs, n := decodeShortVec(tx)
	if n == 0 || numSigs == 0 || len(tx) < n+ed25519.SignatureSize {
		return "", fmt.Errorf("%w: missing signature", ErrMalformedTx)
	}
	return Signature(base58.Encode(tx[n : n+ed25519.SignatureSize])), nil
}

// decodeShortVec reads Solana's compact-u16 length prefix. It returns the
// value and the number of bytes consumed (0 on error).
func decodeShortVec(b []byte) (int, int) {
	val := 0
	for i := 0; i < 3 && i < len(b); i++ {
		val |= int(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			return val, i + 1
		}
	}
	return 0, 0
}
