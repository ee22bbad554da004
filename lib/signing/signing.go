// Package signing provides key decoding and a local-key event Signer.
package signing

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
)

// Error is a typed signing failure. errors.Is(err, nostr.ErrCannotSign) holds for every Error.
type Error struct {
	Reason string
	Err    error
}

func NewError(reason string, err error) *Error {
	return &Error{Reason: reason, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot sign: %s: %v", e.Reason, e.Err)
	}
	return "cannot sign: " + e.Reason
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{nostr.ErrCannotSign}
	}
	return []error{nostr.ErrCannotSign, e.Err}
}

// DecodeKey decodes a bech32 key and returns the prefix and raw bytes
func DecodeKey(serializedKey string) (string, []byte, error) {
	hrp, bytesToBits, err := bech32.Decode(serializedKey)
	if err != nil {
		return "", nil, err
	}

	keyBytes, err := bech32.ConvertBits(bytesToBits, 5, 8, false)
	if err != nil {
		return "", nil, err
	}

	return hrp, keyBytes, nil
}

// ParsePrivateKey accepts an nsec bech32 key or 64 hex characters
func ParsePrivateKey(key string) (*secp256k1.PrivateKey, error) {
	key = strings.TrimSpace(key)

	var raw []byte
	if strings.HasPrefix(key, "nsec1") {
		hrp, decoded, err := DecodeKey(key)
		if err != nil {
			return nil, fmt.Errorf("invalid nsec key: %w", err)
		}
		if hrp != "nsec" {
			return nil, fmt.Errorf("unexpected key prefix %q", hrp)
		}
		raw = decoded
	} else {
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("invalid hex key: %w", err)
		}
		raw = decoded
	}

	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}

	return secp256k1.PrivKeyFromBytes(raw), nil
}

// DeserializePublicKey accepts an npub bech32 key or 64 hex characters
func DeserializePublicKey(serializedKey string) (*secp256k1.PublicKey, error) {
	serializedKey = strings.TrimSpace(serializedKey)

	var raw []byte
	if strings.HasPrefix(serializedKey, "npub1") {
		hrp, decoded, err := DecodeKey(serializedKey)
		if err != nil {
			return nil, fmt.Errorf("invalid npub key: %w", err)
		}
		if hrp != "npub" {
			return nil, fmt.Errorf("unexpected key prefix %q", hrp)
		}
		raw = decoded
	} else {
		decoded, err := hex.DecodeString(serializedKey)
		if err != nil {
			return nil, fmt.Errorf("invalid hex key: %w", err)
		}
		raw = decoded
	}

	return schnorr.ParsePubKey(raw)
}

// PublicKeyHex is the 32 byte x-only hex form used in events
func PublicKeyHex(publicKey *secp256k1.PublicKey) string {
	return hex.EncodeToString(schnorr.SerializePubKey(publicKey))
}

func GeneratePrivateKey() (*secp256k1.PrivateKey, error) {
	return secp256k1.GeneratePrivateKey()
}

func encodeBech32(hrp string, data []byte) (string, error) {
	bytesToBits, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, bytesToBits)
}

func SerializePrivateKey(privateKey *secp256k1.PrivateKey) (string, error) {
	return encodeBech32("nsec", privateKey.Serialize())
}

// SerializePublicKey encodes the x-only public key as npub
func SerializePublicKey(publicKey *secp256k1.PublicKey) (string, error) {
	return encodeBech32("npub", schnorr.SerializePubKey(publicKey))
}

// LocalSigner signs events with an in-memory private key
type LocalSigner struct {
	privateKey *secp256k1.PrivateKey
	pubKeyHex  string
}

func NewLocalSigner(key string) (*LocalSigner, error) {
	privateKey, err := ParsePrivateKey(key)
	if err != nil {
		return nil, err
	}
	return NewLocalSignerFromKey(privateKey), nil
}

func NewLocalSignerFromKey(privateKey *secp256k1.PrivateKey) *LocalSigner {
	return &LocalSigner{
		privateKey: privateKey,
		pubKeyHex:  PublicKeyHex(privateKey.PubKey()),
	}
}

func (s *LocalSigner) PublicKey(ctx context.Context) (string, error) {
	return s.pubKeyHex, nil
}

func (s *LocalSigner) Npub() (string, error) {
	return SerializePublicKey(s.privateKey.PubKey())
}

// Sign computes the event id and its schnorr signature
func (s *LocalSigner) Sign(ctx context.Context, tmpl nostr.EventTemplate) (*nostr.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewError("cancelled", err)
	}

	ev := tmpl.ToEvent(s.pubKeyHex)
	ev.ID = ev.GetID()

	id, err := hex.DecodeString(ev.ID)
	if err != nil {
		return nil, NewError("invalid event id", err)
	}

	signature, err := schnorr.Sign(s.privateKey, id)
	if err != nil {
		return nil, NewError("schnorr signing failed", err)
	}
	ev.Sig = hex.EncodeToString(signature.Serialize())

	return &ev, nil
}
