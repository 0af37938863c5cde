// Package keys manages secp256k1 key pairs used for Nostr identities.
package keys

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"nostrbox/pkg/nip19"
)

// maxEntropyAttempts bounds how many draws Generate makes before giving up
const maxEntropyAttempts = 8

var (
	ErrEntropy       = errors.New("keys: secure random source failed")
	ErrInvalidSecret = errors.New("keys: secret is not a valid secp256k1 scalar")
	ErrInvalidPublic = errors.New("keys: invalid public key")
	ErrEncryptedKey  = errors.New("keys: key is encrypted, passphrase required")
)

// Secret holds 32 bytes of private key material. The zero value is unusable.
type Secret struct {
	b [32]byte
}

// Bytes exposes the underlying secret. The slice aliases the Secret and is
// wiped by Destroy.
func (s *Secret) Bytes() []byte { return s.b[:] }

// Hex returns the lowercase hex encoding of the secret
func (s *Secret) Hex() string { return hex.EncodeToString(s.b[:]) }

// Bech32 returns the nsec form of the secret
func (s *Secret) Bech32() (string, error) { return nip19.EncodeSecretKey(s.b[:]) }

func (s *Secret) String() string   { return "[REDACTED]" }
func (s *Secret) GoString() string { return "keys.Secret{[REDACTED]}" }

func (s *Secret) destroy() {
	for i := range s.b {
		s.b[i] = 0
	}
}

// KeyPair is a secret scalar and the x-only public key derived from it
type KeyPair struct {
	secret *Secret
	priv   *btcec.PrivateKey
	public [32]byte
}

// Generate creates a key pair from the system's secure random source
func Generate() (*KeyPair, error) {
	return GenerateFrom(rand.Reader)
}

// GenerateFrom draws candidate secrets from r until one is a valid scalar.
// Read failures and out-of-range candidates both count against the attempt
// budget.
func GenerateFrom(r io.Reader) (*KeyPair, error) {
	var buf [32]byte
	defer clear(buf[:])

	var lastErr error
	for attempt := 0; attempt < maxEntropyAttempts; attempt++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			lastErr = err
			continue
		}
		kp, err := FromSecret(buf[:])
		if err != nil {
			lastErr = err
			continue
		}
		return kp, nil
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrEntropy, maxEntropyAttempts, lastErr)
}

// FromSecret builds a key pair from a 32-byte big-endian scalar. The input is
// copied; callers may wipe it afterwards.
func FromSecret(b []byte) (*KeyPair, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSecret, len(b))
	}

	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(b); overflow || scalar.IsZero() {
		scalar.Zero()
		return nil, ErrInvalidSecret
	}

	priv := secp256k1.NewPrivateKey(&scalar)
	scalar.Zero()

	kp := &KeyPair{secret: &Secret{}, priv: priv}
	copy(kp.secret.b[:], b)
	copy(kp.public[:], schnorr.SerializePubKey(priv.PubKey()))
	return kp, nil
}

// ParseSecret accepts a 64 character hex string or an nsec. An ncryptsec
// yields ErrEncryptedKey so the caller can ask for a passphrase.
func ParseSecret(s string) (*KeyPair, error) {
	s = strings.TrimSpace(s)
	if IsEncrypted(s) {
		return nil, ErrEncryptedKey
	}
	if strings.HasPrefix(strings.ToLower(s), nip19.PrefixSecretKey+"1") {
		sk, err := nip19.DecodeKey32(s, nip19.PrefixSecretKey)
		if err != nil {
			return nil, err
		}
		defer clear(sk[:])
		return FromSecret(sk[:])
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	defer clear(b)
	return FromSecret(b)
}

// IsEncrypted reports whether s looks like an ncryptsec string
func IsEncrypted(s string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), nip19.PrefixEncryptedKey+"1")
}

// ParsePublicKey accepts hex, npub or nprofile
func ParsePublicKey(s string) ([32]byte, error) {
	var out [32]byte
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, nip19.PrefixPublicKey+"1"):
		return nip19.DecodeKey32(s, nip19.PrefixPublicKey)
	case strings.HasPrefix(lower, nip19.PrefixProfile+"1"):
		e, err := nip19.Decode(s)
		if err != nil {
			return out, err
		}
		if e.Profile == nil {
			return out, fmt.Errorf("%w: not a profile", ErrInvalidPublic)
		}
		return e.Profile.PublicKey, nil
	}

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return out, fmt.Errorf("%w: %q", ErrInvalidPublic, s)
	}
	if _, err := schnorr.ParsePubKey(b); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidPublic, err)
	}
	copy(out[:], b)
	return out, nil
}

// Public returns the x-only public key
func (kp *KeyPair) Public() [32]byte { return kp.public }

func (kp *KeyPair) PublicHex() string { return hex.EncodeToString(kp.public[:]) }

func (kp *KeyPair) Npub() (string, error) { return nip19.EncodePublicKey(kp.public) }

func (kp *KeyPair) Secret() *Secret { return kp.secret }

// Sign produces a BIP-340 signature over a 32-byte digest using fresh
// auxiliary randomness.
func (kp *KeyPair) Sign(digest []byte) ([64]byte, error) {
	var aux [32]byte
	if _, err := io.ReadFull(rand.Reader, aux[:]); err != nil {
		return [64]byte{}, fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return kp.signWithAux(digest, aux)
}

func (kp *KeyPair) signWithAux(digest []byte, aux [32]byte) ([64]byte, error) {
	var out [64]byte
	if kp.priv == nil {
		return out, ErrInvalidSecret
	}
	if len(digest) != 32 {
		return out, fmt.Errorf("keys: digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := schnorr.Sign(kp.priv, digest, schnorr.CustomNonce(aux))
	if err != nil {
		return out, fmt.Errorf("failed to sign: %w", err)
	}
	copy(out[:], sig.Serialize())
	return out, nil
}

// Destroy wipes the secret. The key pair is unusable afterwards.
func (kp *KeyPair) Destroy() {
	if kp == nil {
		return
	}
	if kp.secret != nil {
		kp.secret.destroy()
	}
	if kp.priv != nil {
		kp.priv.Zero()
		kp.priv = nil
	}
}
