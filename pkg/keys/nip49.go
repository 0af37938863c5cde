package keys

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"

	"nostrbox/pkg/nip19"
)

const (
	encryptedKeyVersion = 0x02
	saltSize            = 16
	encryptedKeySize    = 1 + 1 + saltSize + chacha20poly1305.NonceSizeX + 1 + 32 + chacha20poly1305.Overhead

	scryptR = 8
	scryptP = 1

	DefaultLogN = 16
	MaxLogN     = 22
)

// KeySecurity records how the secret was handled before encryption
type KeySecurity byte

const (
	KeyInsecure KeySecurity = 0x00
	KeySecure   KeySecurity = 0x01
	KeyUnknown  KeySecurity = 0x02
)

var (
	// ErrDecryption covers every failure to open an encrypted key, whether the
	// passphrase is wrong or the ciphertext was altered.
	ErrDecryption          = errors.New("keys: decryption failed")
	ErrMalformedEncrypted  = errors.New("keys: malformed encrypted key")
	ErrUnsupportedVersion  = errors.New("keys: unsupported encrypted key version")
	ErrInvalidKDFParameter = errors.New("keys: invalid kdf parameter")
)

// Params controls passphrase encryption
type Params struct {
	LogN        uint8
	KeySecurity KeySecurity
}

func DefaultParams() Params {
	return Params{LogN: DefaultLogN, KeySecurity: KeyUnknown}
}

// EncryptedKey is a self-describing passphrase-encrypted secret. Everything
// needed to decrypt it except the passphrase is carried inside.
type EncryptedKey struct {
	Version     byte
	LogN        uint8
	Salt        [saltSize]byte
	Nonce       [chacha20poly1305.NonceSizeX]byte
	KeySecurity KeySecurity
	Ciphertext  []byte
}

// Encrypt seals the key pair's secret under passphrase
func Encrypt(kp *KeyPair, passphrase string, p Params) (*EncryptedKey, error) {
	return encryptFrom(rand.Reader, kp, passphrase, p)
}

func encryptFrom(r io.Reader, kp *KeyPair, passphrase string, p Params) (*EncryptedKey, error) {
	if p.LogN < 1 || p.LogN > MaxLogN {
		return nil, fmt.Errorf("%w: log_n %d outside 1..%d", ErrInvalidKDFParameter, p.LogN, MaxLogN)
	}
	if kp == nil || kp.priv == nil {
		return nil, ErrInvalidSecret
	}

	enc := &EncryptedKey{Version: encryptedKeyVersion, LogN: p.LogN, KeySecurity: p.KeySecurity}
	if _, err := io.ReadFull(r, enc.Salt[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	if _, err := io.ReadFull(r, enc.Nonce[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropy, err)
	}

	key, err := deriveKey(passphrase, enc.Salt[:], enc.LogN)
	if err != nil {
		return nil, err
	}
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	enc.Ciphertext = aead.Seal(nil, enc.Nonce[:], kp.secret.b[:], []byte{byte(enc.KeySecurity)})
	return enc, nil
}

// Decrypt opens enc with passphrase. A wrong passphrase and a tampered
// payload are indistinguishable to the caller.
func Decrypt(enc *EncryptedKey, passphrase string) (*KeyPair, error) {
	if enc == nil {
		return nil, fmt.Errorf("%w: nil", ErrMalformedEncrypted)
	}
	if enc.Version != encryptedKeyVersion {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupportedVersion, enc.Version)
	}
	if enc.LogN < 1 || enc.LogN > MaxLogN {
		return nil, fmt.Errorf("%w: log_n %d outside 1..%d", ErrInvalidKDFParameter, enc.LogN, MaxLogN)
	}

	key, err := deriveKey(passphrase, enc.Salt[:], enc.LogN)
	if err != nil {
		return nil, err
	}
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	plain, err := aead.Open(nil, enc.Nonce[:], enc.Ciphertext, []byte{byte(enc.KeySecurity)})
	if err != nil {
		return nil, ErrDecryption
	}
	defer clear(plain)

	kp, err := FromSecret(plain)
	if err != nil {
		return nil, ErrDecryption
	}
	return kp, nil
}

func deriveKey(passphrase string, salt []byte, logN uint8) ([]byte, error) {
	pass := []byte(norm.NFKC.String(passphrase))
	defer clear(pass)

	key, err := scrypt.Key(pass, salt, 1<<logN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKDFParameter, err)
	}
	return key, nil
}

// Bytes serializes the encrypted key in its binary layout
func (e *EncryptedKey) Bytes() []byte {
	out := make([]byte, 0, encryptedKeySize)
	out = append(out, e.Version, e.LogN)
	out = append(out, e.Salt[:]...)
	out = append(out, e.Nonce[:]...)
	out = append(out, byte(e.KeySecurity))
	out = append(out, e.Ciphertext...)
	return out
}

// Bech32 returns the ncryptsec string form
func (e *EncryptedKey) Bech32() (string, error) {
	return nip19.EncodeEncryptedKey(e.Bytes())
}

// ParseEncryptedKey decodes an ncryptsec string
func ParseEncryptedKey(s string) (*EncryptedKey, error) {
	ent, err := nip19.Decode(s)
	if err != nil {
		return nil, err
	}
	if ent.Prefix != nip19.PrefixEncryptedKey {
		return nil, fmt.Errorf("%w: prefix %s", ErrMalformedEncrypted, ent.Prefix)
	}
	return UnmarshalEncryptedKey(ent.Data)
}

// UnmarshalEncryptedKey parses the binary layout produced by Bytes
func UnmarshalEncryptedKey(b []byte) (*EncryptedKey, error) {
	if len(b) != encryptedKeySize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrMalformedEncrypted, len(b), encryptedKeySize)
	}
	e := &EncryptedKey{Version: b[0], LogN: b[1]}
	if e.Version != encryptedKeyVersion {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupportedVersion, e.Version)
	}
	off := 2
	off += copy(e.Salt[:], b[off:])
	off += copy(e.Nonce[:], b[off:])
	e.KeySecurity = KeySecurity(b[off])
	off++
	e.Ciphertext = append([]byte(nil), b[off:]...)
	return e, nil
}
