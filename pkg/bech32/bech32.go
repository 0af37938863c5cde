// Package bech32 implements the BIP-173 / BIP-350 checksummed base32 format
// without the 90 character limit, which NIP-19 TLV entities routinely exceed.
package bech32

import (
	"errors"
	"fmt"
	"strings"

	btcbech32 "github.com/btcsuite/btcd/btcutil/bech32"
)

const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// MaxLength bounds the total length of an encoded string
const MaxLength = 5000

const checksumLength = 6

// Variant selects the checksum constant
type Variant int

const (
	Invalid Variant = iota
	Bech32          // original BIP-173 constant, used by NIP-19
	Bech32m         // BIP-350 constant
)

func (v Variant) String() string {
	switch v {
	case Bech32:
		return "bech32"
	case Bech32m:
		return "bech32m"
	default:
		return "invalid"
	}
}

func (v Variant) constant() uint32 {
	if v == Bech32m {
		return 0x2bc830a3
	}
	return 1
}

var (
	ErrMixedCase        = errors.New("bech32: mixed case")
	ErrInvalidCharacter = errors.New("bech32: invalid character")
	ErrInvalidChecksum  = errors.New("bech32: invalid checksum")
	ErrInvalidLength    = errors.New("bech32: invalid length")
	ErrTooLong          = errors.New("bech32: string too long")
	ErrInvalidPadding   = errors.New("bech32: invalid padding")
	ErrWrongVariant     = errors.New("bech32: wrong checksum variant")
)

var gen = [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

func polymod(hrp string, data []byte) uint32 {
	chk := uint32(1)
	step := func(v byte) {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= gen[i]
			}
		}
	}
	for i := 0; i < len(hrp); i++ {
		step(hrp[i] >> 5)
	}
	step(0)
	for i := 0; i < len(hrp); i++ {
		step(hrp[i] & 31)
	}
	for _, v := range data {
		step(v)
	}
	return chk
}

func checksum(hrp string, data []byte, v Variant) []byte {
	values := make([]byte, len(data)+checksumLength)
	copy(values, data)
	mod := polymod(hrp, values) ^ v.constant()
	out := make([]byte, checksumLength)
	for i := range out {
		out[i] = byte(mod>>uint(5*(5-i))) & 31
	}
	return out
}

// Encode builds a lowercase string from a human-readable part and 5-bit groups
func Encode(hrp string, data []byte, v Variant) (string, error) {
	if v != Bech32 && v != Bech32m {
		return "", ErrWrongVariant
	}
	if len(hrp) < 1 || len(hrp) > 83 {
		return "", fmt.Errorf("%w: human-readable part of %d chars", ErrInvalidLength, len(hrp))
	}
	if len(hrp)+1+len(data)+checksumLength > MaxLength {
		return "", ErrTooLong
	}
	for i := 0; i < len(hrp); i++ {
		if hrp[i] < 33 || hrp[i] > 126 {
			return "", fmt.Errorf("%w: %q in human-readable part", ErrInvalidCharacter, hrp[i])
		}
	}
	hrp = strings.ToLower(hrp)

	var sb strings.Builder
	sb.Grow(len(hrp) + 1 + len(data) + checksumLength)
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, b := range data {
		if b > 31 {
			return "", fmt.Errorf("%w: data value %d exceeds 5 bits", ErrInvalidCharacter, b)
		}
		sb.WriteByte(charset[b])
	}
	for _, b := range checksum(hrp, data, v) {
		sb.WriteByte(charset[b])
	}
	return sb.String(), nil
}

// Decode validates s and returns its human-readable part, the 5-bit data
// groups without checksum, and the checksum variant that matched.
func Decode(s string) (string, []byte, Variant, error) {
	if len(s) > MaxLength {
		return "", nil, Invalid, ErrTooLong
	}
	lower, upper := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 33 || c > 126 {
			return "", nil, Invalid, fmt.Errorf("%w: byte 0x%02x at position %d", ErrInvalidCharacter, c, i)
		}
		switch {
		case c >= 'a' && c <= 'z':
			lower = true
		case c >= 'A' && c <= 'Z':
			upper = true
		}
	}
	if lower && upper {
		return "", nil, Invalid, ErrMixedCase
	}
	s = strings.ToLower(s)

	sep := strings.LastIndexByte(s, '1')
	if sep < 1 || sep > 83 || sep+checksumLength+1 > len(s) {
		return "", nil, Invalid, fmt.Errorf("%w: separator at position %d", ErrInvalidLength, sep)
	}
	hrp := s[:sep]
	data := make([]byte, 0, len(s)-sep-1)
	for i := sep + 1; i < len(s); i++ {
		idx := strings.IndexByte(charset, s[i])
		if idx < 0 {
			return "", nil, Invalid, fmt.Errorf("%w: %q at position %d", ErrInvalidCharacter, s[i], i)
		}
		data = append(data, byte(idx))
	}

	var v Variant
	switch polymod(hrp, data) {
	case Bech32.constant():
		v = Bech32
	case Bech32m.constant():
		v = Bech32m
	default:
		return "", nil, Invalid, ErrInvalidChecksum
	}
	return hrp, data[:len(data)-checksumLength], v, nil
}

// EncodeFromBytes regroups 8-bit data into 5-bit groups and encodes it
func EncodeFromBytes(hrp string, data []byte, v Variant) (string, error) {
	conv, err := btcbech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("failed to regroup data: %w", err)
	}
	return Encode(hrp, conv, v)
}

// DecodeToBytes decodes s and regroups its payload into 8-bit bytes
func DecodeToBytes(s string) (string, []byte, Variant, error) {
	hrp, data, v, err := Decode(s)
	if err != nil {
		return "", nil, Invalid, err
	}
	conv, err := btcbech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", nil, Invalid, fmt.Errorf("%w: %v", ErrInvalidPadding, err)
	}
	return hrp, conv, v, nil
}
