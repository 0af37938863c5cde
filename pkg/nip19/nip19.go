// Package nip19 encodes and decodes the bech32 entities defined by NIP-19.
package nip19

import (
	"encoding/binary"
	"errors"
	"fmt"

	"nostrbox/pkg/bech32"
)

const (
	PrefixPublicKey    = "npub"
	PrefixSecretKey    = "nsec"
	PrefixNote         = "note"
	PrefixProfile      = "nprofile"
	PrefixEvent        = "nevent"
	PrefixAddress      = "naddr"
	PrefixEncryptedKey = "ncryptsec"
)

// TLV types
const (
	tlvSpecial uint8 = 0
	tlvRelay   uint8 = 1
	tlvAuthor  uint8 = 2
	tlvKind    uint8 = 3
)

var (
	ErrUnknownPrefix    = errors.New("nip19: unknown prefix")
	ErrTruncatedPayload = errors.New("nip19: truncated payload")
	ErrTLVFieldOverrun  = errors.New("nip19: tlv field overruns payload")
	ErrInvalidLength    = errors.New("nip19: invalid field length")
	ErrMissingField     = errors.New("nip19: missing required field")
	ErrFieldTooLong     = errors.New("nip19: field longer than 255 bytes")
)

type ProfilePointer struct {
	PublicKey [32]byte
	Relays    []string
}

type EventPointer struct {
	ID     [32]byte
	Relays []string
	Author *[32]byte
	Kind   *uint32
}

type AddressPointer struct {
	Identifier string
	PublicKey  [32]byte
	Kind       uint32
	Relays     []string
}

// Entity is a decoded NIP-19 string. Exactly one of Data, Profile, Event
// or Address is set, depending on Prefix.
type Entity struct {
	Prefix  string
	Data    []byte
	Profile *ProfilePointer
	Event   *EventPointer
	Address *AddressPointer
}

// Relays returns the relay hints carried by TLV entities
func (e Entity) Relays() []string {
	switch {
	case e.Profile != nil:
		return e.Profile.Relays
	case e.Event != nil:
		return e.Event.Relays
	case e.Address != nil:
		return e.Address.Relays
	}
	return nil
}

func encode(prefix string, payload []byte) (string, error) {
	return bech32.EncodeFromBytes(prefix, payload, bech32.Bech32)
}

func EncodePublicKey(pk [32]byte) (string, error) { return encode(PrefixPublicKey, pk[:]) }

func EncodeSecretKey(sk []byte) (string, error) {
	if len(sk) != 32 {
		return "", fmt.Errorf("%w: secret key of %d bytes", ErrInvalidLength, len(sk))
	}
	return encode(PrefixSecretKey, sk)
}

func EncodeNote(id [32]byte) (string, error) { return encode(PrefixNote, id[:]) }

// EncodeEncryptedKey wraps a serialized NIP-49 payload
func EncodeEncryptedKey(payload []byte) (string, error) {
	return encode(PrefixEncryptedKey, payload)
}

func EncodeProfile(p ProfilePointer) (string, error) {
	var w tlvWriter
	w.put(tlvSpecial, p.PublicKey[:])
	for _, r := range p.Relays {
		w.put(tlvRelay, []byte(r))
	}
	if w.err != nil {
		return "", w.err
	}
	return encode(PrefixProfile, w.buf)
}

func EncodeEvent(p EventPointer) (string, error) {
	var w tlvWriter
	w.put(tlvSpecial, p.ID[:])
	for _, r := range p.Relays {
		w.put(tlvRelay, []byte(r))
	}
	if p.Author != nil {
		w.put(tlvAuthor, p.Author[:])
	}
	if p.Kind != nil {
		w.put(tlvKind, binary.BigEndian.AppendUint32(nil, *p.Kind))
	}
	if w.err != nil {
		return "", w.err
	}
	return encode(PrefixEvent, w.buf)
}

func EncodeAddress(p AddressPointer) (string, error) {
	var w tlvWriter
	w.put(tlvSpecial, []byte(p.Identifier))
	for _, r := range p.Relays {
		w.put(tlvRelay, []byte(r))
	}
	w.put(tlvAuthor, p.PublicKey[:])
	w.put(tlvKind, binary.BigEndian.AppendUint32(nil, p.Kind))
	if w.err != nil {
		return "", w.err
	}
	return encode(PrefixAddress, w.buf)
}

// Decode parses any NIP-19 string. Only the original bech32 checksum is
// accepted.
func Decode(s string) (Entity, error) {
	prefix, payload, variant, err := bech32.DecodeToBytes(s)
	if err != nil {
		return Entity{}, err
	}
	if variant != bech32.Bech32 {
		return Entity{}, fmt.Errorf("%w: nip19 requires %s, got %s", bech32.ErrWrongVariant, bech32.Bech32, variant)
	}

	switch prefix {
	case PrefixPublicKey, PrefixSecretKey, PrefixNote:
		if len(payload) != 32 {
			return Entity{}, fmt.Errorf("%w: %s payload of %d bytes", ErrInvalidLength, prefix, len(payload))
		}
		return Entity{Prefix: prefix, Data: payload}, nil
	case PrefixEncryptedKey:
		return Entity{Prefix: prefix, Data: payload}, nil
	case PrefixProfile:
		p, err := decodeProfile(payload)
		if err != nil {
			return Entity{}, err
		}
		return Entity{Prefix: prefix, Profile: p}, nil
	case PrefixEvent:
		p, err := decodeEvent(payload)
		if err != nil {
			return Entity{}, err
		}
		return Entity{Prefix: prefix, Event: p}, nil
	case PrefixAddress:
		p, err := decodeAddress(payload)
		if err != nil {
			return Entity{}, err
		}
		return Entity{Prefix: prefix, Address: p}, nil
	default:
		return Entity{}, fmt.Errorf("%w: %q", ErrUnknownPrefix, prefix)
	}
}

// DecodeKey32 decodes s and requires a 32-byte entity with the given prefix
func DecodeKey32(s, prefix string) ([32]byte, error) {
	var out [32]byte
	e, err := Decode(s)
	if err != nil {
		return out, err
	}
	if e.Prefix != prefix {
		return out, fmt.Errorf("%w: expected %s, got %s", ErrUnknownPrefix, prefix, e.Prefix)
	}
	copy(out[:], e.Data)
	return out, nil
}

func decodeProfile(payload []byte) (*ProfilePointer, error) {
	p := &ProfilePointer{}
	seen := false
	err := walkTLV(payload, func(typ uint8, v []byte) error {
		switch typ {
		case tlvSpecial:
			if len(v) != 32 {
				return fmt.Errorf("%w: pubkey of %d bytes", ErrInvalidLength, len(v))
			}
			copy(p.PublicKey[:], v)
			seen = true
		case tlvRelay:
			p.Relays = append(p.Relays, string(v))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !seen {
		return nil, fmt.Errorf("%w: pubkey", ErrMissingField)
	}
	return p, nil
}

func decodeEvent(payload []byte) (*EventPointer, error) {
	p := &EventPointer{}
	seen := false
	err := walkTLV(payload, func(typ uint8, v []byte) error {
		switch typ {
		case tlvSpecial:
			if len(v) != 32 {
				return fmt.Errorf("%w: event id of %d bytes", ErrInvalidLength, len(v))
			}
			copy(p.ID[:], v)
			seen = true
		case tlvRelay:
			p.Relays = append(p.Relays, string(v))
		case tlvAuthor:
			if len(v) != 32 {
				return fmt.Errorf("%w: author of %d bytes", ErrInvalidLength, len(v))
			}
			var a [32]byte
			copy(a[:], v)
			p.Author = &a
		case tlvKind:
			if len(v) != 4 {
				return fmt.Errorf("%w: kind of %d bytes", ErrInvalidLength, len(v))
			}
			k := binary.BigEndian.Uint32(v)
			p.Kind = &k
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !seen {
		return nil, fmt.Errorf("%w: event id", ErrMissingField)
	}
	return p, nil
}

func decodeAddress(payload []byte) (*AddressPointer, error) {
	p := &AddressPointer{}
	var seenID, seenAuthor, seenKind bool
	err := walkTLV(payload, func(typ uint8, v []byte) error {
		switch typ {
		case tlvSpecial:
			p.Identifier = string(v)
			seenID = true
		case tlvRelay:
			p.Relays = append(p.Relays, string(v))
		case tlvAuthor:
			if len(v) != 32 {
				return fmt.Errorf("%w: author of %d bytes", ErrInvalidLength, len(v))
			}
			copy(p.PublicKey[:], v)
			seenAuthor = true
		case tlvKind:
			if len(v) != 4 {
				return fmt.Errorf("%w: kind of %d bytes", ErrInvalidLength, len(v))
			}
			p.Kind = binary.BigEndian.Uint32(v)
			seenKind = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	switch {
	case !seenID:
		return nil, fmt.Errorf("%w: identifier", ErrMissingField)
	case !seenAuthor:
		return nil, fmt.Errorf("%w: author", ErrMissingField)
	case !seenKind:
		return nil, fmt.Errorf("%w: kind", ErrMissingField)
	}
	return p, nil
}
