// Package event builds, serializes, signs and verifies Nostr events (NIP-01).
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrMalformed    = errors.New("event: malformed")
	ErrIDMismatch   = errors.New("event: id does not match content")
	ErrBadSignature = errors.New("event: invalid signature")
	ErrKeyMismatch  = errors.New("event: signing key does not match event pubkey")
)

type Kind uint16

const (
	KindMetadata Kind = 0
	KindTextNote Kind = 1
	KindContacts Kind = 3
	KindDeletion Kind = 5
	KindRepost   Kind = 6
	KindReaction Kind = 7
	KindLongForm Kind = 30023
)

// Timestamp is unix seconds
type Timestamp uint64

func Now() Timestamp { return Timestamp(time.Now().Unix()) }

func (t Timestamp) Time() time.Time { return time.Unix(int64(t), 0) }

type ID [32]byte

type PubKey [32]byte

type Signature [64]byte

func (id ID) String() string       { return hex.EncodeToString(id[:]) }
func (pk PubKey) String() string   { return hex.EncodeToString(pk[:]) }
func (s Signature) String() string { return hex.EncodeToString(s[:]) }

func (id ID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (pk PubKey) MarshalText() ([]byte, error)    { return []byte(pk.String()), nil }
func (s Signature) MarshalText() ([]byte, error)  { return []byte(s.String()), nil }
func (id *ID) UnmarshalText(b []byte) error       { return decodeHex(id[:], b, "id") }
func (pk *PubKey) UnmarshalText(b []byte) error   { return decodeHex(pk[:], b, "pubkey") }
func (s *Signature) UnmarshalText(b []byte) error { return decodeHex(s[:], b, "sig") }

// ParseID decodes a 64 character hex event id
func ParseID(s string) (ID, error) {
	var id ID
	err := id.UnmarshalText([]byte(s))
	return id, err
}

func decodeHex(dst []byte, src []byte, field string) error {
	if len(src) != hex.EncodedLen(len(dst)) {
		return fmt.Errorf("%w: %s must be %d hex characters, got %d", ErrMalformed, field, hex.EncodedLen(len(dst)), len(src))
	}
	if _, err := hex.Decode(dst, src); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, field, err)
	}
	return nil
}

// Unsigned is an event before its id and signature are attached
type Unsigned struct {
	PubKey    PubKey
	CreatedAt Timestamp
	Kind      Kind
	Tags      Tags
	Content   string
}

// Event is a signed, immutable Nostr event
type Event struct {
	ID        ID
	PubKey    PubKey
	CreatedAt Timestamp
	Kind      Kind
	Tags      Tags
	Content   string
	Sig       Signature
}

// Build assembles an unsigned event. Tags are deep-copied so later changes
// to the caller's slices cannot alter the event.
func Build(pub PubKey, kind Kind, tags Tags, content string, createdAt Timestamp) (*Unsigned, error) {
	for i, tag := range tags {
		if len(tag) == 0 {
			return nil, fmt.Errorf("%w: tag %d is empty", ErrMalformed, i)
		}
	}
	return &Unsigned{
		PubKey:    pub,
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags.Clone(),
		Content:   content,
	}, nil
}

// Unsigned returns the fields covered by the event id
func (e *Event) Unsigned() *Unsigned {
	return &Unsigned{PubKey: e.PubKey, CreatedAt: e.CreatedAt, Kind: e.Kind, Tags: e.Tags, Content: e.Content}
}

// Serialize renders the canonical form hashed into the event id:
// [0,"<pubkey>",<created_at>,<kind>,<tags>,"<content>"]
func Serialize(u *Unsigned) []byte {
	dst := make([]byte, 0, 100+len(u.Content)+len(u.Tags)*80)
	dst = append(dst, `[0,"`...)
	dst = hex.AppendEncode(dst, u.PubKey[:])
	dst = append(dst, `",`...)
	dst = strconv.AppendUint(dst, uint64(u.CreatedAt), 10)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(u.Kind), 10)
	dst = append(dst, ',')
	dst = appendTags(dst, u.Tags)
	dst = append(dst, ',')
	dst = appendString(dst, u.Content)
	dst = append(dst, ']')
	return dst
}

// ComputeID hashes the canonical serialization
func ComputeID(u *Unsigned) ID {
	return sha256.Sum256(Serialize(u))
}

func appendTags(dst []byte, tags Tags) []byte {
	dst = append(dst, '[')
	for i, tag := range tags {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, '[')
		for j, v := range tag {
			if j > 0 {
				dst = append(dst, ',')
			}
			dst = appendString(dst, v)
		}
		dst = append(dst, ']')
	}
	return append(dst, ']')
}

const hexDigits = "0123456789abcdef"

// appendString writes s as a JSON string using the NIP-01 escapes. Bytes
// from 0x20 upward, including non-ASCII UTF-8, are copied verbatim.
func appendString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			dst = append(dst, '\\', '"')
		case c == '\\':
			dst = append(dst, '\\', '\\')
		case c >= 0x20:
			dst = append(dst, c)
		case c == '\n':
			dst = append(dst, '\\', 'n')
		case c == '\r':
			dst = append(dst, '\\', 'r')
		case c == '\t':
			dst = append(dst, '\\', 't')
		case c == '\b':
			dst = append(dst, '\\', 'b')
		case c == '\f':
			dst = append(dst, '\\', 'f')
		default:
			dst = append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
		}
	}
	return append(dst, '"')
}
