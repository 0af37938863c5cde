package nip19

import (
	"encoding/hex"
	"strings"
	"testing"

	gonip19 "github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostrbox/pkg/bech32"
)

func mustHex32(t *testing.T, s string) [32]byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	require.Len(t, b, 32)
	var out [32]byte
	copy(out[:], b)
	return out
}

func TestPublicKeyVector(t *testing.T) {
	var pk [32]byte
	pk[0] = 0x02
	for i := 1; i < 32; i++ {
		pk[i] = 0x11
	}

	s, err := EncodePublicKey(pk)
	require.NoError(t, err)
	assert.Equal(t, "npub1qgg3zyg3zyg3zyg3zyg3zyg3zyg3zyg3zyg3zyg3zyg3zyg3zygs7yhhrq", s)
	assert.Len(t, s, 63)

	e, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, PrefixPublicKey, e.Prefix)
	assert.Equal(t, pk[:], e.Data)
}

func TestDocumentedVectors(t *testing.T) {
	pk, err := DecodeKey32("npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg", PrefixPublicKey)
	require.NoError(t, err)
	assert.Equal(t, "7e7e9c42a91bfef19fa929e5fda1b72e0ebc1a4c1141673e2794234d86addf4e", hex.EncodeToString(pk[:]))

	sk, err := DecodeKey32("nsec1vl029mgpspedva04g90vltkh6fvh240zqtv9k0t9af8935ke9laqsnlfe5", PrefixSecretKey)
	require.NoError(t, err)
	assert.Equal(t, "67dea2ed018072d675f5415ecfaed7d2597555e202d85b3d65ea4e58d2d92ffa", hex.EncodeToString(sk[:]))

	const nprofile = "nprofile1qqsrhuxx8l9ex335q7he0f09aej04zpazpl0ne2cgukyawd24mayt8gpp4mhxue69uhhytnc9e3k7mgpz4mhxue69uhkg6nzv9ejuumpv34kytnrdaksjlyr9p"
	e, err := Decode(nprofile)
	require.NoError(t, err)
	require.NotNil(t, e.Profile)
	assert.Equal(t, "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d", hex.EncodeToString(e.Profile.PublicKey[:]))
	assert.Equal(t, []string{"wss://r.x.com", "wss://djbas.sadkb.com"}, e.Profile.Relays)

	again, err := EncodeProfile(*e.Profile)
	require.NoError(t, err)
	assert.Equal(t, nprofile, again)
}

func TestDecodeKey32WrongPrefix(t *testing.T) {
	_, err := DecodeKey32("npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg", PrefixSecretKey)
	assert.ErrorIs(t, err, ErrUnknownPrefix)
}

func TestEventPointerRoundTrip(t *testing.T) {
	author := mustHex32(t, "7e7e9c42a91bfef19fa929e5fda1b72e0ebc1a4c1141673e2794234d86addf4e")
	kind := uint32(30023)
	in := EventPointer{
		ID:     mustHex32(t, "eeaf6019d3539958822e623fa80fea5459003a6d9bfbf79014b01fd9bb11d46b"),
		Relays: []string{"wss://relay.example.com", "wss://nos.lol"},
		Author: &author,
		Kind:   &kind,
	}
	s, err := EncodeEvent(in)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s, "nevent1"))

	e, err := Decode(s)
	require.NoError(t, err)
	require.NotNil(t, e.Event)
	assert.Equal(t, in, *e.Event)
	assert.Equal(t, in.Relays, e.Relays())
}

func TestAddressPointerRoundTrip(t *testing.T) {
	in := AddressPointer{
		Identifier: "my-article",
		PublicKey:  mustHex32(t, "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"),
		Kind:       30023,
		Relays:     []string{"wss://relay.example.com"},
	}
	s, err := EncodeAddress(in)
	require.NoError(t, err)

	e, err := Decode(s)
	require.NoError(t, err)
	require.NotNil(t, e.Address)
	assert.Equal(t, in, *e.Address)
}

func TestInteropWithGoNostr(t *testing.T) {
	pkHex := "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"
	relays := []string{"wss://r.x.com", "wss://djbas.sadkb.com"}

	theirs, err := gonip19.EncodeProfile(pkHex, relays)
	require.NoError(t, err)
	ours, err := EncodeProfile(ProfilePointer{PublicKey: mustHex32(t, pkHex), Relays: relays})
	require.NoError(t, err)
	assert.Equal(t, theirs, ours)

	npub, err := EncodePublicKey(mustHex32(t, pkHex))
	require.NoError(t, err)
	prefix, value, err := gonip19.Decode(npub)
	require.NoError(t, err)
	assert.Equal(t, "npub", prefix)
	assert.Equal(t, pkHex, value)

	idHex := "eeaf6019d3539958822e623fa80fea5459003a6d9bfbf79014b01fd9bb11d46b"
	nevent, err := gonip19.EncodeEvent(idHex, []string{"wss://nos.lol"}, pkHex)
	require.NoError(t, err)
	e, err := Decode(nevent)
	require.NoError(t, err)
	require.NotNil(t, e.Event)
	assert.Equal(t, idHex, hex.EncodeToString(e.Event.ID[:]))
	require.NotNil(t, e.Event.Author)
	assert.Equal(t, pkHex, hex.EncodeToString(e.Event.Author[:]))
	assert.Equal(t, []string{"wss://nos.lol"}, e.Event.Relays)
}

func TestMalformedTLV(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		err     error
	}{
		{"header without length", append(tlv(0, make([]byte, 32)), 1), ErrTruncatedPayload},
		{"length past end", append(tlv(0, make([]byte, 32)), 1, 10, 'w', 's'), ErrTLVFieldOverrun},
		{"short pubkey", tlv(0, make([]byte, 31)), ErrInvalidLength},
		{"missing pubkey", tlv(1, []byte("wss://x")), ErrMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := bech32.EncodeFromBytes(PrefixProfile, tt.payload, bech32.Bech32)
			require.NoError(t, err)
			_, err = Decode(s)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestUnknownTLVTypesAreSkipped(t *testing.T) {
	pk := mustHex32(t, "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d")
	payload := append(tlv(0, pk[:]), tlv(9, []byte("future"))...)
	payload = append(payload, tlv(1, []byte("wss://a"))...)

	s, err := bech32.EncodeFromBytes(PrefixProfile, payload, bech32.Bech32)
	require.NoError(t, err)
	e, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, pk, e.Profile.PublicKey)
	assert.Equal(t, []string{"wss://a"}, e.Profile.Relays)
}

func TestDecodeRejects(t *testing.T) {
	s, err := bech32.EncodeFromBytes("nfoo", make([]byte, 32), bech32.Bech32)
	require.NoError(t, err)
	_, err = Decode(s)
	assert.ErrorIs(t, err, ErrUnknownPrefix)

	s, err = bech32.EncodeFromBytes(PrefixPublicKey, make([]byte, 32), bech32.Bech32m)
	require.NoError(t, err)
	_, err = Decode(s)
	assert.ErrorIs(t, err, bech32.ErrWrongVariant)

	s, err = bech32.EncodeFromBytes(PrefixPublicKey, make([]byte, 20), bech32.Bech32)
	require.NoError(t, err)
	_, err = Decode(s)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestEncodeRejectsLongRelay(t *testing.T) {
	_, err := EncodeProfile(ProfilePointer{Relays: []string{"wss://" + strings.Repeat("a", 300)}})
	assert.ErrorIs(t, err, ErrFieldTooLong)
}

func tlv(typ uint8, v []byte) []byte {
	return append([]byte{typ, uint8(len(v))}, v...)
}
