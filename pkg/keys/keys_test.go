package keys

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecretHex = "67dea2ed018072d675f5415ecfaed7d2597555e202d85b3d65ea4e58d2d92ffa"
	testPublicHex = "7e7e9c42a91bfef19fa929e5fda1b72e0ebc1a4c1141673e2794234d86addf4e"
	testNsec      = "nsec1vl029mgpspedva04g90vltkh6fvh240zqtv9k0t9af8935ke9laqsnlfe5"
	testNpub      = "npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestFromSecretDerivesPublicKey(t *testing.T) {
	kp, err := FromSecret(mustHex(t, testSecretHex))
	require.NoError(t, err)
	defer kp.Destroy()

	assert.Equal(t, testPublicHex, kp.PublicHex())
	npub, err := kp.Npub()
	require.NoError(t, err)
	assert.Equal(t, testNpub, npub)
	nsec, err := kp.Secret().Bech32()
	require.NoError(t, err)
	assert.Equal(t, testNsec, nsec)
}

func TestFromSecretRejectsOutOfRange(t *testing.T) {
	order := mustHex(t, "fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141")

	for name, in := range map[string][]byte{
		"zero":        make([]byte, 32),
		"group order": order,
		"all ones":    bytes.Repeat([]byte{0xff}, 32),
		"short":       make([]byte, 31),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := FromSecret(in)
			assert.ErrorIs(t, err, ErrInvalidSecret)
		})
	}
}

func TestGenerateSkipsInvalidCandidates(t *testing.T) {
	var stream []byte
	stream = append(stream, make([]byte, 32)...)
	stream = append(stream, bytes.Repeat([]byte{0xff}, 32)...)
	stream = append(stream, mustHex(t, testSecretHex)...)

	kp, err := GenerateFrom(bytes.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, testPublicHex, kp.PublicHex())
}

type failingReader struct{ calls int }

func (r *failingReader) Read([]byte) (int, error) {
	r.calls++
	return 0, errors.New("device not ready")
}

func TestGenerateGivesUpOnBrokenEntropy(t *testing.T) {
	r := &failingReader{}
	_, err := GenerateFrom(r)
	require.ErrorIs(t, err, ErrEntropy)
	assert.Equal(t, maxEntropyAttempts, r.calls)

	_, err = GenerateFrom(bytes.NewReader(make([]byte, 32*maxEntropyAttempts)))
	assert.ErrorIs(t, err, ErrEntropy)
}

func TestGenerateMatchesGoNostr(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)
	defer kp.Destroy()

	pk, err := nostr.GetPublicKey(kp.Secret().Hex())
	require.NoError(t, err)
	assert.Equal(t, pk, kp.PublicHex())
}

func TestDestroyWipesSecret(t *testing.T) {
	kp, err := FromSecret(mustHex(t, testSecretHex))
	require.NoError(t, err)

	view := kp.Secret().Bytes()
	kp.Destroy()
	assert.Equal(t, make([]byte, 32), view)

	_, err = kp.Sign(make([]byte, 32))
	assert.ErrorIs(t, err, ErrInvalidSecret)
}

func TestSecretDoesNotFormat(t *testing.T) {
	kp, err := FromSecret(mustHex(t, testSecretHex))
	require.NoError(t, err)

	out := fmt.Sprintf("%v %s %#v", kp.Secret(), kp.Secret(), kp.Secret())
	assert.NotContains(t, out, testSecretHex)
	assert.Contains(t, out, "[REDACTED]")
}

func TestSignMatchesBIP340Vector(t *testing.T) {
	sk := make([]byte, 32)
	sk[31] = 3
	kp, err := FromSecret(sk)
	require.NoError(t, err)

	sig, err := kp.signWithAux(make([]byte, 32), [32]byte{})
	require.NoError(t, err)
	assert.Equal(t,
		"e907831f80848d1069a5371b402410364bdf1c5f8307b0084c55f1ce2dca821525f66a4a85ea8b71e482a74f382d2ce5ebeee8fdb2172f477df4900d310536c0",
		hex.EncodeToString(sig[:]))
}

func TestSignUsesFreshRandomness(t *testing.T) {
	kp, err := FromSecret(mustHex(t, testSecretHex))
	require.NoError(t, err)
	digest := bytes.Repeat([]byte{0xab}, 32)

	a, err := kp.Sign(digest)
	require.NoError(t, err)
	b, err := kp.Sign(digest)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	pub, err := schnorr.ParsePubKey(mustHex(t, testPublicHex))
	require.NoError(t, err)
	for _, raw := range [][64]byte{a, b} {
		sig, err := schnorr.ParseSignature(raw[:])
		require.NoError(t, err)
		assert.True(t, sig.Verify(digest, pub))
	}
}

func TestParseSecret(t *testing.T) {
	for _, in := range []string{testSecretHex, testNsec, "  " + testNsec + "\n"} {
		kp, err := ParseSecret(in)
		require.NoError(t, err, in)
		assert.Equal(t, testPublicHex, kp.PublicHex())
	}

	_, err := ParseSecret("ncryptsec1qgg9947rlpvqu76pj5ecreduf9jxhselq2nae2kghhvd5g7dgjtcxfqtd67p9m0w57lspw8gsq6yphnm8623nsl8xn9j4jdzz84zm3frztj3z7s35vpzmqf6ksu8r89qk5z2zxfmu5gv8th8wclt0h4p")
	assert.ErrorIs(t, err, ErrEncryptedKey)

	_, err = ParseSecret("not-hex")
	assert.ErrorIs(t, err, ErrInvalidSecret)
}

func TestParsePublicKey(t *testing.T) {
	for _, in := range []string{
		testPublicHex,
		testNpub,
		"nprofile1qqs8ul5ug253hlh3n75jne0a5xmjur4urfxpzst88cnegg6ds6ka7nspzamhxue69uhhyetvv9ujuetcv9khqmr99e3k7mg3lnphh",
	} {
		pk, err := ParsePublicKey(in)
		require.NoError(t, err, in)
		assert.Equal(t, testPublicHex, hex.EncodeToString(pk[:]))
	}

	_, err := ParsePublicKey("zz")
	assert.ErrorIs(t, err, ErrInvalidPublic)
	_, err = ParsePublicKey(testSecretHex[:40])
	assert.ErrorIs(t, err, ErrInvalidPublic)
}
