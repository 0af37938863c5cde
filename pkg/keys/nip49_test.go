package keys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNcryptsec = "ncryptsec1qgg9947rlpvqu76pj5ecreduf9jxhselq2nae2kghhvd5g7dgjtcxfqtd67p9m0w57lspw8gsq6yphnm8623nsl8xn9j4jdzz84zm3frztj3z7s35vpzmqf6ksu8r89qk5z2zxfmu5gv8th8wclt0h4p"

// cheap KDF cost keeps the round trips fast
var fastParams = Params{LogN: 4, KeySecurity: KeySecure}

func TestDecryptKnownVector(t *testing.T) {
	enc, err := ParseEncryptedKey(testNcryptsec)
	require.NoError(t, err)
	assert.Equal(t, uint8(16), enc.LogN)
	assert.Equal(t, KeyInsecure, enc.KeySecurity)

	kp, err := Decrypt(enc, "nostr")
	require.NoError(t, err)
	defer kp.Destroy()
	assert.Equal(t, "3501454135014541350145413501453fefb02227e449e57cf4d3a3ce05378683", kp.Secret().Hex())

	again, err := enc.Bech32()
	require.NoError(t, err)
	assert.Equal(t, testNcryptsec, again)
}

func TestEncryptRoundTrip(t *testing.T) {
	kp, err := FromSecret(mustHex(t, testSecretHex))
	require.NoError(t, err)

	enc, err := Encrypt(kp, "correct horse battery staple", fastParams)
	require.NoError(t, err)

	s, err := enc.Bech32()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s, "ncryptsec1"))

	parsed, err := ParseEncryptedKey(s)
	require.NoError(t, err)
	assert.Equal(t, enc, parsed)

	out, err := Decrypt(parsed, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, kp.Public(), out.Public())
	assert.Equal(t, testSecretHex, out.Secret().Hex())
}

func TestEncryptUsesFreshSaltAndNonce(t *testing.T) {
	kp, err := FromSecret(mustHex(t, testSecretHex))
	require.NoError(t, err)

	a, err := Encrypt(kp, "pw", fastParams)
	require.NoError(t, err)
	b, err := Encrypt(kp, "pw", fastParams)
	require.NoError(t, err)
	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestDecryptFailuresAreIndistinguishable(t *testing.T) {
	kp, err := FromSecret(mustHex(t, testSecretHex))
	require.NoError(t, err)
	enc, err := Encrypt(kp, "right", fastParams)
	require.NoError(t, err)

	_, err = Decrypt(enc, "wrong")
	assert.Equal(t, ErrDecryption, err)

	flipped := *enc
	flipped.Ciphertext = append([]byte(nil), enc.Ciphertext...)
	flipped.Ciphertext[0] ^= 0x01
	_, err = Decrypt(&flipped, "right")
	assert.Equal(t, ErrDecryption, err)

	relabeled := *enc
	relabeled.KeySecurity = KeyInsecure
	_, err = Decrypt(&relabeled, "right")
	assert.Equal(t, ErrDecryption, err)

	resalted := *enc
	resalted.Salt[0] ^= 0xff
	_, err = Decrypt(&resalted, "right")
	assert.Equal(t, ErrDecryption, err)
}

func TestPassphraseIsNormalized(t *testing.T) {
	kp, err := FromSecret(mustHex(t, testSecretHex))
	require.NoError(t, err)

	// ANGSTROM SIGN and LATIN CAPITAL LETTER A WITH RING ABOVE share an NFKC form
	enc, err := Encrypt(kp, "\u212Bngstr\u00f6m", fastParams)
	require.NoError(t, err)
	out, err := Decrypt(enc, "\u00C5ngstr\u00f6m")
	require.NoError(t, err)
	assert.Equal(t, kp.Public(), out.Public())
}

func TestEncryptRejectsBadParams(t *testing.T) {
	kp, err := FromSecret(mustHex(t, testSecretHex))
	require.NoError(t, err)

	for _, logN := range []uint8{0, MaxLogN + 1} {
		_, err := Encrypt(kp, "pw", Params{LogN: logN})
		assert.ErrorIs(t, err, ErrInvalidKDFParameter)
	}
}

func TestUnmarshalEncryptedKeyRejectsMalformed(t *testing.T) {
	_, err := UnmarshalEncryptedKey(make([]byte, 10))
	assert.ErrorIs(t, err, ErrMalformedEncrypted)

	raw := make([]byte, encryptedKeySize)
	raw[0] = 0x01
	_, err = UnmarshalEncryptedKey(raw)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = ParseEncryptedKey(testNsec)
	assert.ErrorIs(t, err, ErrMalformedEncrypted)

	_, err = Decrypt(nil, "pw")
	assert.ErrorIs(t, err, ErrMalformedEncrypted)
}
