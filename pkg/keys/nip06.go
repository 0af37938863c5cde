package keys

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

// Nostr's registered coin type for m/44'/1237'/<account>'/0/0
const coinType = 1237

var ErrMnemonic = errors.New("keys: invalid mnemonic")

// NewMnemonic returns a fresh BIP-39 mnemonic of 12, 15, 18, 21 or 24 words
func NewMnemonic(words int) (string, error) {
	if words < 12 || words > 24 || words%3 != 0 {
		return "", fmt.Errorf("%w: %d words", ErrMnemonic, words)
	}
	entropy, err := bip39.NewEntropy(words / 3 * 32)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	defer clear(entropy)
	return bip39.NewMnemonic(entropy)
}

// FromMnemonic derives the key pair for account following NIP-06
func FromMnemonic(mnemonic, passphrase string, account uint32) (*KeyPair, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMnemonic, err)
	}
	defer clear(seed)

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	defer master.Zero()

	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + coinType,
		hdkeychain.HardenedKeyStart + account,
		0,
		0,
	}
	key := master
	for _, idx := range path {
		child, err := key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to derive child %d: %w", idx, err)
		}
		if key != master {
			key.Zero()
		}
		key = child
	}
	defer key.Zero()

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to extract private key: %w", err)
	}
	defer priv.Zero()

	raw := priv.Serialize()
	defer clear(raw)
	return FromSecret(raw)
}
