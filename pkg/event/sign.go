package event

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"nostrbox/pkg/keys"
)

// Sign computes the id of u and signs it with kp
func Sign(u *Unsigned, kp *keys.KeyPair) (*Event, error) {
	if PubKey(kp.Public()) != u.PubKey {
		return nil, ErrKeyMismatch
	}
	id := ComputeID(u)
	sig, err := kp.Sign(id[:])
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        id,
		PubKey:    u.PubKey,
		CreatedAt: u.CreatedAt,
		Kind:      u.Kind,
		Tags:      u.Tags.Clone(),
		Content:   u.Content,
		Sig:       sig,
	}, nil
}

// Check recomputes the id and verifies the signature against it
func Check(e *Event) error {
	id := ComputeID(e.Unsigned())
	if id != e.ID {
		return fmt.Errorf("%w: computed %s", ErrIDMismatch, id)
	}
	pub, err := schnorr.ParsePubKey(e.PubKey[:])
	if err != nil {
		return fmt.Errorf("%w: pubkey: %v", ErrBadSignature, err)
	}
	sig, err := schnorr.ParseSignature(e.Sig[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !sig.Verify(id[:], pub) {
		return ErrBadSignature
	}
	return nil
}

// Verify reports whether e is fully valid
func Verify(e *Event) bool {
	return Check(e) == nil
}
