// Package signer produces signed events either from a local key pair or by
// asking Pleb Signer over the D-Bus session bus.
package signer

import (
	"context"
	"errors"
	"fmt"

	"nostrbox/pkg/event"
	"nostrbox/pkg/keys"
)

var (
	ErrRefused  = errors.New("signer: request refused")
	ErrNotReady = errors.New("signer: not ready")
)

type Signer interface {
	PublicKey(ctx context.Context) (event.PubKey, error)
	// Sign returns the signed event. A zero PubKey in u is filled in with
	// the signer's key.
	Sign(ctx context.Context, u *event.Unsigned) (*event.Event, error)
	Close() error
}

// Local signs with a key pair held in memory
type Local struct {
	kp *keys.KeyPair
}

// NewLocal takes ownership of kp; Close destroys it
func NewLocal(kp *keys.KeyPair) *Local {
	return &Local{kp: kp}
}

func (l *Local) PublicKey(context.Context) (event.PubKey, error) {
	return event.PubKey(l.kp.Public()), nil
}

func (l *Local) Sign(_ context.Context, u *event.Unsigned) (*event.Event, error) {
	if u.PubKey == (event.PubKey{}) {
		c := *u
		c.PubKey = event.PubKey(l.kp.Public())
		u = &c
	}
	return event.Sign(u, l.kp)
}

func (l *Local) Close() error {
	l.kp.Destroy()
	return nil
}

// fillPubKey completes a template for a remote signer
func fillPubKey(ctx context.Context, s Signer, u *event.Unsigned) (*event.Unsigned, error) {
	if u.PubKey != (event.PubKey{}) {
		return u, nil
	}
	pk, err := s.PublicKey(ctx)
	if err != nil {
		return nil, err
	}
	c := *u
	c.PubKey = pk
	return &c, nil
}

// checkSigned makes sure a remote signer signed what was asked
func checkSigned(u *event.Unsigned, ev *event.Event) error {
	if ev.PubKey != u.PubKey {
		return fmt.Errorf("%w: signer returned pubkey %s", event.ErrKeyMismatch, ev.PubKey)
	}
	if ev.ID != event.ComputeID(u) {
		return fmt.Errorf("%w: signer altered the event", event.ErrIDMismatch)
	}
	return event.Check(ev)
}
