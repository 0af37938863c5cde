package signer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/godbus/dbus/v5"

	"nostrbox/pkg/event"
)

const (
	Service    = "com.plebsigner.Signer"
	ObjectPath = "/com/plebsigner/Signer"
	Interface  = "com.plebsigner.Signer1"

	// AppID identifies nostrbox to the signer
	AppID = "nostrbox"
)

// busObject is the part of dbus.BusObject the signer calls
type busObject interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// PlebSigner asks Pleb Signer to sign over D-Bus
type PlebSigner struct {
	conn *dbus.Conn
	obj  busObject
}

func NewPlebSigner() (*PlebSigner, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	obj := conn.Object(Service, dbus.ObjectPath(ObjectPath))
	return &PlebSigner{conn: conn, obj: obj}, nil
}

// DialPlebSigner connects and checks that the signer is unlocked
func DialPlebSigner(ctx context.Context) (*PlebSigner, error) {
	s, err := NewPlebSigner()
	if err != nil {
		return nil, err
	}
	ready, err := s.IsReady(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	if !ready {
		s.Close()
		return nil, ErrNotReady
	}
	return s, nil
}

func (s *PlebSigner) IsReady(ctx context.Context) (bool, error) {
	var ready bool
	err := s.obj.CallWithContext(ctx, Interface+".IsReady", 0).Store(&ready)
	if err != nil {
		return false, fmt.Errorf("dbus call failed: %w", err)
	}
	return ready, nil
}

type response struct {
	Success bool            `json:"success"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"` // Double-encoded JSON
	Error   *string         `json:"error"`
}

type publicKeyResult struct {
	Type string `json:"type"`
	Npub string `json:"npub"`
	Hex  string `json:"hex"`
}

type signResult struct {
	Type      string `json:"type"`
	EventJSON string `json:"event_json"`
	Signature string `json:"signature"`
}

// call invokes method and unwraps the double-encoded result into out
func (s *PlebSigner) call(ctx context.Context, method string, out any, args ...interface{}) error {
	var respJSON string
	err := s.obj.CallWithContext(ctx, Interface+"."+method, 0, args...).Store(&respJSON)
	if err != nil {
		return fmt.Errorf("dbus call failed: %w", err)
	}

	var resp response
	if err := json.Unmarshal([]byte(respJSON), &resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if !resp.Success {
		errMsg := "unknown error"
		if resp.Error != nil {
			errMsg = *resp.Error
		}
		return fmt.Errorf("%w: %s", ErrRefused, errMsg)
	}

	// Result is double-encoded - first decode to get the JSON string
	var resultJSON string
	if err := json.Unmarshal(resp.Result, &resultJSON); err != nil {
		return fmt.Errorf("failed to decode result wrapper: %w", err)
	}
	if err := json.Unmarshal([]byte(resultJSON), out); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", method, err)
	}
	return nil
}

func (s *PlebSigner) PublicKey(ctx context.Context) (event.PubKey, error) {
	var res publicKeyResult
	if err := s.call(ctx, "GetPublicKey", &res); err != nil {
		return event.PubKey{}, err
	}

	var pk event.PubKey
	if err := pk.UnmarshalText([]byte(res.Hex)); err != nil {
		return event.PubKey{}, fmt.Errorf("failed to parse signer public key: %w", err)
	}
	return pk, nil
}

func (s *PlebSigner) Sign(ctx context.Context, u *event.Unsigned) (*event.Event, error) {
	u, err := fillPubKey(ctx, s, u)
	if err != nil {
		return nil, err
	}

	eventJSON, err := json.Marshal(event.UnsignedJSON{
		PubKey:    &u.PubKey,
		CreatedAt: u.CreatedAt,
		Kind:      u.Kind,
		Tags:      u.Tags,
		Content:   u.Content,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	// args: event_json, app_id
	var res signResult
	if err := s.call(ctx, "SignEvent", &res, string(eventJSON), AppID); err != nil {
		return nil, err
	}

	ev, err := event.Parse([]byte(res.EventJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signed event: %w", err)
	}
	if err := checkSigned(u, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *PlebSigner) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
