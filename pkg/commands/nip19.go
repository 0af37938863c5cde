package commands

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"math"
	"strings"

	"nostrbox/pkg/dispatch"
	"nostrbox/pkg/event"
	"nostrbox/pkg/keys"
	"nostrbox/pkg/nip19"
)

func nip19EncodePub(pk event.PubKey) (string, error) {
	return nip19.EncodePublicKey([32]byte(pk))
}

func parseHex32(s, what string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return out, fmt.Errorf("bad %s: %w", what, err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("bad %s: %w", what, hex.ErrLength)
	}
	copy(out[:], b)
	return out, nil
}

// parseEventID accepts hex, note or nevent
func parseEventID(s string) ([32]byte, error) {
	lower := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "nostr:"))
	switch {
	case strings.HasPrefix(lower, nip19.PrefixNote+"1"):
		return nip19.DecodeKey32(lower, nip19.PrefixNote)
	case strings.HasPrefix(lower, nip19.PrefixEvent+"1"):
		ent, err := nip19.Decode(lower)
		if err != nil {
			return [32]byte{}, err
		}
		return ent.Event.ID, nil
	}
	return parseHex32(s, "event id")
}

func (a *App) encode() dispatch.Command {
	return &command{
		name:     "encode",
		aliases:  []string{"bech32-encode", "nip19-encode"},
		synopsis: "Encode keys, ids and pointers as NIP-19 bech32 strings",
		args:     "[flags] npub|nsec|note|nprofile|nevent|naddr <hex>",
		flags: func(fs *flag.FlagSet) builder {
			var relays stringList
			fs.Var(&relays, "relay", "relay hint (repeatable)")
			author := fs.String("author", "", "author public key for nevent")
			kind := fs.Int("kind", -1, "event kind for nevent and naddr")
			identifier := fs.String("d", "", "identifier (d tag) for naddr")

			return func(args []string) (dispatch.Action, error) {
				if len(args) != 2 {
					return nil, dispatch.Usagef("want an entity type and a value")
				}
				typ, value := strings.ToLower(args[0]), args[1]
				if int64(*kind) > math.MaxUint32 {
					return nil, dispatch.Usagef("-kind out of range")
				}

				var encode func() (string, error)
				switch typ {
				case nip19.PrefixPublicKey:
					encode = func() (string, error) {
						pk, err := keys.ParsePublicKey(value)
						if err != nil {
							return "", err
						}
						return nip19.EncodePublicKey(pk)
					}
				case nip19.PrefixSecretKey:
					encode = func() (string, error) {
						kp, err := keys.ParseSecret(value)
						if err != nil {
							return "", err
						}
						defer kp.Destroy()
						return kp.Secret().Bech32()
					}
				case nip19.PrefixNote:
					encode = func() (string, error) {
						id, err := parseEventID(value)
						if err != nil {
							return "", err
						}
						return nip19.EncodeNote(id)
					}
				case nip19.PrefixProfile:
					encode = func() (string, error) {
						pk, err := keys.ParsePublicKey(value)
						if err != nil {
							return "", err
						}
						return nip19.EncodeProfile(nip19.ProfilePointer{PublicKey: pk, Relays: relays})
					}
				case nip19.PrefixEvent:
					encode = func() (string, error) {
						id, err := parseEventID(value)
						if err != nil {
							return "", err
						}
						ptr := nip19.EventPointer{ID: id, Relays: relays}
						if *author != "" {
							pk, err := keys.ParsePublicKey(*author)
							if err != nil {
								return "", err
							}
							ptr.Author = &pk
						}
						if *kind >= 0 {
							k := uint32(*kind)
							ptr.Kind = &k
						}
						return nip19.EncodeEvent(ptr)
					}
				case nip19.PrefixAddress:
					if *kind < 0 {
						return nil, dispatch.Usagef("naddr needs -kind")
					}
					encode = func() (string, error) {
						pk, err := keys.ParsePublicKey(value)
						if err != nil {
							return "", err
						}
						return nip19.EncodeAddress(nip19.AddressPointer{
							Identifier: *identifier,
							PublicKey:  pk,
							Kind:       uint32(*kind),
							Relays:     relays,
						})
					}
				default:
					return nil, dispatch.Usagef("unknown entity type %q", args[0])
				}

				return func(ctx context.Context, env *dispatch.Env) (int, error) {
					s, err := encode()
					if err != nil {
						return 0, err
					}
					fmt.Fprintln(env.Stdout, s)
					return dispatch.ExitOK, nil
				}, nil
			}
		},
	}
}

type decoded struct {
	Type        string   `json:"type"`
	Hex         string   `json:"hex,omitempty"`
	ID          string   `json:"id,omitempty"`
	PubKey      string   `json:"pubkey,omitempty"`
	Author      string   `json:"author,omitempty"`
	Kind        *uint32  `json:"kind,omitempty"`
	Identifier  *string  `json:"identifier,omitempty"`
	Relays      []string `json:"relays,omitempty"`
	LogN        uint8    `json:"log_n,omitempty"`
	KeySecurity *uint8   `json:"key_security,omitempty"`
}

func describeEntity(ent nip19.Entity) (*decoded, error) {
	out := &decoded{Type: ent.Prefix}
	switch {
	case ent.Profile != nil:
		out.PubKey = hex.EncodeToString(ent.Profile.PublicKey[:])
		out.Relays = ent.Profile.Relays
	case ent.Event != nil:
		out.ID = hex.EncodeToString(ent.Event.ID[:])
		if ent.Event.Author != nil {
			out.Author = hex.EncodeToString(ent.Event.Author[:])
		}
		out.Kind = ent.Event.Kind
		out.Relays = ent.Event.Relays
	case ent.Address != nil:
		out.PubKey = hex.EncodeToString(ent.Address.PublicKey[:])
		out.Kind = &ent.Address.Kind
		out.Identifier = &ent.Address.Identifier
		out.Relays = ent.Address.Relays
	case ent.Prefix == nip19.PrefixEncryptedKey:
		enc, err := keys.UnmarshalEncryptedKey(ent.Data)
		if err != nil {
			return nil, err
		}
		ks := uint8(enc.KeySecurity)
		out.LogN = enc.LogN
		out.KeySecurity = &ks
	default:
		out.Hex = hex.EncodeToString(ent.Data)
	}
	return out, nil
}

func (a *App) decode() dispatch.Command {
	return &command{
		name:     "decode",
		aliases:  []string{"bech32-decode", "nip19-decode"},
		synopsis: "Decode NIP-19 strings to JSON, one per line",
		args:     "[flags] [entity...|-]",
		flags: func(fs *flag.FlagSet) builder {
			indent := fs.Bool("indent", false, "indent the JSON output")

			return func(args []string) (dispatch.Action, error) {
				return func(ctx context.Context, env *dispatch.Env) (int, error) {
					inputs := args
					if len(inputs) == 0 || (len(inputs) == 1 && inputs[0] == "-") {
						lines, err := a.newRun(env).lines()
						if err != nil {
							return 0, err
						}
						inputs = lines
					}
					if len(inputs) == 0 {
						return 0, dispatch.Usagef("nothing to decode")
					}

					for _, in := range inputs {
						ent, err := nip19.Decode(strings.TrimPrefix(strings.TrimSpace(in), "nostr:"))
						if err != nil {
							return 0, err
						}
						out, err := describeEntity(ent)
						if err != nil {
							return 0, err
						}
						if err := printJSON(env.Stdout, out, *indent); err != nil {
							return 0, err
						}
					}
					return dispatch.ExitOK, nil
				}, nil
			}
		},
	}
}
