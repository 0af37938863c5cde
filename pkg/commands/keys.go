package commands

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"nostrbox/pkg/config"
	"nostrbox/pkg/dispatch"
	"nostrbox/pkg/keys"
)

type keyOutput struct {
	Secret    string `json:"secret"`
	Nsec      string `json:"nsec"`
	PubKey    string `json:"pubkey"`
	Npub      string `json:"npub"`
	Mnemonic  string `json:"mnemonic,omitempty"`
	Ncryptsec string `json:"ncryptsec,omitempty"`
}

func describeKey(kp *keys.KeyPair) (*keyOutput, error) {
	nsec, err := kp.Secret().Bech32()
	if err != nil {
		return nil, err
	}
	npub, err := kp.Npub()
	if err != nil {
		return nil, err
	}
	return &keyOutput{Secret: kp.Secret().Hex(), Nsec: nsec, PubKey: kp.PublicHex(), Npub: npub}, nil
}

func logNFlag(fs *flag.FlagSet) *uint {
	return fs.Uint("log-n", 0, "scrypt cost as a power of two (1-22, default from config or 16)")
}

func checkLogN(n uint) error {
	if n > keys.MaxLogN {
		return dispatch.Usagef("-log-n must be between 1 and %d", keys.MaxLogN)
	}
	return nil
}

// encrypt seals kp under a new passphrase. A zero logN takes kdf_log_n from
// the config file.
func (r *run) encrypt(kp *keys.KeyPair, logN uint, security keys.KeySecurity) (string, error) {
	if logN == 0 {
		logN = keys.DefaultLogN
		if cfg, err := config.Load(); err == nil && cfg.KDFLogN > 0 && cfg.KDFLogN <= keys.MaxLogN {
			logN = uint(cfg.KDFLogN)
		}
	}
	pass, err := r.prompt.NewPassphrase("New passphrase")
	if err != nil {
		return "", err
	}
	enc, err := keys.Encrypt(kp, pass, keys.Params{LogN: uint8(logN), KeySecurity: security})
	if err != nil {
		return "", err
	}
	return enc.Bech32()
}

func (a *App) keygen() dispatch.Command {
	return &command{
		name:     "keygen",
		aliases:  []string{"gen-keys", "genkeys", "generate-keypair"},
		synopsis: "Generate a new key pair and print its secret",
		args:     "[flags]",
		flags: func(fs *flag.FlagSet) builder {
			asBech32 := fs.Bool("bech32", false, "print the secret as nsec")
			asJSON := fs.Bool("json", false, "print secret, public key and their bech32 forms as JSON")
			words := fs.Int("mnemonic", 0, "derive the key from a new BIP-39 mnemonic of `n` words (NIP-06)")
			encrypt := fs.Bool("encrypt", false, "print the secret as an ncryptsec (NIP-49)")
			save := fs.Bool("save", false, "store the key, encrypted, in the config file")
			logN := logNFlag(fs)

			return func(args []string) (dispatch.Action, error) {
				if err := maxArgs(args, 0); err != nil {
					return nil, err
				}
				if err := checkLogN(*logN); err != nil {
					return nil, err
				}
				if *words != 0 && (*words < 12 || *words > 24 || *words%3 != 0) {
					return nil, dispatch.Usagef("-mnemonic takes 12, 15, 18, 21 or 24 words")
				}

				return func(ctx context.Context, env *dispatch.Env) (int, error) {
					r := a.newRun(env)

					var (
						kp       *keys.KeyPair
						mnemonic string
						err      error
					)
					if *words > 0 {
						mnemonic, err = keys.NewMnemonic(*words)
						if err != nil {
							return 0, err
						}
						kp, err = keys.FromMnemonic(mnemonic, "", 0)
					} else {
						kp, err = keys.Generate()
					}
					if err != nil {
						return 0, err
					}
					defer kp.Destroy()

					out, err := describeKey(kp)
					if err != nil {
						return 0, err
					}
					out.Mnemonic = mnemonic

					if *encrypt || *save {
						// the plain secret is shown alongside in JSON output
						security := keys.KeySecure
						if *asJSON {
							security = keys.KeyInsecure
						}
						out.Ncryptsec, err = r.encrypt(kp, *logN, security)
						if err != nil {
							return 0, err
						}
					}
					if *save {
						if err := saveKey(out.Ncryptsec); err != nil {
							return 0, err
						}
						fmt.Fprintf(env.Stderr, "saved key for %s\n", out.Npub)
					}

					switch {
					case *asJSON:
						return dispatch.ExitOK, printJSON(env.Stdout, out, true)
					case mnemonic != "":
						fmt.Fprintln(env.Stdout, mnemonic)
					}
					switch {
					case *encrypt:
						fmt.Fprintln(env.Stdout, out.Ncryptsec)
					case *asBech32:
						fmt.Fprintln(env.Stdout, out.Nsec)
					case *save:
						fmt.Fprintln(env.Stdout, out.Npub)
					default:
						fmt.Fprintln(env.Stdout, out.Secret)
					}
					return dispatch.ExitOK, nil
				}, nil
			}
		},
	}
}

func saveKey(ncryptsec string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.AuthMethod = config.AuthNsec
	cfg.Nsec = ncryptsec
	return config.Save(cfg)
}

func (a *App) pubkey() dispatch.Command {
	return &command{
		name:     "pubkey",
		aliases:  []string{"derive-pubkey"},
		synopsis: "Print the public key of a secret key",
		args:     "[flags] [secret|-]",
		flags: func(fs *flag.FlagSet) builder {
			asBech32 := fs.Bool("bech32", false, "print the key as npub")
			mode := fs.String("signer", "", "key source: local or dbus (default from config)")

			return func(args []string) (dispatch.Action, error) {
				if err := maxArgs(args, 1); err != nil {
					return nil, err
				}
				if err := checkSignerMode(*mode); err != nil {
					return nil, err
				}
				secret := ""
				if len(args) == 1 {
					secret = args[0]
				}

				return func(ctx context.Context, env *dispatch.Env) (int, error) {
					s, err := a.newRun(env).signer(ctx, secret, *mode)
					if err != nil {
						return 0, err
					}
					defer s.Close()

					pk, err := s.PublicKey(ctx)
					if err != nil {
						return 0, err
					}
					if !*asBech32 {
						fmt.Fprintln(env.Stdout, pk)
						return dispatch.ExitOK, nil
					}
					npub, err := nip19EncodePub(pk)
					if err != nil {
						return 0, err
					}
					fmt.Fprintln(env.Stdout, npub)
					return dispatch.ExitOK, nil
				}, nil
			}
		},
	}
}

func securityFlag(fs *flag.FlagSet) *string {
	return fs.String("security", "unknown", "how the key was handled so far: secure, insecure or unknown")
}

func parseSecurity(s string) (keys.KeySecurity, error) {
	switch s {
	case "secure":
		return keys.KeySecure, nil
	case "insecure":
		return keys.KeyInsecure, nil
	case "unknown":
		return keys.KeyUnknown, nil
	}
	return 0, dispatch.Usagef("unknown -security %q", s)
}

func (a *App) encryptKey() dispatch.Command {
	return &command{
		name:     "encrypt-key",
		aliases:  []string{"ncryptsec"},
		synopsis: "Encrypt a secret key with a passphrase (NIP-49)",
		args:     "[flags] [secret|-]",
		flags: func(fs *flag.FlagSet) builder {
			logN := logNFlag(fs)
			security := securityFlag(fs)

			return func(args []string) (dispatch.Action, error) {
				if err := maxArgs(args, 1); err != nil {
					return nil, err
				}
				if err := checkLogN(*logN); err != nil {
					return nil, err
				}
				ks, err := parseSecurity(*security)
				if err != nil {
					return nil, err
				}
				secret := ""
				if len(args) == 1 {
					secret = args[0]
				}

				return func(ctx context.Context, env *dispatch.Env) (int, error) {
					r := a.newRun(env)
					kp, err := r.keyPair(secret)
					if err != nil {
						return 0, err
					}
					defer kp.Destroy()

					out, err := r.encrypt(kp, *logN, ks)
					if err != nil {
						return 0, err
					}
					fmt.Fprintln(env.Stdout, out)
					return dispatch.ExitOK, nil
				}, nil
			}
		},
	}
}

func (a *App) decryptKey() dispatch.Command {
	return &command{
		name:     "decrypt-key",
		synopsis: "Decrypt an ncryptsec and print the secret key (NIP-49)",
		args:     "[flags] [ncryptsec|-]",
		flags: func(fs *flag.FlagSet) builder {
			asBech32 := fs.Bool("bech32", false, "print the secret as nsec")

			return func(args []string) (dispatch.Action, error) {
				if err := maxArgs(args, 1); err != nil {
					return nil, err
				}
				arg := ""
				if len(args) == 1 {
					arg = args[0]
				}

				return func(ctx context.Context, env *dispatch.Env) (int, error) {
					r := a.newRun(env)
					text, err := r.secretText(arg)
					if err != nil {
						return 0, err
					}
					if !keys.IsEncrypted(text) {
						return 0, dispatch.Usagef("not an ncryptsec")
					}
					kp, err := r.keyPair(text)
					if err != nil {
						return 0, err
					}
					defer kp.Destroy()

					if !*asBech32 {
						fmt.Fprintln(env.Stdout, kp.Secret().Hex())
						return dispatch.ExitOK, nil
					}
					nsec, err := kp.Secret().Bech32()
					if err != nil {
						return 0, err
					}
					fmt.Fprintln(env.Stdout, nsec)
					return dispatch.ExitOK, nil
				}, nil
			}
		},
	}
}

func (a *App) mnemonicKey() dispatch.Command {
	return &command{
		name:     "mnemonic-key",
		aliases:  []string{"from-mnemonic"},
		synopsis: "Derive a key pair from a BIP-39 mnemonic (NIP-06)",
		args:     "[flags] [word...]",
		flags: func(fs *flag.FlagSet) builder {
			account := fs.Uint("account", 0, "account index in m/44'/1237'/<account>'/0/0")
			passphrase := fs.String("passphrase", "", "BIP-39 passphrase")
			asBech32 := fs.Bool("bech32", false, "print the secret as nsec")
			asJSON := fs.Bool("json", false, "print secret and public key as JSON")

			return func(args []string) (dispatch.Action, error) {
				if *account > 1<<31-1 {
					return nil, dispatch.Usagef("-account must be below 2^31")
				}
				words := strings.Join(args, " ")

				return func(ctx context.Context, env *dispatch.Env) (int, error) {
					r := a.newRun(env)
					mnemonic := words
					if mnemonic == "" {
						line, err := r.prompt.ReadLine()
						if err != nil {
							return 0, dispatch.Usagef("no mnemonic given")
						}
						mnemonic = line
					}
					mnemonic = strings.Join(strings.Fields(mnemonic), " ")

					kp, err := keys.FromMnemonic(mnemonic, *passphrase, uint32(*account))
					if err != nil {
						return 0, err
					}
					defer kp.Destroy()

					out, err := describeKey(kp)
					if err != nil {
						return 0, err
					}
					switch {
					case *asJSON:
						return dispatch.ExitOK, printJSON(env.Stdout, out, true)
					case *asBech32:
						fmt.Fprintln(env.Stdout, out.Nsec)
					default:
						fmt.Fprintln(env.Stdout, out.Secret)
					}
					return dispatch.ExitOK, nil
				}, nil
			}
		},
	}
}
