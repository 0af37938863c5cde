package commands

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"

	"nostrbox/pkg/bech32"
	"nostrbox/pkg/dispatch"
	"nostrbox/pkg/event"
	"nostrbox/pkg/keys"
	"nostrbox/pkg/nip19"
	"nostrbox/pkg/relay"
	"nostrbox/pkg/signer"
	"nostrbox/pkg/tui"
)

var (
	encodingErrors = []error{
		bech32.ErrMixedCase,
		bech32.ErrInvalidCharacter,
		bech32.ErrInvalidChecksum,
		bech32.ErrInvalidLength,
		bech32.ErrTooLong,
		bech32.ErrInvalidPadding,
		bech32.ErrWrongVariant,
		nip19.ErrUnknownPrefix,
		nip19.ErrTruncatedPayload,
		nip19.ErrTLVFieldOverrun,
		nip19.ErrInvalidLength,
		nip19.ErrMissingField,
		nip19.ErrFieldTooLong,
		event.ErrMalformed,
		keys.ErrMalformedEncrypted,
		keys.ErrUnsupportedVersion,
		keys.ErrInvalidPublic,
		keys.ErrMnemonic,
		hex.ErrLength,
	}
	cryptoErrors = []error{
		keys.ErrEntropy,
		keys.ErrDecryption,
		keys.ErrInvalidSecret,
		keys.ErrInvalidKDFParameter,
		event.ErrIDMismatch,
		event.ErrBadSignature,
		event.ErrKeyMismatch,
		signer.ErrRefused,
		signer.ErrNotReady,
		tui.ErrMismatch,
	}
)

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// Classify maps an error returned by a command to its exit code
func Classify(err error) int {
	var (
		invalidByte hex.InvalidByteError
		syntax      *json.SyntaxError
		usage       *dispatch.UsageError
	)

	switch {
	case err == nil:
		return dispatch.ExitOK
	case errors.As(err, &usage):
		return dispatch.ExitUsage
	case errors.Is(err, relay.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return dispatch.ExitTimeout
	case errors.Is(err, relay.ErrConnection):
		return dispatch.ExitConnection
	case errors.Is(err, relay.ErrProtocol):
		return dispatch.ExitProtocol
	case isAny(err, cryptoErrors):
		return dispatch.ExitCrypto
	case isAny(err, encodingErrors), errors.As(err, &invalidByte), errors.As(err, &syntax):
		return dispatch.ExitEncoding
	}
	return dispatch.ExitFailure
}
