package session

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/backkem/isogate/pkg/crypto"
	"github.com/backkem/isogate/pkg/iso8583"
	"github.com/backkem/isogate/pkg/keys"
	"github.com/backkem/isogate/pkg/tlv"
)

var (
	// ErrNoKeys is returned when a codec is created without a key manager.
	ErrNoKeys = errors.New("session: key manager required")

	// ErrNoBody is returned when packing a message without a body.
	ErrNoBody = errors.New("session: message has no body")
)

// Kind classifies gateway failures. The classification decides whether a
// failure is answered on the wire, ends the transaction or ends the
// connection.
type Kind byte

const (
	// KindUnknown is an unclassified failure.
	KindUnknown Kind = iota
	// KindTimeout means a peer stayed silent past the deadline.
	KindTimeout
	// KindDisconnectedFromSource means the source closed its connection.
	KindDisconnectedFromSource
	// KindDisconnectedFromDestination means the destination closed its
	// connection.
	KindDisconnectedFromDestination
	// KindSocketError is any other transport failure.
	KindSocketError
	// KindWrongSignature means the client signature or admin secret did not
	// verify.
	KindWrongSignature
	// KindWrongMAC means the payload MAC did not verify.
	KindWrongMAC
	// KindDeclined means the client is disabled.
	KindDeclined
	// KindNotLoggedOnBefore means a normal request arrived before logon.
	KindNotLoggedOnBefore
	// KindPackDataError means a message could not be packed or unpacked.
	KindPackDataError
	// KindMessageLengthError means a frame length was inconsistent.
	KindMessageLengthError
	// KindWrongConfiguration means the peers disagree on configuration.
	KindWrongConfiguration
	// KindInvalidNetworkIdentifier means no destination serves an NII.
	KindInvalidNetworkIdentifier
	// KindSslError is a TLS handshake or certificate failure.
	KindSslError
	// KindExceptionHandled means the peer was already answered and the
	// failure only needs to unwind.
	KindExceptionHandled
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindDisconnectedFromSource:
		return "DisconnectedFromSource"
	case KindDisconnectedFromDestination:
		return "DisconnectedFromDestination"
	case KindSocketError:
		return "SocketError"
	case KindWrongSignature:
		return "WrongSignature"
	case KindWrongMAC:
		return "WrongMAC"
	case KindDeclined:
		return "Declined"
	case KindNotLoggedOnBefore:
		return "NotLoggedOnBefore"
	case KindPackDataError:
		return "PackDataError"
	case KindMessageLengthError:
		return "MessageLengthError"
	case KindWrongConfiguration:
		return "WrongConfiguration"
	case KindInvalidNetworkIdentifier:
		return "InvalidNetworkIdentifier"
	case KindSslError:
		return "SslError"
	case KindExceptionHandled:
		return "ExceptionHandled"
	default:
		return "Unknown"
	}
}

// IsConnectionLost reports whether the kind means a transport is gone.
func (k Kind) IsConnectionLost() bool {
	switch k {
	case KindDisconnectedFromSource, KindDisconnectedFromDestination, KindSocketError, KindSslError:
		return true
	}
	return false
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := "session: " + e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches kind sentinels such as ErrWrongMAC.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrTimeout                     = &Error{Kind: KindTimeout}
	ErrDisconnectedFromSource      = &Error{Kind: KindDisconnectedFromSource}
	ErrDisconnectedFromDestination = &Error{Kind: KindDisconnectedFromDestination}
	ErrSocketError                 = &Error{Kind: KindSocketError}
	ErrWrongSignature              = &Error{Kind: KindWrongSignature}
	ErrWrongMAC                    = &Error{Kind: KindWrongMAC}
	ErrDeclined                    = &Error{Kind: KindDeclined}
	ErrNotLoggedOnBefore           = &Error{Kind: KindNotLoggedOnBefore}
	ErrPackDataError               = &Error{Kind: KindPackDataError}
	ErrMessageLengthError          = &Error{Kind: KindMessageLengthError}
	ErrWrongConfiguration          = &Error{Kind: KindWrongConfiguration}
	ErrInvalidNetworkIdentifier    = &Error{Kind: KindInvalidNetworkIdentifier}
	ErrSslError                    = &Error{Kind: KindSslError}
	ErrExceptionHandled            = &Error{Kind: KindExceptionHandled}
)

// Errorf returns a classified error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err returns nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf classifies err. Classified errors keep their kind; key, codec and
// deadline errors from other packages are mapped to the matching kind.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, keys.ErrDeclined):
		return KindDeclined
	case errors.Is(err, keys.ErrUnknownClient):
		return KindNotLoggedOnBefore
	case errors.Is(err, keys.ErrWrongSignature):
		return KindWrongSignature
	case errors.Is(err, keys.ErrWrongMAC):
		return KindWrongMAC
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimeout
	case isCodecError(err):
		return KindPackDataError
	}
	return KindUnknown
}

// Classify returns err as an *Error, keeping an existing classification.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindOf(err), Err: err}
}

func isCodecError(err error) bool {
	var fe *iso8583.FieldError
	if errors.As(err, &fe) {
		return true
	}
	for _, target := range []error{
		iso8583.ErrFieldLengthExceeded, iso8583.ErrInvalidMTI, iso8583.ErrInvalidBitmap,
		iso8583.ErrInsufficientData, iso8583.ErrTrailingData, iso8583.ErrInvalidTPDU,
		tlv.ErrUnexpectedEOF, tlv.ErrEmptyValue, tlv.ErrOutOfOrder, tlv.ErrTagNotFound,
		tlv.ErrTypeMismatch, crypto.ErrNotBlockAligned,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
