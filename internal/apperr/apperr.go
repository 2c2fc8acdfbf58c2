// Package apperr defines the error kinds surfaced to the user by tempwallet.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for display and for errors.Is matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindWalletNotConnected
	KindWrongNetwork
	KindSignerMismatch
	KindInvalidInput
	KindMissingConfiguration
	KindPayloadTooLarge
	KindMalformedDocument
	KindMalformedRecord
	KindNoWalletConnected
	KindNoMatchingAccount
	KindUpstreamFailure
)

var kindNames = map[Kind]string{
	KindUnknown:              "Unknown",
	KindWalletNotConnected:   "WalletNotConnected",
	KindWrongNetwork:         "WrongNetwork",
	KindSignerMismatch:       "SignerMismatch",
	KindInvalidInput:         "InvalidInput",
	KindMissingConfiguration: "MissingConfiguration",
	KindPayloadTooLarge:      "PayloadTooLarge",
	KindMalformedDocument:    "MalformedDocument",
	KindMalformedRecord:      "MalformedRecord",
	KindNoWalletConnected:    "NoWalletConnected",
	KindNoMatchingAccount:    "NoMatchingAccount",
	KindUpstreamFailure:      "UpstreamFailure",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sentinels for errors.Is. They carry no message so any *Error of the same
// kind matches them.
var (
	ErrWalletNotConnected   = &Error{Kind: KindWalletNotConnected}
	ErrWrongNetwork         = &Error{Kind: KindWrongNetwork}
	ErrSignerMismatch       = &Error{Kind: KindSignerMismatch}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrMissingConfiguration = &Error{Kind: KindMissingConfiguration}
	ErrPayloadTooLarge      = &Error{Kind: KindPayloadTooLarge}
	ErrMalformedDocument    = &Error{Kind: KindMalformedDocument}
	ErrMalformedRecord      = &Error{Kind: KindMalformedRecord}
	ErrNoWalletConnected    = &Error{Kind: KindNoWalletConnected}
	ErrNoMatchingAccount    = &Error{Kind: KindNoMatchingAccount}
	ErrUpstreamFailure      = &Error{Kind: KindUpstreamFailure}
)

// Error is a classified error with a user-facing message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. Targets with a
// message only match themselves.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Msg != "" || t.Err != nil {
		return e == t
	}
	return e.Kind == t.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
