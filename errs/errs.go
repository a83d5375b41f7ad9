// Package errs defines the failure kinds surfaced by the authority. Every
// command fails with exactly one kind; the ABCI layer turns the kind into a
// stable result code.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failed command.
type Kind string

const (
	Unauthorized      Kind = "UNAUTHORIZED"
	NotFound          Kind = "NOT_FOUND"
	InvalidInput      Kind = "INVALID_INPUT"
	InvalidState      Kind = "INVALID_STATE"
	BidTooLow         Kind = "BID_TOO_LOW"
	WrongAmount       Kind = "WRONG_AMOUNT"
	AlreadyDecided    Kind = "ALREADY_DECIDED"
	NothingToWithdraw Kind = "NOTHING_TO_WITHDRAW"
	SelfDealing       Kind = "SELF_DEALING"
	NotForSale        Kind = "NOT_FOR_SALE"
	SelfPurchase      Kind = "SELF_PURCHASE"
	InsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	BadNonce          Kind = "BAD_NONCE"
	BadSignature      Kind = "BAD_SIGNATURE"
	Internal          Kind = "INTERNAL"
)

// codes are part of the wire contract, never renumber.
var codes = map[Kind]uint32{
	Unauthorized:      1,
	NotFound:          2,
	InvalidInput:      3,
	InvalidState:      4,
	BidTooLow:         5,
	WrongAmount:       6,
	AlreadyDecided:    7,
	NothingToWithdraw: 8,
	SelfDealing:       9,
	NotForSale:        10,
	SelfPurchase:      11,
	InsufficientFunds: 12,
	BadNonce:          13,
	BadSignature:      14,
	Internal:          99,
}

// Error is a domain failure carrying its kind.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or Internal for errors that did not
// originate in the domain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Code maps a kind to its ABCI result code.
func Code(kind Kind) uint32 {
	if c, ok := codes[kind]; ok {
		return c
	}
	return codes[Internal]
}

// FromCode is the inverse of Code. Unknown codes map to Internal.
func FromCode(code uint32) Kind {
	for k, c := range codes {
		if c == code {
			return k
		}
	}
	return Internal
}
