package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cometbft/cometbft/crypto"
)

// Address identifies an account: the uppercase hex form of a CometBFT
// public key address.
type Address string

// ZeroAddress is the "no account" sentinel, e.g. an auction without bids.
const ZeroAddress Address = ""

// EscrowAddress is the authority's own custody account. Attached value is
// held here until it is paid out or withdrawn.
var EscrowAddress = AddressFromBytes(crypto.AddressHash([]byte("estatechain/escrow")))

// AddressFromBytes converts raw address bytes.
func AddressFromBytes(b []byte) Address {
	return Address(strings.ToUpper(hex.EncodeToString(b)))
}

// maxAddressText is the longest text form of an address: 0x plus the hex.
const maxAddressText = 2 + 2*crypto.AddressSize

// ParseAddress normalizes and validates a hex address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 2*crypto.AddressSize {
		return ZeroAddress, fmt.Errorf("invalid address: want %d hex characters, got %d", 2*crypto.AddressSize, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ZeroAddress, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(raw) != crypto.AddressSize {
		return ZeroAddress, fmt.Errorf("invalid address %q: want %d bytes, got %d", s, crypto.AddressSize, len(raw))
	}
	return AddressFromBytes(raw), nil
}

// IsZero reports whether a is the sentinel.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Valid reports whether a is a well-formed non-zero address.
func (a Address) Valid() bool {
	if a.IsZero() {
		return false
	}
	parsed, err := ParseAddress(string(a))
	return err == nil && parsed == a
}

func (a Address) String() string {
	if a.IsZero() {
		return "none"
	}
	return string(a)
}

// UnmarshalJSON accepts any hex casing and an optional 0x prefix. Short
// strings that are not addresses are kept verbatim so that Valid reports
// them; longer ones are rejected outright.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = ZeroAddress
		return nil
	}
	if len(s) > maxAddressText {
		return fmt.Errorf("address is %d characters, want at most %d", len(s), maxAddressText)
	}
	if parsed, err := ParseAddress(s); err == nil {
		*a = parsed
		return nil
	}
	*a = Address(s)
	return nil
}
