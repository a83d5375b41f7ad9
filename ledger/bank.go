package ledger

import (
	"github.com/ahmadzakiakmal/estatechain/errs"
	"github.com/ahmadzakiakmal/estatechain/state"
)

// Account is the public view of an address's balance and nonce.
type Account struct {
	Address Address `json:"address"`
	Balance Amount  `json:"balance"`
	Nonce   uint64  `json:"nonce"`
}

// Bank keeps balances and nonces. It holds no state of its own; every call
// reads and writes the store it is given.
type Bank struct{}

func NewBank() *Bank {
	return &Bank{}
}

func balanceKey(addr Address) []byte {
	return state.Key("balance", string(addr))
}

func nonceKey(addr Address) []byte {
	return state.Key("nonce", string(addr))
}

// Balance returns the balance of addr.
func (b *Bank) Balance(r state.Reader, addr Address) (Amount, error) {
	var bal Amount
	found, err := state.GetJSON(r, balanceKey(addr), &bal)
	if err != nil {
		return Zero, err
	}
	if !found {
		return Zero, nil
	}
	return bal, nil
}

func (b *Bank) setBalance(s state.Store, addr Address, bal Amount) error {
	if bal.IsZero() {
		return s.Delete(balanceKey(addr))
	}
	return state.SetJSON(s, balanceKey(addr), bal)
}

// Credit adds amount to addr.
func (b *Bank) Credit(s state.Store, addr Address, amount Amount) error {
	if err := ValidateAmount(amount); err != nil {
		return errs.New(errs.InvalidInput, "%v", err)
	}
	bal, err := b.Balance(s, addr)
	if err != nil {
		return err
	}
	return b.setBalance(s, addr, bal.Add(amount))
}

// Debit removes amount from addr, failing with InsufficientFunds when the
// balance is too small.
func (b *Bank) Debit(s state.Store, addr Address, amount Amount) error {
	if err := ValidateAmount(amount); err != nil {
		return errs.New(errs.InvalidInput, "%v", err)
	}
	bal, err := b.Balance(s, addr)
	if err != nil {
		return err
	}
	if bal.LessThan(amount) {
		return errs.New(errs.InsufficientFunds, "account %s holds %s wei, needs %s", addr, bal, amount)
	}
	return b.setBalance(s, addr, bal.Sub(amount))
}

// Transfer moves amount from one account to another. The sender is debited
// before the receiver is credited.
func (b *Bank) Transfer(s state.Store, from, to Address, amount Amount) error {
	if amount.IsZero() {
		return nil
	}
	if err := b.Debit(s, from, amount); err != nil {
		return err
	}
	return b.Credit(s, to, amount)
}

// Payout sends amount held in escrow to addr.
func (b *Bank) Payout(s state.Store, to Address, amount Amount) error {
	return b.Transfer(s, EscrowAddress, to, amount)
}

// Nonce returns the next expected nonce of addr.
func (b *Bank) Nonce(r state.Reader, addr Address) (uint64, error) {
	raw, err := r.Get(nonceKey(addr))
	if err != nil {
		return 0, err
	}
	return state.BytesToUint64(raw), nil
}

// IncrementNonce advances the nonce of addr by one.
func (b *Bank) IncrementNonce(s state.Store, addr Address) error {
	n, err := b.Nonce(s, addr)
	if err != nil {
		return err
	}
	return s.Set(nonceKey(addr), state.Uint64ToBytes(n+1))
}

// Account returns the balance and nonce of addr.
func (b *Bank) Account(r state.Reader, addr Address) (Account, error) {
	bal, err := b.Balance(r, addr)
	if err != nil {
		return Account{}, err
	}
	nonce, err := b.Nonce(r, addr)
	if err != nil {
		return Account{}, err
	}
	return Account{Address: addr, Balance: bal, Nonce: nonce}, nil
}
