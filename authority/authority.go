// Package authority ties the registry, auction, sale and lease engines into
// the single state machine that executes signed transactions.
package authority

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ahmadzakiakmal/estatechain/auction"
	"github.com/ahmadzakiakmal/estatechain/errs"
	"github.com/ahmadzakiakmal/estatechain/events"
	"github.com/ahmadzakiakmal/estatechain/lease"
	"github.com/ahmadzakiakmal/estatechain/ledger"
	"github.com/ahmadzakiakmal/estatechain/registry"
	"github.com/ahmadzakiakmal/estatechain/sale"
	"github.com/ahmadzakiakmal/estatechain/state"
	"github.com/ahmadzakiakmal/estatechain/tx"
)

// Authority owns the engines. It keeps no state between calls; everything
// lives in the store passed to Execute.
type Authority struct {
	Bank     *ledger.Bank
	Registry *registry.Registry
	Sales    *sale.Engine
	Auctions *auction.Engine
	Leases   *lease.Engine
}

func New() *Authority {
	bank := ledger.NewBank()
	reg := registry.New()
	sales := sale.New(reg, bank)
	return &Authority{
		Bank:     bank,
		Registry: reg,
		Sales:    sales,
		Auctions: auction.New(reg, bank, sales),
		Leases:   lease.New(reg, bank),
	}
}

// Block is the context a transaction executes in.
type Block struct {
	Height int64
	Time   time.Time
}

// Outcome is what a successful command produced.
type Outcome struct {
	Data   []byte
	Events []events.Event
}

// Payload shapes of commands that only name an entity.
type (
	PropertyRef struct {
		PropertyID uint64 `json:"property_id"`
	}
	LeaseRef struct {
		LeaseID uint64 `json:"lease_id"`
	}
	ChangeNotaryMsg struct {
		NewNotary ledger.Address `json:"new_notary"`
	}
	TransferMsg struct {
		To ledger.Address `json:"to"`
	}
)

// CheckNonce verifies signature and that the nonce has not been used yet.
// Nonces ahead of the committed one are allowed so that a sender can queue
// several txs in one block.
func (a *Authority) CheckNonce(r state.Reader, t *tx.Tx) error {
	if err := t.Verify(); err != nil {
		return err
	}
	expected, err := a.Bank.Nonce(r, t.Sender)
	if err != nil {
		return err
	}
	if t.Nonce < expected {
		return errs.New(errs.BadNonce, "nonce %d already used, next is %d", t.Nonce, expected)
	}
	return nil
}

// Execute runs one transaction against store. A tx with a bad signature or
// nonce changes nothing. Otherwise the sender's nonce is consumed, and the
// command's writes are applied only if it succeeds.
func (a *Authority) Execute(store state.Store, t *tx.Tx, blk Block) (*Outcome, error) {
	if err := t.Verify(); err != nil {
		return nil, err
	}
	expected, err := a.Bank.Nonce(store, t.Sender)
	if err != nil {
		return nil, err
	}
	if t.Nonce != expected {
		return nil, errs.New(errs.BadNonce, "expected nonce %d, got %d", expected, t.Nonce)
	}
	if err := a.Bank.IncrementNonce(store, t.Sender); err != nil {
		return nil, err
	}

	cache := state.NewCache(store)
	ctx := ledger.NewContext(cache, t.Sender, t.Value, blk.Time, blk.Height)
	if !t.Value.IsZero() {
		if err := a.Bank.Transfer(cache, t.Sender, ledger.EscrowAddress, t.Value); err != nil {
			return nil, err
		}
	}

	result, err := a.dispatch(ctx, t.Msg)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding %s result: %w", t.Msg.Type, err)
	}
	if err := cache.Write(); err != nil {
		return nil, fmt.Errorf("applying %s: %w", t.Msg.Type, err)
	}
	return &Outcome{Data: data, Events: ctx.Events.Events()}, nil
}

type idResult struct {
	ID uint64 `json:"id"`
}

type amountResult struct {
	Amount ledger.Amount `json:"amount"`
}

func (a *Authority) dispatch(ctx *ledger.Context, msg tx.Msg) (any, error) {
	switch msg.Type {
	case tx.TypeRegisterProperty:
		var in registry.RegisterInput
		if err := msg.DecodePayload(&in); err != nil {
			return nil, err
		}
		id, err := a.Registry.Register(ctx, in)
		return idResult{id}, err

	case tx.TypeApproveProperty, tx.TypeRejectProperty:
		var ref PropertyRef
		if err := msg.DecodePayload(&ref); err != nil {
			return nil, err
		}
		if msg.Type == tx.TypeApproveProperty {
			return idResult{ref.PropertyID}, a.Registry.Approve(ctx, ref.PropertyID)
		}
		return idResult{ref.PropertyID}, a.Registry.Reject(ctx, ref.PropertyID)

	case tx.TypeChangeNotary:
		var in ChangeNotaryMsg
		if err := msg.DecodePayload(&in); err != nil {
			return nil, err
		}
		return in, a.Registry.ChangeNotary(ctx, in.NewNotary)

	case tx.TypeStartAuction:
		var in auction.StartInput
		if err := msg.DecodePayload(&in); err != nil {
			return nil, err
		}
		return idResult{in.PropertyID}, a.Auctions.Start(ctx, in)

	case tx.TypePlaceBid, tx.TypeEndAuction, tx.TypeCancelAuction, tx.TypeWithdrawBid:
		var ref PropertyRef
		if err := msg.DecodePayload(&ref); err != nil {
			return nil, err
		}
		switch msg.Type {
		case tx.TypePlaceBid:
			return idResult{ref.PropertyID}, a.Auctions.PlaceBid(ctx, ref.PropertyID)
		case tx.TypeEndAuction:
			return idResult{ref.PropertyID}, a.Auctions.End(ctx, ref.PropertyID)
		case tx.TypeCancelAuction:
			return idResult{ref.PropertyID}, a.Auctions.Cancel(ctx, ref.PropertyID)
		default:
			amount, err := a.Auctions.Withdraw(ctx, ref.PropertyID)
			return amountResult{amount}, err
		}

	case tx.TypeListForSale:
		var in sale.ListInput
		if err := msg.DecodePayload(&in); err != nil {
			return nil, err
		}
		return idResult{in.PropertyID}, a.Sales.List(ctx, in)

	case tx.TypeCancelSale, tx.TypePurchaseProperty:
		var ref PropertyRef
		if err := msg.DecodePayload(&ref); err != nil {
			return nil, err
		}
		if msg.Type == tx.TypeCancelSale {
			return idResult{ref.PropertyID}, a.Sales.Cancel(ctx, ref.PropertyID)
		}
		saleID, err := a.Sales.Purchase(ctx, ref.PropertyID)
		return idResult{saleID}, err

	case tx.TypeCreateLease:
		var in lease.CreateInput
		if err := msg.DecodePayload(&in); err != nil {
			return nil, err
		}
		id, err := a.Leases.Create(ctx, in)
		return idResult{id}, err

	case tx.TypeRenewLease:
		var in lease.RenewInput
		if err := msg.DecodePayload(&in); err != nil {
			return nil, err
		}
		id, err := a.Leases.Renew(ctx, in)
		return idResult{id}, err

	case tx.TypeTerminateLease:
		var ref LeaseRef
		if err := msg.DecodePayload(&ref); err != nil {
			return nil, err
		}
		return idResult{ref.LeaseID}, a.Leases.Terminate(ctx, ref.LeaseID)

	case tx.TypeMakePayment:
		var in lease.PayInput
		if err := msg.DecodePayload(&in); err != nil {
			return nil, err
		}
		id, err := a.Leases.Pay(ctx, in)
		return idResult{id}, err

	case tx.TypeTransfer:
		var in TransferMsg
		if err := msg.DecodePayload(&in); err != nil {
			return nil, err
		}
		return amountResult{ctx.Value}, a.transfer(ctx, in.To)
	}
	return nil, errs.New(errs.InvalidInput, "unknown message type %q", msg.Type)
}

func (a *Authority) transfer(ctx *ledger.Context, to ledger.Address) error {
	if !to.Valid() || to == ledger.EscrowAddress {
		return errs.New(errs.InvalidInput, "invalid recipient %q", to)
	}
	if !ctx.Value.IsPositive() {
		return errs.New(errs.InvalidInput, "transfer needs a positive value")
	}
	if err := a.Bank.Payout(ctx.Store, to, ctx.Value); err != nil {
		return err
	}
	ctx.Emit(events.TypeTransfer, "from", ctx.Sender, "to", to, "amount", ctx.Value)
	return nil
}
