// Package sale implements fixed-price listings and the append-only transfer
// history shared with auction settlement.
package sale

import (
	"github.com/ahmadzakiakmal/estatechain/errs"
	"github.com/ahmadzakiakmal/estatechain/events"
	"github.com/ahmadzakiakmal/estatechain/ledger"
	"github.com/ahmadzakiakmal/estatechain/registry"
	"github.com/ahmadzakiakmal/estatechain/state"
)

const saleSeq = "sale"

func saleKey(id uint64) []byte {
	return state.Key("sale", id)
}

func historyKey(propertyID uint64) []byte {
	return state.Key("history", propertyID)
}

// Sale is one entry of a property's ownership history.
type Sale struct {
	ID         uint64         `json:"id"`
	PropertyID uint64         `json:"propertyId"`
	Seller     ledger.Address `json:"seller"`
	Buyer      ledger.Address `json:"buyer"`
	SalePrice  ledger.Amount  `json:"salePrice"`
	Timestamp  int64          `json:"timestamp"`
}

type Engine struct {
	registry *registry.Registry
	bank     *ledger.Bank
}

func New(reg *registry.Registry, bank *ledger.Bank) *Engine {
	return &Engine{registry: reg, bank: bank}
}

// ListInput is the payload of listPropertyForSale.
type ListInput struct {
	PropertyID uint64        `json:"property_id"`
	Price      ledger.Amount `json:"price"`
}

// List puts a free property up for sale at a fixed price.
func (e *Engine) List(ctx *ledger.Context, in ListInput) error {
	if err := ctx.RequireNoValue(); err != nil {
		return err
	}
	if err := ledger.ValidateAmount(in.Price); err != nil || !in.Price.IsPositive() {
		return errs.New(errs.InvalidInput, "sale price must be a positive number of wei")
	}
	p, err := e.registry.RequireTradable(ctx.Store, in.PropertyID, ctx.Sender)
	if err != nil {
		return err
	}
	if err := e.registry.Encumber(ctx.Store, p, registry.ForSale{Price: in.Price}); err != nil {
		return err
	}
	ctx.Emit(events.TypePropertyListed, "propertyId", p.ID, "seller", p.Owner, "price", in.Price)
	return nil
}

// Cancel withdraws a listing. Owner only.
func (e *Engine) Cancel(ctx *ledger.Context, propertyID uint64) error {
	if err := ctx.RequireNoValue(); err != nil {
		return err
	}
	p, err := e.registry.Load(ctx.Store, propertyID)
	if err != nil {
		return err
	}
	if p.Owner != ctx.Sender {
		return errs.New(errs.Unauthorized, "caller does not own property %d", propertyID)
	}
	if _, ok := p.Encumbrance.(registry.ForSale); !ok {
		return errs.New(errs.NotForSale, "property %d is not for sale", propertyID)
	}
	if err := e.registry.Release(ctx.Store, p); err != nil {
		return err
	}
	ctx.Emit(events.TypeSaleCancelled, "propertyId", p.ID, "seller", p.Owner)
	return nil
}

// Purchase buys a listed property. The attached value, already held in
// escrow, must equal the asking price.
func (e *Engine) Purchase(ctx *ledger.Context, propertyID uint64) (uint64, error) {
	p, err := e.registry.Load(ctx.Store, propertyID)
	if err != nil {
		return 0, err
	}
	listing, ok := p.Encumbrance.(registry.ForSale)
	if !ok {
		return 0, errs.New(errs.NotForSale, "property %d is not for sale", propertyID)
	}
	if p.Owner == ctx.Sender {
		return 0, errs.New(errs.SelfPurchase, "caller already owns property %d", propertyID)
	}
	if !ctx.Value.Equal(listing.Price) {
		return 0, errs.New(errs.WrongAmount, "property %d costs %s wei, got %s", propertyID, listing.Price, ctx.Value)
	}

	seller := p.Owner
	if err := e.registry.TransferOwnership(ctx.Store, p, ctx.Sender); err != nil {
		return 0, err
	}
	saleID, err := e.Record(ctx.Store, p.ID, seller, ctx.Sender, listing.Price, ctx.Now())
	if err != nil {
		return 0, err
	}
	if err := e.bank.Payout(ctx.Store, seller, listing.Price); err != nil {
		return 0, err
	}

	ctx.Emit(events.TypePropertySold,
		"propertyId", p.ID,
		"saleId", saleID,
		"seller", seller,
		"buyer", ctx.Sender,
		"price", listing.Price,
	)
	return saleID, nil
}

// Record appends a completed transfer to the property's history.
func (e *Engine) Record(s state.Store, propertyID uint64, seller, buyer ledger.Address, price ledger.Amount, ts int64) (uint64, error) {
	id, err := state.NextSeq(s, saleSeq)
	if err != nil {
		return 0, err
	}
	rec := Sale{
		ID:         id,
		PropertyID: propertyID,
		Seller:     seller,
		Buyer:      buyer,
		SalePrice:  price,
		Timestamp:  ts,
	}
	if err := state.SetJSON(s, saleKey(id), rec); err != nil {
		return 0, err
	}
	if err := state.AddID(s, historyKey(propertyID), id); err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns a sale record or NotFound.
func (e *Engine) Get(r state.Reader, id uint64) (*Sale, error) {
	var rec Sale
	found, err := state.GetJSON(r, saleKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.New(errs.NotFound, "sale %d not found", id)
	}
	return &rec, nil
}

// History returns the property's transfers, oldest first.
func (e *Engine) History(r state.Reader, propertyID uint64) ([]Sale, error) {
	if _, err := e.registry.Load(r, propertyID); err != nil {
		return nil, err
	}
	ids, err := state.IDs(r, historyKey(propertyID))
	if err != nil {
		return nil, err
	}
	out := make([]Sale, 0, len(ids))
	for _, id := range ids {
		rec, err := e.Get(r, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}
