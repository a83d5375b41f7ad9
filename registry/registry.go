// Package registry owns the canonical property records and the notary role.
// The auction, sale and lease engines never write a property directly; they
// go through Encumber, Release and TransferOwnership.
package registry

import (
	"strings"

	"github.com/ahmadzakiakmal/estatechain/errs"
	"github.com/ahmadzakiakmal/estatechain/events"
	"github.com/ahmadzakiakmal/estatechain/ledger"
	"github.com/ahmadzakiakmal/estatechain/state"
)

const propertySeq = "property"

var (
	notaryKey  = state.Key("notary")
	pendingKey = state.Key("properties", "pending")
	saleIdxKey = state.Key("properties", "for_sale")
	auctionKey = state.Key("properties", "on_auction")
)

func propertyKey(id uint64) []byte {
	return state.Key("property", id)
}

func ownerKey(owner ledger.Address) []byte {
	return state.Key("owner", string(owner))
}

// Registry is the PropertyRegistry together with the NotaryAuthority.
type Registry struct{}

func New() *Registry {
	return &Registry{}
}

// RegisterInput describes a new property.
type RegisterInput struct {
	Address      string `json:"address"`
	Size         uint64 `json:"size"`
	PropertyType string `json:"property_type"`
	DocumentHash string `json:"document_hash"`
}

// Register creates a pending property owned by the caller.
func (r *Registry) Register(ctx *ledger.Context, in RegisterInput) (uint64, error) {
	if err := ctx.RequireNoValue(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(in.Address) == "" {
		return 0, errs.New(errs.InvalidInput, "property address is required")
	}
	if strings.TrimSpace(in.PropertyType) == "" {
		return 0, errs.New(errs.InvalidInput, "property type is required")
	}
	if in.Size == 0 {
		return 0, errs.New(errs.InvalidInput, "property size must be positive")
	}

	id, err := state.NextSeq(ctx.Store, propertySeq)
	if err != nil {
		return 0, err
	}
	p := &Property{
		ID:           id,
		Owner:        ctx.Sender,
		Address:      in.Address,
		Size:         in.Size,
		PropertyType: in.PropertyType,
		DocumentHash: in.DocumentHash,
		IsActive:     true,
		Review:       ReviewPending,
		Encumbrance:  Free{},
		CreatedAt:    ctx.Now(),
	}
	if err := r.save(ctx.Store, p); err != nil {
		return 0, err
	}
	if err := state.AddID(ctx.Store, ownerKey(p.Owner), id); err != nil {
		return 0, err
	}
	if err := state.AddID(ctx.Store, pendingKey, id); err != nil {
		return 0, err
	}

	ctx.Emit(events.TypePropertyRegistered, "propertyId", id, "owner", p.Owner)
	return id, nil
}

// Approve marks a pending property approved. Notary only.
func (r *Registry) Approve(ctx *ledger.Context, id uint64) error {
	p, err := r.decide(ctx, id)
	if err != nil {
		return err
	}
	p.Review = ReviewApproved
	if err := r.save(ctx.Store, p); err != nil {
		return err
	}
	if err := state.RemoveID(ctx.Store, pendingKey, id); err != nil {
		return err
	}
	ctx.Emit(events.TypePropertyApproved, "propertyId", id, "notary", ctx.Sender)
	return nil
}

// Reject deactivates a pending property. Notary only.
func (r *Registry) Reject(ctx *ledger.Context, id uint64) error {
	p, err := r.decide(ctx, id)
	if err != nil {
		return err
	}
	p.Review = ReviewRejected
	p.IsActive = false
	if err := r.save(ctx.Store, p); err != nil {
		return err
	}
	if err := state.RemoveID(ctx.Store, pendingKey, id); err != nil {
		return err
	}
	ctx.Emit(events.TypePropertyRejected, "propertyId", id, "notary", ctx.Sender)
	return nil
}

func (r *Registry) decide(ctx *ledger.Context, id uint64) (*Property, error) {
	if err := ctx.RequireNoValue(); err != nil {
		return nil, err
	}
	if err := r.RequireNotary(ctx.Store, ctx.Sender); err != nil {
		return nil, err
	}
	p, err := r.Load(ctx.Store, id)
	if err != nil {
		return nil, err
	}
	if p.Review != ReviewPending {
		return nil, errs.New(errs.AlreadyDecided, "property %d is already %s", id, p.Review)
	}
	return p, nil
}

// Notary returns the current notary.
func (r *Registry) Notary(rd state.Reader) (ledger.Address, error) {
	raw, err := rd.Get(notaryKey)
	if err != nil {
		return ledger.ZeroAddress, err
	}
	return ledger.Address(raw), nil
}

// SetNotary installs the notary at genesis.
func (r *Registry) SetNotary(s state.Store, notary ledger.Address) error {
	if !notary.Valid() {
		return errs.New(errs.InvalidInput, "invalid notary address %q", notary)
	}
	return s.Set(notaryKey, []byte(notary))
}

// RequireNotary fails with Unauthorized unless caller is the notary.
func (r *Registry) RequireNotary(rd state.Reader, caller ledger.Address) error {
	notary, err := r.Notary(rd)
	if err != nil {
		return err
	}
	if notary.IsZero() || caller != notary {
		return errs.New(errs.Unauthorized, "only the notary may do this")
	}
	return nil
}

// ChangeNotary hands the notary role to next. Current notary only.
func (r *Registry) ChangeNotary(ctx *ledger.Context, next ledger.Address) error {
	if err := ctx.RequireNoValue(); err != nil {
		return err
	}
	if err := r.RequireNotary(ctx.Store, ctx.Sender); err != nil {
		return err
	}
	if !next.Valid() {
		return errs.New(errs.InvalidInput, "invalid notary address %q", next)
	}
	if err := ctx.Store.Set(notaryKey, []byte(next)); err != nil {
		return err
	}
	ctx.Emit(events.TypeNotaryChanged, "previous", ctx.Sender, "next", next)
	return nil
}

// Load returns the property or NotFound.
func (r *Registry) Load(rd state.Reader, id uint64) (*Property, error) {
	var p Property
	found, err := state.GetJSON(rd, propertyKey(id), &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.New(errs.NotFound, "property %d not found", id)
	}
	return &p, nil
}

func (r *Registry) save(s state.Store, p *Property) error {
	return state.SetJSON(s, propertyKey(p.ID), p)
}

// RequireTradable loads a property the caller owns and that is active,
// approved and unencumbered.
func (r *Registry) RequireTradable(rd state.Reader, id uint64, caller ledger.Address) (*Property, error) {
	p, err := r.Load(rd, id)
	if err != nil {
		return nil, err
	}
	if p.Owner != caller {
		return nil, errs.New(errs.Unauthorized, "caller does not own property %d", id)
	}
	if !p.IsActive {
		return nil, errs.New(errs.InvalidState, "property %d is not active", id)
	}
	if !p.IsApproved() {
		return nil, errs.New(errs.InvalidState, "property %d is not approved", id)
	}
	if !p.IsFree() {
		return nil, errs.New(errs.InvalidState, "property %d is already %s", id, p.Encumbrance.Kind())
	}
	return p, nil
}

// Encumber replaces the property's encumbrance and keeps the for-sale and
// on-auction indexes in step.
func (r *Registry) Encumber(s state.Store, p *Property, enc Encumbrance) error {
	prev := KindFree
	if p.Encumbrance != nil {
		prev = p.Encumbrance.Kind()
	}
	p.Encumbrance = enc
	if err := r.save(s, p); err != nil {
		return err
	}
	return r.reindex(s, p.ID, prev, enc.Kind())
}

// Release returns the property to Free.
func (r *Registry) Release(s state.Store, p *Property) error {
	return r.Encumber(s, p, Free{})
}

// TransferOwnership hands the property to a new owner and clears its
// encumbrance. The property keeps its id.
func (r *Registry) TransferOwnership(s state.Store, p *Property, to ledger.Address) error {
	if err := state.RemoveID(s, ownerKey(p.Owner), p.ID); err != nil {
		return err
	}
	if err := state.AddID(s, ownerKey(to), p.ID); err != nil {
		return err
	}
	p.Owner = to
	return r.Release(s, p)
}

func (r *Registry) reindex(s state.Store, id uint64, prev, next EncumbranceKind) error {
	if prev == next {
		return nil
	}
	if key := indexKey(prev); key != nil {
		if err := state.RemoveID(s, key, id); err != nil {
			return err
		}
	}
	if key := indexKey(next); key != nil {
		if err := state.AddID(s, key, id); err != nil {
			return err
		}
	}
	return nil
}

func indexKey(kind EncumbranceKind) []byte {
	switch kind {
	case KindForSale:
		return saleIdxKey
	case KindOnAuction:
		return auctionKey
	}
	return nil
}

// OwnerProperties lists the ids owned by owner.
func (r *Registry) OwnerProperties(rd state.Reader, owner ledger.Address) ([]uint64, error) {
	return state.IDs(rd, ownerKey(owner))
}

// PendingProperties lists ids awaiting the notary.
func (r *Registry) PendingProperties(rd state.Reader) ([]uint64, error) {
	return state.IDs(rd, pendingKey)
}

// PropertiesForSale lists ids with a fixed-price listing.
func (r *Registry) PropertiesForSale(rd state.Reader) ([]uint64, error) {
	return state.IDs(rd, saleIdxKey)
}

// PropertiesOnAuction lists ids with an open auction.
func (r *Registry) PropertiesOnAuction(rd state.Reader) ([]uint64, error) {
	return state.IDs(rd, auctionKey)
}

// Count returns the number of properties ever registered.
func (r *Registry) Count(rd state.Reader) (uint64, error) {
	return state.Seq(rd, propertySeq)
}
