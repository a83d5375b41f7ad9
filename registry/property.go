package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ahmadzakiakmal/estatechain/ledger"
)

// Review is the notary's verdict on a property.
type Review string

const (
	ReviewPending  Review = "pending"
	ReviewApproved Review = "approved"
	ReviewRejected Review = "rejected"
)

// EncumbranceKind names the exclusive commitment a property is under.
type EncumbranceKind string

const (
	KindFree      EncumbranceKind = "free"
	KindForSale   EncumbranceKind = "for_sale"
	KindOnAuction EncumbranceKind = "on_auction"
	KindLeased    EncumbranceKind = "leased"
)

// Encumbrance is one of Free, ForSale, OnAuction or Leased. A property holds
// exactly one, so for-sale-and-on-auction cannot be expressed.
type Encumbrance interface {
	Kind() EncumbranceKind
}

// Free is an unencumbered property.
type Free struct{}

// ForSale is a fixed-price listing.
type ForSale struct {
	Price ledger.Amount `json:"price"`
}

// OnAuction carries the live auction.
type OnAuction struct {
	Auction Auction `json:"auction"`
}

// Leased points at the property's active lease.
type Leased struct {
	LeaseID uint64 `json:"lease_id"`
}

func (Free) Kind() EncumbranceKind      { return KindFree }
func (ForSale) Kind() EncumbranceKind   { return KindForSale }
func (OnAuction) Kind() EncumbranceKind { return KindOnAuction }
func (Leased) Kind() EncumbranceKind    { return KindLeased }

// Auction is the bidding state of an open auction.
type Auction struct {
	StartingBid   ledger.Amount  `json:"starting_bid"`
	HighestBid    ledger.Amount  `json:"highest_bid"`
	HighestBidder ledger.Address `json:"highest_bidder"`
	StartedAt     int64          `json:"started_at"`
	EndTime       int64          `json:"end_time"`
}

// HasBids reports whether anyone has bid.
func (a Auction) HasBids() bool {
	return !a.HighestBidder.IsZero()
}

// Property is the canonical record of a registered asset.
type Property struct {
	ID           uint64         `json:"id"`
	Owner        ledger.Address `json:"owner"`
	Address      string         `json:"address"`
	Size         uint64         `json:"size"`
	PropertyType string         `json:"property_type"`
	DocumentHash string         `json:"document_hash"`
	IsActive     bool           `json:"is_active"`
	Review       Review         `json:"review"`
	Encumbrance  Encumbrance    `json:"-"`
	CreatedAt    int64          `json:"created_at"`
}

// IsApproved reports whether the notary approved the property.
func (p *Property) IsApproved() bool {
	return p.Review == ReviewApproved
}

// IsFree reports whether the property carries no encumbrance.
func (p *Property) IsFree() bool {
	return p.Encumbrance == nil || p.Encumbrance.Kind() == KindFree
}

// LiveAuction returns the open auction, if any.
func (p *Property) LiveAuction() (Auction, bool) {
	if oa, ok := p.Encumbrance.(OnAuction); ok {
		return oa.Auction, true
	}
	return Auction{}, false
}

// storedEncumbrance is the tagged form persisted to the store.
type storedEncumbrance struct {
	Kind    EncumbranceKind `json:"kind"`
	Price   *ledger.Amount  `json:"price,omitempty"`
	Auction *Auction        `json:"auction,omitempty"`
	LeaseID uint64          `json:"lease_id,omitempty"`
}

type propertyAlias Property

type storedProperty struct {
	propertyAlias
	Encumbrance storedEncumbrance `json:"encumbrance"`
}

func (p Property) MarshalJSON() ([]byte, error) {
	enc := storedEncumbrance{Kind: KindFree}
	switch e := p.Encumbrance.(type) {
	case nil, Free:
	case ForSale:
		enc.Kind = KindForSale
		enc.Price = &e.Price
	case OnAuction:
		enc.Kind = KindOnAuction
		enc.Auction = &e.Auction
	case Leased:
		enc.Kind = KindLeased
		enc.LeaseID = e.LeaseID
	default:
		return nil, fmt.Errorf("unknown encumbrance %T", e)
	}
	return json.Marshal(storedProperty{propertyAlias: propertyAlias(p), Encumbrance: enc})
}

func (p *Property) UnmarshalJSON(data []byte) error {
	var sp storedProperty
	if err := json.Unmarshal(data, &sp); err != nil {
		return err
	}
	*p = Property(sp.propertyAlias)
	switch sp.Encumbrance.Kind {
	case KindFree, "":
		p.Encumbrance = Free{}
	case KindForSale:
		if sp.Encumbrance.Price == nil {
			return fmt.Errorf("property %d: for_sale without price", p.ID)
		}
		p.Encumbrance = ForSale{Price: *sp.Encumbrance.Price}
	case KindOnAuction:
		if sp.Encumbrance.Auction == nil {
			return fmt.Errorf("property %d: on_auction without auction", p.ID)
		}
		p.Encumbrance = OnAuction{Auction: *sp.Encumbrance.Auction}
	case KindLeased:
		p.Encumbrance = Leased{LeaseID: sp.Encumbrance.LeaseID}
	default:
		return fmt.Errorf("property %d: unknown encumbrance %q", p.ID, sp.Encumbrance.Kind)
	}
	return nil
}

// View is the flag-style rendering of a property that clients consume.
type View struct {
	ID             uint64         `json:"id"`
	Owner          ledger.Address `json:"owner"`
	PropertyAddr   string         `json:"propertyAddress"`
	Size           uint64         `json:"size"`
	PropertyType   string         `json:"propertyType"`
	DocumentHash   string         `json:"documentHash"`
	IsActive       bool           `json:"isActive"`
	IsApproved     bool           `json:"isApproved"`
	Status         Review         `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	IsForSale      bool           `json:"isForSale"`
	SalePrice      ledger.Amount  `json:"salePrice"`
	OnAuction      bool           `json:"onAuction"`
	AuctionEndTime int64          `json:"auctionEndTime"`
	HighestBidder  ledger.Address `json:"highestBidder"`
	HighestBid     ledger.Amount  `json:"highestBid"`
	AuctionEnded   bool           `json:"auctionEnded"`
	IsLeased       bool           `json:"isLeased"`
	ActiveLeaseID  uint64         `json:"activeLeaseId"`
}

// View renders the property with its encumbrance flattened into flags.
func (p *Property) View() View {
	v := View{
		ID:           p.ID,
		Owner:        p.Owner,
		PropertyAddr: p.Address,
		Size:         p.Size,
		PropertyType: p.PropertyType,
		DocumentHash: p.DocumentHash,
		IsActive:     p.IsActive,
		IsApproved:   p.IsApproved(),
		Status:       p.Review,
		CreatedAt:    time.Unix(p.CreatedAt, 0).UTC(),
		SalePrice:    ledger.Zero,
		HighestBid:   ledger.Zero,
	}
	switch e := p.Encumbrance.(type) {
	case ForSale:
		v.IsForSale = true
		v.SalePrice = e.Price
	case OnAuction:
		v.OnAuction = true
		v.AuctionEndTime = e.Auction.EndTime
		v.HighestBidder = e.Auction.HighestBidder
		v.HighestBid = e.Auction.HighestBid
	case Leased:
		v.IsLeased = true
		v.ActiveLeaseID = e.LeaseID
	}
	return v
}
