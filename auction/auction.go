// Package auction runs per-property English auctions. Bids are held in
// escrow; outbid amounts go to a pending-returns ledger and are only paid
// out when their owner withdraws them.
package auction

import (
	"time"

	"github.com/ahmadzakiakmal/estatechain/errs"
	"github.com/ahmadzakiakmal/estatechain/events"
	"github.com/ahmadzakiakmal/estatechain/ledger"
	"github.com/ahmadzakiakmal/estatechain/registry"
	"github.com/ahmadzakiakmal/estatechain/sale"
	"github.com/ahmadzakiakmal/estatechain/state"
)

// Status is the lifecycle state of a property's auction.
type Status string

const (
	StatusNone      Status = "none"
	StatusOpen      Status = "open"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

func pendingKey(propertyID uint64, bidder ledger.Address) []byte {
	return state.Key("pending", propertyID, string(bidder))
}

func resultKey(propertyID uint64) []byte {
	return state.Key("auction_result", propertyID)
}

// Result is the archived outcome of the last closed auction of a property.
type Result struct {
	Outcome        Status         `json:"outcome"`
	Winner         ledger.Address `json:"winner"`
	WinningBid     ledger.Amount  `json:"winning_bid"`
	RefundedAmount ledger.Amount  `json:"refunded_amount"`
	StartingBid    ledger.Amount  `json:"starting_bid"`
	EndTime        int64          `json:"end_time"`
	ClosedAt       int64          `json:"closed_at"`
	SaleID         uint64         `json:"sale_id,omitempty"`
}

type Engine struct {
	registry *registry.Registry
	bank     *ledger.Bank
	sales    *sale.Engine
}

func New(reg *registry.Registry, bank *ledger.Bank, sales *sale.Engine) *Engine {
	return &Engine{registry: reg, bank: bank, sales: sales}
}

// StartInput is the payload of startAuction.
type StartInput struct {
	PropertyID      uint64        `json:"property_id"`
	StartingBid     ledger.Amount `json:"starting_bid"`
	DurationSeconds int64         `json:"duration_seconds"`
}

// Start opens an auction on a free property the caller owns.
func (e *Engine) Start(ctx *ledger.Context, in StartInput) error {
	if err := ctx.RequireNoValue(); err != nil {
		return err
	}
	if err := ledger.ValidateAmount(in.StartingBid); err != nil || !in.StartingBid.IsPositive() {
		return errs.New(errs.InvalidInput, "starting bid must be a positive number of wei")
	}
	if in.DurationSeconds < int64(MinDuration/time.Second) || in.DurationSeconds > int64(MaxDuration/time.Second) {
		return errs.New(errs.InvalidInput, "duration must be between %s and %s", MinDuration, MaxDuration)
	}
	p, err := e.registry.RequireTradable(ctx.Store, in.PropertyID, ctx.Sender)
	if err != nil {
		return err
	}

	a := registry.Auction{
		StartingBid:   in.StartingBid,
		HighestBid:    in.StartingBid,
		HighestBidder: ledger.ZeroAddress,
		StartedAt:     ctx.Now(),
		EndTime:       ctx.Now() + in.DurationSeconds,
	}
	if err := e.registry.Encumber(ctx.Store, p, registry.OnAuction{Auction: a}); err != nil {
		return err
	}
	ctx.Emit(events.TypeAuctionStarted,
		"propertyId", p.ID,
		"startingPrice", a.StartingBid,
		"endTime", a.EndTime,
	)
	return nil
}

func (e *Engine) open(r state.Reader, propertyID uint64) (*registry.Property, registry.Auction, error) {
	p, err := e.registry.Load(r, propertyID)
	if err != nil {
		return nil, registry.Auction{}, err
	}
	a, ok := p.LiveAuction()
	if !ok {
		return nil, registry.Auction{}, errs.New(errs.InvalidState, "property %d has no open auction", propertyID)
	}
	return p, a, nil
}

// PlaceBid bids the attached value. The displaced highest bid is moved to
// its bidder's pending return.
func (e *Engine) PlaceBid(ctx *ledger.Context, propertyID uint64) error {
	p, a, err := e.open(ctx.Store, propertyID)
	if err != nil {
		return err
	}
	if ctx.Now() >= a.EndTime {
		return errs.New(errs.InvalidState, "auction on property %d has expired", propertyID)
	}
	if ctx.Sender == p.Owner {
		return errs.New(errs.SelfDealing, "owner cannot bid on property %d", propertyID)
	}
	if !ctx.Value.GreaterThan(a.HighestBid) {
		return errs.New(errs.BidTooLow, "bid %s wei does not exceed highest bid %s", ctx.Value, a.HighestBid)
	}

	if a.HasBids() {
		if err := e.credit(ctx.Store, propertyID, a.HighestBidder, a.HighestBid); err != nil {
			return err
		}
	}
	a.HighestBid = ctx.Value
	a.HighestBidder = ctx.Sender
	if err := e.registry.Encumber(ctx.Store, p, registry.OnAuction{Auction: a}); err != nil {
		return err
	}

	ctx.Emit(events.TypeBidPlaced,
		"propertyId", propertyID,
		"bidder", ctx.Sender,
		"amount", ctx.Value,
		"timestamp", ctx.Now(),
	)
	return nil
}

// End settles an auction. With a winner the property changes hands and the
// seller is paid from escrow; without bids it is simply released.
func (e *Engine) End(ctx *ledger.Context, propertyID uint64) error {
	if err := ctx.RequireNoValue(); err != nil {
		return err
	}
	p, a, err := e.open(ctx.Store, propertyID)
	if err != nil {
		return err
	}
	if ctx.Now() < a.EndTime {
		rules, err := LoadRules(ctx.Store)
		if err != nil {
			return err
		}
		if !rules.OwnerMayEndEarly {
			return errs.New(errs.InvalidState, "auction on property %d is still running", propertyID)
		}
		if ctx.Sender != p.Owner {
			return errs.New(errs.Unauthorized, "only the owner may end the auction on property %d early", propertyID)
		}
	}

	res := Result{
		Outcome:        StatusEnded,
		Winner:         a.HighestBidder,
		WinningBid:     ledger.Zero,
		RefundedAmount: ledger.Zero,
		StartingBid:    a.StartingBid,
		EndTime:        a.EndTime,
		ClosedAt:       ctx.Now(),
	}
	seller := p.Owner
	if a.HasBids() {
		res.WinningBid = a.HighestBid
		if err := e.registry.TransferOwnership(ctx.Store, p, a.HighestBidder); err != nil {
			return err
		}
		saleID, err := e.sales.Record(ctx.Store, p.ID, seller, a.HighestBidder, a.HighestBid, ctx.Now())
		if err != nil {
			return err
		}
		res.SaleID = saleID
		if err := e.bank.Payout(ctx.Store, seller, a.HighestBid); err != nil {
			return err
		}
	} else if err := e.registry.Release(ctx.Store, p); err != nil {
		return err
	}
	if err := state.SetJSON(ctx.Store, resultKey(propertyID), res); err != nil {
		return err
	}

	ctx.Emit(events.TypeAuctionEnded,
		"propertyId", propertyID,
		"seller", seller,
		"winner", res.Winner,
		"winningBid", res.WinningBid,
		"saleId", res.SaleID,
	)
	return nil
}

// Cancel closes an open auction without a transfer. The highest bid, if
// any, becomes withdrawable by its bidder.
func (e *Engine) Cancel(ctx *ledger.Context, propertyID uint64) error {
	if err := ctx.RequireNoValue(); err != nil {
		return err
	}
	p, a, err := e.open(ctx.Store, propertyID)
	if err != nil {
		return err
	}
	if ctx.Sender != p.Owner {
		return errs.New(errs.Unauthorized, "caller does not own property %d", propertyID)
	}

	refunded := ledger.Zero
	if a.HasBids() {
		refunded = a.HighestBid
		if err := e.credit(ctx.Store, propertyID, a.HighestBidder, refunded); err != nil {
			return err
		}
	}
	if err := e.registry.Release(ctx.Store, p); err != nil {
		return err
	}
	res := Result{
		Outcome:        StatusCancelled,
		Winner:         ledger.ZeroAddress,
		WinningBid:     ledger.Zero,
		RefundedAmount: refunded,
		StartingBid:    a.StartingBid,
		EndTime:        a.EndTime,
		ClosedAt:       ctx.Now(),
	}
	if err := state.SetJSON(ctx.Store, resultKey(propertyID), res); err != nil {
		return err
	}

	ctx.Emit(events.TypeAuctionCancelled, "propertyId", propertyID, "refundedAmount", refunded)
	return nil
}

// Withdraw pays the caller's pending return for a property. The entry is
// cleared before the payout.
func (e *Engine) Withdraw(ctx *ledger.Context, propertyID uint64) (ledger.Amount, error) {
	if err := ctx.RequireNoValue(); err != nil {
		return ledger.Zero, err
	}
	amount, err := e.PendingReturn(ctx.Store, propertyID, ctx.Sender)
	if err != nil {
		return ledger.Zero, err
	}
	if amount.IsZero() {
		return ledger.Zero, errs.New(errs.NothingToWithdraw, "nothing to withdraw for property %d", propertyID)
	}
	if err := ctx.Store.Delete(pendingKey(propertyID, ctx.Sender)); err != nil {
		return ledger.Zero, err
	}
	if err := e.bank.Payout(ctx.Store, ctx.Sender, amount); err != nil {
		return ledger.Zero, err
	}

	ctx.Emit(events.TypeBidWithdrawn, "propertyId", propertyID, "bidder", ctx.Sender, "amount", amount)
	return amount, nil
}

func (e *Engine) credit(s state.Store, propertyID uint64, bidder ledger.Address, amount ledger.Amount) error {
	current, err := e.PendingReturn(s, propertyID, bidder)
	if err != nil {
		return err
	}
	return state.SetJSON(s, pendingKey(propertyID, bidder), current.Add(amount))
}

// PendingReturn returns what bidder may withdraw for a property.
func (e *Engine) PendingReturn(r state.Reader, propertyID uint64, bidder ledger.Address) (ledger.Amount, error) {
	var amount ledger.Amount
	found, err := state.GetJSON(r, pendingKey(propertyID, bidder), &amount)
	if err != nil {
		return ledger.Zero, err
	}
	if !found {
		return ledger.Zero, nil
	}
	return amount, nil
}

// Details is the combined view of a property's current or last auction.
type Details struct {
	PropertyID    uint64         `json:"propertyId"`
	Owner         ledger.Address `json:"owner"`
	Status        Status         `json:"status"`
	StartingBid   ledger.Amount  `json:"startingBid"`
	HighestBid    ledger.Amount  `json:"highestBid"`
	HighestBidder ledger.Address `json:"highestBidder"`
	EndTime       int64          `json:"auctionEndTime"`
	Ended         bool           `json:"auctionEnded"`
	Expired       bool           `json:"expired"`
	Last          *Result        `json:"lastResult,omitempty"`
}

// Details reports the auction state of a property as of now.
func (e *Engine) Details(r state.Reader, propertyID uint64, now int64) (*Details, error) {
	p, err := e.registry.Load(r, propertyID)
	if err != nil {
		return nil, err
	}
	d := &Details{
		PropertyID:  p.ID,
		Owner:       p.Owner,
		Status:      StatusNone,
		StartingBid: ledger.Zero,
		HighestBid:  ledger.Zero,
	}

	var last Result
	found, err := state.GetJSON(r, resultKey(propertyID), &last)
	if err != nil {
		return nil, err
	}
	if found {
		d.Last = &last
	}

	if a, ok := p.LiveAuction(); ok {
		d.Status = StatusOpen
		d.StartingBid = a.StartingBid
		d.HighestBid = a.HighestBid
		d.HighestBidder = a.HighestBidder
		d.EndTime = a.EndTime
		d.Expired = now >= a.EndTime
		return d, nil
	}
	if found {
		d.Status = last.Outcome
		d.StartingBid = last.StartingBid
		d.HighestBid = last.WinningBid
		d.HighestBidder = last.Winner
		d.EndTime = last.EndTime
		d.Ended = true
		d.Expired = true
	}
	return d, nil
}
