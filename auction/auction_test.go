package auction

import (
	"math"
	"testing"
	"time"

	"github.com/cometbft/cometbft/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadzakiakmal/estatechain/errs"
	"github.com/ahmadzakiakmal/estatechain/events"
	"github.com/ahmadzakiakmal/estatechain/ledger"
	"github.com/ahmadzakiakmal/estatechain/registry"
	"github.com/ahmadzakiakmal/estatechain/sale"
	"github.com/ahmadzakiakmal/estatechain/state"
)

var (
	notary  = addr("notary")
	owner   = addr("owner")
	bidder1 = addr("bidder1")
	bidder2 = addr("bidder2")
	t0      = time.Unix(1_700_000_000, 0)
)

const day = int64(86400)

func addr(name string) ledger.Address {
	return ledger.AddressFromBytes(crypto.AddressHash([]byte(name)))
}

type fixture struct {
	s       *state.MemStore
	bank    *ledger.Bank
	reg     *registry.Registry
	sales   *sale.Engine
	auction *Engine
	id      uint64
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{s: state.NewMemStore(), bank: ledger.NewBank(), reg: registry.New(), now: t0}
	f.sales = sale.New(f.reg, f.bank)
	f.auction = New(f.reg, f.bank, f.sales)
	require.NoError(t, f.reg.SetNotary(f.s, notary))
	id, err := f.reg.Register(f.ctx(owner), registry.RegisterInput{Address: "7 Hill Rd", Size: 200, PropertyType: "house"})
	require.NoError(t, err)
	require.NoError(t, f.reg.Approve(f.ctx(notary), id))
	f.id = id
	return f
}

func (f *fixture) ctx(sender ledger.Address) *ledger.Context {
	return ledger.NewContext(f.s, sender, ledger.Zero, f.now, 1)
}

// bid mimics the authority moving the attached value into escrow first.
func (f *fixture) bid(t *testing.T, sender ledger.Address, value ledger.Amount) error {
	t.Helper()
	require.NoError(t, f.bank.Credit(f.s, ledger.EscrowAddress, value))
	err := f.auction.PlaceBid(ledger.NewContext(f.s, sender, value, f.now, 1), f.id)
	if err != nil {
		require.NoError(t, f.bank.Debit(f.s, ledger.EscrowAddress, value))
	}
	return err
}

func (f *fixture) start(t *testing.T, startingBid ledger.Amount) {
	t.Helper()
	require.NoError(t, f.auction.Start(f.ctx(owner), StartInput{PropertyID: f.id, StartingBid: startingBid, DurationSeconds: day}))
}

func balance(t *testing.T, f *fixture, a ledger.Address) ledger.Amount {
	t.Helper()
	b, err := f.bank.Balance(f.s, a)
	require.NoError(t, err)
	return b
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]StartInput{
		"zero starting bid": {PropertyID: f.id, StartingBid: ledger.Zero, DurationSeconds: day},
		"too short":         {PropertyID: f.id, StartingBid: ledger.Wei(1), DurationSeconds: 60},
		"too long":          {PropertyID: f.id, StartingBid: ledger.Wei(1), DurationSeconds: 31 * day},
		"negative":          {PropertyID: f.id, StartingBid: ledger.Wei(1), DurationSeconds: -day},
		"wraps to an hour":  {PropertyID: f.id, StartingBid: ledger.Wei(1), DurationSeconds: 3600 + 1<<55},
		"max int64":         {PropertyID: f.id, StartingBid: ledger.Wei(1), DurationSeconds: math.MaxInt64},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			err := f.auction.Start(f.ctx(owner), in)
			assert.True(t, errs.Is(err, errs.InvalidInput), "got %v", err)
		})
	}

	p, err := f.reg.Load(f.s, f.id)
	require.NoError(t, err)
	assert.True(t, p.IsFree(), "rejected starts leave the property untouched")

	err = f.auction.Start(f.ctx(bidder1), StartInput{PropertyID: f.id, StartingBid: ledger.Wei(1), DurationSeconds: day})
	assert.True(t, errs.Is(err, errs.Unauthorized))

	f.start(t, ledger.Wei(10))
	err = f.auction.Start(f.ctx(owner), StartInput{PropertyID: f.id, StartingBid: ledger.Wei(1), DurationSeconds: day})
	assert.True(t, errs.Is(err, errs.InvalidState))

	onAuction, _ := f.reg.PropertiesOnAuction(f.s)
	assert.Equal(t, []uint64{f.id}, onAuction)
}

func TestBidOrdering(t *testing.T) {
	f := newFixture(t)
	f.start(t, ledger.Ether("1"))

	assert.True(t, errs.Is(f.bid(t, bidder1, ledger.Ether("1")), errs.BidTooLow), "must exceed the starting bid")
	assert.True(t, errs.Is(f.bid(t, owner, ledger.Ether("2")), errs.SelfDealing))

	require.NoError(t, f.bid(t, bidder1, ledger.Ether("2")))
	assert.True(t, errs.Is(f.bid(t, bidder2, ledger.Ether("2")), errs.BidTooLow))
	require.NoError(t, f.bid(t, bidder2, ledger.Ether("3")))
	require.NoError(t, f.bid(t, bidder1, ledger.Ether("4")))

	p, _ := f.reg.Load(f.s, f.id)
	a, ok := p.LiveAuction()
	require.True(t, ok)
	assert.Equal(t, bidder1, a.HighestBidder)
	assert.True(t, a.HighestBid.Equal(ledger.Ether("4")))

	r1, _ := f.auction.PendingReturn(f.s, f.id, bidder1)
	r2, _ := f.auction.PendingReturn(f.s, f.id, bidder2)
	assert.True(t, r1.Equal(ledger.Ether("2")))
	assert.True(t, r2.Equal(ledger.Ether("3")))

	escrow := balance(t, f, ledger.EscrowAddress)
	assert.True(t, escrow.Equal(ledger.Ether("9")), "escrow holds the live bid and every pending return")
}

func TestBidAfterExpiry(t *testing.T) {
	f := newFixture(t)
	f.start(t, ledger.Wei(1))
	f.now = t0.Add(25 * time.Hour)
	assert.True(t, errs.Is(f.bid(t, bidder1, ledger.Wei(5)), errs.InvalidState))
}

func TestEndWithWinner(t *testing.T) {
	f := newFixture(t)
	f.start(t, ledger.Ether("1"))
	require.NoError(t, f.bid(t, bidder1, ledger.Ether("2")))
	require.NoError(t, f.bid(t, bidder2, ledger.Ether("3")))

	err := f.auction.End(f.ctx(bidder1), f.id)
	assert.True(t, errs.Is(err, errs.InvalidState), "still running")

	f.now = t0.Add(48 * time.Hour)
	ctx := f.ctx(bidder1)
	require.NoError(t, f.auction.End(ctx, f.id))

	p, _ := f.reg.Load(f.s, f.id)
	assert.Equal(t, bidder2, p.Owner)
	assert.True(t, p.IsFree())
	assert.True(t, balance(t, f, owner).Equal(ledger.Ether("3")))
	assert.True(t, balance(t, f, ledger.EscrowAddress).Equal(ledger.Ether("2")))

	history, err := f.sales.History(f.s, f.id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, bidder2, history[0].Buyer)

	evs := ctx.Events.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeAuctionEnded, evs[0].Type)

	// the loser still withdraws after the auction closed
	amount, err := f.auction.Withdraw(f.ctx(bidder1), f.id)
	require.NoError(t, err)
	assert.True(t, amount.Equal(ledger.Ether("2")))
	assert.True(t, balance(t, f, ledger.EscrowAddress).IsZero())

	_, err = f.auction.Withdraw(f.ctx(bidder1), f.id)
	assert.True(t, errs.Is(err, errs.NothingToWithdraw))

	d, err := f.auction.Details(f.s, f.id, f.now.Unix())
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, d.Status)
	assert.True(t, d.Ended)
	assert.Equal(t, bidder2, d.HighestBidder)
	require.NotNil(t, d.Last)
	assert.Equal(t, uint64(1), d.Last.SaleID)
}

func TestEndWithoutBids(t *testing.T) {
	f := newFixture(t)
	f.start(t, ledger.Wei(100))
	f.now = t0.Add(24 * time.Hour)
	require.NoError(t, f.auction.End(f.ctx(bidder2), f.id))

	p, _ := f.reg.Load(f.s, f.id)
	assert.Equal(t, owner, p.Owner)
	assert.True(t, p.IsFree())
	onAuction, _ := f.reg.PropertiesOnAuction(f.s)
	assert.Empty(t, onAuction)

	history, _ := f.sales.History(f.s, f.id)
	assert.Empty(t, history)
}

func TestEarlyEndRules(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, SaveRules(f.s, Rules{OwnerMayEndEarly: true}))
	f.start(t, ledger.Wei(1))
	require.NoError(t, f.bid(t, bidder1, ledger.Wei(2)))

	assert.True(t, errs.Is(f.auction.End(f.ctx(bidder1), f.id), errs.Unauthorized))
	require.NoError(t, f.auction.End(f.ctx(owner), f.id))

	p, _ := f.reg.Load(f.s, f.id)
	assert.Equal(t, bidder1, p.Owner)
}

func TestLoadRulesDefaults(t *testing.T) {
	rules, err := LoadRules(state.NewMemStore())
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)
}

func TestCancelRefundsHighestBid(t *testing.T) {
	f := newFixture(t)
	f.start(t, ledger.Wei(1))
	require.NoError(t, f.bid(t, bidder1, ledger.Wei(5)))

	assert.True(t, errs.Is(f.auction.Cancel(f.ctx(bidder1), f.id), errs.Unauthorized))
	require.NoError(t, f.auction.Cancel(f.ctx(owner), f.id))

	p, _ := f.reg.Load(f.s, f.id)
	assert.True(t, p.IsFree())
	pending, _ := f.auction.PendingReturn(f.s, f.id, bidder1)
	assert.True(t, pending.Equal(ledger.Wei(5)))

	assert.True(t, errs.Is(f.auction.End(f.ctx(owner), f.id), errs.InvalidState))

	d, err := f.auction.Details(f.s, f.id, f.now.Unix())
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, d.Status)
	assert.True(t, d.Last.RefundedAmount.Equal(ledger.Wei(5)))
}

func TestDetailsWithoutAuction(t *testing.T) {
	f := newFixture(t)
	d, err := f.auction.Details(f.s, f.id, f.now.Unix())
	require.NoError(t, err)
	assert.Equal(t, StatusNone, d.Status)
	assert.Nil(t, d.Last)

	f.start(t, ledger.Wei(3))
	d, err = f.auction.Details(f.s, f.id, t0.Add(time.Duration(day)*time.Second).Unix())
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, d.Status)
	assert.True(t, d.Expired)
	assert.False(t, d.Ended)

	_, err = f.auction.Details(f.s, 99, f.now.Unix())
	assert.True(t, errs.Is(err, errs.NotFound))
}
