// Package lease keeps lease agreements between a property owner and a
// tenant, and the log of rent and deposit payments made under them.
package lease

import (
	"github.com/ahmadzakiakmal/estatechain/errs"
	"github.com/ahmadzakiakmal/estatechain/events"
	"github.com/ahmadzakiakmal/estatechain/ledger"
	"github.com/ahmadzakiakmal/estatechain/registry"
	"github.com/ahmadzakiakmal/estatechain/state"
)

const (
	leaseSeq       = "lease"
	transactionSeq = "lease_tx"
)

// TransactionType classifies a lease payment.
type TransactionType string

const (
	Rent            TransactionType = "RENT"
	SecurityDeposit TransactionType = "SECURITY_DEPOSIT"
)

func (t TransactionType) Valid() bool {
	return t == Rent || t == SecurityDeposit
}

func leaseKey(id uint64) []byte { return state.Key("lease", id) }

func landlordKey(a ledger.Address) []byte { return state.Key("landlord", string(a)) }

func tenantKey(a ledger.Address) []byte { return state.Key("tenant", string(a)) }

func transactionKey(id uint64) []byte { return state.Key("lease_tx", id) }

func leaseTxIndexKey(leaseID uint64) []byte { return state.Key("lease_txs", leaseID) }

// Lease is a rental agreement over one property.
type Lease struct {
	ID              uint64         `json:"id"`
	PropertyID      uint64         `json:"propertyId"`
	Landlord        ledger.Address `json:"landlord"`
	Tenant          ledger.Address `json:"tenant"`
	MonthlyRent     ledger.Amount  `json:"monthlyRent"`
	SecurityDeposit ledger.Amount  `json:"securityDeposit"`
	StartDate       int64          `json:"startDate"`
	EndDate         int64          `json:"endDate"`
	IsActive        bool           `json:"isActive"`
	CreatedAt       int64          `json:"createdAt"`
	PreviousLeaseID uint64         `json:"previousLeaseId"`
	IsRenewal       bool           `json:"isRenewal"`
}

// Transaction is one payment made under a lease.
type Transaction struct {
	ID              uint64          `json:"id"`
	LeaseID         uint64          `json:"leaseId"`
	From            ledger.Address  `json:"from"`
	To              ledger.Address  `json:"to"`
	Amount          ledger.Amount   `json:"amount"`
	TransactionType TransactionType `json:"transactionType"`
	Timestamp       int64           `json:"timestamp"`
}

type Engine struct {
	registry *registry.Registry
	bank     *ledger.Bank
}

func New(reg *registry.Registry, bank *ledger.Bank) *Engine {
	return &Engine{registry: reg, bank: bank}
}

// CreateInput is the payload of createLeaseAgreement.
type CreateInput struct {
	PropertyID      uint64         `json:"property_id"`
	Tenant          ledger.Address `json:"tenant"`
	MonthlyRent     ledger.Amount  `json:"monthly_rent"`
	SecurityDeposit ledger.Amount  `json:"security_deposit"`
	StartDate       int64          `json:"start_date"`
	EndDate         int64          `json:"end_date"`
}

// Create leases a free property the caller owns to a tenant.
func (e *Engine) Create(ctx *ledger.Context, in CreateInput) (uint64, error) {
	if err := ctx.RequireNoValue(); err != nil {
		return 0, err
	}
	if !in.Tenant.Valid() {
		return 0, errs.New(errs.InvalidInput, "invalid tenant address %q", in.Tenant)
	}
	if err := validateTerms(in.MonthlyRent, in.SecurityDeposit); err != nil {
		return 0, err
	}
	if in.EndDate <= in.StartDate {
		return 0, errs.New(errs.InvalidInput, "end date must be after start date")
	}
	p, err := e.registry.RequireTradable(ctx.Store, in.PropertyID, ctx.Sender)
	if err != nil {
		return 0, err
	}
	if in.Tenant == p.Owner {
		return 0, errs.New(errs.SelfDealing, "landlord cannot lease property %d to themselves", p.ID)
	}

	l := &Lease{
		PropertyID:      p.ID,
		Landlord:        p.Owner,
		Tenant:          in.Tenant,
		MonthlyRent:     in.MonthlyRent,
		SecurityDeposit: in.SecurityDeposit,
		StartDate:       in.StartDate,
		EndDate:         in.EndDate,
		IsActive:        true,
		CreatedAt:       ctx.Now(),
	}
	if err := e.insert(ctx.Store, l); err != nil {
		return 0, err
	}
	if err := e.registry.Encumber(ctx.Store, p, registry.Leased{LeaseID: l.ID}); err != nil {
		return 0, err
	}

	ctx.Emit(events.TypeLeaseCreated,
		"leaseId", l.ID,
		"propertyId", l.PropertyID,
		"landlord", l.Landlord,
		"tenant", l.Tenant,
		"monthlyRent", l.MonthlyRent,
		"securityDeposit", l.SecurityDeposit,
	)
	return l.ID, nil
}

// RenewInput is the payload of renewLease.
type RenewInput struct {
	LeaseID         uint64        `json:"lease_id"`
	MonthlyRent     ledger.Amount `json:"monthly_rent"`
	SecurityDeposit ledger.Amount `json:"security_deposit"`
	EndDate         int64         `json:"end_date"`
}

// Renew replaces an active lease with a successor running from the old end
// date to the new one. The original is deactivated; its payments stay with it.
func (e *Engine) Renew(ctx *ledger.Context, in RenewInput) (uint64, error) {
	if err := ctx.RequireNoValue(); err != nil {
		return 0, err
	}
	prev, err := e.landlordAction(ctx, in.LeaseID)
	if err != nil {
		return 0, err
	}
	if err := validateTerms(in.MonthlyRent, in.SecurityDeposit); err != nil {
		return 0, err
	}
	if in.EndDate <= prev.EndDate {
		return 0, errs.New(errs.InvalidInput, "new end date must be after %d", prev.EndDate)
	}
	p, err := e.registry.Load(ctx.Store, prev.PropertyID)
	if err != nil {
		return 0, err
	}

	prev.IsActive = false
	if err := e.save(ctx.Store, prev); err != nil {
		return 0, err
	}
	next := &Lease{
		PropertyID:      prev.PropertyID,
		Landlord:        prev.Landlord,
		Tenant:          prev.Tenant,
		MonthlyRent:     in.MonthlyRent,
		SecurityDeposit: in.SecurityDeposit,
		StartDate:       prev.EndDate,
		EndDate:         in.EndDate,
		IsActive:        true,
		CreatedAt:       ctx.Now(),
		PreviousLeaseID: prev.ID,
		IsRenewal:       true,
	}
	if err := e.insert(ctx.Store, next); err != nil {
		return 0, err
	}
	if err := e.registry.Encumber(ctx.Store, p, registry.Leased{LeaseID: next.ID}); err != nil {
		return 0, err
	}

	ctx.Emit(events.TypeLeaseRenewed,
		"leaseId", next.ID,
		"previousLeaseId", prev.ID,
		"monthlyRent", next.MonthlyRent,
		"securityDeposit", next.SecurityDeposit,
		"endDate", next.EndDate,
	)
	return next.ID, nil
}

// Terminate ends an active lease and frees the property. Landlord only.
func (e *Engine) Terminate(ctx *ledger.Context, leaseID uint64) error {
	if err := ctx.RequireNoValue(); err != nil {
		return err
	}
	l, err := e.landlordAction(ctx, leaseID)
	if err != nil {
		return err
	}
	l.IsActive = false
	if err := e.save(ctx.Store, l); err != nil {
		return err
	}
	p, err := e.registry.Load(ctx.Store, l.PropertyID)
	if err != nil {
		return err
	}
	if leased, ok := p.Encumbrance.(registry.Leased); ok && leased.LeaseID == l.ID {
		if err := e.registry.Release(ctx.Store, p); err != nil {
			return err
		}
	}

	ctx.Emit(events.TypeLeaseTerminated, "leaseId", l.ID, "terminatedBy", ctx.Sender)
	return nil
}

func (e *Engine) landlordAction(ctx *ledger.Context, leaseID uint64) (*Lease, error) {
	l, err := e.Load(ctx.Store, leaseID)
	if err != nil {
		return nil, err
	}
	if l.Landlord != ctx.Sender {
		return nil, errs.New(errs.Unauthorized, "only the landlord may change lease %d", leaseID)
	}
	if !l.IsActive {
		return nil, errs.New(errs.InvalidState, "lease %d is not active", leaseID)
	}
	return l, nil
}

// PayInput is the payload of makePayment.
type PayInput struct {
	LeaseID         uint64          `json:"lease_id"`
	TransactionType TransactionType `json:"transaction_type"`
}

// Pay forwards the attached value from escrow to the landlord and logs the
// payment. Tenant only; the amount must match the lease terms exactly.
func (e *Engine) Pay(ctx *ledger.Context, in PayInput) (uint64, error) {
	if !in.TransactionType.Valid() {
		return 0, errs.New(errs.InvalidInput, "unknown transaction type %q", in.TransactionType)
	}
	l, err := e.Load(ctx.Store, in.LeaseID)
	if err != nil {
		return 0, err
	}
	if l.Tenant != ctx.Sender {
		return 0, errs.New(errs.Unauthorized, "only the tenant may pay lease %d", l.ID)
	}
	if !l.IsActive {
		return 0, errs.New(errs.InvalidState, "lease %d is not active", l.ID)
	}
	due := l.MonthlyRent
	if in.TransactionType == SecurityDeposit {
		due = l.SecurityDeposit
	}
	if !ctx.Value.Equal(due) {
		return 0, errs.New(errs.WrongAmount, "lease %d expects %s wei, got %s", l.ID, due, ctx.Value)
	}

	txs, err := e.Transactions(ctx.Store, l.ID)
	if err != nil {
		return 0, err
	}
	id, err := state.NextSeq(ctx.Store, transactionSeq)
	if err != nil {
		return 0, err
	}
	rec := Transaction{
		ID:              id,
		LeaseID:         l.ID,
		From:            ctx.Sender,
		To:              l.Landlord,
		Amount:          ctx.Value,
		TransactionType: in.TransactionType,
		Timestamp:       ctx.Now(),
	}
	if err := state.SetJSON(ctx.Store, transactionKey(id), rec); err != nil {
		return 0, err
	}
	if err := state.AddID(ctx.Store, leaseTxIndexKey(l.ID), id); err != nil {
		return 0, err
	}
	if err := e.bank.Payout(ctx.Store, l.Landlord, ctx.Value); err != nil {
		return 0, err
	}

	if in.TransactionType == Rent {
		month := 1
		for _, t := range txs {
			if t.TransactionType == Rent {
				month++
			}
		}
		ctx.Emit(events.TypeRentPaid, "leaseId", l.ID, "tenant", ctx.Sender, "amount", ctx.Value, "month", month)
	} else {
		ctx.Emit(events.TypeDepositPaid, "leaseId", l.ID, "tenant", ctx.Sender, "amount", ctx.Value)
	}
	return id, nil
}

func validateTerms(rent, deposit ledger.Amount) error {
	if err := ledger.ValidateAmount(rent); err != nil || !rent.IsPositive() {
		return errs.New(errs.InvalidInput, "monthly rent must be a positive number of wei")
	}
	if err := ledger.ValidateAmount(deposit); err != nil || !deposit.IsPositive() {
		return errs.New(errs.InvalidInput, "security deposit must be a positive number of wei")
	}
	return nil
}

func (e *Engine) insert(s state.Store, l *Lease) error {
	id, err := state.NextSeq(s, leaseSeq)
	if err != nil {
		return err
	}
	l.ID = id
	if err := e.save(s, l); err != nil {
		return err
	}
	if err := state.AddID(s, landlordKey(l.Landlord), id); err != nil {
		return err
	}
	return state.AddID(s, tenantKey(l.Tenant), id)
}

func (e *Engine) save(s state.Store, l *Lease) error {
	return state.SetJSON(s, leaseKey(l.ID), l)
}

// Load returns a lease or NotFound.
func (e *Engine) Load(r state.Reader, id uint64) (*Lease, error) {
	var l Lease
	found, err := state.GetJSON(r, leaseKey(id), &l)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.New(errs.NotFound, "lease %d not found", id)
	}
	return &l, nil
}

// LandlordLeases lists the ids of every lease granted by addr.
func (e *Engine) LandlordLeases(r state.Reader, addr ledger.Address) ([]uint64, error) {
	return state.IDs(r, landlordKey(addr))
}

// TenantLeases lists the ids of every lease held by addr.
func (e *Engine) TenantLeases(r state.Reader, addr ledger.Address) ([]uint64, error) {
	return state.IDs(r, tenantKey(addr))
}

// Transactions returns the payments made under a lease, oldest first.
func (e *Engine) Transactions(r state.Reader, leaseID uint64) ([]Transaction, error) {
	if _, err := e.Load(r, leaseID); err != nil {
		return nil, err
	}
	ids, err := state.IDs(r, leaseTxIndexKey(leaseID))
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(ids))
	for _, id := range ids {
		var t Transaction
		if _, err := state.GetJSON(r, transactionKey(id), &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
