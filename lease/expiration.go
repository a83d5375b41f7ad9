package lease

import (
	"slices"

	"github.com/ahmadzakiakmal/estatechain/ledger"
	"github.com/ahmadzakiakmal/estatechain/state"
)

const (
	secondsPerDay = 86400
	// ExpiringWithinDays is the window in which an active lease counts as
	// expiring.
	ExpiringWithinDays = 30
)

// Expiration is the answer to checkLeaseExpiration.
type Expiration struct {
	LeaseID       uint64 `json:"leaseId"`
	DaysRemaining int64  `json:"daysRemaining"`
	IsExpiring    bool   `json:"isExpiring"`
	IsExpired     bool   `json:"isExpired"`
}

// CheckExpiration reports how many whole days an active lease has left.
// Inactive leases are never expiring; an active lease past its end date is.
func (e *Engine) CheckExpiration(r state.Reader, leaseID uint64, now int64) (Expiration, error) {
	l, err := e.Load(r, leaseID)
	if err != nil {
		return Expiration{}, err
	}
	return expirationOf(l, now), nil
}

func expirationOf(l *Lease, now int64) Expiration {
	exp := Expiration{LeaseID: l.ID}
	if !l.IsActive {
		return exp
	}
	if now >= l.EndDate {
		exp.IsExpired = true
		exp.IsExpiring = true
		return exp
	}
	exp.DaysRemaining = (l.EndDate - now) / secondsPerDay
	exp.IsExpiring = exp.DaysRemaining <= ExpiringWithinDays
	return exp
}

// Expiring lists, in ascending order, the active leases addr is party to
// that expire within the window.
func (e *Engine) Expiring(r state.Reader, addr ledger.Address, now int64) ([]uint64, error) {
	asLandlord, err := e.LandlordLeases(r, addr)
	if err != nil {
		return nil, err
	}
	asTenant, err := e.TenantLeases(r, addr)
	if err != nil {
		return nil, err
	}
	ids := append(slices.Clone(asLandlord), asTenant...)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	out := []uint64{}
	for _, id := range ids {
		l, err := e.Load(r, id)
		if err != nil {
			return nil, err
		}
		if expirationOf(l, now).IsExpiring {
			out = append(out, id)
		}
	}
	return out, nil
}

// Obligations totals the terms of the active leases an account is party to.
type Obligations struct {
	TenantLeases      int           `json:"tenantLeases"`
	MonthlyRentDue    ledger.Amount `json:"monthlyRentDue"`
	DepositsDue       ledger.Amount `json:"depositsDue"`
	LandlordLeases    int           `json:"landlordLeases"`
	MonthlyRentIncome ledger.Amount `json:"monthlyRentIncome"`
	DepositsHeld      ledger.Amount `json:"depositsHeld"`
}

// ObligationsOf sums the active leases addr holds as tenant and grants as
// landlord.
func (e *Engine) ObligationsOf(r state.Reader, addr ledger.Address) (Obligations, error) {
	o := Obligations{
		MonthlyRentDue:    ledger.Zero,
		DepositsDue:       ledger.Zero,
		MonthlyRentIncome: ledger.Zero,
		DepositsHeld:      ledger.Zero,
	}
	tenant, err := e.activeLeases(r, addr, e.TenantLeases)
	if err != nil {
		return o, err
	}
	for _, l := range tenant {
		o.TenantLeases++
		o.MonthlyRentDue = o.MonthlyRentDue.Add(l.MonthlyRent)
		o.DepositsDue = o.DepositsDue.Add(l.SecurityDeposit)
	}
	landlord, err := e.activeLeases(r, addr, e.LandlordLeases)
	if err != nil {
		return o, err
	}
	for _, l := range landlord {
		o.LandlordLeases++
		o.MonthlyRentIncome = o.MonthlyRentIncome.Add(l.MonthlyRent)
		o.DepositsHeld = o.DepositsHeld.Add(l.SecurityDeposit)
	}
	return o, nil
}

func (e *Engine) activeLeases(r state.Reader, addr ledger.Address, list func(state.Reader, ledger.Address) ([]uint64, error)) ([]*Lease, error) {
	ids, err := list(r, addr)
	if err != nil {
		return nil, err
	}
	var out []*Lease
	for _, id := range ids {
		l, err := e.Load(r, id)
		if err != nil {
			return nil, err
		}
		if l.IsActive {
			out = append(out, l)
		}
	}
	return out, nil
}
