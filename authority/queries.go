package authority

import (
	"github.com/ahmadzakiakmal/estatechain/lease"
	"github.com/ahmadzakiakmal/estatechain/ledger"
	"github.com/ahmadzakiakmal/estatechain/registry"
	"github.com/ahmadzakiakmal/estatechain/srvreg"
	"github.com/ahmadzakiakmal/estatechain/state"
)

// AccountSummary is the account screen: funds, nonce, holdings and lease
// totals.
type AccountSummary struct {
	ledger.Account
	OwnedProperties int               `json:"ownedProperties"`
	Leases          lease.Obligations `json:"leases"`
}

// RegisterQueries installs every read-only route.
func (a *Authority) RegisterQueries(sr *srvreg.ServiceRegistry) {
	sr.RegisterHandler("/notary", true, a.queryNotary)
	sr.RegisterHandler("/property/count", true, a.queryPropertyCount)
	sr.RegisterHandler("/property/:id", false, a.queryProperty)
	sr.RegisterHandler("/property/:id/history", false, a.queryPropertyHistory)
	sr.RegisterHandler("/properties/pending", true, a.propertyList(a.Registry.PendingProperties))
	sr.RegisterHandler("/properties/for-sale", true, a.propertyList(a.Registry.PropertiesForSale))
	sr.RegisterHandler("/properties/on-auction", true, a.propertyList(a.Registry.PropertiesOnAuction))
	sr.RegisterHandler("/owner/:address/properties", false, a.queryOwnerProperties)
	sr.RegisterHandler("/sale/:id", false, a.querySale)

	sr.RegisterHandler("/auction/:id", false, a.queryAuction)
	sr.RegisterHandler("/auction/:id/pending/:bidder", false, a.queryPendingReturn)

	sr.RegisterHandler("/lease/:id", false, a.queryLease)
	sr.RegisterHandler("/lease/:id/transactions", false, a.queryLeaseTransactions)
	sr.RegisterHandler("/lease/:id/expiration", false, a.queryLeaseExpiration)
	sr.RegisterHandler("/landlord/:address/leases", false, a.leaseList(a.Leases.LandlordLeases))
	sr.RegisterHandler("/tenant/:address/leases", false, a.leaseList(a.Leases.TenantLeases))

	sr.RegisterHandler("/account/:address", false, a.queryAccount)
	sr.RegisterHandler("/account/:address/summary", false, a.queryAccountSummary)
	sr.RegisterHandler("/account/:address/expiring-leases", false, a.queryExpiringLeases)
}

func (a *Authority) queryNotary(req *srvreg.Request) (any, error) {
	notary, err := a.Registry.Notary(req.Store)
	if err != nil {
		return nil, err
	}
	return map[string]ledger.Address{"notary": notary}, nil
}

func (a *Authority) queryPropertyCount(req *srvreg.Request) (any, error) {
	n, err := a.Registry.Count(req.Store)
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"count": n}, nil
}

func (a *Authority) queryProperty(req *srvreg.Request) (any, error) {
	id, err := req.IDParam("id")
	if err != nil {
		return nil, err
	}
	p, err := a.Registry.Load(req.Store, id)
	if err != nil {
		return nil, err
	}
	return p.View(), nil
}

func (a *Authority) queryPropertyHistory(req *srvreg.Request) (any, error) {
	id, err := req.IDParam("id")
	if err != nil {
		return nil, err
	}
	return a.Sales.History(req.Store, id)
}

func (a *Authority) views(r state.Reader, ids []uint64) ([]registry.View, error) {
	out := make([]registry.View, 0, len(ids))
	for _, id := range ids {
		p, err := a.Registry.Load(r, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p.View())
	}
	return out, nil
}

func (a *Authority) propertyList(list func(state.Reader) ([]uint64, error)) srvreg.ServiceHandler {
	return func(req *srvreg.Request) (any, error) {
		ids, err := list(req.Store)
		if err != nil {
			return nil, err
		}
		return a.views(req.Store, ids)
	}
}

func (a *Authority) queryOwnerProperties(req *srvreg.Request) (any, error) {
	owner, err := req.AddressParam("address")
	if err != nil {
		return nil, err
	}
	ids, err := a.Registry.OwnerProperties(req.Store, owner)
	if err != nil {
		return nil, err
	}
	return a.views(req.Store, ids)
}

func (a *Authority) querySale(req *srvreg.Request) (any, error) {
	id, err := req.IDParam("id")
	if err != nil {
		return nil, err
	}
	return a.Sales.Get(req.Store, id)
}

func (a *Authority) queryAuction(req *srvreg.Request) (any, error) {
	id, err := req.IDParam("id")
	if err != nil {
		return nil, err
	}
	return a.Auctions.Details(req.Store, id, req.Now())
}

func (a *Authority) queryPendingReturn(req *srvreg.Request) (any, error) {
	id, err := req.IDParam("id")
	if err != nil {
		return nil, err
	}
	bidder, err := req.AddressParam("bidder")
	if err != nil {
		return nil, err
	}
	if _, err := a.Registry.Load(req.Store, id); err != nil {
		return nil, err
	}
	amount, err := a.Auctions.PendingReturn(req.Store, id, bidder)
	if err != nil {
		return nil, err
	}
	return map[string]any{"propertyId": id, "bidder": bidder, "amount": amount}, nil
}

func (a *Authority) queryLease(req *srvreg.Request) (any, error) {
	id, err := req.IDParam("id")
	if err != nil {
		return nil, err
	}
	return a.Leases.Load(req.Store, id)
}

func (a *Authority) queryLeaseTransactions(req *srvreg.Request) (any, error) {
	id, err := req.IDParam("id")
	if err != nil {
		return nil, err
	}
	return a.Leases.Transactions(req.Store, id)
}

func (a *Authority) queryLeaseExpiration(req *srvreg.Request) (any, error) {
	id, err := req.IDParam("id")
	if err != nil {
		return nil, err
	}
	return a.Leases.CheckExpiration(req.Store, id, req.Now())
}

func (a *Authority) leaseList(list func(state.Reader, ledger.Address) ([]uint64, error)) srvreg.ServiceHandler {
	return func(req *srvreg.Request) (any, error) {
		addr, err := req.AddressParam("address")
		if err != nil {
			return nil, err
		}
		ids, err := list(req.Store, addr)
		if err != nil {
			return nil, err
		}
		out := make([]*lease.Lease, 0, len(ids))
		for _, id := range ids {
			l, err := a.Leases.Load(req.Store, id)
			if err != nil {
				return nil, err
			}
			out = append(out, l)
		}
		return out, nil
	}
}

func (a *Authority) queryAccount(req *srvreg.Request) (any, error) {
	addr, err := req.AddressParam("address")
	if err != nil {
		return nil, err
	}
	return a.Bank.Account(req.Store, addr)
}

func (a *Authority) queryAccountSummary(req *srvreg.Request) (any, error) {
	addr, err := req.AddressParam("address")
	if err != nil {
		return nil, err
	}
	acc, err := a.Bank.Account(req.Store, addr)
	if err != nil {
		return nil, err
	}
	owned, err := a.Registry.OwnerProperties(req.Store, addr)
	if err != nil {
		return nil, err
	}
	obligations, err := a.Leases.ObligationsOf(req.Store, addr)
	if err != nil {
		return nil, err
	}
	return AccountSummary{Account: acc, OwnedProperties: len(owned), Leases: obligations}, nil
}

func (a *Authority) queryExpiringLeases(req *srvreg.Request) (any, error) {
	addr, err := req.AddressParam("address")
	if err != nil {
		return nil, err
	}
	return a.Leases.Expiring(req.Store, addr, req.Now())
}
