package authority

import (
	"encoding/json"
	"fmt"

	"github.com/ahmadzakiakmal/estatechain/auction"
	"github.com/ahmadzakiakmal/estatechain/ledger"
	"github.com/ahmadzakiakmal/estatechain/state"
)

// GenesisAccount is an initial balance allocation.
type GenesisAccount struct {
	Address ledger.Address `json:"address"`
	Balance ledger.Amount  `json:"balance"`
}

// Genesis is the app_state section of the CometBFT genesis file.
type Genesis struct {
	Notary       ledger.Address   `json:"notary"`
	Accounts     []GenesisAccount `json:"accounts"`
	AuctionRules *auction.Rules   `json:"auction_rules,omitempty"`
}

// ParseGenesis decodes app_state bytes. Empty input yields an empty genesis.
func ParseGenesis(raw []byte) (*Genesis, error) {
	g := &Genesis{}
	if len(raw) == 0 {
		return g, nil
	}
	if err := json.Unmarshal(raw, g); err != nil {
		return nil, fmt.Errorf("decoding app state: %w", err)
	}
	return g, nil
}

// InitGenesis writes the notary, the balances and the auction rules.
func (a *Authority) InitGenesis(s state.Store, g *Genesis) error {
	if !g.Notary.IsZero() {
		if err := a.Registry.SetNotary(s, g.Notary); err != nil {
			return err
		}
	}
	for _, acc := range g.Accounts {
		if !acc.Address.Valid() {
			return fmt.Errorf("genesis account %q: invalid address", acc.Address)
		}
		if err := a.Bank.Credit(s, acc.Address, acc.Balance); err != nil {
			return fmt.Errorf("genesis account %s: %w", acc.Address, err)
		}
	}
	rules := auction.DefaultRules()
	if g.AuctionRules != nil {
		rules = *g.AuctionRules
	}
	return auction.SaveRules(s, rules)
}
