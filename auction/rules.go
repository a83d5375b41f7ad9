package auction

import (
	"time"

	"github.com/ahmadzakiakmal/estatechain/state"
)

const (
	MinDuration = time.Hour
	MaxDuration = 720 * time.Hour
)

var rulesKey = state.Key("params", "auction")

// Rules are the chain-wide auction parameters fixed at genesis.
type Rules struct {
	// OwnerMayEndEarly lets the owner end an open auction before its end
	// time. Anyone may end an auction once it has expired.
	OwnerMayEndEarly bool `json:"owner_may_end_early"`
}

// DefaultRules returns the rules used when genesis names none.
func DefaultRules() Rules {
	return Rules{OwnerMayEndEarly: false}
}

// LoadRules returns the stored rules, or the defaults.
func LoadRules(r state.Reader) (Rules, error) {
	rules := DefaultRules()
	if _, err := state.GetJSON(r, rulesKey, &rules); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// SaveRules stores the rules.
func SaveRules(s state.Store, rules Rules) error {
	return state.SetJSON(s, rulesKey, rules)
}
