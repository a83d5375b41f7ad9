package ledger

import (
	"time"

	"github.com/ahmadzakiakmal/estatechain/errs"
	"github.com/ahmadzakiakmal/estatechain/events"
	"github.com/ahmadzakiakmal/estatechain/state"
)

// Context is what a command sees while it executes: a private write buffer,
// the caller, the value it attached, and the block it runs in.
type Context struct {
	Store  state.Store
	Sender Address
	Value  Amount
	Time   time.Time
	Height int64
	Events *events.Log
}

// NewContext returns a Context with an empty event log.
func NewContext(store state.Store, sender Address, value Amount, now time.Time, height int64) *Context {
	return &Context{
		Store:  store,
		Sender: sender,
		Value:  value,
		Time:   now,
		Height: height,
		Events: events.NewLog(),
	}
}

// Now returns the block time in unix seconds.
func (c *Context) Now() int64 {
	return c.Time.Unix()
}

// Emit records an event for this command.
func (c *Context) Emit(eventType string, keyvals ...any) {
	c.Events.Emit(eventType, keyvals...)
}

// RequireNoValue fails commands that do not accept attached value.
func (c *Context) RequireNoValue() error {
	if !c.Value.IsZero() {
		return errs.New(errs.InvalidInput, "command does not accept value, got %s wei", c.Value)
	}
	return nil
}
