// Package events holds the structured notifications emitted by successful
// commands. A Log is created per command and discarded when the command fails.
package events

import "fmt"

// Event types emitted by the authority.
const (
	TypePropertyRegistered = "PropertyRegistered"
	TypePropertyApproved   = "PropertyApproved"
	TypePropertyRejected   = "PropertyRejected"
	TypeNotaryChanged      = "NotaryChanged"
	TypeAuctionStarted     = "AuctionStarted"
	TypeBidPlaced          = "BidPlaced"
	TypeAuctionEnded       = "AuctionEnded"
	TypeAuctionCancelled   = "AuctionCancelled"
	TypeBidWithdrawn       = "BidWithdrawn"
	TypePropertyListed     = "PropertyListed"
	TypeSaleCancelled      = "SaleCancelled"
	TypePropertySold       = "PropertySold"
	TypeLeaseCreated       = "LeaseCreated"
	TypeLeaseRenewed       = "LeaseRenewed"
	TypeLeaseTerminated    = "LeaseTerminated"
	TypeRentPaid           = "RentPaid"
	TypeDepositPaid        = "DepositPaid"
	TypeTransfer           = "Transfer"
)

// Attribute is a single key/value pair of an event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is an ordered set of attributes under a type name.
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// New builds an event from alternating key/value arguments. Values are
// formatted with %v.
func New(eventType string, keyvals ...any) Event {
	ev := Event{Type: eventType}
	for i := 0; i+1 < len(keyvals); i += 2 {
		ev.Attributes = append(ev.Attributes, Attribute{
			Key:   fmt.Sprint(keyvals[i]),
			Value: fmt.Sprint(keyvals[i+1]),
		})
	}
	return ev
}

// Get returns the value of the named attribute.
func (e Event) Get(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Log collects the events of one command in emission order.
type Log struct {
	events []Event
}

func NewLog() *Log {
	return &Log{}
}

// Emit appends an event.
func (l *Log) Emit(eventType string, keyvals ...any) {
	l.events = append(l.events, New(eventType, keyvals...))
}

// Events returns the collected events.
func (l *Log) Events() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of collected events.
func (l *Log) Len() int {
	return len(l.events)
}
