package events

import "time"

// TxRecord is the outcome of one transaction of a committed block.
type TxRecord struct {
	Hash    string  `json:"hash"`
	Sender  string  `json:"sender"`
	MsgType string  `json:"msg_type"`
	Code    uint32  `json:"code"`
	Log     string  `json:"log,omitempty"`
	Events  []Event `json:"events"`
}

// Block is a committed block as seen by downstream consumers.
type Block struct {
	Height int64      `json:"height"`
	Time   time.Time  `json:"time"`
	Txs    []TxRecord `json:"txs"`
}

// Count returns the number of events across all transactions.
func (b *Block) Count() int {
	n := 0
	for _, t := range b.Txs {
		n += len(t.Events)
	}
	return n
}
