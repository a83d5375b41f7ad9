// Package tx defines the signed transaction envelope submitted to the chain.
package tx

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cometbft/cometbft/crypto/ed25519"
	cmttypes "github.com/cometbft/cometbft/types"

	"github.com/ahmadzakiakmal/estatechain/errs"
	"github.com/ahmadzakiakmal/estatechain/ledger"
)

// Message types understood by the authority.
const (
	TypeRegisterProperty = "register_property"
	TypeApproveProperty  = "approve_property"
	TypeRejectProperty   = "reject_property"
	TypeChangeNotary     = "change_notary"
	TypeStartAuction     = "start_auction"
	TypePlaceBid         = "place_bid"
	TypeEndAuction       = "end_auction"
	TypeCancelAuction    = "cancel_auction"
	TypeWithdrawBid      = "withdraw_bid"
	TypeListForSale      = "list_for_sale"
	TypeCancelSale       = "cancel_sale"
	TypePurchaseProperty = "purchase_property"
	TypeCreateLease      = "create_lease"
	TypeRenewLease       = "renew_lease"
	TypeTerminateLease   = "terminate_lease"
	TypeMakePayment      = "make_payment"
	TypeTransfer         = "transfer"
)

// Msg is a command name and its JSON arguments.
type Msg struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMsg encodes payload under the given type.
func NewMsg(msgType string, payload any) (Msg, error) {
	if payload == nil {
		return Msg{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Msg{}, fmt.Errorf("encoding %s payload: %w", msgType, err)
	}
	return Msg{Type: msgType, Payload: raw}, nil
}

// DecodePayload strictly decodes the payload into v.
func (m Msg) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return errs.New(errs.InvalidInput, "%s: missing payload", m.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(m.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.New(errs.InvalidInput, "%s: %v", m.Type, err)
	}
	return nil
}

// Tx is a message signed by the account that sends it. Value is the amount
// of wei attached to the call.
type Tx struct {
	Sender    ledger.Address `json:"sender"`
	PubKey    []byte         `json:"pub_key"`
	Nonce     uint64         `json:"nonce"`
	Value     ledger.Amount  `json:"value"`
	Msg       Msg            `json:"msg"`
	Signature []byte         `json:"signature,omitempty"`
}

// SignBytes is the encoding the signature covers: the tx without its
// signature.
func (t *Tx) SignBytes() ([]byte, error) {
	unsigned := *t
	unsigned.Signature = nil
	return json.Marshal(unsigned)
}

// Sign fills in sender, public key and signature from key.
func (t *Tx) Sign(key ed25519.PrivKey) error {
	pub := key.PubKey()
	t.PubKey = pub.Bytes()
	t.Sender = ledger.AddressFromBytes(pub.Address())
	sb, err := t.SignBytes()
	if err != nil {
		return err
	}
	sig, err := key.Sign(sb)
	if err != nil {
		return fmt.Errorf("signing tx: %w", err)
	}
	t.Signature = sig
	return nil
}

// Verify checks that the signature is valid and that the sender is the
// owner of the signing key.
func (t *Tx) Verify() error {
	if len(t.PubKey) != ed25519.PubKeySize {
		return errs.New(errs.BadSignature, "public key must be %d bytes", ed25519.PubKeySize)
	}
	pub := ed25519.PubKey(t.PubKey)
	if ledger.AddressFromBytes(pub.Address()) != t.Sender {
		return errs.New(errs.BadSignature, "sender %s does not match public key", t.Sender)
	}
	sb, err := t.SignBytes()
	if err != nil {
		return err
	}
	if !pub.VerifySignature(sb, t.Signature) {
		return errs.New(errs.BadSignature, "invalid signature")
	}
	return nil
}

// Encode returns the wire form of the tx.
func (t *Tx) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// Hash is the CometBFT hash of the encoded tx.
func (t *Tx) Hash() ([]byte, error) {
	raw, err := t.Encode()
	if err != nil {
		return nil, err
	}
	return cmttypes.Tx(raw).Hash(), nil
}

// Decode parses and sanity checks a wire tx.
func Decode(raw []byte) (*Tx, error) {
	var t Tx
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, errs.New(errs.InvalidInput, "malformed tx: %v", err)
	}
	if t.Msg.Type == "" {
		return nil, errs.New(errs.InvalidInput, "tx has no message type")
	}
	if err := ledger.ValidateAmount(t.Value); err != nil {
		return nil, errs.New(errs.InvalidInput, "%v", err)
	}
	return &t, nil
}
