package tx

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/cometbft/cometbft/crypto/ed25519"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadzakiakmal/estatechain/errs"
	"github.com/ahmadzakiakmal/estatechain/ledger"
)

type propertyRef struct {
	PropertyID uint64 `json:"property_id"`
}

func signedTx(t *testing.T, key ed25519.PrivKey) *Tx {
	t.Helper()
	msg, err := NewMsg(TypePlaceBid, propertyRef{PropertyID: 1})
	require.NoError(t, err)
	tx := &Tx{Nonce: 4, Value: ledger.Wei(10), Msg: msg}
	require.NoError(t, tx.Sign(key))
	return tx
}

func TestSignAndVerify(t *testing.T) {
	key := ed25519.GenPrivKey()
	tx := signedTx(t, key)

	assert.Equal(t, ledger.AddressFromBytes(key.PubKey().Address()), tx.Sender)
	require.NoError(t, tx.Verify())

	raw, err := tx.Encode()
	require.NoError(t, err)
	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.NoError(t, decoded.Verify())

	h1, _ := tx.Hash()
	h2, _ := decoded.Hash()
	assert.Equal(t, h1, h2)
}

func TestVerifyRejectsTampering(t *testing.T) {
	key := ed25519.GenPrivKey()

	cases := map[string]func(*Tx){
		"value":     func(tx *Tx) { tx.Value = ledger.Wei(11) },
		"nonce":     func(tx *Tx) { tx.Nonce++ },
		"payload":   func(tx *Tx) { tx.Msg.Payload = json.RawMessage(`{"property_id":2}`) },
		"sender":    func(tx *Tx) { tx.Sender = ledger.AddressFromBytes(ed25519.GenPrivKey().PubKey().Address()) },
		"pub key":   func(tx *Tx) { tx.PubKey = ed25519.GenPrivKey().PubKey().Bytes() },
		"short key": func(tx *Tx) { tx.PubKey = tx.PubKey[:10] },
		"signature": func(tx *Tx) { tx.Signature[0] ^= 0xff },
	}
	for name, tamper := range cases {
		t.Run(name, func(t *testing.T) {
			tx := signedTx(t, key)
			tamper(tx)
			assert.True(t, errs.Is(tx.Verify(), errs.BadSignature))
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":       `{`,
		"no type":        `{"msg":{}}`,
		"negative value": `{"value":"-5","msg":{"type":"transfer"}}`,
		"fraction":       `{"value":"1.5","msg":{"type":"transfer"}}`,
		"huge exponent":  `{"value":"1e50000000","msg":{"type":"transfer"}}`,
		"tiny exponent":  `{"value":"1e-50000000","msg":{"type":"transfer"}}`,
		"79 digits":      `{"value":"1e78","msg":{"type":"transfer"}}`,
		"long sender":    `{"sender":"` + strings.Repeat("ab", 1000) + `","msg":{"type":"transfer"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.True(t, errs.Is(err, errs.InvalidInput), "got %v", err)
		})
	}
}

func TestDecodePayloadIsStrict(t *testing.T) {
	var ref propertyRef
	msg := Msg{Type: TypePlaceBid, Payload: json.RawMessage(`{"property_id":1,"extra":true}`)}
	assert.True(t, errs.Is(msg.DecodePayload(&ref), errs.InvalidInput))

	msg = Msg{Type: TypePlaceBid}
	assert.True(t, errs.Is(msg.DecodePayload(&ref), errs.InvalidInput))

	msg = Msg{Type: TypePlaceBid, Payload: json.RawMessage(`{"property_id":9}`)}
	require.NoError(t, msg.DecodePayload(&ref))
	assert.Equal(t, uint64(9), ref.PropertyID)
}
