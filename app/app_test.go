package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/cometbft/cometbft/crypto/ed25519"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadzakiakmal/estatechain/authority"
	"github.com/ahmadzakiakmal/estatechain/errs"
	"github.com/ahmadzakiakmal/estatechain/events"
	"github.com/ahmadzakiakmal/estatechain/ledger"
	"github.com/ahmadzakiakmal/estatechain/metrics"
	"github.com/ahmadzakiakmal/estatechain/srvreg"
	"github.com/ahmadzakiakmal/estatechain/tx"
)

type recordingSink struct {
	name   string
	err    error
	blocks []*events.Block
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Consume(_ context.Context, block *events.Block) error {
	s.blocks = append(s.blocks, block)
	return s.err
}

type testApp struct {
	*Application
	metrics *metrics.Metrics
	key     ed25519.PrivKey
	sender  ledger.Address
	nonce   uint64
}

func newTestApp(t *testing.T, sinks ...EventSink) *testApp {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := cmtlog.NewNopLogger()
	m := metrics.New(prometheus.NewRegistry())
	application := NewABCIApplication(db, authority.New(), srvreg.NewServiceRegistry(logger), &AppConfig{NodeID: "node-test"}, logger, m, sinks...)

	key := ed25519.GenPrivKey()
	ta := &testApp{Application: application, metrics: m, key: key, sender: ledger.AddressFromBytes(key.PubKey().Address())}

	genesis, err := json.Marshal(authority.Genesis{
		Notary:   ta.sender,
		Accounts: []authority.GenesisAccount{{Address: ta.sender, Balance: ledger.Ether("10")}},
	})
	require.NoError(t, err)
	_, err = application.InitChain(context.Background(), &abcitypes.InitChainRequest{
		Time:          time.Unix(1_700_000_000, 0),
		AppStateBytes: genesis,
	})
	require.NoError(t, err)
	return ta
}

func (ta *testApp) signed(t *testing.T, msgType string, payload any, value ledger.Amount) []byte {
	t.Helper()
	msg, err := tx.NewMsg(msgType, payload)
	require.NoError(t, err)
	signed := &tx.Tx{Nonce: ta.nonce, Value: value, Msg: msg}
	require.NoError(t, signed.Sign(ta.key))
	ta.nonce++
	raw, err := signed.Encode()
	require.NoError(t, err)
	return raw
}

func (ta *testApp) block(t *testing.T, height int64, txs ...[]byte) *abcitypes.FinalizeBlockResponse {
	t.Helper()
	res, err := ta.FinalizeBlock(context.Background(), &abcitypes.FinalizeBlockRequest{
		Height: height,
		Time:   time.Unix(1_700_000_000+height*5, 0),
		Txs:    txs,
	})
	require.NoError(t, err)
	_, err = ta.Commit(context.Background(), &abcitypes.CommitRequest{})
	require.NoError(t, err)
	return res
}

func (ta *testApp) query(t *testing.T, path string) *abcitypes.QueryResponse {
	t.Helper()
	res, err := ta.Query(context.Background(), &abcitypes.QueryRequest{Path: path})
	require.NoError(t, err)
	return res
}

func TestBlockLifecycle(t *testing.T) {
	sink := &recordingSink{name: "recorder"}
	ta := newTestApp(t, sink)

	register := ta.signed(t, tx.TypeRegisterProperty, map[string]any{
		"address":       "5 Bay Rd",
		"size":          90,
		"property_type": "flat",
	}, ledger.Zero)
	rejected := ta.signed(t, tx.TypeApproveProperty, map[string]any{"property_id": 9}, ledger.Zero)
	res := ta.block(t, 1, register, rejected, []byte("garbage"))

	require.Len(t, res.TxResults, 3)
	assert.Equal(t, abcitypes.CodeTypeOK, res.TxResults[0].Code)
	assert.JSONEq(t, `{"id":1}`, string(res.TxResults[0].Data))
	assert.Equal(t, "estate_tx", res.TxResults[0].Events[0].Type)
	assert.Equal(t, events.TypePropertyRegistered, res.TxResults[0].Events[1].Type)
	assert.Equal(t, errs.Code(errs.NotFound), res.TxResults[1].Code)
	assert.Equal(t, errs.Code(errs.InvalidInput), res.TxResults[2].Code)
	assert.Len(t, res.AppHash, 32)

	require.Len(t, sink.blocks, 1)
	blk := sink.blocks[0]
	assert.Equal(t, int64(1), blk.Height)
	require.Len(t, blk.Txs, 3)
	assert.Equal(t, string(ta.sender), blk.Txs[0].Sender)
	assert.Equal(t, tx.TypeRegisterProperty, blk.Txs[0].MsgType)
	assert.NotEmpty(t, blk.Txs[0].Events)
	assert.Empty(t, blk.Txs[1].Events)

	info, err := ta.Info(context.Background(), &abcitypes.InfoRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.LastBlockHeight)
	assert.Equal(t, res.AppHash, info.LastBlockAppHash)

	q := ta.query(t, "/property/1")
	require.Zero(t, q.Code, q.Log)
	assert.Equal(t, int64(1), q.Height)
	var view map[string]any
	require.NoError(t, json.Unmarshal(q.Value, &view))
	assert.Equal(t, string(ta.sender), view["owner"])

	q = ta.query(t, "/account/"+string(ta.sender))
	require.Zero(t, q.Code, q.Log)
	var acc ledger.Account
	require.NoError(t, json.Unmarshal(q.Value, &acc))
	assert.Equal(t, uint64(2), acc.Nonce)

	assert.Equal(t, errs.Code(errs.NotFound), ta.query(t, "/property/2").Code)
	assert.Equal(t, errs.Code(errs.InvalidInput), ta.query(t, "").Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(ta.metrics.Commands.WithLabelValues(tx.TypeRegisterProperty, metrics.ResultOK, "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ta.metrics.BlockHeight))
}

func TestAppHashChainsBlocks(t *testing.T) {
	ta := newTestApp(t)
	first := ta.block(t, 1)
	second := ta.block(t, 2)
	assert.NotEqual(t, first.AppHash, second.AppHash, "an empty block still moves the hash forward")

	results := []*abcitypes.ExecTxResult{{Code: 0, Data: []byte(`{"id":1}`), Log: "ok"}}
	h1 := calculateAppHash(first.AppHash, results)
	assert.Equal(t, h1, calculateAppHash(first.AppHash, results))
	assert.NotEqual(t, h1, calculateAppHash(second.AppHash, results))
	assert.NotEqual(t, h1, calculateAppHash(first.AppHash, []*abcitypes.ExecTxResult{{Code: 3, Log: "ok"}}))
}

func TestCheckTx(t *testing.T) {
	ta := newTestApp(t)
	ctx := context.Background()

	ok := ta.signed(t, tx.TypeTransfer, map[string]any{"to": string(ta.sender)}, ledger.Wei(1))
	res, err := ta.CheckTx(ctx, &abcitypes.CheckTxRequest{Tx: ok})
	require.NoError(t, err)
	assert.Equal(t, abcitypes.CodeTypeOK, res.Code)

	res, err = ta.CheckTx(ctx, &abcitypes.CheckTxRequest{Tx: []byte(`{"msg":{}}`)})
	require.NoError(t, err)
	assert.Equal(t, errs.Code(errs.InvalidInput), res.Code)

	var forged tx.Tx
	require.NoError(t, json.Unmarshal(ok, &forged))
	forged.Nonce = 7
	raw, _ := forged.Encode()
	res, err = ta.CheckTx(ctx, &abcitypes.CheckTxRequest{Tx: raw})
	require.NoError(t, err)
	assert.Equal(t, errs.Code(errs.BadSignature), res.Code)

	proposal, err := ta.ProcessProposal(ctx, &abcitypes.ProcessProposalRequest{Txs: [][]byte{ok, raw}})
	require.NoError(t, err)
	assert.Equal(t, abcitypes.PROCESS_PROPOSAL_STATUS_REJECT, proposal.Status)
	proposal, err = ta.ProcessProposal(ctx, &abcitypes.ProcessProposalRequest{Txs: [][]byte{ok}})
	require.NoError(t, err)
	assert.Equal(t, abcitypes.PROCESS_PROPOSAL_STATUS_ACCEPT, proposal.Status)
}

func TestSinkFailureDoesNotStopCommit(t *testing.T) {
	failing := &recordingSink{name: "broken", err: errors.New("unreachable")}
	healthy := &recordingSink{name: "recorder"}
	ta := newTestApp(t, failing, healthy)

	ta.block(t, 1, ta.signed(t, tx.TypeTransfer, map[string]any{"to": string(ta.sender)}, ledger.Wei(1)))
	assert.Len(t, failing.blocks, 1)
	assert.Len(t, healthy.blocks, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(ta.metrics.SinkErrors.WithLabelValues("broken")))

	info, err := ta.Info(context.Background(), &abcitypes.InfoRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.LastBlockHeight)
}

func TestCommitWithoutBlock(t *testing.T) {
	ta := newTestApp(t)
	_, err := ta.Commit(context.Background(), &abcitypes.CommitRequest{})
	assert.NoError(t, err)
}
