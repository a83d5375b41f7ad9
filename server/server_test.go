package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/cometbft/cometbft/crypto/ed25519"
	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	ctypes "github.com/cometbft/cometbft/rpc/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadzakiakmal/estatechain/errs"
	"github.com/ahmadzakiakmal/estatechain/ledger"
	"github.com/ahmadzakiakmal/estatechain/repository"
	"github.com/ahmadzakiakmal/estatechain/repository/models"
	"github.com/ahmadzakiakmal/estatechain/tx"
)

type fakeChain struct {
	queries map[string]abcitypes.QueryResponse
	txs     map[string]*ctypes.ResultTx
	down    bool
}

func (f *fakeChain) ABCIQuery(_ context.Context, path string, _ cmtbytes.HexBytes) (*ctypes.ResultABCIQuery, error) {
	res, ok := f.queries[path]
	if !ok {
		res = abcitypes.QueryResponse{Code: errs.Code(errs.NotFound), Log: "no query handler for " + path}
	}
	return &ctypes.ResultABCIQuery{Response: res}, nil
}

func (f *fakeChain) ABCIInfo(context.Context) (*ctypes.ResultABCIInfo, error) {
	if f.down {
		return nil, errors.New("connection refused")
	}
	return &ctypes.ResultABCIInfo{Response: abcitypes.InfoResponse{LastBlockHeight: 9, LastBlockAppHash: []byte{0xab}}}, nil
}

func (f *fakeChain) Status(context.Context) (*ctypes.ResultStatus, error) {
	if f.down {
		return nil, errors.New("connection refused")
	}
	return &ctypes.ResultStatus{SyncInfo: ctypes.SyncInfo{LatestBlockHeight: 9}}, nil
}

func (f *fakeChain) Tx(_ context.Context, hash []byte, _ bool) (*ctypes.ResultTx, error) {
	res, ok := f.txs[hex.EncodeToString(hash)]
	if !ok {
		return nil, errors.New("tx not found")
	}
	return res, nil
}

type fakeRepository struct {
	submitted [][]byte
	result    *repository.ConsensusResult
	err       *repository.RepositoryError
	filter    repository.EventFilter
}

func (f *fakeRepository) RunConsensus(_ context.Context, txBytes []byte) (*repository.ConsensusResult, *repository.RepositoryError) {
	f.submitted = append(f.submitted, txBytes)
	return f.result, f.err
}

func (f *fakeRepository) Events(_ context.Context, filter repository.EventFilter) ([]models.EventRecord, *repository.RepositoryError) {
	f.filter = filter
	return []models.EventRecord{{ID: 1, Type: "BidPlaced"}}, f.err
}

func (f *fakeRepository) BidHistory(_ context.Context, propertyID uint64) ([]models.Bid, *repository.RepositoryError) {
	return []models.Bid{{PropertyID: propertyID, Bidder: "BIDDER", Amount: "5"}}, f.err
}

func (f *fakeRepository) Sales(_ context.Context, propertyID uint64) ([]models.SaleRecord, *repository.RepositoryError) {
	return []models.SaleRecord{{SaleID: 1, PropertyID: propertyID}}, f.err
}

func (f *fakeRepository) Payments(_ context.Context, leaseID uint64) ([]models.LeasePayment, *repository.RepositoryError) {
	return []models.LeasePayment{{LeaseID: leaseID, TransactionType: "RENT"}}, f.err
}

func newTestServer(chain *fakeChain, repo *fakeRepository) *WebServer {
	return NewWebServer(Config{HTTPPort: "0", NodeID: "node-a", RPCAddress: "tcp://127.0.0.1:26657"},
		cmtlog.NewNopLogger(), chain, repo, prometheus.NewRegistry())
}

func do(t *testing.T, ws *WebServer, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)
	return rec
}

func signedTx(t *testing.T) []byte {
	t.Helper()
	msg, err := tx.NewMsg(tx.TypePlaceBid, map[string]uint64{"property_id": 1})
	require.NoError(t, err)
	signed := &tx.Tx{Value: ledger.Wei(10), Msg: msg}
	require.NoError(t, signed.Sign(ed25519.GenPrivKey()))
	raw, err := signed.Encode()
	require.NoError(t, err)
	return raw
}

func TestSubmitTx(t *testing.T) {
	repo := &fakeRepository{result: &repository.ConsensusResult{
		TxHash:      "abcd",
		BlockHeight: 3,
		Data:        json.RawMessage(`{"id":1}`),
		Log:         "ok",
	}}
	ws := newTestServer(&fakeChain{}, repo)

	rec := do(t, ws, http.MethodPost, "/tx", signedTx(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.Len(t, repo.submitted, 1)

	var res struct {
		Body   json.RawMessage   `json:"body"`
		Meta   TransactionStatus `json:"meta"`
		NodeID string            `json:"node_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.JSONEq(t, `{"id":1}`, string(res.Body))
	assert.Equal(t, "confirmed", res.Meta.Status)
	assert.Equal(t, int64(3), res.Meta.BlockHeight)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), res.Meta.RequestID)
	assert.Equal(t, "node-a", res.NodeID)
}

func TestSubmitTxRejectsBadInput(t *testing.T) {
	repo := &fakeRepository{}
	ws := newTestServer(&fakeChain{}, repo)

	rec := do(t, ws, http.MethodPost, "/tx", []byte("not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var signed tx.Tx
	require.NoError(t, json.Unmarshal(signedTx(t), &signed))
	signed.Nonce = 3
	tampered, _ := signed.Encode()
	rec = do(t, ws, http.MethodPost, "/tx", tampered)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, repo.submitted, "invalid txs never reach consensus")
}

func TestSubmitTxRepositoryErrors(t *testing.T) {
	cases := map[string]struct {
		err    *repository.RepositoryError
		status int
	}{
		"rejected not for sale": {&repository.RepositoryError{Code: repository.ErrCodeRejected, Kind: errs.NotForSale, Detail: "property 1 is not for sale"}, http.StatusConflict},
		"rejected bad nonce":    {&repository.RepositoryError{Code: repository.ErrCodeRejected, Kind: errs.BadNonce}, http.StatusBadRequest},
		"rejected unauthorized": {&repository.RepositoryError{Code: repository.ErrCodeRejected, Kind: errs.Unauthorized}, http.StatusForbidden},
		"timeout":               {&repository.RepositoryError{Code: repository.ErrCodeTimeout}, http.StatusGatewayTimeout},
		"consensus":             {&repository.RepositoryError{Code: repository.ErrCodeConsensus}, http.StatusInternalServerError},
		"database":              {&repository.RepositoryError{Code: repository.ErrCodeDatabase}, http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ws := newTestServer(&fakeChain{}, &fakeRepository{err: tc.err})
			rec := do(t, ws, http.MethodPost, "/tx", signedTx(t))
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}

	ws := newTestServer(&fakeChain{}, &fakeRepository{err: &repository.RepositoryError{
		Code: repository.ErrCodeRejected, Kind: errs.WrongAmount, Detail: "property 1 costs 5 wei, got 4",
	}})
	rec := do(t, ws, http.MethodPost, "/tx", signedTx(t))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(errs.WrongAmount), body["kind"])
	assert.Equal(t, "property 1 costs 5 wei, got 4", body["error"])
}

func TestQueryProxy(t *testing.T) {
	chain := &fakeChain{queries: map[string]abcitypes.QueryResponse{
		"/property/1": {Value: []byte(`{"id":1}`), Height: 8},
		"/property/x": {Code: errs.Code(errs.InvalidInput), Log: "id: invalid id \"x\""},
	}}
	ws := newTestServer(chain, &fakeRepository{})

	rec := do(t, ws, http.MethodGet, "/query/property/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":1}`, rec.Body.String())
	assert.Equal(t, "8", rec.Header().Get("X-Block-Height"))

	rec = do(t, ws, http.MethodGet, "/query/property/x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, ws, http.MethodGet, "/query/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(errs.NotFound), body["kind"])
}

func TestTransactionStatus(t *testing.T) {
	chain := &fakeChain{txs: map[string]*ctypes.ResultTx{
		"abcd": {
			Hash:   []byte{0xab, 0xcd},
			Height: 4,
			TxResult: abcitypes.ExecTxResult{
				Code: errs.Code(errs.BidTooLow),
				Log:  "bid too low",
				Events: []abcitypes.Event{{Type: "estate_tx", Attributes: []abcitypes.EventAttribute{
					{Key: "msg_type", Value: "place_bid"},
				}}},
			},
		},
	}}
	ws := newTestServer(chain, &fakeRepository{})

	rec := do(t, ws, http.MethodGet, "/tx/0xABCD", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		Status TransactionStatus `json:"status"`
		Data   json.RawMessage   `json:"data"`
		Events []struct {
			Type       string            `json:"type"`
			Attributes map[string]string `json:"attributes"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "failed", res.Status.Status)
	assert.Equal(t, errs.BidTooLow, res.Status.Kind)
	assert.Equal(t, "null", string(res.Data))
	require.Len(t, res.Events, 1)
	assert.Equal(t, "place_bid", res.Events[0].Attributes["msg_type"])

	assert.Equal(t, http.StatusBadRequest, do(t, ws, http.MethodGet, "/tx/zz", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, ws, http.MethodGet, "/tx/ffff", nil).Code)
}

func TestProjectionRoutes(t *testing.T) {
	repo := &fakeRepository{}
	ws := newTestServer(&fakeChain{}, repo)

	rec := do(t, ws, http.MethodGet, "/auctions/5/bids", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bids []models.Bid
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bids))
	assert.Equal(t, uint64(5), bids[0].PropertyID)

	assert.Equal(t, http.StatusOK, do(t, ws, http.MethodGet, "/properties/5/sales", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, ws, http.MethodGet, "/leases/2/payments", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, ws, http.MethodGet, "/leases/two/payments", nil).Code)

	rec = do(t, ws, http.MethodGet, "/events?type=BidPlaced&property=5&sender=BIDDER&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BidPlaced", repo.filter.Type)
	require.NotNil(t, repo.filter.PropertyID)
	assert.Equal(t, uint64(5), *repo.filter.PropertyID)
	assert.Nil(t, repo.filter.LeaseID)
	assert.Equal(t, "BIDDER", repo.filter.Sender)
	assert.Equal(t, 10, repo.filter.Limit)

	assert.Equal(t, http.StatusBadRequest, do(t, ws, http.MethodGet, "/events?lease=x", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, ws, http.MethodGet, "/events?limit=many", nil).Code)

	repo.err = &repository.RepositoryError{Code: repository.ErrCodeDatabase, Message: "Database error occured"}
	assert.Equal(t, http.StatusInternalServerError, do(t, ws, http.MethodGet, "/auctions/5/bids", nil).Code)
}

func TestDebugAndMetrics(t *testing.T) {
	ws := newTestServer(&fakeChain{}, &fakeRepository{})
	rec := do(t, ws, http.MethodGet, "/debug", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "online", info["node_status"])
	assert.Equal(t, float64(9), info["last_block_height"])
	assert.Equal(t, "AB", info["last_block_app_hash"])

	ws = newTestServer(&fakeChain{down: true}, &fakeRepository{})
	rec = do(t, ws, http.MethodGet, "/debug", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "offline", info["node_status"])

	assert.Equal(t, http.StatusOK, do(t, ws, http.MethodGet, "/metrics", nil).Code)
	rec = do(t, ws, http.MethodGet, "/", nil)
	assert.Contains(t, rec.Body.String(), "node-a")
	assert.Contains(t, rec.Body.String(), "http://localhost:26657")
}

func TestStatusForKind(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, statusForKind(errs.BadSignature))
	assert.Equal(t, http.StatusNotFound, statusForKind(errs.NotFound))
	assert.Equal(t, http.StatusConflict, statusForKind(errs.InsufficientFunds))
	assert.Equal(t, http.StatusInternalServerError, statusForKind(errs.Internal))
}

func TestRequestIDPassThrough(t *testing.T) {
	ws := newTestServer(&fakeChain{}, &fakeRepository{})
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
