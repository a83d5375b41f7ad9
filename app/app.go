package app

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/dgraph-io/badger/v4"

	"github.com/ahmadzakiakmal/estatechain/authority"
	"github.com/ahmadzakiakmal/estatechain/errs"
	"github.com/ahmadzakiakmal/estatechain/events"
	"github.com/ahmadzakiakmal/estatechain/metrics"
	"github.com/ahmadzakiakmal/estatechain/srvreg"
	"github.com/ahmadzakiakmal/estatechain/state"
	"github.com/ahmadzakiakmal/estatechain/tx"
)

var (
	lastBlockHeightKey  = []byte("last_block_height")
	lastBlockAppHashKey = []byte("last_block_app_hash")
	lastBlockTimeKey    = []byte("last_block_time")
)

// EventSink receives every committed block after Commit
type EventSink interface {
	Name() string
	Consume(ctx context.Context, block *events.Block) error
}

// Application implements the ABCI interface for the nodes
type Application struct {
	badgerDB        *badger.DB
	onGoingBlock    *badger.Txn
	pendingBlock    *events.Block
	authority       *authority.Authority
	serviceRegistry *srvreg.ServiceRegistry
	sinks           []EventSink
	metrics         *metrics.Metrics
	nodeID          string
	mu              sync.Mutex
	config          *AppConfig
	logger          cmtlog.Logger
}

// AppConfig contains configuration for the application
type AppConfig struct {
	NodeID      string
	LogAllTxs   bool          // Whether to log all transactions, even failed ones
	SinkTimeout time.Duration // Deadline for delivering a block to each sink
}

// NewABCIApplication creates a new application
func NewABCIApplication(
	badgerDB *badger.DB,
	auth *authority.Authority,
	serviceRegistry *srvreg.ServiceRegistry,
	config *AppConfig,
	logger cmtlog.Logger,
	m *metrics.Metrics,
	sinks ...EventSink,
) *Application {
	if config.SinkTimeout == 0 {
		config.SinkTimeout = 5 * time.Second
	}
	auth.RegisterQueries(serviceRegistry)
	return &Application{
		badgerDB:        badgerDB,
		authority:       auth,
		serviceRegistry: serviceRegistry,
		sinks:           sinks,
		metrics:         m,
		nodeID:          config.NodeID,
		config:          config,
		logger:          logger,
	}
}

// NodeID returns the CometBFT node ID once the node is running
func (app *Application) NodeID() string {
	return app.nodeID
}

func (app *Application) SetNodeID(id string) {
	app.nodeID = id
}

// Info implements the ABCI Info method
func (app *Application) Info(_ context.Context, info *abcitypes.InfoRequest) (*abcitypes.InfoResponse, error) {
	var (
		lastBlockHeight  int64
		lastBlockAppHash []byte
	)
	err := app.badgerDB.View(func(txn *badger.Txn) error {
		store := state.NewBadgerTxn(txn)
		raw, err := store.Get(lastBlockHeightKey)
		if err != nil {
			return err
		}
		lastBlockHeight = bytesToInt64(raw)
		lastBlockAppHash, err = store.Get(lastBlockAppHashKey)
		return err
	})
	if err != nil {
		app.logger.Error("Error getting last block info", "err", err)
	}

	return &abcitypes.InfoResponse{
		LastBlockHeight:  lastBlockHeight,
		LastBlockAppHash: lastBlockAppHash,
	}, nil
}

// Query implements the ABCI Query method. Path selects the route; the
// answer is JSON encoded in Value.
func (app *Application) Query(_ context.Context, req *abcitypes.QueryRequest) (*abcitypes.QueryResponse, error) {
	if req.Path == "" {
		return &abcitypes.QueryResponse{
			Code: errs.Code(errs.InvalidInput),
			Log:  "empty query path",
		}, nil
	}

	var (
		value  []byte
		height int64
	)
	err := app.badgerDB.View(func(txn *badger.Txn) error {
		store := state.NewBadgerTxn(txn)
		rawHeight, err := store.Get(lastBlockHeightKey)
		if err != nil {
			return err
		}
		height = bytesToInt64(rawHeight)
		rawTime, err := store.Get(lastBlockTimeKey)
		if err != nil {
			return err
		}
		value, err = app.serviceRegistry.Serve(&srvreg.Request{
			Path:   req.Path,
			Store:  store,
			Height: height,
			Time:   time.Unix(bytesToInt64(rawTime), 0).UTC(),
		})
		return err
	})
	if err != nil {
		return &abcitypes.QueryResponse{
			Code:   errs.Code(errs.KindOf(err)),
			Log:    err.Error(),
			Height: height,
		}, nil
	}

	return &abcitypes.QueryResponse{
		Key:    []byte(req.Path),
		Value:  value,
		Log:    "exists",
		Height: height,
	}, nil
}

// CheckTx implements the ABCI CheckTx method
func (app *Application) CheckTx(_ context.Context, check *abcitypes.CheckTxRequest) (*abcitypes.CheckTxResponse, error) {
	t, err := tx.Decode(check.Tx)
	if err == nil {
		err = app.badgerDB.View(func(txn *badger.Txn) error {
			return app.authority.CheckNonce(state.NewBadgerTxn(txn), t)
		})
	}
	if err != nil {
		return &abcitypes.CheckTxResponse{
			Code: errs.Code(errs.KindOf(err)),
			Log:  err.Error(),
		}, nil
	}
	return &abcitypes.CheckTxResponse{Code: abcitypes.CodeTypeOK}, nil
}

// InitChain implements the ABCI InitChain method
func (app *Application) InitChain(_ context.Context, chain *abcitypes.InitChainRequest) (*abcitypes.InitChainResponse, error) {
	genesis, err := authority.ParseGenesis(chain.AppStateBytes)
	if err != nil {
		return nil, err
	}
	if genesis.Notary.IsZero() {
		app.logger.Info("Genesis names no notary, properties cannot be approved")
	}

	err = app.badgerDB.Update(func(txn *badger.Txn) error {
		store := state.NewBadgerTxn(txn)
		if err := app.authority.InitGenesis(store, genesis); err != nil {
			return err
		}
		return store.Set(lastBlockTimeKey, int64ToBytes(chain.Time.Unix()))
	})
	if err != nil {
		return nil, fmt.Errorf("writing genesis state: %w", err)
	}
	app.logger.Info("Initialized genesis state", "notary", genesis.Notary, "accounts", len(genesis.Accounts))
	return &abcitypes.InitChainResponse{}, nil
}

// PrepareProposal implements the ABCI PrepareProposal method
func (app *Application) PrepareProposal(_ context.Context, proposal *abcitypes.PrepareProposalRequest) (*abcitypes.PrepareProposalResponse, error) {
	// Include all transactions
	return &abcitypes.PrepareProposalResponse{Txs: proposal.Txs}, nil
}

// ProcessProposal rejects blocks carrying transactions that could never
// execute: undecodable or not signed by their sender.
func (app *Application) ProcessProposal(_ context.Context, proposal *abcitypes.ProcessProposalRequest) (*abcitypes.ProcessProposalResponse, error) {
	for i, txBytes := range proposal.Txs {
		t, err := tx.Decode(txBytes)
		if err == nil {
			err = t.Verify()
		}
		if err != nil {
			app.logger.Info("Voted invalid", "height", proposal.Height, "tx", i, "err", err)
			return &abcitypes.ProcessProposalResponse{
				Status: abcitypes.PROCESS_PROPOSAL_STATUS_REJECT,
			}, nil
		}
	}
	return &abcitypes.ProcessProposalResponse{
		Status: abcitypes.PROCESS_PROPOSAL_STATUS_ACCEPT,
	}, nil
}

// FinalizeBlock implements the ABCI FinalizeBlock method. Transactions run
// one after another against the block's badger transaction.
func (app *Application) FinalizeBlock(_ context.Context, req *abcitypes.FinalizeBlockRequest) (*abcitypes.FinalizeBlockResponse, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.onGoingBlock != nil {
		app.onGoingBlock.Discard()
	}
	app.onGoingBlock = app.badgerDB.NewTransaction(true)
	store := state.NewBadgerTxn(app.onGoingBlock)
	blk := authority.Block{Height: req.Height, Time: req.Time}

	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))
	committed := &events.Block{Height: req.Height, Time: req.Time, Txs: make([]events.TxRecord, 0, len(req.Txs))}
	for i, txBytes := range req.Txs {
		result, record := app.executeTx(store, txBytes, blk)
		txResults[i] = result
		committed.Txs = append(committed.Txs, record)
	}

	prevHash, err := store.Get(lastBlockAppHashKey)
	if err != nil {
		return nil, fmt.Errorf("reading app hash: %w", err)
	}
	appHash := calculateAppHash(prevHash, txResults)

	// store block info
	if err := store.Set(lastBlockHeightKey, int64ToBytes(req.Height)); err != nil {
		return nil, fmt.Errorf("storing block height: %w", err)
	}
	if err := store.Set(lastBlockAppHashKey, appHash); err != nil {
		return nil, fmt.Errorf("storing app hash: %w", err)
	}
	if err := store.Set(lastBlockTimeKey, int64ToBytes(req.Time.Unix())); err != nil {
		return nil, fmt.Errorf("storing block time: %w", err)
	}

	app.pendingBlock = committed
	app.metrics.ObserveBlock(req.Height, len(req.Txs))

	return &abcitypes.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   appHash,
	}, nil
}

func (app *Application) executeTx(store state.Store, txBytes []byte, blk authority.Block) (*abcitypes.ExecTxResult, events.TxRecord) {
	record := events.TxRecord{Hash: hex.EncodeToString(cmttypes.Tx(txBytes).Hash())}

	t, err := tx.Decode(txBytes)
	if err != nil {
		record.Code = errs.Code(errs.KindOf(err))
		record.Log = err.Error()
		return &abcitypes.ExecTxResult{Code: record.Code, Log: record.Log}, record
	}
	record.Sender = string(t.Sender)
	record.MsgType = t.Msg.Type

	outcome, err := app.authority.Execute(store, t, blk)
	if err != nil {
		kind := errs.KindOf(err)
		record.Code = errs.Code(kind)
		record.Log = err.Error()
		app.metrics.ObserveCommand(t.Msg.Type, string(kind))
		if kind == errs.Internal {
			app.logger.Error("Transaction failed", "type", t.Msg.Type, "sender", t.Sender, "err", err)
		} else if app.config.LogAllTxs {
			app.logger.Info("Transaction rejected", "type", t.Msg.Type, "sender", t.Sender, "err", err)
		}
		return &abcitypes.ExecTxResult{Code: record.Code, Log: record.Log}, record
	}

	record.Events = outcome.Events
	app.metrics.ObserveCommand(t.Msg.Type, "")
	if app.config.LogAllTxs {
		app.logger.Info("Transaction executed", "type", t.Msg.Type, "sender", t.Sender, "events", len(outcome.Events))
	}
	return &abcitypes.ExecTxResult{
		Code:   abcitypes.CodeTypeOK,
		Data:   outcome.Data,
		Log:    "ok",
		Events: toABCIEvents(t, outcome.Events),
	}, record
}

func toABCIEvents(t *tx.Tx, evs []events.Event) []abcitypes.Event {
	out := make([]abcitypes.Event, 0, len(evs)+1)
	out = append(out, abcitypes.Event{
		Type: "estate_tx",
		Attributes: []abcitypes.EventAttribute{
			{Key: "sender", Value: string(t.Sender), Index: true},
			{Key: "msg_type", Value: t.Msg.Type, Index: true},
		},
	})
	for _, ev := range evs {
		attrs := make([]abcitypes.EventAttribute, 0, len(ev.Attributes))
		for _, a := range ev.Attributes {
			attrs = append(attrs, abcitypes.EventAttribute{Key: a.Key, Value: a.Value, Index: true})
		}
		out = append(out, abcitypes.Event{Type: ev.Type, Attributes: attrs})
	}
	return out
}

// Commit implements the ABCI Commit method
func (app *Application) Commit(ctx context.Context, commit *abcitypes.CommitRequest) (*abcitypes.CommitResponse, error) {
	app.mu.Lock()
	txn, block := app.onGoingBlock, app.pendingBlock
	app.onGoingBlock, app.pendingBlock = nil, nil
	app.mu.Unlock()

	if txn == nil {
		return &abcitypes.CommitResponse{}, nil
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("committing block: %w", err)
	}
	if block != nil {
		app.publish(ctx, block)
	}
	return &abcitypes.CommitResponse{}, nil
}

// publish hands a committed block to every sink. Sink failures never
// affect consensus; they are logged and counted.
func (app *Application) publish(ctx context.Context, block *events.Block) {
	for _, sink := range app.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, app.config.SinkTimeout)
		err := sink.Consume(sinkCtx, block)
		cancel()
		if err != nil {
			app.metrics.ObserveSinkError(sink.Name())
			app.logger.Error("Delivering block to sink", "sink", sink.Name(), "height", block.Height, "err", err)
		}
	}
}

// ListSnapshots implements the ABCI ListSnapshots method
func (app *Application) ListSnapshots(_ context.Context, snapshots *abcitypes.ListSnapshotsRequest) (*abcitypes.ListSnapshotsResponse, error) {
	return &abcitypes.ListSnapshotsResponse{}, nil
}

// OfferSnapshot implements the ABCI OfferSnapshot method
func (app *Application) OfferSnapshot(_ context.Context, snapshot *abcitypes.OfferSnapshotRequest) (*abcitypes.OfferSnapshotResponse, error) {
	return &abcitypes.OfferSnapshotResponse{}, nil
}

// LoadSnapshotChunk implements the ABCI LoadSnapshotChunk method
func (app *Application) LoadSnapshotChunk(_ context.Context, chunk *abcitypes.LoadSnapshotChunkRequest) (*abcitypes.LoadSnapshotChunkResponse, error) {
	return &abcitypes.LoadSnapshotChunkResponse{}, nil
}

// ApplySnapshotChunk implements the ABCI ApplySnapshotChunk method
func (app *Application) ApplySnapshotChunk(_ context.Context, chunk *abcitypes.ApplySnapshotChunkRequest) (*abcitypes.ApplySnapshotChunkResponse, error) {
	return &abcitypes.ApplySnapshotChunkResponse{
		Result: abcitypes.APPLY_SNAPSHOT_CHUNK_RESULT_ACCEPT,
	}, nil
}

// ExtendVote implements the ABCI ExtendVote method
func (app *Application) ExtendVote(_ context.Context, extend *abcitypes.ExtendVoteRequest) (*abcitypes.ExtendVoteResponse, error) {
	return &abcitypes.ExtendVoteResponse{}, nil
}

// VerifyVoteExtension implements the ABCI VerifyVoteExtension method
func (app *Application) VerifyVoteExtension(_ context.Context, verify *abcitypes.VerifyVoteExtensionRequest) (*abcitypes.VerifyVoteExtensionResponse, error) {
	return &abcitypes.VerifyVoteExtensionResponse{}, nil
}

// calculateAppHash chains the previous app hash with every result of the
// block, so two nodes agree on the hash only if they agree on every outcome.
func calculateAppHash(prev []byte, txResults []*abcitypes.ExecTxResult) []byte {
	hasher := sha256.New()
	hasher.Write(prev)
	code := make([]byte, 4)
	for _, result := range txResults {
		binary.BigEndian.PutUint32(code, result.Code)
		hasher.Write(code)
		hasher.Write(result.Data)
		hasher.Write([]byte(result.Log))
	}
	return hasher.Sum(nil)
}

// int64ToBytes converts an int64 to bytes
func int64ToBytes(i int64) []byte {
	return state.Uint64ToBytes(uint64(i))
}

// bytesToInt64 converts bytes to an int64
func bytesToInt64(buf []byte) int64 {
	return int64(state.BytesToUint64(buf))
}
