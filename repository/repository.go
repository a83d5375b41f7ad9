package repository

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmtrpctypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ahmadzakiakmal/estatechain/errs"
	"github.com/ahmadzakiakmal/estatechain/events"
	"github.com/ahmadzakiakmal/estatechain/repository/models"
)

// PostgreSQL error codes as constants
const (
	// Class 23: Integrity Constraint Violation
	PgErrForeignKeyViolation = "23503" // foreign_key_violation
	PgErrUniqueViolation     = "23505" // unique_violation
	PgErrCheckViolation      = "23514" // check_violation
	PgErrNotNullViolation    = "23502" // not_null_violation

	// Class 08: Connection Exception
	PgErrConnectionException = "08000" // connection_exception
	PgErrConnectionFailure   = "08006" // connection_failure

	// Class 42: Syntax Error or Access Rule Violation
	PgErrUndefinedTable = "42P01" // undefined_table
)

// Repository error codes that are not SQLSTATE values
const (
	ErrCodeDatabase      = "DATABASE_ERROR"
	ErrCodeSerialization = "SERIALIZATION_ERROR"
	ErrCodeConsensus     = "CONSENSUS_ERROR"
	ErrCodeTimeout       = "CONSENSUS_TIMEOUT"
	ErrCodeRejected      = "TX_REJECTED"
	ErrCodeConfig        = "CONFIG_ERROR"
)

// ConsensusResult contains the result of a consensus operation
type ConsensusResult struct {
	TxHash      string          `json:"tx_hash"`
	BlockHeight int64           `json:"block_height"`
	Code        uint32          `json:"code"`
	Data        json.RawMessage `json:"data,omitempty"`
	Log         string          `json:"log,omitempty"`
}

// RepositoryError represent an error in the repository layer (db/rpc)
type RepositoryError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	// Kind is set when the chain rejected a transaction
	Kind errs.Kind `json:"kind,omitempty"`
}

func (e *RepositoryError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
}

// BroadcastClient is the part of the CometBFT RPC client used to submit txs
type BroadcastClient interface {
	BroadcastTxCommit(ctx context.Context, tx cmttypes.Tx) (*cmtrpctypes.ResultBroadcastTxCommit, error)
}

// Repository keeps a relational projection of committed events and submits
// transactions to the local node
type Repository struct {
	db        *gorm.DB
	rpcClient BroadcastClient
	logger    cmtlog.Logger
}

func NewRepository(logger cmtlog.Logger) *Repository {
	return &Repository{logger: logger}
}

// Dialector picks the gorm driver for a DSN. DSNs prefixed with "sqlite:"
// open a SQLite database, anything else is handed to Postgres.
func Dialector(dsn string) gorm.Dialector {
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		return sqlite.Open(path)
	}
	return postgres.Open(dsn)
}

// ConnectDB opens the database, retrying while it comes up
func (r *Repository) ConnectDB(dsn string, attempts int, backoff time.Duration) error {
	var lastErr error
	for i := range attempts {
		r.logger.Info("Connecting to projection database", "attempt", i+1)
		db, err := gorm.Open(Dialector(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err == nil {
			r.db = db
			r.logger.Info("Connected to projection database")
			return nil
		}
		lastErr = err
		r.logger.Error("Connection attempt failed", "attempt", i+1, "err", err)
		time.Sleep(backoff)
	}
	return fmt.Errorf("connecting to projection database: %w", lastErr)
}

// UseDB installs an already opened database
func (r *Repository) UseDB(db *gorm.DB) {
	r.db = db
}

// Migrate creates or updates the projection tables
func (r *Repository) Migrate() error {
	err := r.db.AutoMigrate(
		&models.EventRecord{},
		&models.Bid{},
		&models.SaleRecord{},
		&models.LeasePayment{},
	)
	if err != nil {
		return fmt.Errorf("migrating projection: %w", err)
	}
	r.logger.Info("Database migration completed successfully")
	return nil
}

func (r *Repository) SetupRpcClient(rpcClient BroadcastClient) {
	r.rpcClient = rpcClient
}

// toRepositoryError maps a gorm or driver error
func toRepositoryError(err error) *RepositoryError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &RepositoryError{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
		}
	}
	return &RepositoryError{
		Code:    ErrCodeDatabase,
		Message: "Database error occured",
		Detail:  err.Error(),
	}
}

// Name identifies the repository as an event sink
func (r *Repository) Name() string {
	return "projection"
}

// Consume projects a committed block. Replaying a block is harmless: rows
// are keyed by tx hash and event position.
func (r *Repository) Consume(ctx context.Context, block *events.Block) error {
	if block.Count() == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(dbTx *gorm.DB) error {
		for _, t := range block.Txs {
			if t.Code != 0 {
				continue
			}
			for i, ev := range t.Events {
				if err := r.project(dbTx, block, t, i, ev); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return toRepositoryError(err)
	}
	return nil
}

func (r *Repository) project(dbTx *gorm.DB, block *events.Block, t events.TxRecord, index int, ev events.Event) error {
	attrs, err := json.Marshal(ev.Attributes)
	if err != nil {
		return err
	}
	record := models.EventRecord{
		Height:     block.Height,
		TxHash:     t.Hash,
		EventIndex: index,
		Type:       ev.Type,
		Sender:     t.Sender,
		PropertyID: uintAttr(ev, "propertyId"),
		LeaseID:    uintAttr(ev, "leaseId"),
		Attributes: string(attrs),
		BlockTime:  block.Time,
	}
	onConflict := clause.OnConflict{DoNothing: true}
	if err := dbTx.Clauses(onConflict).Create(&record).Error; err != nil {
		return err
	}

	switch ev.Type {
	case events.TypeBidPlaced:
		bid := models.Bid{
			PropertyID: derefUint(record.PropertyID),
			Bidder:     attr(ev, "bidder"),
			Amount:     attr(ev, "amount"),
			Height:     block.Height,
			TxHash:     t.Hash,
			PlacedAt:   block.Time,
		}
		return dbTx.Clauses(onConflict).Create(&bid).Error

	case events.TypePropertySold, events.TypeAuctionEnded:
		saleID := uintAttr(ev, "saleId")
		if saleID == nil || *saleID == 0 {
			return nil
		}
		rec := models.SaleRecord{
			SaleID:     *saleID,
			PropertyID: derefUint(record.PropertyID),
			Seller:     attr(ev, "seller"),
			Buyer:      attr(ev, "buyer"),
			Price:      attr(ev, "price"),
			Via:        "sale",
			Height:     block.Height,
			SoldAt:     block.Time,
		}
		if ev.Type == events.TypeAuctionEnded {
			rec.Buyer = attr(ev, "winner")
			rec.Price = attr(ev, "winningBid")
			rec.Via = "auction"
		}
		return dbTx.Clauses(onConflict).Create(&rec).Error

	case events.TypeRentPaid, events.TypeDepositPaid:
		payment := models.LeasePayment{
			LeaseID:         derefUint(record.LeaseID),
			Tenant:          attr(ev, "tenant"),
			Amount:          attr(ev, "amount"),
			TransactionType: "SECURITY_DEPOSIT",
			Height:          block.Height,
			TxHash:          t.Hash,
			PaidAt:          block.Time,
		}
		if ev.Type == events.TypeRentPaid {
			payment.TransactionType = "RENT"
			payment.Month, _ = strconv.Atoi(attr(ev, "month"))
		}
		return dbTx.Clauses(onConflict).Create(&payment).Error
	}
	return nil
}

func attr(ev events.Event, key string) string {
	v, _ := ev.Get(key)
	return v
}

func uintAttr(ev events.Event, key string) *uint64 {
	v, ok := ev.Get(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func derefUint(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}

// EventFilter narrows an event listing
type EventFilter struct {
	Type       string
	PropertyID *uint64
	LeaseID    *uint64
	Sender     string
	Limit      int
}

// Events lists projected events, newest first
func (r *Repository) Events(ctx context.Context, filter EventFilter) ([]models.EventRecord, *RepositoryError) {
	query := r.db.WithContext(ctx).Model(&models.EventRecord{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.PropertyID != nil {
		query = query.Where("property_id = ?", *filter.PropertyID)
	}
	if filter.LeaseID != nil {
		query = query.Where("lease_id = ?", *filter.LeaseID)
	}
	if filter.Sender != "" {
		query = query.Where("sender = ?", filter.Sender)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var records []models.EventRecord
	err := query.Order("height DESC").Order("id DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, toRepositoryError(err)
	}
	return records, nil
}

// BidHistory lists every accepted bid on a property in the order placed
func (r *Repository) BidHistory(ctx context.Context, propertyID uint64) ([]models.Bid, *RepositoryError) {
	var bids []models.Bid
	err := r.db.WithContext(ctx).
		Where("property_id = ?", propertyID).
		Order("height ASC").Order("id ASC").
		Find(&bids).Error
	if err != nil {
		return nil, toRepositoryError(err)
	}
	return bids, nil
}

// Sales lists the transfers of a property
func (r *Repository) Sales(ctx context.Context, propertyID uint64) ([]models.SaleRecord, *RepositoryError) {
	var sales []models.SaleRecord
	err := r.db.WithContext(ctx).
		Where("property_id = ?", propertyID).
		Order("sale_id ASC").
		Find(&sales).Error
	if err != nil {
		return nil, toRepositoryError(err)
	}
	return sales, nil
}

// Payments lists the payments made under a lease
func (r *Repository) Payments(ctx context.Context, leaseID uint64) ([]models.LeasePayment, *RepositoryError) {
	var payments []models.LeasePayment
	err := r.db.WithContext(ctx).
		Where("lease_id = ?", leaseID).
		Order("height ASC").Order("id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, toRepositoryError(err)
	}
	return payments, nil
}

// RunConsensus broadcasts a signed transaction and waits until it is
// committed
func (r *Repository) RunConsensus(ctx context.Context, txBytes []byte) (*ConsensusResult, *RepositoryError) {
	if r.rpcClient == nil {
		return nil, &RepositoryError{
			Code:    ErrCodeConfig,
			Message: "No RPC client configured",
		}
	}

	// Use a channel to detect both context deadline and RPC completion
	done := make(chan struct {
		result *cmtrpctypes.ResultBroadcastTxCommit
		err    error
	}, 1)

	go func() {
		result, err := r.rpcClient.BroadcastTxCommit(ctx, cmttypes.Tx(txBytes))
		done <- struct {
			result *cmtrpctypes.ResultBroadcastTxCommit
			err    error
		}{result, err}
	}()

	// Wait for either the operation to complete or context to be canceled
	select {
	case <-ctx.Done():
		return nil, &RepositoryError{
			Code:    ErrCodeTimeout,
			Message: "Consensus operation timed out",
			Detail:  ctx.Err().Error(),
		}
	case result := <-done:
		if result.err != nil {
			return nil, &RepositoryError{
				Code:    ErrCodeConsensus,
				Message: "Failed to commit to blockchain",
				Detail:  result.err.Error(),
			}
		}

		res := result.result
		if res.CheckTx.Code != 0 {
			return nil, &RepositoryError{
				Code:    ErrCodeRejected,
				Message: "Blockchain rejected transaction",
				Detail:  res.CheckTx.Log,
				Kind:    errs.FromCode(res.CheckTx.Code),
			}
		}
		if res.TxResult.Code != 0 {
			return nil, &RepositoryError{
				Code:    ErrCodeRejected,
				Message: "Transaction failed",
				Detail:  res.TxResult.Log,
				Kind:    errs.FromCode(res.TxResult.Code),
			}
		}

		return &ConsensusResult{
			TxHash:      hex.EncodeToString(res.Hash),
			BlockHeight: res.Height,
			Code:        res.TxResult.Code,
			Data:        res.TxResult.Data,
			Log:         res.TxResult.Log,
		}, nil
	}
}
