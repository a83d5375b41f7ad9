package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	ctypes "github.com/cometbft/cometbft/rpc/core/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahmadzakiakmal/estatechain/errs"
	"github.com/ahmadzakiakmal/estatechain/repository"
	"github.com/ahmadzakiakmal/estatechain/repository/models"
	"github.com/ahmadzakiakmal/estatechain/tx"
)

const maxTxBytes = 1 << 20

// ChainClient is the part of the CometBFT RPC client the server reads from
type ChainClient interface {
	ABCIQuery(ctx context.Context, path string, data cmtbytes.HexBytes) (*ctypes.ResultABCIQuery, error)
	ABCIInfo(ctx context.Context) (*ctypes.ResultABCIInfo, error)
	Status(ctx context.Context) (*ctypes.ResultStatus, error)
	Tx(ctx context.Context, hash []byte, prove bool) (*ctypes.ResultTx, error)
}

// Repository submits transactions and serves the relational projection
type Repository interface {
	RunConsensus(ctx context.Context, txBytes []byte) (*repository.ConsensusResult, *repository.RepositoryError)
	Events(ctx context.Context, filter repository.EventFilter) ([]models.EventRecord, *repository.RepositoryError)
	BidHistory(ctx context.Context, propertyID uint64) ([]models.Bid, *repository.RepositoryError)
	Sales(ctx context.Context, propertyID uint64) ([]models.SaleRecord, *repository.RepositoryError)
	Payments(ctx context.Context, leaseID uint64) ([]models.LeasePayment, *repository.RepositoryError)
}

// Config describes the node the server fronts
type Config struct {
	HTTPPort      string
	NodeID        string
	RPCAddress    string
	P2PAddress    string
	CommitTimeout time.Duration
}

// WebServer handles HTTP requests
type WebServer struct {
	httpAddr   string
	server     *http.Server
	router     chi.Router
	logger     cmtlog.Logger
	startTime  time.Time
	chain      ChainClient
	repository Repository
	config     Config
}

// TransactionStatus is the consensus status of a submitted transaction
type TransactionStatus struct {
	TxID        string    `json:"tx_id"`
	RequestID   string    `json:"request_id,omitempty"`
	Status      string    `json:"status"`
	BlockHeight int64     `json:"block_height"`
	Code        uint32    `json:"code"`
	Kind        errs.Kind `json:"kind,omitempty"`
	Log         string    `json:"log,omitempty"`
	ConfirmTime time.Time `json:"confirm_time"`
}

// ClientResponse is the response format sent to clients
type ClientResponse struct {
	Body   any               `json:"body"`
	Meta   TransactionStatus `json:"meta"`
	NodeID string            `json:"node_id"`
}

// NewWebServer creates a new web server. gatherer backs /metrics and may be
// nil to omit the endpoint.
func NewWebServer(config Config, logger cmtlog.Logger, chain ChainClient, repo Repository, gatherer prometheus.Gatherer) *WebServer {
	if config.CommitTimeout == 0 {
		config.CommitTimeout = 30 * time.Second
	}
	ws := &WebServer{
		httpAddr:   ":" + config.HTTPPort,
		logger:     logger,
		startTime:  time.Now(),
		chain:      chain,
		repository: repo,
		config:     config,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(ws.requestID)
	r.Use(ws.logRequests)

	r.Get("/", ws.handleRoot)
	r.Get("/debug", ws.handleDebug)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Post("/tx", ws.handleSubmitTx)
	r.Get("/tx/{hash}", ws.handleTransactionStatus)
	r.Get("/query/*", ws.handleQuery)
	r.Get("/auctions/{id}/bids", ws.handleBidHistory)
	r.Get("/properties/{id}/sales", ws.handleSales)
	r.Get("/leases/{id}/payments", ws.handlePayments)
	r.Get("/events", ws.handleEvents)

	ws.router = r
	ws.server = &http.Server{
		Addr:    ws.httpAddr,
		Handler: r,
	}
	return ws
}

// Handler exposes the router, mainly for tests
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start starts the web server
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting web server", "addr", ws.httpAddr)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error("web server error: ", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

type requestIDKey struct{}

func (ws *WebServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (ws *WebServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		ws.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", requestIDFrom(r.Context()),
		)
	})
}

// handleRoot shows node status
func (ws *WebServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte("<h1>Estate Chain Node</h1>"))
	w.Write([]byte("<p>Node ID: " + ws.config.NodeID + "</p>"))
	rpcPort := extractPortFromAddress(ws.config.RPCAddress)
	rpcAddrHtml := fmt.Sprintf("<p>RPC Address: <a href=\"http://localhost:%s\">http://localhost:%s</a>", rpcPort, rpcPort)
	w.Write([]byte(rpcAddrHtml))
}

// handleDebug provides debugging information
func (ws *WebServer) handleDebug(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	debugInfo := map[string]any{
		"node_id":     ws.config.NodeID,
		"node_status": "online",
		"p2p_address": ws.config.P2PAddress,
		"rpc_address": ws.config.RPCAddress,
		"uptime":      time.Since(ws.startTime).String(),
	}

	status, err := ws.chain.Status(ctx)
	if err != nil {
		debugInfo["node_status"] = "offline"
		debugInfo["tendermint_error"] = err.Error()
	} else {
		if status.SyncInfo.CatchingUp {
			debugInfo["node_status"] = "syncing"
		}
		debugInfo["latest_block_height"] = status.SyncInfo.LatestBlockHeight
		debugInfo["latest_block_time"] = status.SyncInfo.LatestBlockTime
		debugInfo["catching_up"] = status.SyncInfo.CatchingUp
	}

	abciInfo, err := ws.chain.ABCIInfo(ctx)
	if err != nil {
		debugInfo["abci_error"] = err.Error()
	} else {
		debugInfo["last_block_height"] = abciInfo.Response.LastBlockHeight
		debugInfo["last_block_app_hash"] = fmt.Sprintf("%X", abciInfo.Response.LastBlockAppHash)
	}

	writeJSON(w, http.StatusOK, debugInfo)
}

// handleSubmitTx broadcasts a signed transaction and waits for its block
func (ws *WebServer) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBytes))
	if err != nil {
		JSONError(w, "Failed to read request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	t, err := tx.Decode(body)
	if err == nil {
		err = t.Verify()
	}
	if err != nil {
		JSONError(w, err.Error(), statusForKind(errs.KindOf(err)))
		return
	}
	txBytes, err := t.Encode()
	if err != nil {
		JSONError(w, "Failed to encode transaction: "+err.Error(), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ws.config.CommitTimeout)
	defer cancel()
	result, repoErr := ws.repository.RunConsensus(ctx, txBytes)
	if repoErr != nil {
		ws.writeRepositoryError(w, requestID, repoErr)
		return
	}

	var data any
	if len(result.Data) > 0 {
		data = result.Data
	}
	ws.logger.Info("Transaction committed",
		"type", t.Msg.Type,
		"sender", t.Sender,
		"tx", result.TxHash,
		"height", result.BlockHeight,
		"request_id", requestID,
	)
	writeJSON(w, http.StatusOK, ClientResponse{
		Body: data,
		Meta: TransactionStatus{
			TxID:        result.TxHash,
			RequestID:   requestID,
			Status:      "confirmed",
			BlockHeight: result.BlockHeight,
			Code:        result.Code,
			Log:         result.Log,
			ConfirmTime: time.Now(),
		},
		NodeID: ws.config.NodeID,
	})
}

func (ws *WebServer) writeRepositoryError(w http.ResponseWriter, requestID string, repoErr *repository.RepositoryError) {
	switch repoErr.Code {
	case repository.ErrCodeRejected:
		status := statusForKind(repoErr.Kind)
		writeJSON(w, status, map[string]any{
			"error":      repoErr.Detail,
			"kind":       repoErr.Kind,
			"code":       errs.Code(repoErr.Kind),
			"request_id": requestID,
		})
	case repository.ErrCodeTimeout:
		JSONError(w, "Consensus timed out: "+repoErr.Detail, http.StatusGatewayTimeout)
	case repository.ErrCodeConsensus:
		JSONError(w, "Consensus error occurred: "+repoErr.Detail, http.StatusInternalServerError)
	default:
		ws.logger.Error("Repository error", "err", repoErr, "request_id", requestID)
		JSONError(w, "An error occured: "+repoErr.Message, http.StatusInternalServerError)
	}
}

// handleTransactionStatus returns the status of a committed transaction
func (ws *WebServer) handleTransactionStatus(w http.ResponseWriter, r *http.Request) {
	hash, err := hex.DecodeString(strings.TrimPrefix(chi.URLParam(r, "hash"), "0x"))
	if err != nil || len(hash) == 0 {
		JSONError(w, "Invalid transaction hash", http.StatusBadRequest)
		return
	}

	res, err := ws.chain.Tx(r.Context(), hash, false)
	if err != nil {
		JSONError(w, "Transaction not found", http.StatusNotFound)
		return
	}

	status := "confirmed"
	var kind errs.Kind
	if res.TxResult.Code != 0 {
		status = "failed"
		kind = errs.FromCode(res.TxResult.Code)
	}
	var events []map[string]any
	for _, ev := range res.TxResult.Events {
		attrs := make(map[string]string, len(ev.Attributes))
		for _, a := range ev.Attributes {
			attrs[a.Key] = a.Value
		}
		events = append(events, map[string]any{"type": ev.Type, "attributes": attrs})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": TransactionStatus{
			TxID:        hex.EncodeToString(res.Hash),
			Status:      status,
			BlockHeight: res.Height,
			Code:        res.TxResult.Code,
			Kind:        kind,
			Log:         res.TxResult.Log,
		},
		"data":   json.RawMessage(orNull(res.TxResult.Data)),
		"events": events,
	})
}

// handleQuery forwards a read to the application's query routes
func (ws *WebServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "*")
	res, err := ws.chain.ABCIQuery(r.Context(), path, nil)
	if err != nil {
		JSONError(w, "Query failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	if res.Response.Code != 0 {
		kind := errs.FromCode(res.Response.Code)
		writeJSON(w, statusForKind(kind), map[string]any{
			"error": res.Response.Log,
			"kind":  kind,
			"code":  res.Response.Code,
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Block-Height", strconv.FormatInt(res.Response.Height, 10))
	w.WriteHeader(http.StatusOK)
	w.Write(res.Response.Value)
}

func (ws *WebServer) handleBidHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	bids, repoErr := ws.repository.BidHistory(r.Context(), id)
	if repoErr != nil {
		ws.writeRepositoryError(w, requestIDFrom(r.Context()), repoErr)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

func (ws *WebServer) handleSales(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	sales, repoErr := ws.repository.Sales(r.Context(), id)
	if repoErr != nil {
		ws.writeRepositoryError(w, requestIDFrom(r.Context()), repoErr)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (ws *WebServer) handlePayments(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	payments, repoErr := ws.repository.Payments(r.Context(), id)
	if repoErr != nil {
		ws.writeRepositoryError(w, requestIDFrom(r.Context()), repoErr)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

// handleEvents lists projected events. Filters: type, property, lease,
// sender, limit.
func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.EventFilter{
		Type:   q.Get("type"),
		Sender: q.Get("sender"),
	}
	var err error
	if filter.PropertyID, err = optionalUint(q.Get("property")); err != nil {
		JSONError(w, "Invalid property id", http.StatusBadRequest)
		return
	}
	if filter.LeaseID, err = optionalUint(q.Get("lease")); err != nil {
		JSONError(w, "Invalid lease id", http.StatusBadRequest)
		return
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			JSONError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
	}

	records, repoErr := ws.repository.Events(r.Context(), filter)
	if repoErr != nil {
		ws.writeRepositoryError(w, requestIDFrom(r.Context()), repoErr)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func idParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		JSONError(w, "Invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func optionalUint(s string) (*uint64, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func orNull(b []byte) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}

// statusForKind maps a failure kind to an HTTP status
func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.Unauthorized, errs.BadSignature:
		return http.StatusForbidden
	case errs.NotFound:
		return http.StatusNotFound
	case errs.InvalidInput, errs.BadNonce:
		return http.StatusBadRequest
	case errs.Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

// extractPortFromAddress extracts the port from an address string
func extractPortFromAddress(address string) string {
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == ':' {
			return address[i+1:]
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		JSONError(w, "Error encoding response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(jsonBytes)
}

// JSONError sends a JSON formatted error response with the given status code and message
func JSONError(w http.ResponseWriter, message string, statusCode int) {
	errorResponse := struct {
		Error string `json:"error"`
	}{
		Error: message,
	}
	jsonBytes, err := json.Marshal(errorResponse)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Set content type and status code
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	// Write JSON response
	w.Write(jsonBytes)
}
