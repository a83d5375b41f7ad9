// Package bench drives a scripted property lifecycle against a node and
// records how long every step takes to commit.
package bench

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cometbft/cometbft/crypto/ed25519"
	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/ahmadzakiakmal/estatechain/client"
	"github.com/ahmadzakiakmal/estatechain/ledger"
	"github.com/ahmadzakiakmal/estatechain/tx"
)

// Submitter is the part of the node client a run needs.
type Submitter interface {
	Account(ctx context.Context, addr ledger.Address) (*ledger.Account, error)
	SubmitTx(ctx context.Context, t *tx.Tx) (*client.SubmitResult, error)
}

// Result is the outcome of one step.
type Result struct {
	Iteration   int
	Step        string
	MsgType     string
	Latency     time.Duration
	BlockHeight int64
	Err         error
}

// StepTotal is the name of the per-iteration summary row.
const StepTotal = "Complete Workflow"

type signer struct {
	key   ed25519.PrivKey
	addr  ledger.Address
	nonce uint64
}

type Runner struct {
	client Submitter
	owner  *signer
	notary *signer
	pause  time.Duration
	logger cmtlog.Logger
}

// NewRunner prepares a run. owner registers and lists; notary approves.
func NewRunner(c Submitter, owner, notary ed25519.PrivKey, pause time.Duration, logger cmtlog.Logger) *Runner {
	newSigner := func(k ed25519.PrivKey) *signer {
		return &signer{key: k, addr: ledger.AddressFromBytes(k.PubKey().Address())}
	}
	return &Runner{client: c, owner: newSigner(owner), notary: newSigner(notary), pause: pause, logger: logger}
}

// Run executes n iterations of register, approve, list and cancel. It stops
// at the first failed step and returns what was measured so far.
func (r *Runner) Run(ctx context.Context, n int) ([]Result, error) {
	for _, s := range []*signer{r.owner, r.notary} {
		acc, err := r.client.Account(ctx, s.addr)
		if err != nil {
			return nil, fmt.Errorf("reading nonce of %s: %w", s.addr, err)
		}
		s.nonce = acc.Nonce
	}

	var results []Result
	for i := 1; i <= n; i++ {
		iteration, err := r.iteration(ctx, i)
		results = append(results, iteration...)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (r *Runner) iteration(ctx context.Context, i int) ([]Result, error) {
	var results []Result
	start := time.Now()

	res, data, err := r.step(ctx, i, "Register Property", r.owner, tx.TypeRegisterProperty, map[string]any{
		"address":       fmt.Sprintf("Bench Lane %d", i),
		"size":          100,
		"property_type": "house",
		"document_hash": "bench",
	})
	results = append(results, res)
	if err != nil {
		return results, err
	}
	var created struct {
		ID uint64 `json:"id"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return results, fmt.Errorf("decoding property id: %w", err)
	}
	ref := map[string]any{"property_id": created.ID}

	steps := []struct {
		name    string
		by      *signer
		msgType string
		payload any
	}{
		{"Approve Property", r.notary, tx.TypeApproveProperty, ref},
		{"List For Sale", r.owner, tx.TypeListForSale, map[string]any{"property_id": created.ID, "price": ledger.Ether("1")}},
		{"Cancel Sale", r.owner, tx.TypeCancelSale, ref},
	}
	for _, s := range steps {
		time.Sleep(r.pause)
		res, _, err := r.step(ctx, i, s.name, s.by, s.msgType, s.payload)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}

	total := time.Since(start)
	r.logger.Info("Bench iteration done", "iteration", i, "property", created.ID, "total", total)
	results = append(results, Result{Iteration: i, Step: StepTotal, MsgType: "workflow", Latency: total})
	return results, nil
}

func (r *Runner) step(ctx context.Context, i int, name string, by *signer, msgType string, payload any) (Result, json.RawMessage, error) {
	res := Result{Iteration: i, Step: name, MsgType: msgType}
	msg, err := tx.NewMsg(msgType, payload)
	if err != nil {
		res.Err = err
		return res, nil, err
	}
	t := &tx.Tx{Nonce: by.nonce, Value: ledger.Zero, Msg: msg}
	if err := t.Sign(by.key); err != nil {
		res.Err = err
		return res, nil, err
	}

	start := time.Now()
	out, err := r.client.SubmitTx(ctx, t)
	res.Latency = time.Since(start)
	by.nonce++
	if err != nil {
		res.Err = err
		return res, nil, fmt.Errorf("%s: %w", name, err)
	}
	res.BlockHeight = out.Meta.BlockHeight
	r.logger.Debug("Bench step committed", "step", name, "height", res.BlockHeight, "latency", res.Latency)
	return res, out.Body, nil
}

// WriteCSV writes one row per result.
func WriteCSV(w io.Writer, results []Result) error {
	writer := csv.NewWriter(w)
	header := []string{"Iteration", "Step", "MsgType", "Latency_ms", "BlockHeight", "Error"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, res := range results {
		errText := ""
		if res.Err != nil {
			errText = res.Err.Error()
		}
		record := []string{
			strconv.Itoa(res.Iteration),
			res.Step,
			res.MsgType,
			strconv.FormatInt(res.Latency.Milliseconds(), 10),
			strconv.FormatInt(res.BlockHeight, 10),
			errText,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
