// Package purchase runs a package purchase end to end: wallet connection,
// balance verification, token payment and backend recording.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitwit/tokenpay/clients"
	"github.com/vitwit/tokenpay/logger"
	"github.com/vitwit/tokenpay/metrics"
	"github.com/vitwit/tokenpay/reconcile"
	"github.com/vitwit/tokenpay/settlement"
	"github.com/vitwit/tokenpay/types"
	"github.com/vitwit/tokenpay/verification"
)

// Wallet is the connection the orchestrator drives. *clients.Connection
// implements it.
type Wallet interface {
	Connect(ctx context.Context) (types.ChainIdentity, error)
	EnsureNetwork(ctx context.Context, profile types.NetworkProfile) error
	VerifyAccount(ctx context.Context) error
	PendingTransactions(ctx context.Context, account common.Address) (uint64, error)
	Reset()
}

// Recorder records a paid purchase with the backend. *backend.Client
// implements it.
type Recorder interface {
	BuyPackage(ctx context.Context, req types.PurchaseRequest) (*types.PurchaseResponse, error)
}

// BalanceRefresher is called after a completed purchase so the caller can
// reload the user's balance snapshot.
type BalanceRefresher func(ctx context.Context, address common.Address) error

// Status is the observable state of the orchestrator.
type Status struct {
	Stage     types.Stage `json:"stage"`
	Busy      bool        `json:"busy"`
	PackageID int64       `json:"packageId,omitempty"`
	AttemptID string      `json:"attemptId,omitempty"`
}

const defaultRecordTimeout = 10 * time.Second

// Orchestrator sequences one purchase at a time. Each run uses a fresh wallet
// connection and resets it when done.
type Orchestrator struct {
	wallet   Wallet
	verifier verification.Verifier
	payer    settlement.Payer
	recorder Recorder
	ledger   reconcile.Ledger
	profile  types.NetworkProfile

	refresh       BalanceRefresher
	recordTimeout time.Duration
	log           logger.Logger
	metrics       metrics.Recorder
	newID         func() string

	mu     sync.Mutex
	status Status
}

type Option func(*Orchestrator)

func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.metrics = r
		}
	}
}

func WithLedger(l reconcile.Ledger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.ledger = l
		}
	}
}

func WithBalanceRefresher(fn BalanceRefresher) Option {
	return func(o *Orchestrator) {
		o.refresh = fn
	}
}

// WithRecordTimeout bounds the backend record call.
func WithRecordTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.recordTimeout = d
		}
	}
}

func withIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newID = fn
	}
}

func NewOrchestrator(
	wallet Wallet,
	verifier verification.Verifier,
	payer settlement.Payer,
	recorder Recorder,
	profile types.NetworkProfile,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		wallet:        wallet,
		verifier:      verifier,
		payer:         payer,
		recorder:      recorder,
		ledger:        reconcile.NewMemoryLedger(),
		profile:       profile,
		recordTimeout: defaultRecordTimeout,
		log:           logger.NoopLogger{},
		metrics:       metrics.NoopRecorder{},
		newID:         uuid.NewString,
		status:        Status{Stage: types.StageIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns a snapshot of the current stage and busy flag.
func (o *Orchestrator) State() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Busy reports whether a purchase run is in flight. Callers should not start
// another purchase while it is true.
func (o *Orchestrator) Busy() bool {
	return o.State().Busy
}

// Ledger returns the reconciliation ledger unrecorded payments go to.
func (o *Orchestrator) Ledger() reconcile.Ledger {
	return o.ledger
}

// run is the bookkeeping of a single purchase attempt.
type run struct {
	o         *Orchestrator
	attemptID string
	packageID int64
	required  decimal.Decimal
	fields    map[string]any
	start     time.Time
	stageAt   time.Time
}

func (o *Orchestrator) begin(packageID int64, required decimal.Decimal) (*run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.Busy {
		return nil, false
	}

	id := o.newID()
	o.status = Status{Stage: types.StageConnecting, Busy: true, PackageID: packageID, AttemptID: id}
	now := time.Now()
	return &run{
		o:         o,
		attemptID: id,
		packageID: packageID,
		required:  required,
		fields: map[string]any{
			"attempt_id": id,
			"package_id": packageID,
			"amount":     required.String(),
		},
		start:   now,
		stageAt: now,
	}, true
}

func (r *run) enter(stage types.Stage) {
	prev := r.o.State().Stage
	r.o.metrics.ObserveLatency(metrics.EventPurchase, time.Since(r.stageAt), map[string]string{"stage": string(prev)})
	r.stageAt = time.Now()

	r.o.mu.Lock()
	r.o.status.Stage = stage
	r.o.mu.Unlock()

	r.o.log.Debug("purchase stage", logger.Merge(r.fields, map[string]any{"stage": string(stage)}))
}

// finish releases the wallet before clearing Busy so a following run
// never has its fresh connection reset.
func (r *run) finish(stage types.Stage) {
	r.o.wallet.Reset()

	r.o.mu.Lock()
	r.o.status.Stage = stage
	r.o.status.Busy = false
	r.o.mu.Unlock()
}

// Purchase pays required tokens for packageID and records the purchase.
//
// Failures before StagePaying, and failures at StagePaying without a
// TransactionHash, moved no tokens. A failure at StageRecording carries the
// TransactionHash of a payment that went through and was stored in the
// reconciliation ledger; it must not be paid again.
func (o *Orchestrator) Purchase(ctx context.Context, packageID int64, required decimal.Decimal) types.PurchaseResult {
	if packageID <= 0 || !required.IsPositive() {
		return types.PurchaseResult{
			Stage:      types.StageIdle,
			Error:      fmt.Sprintf("invalid purchase: package %d, amount %s", packageID, required),
			ErrorClass: types.ErrUnknown,
		}
	}

	r, ok := o.begin(packageID, required)
	if !ok {
		o.log.Warn("purchase already in progress", map[string]any{"package_id": packageID})
		msg := "A purchase is already in progress"
		return types.PurchaseResult{
			Stage:        o.State().Stage,
			Error:        msg,
			PaymentError: msg,
			ErrorClass:   types.ErrPurchaseInProgress,
		}
	}
	o.log.Info("purchase started", r.fields)
	return r.execute(ctx)
}

func (r *run) execute(ctx context.Context) types.PurchaseResult {
	o := r.o

	// Connecting
	o.wallet.Reset()
	id, err := o.wallet.Connect(ctx)
	if err != nil {
		return r.fail(types.StageConnecting, clients.Classify(err), "", 0)
	}
	r.fields["address"] = id.Address.Hex()

	if err := o.wallet.EnsureNetwork(ctx, o.profile); err != nil {
		return r.fail(types.StageConnecting, clients.Classify(err), "", 0)
	}

	// Verifying
	if pe := cancelled(ctx); pe != nil {
		return r.fail(types.StageConnecting, pe, "", 0)
	}
	r.enter(types.StageVerifying)

	if err := o.wallet.VerifyAccount(ctx); err != nil {
		return r.fail(types.StageVerifying, clients.Classify(err), "", 0)
	}
	if n, err := o.wallet.PendingTransactions(ctx, id.Address); err != nil {
		o.log.Warn("failed to check pending transactions", logger.Merge(r.fields, map[string]any{"error": err}))
	} else if n > 0 {
		o.log.Warn("wallet has pending transactions, balance may change", logger.Merge(r.fields, map[string]any{"pending": n}))
	}

	check := o.verifier.CheckSufficiency(ctx, id.Address, r.required)
	if pe := balanceError(check, r.required); pe != nil {
		return r.fail(types.StageVerifying, pe, "", 0)
	}

	// Paying
	if pe := cancelled(ctx); pe != nil {
		return r.fail(types.StageVerifying, pe, "", 0)
	}
	r.enter(types.StagePaying)

	transfer := o.payer.Pay(ctx, r.required, id.Address)
	if !transfer.Succeeded() {
		pe := types.NewPaymentError(transfer.ErrorClass, transfer.ErrorMessage, nil)
		return r.fail(types.StagePaying, pe, transfer.TransactionHash, transfer.GasUsed)
	}
	r.fields["tx_hash"] = transfer.TransactionHash

	// Recording runs even if ctx was cancelled: the tokens already moved.
	r.enter(types.StageRecording)
	if pe := r.record(ctx, id.Address, transfer.TransactionHash); pe != nil {
		return r.fail(types.StageRecording, pe, transfer.TransactionHash, transfer.GasUsed)
	}

	if o.refresh != nil {
		if err := o.refresh(ctx, id.Address); err != nil {
			o.log.Warn("balance refresh failed", logger.Merge(r.fields, map[string]any{"error": err}))
		}
	}

	r.finish(types.StageCompleted)
	o.log.Info("purchase completed", r.fields)
	r.count(types.StageCompleted, "success")

	return types.PurchaseResult{
		Success:         true,
		Stage:           types.StageCompleted,
		AttemptID:       r.attemptID,
		TransactionHash: transfer.TransactionHash,
		GasUsed:         transfer.GasUsed,
		ExplorerURL:     o.profile.TxURL(transfer.TransactionHash),
	}
}

func (r *run) record(ctx context.Context, from common.Address, hash string) *types.PaymentError {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.recordTimeout)
	defer cancel()

	resp, err := r.o.recorder.BuyPackage(recordCtx, types.PurchaseRequest{
		PackageID:     r.packageID,
		WalletAddress: from.Hex(),
	})

	var cause error
	switch {
	case err != nil:
		cause = err
	case resp == nil:
		cause = errors.New("empty backend response")
	case !resp.Success:
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		if msg == "" {
			msg = "Failed to record package purchase"
		}
		cause = errors.New(msg)
	default:
		return nil
	}

	rec := types.Reconciliation{
		AttemptID:       r.attemptID,
		PackageID:       r.packageID,
		WalletAddress:   from.Hex(),
		TransactionHash: hash,
		Amount:          r.required,
		Error:           cause.Error(),
		CreatedAt:       time.Now().UTC(),
	}
	// The record call may have used up recordCtx.
	ledgerCtx, cancelLedger := context.WithTimeout(context.WithoutCancel(ctx), r.o.recordTimeout)
	defer cancelLedger()
	if err := r.o.ledger.Append(ledgerCtx, rec); err != nil {
		r.o.log.Error("failed to store reconciliation", logger.Merge(r.fields, map[string]any{"error": err}))
	}

	return types.NewPaymentError(types.ErrBackendRecordingFailed, cause.Error(), cause)
}

func (r *run) fail(stage types.Stage, pe *types.PaymentError, hash string, gasUsed uint64) types.PurchaseResult {
	if pe == nil {
		pe = types.NewPaymentError(types.ErrUnknown, "Purchase failed", nil)
	}
	if pe.Class == "" {
		pe.Class = types.ErrUnknown
	}

	res := types.PurchaseResult{
		Stage:           stage,
		AttemptID:       r.attemptID,
		TransactionHash: hash,
		GasUsed:         gasUsed,
		Error:           pe.Message,
		PaymentError:    pe.Message,
		ErrorClass:      pe.Class,
	}
	if hash != "" {
		res.ExplorerURL = r.o.profile.TxURL(hash)
	}
	if stage == types.StageRecording {
		res.Error = fmt.Sprintf("Payment successful but failed to record purchase: %s. Please contact support with transaction hash: %s", pe.Message, hash)
		res.PaymentError = fmt.Sprintf("Payment completed but system error occurred. Transaction: %s", hash)
	}

	r.finish(types.StageFailed)

	r.o.log.Error("purchase failed", logger.Merge(r.fields, map[string]any{
		"stage": string(stage),
		"class": string(pe.Class),
		"error": pe,
	}))
	r.count(stage, string(pe.Class))
	return res
}

func (r *run) count(stage types.Stage, outcome string) {
	labels := map[string]string{"stage": string(stage), "outcome": outcome}
	r.o.metrics.IncCounter(metrics.EventPurchase, labels)
	r.o.metrics.ObserveLatency(metrics.EventPurchase, time.Since(r.start), map[string]string{"stage": "total"})
}

func balanceError(check verification.BalanceCheck, required decimal.Decimal) *types.PaymentError {
	if !check.Known {
		if pe := clients.Classify(check.Err); pe != nil && pe.Class.IsCancellation() {
			return types.NewPaymentError(types.ErrUserCancelled, "Transaction cancelled by user", check.Err)
		}
		return types.NewPaymentError(types.ErrBalanceUnknown, "Could not read your token balance. Please try again.", check.Err)
	}
	if !check.Sufficient {
		return types.NewPaymentError(types.ErrInsufficientBalance,
			fmt.Sprintf("Insufficient balance. Required: %s, Available: %s", required.String(), check.FormattedBalance), nil)
	}
	return nil
}

func cancelled(ctx context.Context) *types.PaymentError {
	if err := ctx.Err(); err != nil {
		return clients.Classify(err)
	}
	return nil
}
