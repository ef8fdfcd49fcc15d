package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ChainIdentity is the signing account exposed by a connected wallet.
type ChainIdentity struct {
	Address   common.Address `json:"address"`
	Connected bool           `json:"connected"`
}

// TokenBalance is a single balance reading. It is never cached.
type TokenBalance struct {
	Raw       *big.Int `json:"raw"`
	Decimals  uint8    `json:"decimals"`
	Formatted string   `json:"formatted"`
}

// Amount converts the raw balance into token units.
func (b TokenBalance) Amount() decimal.Decimal {
	if b.Raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(b.Raw, -int32(b.Decimals))
}

// TokenInfo contains the optional ERC-20 metadata of the payment token.
type TokenInfo struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol,omitempty"`
	Name     string         `json:"name,omitempty"`
	Decimals uint8          `json:"decimals"`
}

// Outcome of a single transfer attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// TransferResult is created once per transfer attempt and never mutated.
type TransferResult struct {
	Outcome         Outcome    `json:"outcome"`
	TransactionHash string     `json:"transactionHash,omitempty"`
	GasUsed         uint64     `json:"gasUsed,omitempty"`
	ErrorClass      ErrorClass `json:"errorClass,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
}

// Succeeded reports whether tokens moved and the receipt confirmed it.
func (r TransferResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess && r.TransactionHash != ""
}

// Err returns the failure as a PaymentError, or nil on success.
func (r TransferResult) Err() error {
	if r.Outcome == OutcomeSuccess {
		return nil
	}
	return &PaymentError{Class: r.ErrorClass, Message: r.ErrorMessage}
}

// Stage is a step of a purchase run.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageConnecting Stage = "connecting"
	StageVerifying  Stage = "verifying"
	StagePaying     Stage = "paying"
	StageRecording  Stage = "recording"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// PurchaseRequest is the payload the backend records a purchase from.
type PurchaseRequest struct {
	PackageID     int64  `json:"p_id" validate:"required,gt=0"`
	WalletAddress string `json:"wallet_address,omitempty" validate:"omitempty,eth_addr"`
}

// PurchaseResponse is what the backend answers to a record call.
type PurchaseResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PurchaseResult is the unified outcome of a purchase run.
//
// A failure at StageRecording with a TransactionHash means the payment went
// through but the backend did not record it; it needs manual reconciliation
// and must not be paid again.
type PurchaseResult struct {
	Success         bool       `json:"success"`
	Stage           Stage      `json:"stage"`
	AttemptID       string     `json:"attemptId"`
	TransactionHash string     `json:"transactionHash,omitempty"`
	GasUsed         uint64     `json:"gasUsed,omitempty"`
	ExplorerURL     string     `json:"explorerUrl,omitempty"`
	Error           string     `json:"error,omitempty"`
	PaymentError    string     `json:"paymentError,omitempty"`
	ErrorClass      ErrorClass `json:"errorClass,omitempty"`
}

// NeedsReconciliation reports the "money moved, not recorded" state.
func (r PurchaseResult) NeedsReconciliation() bool {
	return !r.Success && r.Stage == StageRecording && r.TransactionHash != ""
}

// DailyInvestment is one row of the admin daily investment report.
type DailyInvestment struct {
	Day         string          `json:"day"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// AdminInvestRequest assigns a package to a wallet from the admin panel.
type AdminInvestRequest struct {
	PackageID     string `json:"p_id" validate:"required"`
	WalletAddress string `json:"wallet_address" validate:"required,eth_addr"`
}

// LoginRequest is the admin login payload.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the admin login answer.
type LoginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Reconciliation is a payment that reached the chain but was not recorded.
type Reconciliation struct {
	AttemptID       string          `json:"attemptId"`
	PackageID       int64           `json:"packageId"`
	WalletAddress   string          `json:"walletAddress"`
	TransactionHash string          `json:"transactionHash"`
	Amount          decimal.Decimal `json:"amount"`
	Error           string          `json:"error"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// BalanceSnapshot holds the user's balances as last reloaded after a
// completed purchase.
type BalanceSnapshot struct {
	Address   common.Address  `json:"address"`
	Token     TokenBalance    `json:"token"`
	Dashboard decimal.Decimal `json:"dashboardBalance"`
	DanPrice  decimal.Decimal `json:"danPrice"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// PackageItem is one investment package offered by the backend.
type PackageItem struct {
	PackageID int64           `json:"p_id"`
	Name      string          `json:"p_name"`
	Percent   decimal.Decimal `json:"p_percent"`
	Period    string          `json:"p_period"`
	Amount    decimal.Decimal `json:"p_amount"`
	Order     int             `json:"p_order"`
}

// PackageCatalog is the backend's package listing for the signed-in user.
type PackageCatalog struct {
	Packages    []PackageItem   `json:"packages"`
	UserBalance decimal.Decimal `json:"user_balance"`
	DanPrice    decimal.Decimal `json:"dan_price"`
	TotalCount  int             `json:"total_count"`
}
