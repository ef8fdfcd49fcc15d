package clients

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/vitwit/tokenpay/types"
)

// EIP-1193 / EIP-3085 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupported       = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnect   = 4901
	CodeUnrecognizedChain = 4902
)

type classRule struct {
	codes      []int
	substrings []string
	class      types.ErrorClass
	message    string
}

// classTable maps provider errors to the failure taxonomy. Rules are checked
// in order and the first match wins, so balance-specific reverts must stay
// above the generic revert rule.
//
//	code 4001, "user rejected", "user denied", "rejected by user",
//	"action_rejected", "cancelled by user"                      -> UserCancelled
//	code 4100                                                   -> UserRejected
//	code 4900/4901, "disconnected"                              -> ConnectionFailed
//	code 4902, "unrecognized chain", "unknown chain",
//	"wrong chain", "network changed", "chain mismatch"          -> NetworkMismatch
//	"transfer amount exceeds balance", "insufficient balance",
//	"exceeds balance"                                           -> InsufficientBalance
//	"insufficient funds", "intrinsic gas too low"               -> InsufficientGas
//	"gas required exceeds allowance", "always failing transaction",
//	"cannot estimate gas"                                       -> SimulationFailed
//	"out of gas", "execution reverted", "call_exception",
//	"transaction failed"                                        -> ExecutionFailed
//
// Anything else is Unknown and keeps the provider's own message.
var classTable = []classRule{
	{
		codes:      []int{CodeUserRejected},
		substrings: []string{"user rejected", "user denied", "rejected by user", "action_rejected", "cancelled by user"},
		class:      types.ErrUserCancelled,
		message:    "Transaction cancelled by user",
	},
	{
		codes:   []int{CodeUnauthorized},
		class:   types.ErrUserRejected,
		message: "Wallet has not authorized this site",
	},
	{
		codes:      []int{CodeDisconnected, CodeChainDisconnect},
		substrings: []string{"disconnected"},
		class:      types.ErrConnectionFailed,
		message:    "Wallet disconnected",
	},
	{
		codes:      []int{CodeUnrecognizedChain},
		substrings: []string{"unrecognized chain", "unknown chain", "wrong chain", "network changed", "chain mismatch"},
		class:      types.ErrNetworkMismatch,
		message:    "Wallet is connected to the wrong network",
	},
	{
		substrings: []string{"transfer amount exceeds balance", "insufficient balance", "exceeds balance"},
		class:      types.ErrInsufficientBalance,
		message:    "Insufficient token balance. Please check your wallet and ensure you have enough tokens.",
	},
	{
		substrings: []string{"insufficient funds", "intrinsic gas too low"},
		class:      types.ErrInsufficientGas,
		message:    "Insufficient native balance to pay network fees",
	},
	{
		substrings: []string{"gas required exceeds allowance", "always failing transaction", "cannot estimate gas"},
		class:      types.ErrSimulationFailed,
		message:    "Transaction simulation failed",
	},
	{
		substrings: []string{"out of gas", "execution reverted", "call_exception", "transaction failed"},
		class:      types.ErrExecutionFailed,
		message:    "Token transfer failed during execution",
	},
}

// Classify normalizes a provider error. It returns nil for a nil error.
// An error that is already a *types.PaymentError is returned unchanged.
func Classify(err error) *types.PaymentError {
	if err == nil {
		return nil
	}

	var pe *types.PaymentError
	if errors.As(err, &pe) {
		return pe
	}

	if errors.Is(err, context.Canceled) {
		return types.NewPaymentError(types.ErrUserCancelled, "Transaction cancelled by user", err)
	}
	if errors.Is(err, ErrNoProvider) {
		return types.NewPaymentError(types.ErrWalletUnavailable, "Wallet is not installed", err)
	}

	code, hasCode := providerCode(err)
	msg := strings.ToLower(err.Error())

	for _, rule := range classTable {
		if hasCode && containsCode(rule.codes, code) {
			return types.NewPaymentError(rule.class, rule.message, err)
		}
		for _, s := range rule.substrings {
			if strings.Contains(msg, s) {
				return types.NewPaymentError(rule.class, rule.message, err)
			}
		}
	}

	return types.NewPaymentError(types.ErrUnknown, err.Error(), err)
}

// IsUnreachable reports whether err means the provider endpoint itself could
// not be reached, as opposed to the wallet answering with an error.
func IsUnreachable(err error) bool {
	if errors.Is(err, ErrNoProvider) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func providerCode(err error) (int, bool) {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	return 0, false
}

func containsCode(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
