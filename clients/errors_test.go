package clients

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/tokenpay/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class types.ErrorClass
	}{
		{"code 4001", providerError{code: 4001, msg: "request denied"}, types.ErrUserCancelled},
		{"user denied text", errors.New("MetaMask Tx Signature: User denied transaction signature."), types.ErrUserCancelled},
		{"action rejected", errors.New("ACTION_REJECTED"), types.ErrUserCancelled},
		{"context cancelled", fmt.Errorf("send: %w", context.Canceled), types.ErrUserCancelled},
		{"unauthorized", providerError{code: 4100, msg: "not authorized"}, types.ErrUserRejected},
		{"disconnected", providerError{code: 4900, msg: "bye"}, types.ErrConnectionFailed},
		{"unrecognized chain", providerError{code: 4902, msg: "Unrecognized chain ID"}, types.ErrNetworkMismatch},
		{"network changed", errors.New("underlying network changed"), types.ErrNetworkMismatch},
		{"token balance", errors.New("execution reverted: BEP20: transfer amount exceeds balance"), types.ErrInsufficientBalance},
		{"native funds", errors.New("insufficient funds for gas * price + value"), types.ErrInsufficientGas},
		{"intrinsic gas", errors.New("intrinsic gas too low"), types.ErrInsufficientGas},
		{"estimate", errors.New("gas required exceeds allowance (30000000)"), types.ErrSimulationFailed},
		{"revert", errors.New("execution reverted"), types.ErrExecutionFailed},
		{"out of gas", errors.New("out of gas"), types.ErrExecutionFailed},
		{"no provider", ErrNoProvider, types.ErrWalletUnavailable},
		{"unknown", errors.New("something odd"), types.ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := Classify(tt.err)
			require.NotNil(t, pe)
			assert.Equal(t, tt.class, pe.Class)
			assert.ErrorIs(t, pe, tt.err)
		})
	}
}

func TestClassifyKeepsUnknownMessage(t *testing.T) {
	pe := Classify(errors.New("nonce too high"))
	assert.Equal(t, types.ErrUnknown, pe.Class)
	assert.Equal(t, "nonce too high", pe.Message)
}

func TestClassifyPassesThroughPaymentErrors(t *testing.T) {
	orig := types.NewPaymentError(types.ErrBalanceUnknown, "balance unavailable", nil)
	assert.Same(t, orig, Classify(fmt.Errorf("wrapped: %w", orig)))
	assert.Nil(t, Classify(nil))
}

func TestIsUnreachable(t *testing.T) {
	assert.True(t, IsUnreachable(ErrNoProvider))
	assert.True(t, IsUnreachable(fmt.Errorf("dial: %w", &net.OpError{Op: "dial", Err: errors.New("refused")})))
	assert.False(t, IsUnreachable(providerError{code: 4001, msg: "rejected"}))
}
