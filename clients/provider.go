package clients

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

var _ Provider = (*RPCProvider)(nil)

// RPCProvider forwards wallet requests to a JSON-RPC endpoint exposed by a
// wallet, such as a desktop wallet's local provider port.
type RPCProvider struct {
	client *rpc.Client
}

// DialProvider connects to the wallet endpoint at url.
func DialProvider(ctx context.Context, url string) (*RPCProvider, error) {
	if strings.TrimSpace(url) == "" {
		return nil, ErrNoProvider
	}
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("wallet provider dial: %w", err)
	}
	return &RPCProvider{client: client}, nil
}

// NewRPCProvider wraps an existing rpc client.
func NewRPCProvider(client *rpc.Client) *RPCProvider {
	return &RPCProvider{client: client}
}

// RPCDialer returns a Dialer that opens a new RPCProvider on every call.
// An empty url yields a nil Dialer, meaning no wallet is available.
func RPCDialer(url string) Dialer {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	return func(ctx context.Context) (Provider, error) {
		return DialProvider(ctx, url)
	}
}

func (p *RPCProvider) Request(ctx context.Context, result any, method string, params ...any) error {
	return p.client.CallContext(ctx, result, method, params...)
}

func (p *RPCProvider) Close() {
	p.client.Close()
}
