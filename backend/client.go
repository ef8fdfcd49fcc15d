// Package backend is the HTTP client for the dashboard API that records
// package purchases and serves the admin reports.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vitwit/tokenpay/logger"
	"github.com/vitwit/tokenpay/types"
	"github.com/vitwit/tokenpay/utils"
)

const (
	DefaultBaseURL = "http://localhost:8000/api"
	DefaultTimeout = 10 * time.Second
)

// ErrUnauthorized is returned on HTTP 401; the bearer token must be renewed.
var ErrUnauthorized = errors.New("backend: unauthorized")

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: status %d: %s", e.Status, e.Message)
}

// Options configures the Client
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  logger.Logger
}

// Client calls the dashboard API with a bearer token.
type Client struct {
	http  *http.Client
	base  string
	token string
	log   logger.Logger
}

// NewClient creates a new Client with defaults for unset options
func NewClient(o Options) *Client {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = logger.NoopLogger{}
	}
	return &Client{
		http:  &http.Client{Timeout: o.Timeout},
		base:  strings.TrimRight(o.BaseURL, "/"),
		token: o.Token,
		log:   o.Logger,
	}
}

// envelope covers the {success, message, error, data} shape every endpoint answers with.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	// Packages is only set by the admin package listing.
	Packages []types.PackageItem `json:"packages,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("new request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("backend request", map[string]any{
		"method":  method,
		"path":    path,
		"status":  resp.StatusCode,
		"latency": time.Since(start).String(),
	})

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &env, &APIError{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, decodeErr)
	}
	return &env, nil
}

// BuyPackage records a paid package purchase. It is never retried: a
// failure after payment goes to manual reconciliation instead.
func (c *Client) BuyPackage(ctx context.Context, req types.PurchaseRequest) (*types.PurchaseResponse, error) {
	env, err := c.do(ctx, http.MethodPost, "/buy-package", req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && env != nil {
			// The backend explained the refusal; report it as an unsuccessful response.
			return &types.PurchaseResponse{Success: false, Message: env.Message, Error: apiErr.Message}, nil
		}
		return nil, err
	}
	return &types.PurchaseResponse{Success: env.Success, Message: env.Message, Error: env.Error}, nil
}

// Packages lists the packages available to the signed-in user along with
// the user's dashboard balance.
func (c *Client) Packages(ctx context.Context) (*types.PackageCatalog, error) {
	env, err := c.do(ctx, http.MethodGet, "/get-packages", nil)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("backend: %s", firstNonEmpty(env.Error, "Failed to fetch packages"))
	}

	var catalog types.PackageCatalog
	if err := json.Unmarshal(env.Data, &catalog); err != nil {
		return nil, fmt.Errorf("decode packages: %w", err)
	}
	return &catalog, nil
}

// Package looks up a single package by id.
func (c *Client) Package(ctx context.Context, id int64) (*types.PackageItem, error) {
	catalog, err := c.Packages(ctx)
	if err != nil {
		return nil, err
	}
	for i := range catalog.Packages {
		if catalog.Packages[i].PackageID == id {
			return &catalog.Packages[i], nil
		}
	}
	return nil, fmt.Errorf("package %d not found", id)
}

// AdminPackages lists every package for the admin panel.
func (c *Client) AdminPackages(ctx context.Context) ([]types.PackageItem, error) {
	env, err := c.do(ctx, http.MethodGet, "/packages", nil)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("backend: %s", firstNonEmpty(env.Error, "Failed to fetch packages"))
	}
	return env.Packages, nil
}

// DailyInvestments returns the admin daily investment report.
func (c *Client) DailyInvestments(ctx context.Context) ([]types.DailyInvestment, error) {
	env, err := c.do(ctx, http.MethodGet, "/admin/daily-invest", nil)
	if err != nil {
		return nil, err
	}

	var rows []types.DailyInvestment
	if len(env.Data) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, fmt.Errorf("decode daily investments: %w", err)
	}
	return rows, nil
}

// AddPackageToUser assigns a package to a wallet without payment.
func (c *Client) AddPackageToUser(ctx context.Context, req types.AdminInvestRequest) (*types.PurchaseResponse, error) {
	if err := utils.ValidateStruct(&req); err != nil {
		return nil, err
	}
	env, err := c.do(ctx, http.MethodPost, "/admin/invest", req)
	if err != nil {
		return nil, err
	}
	return &types.PurchaseResponse{Success: env.Success, Message: env.Message, Error: env.Error}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
