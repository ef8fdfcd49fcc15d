package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/tokenpay/types"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL + "/", Token: "secret"})
}

func TestBuyPackage(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/buy-package", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"success":true,"message":"Package purchased"}`))
	})

	resp, err := c.BuyPackage(context.Background(), types.PurchaseRequest{PackageID: 4, WalletAddress: "0x1111111111111111111111111111111111111111"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "Package purchased", resp.Message)
	assert.Equal(t, float64(4), got["p_id"])
	assert.Equal(t, "0x1111111111111111111111111111111111111111", got["wallet_address"])
}

func TestBuyPackageRefused(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"error":"Insufficient DAN balance"}`))
	})

	resp, err := c.BuyPackage(context.Background(), types.PurchaseRequest{PackageID: 1})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "Insufficient DAN balance", resp.Error)
}

func TestBuyPackageUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.BuyPackage(context.Background(), types.PurchaseRequest{PackageID: 1})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestBuyPackageTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	c := NewClient(Options{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})

	_, err := c.BuyPackage(context.Background(), types.PurchaseRequest{PackageID: 1})
	assert.Error(t, err)
}

func TestPackages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get-packages", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"data":{"packages":[
			{"p_id":1,"p_name":"Starter","p_percent":5,"p_period":"30 days","p_amount":100,"p_order":1},
			{"p_id":2,"p_name":"Pro","p_percent":8,"p_period":"60 days","p_amount":500.5,"p_order":2}
		],"user_balance":12.5,"dan_price":0.25,"total_count":2}}`))
	})

	catalog, err := c.Packages(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog.Packages, 2)
	assert.Equal(t, "Starter", catalog.Packages[0].Name)
	assert.True(t, catalog.UserBalance.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, catalog.DanPrice.Equal(decimal.RequireFromString("0.25")))

	pkg, err := c.Package(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, pkg.Amount.Equal(decimal.RequireFromString("500.5")))

	_, err = c.Package(context.Background(), 9)
	assert.Error(t, err)
}

func TestAdminPackages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/packages", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"packages":[
			{"p_id":1,"p_name":"Starter","p_percent":5,"p_period":"30 days","p_amount":100,"p_order":1}
		]}`))
	})

	pkgs, err := c.AdminPackages(context.Background())
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, int64(1), pkgs[0].PackageID)
}

func TestDailyInvestments(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/admin/daily-invest", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"data":[{"day":"2025-01-01","total_amount":1200.5}]}`))
	})

	rows, err := c.DailyInvestments(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-01-01", rows[0].Day)
	assert.True(t, rows[0].TotalAmount.Equal(decimal.RequireFromString("1200.5")))
}

func TestAddPackageToUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/invest", r.URL.Path)
		var req types.AdminInvestRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "3", req.PackageID)
		_, _ = w.Write([]byte(`{"success":true,"message":"added"}`))
	})

	resp, err := c.AddPackageToUser(context.Background(), types.AdminInvestRequest{
		PackageID:     "3",
		WalletAddress: "0x1111111111111111111111111111111111111111",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	_, err = c.AddPackageToUser(context.Background(), types.AdminInvestRequest{PackageID: "3", WalletAddress: "nope"})
	assert.Error(t, err)
}

func TestServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := c.DailyInvestments(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
}
