package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOracle = "0x5f4ec3df9cbd43714fe2740f5e3616155c5b8419"

func newOracleServer(t *testing.T, answer, decimals string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params []json.RawMessage
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "eth_call", req.Method)

		var call struct {
			To   string `json:"to"`
			Data string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(req.Params[0], &call))
		require.Equal(t, testOracle, call.To)

		result := ""
		switch call.Data {
		case selectorLatestAnswer:
			result = answer
		case selectorDecimals:
			result = decimals
		default:
			t.Fatalf("unexpected calldata %q", call.Data)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  result,
		})
	}))
}

func TestPriceFeed_LatestPrice(t *testing.T) {
	srv := newOracleServer(t, "0x0bebc200", "0x08")
	defer srv.Close()

	feed := NewPriceFeed(NewClient(srv.URL), testOracle)

	value, err := feed.LatestPrice(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 2.0, value, 1e-9)
}

func TestPriceFeed_ZeroAnswer(t *testing.T) {
	srv := newOracleServer(t, "0x00", "0x08")
	defer srv.Close()

	feed := NewPriceFeed(NewClient(srv.URL), testOracle)

	_, err := feed.LatestPrice(context.Background())
	assert.Error(t, err)
}

func TestClient_RPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32000, "message": "execution reverted"},
		})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Call(context.Background(), testOracle, selectorDecimals)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution reverted")
}

func TestClient_UpstreamFailures(t *testing.T) {
	var status atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":""}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	status.Store(http.StatusBadGateway)
	_, err := client.Call(context.Background(), testOracle, selectorDecimals)
	assert.Error(t, err)

	// Empty result on a 200 is still an upstream failure.
	status.Store(http.StatusOK)
	_, err = client.Call(context.Background(), testOracle, selectorDecimals)
	assert.Error(t, err)
}
