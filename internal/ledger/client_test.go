package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendguard/hedgebot/internal/crypto"
	"github.com/lendguard/hedgebot/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// fakeWallet records submitted payloads instead of reaching a relayer.
type fakeWallet struct {
	mu        sync.Mutex
	submitted [][]byte
	err       error
}

func (w *fakeWallet) SubmitTransaction(_ context.Context, payload []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return "", w.err
	}
	w.submitted = append(w.submitted, payload)
	return fmt.Sprintf("0xtx%d", len(w.submitted)), nil
}

func (w *fakeWallet) Address() string { return "0xabc" }

func newTestClient(t *testing.T, queryURL string, wallet domain.Wallet, onEvent EventFunc) *Client {
	t.Helper()
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	return New(queryURL, signer, wallet, slog.New(slog.DiscardHandler), onEvent)
}

func TestCreatePositionSignsAndSubmits(t *testing.T) {
	t.Parallel()
	wallet := &fakeWallet{}
	var events []domain.LedgerEvent
	c := newTestClient(t, "http://unused", wallet, func(ev domain.LedgerEvent) {
		events = append(events, ev)
	})

	err := c.CreatePosition(context.Background(), "borrower-1", "pos-1", 2083, 5416)
	require.NoError(t, err)

	require.Len(t, wallet.submitted, 1)
	var payload domain.LedgerPayload
	require.NoError(t, json.Unmarshal(wallet.submitted[0], &payload))
	assert.Equal(t, domain.LedgerOpCreate, payload.Op)
	assert.Equal(t, "borrower-1", payload.BorrowerID)
	assert.Equal(t, "pos-1", payload.PositionID)
	assert.Equal(t, uint64(2083), payload.Amount)
	assert.Equal(t, uint64(5416), payload.HedgeRatioBps)
	assert.NotEmpty(t, payload.Nonce)
	assert.NotEmpty(t, payload.Signature)

	// The signature must verify against the payload without it.
	unsigned := payload
	unsigned.Signature = ""
	raw, err := json.Marshal(unsigned)
	require.NoError(t, err)
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	ok, err := crypto.VerifyPayload(raw, payload.Signature, signer.Address())
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, events, 1)
	assert.Equal(t, domain.LedgerEventCreated, events[0].Kind)
	assert.Equal(t, "pos-1", events[0].PositionID)
}

func TestCreatePositionRejectsBadWrites(t *testing.T) {
	t.Parallel()
	wallet := &fakeWallet{}
	c := newTestClient(t, "http://unused", wallet, nil)

	err := c.CreatePosition(context.Background(), "b", "pos-1", 0, 5000)
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = c.CreatePosition(context.Background(), "b", "pos-1", 100, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = c.CreatePosition(context.Background(), "b", "pos-1", 100, 10001)
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = c.CreatePosition(context.Background(), "", "pos-1", 100, 5000)
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = c.CreatePosition(context.Background(), "b", "", 100, 5000)
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Empty(t, wallet.submitted)
}

func TestNoncesAreUnique(t *testing.T) {
	t.Parallel()
	wallet := &fakeWallet{}
	c := newTestClient(t, "http://unused", wallet, nil)

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		err := c.CreatePosition(context.Background(), "borrower-1", fmt.Sprintf("pos-%d", i), 100, 5000)
		require.NoError(t, err)
	}
	for _, raw := range wallet.submitted {
		var payload domain.LedgerPayload
		require.NoError(t, json.Unmarshal(raw, &payload))
		assert.False(t, seen[payload.Nonce], "nonce reused: %s", payload.Nonce)
		seen[payload.Nonce] = true
	}
}

func TestClosePositionPropagatesWalletError(t *testing.T) {
	t.Parallel()
	wallet := &fakeWallet{err: errors.New("relayer down")}
	eventCount := 0
	c := newTestClient(t, "http://unused", wallet, func(domain.LedgerEvent) { eventCount++ })

	err := c.ClosePosition(context.Background(), "pos-1")
	require.Error(t, err)
	assert.Zero(t, eventCount, "no event on failed write")
}

func TestAdjustRatioBounds(t *testing.T) {
	t.Parallel()
	wallet := &fakeWallet{}
	c := newTestClient(t, "http://unused", wallet, nil)

	assert.ErrorIs(t, c.AdjustRatio(context.Background(), "pos-1", 0), domain.ErrValidation)
	assert.ErrorIs(t, c.AdjustRatio(context.Background(), "pos-1", 10001), domain.ErrValidation)
	require.NoError(t, c.AdjustRatio(context.Background(), "pos-1", 10000))
	require.NoError(t, c.AdjustRatio(context.Background(), "pos-1", 1))
}

func TestGetPositions(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0xowner", r.URL.Query().Get("owner"))
		fmt.Fprint(w, `[
			{"id":"pos-1","borrower_id":"b-1","asset":"ETH-USD","amount":2083.33,
			 "open_price":2000,"hedge_ratio_bps":5416,"score_at_open":550,
			 "status":"open","ledger_tx_hash":"0xtx1","opened_at":1756600000},
			{"id":"pos-2","borrower_id":"b-2","asset":"ETH-USD","amount":1000,
			 "open_price":2000,"hedge_ratio_bps":5000,"score_at_open":480,
			 "status":"closed","pnl":125.5,"close_price":1749,
			 "ledger_tx_hash":"0xtx2","opened_at":1756500000,"closed_at":1756590000}
		]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &fakeWallet{}, nil)
	positions, err := c.GetPositions(context.Background(), "0xowner")
	require.NoError(t, err)
	require.Len(t, positions, 2)

	assert.Equal(t, "pos-1", positions[0].ID)
	assert.True(t, positions[0].IsOpen())
	assert.Nil(t, positions[0].ClosedAt)

	assert.Equal(t, domain.PositionStatusClosed, positions[1].Status)
	require.NotNil(t, positions[1].PnL)
	assert.InDelta(t, 125.5, *positions[1].PnL, 0.001)
	require.NotNil(t, positions[1].ClosedAt)
}

func TestGetPositionsSnapshotCache(t *testing.T) {
	t.Parallel()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, `[{"id":"pos-1","borrower_id":"b-1","asset":"ETH-USD","amount":2083.33,
			"open_price":2000,"hedge_ratio_bps":5416,"score_at_open":550,
			"status":"open","ledger_tx_hash":"0xtx1","opened_at":1756600000}]`)
	}))
	defer srv.Close()

	wallet := &fakeWallet{}
	c := newTestClient(t, srv.URL, wallet, nil)

	// Repeated reads are served from the snapshot cache.
	_, err := c.GetPositions(context.Background(), wallet.Address())
	require.NoError(t, err)
	_, err = c.GetPositions(context.Background(), wallet.Address())
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))

	// A write through this client drops the snapshot; the next read
	// goes back to the query API.
	require.NoError(t, c.ClosePosition(context.Background(), "pos-1"))
	_, err = c.GetPositions(context.Background(), wallet.Address())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestGetPositionsHTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &fakeWallet{}, nil)
	_, err := c.GetPositions(context.Background(), "0xowner")
	assert.Error(t, err)
}

func TestRelayerWalletSubmit(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Wallet-Address"))
		fmt.Fprint(w, `{"tx_hash":"0xdeadbeef"}`)
	}))
	defer srv.Close()

	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	wallet := NewRelayerWallet(srv.URL, signer)

	txHash, err := wallet.SubmitTransaction(context.Background(), []byte(`{"op":"close_hedge_position"}`))
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", txHash)
}

func TestRelayerWalletTransientStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	wallet := NewRelayerWallet(srv.URL, signer)

	_, err = wallet.SubmitTransaction(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrTransient)
}
