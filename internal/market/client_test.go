package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendguard/hedgebot/internal/domain"
)

func TestExecuteOrder(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ETH-USD", body["symbol"])
		assert.Equal(t, "sell", body["side"])

		fmt.Fprint(w, `{"order_id":"ord-1","status":"filled","filled_amount":2083.33,"avg_price":2000.5,"timestamp":1756600000}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	result, err := c.ExecuteOrder(context.Background(), domain.OrderRequest{
		Symbol: "ETH-USD",
		Side:   domain.OrderSideSell,
		Amount: 2083.33,
		Type:   domain.OrderTypeMarket,
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", result.OrderID)
	assert.Equal(t, domain.OrderStatusFilled, result.Status)
	assert.InDelta(t, 2083.33, result.FilledAmount, 0.001)
	assert.InDelta(t, 2000.5, result.AvgPrice, 0.001)
}

func TestExecuteOrderRejected(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"order_id":"ord-2","status":"rejected","reason":"insufficient liquidity"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.ExecuteOrder(context.Background(), domain.OrderRequest{
		Symbol: "ETH-USD",
		Side:   domain.OrderSideSell,
		Amount: 10,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient liquidity")
}

func TestExecuteOrderValidation(t *testing.T) {
	t.Parallel()
	c := NewClient("http://unused", "")

	_, err := c.ExecuteOrder(context.Background(), domain.OrderRequest{Side: domain.OrderSideSell, Amount: 10})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.ExecuteOrder(context.Background(), domain.OrderRequest{Symbol: "ETH-USD", Side: domain.OrderSideSell})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestExecuteOrderServerErrorIsTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.ExecuteOrder(context.Background(), domain.OrderRequest{
		Symbol: "ETH-USD",
		Side:   domain.OrderSideBuy,
		Amount: 1,
	})
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestGetPrice(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ETH-USD", r.URL.Query().Get("pair"))
		fmt.Fprint(w, `{"pair":"ETH-USD","price":2000.25}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	price, err := c.GetPrice(context.Background(), "ETH-USD")
	require.NoError(t, err)
	assert.InDelta(t, 2000.25, price, 0.001)
}

func TestGetPriceRejectsNonPositive(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"pair":"ETH-USD","price":0}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.GetPrice(context.Background(), "ETH-USD")
	assert.Error(t, err)
}

// tickServer upgrades incoming connections and replays a tick for every
// subscribe command it receives.
func tickServer(t *testing.T, price float64) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var cmd wsCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			if cmd.Type != "subscribe" {
				continue
			}
			tick := tickMessage{
				Type:      "tick",
				Pair:      cmd.Pair,
				Price:     price,
				Timestamp: time.Now().Unix(),
			}
			if err := conn.WriteJSON(tick); err != nil {
				return
			}
		}
	}))
}

func TestWSFeedSubscribeReceivesTicks(t *testing.T) {
	t.Parallel()
	srv := tickServer(t, 1999.75)
	defer srv.Close()

	feed := NewWSFeed("ws"+strings.TrimPrefix(srv.URL, "http"), slog.New(slog.DiscardHandler))
	require.NoError(t, feed.Connect(context.Background()))
	defer feed.Close()

	updates := make(chan domain.PriceUpdate, 1)
	unsubscribe, err := feed.SubscribePrice(context.Background(), "ETH-USD", func(u domain.PriceUpdate) {
		select {
		case updates <- u:
		default:
		}
	})
	require.NoError(t, err)
	defer unsubscribe()

	select {
	case u := <-updates:
		assert.Equal(t, "ETH-USD", u.Pair)
		assert.InDelta(t, 1999.75, u.Price, 0.001)
	case <-time.After(5 * time.Second):
		t.Fatal("no tick received")
	}
}

func TestWSFeedUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	srv := tickServer(t, 100)
	defer srv.Close()

	feed := NewWSFeed("ws"+strings.TrimPrefix(srv.URL, "http"), slog.New(slog.DiscardHandler))
	require.NoError(t, feed.Connect(context.Background()))
	defer feed.Close()

	updates := make(chan domain.PriceUpdate, 16)
	unsubscribe, err := feed.SubscribePrice(context.Background(), "BTC-USD", func(u domain.PriceUpdate) {
		updates <- u
	})
	require.NoError(t, err)

	select {
	case <-updates:
	case <-time.After(5 * time.Second):
		t.Fatal("no tick received")
	}

	unsubscribe()

	// Drain anything in flight, then confirm silence.
	time.Sleep(100 * time.Millisecond)
	for len(updates) > 0 {
		<-updates
	}
	select {
	case u := <-updates:
		t.Fatalf("tick delivered after unsubscribe: %+v", u)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWSFeedSubscribeValidation(t *testing.T) {
	t.Parallel()
	feed := NewWSFeed("ws://unused", slog.New(slog.DiscardHandler))

	_, err := feed.SubscribePrice(context.Background(), "", func(domain.PriceUpdate) {})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = feed.SubscribePrice(context.Background(), "ETH-USD", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestWSFeedConnectAfterClose(t *testing.T) {
	t.Parallel()
	feed := NewWSFeed("ws://unused", slog.New(slog.DiscardHandler))
	require.NoError(t, feed.Close())
	assert.ErrorIs(t, feed.Connect(context.Background()), domain.ErrWSDisconnect)
}
