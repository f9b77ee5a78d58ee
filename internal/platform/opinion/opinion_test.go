package opinion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictagent/internal/catalog"
	"github.com/alanyoungcy/predictagent/internal/domain"
)

func newTestAdapter(url string) (*Adapter, *catalog.TokenIndex) {
	tokens := catalog.NewTokenIndex()
	return NewAdapter(Config{BaseURL: url, APIKey: "op-key", RetryDelay: time.Millisecond}, tokens, nil), tokens
}

func TestFetchMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/market", r.URL.Path)
		assert.Equal(t, "activated", r.URL.Query().Get("status"))
		assert.Equal(t, "5", r.URL.Query().Get("sortBy"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "op-key", r.Header.Get("apikey"))
		w.Write([]byte(`{"code":0,"msg":"ok","result":{"total":3,"list":[
			{"marketId":101,"marketTitle":"BTC ATH in Q4?","rules":"resolves on CMC","yesTokenId":"y1","noTokenId":"n1","volume24h":"800.5"},
			{"marketId":"102","name":"Fallback name","yesTokenId":"","noTokenId":"n2","volume":12},
			{"marketId":103,"marketTitle":"No tokens"}
		]}}`))
	}))
	defer srv.Close()

	a, tokens := newTestAdapter(srv.URL)
	markets, err := a.FetchMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2)

	assert.Equal(t, "101", markets[0].ID)
	assert.Equal(t, "BTC ATH in Q4?", markets[0].Name)
	assert.Equal(t, "resolves on CMC", markets[0].Description)
	assert.Equal(t, 800.5, markets[0].Volume24h)
	assert.Equal(t, 5000, markets[0].YesPrice)
	assert.Equal(t, "opinion", markets[0].Category)

	assert.Equal(t, "Fallback name", markets[1].Name)
	assert.Equal(t, 12.0, markets[1].Volume24h)

	tok, ok := tokens.Lookup(domain.VenueOpinion, "101", domain.OutcomeNo)
	require.True(t, ok)
	assert.Equal(t, "n1", tok)
	_, ok = tokens.Lookup(domain.VenueOpinion, "102", domain.OutcomeNo)
	assert.False(t, ok)
}

func TestFetchMarkets_NonZeroCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":10403,"msg":"invalid apikey","result":null}`))
	}))
	defer srv.Close()

	a, _ := newTestAdapter(srv.URL)
	_, err := a.FetchMarkets(context.Background())
	require.ErrorIs(t, err, domain.ErrBadResponse)
	assert.Contains(t, err.Error(), "invalid apikey")
}

func TestGetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("token_id") {
		case "y1":
			w.Write([]byte(`{"code":0,"result":{"price":"0.731"}}`))
		case "n1":
			w.Write([]byte(`{"code":0,"result":{"price":1.7}}`))
		default:
			w.Write([]byte(`{"code":1,"msg":"unknown token"}`))
		}
	}))
	defer srv.Close()

	a, tokens := newTestAdapter(srv.URL)
	tokens.Replace(domain.VenueOpinion, map[string][2]string{
		"101": {"y1", "n1"},
		"104": {"bad", ""},
	})
	ctx := context.Background()

	assert.Equal(t, domain.ObservedPrice(7310), a.GetPrice(ctx, "101", domain.OutcomeYes))
	assert.Equal(t, domain.ObservedPrice(10000), a.GetPrice(ctx, "101", domain.OutcomeNo))
	assert.True(t, a.GetPrice(ctx, "104", domain.OutcomeYes).Estimated())
	assert.True(t, a.GetPrice(ctx, "104", domain.OutcomeNo).Estimated())
	assert.True(t, a.GetPrice(ctx, "999", domain.OutcomeYes).Estimated())
}

func TestGetPrice_MissingPriceIsEstimated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("token_id") {
		case "y1":
			w.Write([]byte(`{"code":0,"result":{}}`))
		default:
			w.Write([]byte(`{"code":0,"result":{"price":"n/a"}}`))
		}
	}))
	defer srv.Close()

	a, tokens := newTestAdapter(srv.URL)
	tokens.Replace(domain.VenueOpinion, map[string][2]string{"101": {"y1", "n1"}})
	ctx := context.Background()

	yes := a.GetPrice(ctx, "101", domain.OutcomeYes)
	assert.Equal(t, domain.EstimatedPrice(), yes)
	assert.Equal(t, domain.PriceEstimated, yes.Source)
	assert.True(t, a.GetPrice(ctx, "101", domain.OutcomeNo).Estimated())
}

func TestPlaceOrder_SimulatedWithoutNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	a, _ := newTestAdapter(srv.URL)
	assert.True(t, a.Live())

	res, err := a.PlaceOrder(context.Background(), domain.OrderRequest{
		MarketID: "101", Outcome: domain.OutcomeYes, Side: domain.OrderSideBuy, PriceBps: 5000, AmountUsd: 25,
	})
	require.NoError(t, err)
	assert.True(t, res.Simulated)
	assert.Regexp(t, `^0x[0-9a-f]{64}$`, res.OrderID)
	assert.Zero(t, hits.Load())
}
