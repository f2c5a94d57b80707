package esi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raphaelgruber/esisync/internal/metrics"
	"github.com/raphaelgruber/esisync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *metrics.Collector) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	m := metrics.NewCollector()
	c := New(Config{
		BaseURL:        srv.URL,
		RateLimit:      1000,
		Burst:          100,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, nil, m)
	return c, m
}

func TestPublicContracts(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contracts/public/10000002/", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		fmt.Fprint(w, `[{"contract_id":222262092,"type":"item_exchange","issuer_id":1,"issuer_corporation_id":2,
			"date_issued":"2024-01-01T00:00:00Z","date_expired":"2024-01-15T00:00:00Z","price":1500000.5,"start_location_id":60003760}]`)
	}))

	got, err := c.PublicContracts(context.Background(), 10000002, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(222262092), got[0].ContractID)
	assert.Equal(t, models.ContractTypeItemExchange, got[0].Type)
	assert.Equal(t, models.SourcePublic, got[0].Source)
	assert.Equal(t, int64(10000002), got[0].RegionID)
	require.NotNil(t, got[0].Price)
	assert.InDelta(t, 1500000.5, *got[0].Price, 0.001)
	assert.Nil(t, got[0].Reward)
	assert.Equal(t, models.StatusOutstanding, got[0].EffectiveStatus())
}

func TestPublicContractsPastLastPage(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"Requested page does not exist!"}`)
	}))

	got, err := c.PublicContracts(context.Background(), 10000002, 7)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	c, m := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"name":"Tritanium"}`)
	}))

	name, err := c.TypeName(context.Background(), 34)
	require.NoError(t, err)
	assert.Equal(t, "Tritanium", name)
	assert.Equal(t, int32(3), calls.Load())

	snap := m.Snapshot()
	require.NotNil(t, snap.ESIRequest)
	assert.Equal(t, int64(3), snap.ESIRequest.Count)
	assert.Equal(t, int64(2), snap.ESIRequest.Errors)
}

func TestRetryExhausted(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.TypeName(context.Background(), 34)
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestNoRetryOnForbidden(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":"Forbidden"}`)
	}))

	_, err := c.StructureName(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}), 1035466617946)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.True(t, IsAuthorizationError(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestPublicContractItemsNoContent(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	_, err := c.PublicContractItems(context.Background(), 222262092, 1)
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestPublicContractItemsDecode(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contracts/public/items/222262092/", r.URL.Path)
		fmt.Fprint(w, `[{"record_id":1,"type_id":29050,"quantity":-1,"is_included":true},
			{"record_id":2,"type_id":1000,"quantity":1,"is_included":true,"is_blueprint_copy":true,"material_efficiency":10,"time_efficiency":20,"runs":5}]`)
	}))

	items, err := c.PublicContractItems(context.Background(), 222262092, 1)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(-1), items[0].Quantity)
	assert.Nil(t, items[0].IsBlueprintCopy)
	require.NotNil(t, items[1].IsBlueprintCopy)
	assert.True(t, *items[1].IsBlueprintCopy)
	require.NotNil(t, items[1].Runs)
	assert.Equal(t, 5, *items[1].Runs)
}

func TestCorporationContractItemsRawQuantity(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer corp-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/corporations/98000001/contracts/5/items/", r.URL.Path)
		fmt.Fprint(w, `[
			{"record_id":1,"type_id":100,"quantity":1,"raw_quantity":-1,"is_included":true,"is_singleton":true},
			{"record_id":2,"type_id":101,"quantity":1,"raw_quantity":-2,"is_included":true,"is_singleton":true},
			{"record_id":3,"type_id":34,"quantity":500,"is_included":true,"is_singleton":false}]`)
	}))

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "corp-token", TokenType: "Bearer"})
	items, err := c.CorporationContractItems(context.Background(), ts, 98000001, 5)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, int64(-1), items[0].Quantity, "original")
	assert.Nil(t, items[0].IsBlueprintCopy)

	assert.Equal(t, int64(1), items[1].Quantity, "copy")
	require.NotNil(t, items[1].IsBlueprintCopy)
	assert.True(t, *items[1].IsBlueprintCopy)

	assert.Equal(t, int64(500), items[2].Quantity)
	assert.Nil(t, items[2].IsBlueprintCopy)
}

func TestCorporationContractsRequireToken(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler())

	_, err := c.CorporationContracts(context.Background(), nil, 98000001, 1)
	assert.ErrorIs(t, err, ErrNoCredential)

	_, err = c.StructureName(context.Background(), nil, 1035466617946)
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestTokenFailure(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler())

	ts := oauth2.TokenSource(failingSource{})
	_, err := c.CorporationContracts(context.Background(), ts, 98000001, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenUnavailable)
	assert.True(t, IsAuthorizationError(err))
	assert.False(t, errors.Is(err, ErrForbidden))
}

type failingSource struct{}

func (failingSource) Token() (*oauth2.Token, error) { return nil, errors.New("refresh rejected") }

func TestMemoHonoursExpires(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		fmt.Fprint(w, `{"name":"Jita IV - Moon 4 - Caldari Navy Assembly Plant"}`)
	}))

	for i := 0; i < 3; i++ {
		name, err := c.LocationName(context.Background(), 60003760)
		require.NoError(t, err)
		assert.Equal(t, "Jita IV - Moon 4 - Caldari Navy Assembly Plant", name)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestAuthenticatedRequestsNotMemoized(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		fmt.Fprint(w, `{"name":"Keepstar"}`)
	}))

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})
	for i := 0; i < 2; i++ {
		_, err := c.StructureName(context.Background(), ts, 1035466617946)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestLocationNameRouting(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/universe/systems/30000142/":
			fmt.Fprint(w, `{"name":"Jita"}`)
		case "/universe/stations/60003760/":
			fmt.Fprint(w, `{"name":"Jita IV - Moon 4"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	tests := []struct {
		id      int64
		want    string
		wantErr error
	}{
		{30000142, "Jita", nil},
		{60003760, "Jita IV - Moon 4", nil},
		{10000002, "", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.id), func(t *testing.T) {
			got, err := c.LocationName(context.Background(), tt.id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestErrorLimitObserved(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Esi-Error-Limit-Remain", "5")
		w.Header().Set("X-Esi-Error-Limit-Reset", "0")
		fmt.Fprint(w, `{"name":"Tritanium"}`)
	}))

	_, err := c.TypeName(context.Background(), 34)
	require.NoError(t, err)

	c.errMu.Lock()
	assert.True(t, c.errObserved)
	assert.Equal(t, 5, c.errRemain)
	c.errMu.Unlock()

	// Reset window already elapsed: no pause.
	require.NoError(t, c.waitErrorLimit(context.Background()))
}

func TestErrorLimitPauseHonoursContext(t *testing.T) {
	c := New(Config{}, nil, nil)
	c.errObserved = true
	c.errRemain = 1
	c.errResetAt = time.Now().Add(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.waitErrorLimit(ctx), context.Canceled)
}

func TestNamesAdapter(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"Raven Blueprint"}`)
	}))

	n := Names{Client: c}
	name, err := n.TypeName(context.Background(), 29050)
	require.NoError(t, err)
	assert.Equal(t, "Raven Blueprint", name)

	_, err = n.StructureName(context.Background(), 1035466617946)
	assert.ErrorIs(t, err, ErrNoCredential)
}
