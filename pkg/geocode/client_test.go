package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadia-health/study-export/internal/resilience"
)

func fastClientRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestClient_Geocode(t *testing.T) {
	var gotBody []lookupRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/street-address", r.URL.Path)
		assert.Equal(t, "test-id", r.URL.Query().Get("auth-id"))
		assert.Equal(t, "test-token", r.URL.Query().Get("auth-token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		resp := []candidateResponse{{
			InputID:       "1_home",
			DeliveryLine1: "123 Main St",
			LastLine:      "Seattle WA 98109-3858",
		}}
		resp[0].Components.CityName = "Seattle"
		resp[0].Components.StateAbbreviation = "WA"
		resp[0].Components.ZipCode = "98109"
		resp[0].Components.Plus4Code = "3858"
		resp[0].Metadata.Latitude = 47.63
		resp[0].Metadata.Longitude = -122.35

		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-id", "test-token", WithRetry(fastClientRetry()))
	results, err := client.Geocode(context.Background(), []Lookup{
		{InputID: "1_home", Address: AddressInfo{Lines: []string{"123 Main St", "Apt 4"}, City: "Seattle", State: "WA", PostalCode: "98109"}},
		{InputID: "2_home", Address: AddressInfo{Lines: []string{"1 Nowhere Rd"}}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Len(t, gotBody, 2)
	assert.Equal(t, "123 Main St", gotBody[0].Street)
	assert.Equal(t, "Apt 4", gotBody[0].Street2)
	assert.Equal(t, 1, gotBody[0].MaxCandidates)

	matched := results[0]
	require.NotNil(t, matched.Address)
	assert.Equal(t, "98109-3858", matched.Address.PostalCode)
	assert.Equal(t, "123 Main St, Seattle WA 98109-3858", matched.Address.CanonicalAddress)
	assert.Equal(t, 47.63, matched.Address.Latitude)

	assert.Nil(t, results[1].Address, "unmatched lookup yields nil address")
}

func TestClient_Geocode_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode([]candidateResponse{}))
	}))
	defer server.Close()

	client := NewClient(server.URL, "id", "token", WithRetry(fastClientRetry()))
	_, err := client.Geocode(context.Background(), []Lookup{{InputID: "1_home"}})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Geocode_PermanentStatusFails(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "id", "token", WithRetry(fastClientRetry()))
	_, err := client.Geocode(context.Background(), []Lookup{{InputID: "1_home"}})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "auth failures are not retried")
}

func TestClient_Geocode_EmptyInput(t *testing.T) {
	client := NewClient("http://unused", "id", "token")
	results, err := client.Geocode(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}
