package encounter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadia-health/study-export/internal/model"
)

func TestClient_Upload(t *testing.T) {
	var got model.Encounter
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/encounter/abc123", r.URL.Path)

		user, password, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "partner", user)
		assert.Equal(t, "hunter2", password)

		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "partner", "hunter2")
	enc := &model.Encounter{SchemaVersion: model.SchemaVersion, ID: "abc123", Participant: "deadbeef"}

	require.NoError(t, client.Upload(context.Background(), enc))
	assert.Equal(t, "abc123", got.ID)
	assert.Equal(t, model.SchemaVersion, got.SchemaVersion)
}

func TestClient_Upload_Rejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient(server.URL, "partner", "hunter2")
	err := client.Upload(context.Background(), &model.Encounter{ID: "abc123"})

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusUnprocessableEntity, rejected.StatusCode)
	assert.Contains(t, rejected.Body, "bad payload")
}

func TestClient_Upload_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	client := NewClient(server.URL, "partner", "hunter2")
	err := client.Upload(context.Background(), &model.Encounter{ID: "abc123"})
	require.Error(t, err)

	var rejected *RejectedError
	assert.False(t, errors.As(err, &rejected), "transport failures are not rejections")
}
