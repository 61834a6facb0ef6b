package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joseda-hg/notegrid/internal/model"
)

const testCredential = "0b8f5b0e-4a8c-4c0e-9f3d-1c2b3a4d5e6f"

func TestReadSendsBearerAndBypassesCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/data", r.URL.Path)
		assert.Equal(t, "Bearer "+testCredential, r.Header.Get("Authorization"))
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))

		_, _ = io.WriteString(w, `{"success":true,"data":{"tasks":[{"id":"t1","title":"Ship","tags":null,"color":"#22c55e","q":"do","completed":false,"createdAt":10,"updatedAt":20}],"links":[],"createdAt":10,"updatedAt":20}}`)
	}))
	defer server.Close()

	data, err := New(server.URL).Read(context.Background(), testCredential)
	require.NoError(t, err)
	require.NotNil(t, data)
	require.Len(t, data.Tasks, 1)
	assert.Equal(t, model.QuadrantDo, data.Tasks[0].Q)
	assert.Equal(t, []string{}, data.Tasks[0].Tags)
	assert.Equal(t, int64(20), data.UpdatedAt)
}

func TestReadWithoutDataReturnsNil(t *testing.T) {
	for _, body := range []string{`{"success":true}`, `{"success":false,"data":{"tasks":[]}}`, `{"success":true,"data":null}`} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, body)
		}))

		data, err := New(server.URL).Read(context.Background(), testCredential)
		server.Close()

		require.NoError(t, err, body)
		assert.Nil(t, data, body)
	}
}

func TestReadNon2xxIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"unknown user"}`)
	}))
	defer server.Close()

	_, err := New(server.URL).Read(context.Background(), testCredential)
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "read", netErr.Op)
	assert.Equal(t, http.StatusUnauthorized, netErr.StatusCode)
	assert.Contains(t, err.Error(), "unknown user")
}

func TestWriteSendsFullDocument(t *testing.T) {
	var received model.UserData
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = io.WriteString(w, `{"success":true}`)
	}))
	defer server.Close()

	data := model.NewUserData(testTime())
	data.Tasks = append(data.Tasks, model.Task{ID: "a", Title: "one", Color: "#ef4444", CreatedAt: 1, UpdatedAt: 1})

	require.NoError(t, New(server.URL).Write(context.Background(), testCredential, data))
	assert.Equal(t, data.UpdatedAt, received.UpdatedAt)
	require.Len(t, received.Tasks, 1)
	assert.Equal(t, "one", received.Tasks[0].Title)
}

func TestWriteRejectedIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"error":"quota"}`)
	}))
	defer server.Close()

	err := New(server.URL).Write(context.Background(), testCredential, model.NewUserData(testTime()))
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestExistsAndRegister(t *testing.T) {
	var registered string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/exists/"+testCredential:
			_, _ = io.WriteString(w, `{"success":true,"data":{"exists":false}}`)
		case r.Method == http.MethodPost && r.URL.Path == "/api/register":
			var body struct {
				UUID string `json:"uuid"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			registered = body.UUID
			_, _ = io.WriteString(w, `{"success":true}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL)
	exists, err := client.Exists(context.Background(), testCredential)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, client.Register(context.Background(), testCredential))
	assert.Equal(t, testCredential, registered)
}

func TestDeleteAccountSendsTombstone(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = io.WriteString(w, `{"success":true}`)
	}))
	defer server.Close()

	require.NoError(t, New(server.URL).DeleteAccount(context.Background(), testCredential))
	assert.Equal(t, true, body["deleted"])
	assert.Equal(t, []any{}, body["tasks"])
	assert.Equal(t, []any{}, body["links"])
}

func TestBreakerOpensAfterRepeatedServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var opened atomic.Bool
	client := New(server.URL, WithBreakerStateHook(func(_ string, _, to gobreaker.State) {
		if to == gobreaker.StateOpen {
			opened.Store(true)
		}
	}))

	for i := 0; i < 5; i++ {
		_, err := client.Read(context.Background(), testCredential)
		require.Error(t, err)
	}
	assert.True(t, opened.Load())

	_, err := client.Read(context.Background(), testCredential)
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(5), hits.Load())
}

func TestRateLimitHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true}`)
	}))
	defer server.Close()

	client := New(server.URL, WithRateLimit(0.001, 1))
	_, err := client.Read(context.Background(), testCredential)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Read(ctx, testCredential)
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
}

func testTime() time.Time {
	return time.UnixMilli(1_700_000_000_000)
}
