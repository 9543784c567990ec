package upstream_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eventlake/ingestcore/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, srv *httptest.Server) *upstream.Client {
	t.Helper()
	return upstream.New(upstream.Config{
		BaseURL:     srv.URL,
		Auth:        upstream.AuthNone,
		Timeout:     5 * time.Second,
		VerifySSL:   true,
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
	})
}

func TestListIndicesSortsAndDedupsOpenOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"index": "b-idx", "status": "open"},
			{"index": "a-idx", "status": "open"},
			{"index": "c-idx", "status": "close"},
		})
	}))
	defer srv.Close()

	got, err := newClient(t, srv).ListIndices(context.Background(), "*-idx")
	require.NoError(t, err)
	assert.Equal(t, []string{"a-idx", "b-idx"}, got)
}

func TestListIndices404IsEmptyNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	got, err := newClient(t, srv).ListIndices(context.Background(), "missing-*")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearch4xxNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newClient(t, srv).Search(context.Background(), map[string]any{"size": 1}, "idx")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestSearch5xxRetriesThenExhausts(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(t, srv).Search(context.Background(), map[string]any{"size": 1}, "idx")
	require.Error(t, err)
	assert.Greater(t, calls, 1)
}

func TestSearchUsesPitEndpointWhenBodyCarriesPit(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{"hits": map[string]any{"hits": []any{}}})
	}))
	defer srv.Close()

	_, err := newClient(t, srv).Search(context.Background(), map[string]any{
		"pit": map[string]any{"id": "abc", "keep_alive": "1m"},
	}, "ignored-index")
	require.NoError(t, err)
	assert.Equal(t, "/_search", gotPath)
}

func TestOpenAndClosePIT(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "tok123"})
		case http.MethodDelete:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := newClient(t, srv)
	id, err := c.OpenPIT(context.Background(), "my-index")
	require.NoError(t, err)
	assert.Equal(t, "tok123", id)

	require.NoError(t, c.ClosePIT(context.Background(), id))
}

func TestBasicAuthHeaderSet(t *testing.T) {
	var gotUser, gotPass string
	var ok bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, ok = r.BasicAuth()
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := upstream.New(upstream.Config{
		BaseURL:     srv.URL,
		Auth:        upstream.AuthBasic,
		Username:    "alice",
		Secret:      "s3cret",
		Timeout:     5 * time.Second,
		VerifySSL:   true,
		MaxRetries:  1,
		BackoffBase: time.Millisecond,
	})
	_, _ = c.ListIndices(context.Background(), "*")
	assert.True(t, ok)
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "s3cret", gotPass)
}
