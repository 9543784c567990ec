package warehouse_test

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eventlake/ingestcore/internal/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(srv *httptest.Server) *warehouse.Client {
	return warehouse.New(warehouse.Config{
		URL:         srv.URL + "/",
		Timeout:     5 * time.Second,
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
	})
}

func TestExecSendsQueryAsParameter(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := newClient(srv).Exec(context.Background(), "CREATE DATABASE IF NOT EXISTS foo", nil)
	require.NoError(t, err)
	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS foo", gotQuery)
}

func TestTableExistsTrue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("1\n"))
	}))
	defer srv.Close()

	ok, err := newClient(srv).TableExists(context.Background(), "proj_bronze", "os_events_raw")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTableExistsFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0\n"))
	}))
	defer srv.Close()

	ok, err := newClient(srv).TableExists(context.Background(), "proj_bronze", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTableExistsRejectsInvalidIdentifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the server")
	}))
	defer srv.Close()

	_, err := newClient(srv).TableExists(context.Background(), "proj; DROP TABLE x", "t")
	require.Error(t, err)
}

func TestInsertRowsPostsJSONEachRow(t *testing.T) {
	var gotQuery, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newClient(srv).InsertRows(context.Background(), "proj_bronze", "os_events_raw", []map[string]any{
		{"event_id": "1"},
		{"event_id": "2"},
	})
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "INSERT INTO `proj_bronze`.`os_events_raw` FORMAT JSONEachRow")

	scanner := bufio.NewScanner(strings.NewReader(gotBody))
	lines := 0
	for scanner.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestInsertRowsEmptyIsNoop(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	require.NoError(t, newClient(srv).InsertRows(context.Background(), "db", "t", nil))
	assert.False(t, called)
}

func TestExec5xxRetriesThenExhausts(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(srv).Exec(context.Background(), "SELECT 1", nil)
	require.Error(t, err)
	assert.Greater(t, calls, 1)
}

func TestExec4xxNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newClient(srv).Exec(context.Background(), "BAD SQL", nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
