package resolver

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

	"gbif-nl-search/internal/common/logger"
)

func newTestResolver(t *testing.T, baseURL string, maxRetries int) *GRSciCollResolver {
	t.Helper()
	r := New(Config{
		BaseURL:    baseURL,
		Timeout:    2 * time.Second,
		MaxRetries: maxRetries,
	}, logger.NewTestLogger(t))
	r.retry.BaseDelay = time.Millisecond
	r.retry.MaxDelay = 5 * time.Millisecond
	return r
}

func TestResolve_FirstMatchWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/grscicoll/institution/search", r.URL.Path)
		assert.Equal(t, "Field Museum", r.URL.Query().Get("q"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]string{
				{"key": "aaaa-1111", "name": "Field Museum of Natural History"},
				{"key": "bbbb-2222", "name": "Field Station Museum"},
			},
		})
	}))
	defer server.Close()

	key, err := newTestResolver(t, server.URL, 1).Resolve(context.Background(), KindInstitution, "Field Museum")
	require.NoError(t, err)

	assert.Equal(t, "aaaa-1111", key)
}

func TestResolve_CollectionPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/grscicoll/collection/search", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]string{{"key": "cccc-3333"}},
		})
	}))
	defer server.Close()

	key, err := newTestResolver(t, server.URL, 1).Resolve(context.Background(), KindCollection, "Ornithology")
	require.NoError(t, err)

	assert.Equal(t, "cccc-3333", key)
}

func TestResolve_ZeroMatchesIsNotFound(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{"results": []interface{}{}})
	}))
	defer server.Close()

	_, err := newTestResolver(t, server.URL, 3).Resolve(context.Background(), KindInstitution, "No Such Museum")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "an empty result set is a definitive answer, not a failure to retry")
}

func TestResolve_EmptyName(t *testing.T) {
	_, err := newTestResolver(t, "http://unused.invalid", 1).Resolve(context.Background(), KindInstitution, "  ")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_PersistentServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestResolver(t, server.URL, 3).Resolve(context.Background(), KindCollection, "Herbarium")

	assert.ErrorIs(t, err, ErrResolutionFailed)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestResolve_RecoversAfterTransientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]string{{"key": "dddd-4444"}},
		})
	}))
	defer server.Close()

	key, err := newTestResolver(t, server.URL, 3).Resolve(context.Background(), KindInstitution, "Smithsonian")
	require.NoError(t, err)

	assert.Equal(t, "dddd-4444", key)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
