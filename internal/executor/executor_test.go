package executor

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
	"gbif-nl-search/internal/schema"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func newTestExecutor(t *testing.T, baseURL string, maxRetries int) *Executor {
	t.Helper()
	e := New(Config{
		BaseURL:    baseURL,
		Timeout:    2 * time.Second,
		MaxRetries: maxRetries,
	}, logger.NewTestLogger(t))
	e.retry.BaseDelay = time.Millisecond
	e.retry.MaxDelay = 5 * time.Millisecond
	return e
}

func TestBuildQuery_MapsAllParameters(t *testing.T) {
	params := &schema.ResolvedParameters{
		ScientificName: strPtr("Cyanocitta cristata"),
		Locality:       strPtr("Toronto"),
		Continent:      strPtr("NORTH_AMERICA"),
		Country:        strPtr("CA"),
		StateProvince:  strPtr("Ontario"),
		RecordedBy:     strPtr("Smith"),
		DateFrom:       strPtr("2020-01-01"),
		DateTo:         strPtr("2020-12-31"),
		HasImage:       boolPtr(true),
		InstitutionKey: strPtr("aaaa-1111"),
		CollectionKey:  strPtr("bbbb-2222"),
	}

	q := buildQuery(params, 600)

	assert.Equal(t, "PRESERVED_SPECIMEN", q.Get("basisOfRecord"))
	assert.Equal(t, "300", q.Get("limit"))
	assert.Equal(t, "600", q.Get("offset"))
	assert.Equal(t, "Cyanocitta cristata", q.Get("scientificName"))
	assert.Equal(t, "Toronto", q.Get("locality"))
	assert.Equal(t, "NORTH_AMERICA", q.Get("continent"))
	assert.Equal(t, "CA", q.Get("country"))
	assert.Equal(t, "Ontario", q.Get("stateProvince"))
	assert.Equal(t, "Smith", q.Get("recordedBy"))
	assert.Equal(t, "2020-01-01,2020-12-31", q.Get("eventDate"))
	assert.Equal(t, "StillImage", q.Get("mediaType"))
	assert.Equal(t, "aaaa-1111", q.Get("institutionKey"))
	assert.Equal(t, "bbbb-2222", q.Get("collectionKey"))
}

func TestBuildQuery_OpenEndedDateRanges(t *testing.T) {
	tests := []struct {
		name string
		from *string
		to   *string
		want string
	}{
		{"from only", strPtr("1835-01-01"), nil, "1835-01-01,*"},
		{"to only", nil, strPtr("1835-12-31"), "*,1835-12-31"},
		{"neither", nil, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := buildQuery(&schema.ResolvedParameters{DateFrom: tt.from, DateTo: tt.to}, 0)
			assert.Equal(t, tt.want, q.Get("eventDate"))
		})
	}
}

func TestBuildQuery_InstitutionKeySupersedesCodes(t *testing.T) {
	params := &schema.ResolvedParameters{
		InstitutionKey:  strPtr("aaaa-1111"),
		InstitutionCode: strPtr("FMNH"),
		CollectionCode:  strPtr("Birds"),
	}

	q := buildQuery(params, 0)

	assert.Equal(t, "aaaa-1111", q.Get("institutionKey"))
	assert.Empty(t, q.Get("institutionCode"))
	assert.Empty(t, q.Get("collectionCode"))
}

func TestBuildQuery_CodesWithoutKey(t *testing.T) {
	params := &schema.ResolvedParameters{
		InstitutionCode: strPtr("FMNH"),
		CollectionCode:  strPtr("Birds"),
	}

	q := buildQuery(params, 0)

	assert.Equal(t, "FMNH", q.Get("institutionCode"))
	assert.Equal(t, "Birds", q.Get("collectionCode"))
}

func occurrencePage(offset int64, count int64, end bool, results []map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"offset":       offset,
		"limit":        300,
		"endOfRecords": end,
		"count":        count,
		"results":      results,
	}
}

func TestSearch_ShapesRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/occurrence/search", r.URL.Path)
		json.NewEncoder(w).Encode(occurrencePage(0, 2, true, []map[string]interface{}{
			{
				"key":             1234567890,
				"catalogNumber":   "FMNH 12345",
				"scientificName":  "Cyanocitta cristata",
				"eventDate":       "1998-05-02",
				"recordedBy":      "Smith",
				"locality":        "Toronto",
				"institutionCode": "FMNH",
				"media": []map[string]string{
					{"type": "StillImage", "identifier": "https://img.example/1.jpg"},
					{"type": "StillImage", "identifier": "https://img.example/2.jpg"},
					{"type": "StillImage"},
				},
			},
			{"key": 42},
		}))
	}))
	defer server.Close()

	result, err := newTestExecutor(t, server.URL, 1).Search(context.Background(), &schema.ResolvedParameters{}, 0)
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	assert.Equal(t, int64(2), result.Count)
	assert.True(t, result.EndOfRecords)
	assert.Contains(t, result.RawURL, "basisOfRecord=PRESERVED_SPECIMEN")

	first := result.Records[0]
	assert.Equal(t, "https://gbif.org/occurrence/1234567890", first.Permalink)
	assert.Equal(t, "https://img.example/1.jpg", first.ImageURL)
	assert.Equal(t, 2, first.ImageCount, "media entries without an identifier do not count")

	second := result.Records[1]
	assert.Equal(t, "https://gbif.org/occurrence/42", second.Permalink)
	assert.Empty(t, second.ImageURL)
	assert.Zero(t, second.ImageCount)
}

func TestSearch_RejectsMisalignedOffset(t *testing.T) {
	exec := newTestExecutor(t, "http://unused.invalid", 1)

	for _, offset := range []int64{-300, 1, 150, 299, 301} {
		_, err := exec.Search(context.Background(), &schema.ResolvedParameters{}, offset)

		var sErr *SearchError
		require.ErrorAs(t, err, &sErr)
		assert.Equal(t, http.StatusBadRequest, sErr.Status)
	}
}

func TestSearch_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestExecutor(t, server.URL, 5).Search(context.Background(), &schema.ResolvedParameters{}, 0)

	var sErr *SearchError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, http.StatusBadRequest, sErr.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSearch_ServerErrorRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(occurrencePage(0, 0, true, nil))
	}))
	defer server.Close()

	result, err := newTestExecutor(t, server.URL, 3).Search(context.Background(), &schema.ResolvedParameters{}, 0)
	require.NoError(t, err)

	assert.Empty(t, result.Records)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSearch_RetriesExhausted(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestExecutor(t, server.URL, 3).Search(context.Background(), &schema.ResolvedParameters{}, 0)

	var sErr *SearchError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, http.StatusInternalServerError, sErr.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSearch_LastPartialPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "600", r.URL.Query().Get("offset"))
		results := make([]map[string]interface{}, 47)
		for i := range results {
			results[i] = map[string]interface{}{"key": 600 + i}
		}
		json.NewEncoder(w).Encode(occurrencePage(600, 647, true, results))
	}))
	defer server.Close()

	result, err := newTestExecutor(t, server.URL, 1).Search(context.Background(), &schema.ResolvedParameters{}, 600)
	require.NoError(t, err)

	assert.Len(t, result.Records, 47)
	assert.True(t, result.EndOfRecords)
	assert.Equal(t, int64(647), result.Count)
}
