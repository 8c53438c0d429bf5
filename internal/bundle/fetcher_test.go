package bundle

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestFetcherFetchDecompressesGzipAndCaches(t *testing.T) {
	want := []byte("the quick brown fox jumps over the lazy dog")
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(gzipBytes(t, want))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, srv.Client(), nil)
	got, err := f.Fetch(t.Context(), "core")
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, 1, calls)

	// second fetch must be served from the in-process memory map, not the network
	got2, err := f.Fetch(t.Context(), "core")
	require.NoError(t, err)
	require.Equal(t, want, got2)
	require.Equal(t, 1, calls)
}

func TestFetcherFetchRangeSendsByteRangeHeader(t *testing.T) {
	full := []byte("0123456789ABCDEF")
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(full[4:9])
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, srv.Client(), nil)
	got, err := f.FetchRange(t.Context(), "fonts", 4, 9)
	require.NoError(t, err)
	require.Equal(t, "bytes=4-8", gotRange)
	require.Equal(t, full[4:9], got)
}

func TestFetcherFetchPropagatesRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, srv.Client(), nil)
	_, err := f.Fetch(t.Context(), "missing")
	require.Error(t, err)
}
