package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"deepresearch/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Redirect(w, r, "/article#top", http.StatusFound)
	})
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/head-rejected", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		http.Redirect(w, r, "/article", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestResolve_FollowsRedirectsAndCaches(t *testing.T) {
	srv, hits := newTestServer(t)
	m := metrics.New()
	r := New(Config{RatePerSecond: 100, Burst: 10, Timeout: time.Second, CacheTTL: time.Minute}, m, nil)

	final, err := r.Resolve(context.Background(), srv.URL+"/redirect")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/article", final)

	again, err := r.Resolve(context.Background(), srv.URL+"/redirect")
	require.NoError(t, err)
	assert.Equal(t, final, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolverLookups.WithLabelValues("hit")))
}

func TestResolve_FallsBackToGet(t *testing.T) {
	srv, _ := newTestServer(t)
	r := New(Config{RatePerSecond: 100, Burst: 10}, nil, nil)

	final, err := r.Resolve(context.Background(), srv.URL+"/head-rejected")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/article", final)
}

func TestResolve_UnreachableIsEmptyNotError(t *testing.T) {
	srv, _ := newTestServer(t)
	r := New(Config{RatePerSecond: 100, Burst: 10}, nil, nil)

	final, err := r.Resolve(context.Background(), srv.URL+"/gone")
	require.NoError(t, err)
	assert.Equal(t, "", final)
}

func TestResolve_CancelledContext(t *testing.T) {
	srv, _ := newTestServer(t)
	r := New(Config{RatePerSecond: 0.001, Burst: 1}, nil, nil)

	_, err := r.Resolve(context.Background(), srv.URL+"/article")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Resolve(ctx, srv.URL+"/redirect")
	assert.ErrorIs(t, err, context.Canceled)
}
