package upstream

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeUpstream serves the credential exchange plus a feature layer and a
// tile endpoint, tracking which token each call presented.
type fakeUpstream struct {
	issued     int64
	rejectToks map[string]bool

	lastQuery url.Values
}

func (f *fakeUpstream) server() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/sharing/rest/generateToken", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&f.issued, 1)
		expires := time.Now().Add(time.Hour).UnixNano() / int64(time.Millisecond)
		fmt.Fprintf(w, `{"token":"tok-%d","expires":%d}`, n, expires)
	})

	mux.HandleFunc("/FeatureServer/0/query", func(w http.ResponseWriter, r *http.Request) {
		f.lastQuery = r.URL.Query()
		if f.rejectToks[r.URL.Query().Get("token")] {
			fmt.Fprint(w, `{"error":{"code":498,"message":"Invalid token."}}`)
			return
		}
		fmt.Fprint(w, `{"features":[{"attributes":{"STATE_NAME":"Kwara"}}]}`)
	})

	mux.HandleFunc("/VectorTileServer/tile/", func(w http.ResponseWriter, r *http.Request) {
		if f.rejectToks[r.URL.Query().Get("token")] {
			w.WriteHeader(499)
			return
		}
		if r.URL.Path == "/VectorTileServer/tile/5/12/10.pbf" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-protobuf")
		_, _ = w.Write([]byte{0x1a, 0x03, 0x74, 0x6c, 0x65})
	})

	return httptest.NewServer(mux)
}

func newTestClient(t *testing.T, f *fakeUpstream) (*Client, *httptest.Server) {
	ts := f.server()
	cfg := upstreamCfg(t, ts.URL)
	session := NewSession(zerolog.Nop(), cfg)
	return NewClient(zerolog.Nop(), cfg, session), ts
}

func TestClientQueryFeatures(t *testing.T) {
	f := &fakeUpstream{}
	client, ts := newTestClient(t, f)
	defer ts.Close()

	params := url.Values{"where": []string{"1=1"}}
	set, err := client.QueryFeatures(context.Background(), ts.URL+"/FeatureServer/0/query", params)
	require.NoError(t, err)
	require.Len(t, set.Features, 1)

	require.Equal(t, "1=1", f.lastQuery.Get("where"))
	require.Equal(t, "json", f.lastQuery.Get("f"))
	require.NotEmpty(t, f.lastQuery.Get("token"))
}

func TestClientQueryRetriesOnceOnTokenRejection(t *testing.T) {
	f := &fakeUpstream{rejectToks: map[string]bool{"tok-1": true}}
	client, ts := newTestClient(t, f)
	defer ts.Close()

	set, err := client.QueryFeatures(context.Background(),
		ts.URL+"/FeatureServer/0/query", url.Values{"where": []string{"1=1"}})
	require.NoError(t, err)
	require.Len(t, set.Features, 1)

	// One rejected exchange plus one successful retry.
	require.Equal(t, int64(2), atomic.LoadInt64(&f.issued))
	require.Equal(t, "tok-2", f.lastQuery.Get("token"))
}

func TestClientQueryGivesUpAfterSecondRejection(t *testing.T) {
	f := &fakeUpstream{rejectToks: map[string]bool{"tok-1": true, "tok-2": true}}
	client, ts := newTestClient(t, f)
	defer ts.Close()

	_, err := client.QueryFeatures(context.Background(),
		ts.URL+"/FeatureServer/0/query", url.Values{"where": []string{"1=1"}})
	require.Equal(t, ErrUnavailable, err)
	require.Equal(t, int64(2), atomic.LoadInt64(&f.issued))
}

func TestClientQueryRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sharing/rest/generateToken" {
			expires := time.Now().Add(time.Hour).UnixNano() / int64(time.Millisecond)
			fmt.Fprintf(w, `{"token":"tok-1","expires":%d}`, expires)
			return
		}
		fmt.Fprint(w, `{"error":{"code":400,"message":"Invalid where clause."}}`)
	}))
	defer ts.Close()

	cfg := upstreamCfg(t, ts.URL)
	client := NewClient(zerolog.Nop(), cfg, NewSession(zerolog.Nop(), cfg))

	_, err := client.QueryFeatures(context.Background(),
		ts.URL+"/FeatureServer/0/query", url.Values{"where": []string{"bogus ("}})
	require.Equal(t, ErrRejected, err)
}

func TestClientFetchTile(t *testing.T) {
	f := &fakeUpstream{}
	client, ts := newTestClient(t, f)
	defer ts.Close()

	res, err := client.Fetch(context.Background(), ts.URL+"/VectorTileServer/tile/3/2/1.pbf", nil)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, "application/x-protobuf", res.ContentType)
	payload, err := ioutil.ReadAll(res.Body)
	require.NoError(t, err)
	require.NotEmpty(t, payload)
}

func TestClientFetchPassesThrough404(t *testing.T) {
	f := &fakeUpstream{}
	client, ts := newTestClient(t, f)
	defer ts.Close()

	_, err := client.Fetch(context.Background(), ts.URL+"/VectorTileServer/tile/5/12/10.pbf", nil)
	require.Equal(t, ErrNotFound, err)
}

func TestClientFetchRetriesOnTokenRejection(t *testing.T) {
	f := &fakeUpstream{rejectToks: map[string]bool{"tok-1": true}}
	client, ts := newTestClient(t, f)
	defer ts.Close()

	res, err := client.Fetch(context.Background(), ts.URL+"/VectorTileServer/tile/3/2/1.pbf", nil)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, int64(2), atomic.LoadInt64(&f.issued))
}

func TestClientFetchCancelledContext(t *testing.T) {
	f := &fakeUpstream{}
	client, ts := newTestClient(t, f)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Fetch(ctx, ts.URL+"/VectorTileServer/tile/3/2/1.pbf", nil)
	require.Error(t, err)
}
