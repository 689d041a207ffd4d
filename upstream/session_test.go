package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tilegate/config"

	"github.com/lancer-kit/noble"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func secret(t *testing.T, raw string) noble.Secret {
	var s noble.Secret
	require.NoError(t, yaml.Unmarshal([]byte("raw:"+raw), &s))
	return s
}

func upstreamCfg(t *testing.T, portal string) config.UpstreamCfg {
	return config.UpstreamCfg{
		Portal:            portal,
		Referer:           "https://proxy.example.com",
		Username:          secret(t, "svc-account"),
		Password:          secret(t, "svc-password"),
		RequestTimeoutSec: 5,
	}
}

func tokenServer(t *testing.T, exchanges *int64, delay time.Duration) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sharing/rest/generateToken", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "svc-account", r.PostForm.Get("username"))
		require.Equal(t, "svc-password", r.PostForm.Get("password"))
		require.Equal(t, "referer", r.PostForm.Get("client"))

		n := atomic.AddInt64(exchanges, 1)
		time.Sleep(delay)

		expires := time.Now().Add(time.Hour).UnixNano() / int64(time.Millisecond)
		fmt.Fprintf(w, `{"token":"tok-%d","expires":%d}`, n, expires)
	}))
}

func TestSessionTokenCached(t *testing.T) {
	var exchanges int64
	ts := tokenServer(t, &exchanges, 0)
	defer ts.Close()

	session := NewSession(zerolog.Nop(), upstreamCfg(t, ts.URL))

	first, err := session.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", first)

	second, err := session.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, int64(1), atomic.LoadInt64(&exchanges))
}

func TestSessionConcurrentRefreshSingleExchange(t *testing.T) {
	var exchanges int64
	ts := tokenServer(t, &exchanges, 50*time.Millisecond)
	defer ts.Close()

	session := NewSession(zerolog.Nop(), upstreamCfg(t, ts.URL))

	const requesters = 16
	tokens := make([]string, requesters)

	var wg sync.WaitGroup
	wg.Add(requesters)
	for i := 0; i < requesters; i++ {
		go func(i int) {
			defer wg.Done()
			tok, err := session.Token(context.Background())
			require.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	require.Equal(t, int64(1), atomic.LoadInt64(&exchanges))
	for _, tok := range tokens {
		require.Equal(t, "tok-1", tok)
	}
}

func TestSessionInvalidateForcesRefresh(t *testing.T) {
	var exchanges int64
	ts := tokenServer(t, &exchanges, 0)
	defer ts.Close()

	session := NewSession(zerolog.Nop(), upstreamCfg(t, ts.URL))

	first, err := session.Token(context.Background())
	require.NoError(t, err)

	session.Invalidate(first)

	second, err := session.Token(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.Equal(t, int64(2), atomic.LoadInt64(&exchanges))
}

func TestSessionInvalidateIgnoresStaleToken(t *testing.T) {
	var exchanges int64
	ts := tokenServer(t, &exchanges, 0)
	defer ts.Close()

	session := NewSession(zerolog.Nop(), upstreamCfg(t, ts.URL))

	current, err := session.Token(context.Background())
	require.NoError(t, err)

	// Invalidating a token that is no longer the cached one must not
	// drop the fresh credential.
	session.Invalidate("tok-stale")

	again, err := session.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, current, again)
	require.Equal(t, int64(1), atomic.LoadInt64(&exchanges))
}

func TestSessionExchangeErrors(t *testing.T) {
	t.Run("error envelope", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"error":{"code":400,"message":"Unable to generate token."}}`)
		}))
		defer ts.Close()

		session := NewSession(zerolog.Nop(), upstreamCfg(t, ts.URL))
		_, err := session.Token(context.Background())
		require.Equal(t, ErrUnavailable, err)
	})

	t.Run("missing token", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{}`)
		}))
		defer ts.Close()

		session := NewSession(zerolog.Nop(), upstreamCfg(t, ts.URL))
		_, err := session.Token(context.Background())
		require.Equal(t, ErrUnavailable, err)
	})

	t.Run("unreachable portal", func(t *testing.T) {
		session := NewSession(zerolog.Nop(), upstreamCfg(t, "http://127.0.0.1:1"))
		_, err := session.Token(context.Background())
		require.Equal(t, ErrUnavailable, err)
	})
}
