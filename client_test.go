package rawdl

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, config ClientConfig) *Client {
	t.Helper()
	if config.Retry == nil {
		policy := DefaultRetryPolicy()
		policy.BackoffFactor = time.Millisecond
		config.Retry = &policy
	}
	client, err := NewClient(config)
	require.NoError(t, err)
	return client
}

func TestClient_DefaultHeaders(t *testing.T) {
	var gotUA, gotExtra string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotExtra = r.Header.Get("X-Extra")
	}))
	defer srv.Close()

	t.Run("firefox user agent", func(t *testing.T) {
		client := newTestClient(t, ClientConfig{ExtraHeaders: map[string]string{"X-Extra": "1"}})
		res, err := client.Get(context.Background(), srv.URL)
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, FirefoxUA, gotUA)
		assert.Equal(t, "1", gotExtra)
	})

	t.Run("extra headers override the user agent", func(t *testing.T) {
		client := newTestClient(t, ClientConfig{ExtraHeaders: map[string]string{"User-Agent": "custom"}})
		res, err := client.Get(context.Background(), srv.URL)
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, "custom", gotUA)
	})
}

func TestClient_Cookies(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil {
			got = c.Value
		}
	}))
	defer srv.Close()

	client := newTestClient(t, ClientConfig{Cookies: map[string]string{"session": "abc"}})
	res, err := client.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, "abc", got)
}

func TestClient_RequestHeaders(t *testing.T) {
	var gotRange, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		gotToken = r.Header.Get("X-Token")
	}))
	defer srv.Close()
	ctx := context.Background()

	client := newTestClient(t, ClientConfig{})
	res, err := client.Request(ctx, http.MethodGet, srv.URL, map[string]string{
		"Range":   "bytes=0-99",
		"X-Token": "t1",
	})
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, "bytes=0-99", gotRange)
	assert.Equal(t, "t1", gotToken)

	res, err = client.Get(ctx, srv.URL)
	require.NoError(t, err)
	res.Body.Close()
	assert.Empty(t, gotRange, "range header leaked into the next request")
	assert.Equal(t, "t1", gotToken, "request headers are kept by the session")
	assert.Empty(t, client.Header("Range"))
	assert.Equal(t, "t1", client.Header("X-Token"))
}

func TestClient_Retry(t *testing.T) {
	t.Run("gives up after five 502s", func(t *testing.T) {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		client := newTestClient(t, ClientConfig{})
		res, err := client.Get(context.Background(), srv.URL)
		assert.Nil(t, res)
		var terr *TransportError
		require.True(t, errors.As(err, &terr), "got %v", err)
		assert.Equal(t, 5, terr.Attempts)
		assert.Equal(t, http.StatusBadGateway, terr.StatusCode)
		assert.Equal(t, srv.URL, terr.URL)
		assert.Equal(t, int32(5), atomic.LoadInt32(&hits))
	})

	t.Run("succeeds on the fifth attempt", func(t *testing.T) {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&hits, 1) <= 4 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			io.WriteString(w, "ok")
		}))
		defer srv.Close()

		client := newTestClient(t, ClientConfig{})
		body, status, err := client.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "ok", string(body))
		assert.Equal(t, int32(5), atomic.LoadInt32(&hits))
	})

	t.Run("client errors are returned without retrying", func(t *testing.T) {
		for _, code := range []int{http.StatusNotFound, http.StatusServiceUnavailable} {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(code)
			}))

			client := newTestClient(t, ClientConfig{})
			res, err := client.Get(context.Background(), srv.URL)
			require.NoError(t, err)
			res.Body.Close()
			assert.Equal(t, code, res.StatusCode)
			assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
			srv.Close()
		}
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()

		client := newTestClient(t, ClientConfig{})
		_, err := client.Get(context.Background(), addr)
		var terr *TransportError
		require.True(t, errors.As(err, &terr), "got %v", err)
		assert.Equal(t, 5, terr.Attempts)
		assert.Zero(t, terr.StatusCode)
	})
}

func TestClient_Timeout(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-done:
		}
	}))
	defer srv.Close()
	defer close(done)

	client := newTestClient(t, ClientConfig{Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := client.Get(context.Background(), srv.URL)
	var terr *TransportError
	require.True(t, errors.As(err, &terr), "got %v", err)
	assert.Equal(t, 5, terr.Attempts)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestClient_TimeoutStalledBody(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "#EXTM3U\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-done:
		}
	}))
	defer srv.Close()
	defer close(done)

	client := newTestClient(t, ClientConfig{Timeout: 100 * time.Millisecond})
	start := time.Now()
	body, status, err := client.Fetch(context.Background(), srv.URL)
	var terr *TransportError
	require.True(t, errors.As(err, &terr), "got %v", err)
	assert.Equal(t, http.StatusOK, status)
	assert.Nil(t, body)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClient_EnvironmentProxy(t *testing.T) {
	client := newTestClient(t, ClientConfig{})
	transport, ok := client.http.HTTPClient.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, transport.Proxy, "proxy variables are honoured without an explicit proxy")

	req := httptest.NewRequest(http.MethodGet, "http://media.example.com/index.m3u8", nil)
	got, err := transport.Proxy(req)
	want, wantErr := http.ProxyFromEnvironment(req)
	assert.Equal(t, wantErr, err)
	assert.Equal(t, want, got)
}

func TestClient_FinalURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/middle", http.StatusFound)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final/index.m3u8", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/final/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "#EXTM3U\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, ClientConfig{})
	final, err := client.FinalURL(context.Background(), srv.URL+"/start")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/final/index.m3u8", final)
}

func TestClient_Proxy(t *testing.T) {
	var gotHost string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.URL.Host
		io.WriteString(w, "proxied")
	}))
	defer proxy.Close()
	proxyURL, err := url.Parse(proxy.URL)
	require.NoError(t, err)

	client := newTestClient(t, ClientConfig{Proxy: proxyURL})
	body, _, err := client.Fetch(context.Background(), "http://media.example.invalid/index.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "proxied", string(body))
	assert.Equal(t, "media.example.invalid", gotHost)
}

func TestClient_TLSVerification(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "secure")
	}))
	defer srv.Close()

	t.Run("verifies certificates by default", func(t *testing.T) {
		client := newTestClient(t, ClientConfig{})
		_, err := client.Get(context.Background(), srv.URL)
		var terr *TransportError
		assert.True(t, errors.As(err, &terr), "got %v", err)
	})

	t.Run("skips verification when asked", func(t *testing.T) {
		client := newTestClient(t, ClientConfig{InsecureSkipVerify: true})
		body, _, err := client.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, "secure", string(body))
	})
}
