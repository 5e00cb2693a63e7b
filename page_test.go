package rawdl

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPage = `<!DOCTYPE html>
<html>
<head>
  <link rel="preload" href="/live/master.m3u8">
  <meta property="og:title" content="Episode 1">
</head>
<body>
  <video src="media/clip.mpd"></video>
  <a href="https://other.example.com/x.m3u8?token=1&amp;b=2">mirror</a>
  <a href="/about">about</a>
  <script>var player = {"hls":"https:\/\/cdn.example.com\/v\/index.m3u8"};</script>
</body>
</html>`

func TestDiscover(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/watch/page.html", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, testPage)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, ClientConfig{})
	found, err := Discover(context.Background(), client, srv.URL+"/watch/page.html")
	require.NoError(t, err)
	assert.Equal(t, []string{
		srv.URL + "/watch/media/clip.mpd",
		"https://other.example.com/x.m3u8?token=1&b=2",
		srv.URL + "/live/master.m3u8",
		"https://cdn.example.com/v/index.m3u8",
	}, found)
}

func TestDiscover_Errors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	client := newTestClient(t, ClientConfig{})
	_, err := Discover(context.Background(), client, srv.URL+"/missing")
	assert.Error(t, err)
}

func TestDiscover_NoManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><body><a href="/about">about</a></body></html>`)
	}))
	defer srv.Close()

	client := newTestClient(t, ClientConfig{})
	found, err := Discover(context.Background(), client, srv.URL+"/")
	require.NoError(t, err)
	assert.Empty(t, found)
}
