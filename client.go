package rawdl

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/publicsuffix"
)

// FirefoxUA is sent as User-Agent unless ExtraHeaders overrides it.
const FirefoxUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Safari/537.36"

// ClientConfig is read once by NewClient. The zero value verifies TLS
// certificates, uses the proxy named by HTTP_PROXY/HTTPS_PROXY/NO_PROXY and
// no timeout.
type ClientConfig struct {
	InsecureSkipVerify bool
	Proxy              *url.URL
	// Timeout bounds dialing, the TLS handshake, the wait for response
	// headers of each attempt and every read of a response body. Zero means
	// no timeout.
	Timeout      time.Duration
	ExtraHeaders map[string]string
	Cookies      map[string]string
	// Retry defaults to DefaultRetryPolicy.
	Retry *RetryPolicy
}

// Client is a persistent HTTP session: default headers and cookies live for
// the lifetime of the Client. Get and Fetch may be called from several
// goroutines; Request with headers changes the session for every caller.
type Client struct {
	retry  RetryPolicy
	http   *retryablehttp.Client
	jar    http.CookieJar
	cookie map[string]string

	mu      sync.Mutex
	headers http.Header
}

func NewClient(config ClientConfig) (*Client, error) {
	policy := DefaultRetryPolicy()
	if config.Retry != nil {
		policy = *config.Retry
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{
		Timeout:   config.Timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	if config.Timeout > 0 {
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, timeout: config.Timeout}, nil
		}
	}
	transport.TLSHandshakeTimeout = config.Timeout
	transport.ResponseHeaderTimeout = config.Timeout
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: config.InsecureSkipVerify}
	transport.Proxy = http.ProxyFromEnvironment
	if config.Proxy != nil {
		transport.Proxy = http.ProxyURL(config.Proxy)
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: transport, Jar: jar}
	rc.Logger = retryLogger{}
	rc.RetryMax = policy.TotalAttempts - 1
	rc.CheckRetry = policy.checkRetry
	rc.Backoff = policy.backoff
	rc.ErrorHandler = giveUp

	client := &Client{
		retry:   policy,
		http:    rc,
		jar:     jar,
		cookie:  make(map[string]string, len(config.Cookies)),
		headers: make(http.Header),
	}
	client.headers.Set("User-Agent", FirefoxUA)
	for key, val := range config.ExtraHeaders {
		client.headers.Set(key, val)
	}
	for key, val := range config.Cookies {
		client.cookie[key] = val
	}
	return client, nil
}

// deadlineConn fails a Read that gets no data for timeout, so a server
// that stops sending in the middle of a body cannot block the reader.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

// giveUp turns an exhausted retry loop into a TransportError.
func giveUp(resp *http.Response, err error, numTries int) (*http.Response, error) {
	terr := &TransportError{Attempts: numTries, Err: err}
	if resp != nil {
		terr.StatusCode = resp.StatusCode
		if resp.Request != nil {
			terr.Method = resp.Request.Method
			terr.URL = resp.Request.URL.String()
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}
	return nil, terr
}

// Header returns the current value of a default header.
func (client *Client) Header(key string) string {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.headers.Get(key)
}

// Request sends a request with the session headers and cookies.
//
// Headers passed in are merged into the session headers and stay there for
// later requests. A request without headers drops a Range header left over
// from an earlier ranged request.
//
// Responses with an error status are returned like any other response;
// only transport failures and an exhausted retry budget return an error,
// always a *TransportError.
func (client *Client) Request(ctx context.Context, method, rawURL string, headers map[string]string) (*http.Response, error) {
	client.mu.Lock()
	if len(headers) > 0 {
		for key, val := range headers {
			client.headers.Set(key, val)
		}
	} else {
		client.headers.Del("Range")
	}
	sent := client.headers.Clone()
	client.mu.Unlock()

	logger.Debug().Str("method", method).Msgf("HTTP getting %q", rawURL)
	req, err := retryablehttp.NewRequestWithContext(withAttemptCounter(ctx), method, rawURL, nil)
	if err != nil {
		return nil, &TransportError{Method: method, URL: rawURL, Err: err}
	}
	req.Header = sent
	client.addCookies(req.Request)

	res, err := client.http.Do(req)
	if err != nil {
		var terr *TransportError
		if !errors.As(err, &terr) {
			return nil, &TransportError{Method: method, URL: rawURL, Attempts: 1, Err: err}
		}
		terr.Method, terr.URL = method, rawURL
		return nil, terr
	}
	return res, nil
}

// addCookies attaches the configured cookies the jar does not already
// hold a fresher value for.
func (client *Client) addCookies(req *http.Request) {
	if len(client.cookie) == 0 {
		return
	}
	fromJar := make(map[string]bool)
	for _, c := range client.jar.Cookies(req.URL) {
		fromJar[c.Name] = true
	}
	for name, val := range client.cookie {
		if !fromJar[name] {
			req.AddCookie(&http.Cookie{Name: name, Value: val})
		}
	}
}

func (client *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	return client.Request(ctx, http.MethodGet, rawURL, nil)
}

// Fetch GETs rawURL and returns the whole body with the response status.
func (client *Client) Fetch(ctx context.Context, rawURL string) ([]byte, int, error) {
	res, err := client.Get(ctx, rawURL)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, res.StatusCode, &TransportError{Method: http.MethodGet, URL: rawURL, Attempts: 1, Err: err}
	}
	return data, res.StatusCode, nil
}

// FinalURL follows the redirects of rawURL and returns where they end,
// without reading the body.
func (client *Client) FinalURL(ctx context.Context, rawURL string) (string, error) {
	res, err := client.Get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	res.Body.Close()
	return FinalURL(res), nil
}

// FinalURL returns the URL a response was served from after redirects.
func FinalURL(res *http.Response) string {
	if res.Request == nil {
		return ""
	}
	return res.Request.URL.String()
}
