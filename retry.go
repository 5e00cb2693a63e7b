package rawdl

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// RetryPolicy decides which failed attempts are retried and how long to
// wait in between. It is shared by every request of a Client.
type RetryPolicy struct {
	// TotalAttempts bounds the number of attempts, first try included.
	TotalAttempts int
	// ReadAttempts and ConnectAttempts bound the failed attempts of each
	// failure class independently of TotalAttempts.
	ReadAttempts    int
	ConnectAttempts int
	// BackoffFactor is the wait before the second attempt, doubled for
	// every attempt after that.
	BackoffFactor time.Duration
	MaxBackoff    time.Duration
	// StatusCodes lists the response codes worth another attempt.
	StatusCodes []int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		TotalAttempts:   5,
		ReadAttempts:    5,
		ConnectAttempts: 5,
		BackoffFactor:   300 * time.Millisecond,
		MaxBackoff:      120 * time.Second,
		StatusCodes: []int{
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusGatewayTimeout,
		},
	}
}

// Backoff returns the wait before attempt n, counting the first try as 1.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 2 {
		return 0
	}
	wait := time.Duration(float64(p.BackoffFactor) * math.Pow(2, float64(n-2)))
	if p.MaxBackoff > 0 && wait > p.MaxBackoff {
		wait = p.MaxBackoff
	}
	return wait
}

func (p RetryPolicy) retryableStatus(code int) bool {
	for _, c := range p.StatusCodes {
		if c == code {
			return true
		}
	}
	return false
}

// attemptCounter tracks failures per class for one request.
type attemptCounter struct {
	reads    int
	connects int
}

type attemptCounterKey struct{}

func withAttemptCounter(ctx context.Context) context.Context {
	return context.WithValue(ctx, attemptCounterKey{}, &attemptCounter{})
}

func attemptCounterFrom(ctx context.Context) *attemptCounter {
	if c, ok := ctx.Value(attemptCounterKey{}).(*attemptCounter); ok {
		return c
	}
	return &attemptCounter{}
}

// checkRetry is the retryablehttp.CheckRetry of a Client.
func (p RetryPolicy) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		// certificate, redirect loop and scheme errors are final
		if retry, perr := retryablehttp.DefaultRetryPolicy(ctx, nil, err); !retry {
			return false, perr
		}
		counter := attemptCounterFrom(ctx)
		if isConnectError(err) {
			counter.connects++
			if counter.connects >= p.ConnectAttempts {
				return false, fmt.Errorf("connect retries exhausted: %w", err)
			}
			return true, nil
		}
		counter.reads++
		if counter.reads >= p.ReadAttempts {
			return false, fmt.Errorf("read retries exhausted: %w", err)
		}
		return true, nil
	}
	return p.retryableStatus(resp.StatusCode), nil
}

// backoff is the retryablehttp.Backoff of a Client. attemptNum is the
// zero-based index of the attempt that just failed.
func (p RetryPolicy) backoff(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
	return p.Backoff(attemptNum + 2)
}

func isConnectError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
