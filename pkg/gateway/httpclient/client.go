package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

const (
	dialTimeout      = 5 * time.Second
	keepAlive        = 30 * time.Second
	handshakeTimeout = 5 * time.Second
	idleConnTimeout  = 90 * time.Second
	maxIdleConns     = 100
	maxIdlePerHost   = 10
	maxBackoff       = 2 * time.Second
)

// New builds the client the gateway uses to reach the screening, trial
// and registry services. Connections are pooled per upstream host.
func New(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   dialTimeout,
				KeepAlive: keepAlive,
			}).DialContext,
			MaxIdleConns:          maxIdleConns,
			MaxIdleConnsPerHost:   maxIdlePerHost,
			IdleConnTimeout:       idleConnTimeout,
			TLSHandshakeTimeout:   handshakeTimeout,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Retry runs fn up to attempts times, doubling the delay between tries
// up to maxBackoff. Permanent errors and context cancellation stop the
// loop immediately.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == attempts-1 || !IsRetriable(lastErr) {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		if delay *= 2; delay > maxBackoff {
			delay = maxBackoff
		}
	}
	return lastErr
}

// IsRetriable reports whether another attempt could plausibly succeed.
func IsRetriable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && (netErr.Timeout() || netErr.Temporary())
}
