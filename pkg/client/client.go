package client

import (
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/version"
)

const (
	retryMinWait     = 100 * time.Millisecond
	retryMaxWait     = 3000 * time.Millisecond // do not backoff further than 3 seconds
	retrySleepJitter = 500                     // (will add 0-500 additional milliseconds), multiplied by time.Millisecond in backoffFunc

	defaultConnectTimeout = 5 * time.Second
	defaultReadTimeout    = 30 * time.Second
	maxRedirects          = 10
)

// HTTPClient is the subset of *http.Client the downloader needs. Tests substitute their own.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures every request rget sends. Headers are added to each request that doesn't
// already set them, so a static cookie travels with the probe and with every range request.
type Options struct {
	MaxRetries     int
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for response headers. The downloader also uses it as the idle
	// timeout between body reads.
	ReadTimeout time.Duration
	Headers     http.Header
	// Transport overrides the network transport; nil uses a tuned http.Transport.
	Transport http.RoundTripper
}

func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout <= 0 {
		return defaultConnectTimeout
	}
	return o.ConnectTimeout
}

// EffectiveReadTimeout returns ReadTimeout, or the default when unset.
func (o Options) EffectiveReadTimeout() time.Duration {
	if o.ReadTimeout <= 0 {
		return defaultReadTimeout
	}
	return o.ReadTimeout
}

type headerTransport struct {
	headers   http.Header
	transport http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for name, values := range t.headers {
		// headers set per request, like Range, win over static ones
		if _, ok := req.Header[name]; ok {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("User-Agent", version.UserAgent())
	return t.transport.RoundTrip(req)
}

// NewHTTPClient returns an *http.Client that retries connection errors, 429s and 5xx responses with
// jittered exponential backoff, up to opts.MaxRetries times.
func NewHTTPClient(opts Options) *http.Client {
	baseTransport := opts.Transport
	if baseTransport == nil {
		baseTransport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   opts.connectTimeout(),
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: opts.EffectiveReadTimeout(),
			ExpectContinueTimeout: 1 * time.Second,
			// range offsets refer to the raw representation, never let the transport decompress
			DisableCompression: true,
		}
	}

	transport := &headerTransport{headers: opts.Headers, transport: baseTransport}

	retryClient := &retryablehttp.Client{
		HTTPClient: &http.Client{
			Transport:     transport,
			CheckRedirect: checkRedirectFunc,
		},
		Logger:       logging.RetryLogger{},
		RetryWaitMin: retryMinWait,
		RetryWaitMax: retryMaxWait,
		RetryMax:     opts.MaxRetries,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      backoffFunc,
	}

	return retryClient.StandardClient()
}

// Backoff returns how long to wait before the given attempt (starting at 1). It is the same curve
// the request-level retries use.
func Backoff(attempt int) time.Duration {
	return backoffFunc(retryMinWait, retryMaxWait, attempt, nil)
}

// backoffFunc is a wrapper around retryablehttp.DefaultBackoff that allows for adding a random jitter to the backoff
// we utilize the jitter to avoid thundering herd issues since we are running one connection per chunk.
func backoffFunc(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	sleep := time.Duration(rand.Intn(retrySleepJitter)) * time.Millisecond
	sleep += retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	return sleep
}

// checkRedirectFunc is a wrapper around http.Client.CheckRedirect that allows for printing out redirects
func checkRedirectFunc(req *http.Request, via []*http.Request) error {
	logger := logging.GetLogger()
	status := 0
	if req.Response != nil {
		status = req.Response.StatusCode
	}
	logger.Trace().
		Str("redirect_url", req.URL.String()).
		Str("url", via[0].URL.String()).
		Int("status", status).
		Msg("Redirect")
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return nil
}
