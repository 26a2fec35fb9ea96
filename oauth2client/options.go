package oauth2client

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/navikt/token-support-sub000/metrics"
)

// DefaultEvictSkew is subtracted from expires_in when caching a response.
const DefaultEvictSkew = 10 * time.Second

const defaultHTTPTimeout = 10 * time.Second

type options struct {
	httpClient *http.Client
	now        func() time.Time
	log        logrus.FieldLogger
	metrics    *metrics.Metrics
	resolver   TokenResolver
	caches     map[GrantType]Cache
	evictSkew  time.Duration
}

// Option configures grant clients and AccessTokenService. Options that only
// make sense for the service are ignored by the clients.
type Option func(*options)

// WithHTTPClient sets the client used for token endpoint calls. Build it with
// retriever.New to get proxy and timeout handling.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTokenResolver sets how the service finds the subject token for
// on-behalf-of and token exchange.
func WithTokenResolver(r TokenResolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithCache enables caching of responses for one grant type. Each grant type
// needs its own Cache instance.
func WithCache(grant GrantType, c Cache) Option {
	return func(o *options) {
		if o.caches == nil {
			o.caches = make(map[GrantType]Cache)
		}
		o.caches[grant] = c
	}
}

// WithEvictSkew overrides DefaultEvictSkew.
func WithEvictSkew(d time.Duration) Option {
	return func(o *options) { o.evictSkew = d }
}

// fetchTimeout bounds a coalesced token fetch, which runs detached from the
// cancellation of the caller that started it.
func (o options) fetchTimeout() time.Duration {
	if o.httpClient.Timeout > 0 {
		return o.httpClient.Timeout
	}
	return defaultHTTPTimeout
}

func buildOptions(opts []Option) options {
	o := options{evictSkew: DefaultEvictSkew}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}
	if o.evictSkew < 0 {
		o.evictSkew = 0
	}
	return o
}
