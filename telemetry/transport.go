package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// Provider fetch outcomes.
const (
	FetchSuccess      = "success"
	FetchUnauthorized = "unauthorized"
	FetchRateLimited  = "rate_limited"
	FetchOverloaded   = "overloaded"
	FetchClientError  = "4xx"
	FetchServerError  = "5xx"
	FetchTimeout      = "timeout"
	FetchCanceled     = "canceled"
	FetchError        = "error"
)

// statusOverloaded is returned by the Anthropic API when it is over capacity.
const statusOverloaded = 529

// InstrumentedTransport records provider fetch metrics for every round trip
// made by a generation client.
type InstrumentedTransport struct {
	base     http.RoundTripper
	provider string
}

// NewInstrumentedTransport wraps base for the named provider.
// If base is nil, http.DefaultTransport is used.
func NewInstrumentedTransport(base http.RoundTripper, provider string) *InstrumentedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &InstrumentedTransport{base: base, provider: provider}
}

// RoundTrip implements http.RoundTripper. The fetch is recorded when the
// response body is closed so the byte count covers the whole completion.
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		RecordProviderFetch(req.Context(), t.provider, time.Since(start), 0, errorOutcome(req.Context(), err))
		return nil, err
	}

	resp.Body = &completionBody{
		ReadCloser: resp.Body,
		ctx:        req.Context(),
		provider:   t.provider,
		start:      start,
		outcome:    StatusOutcome(resp.StatusCode),
	}
	return resp, nil
}

// StatusOutcome classifies a provider response status. Credential, quota and
// capacity failures are kept apart from other client and server errors.
func StatusOutcome(status int) string {
	switch {
	case status < 400:
		return FetchSuccess
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return FetchUnauthorized
	case status == http.StatusTooManyRequests:
		return FetchRateLimited
	case status == http.StatusServiceUnavailable, status == statusOverloaded:
		return FetchOverloaded
	case status < 500:
		return FetchClientError
	default:
		return FetchServerError
	}
}

func errorOutcome(ctx context.Context, err error) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return FetchTimeout
	case ctx.Err() != nil:
		return FetchCanceled
	default:
		return FetchError
	}
}

// completionBody counts the bytes of a provider response and records the
// fetch once on close.
type completionBody struct {
	io.ReadCloser
	ctx      context.Context
	provider string
	start    time.Time
	bytes    int64
	outcome  string
	recorded bool
}

func (b *completionBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.bytes += int64(n)
	return n, err
}

func (b *completionBody) Close() error {
	if !b.recorded {
		b.recorded = true
		RecordProviderFetch(b.ctx, b.provider, time.Since(b.start), b.bytes, b.outcome)
	}
	return b.ReadCloser.Close()
}
