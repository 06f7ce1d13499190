// Package publish turns content artifacts into platform posts.
//
// Adapters never return errors across their boundary: every outcome,
// including transport failures and recovered panics, is a PostResult.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/yangwenmai/softpost/internal/model"
)

const (
	// maxPublishRetries is the number of transport retries after the first
	// call. Only requests the platform cannot have accepted are retried.
	maxPublishRetries   = 2
	defaultRetryBackoff = time.Second
	defaultTimeout      = 30 * time.Second
	maxResponseSize     = 1 << 20
)

// PostResult is the outcome of one publish call.
type PostResult struct {
	Success     bool   `json:"success"`
	ExternalID  string `json:"externalId,omitempty"`
	ExternalURL string `json:"externalUrl,omitempty"`
	Error       string `json:"error,omitempty"`
	RawResponse string `json:"rawResponse,omitempty"`
}

func failure(format string, args ...any) PostResult {
	return PostResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Publisher publishes artifacts to one platform family.
type Publisher interface {
	Family() model.Family
	Publish(ctx context.Context, artifact *model.ContentArtifact, account *model.SocialAccount) PostResult
}

// Registry maps platform families to their publisher.
type Registry struct {
	publishers map[model.Family]Publisher
}

// NewRegistry creates a registry holding ps.
func NewRegistry(ps ...Publisher) *Registry {
	r := &Registry{publishers: make(map[model.Family]Publisher)}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any publisher for the same family.
func (r *Registry) Register(p Publisher) {
	r.publishers[p.Family()] = p
}

// Lookup returns the publisher for family f.
func (r *Registry) Lookup(f model.Family) (Publisher, bool) {
	p, ok := r.publishers[f]
	return p, ok
}

// Option configures a publisher's transport.
type Option func(*transport)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *transport) { t.client = c }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *transport) {
		if d > 0 {
			t.client.Timeout = d
		}
	}
}

// WithRetryBackoff sets the initial delay between transport retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(t *transport) { t.backoff = d }
}

// WithClock overrides the time source used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(t *transport) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *transport) { t.logger = l }
}

// statusError is a non-2xx platform response.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether the platform refused the request outright. A
// 5xx may arrive after the post was created, so it is left to the
// scheduler's retry budget.
func (e *statusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// unsent reports whether err happened before the request reached the
// platform: DNS failures and refused connections.
func unsent(err error) bool {
	var op *net.OpError
	if errors.As(err, &op) && op.Op == "dial" {
		return true
	}
	var dns *net.DNSError
	return errors.As(err, &dns)
}

type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// transport is the HTTP plumbing shared by the adapters.
type transport struct {
	client  *http.Client
	backoff time.Duration
	now     func() time.Time
	logger  *slog.Logger
	retry   retrypolicy.RetryPolicy[*response]
}

func newTransport(opts []Option) transport {
	t := transport{
		client:  &http.Client{Timeout: defaultTimeout},
		backoff: defaultRetryBackoff,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&t)
	}
	if t.backoff <= 0 {
		t.backoff = defaultRetryBackoff
	}
	t.retry = retrypolicy.NewBuilder[*response]().
		HandleIf(func(_ *response, err error) bool {
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			var se *statusError
			if errors.As(err, &se) {
				return se.retryable()
			}
			return unsent(err)
		}).
		WithMaxRetries(maxPublishRetries).
		WithBackoff(t.backoff, 4*t.backoff).
		ReturnLastFailure().
		Build()
	return t
}

// do sends a request built fresh for every attempt. Every call creates
// content, so only 429 responses and connections that never opened are
// retried.
func (t *transport) do(ctx context.Context, method, url string, body []byte, decorate func(*http.Request)) (*response, error) {
	return failsafe.With(t.retry).WithContext(ctx).Get(func() (*response, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		decorate(req)

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		out := &response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return out, &statusError{StatusCode: resp.StatusCode, Body: string(data)}
		}
		return out, nil
	})
}

// checkAccount rejects accounts that cannot publish for family before any
// network call is made.
func (t *transport) checkAccount(account *model.SocialAccount, family model.Family) error {
	switch {
	case account == nil:
		return errors.New("no account supplied")
	case account.Platform != family:
		return fmt.Errorf("account %s is a %s account, not %s", account.ID, account.Platform, family)
	case !account.Active:
		return fmt.Errorf("account %s is inactive", account.ID)
	case account.AccessToken == "":
		return fmt.Errorf("account %s has no access token", account.ID)
	case account.TokenExpired(t.now()):
		return fmt.Errorf("access token for account %s expired at %s", account.ID, account.TokenExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// recoverResult converts a panic inside an adapter into a failed result.
func recoverResult(logger *slog.Logger, res *PostResult) {
	if r := recover(); r != nil {
		logger.Error("publisher panic recovered", "panic", r)
		*res = failure("publisher panic: %v", r)
	}
}
