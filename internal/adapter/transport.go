package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/catalog-sync/internal/circuitbreaker"
	apperrors "github.com/catalog-sync/internal/errors"
	"github.com/catalog-sync/internal/logging"
	"github.com/catalog-sync/internal/ratelimit"
	"github.com/catalog-sync/internal/types"
)

const (
	// DefaultRequestTimeout bounds every single source call
	DefaultRequestTimeout = 30 * time.Second
	maxThrottleRetries    = 3
	maxErrorBody          = 512
)

// ClientConfig holds dependencies shared by the platform clients
type ClientConfig struct {
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	// Controller paces requests; nil uses a default controller
	Controller *ratelimit.RequestController
	// Breakers hands out one breaker per store key; nil creates a manager
	Breakers *circuitbreaker.Manager
	// APIVersion is the Shopify Admin API version
	APIVersion string
}

// transport performs paced, breaker-guarded HTTP calls to one platform and
// maps HTTP failures into categorized errors. Breakers are per store, so an
// unreachable shop never blocks the other shops on the same platform.
type transport struct {
	platform   types.Platform
	client     *http.Client
	timeout    time.Duration
	controller *ratelimit.RequestController
	breakers   *circuitbreaker.Manager
}

func newTransport(platform types.Platform, cfg *ClientConfig) (*transport, error) {
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	t := &transport{
		platform:   platform,
		client:     cfg.HTTPClient,
		timeout:    cfg.RequestTimeout,
		controller: cfg.Controller,
		breakers:   cfg.Breakers,
	}
	if t.client == nil {
		t.client = &http.Client{}
	}
	if t.timeout <= 0 {
		t.timeout = DefaultRequestTimeout
	}
	if t.controller == nil {
		c, err := ratelimit.NewRequestController(nil)
		if err != nil {
			return nil, err
		}
		t.controller = c
	}
	if t.breakers == nil {
		bcfg := circuitbreaker.DefaultConfig("")
		bcfg.IsFailure = CountsAgainstStore
		t.breakers = circuitbreaker.NewManager(bcfg, nil)
	}
	return t, nil
}

// CountsAgainstStore is the breaker failure predicate: only transient
// provider failures count, a rejected token does not.
func CountsAgainstStore(err error) bool {
	return err != nil && apperrors.IsCategory(err, apperrors.CategoryProvider) &&
		!errors.Is(err, context.Canceled)
}

// response is a fully read HTTP response
type response struct {
	status int
	header http.Header
	body   []byte
}

// do sends the request built by newReq, retrying throttled (429) answers
// up to maxThrottleRetries times. Failures other than cancellation come back
// as an *AdapterError naming the operation.
func (t *transport) do(ctx context.Context, storeKey, op string, newReq func(ctx context.Context) (*http.Request, error)) (*response, error) {
	resp, err := t.send(ctx, storeKey, op, newReq)
	if err != nil && ctx.Err() == nil {
		return nil, NewAdapterError(t.platform, op, err, map[string]interface{}{"store": storeKey})
	}
	return resp, err
}

func (t *transport) send(ctx context.Context, storeKey, op string, newReq func(ctx context.Context) (*http.Request, error)) (*response, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"platform": string(t.platform),
		"store":    storeKey,
		"op":       op,
	})
	breaker := t.breakers.Get(storeKey)

	for attempt := 0; ; attempt++ {
		if err := t.controller.Wait(ctx, storeKey); err != nil {
			return nil, cancelled(ctx, err)
		}

		var resp *response
		err := breaker.Execute(ctx, func(ctx context.Context) error {
			var callErr error
			resp, callErr = t.roundTrip(ctx, newReq)
			return callErr
		})
		if err != nil {
			if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
				return nil, apperrors.NewProviderError(string(t.platform), err)
			}
			return nil, err
		}

		if resp.status == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.header.Get("Retry-After"))
			if attempt >= maxThrottleRetries {
				return nil, apperrors.NewProviderRateLimitError(string(t.platform), int(retryAfter.Seconds()))
			}
			logger.WithField("attempt", attempt+1).Warnf("Throttled, backing off %v", max(retryAfter, t.controller.GetCurrentDelay()))
			if err := t.controller.Throttled(ctx, retryAfter); err != nil {
				return nil, cancelled(ctx, err)
			}
			continue
		}

		t.controller.RecordSuccess()
		return resp, nil
	}
}

// roundTrip performs one call under the per-call timeout. 429 is returned
// as a response so the caller can back off; other failures become errors.
func (t *transport) roundTrip(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) (*response, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := newReq(callCtx)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to create request", err)
	}

	httpResp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewProviderError(string(t.platform), fmt.Errorf("failed to make request: %w", err))
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewProviderError(string(t.platform), fmt.Errorf("failed to read response: %w", err))
	}

	resp := &response{status: httpResp.StatusCode, header: httpResp.Header, body: body}
	if err := t.checkStatus(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *transport) checkStatus(resp *response) error {
	switch {
	case resp.status >= 200 && resp.status < 300, resp.status == http.StatusTooManyRequests:
		return nil
	case resp.status == http.StatusUnauthorized, resp.status == http.StatusForbidden:
		return apperrors.NewCredentialError(t.platform, "store rejected the credentials",
			fmt.Errorf("HTTP %d: %s", resp.status, snippet(resp.body)))
	case resp.status == http.StatusNotFound || resp.status == http.StatusPaymentRequired:
		// unknown shop domain or a frozen store
		return apperrors.NewCredentialError(t.platform, "store not reachable with these credentials",
			fmt.Errorf("HTTP %d: %s", resp.status, snippet(resp.body)))
	case resp.status >= 500:
		return apperrors.NewProviderError(string(t.platform), fmt.Errorf("HTTP %d: %s", resp.status, snippet(resp.body)))
	default:
		return apperrors.NewInvalidParameterError("request", fmt.Sprintf("HTTP %d: %s", resp.status, snippet(resp.body)))
	}
}

// cancelled reports a wait aborted by ctx as the context error
func cancelled(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}

func snippet(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
