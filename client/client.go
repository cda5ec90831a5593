// Package client provides the uniform invocation primitive over the service
// registry: single request/response calls, streaming token calls and health
// probes, with per-call statistics, bounded retry and per-service circuit
// breakers.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hearthai/hearth/core"
	"github.com/hearthai/hearth/registry"
	"github.com/hearthai/hearth/resilience"
)

// Client invokes named actions on registered microservices. Every service is
// reachable at {endpoint}/{action} with a POST and a JSON payload; the
// response body is either the bare result object or an envelope {data: ...}.
type Client struct {
	registry   *registry.Registry
	httpClient *http.Client
	logger     core.Logger
	telemetry  core.Telemetry

	defaultTimeout time.Duration

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker
}

// CallOptions tunes a single invocation
type CallOptions struct {
	// Timeout bounds the whole call including retries; zero means the
	// client default
	Timeout time.Duration

	// Attempts is the maximum number of tries. Default 1 (no retry).
	// Retries only apply to transport failures on idempotent actions.
	Attempts int

	// AllowSensitive opts in to invoking a sensitive action on a
	// non-trusted service
	AllowSensitive bool
}

// CallOption mutates CallOptions
type CallOption func(*CallOptions)

// WithTimeout bounds the call
func WithTimeout(d time.Duration) CallOption {
	return func(o *CallOptions) { o.Timeout = d }
}

// WithAttempts enables bounded retry for idempotent actions
func WithAttempts(n int) CallOption {
	return func(o *CallOptions) { o.Attempts = n }
}

// WithAllowSensitive opts in to sensitive actions on non-trusted services
func WithAllowSensitive() CallOption {
	return func(o *CallOptions) { o.AllowSensitive = true }
}

// New creates a service client over the registry
func New(reg *registry.Registry, defaultTimeout time.Duration, logger core.Logger, telemetry core.Telemetry) *Client {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Client{
		registry: reg,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:         logger,
		telemetry:      telemetry,
		defaultTimeout: defaultTimeout,
		breakers:       make(map[string]*resilience.CircuitBreaker),
	}
}

// Result is a decoded service response. Data returns the canonical payload:
// the contents of the "data" envelope field when present, otherwise the
// whole object.
type Result map[string]interface{}

// Data unwraps the optional {data: ...} envelope
func (r Result) Data() map[string]interface{} {
	if inner, ok := r["data"].(map[string]interface{}); ok {
		return inner
	}
	return r
}

// Call invokes a named action and returns the decoded result.
// Failure modes: ErrServiceNotFound, ErrServiceDisabled, ErrActionNotAllowed,
// ErrInvalidPayload, and ErrServiceCallFailed wrapping the transport cause.
func (c *Client) Call(ctx context.Context, service, action string, payload map[string]interface{}, opts ...CallOption) (Result, error) {
	options := CallOptions{Attempts: 1}
	for _, opt := range opts {
		opt(&options)
	}

	svc, err := c.resolve(service, action, &options)
	if err != nil {
		return nil, err
	}

	timeout := options.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := c.telemetry.StartSpan(ctx, "client.Call")
	defer span.End()
	span.SetAttribute("hearth.service", service)
	span.SetAttribute("hearth.action", action)

	attempts := options.Attempts
	if attempts < 1 {
		attempts = 1
	}
	// Retries are reserved for actions declared idempotent
	if attempts > 1 && !svc.ActionIdempotent(action) {
		attempts = 1
	}

	var result Result
	start := time.Now()
	callErr := resilience.Retry(ctx, &resilience.RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}, func() error {
		breaker := c.breaker(service)
		return breaker.Execute(ctx, func() error {
			var err error
			result, err = c.post(ctx, svc, action, payload)
			return err
		})
	})
	latencyMS := float64(time.Since(start).Milliseconds())

	c.registry.RecordCall(ctx, service, callErr == nil, latencyMS)

	if callErr != nil {
		span.RecordError(callErr)
		c.logger.Warn("Service call failed", map[string]interface{}{
			"service": service,
			"action":  action,
			"error":   callErr.Error(),
		})
		if errors.Is(callErr, core.ErrActionNotAllowed) || errors.Is(callErr, core.ErrInvalidPayload) {
			return nil, callErr
		}
		return nil, &core.OrchestrationError{
			Op: "client.Call", Kind: "transport", Service: service,
			Err: fmt.Errorf("%w: %w", callErr, core.ErrServiceCallFailed),
		}
	}
	return result, nil
}

// resolve looks the service up and enforces declaration, allow-list and
// sensitive-action gating before any bytes hit the wire.
func (c *Client) resolve(service, action string, options *CallOptions) (*registry.Service, error) {
	svc, err := c.registry.Get(service)
	if err != nil {
		return nil, err
	}
	if !svc.Enabled {
		return nil, fmt.Errorf("service %s: %w", service, core.ErrServiceDisabled)
	}
	if !svc.DeclaresAction(action) || !svc.ActionPermitted(action) {
		return nil, fmt.Errorf("action %s on %s: %w", action, service, core.ErrActionNotAllowed)
	}
	if registry.IsSensitive(action) && !svc.Trusted && !options.AllowSensitive {
		c.logger.Warn("Sensitive action blocked", map[string]interface{}{
			"service":     service,
			"action":      action,
			"trust_level": string(svc.TrustLevel),
		})
		return nil, fmt.Errorf("sensitive action %s on non-trusted %s: %w", action, service, core.ErrActionNotAllowed)
	}
	return svc, nil
}

// post performs one HTTP round trip to {endpoint}/{action}
func (c *Client) post(ctx context.Context, svc *registry.Service, action string, payload map[string]interface{}) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", core.ErrInvalidPayload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.Endpoint+"/"+action, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req, svc.Name); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("call to %s: %w", svc.Name, core.ErrTimeout)
		}
		return nil, fmt.Errorf("call to %s: %w", svc.Name, core.ErrTransportFailed)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", svc.Name, core.ErrTransportFailed)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%s rejected payload: %w", svc.Name, core.ErrInvalidPayload)
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%s rejected action: %w", svc.Name, core.ErrActionNotAllowed)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%s returned HTTP %d: %w", svc.Name, resp.StatusCode, core.ErrRequestFailed)
	}

	var result Result
	if len(data) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("decoding response from %s: %w", svc.Name, core.ErrInvalidPayload)
		}
	}
	return result, nil
}

// authorize attaches the decrypted credential header. Decryption failures
// surface; the request never goes out with a silently empty key.
func (c *Client) authorize(req *http.Request, service string) error {
	credential, err := c.registry.Credential(service)
	if err != nil {
		return err
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	return nil
}

// breaker returns the per-service circuit breaker, creating it on first use
func (c *Client) breaker(service string) *resilience.CircuitBreaker {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	cb, ok := c.breakers[service]
	if !ok {
		cfg := resilience.DefaultCircuitBreakerConfig(service)
		cfg.Logger = c.logger
		cb = resilience.NewCircuitBreaker(cfg)
		c.breakers[service] = cb
	}
	return cb
}

// BreakerState exposes circuit breaker state for health reporting
func (c *Client) BreakerState(service string) string {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	if cb, ok := c.breakers[service]; ok {
		return cb.GetState()
	}
	return "closed"
}
