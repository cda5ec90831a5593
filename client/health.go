package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/hearthai/hearth/core"
)

// healthBody is the expected shape of GET {endpoint}/health
type healthBody struct {
	Status string `json:"status"`
}

// HealthCheckAll probes every enabled service with a bounded timeout and
// returns the observed status per service. It never returns an error; an
// unreachable service is reported unhealthy and recorded in the registry's
// health history.
func (c *Client) HealthCheckAll(ctx context.Context, probeTimeout time.Duration) map[string]core.HealthStatus {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}

	out := make(map[string]core.HealthStatus)
	for _, svc := range c.registry.ListEnabled() {
		status, latencyMS, err := c.probe(ctx, svc.Name, svc.Endpoint, probeTimeout)
		out[svc.Name] = status

		if recErr := c.registry.RecordHealth(ctx, svc.Name, status, latencyMS, err); recErr != nil {
			c.logger.Warn("Failed to record health", map[string]interface{}{
				"service": svc.Name,
				"error":   recErr.Error(),
			})
		}
	}
	return out
}

func (c *Client) probe(ctx context.Context, name, endpoint string, timeout time.Duration) (core.HealthStatus, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		return core.HealthUnknown, 0, err
	}
	if err := c.authorize(req, name); err != nil {
		return core.HealthUnknown, 0, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latencyMS := float64(time.Since(start).Milliseconds())
	if err != nil {
		return core.HealthUnhealthy, latencyMS, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.HealthUnhealthy, latencyMS, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return core.HealthDegraded, latencyMS, err
	}

	var health healthBody
	if err := json.Unmarshal(body, &health); err != nil {
		// A 200 with an unreadable body still counts as reachable
		return core.HealthHealthy, latencyMS, nil
	}
	switch health.Status {
	case "degraded":
		return core.HealthDegraded, latencyMS, nil
	case "unhealthy":
		return core.HealthUnhealthy, latencyMS, nil
	default:
		return core.HealthHealthy, latencyMS, nil
	}
}

// StartHealthMonitor runs HealthCheckAll on a fixed interval until the
// context is cancelled. Used by the orchestrator when configured.
func (c *Client) StartHealthMonitor(ctx context.Context, interval, probeTimeout time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.HealthCheckAll(ctx, probeTimeout)
			}
		}
	}()
}
