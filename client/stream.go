package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hearthai/hearth/core"
	"github.com/hearthai/hearth/registry"
)

// StreamEventType classifies streaming lifecycle events
type StreamEventType string

const (
	StreamStart StreamEventType = "start"
	StreamDone  StreamEventType = "done"
	StreamError StreamEventType = "error"
)

// StreamEvent is delivered to the progress callback around a token stream
type StreamEvent struct {
	Type  StreamEventType
	Error error
}

// TokenFunc receives streamed tokens in arrival order
type TokenFunc func(token string)

// ProgressFunc receives stream lifecycle events
type ProgressFunc func(event StreamEvent)

// streamFrame is one decoded SSE data frame from a streaming action
type streamFrame struct {
	Token string                 `json:"token,omitempty"`
	Done  bool                   `json:"done,omitempty"`
	Error string                 `json:"error,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// CallStream invokes a streaming action. Tokens are delivered through
// onToken and lifecycle events through onProgress; both callbacks are
// invoked from a single goroutine in arrival order. The stream must finish
// within the timeout and observes cancellation between tokens.
func (c *Client) CallStream(ctx context.Context, service, action string, payload map[string]interface{}, onToken TokenFunc, onProgress ProgressFunc, opts ...CallOption) (Result, error) {
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

	ctx, span := c.telemetry.StartSpan(ctx, "client.CallStream")
	defer span.End()
	span.SetAttribute("hearth.service", service)
	span.SetAttribute("hearth.action", action)

	if onToken == nil {
		onToken = func(string) {}
	}
	if onProgress == nil {
		onProgress = func(StreamEvent) {}
	}

	start := time.Now()
	result, err := c.postStream(ctx, svc, action, payload, onToken, onProgress)
	latencyMS := float64(time.Since(start).Milliseconds())
	c.registry.RecordCall(ctx, service, err == nil, latencyMS)

	if err != nil {
		span.RecordError(err)
		onProgress(StreamEvent{Type: StreamError, Error: err})
		return nil, &core.OrchestrationError{
			Op: "client.CallStream", Kind: "transport", Service: service,
			Err: fmt.Errorf("%w: %w", err, core.ErrServiceCallFailed),
		}
	}
	return result, nil
}

func (c *Client) postStream(ctx context.Context, svc *registry.Service, action string, payload map[string]interface{}, onToken TokenFunc, onProgress ProgressFunc) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", core.ErrInvalidPayload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.Endpoint+"/"+action, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if err := c.authorize(req, svc.Name); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("stream to %s: %w", svc.Name, core.ErrTimeout)
		}
		return nil, fmt.Errorf("stream to %s: %w", svc.Name, core.ErrTransportFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s returned HTTP %d: %w", svc.Name, resp.StatusCode, core.ErrRequestFailed)
	}

	onProgress(StreamEvent{Type: StreamStart})

	// Frames arrive as SSE data lines: "data: {json}"
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var final Result
	for scanner.Scan() {
		// Cancellation is observed between tokens
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("stream to %s cancelled: %w", svc.Name, core.ErrContextCanceled)
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			c.logger.Debug("Dropping malformed stream frame", map[string]interface{}{
				"service": svc.Name,
			})
			continue
		}

		switch {
		case frame.Error != "":
			return nil, fmt.Errorf("%s stream error: %s: %w", svc.Name, frame.Error, core.ErrRequestFailed)
		case frame.Done:
			if frame.Data != nil {
				final = Result{"data": frame.Data}
			}
		case frame.Token != "":
			onToken(frame.Token)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("stream to %s: %w", svc.Name, core.ErrTimeout)
		}
		return nil, fmt.Errorf("reading stream from %s: %w", svc.Name, core.ErrTransportFailed)
	}

	onProgress(StreamEvent{Type: StreamDone})
	if final == nil {
		final = Result{}
	}
	return final, nil
}
