package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hearthai/hearth/core"
)

// wsRequest is the frame opening an online LLM exchange
type wsRequest struct {
	Type    string                 `json:"type"`
	ID      string                 `json:"id"`
	Payload map[string]interface{} `json:"payload"`
}

// wsFrame is a frame received from the online LLM transport
type wsFrame struct {
	Type     string                 `json:"type"`
	ID       string                 `json:"id,omitempty"`
	Content  string                 `json:"content,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

const (
	wsTypeRequest     = "llm_request"
	wsTypeStreamStart = "llm_stream_start"
	wsTypeStreamChunk = "llm_stream_chunk"
	wsTypeStreamEnd   = "llm_stream_end"
	wsTypeError       = "error"
)

// CallOnline invokes the optional online LLM over its bidirectional
// streaming transport. Chunks are delivered through onToken; the returned
// result carries the end-of-stream metadata. Cancellation closes the
// connection between frames.
func (c *Client) CallOnline(ctx context.Context, service string, payload map[string]interface{}, onToken TokenFunc, onProgress ProgressFunc, opts ...CallOption) (Result, error) {
	options := CallOptions{Attempts: 1}
	for _, opt := range opts {
		opt(&options)
	}

	svc, err := c.resolve(service, "llm_request", &options)
	if err != nil {
		return nil, err
	}

	timeout := options.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := c.telemetry.StartSpan(ctx, "client.CallOnline")
	defer span.End()
	span.SetAttribute("hearth.service", service)

	if onToken == nil {
		onToken = func(string) {}
	}
	if onProgress == nil {
		onProgress = func(StreamEvent) {}
	}

	start := time.Now()
	result, err := c.dialAndStream(ctx, svc.Name, svc.Endpoint, payload, onToken, onProgress)
	latencyMS := float64(time.Since(start).Milliseconds())
	c.registry.RecordCall(ctx, service, err == nil, latencyMS)

	if err != nil {
		span.RecordError(err)
		onProgress(StreamEvent{Type: StreamError, Error: err})
		return nil, &core.OrchestrationError{
			Op: "client.CallOnline", Kind: "transport", Service: service,
			Err: fmt.Errorf("%w: %w", err, core.ErrServiceCallFailed),
		}
	}
	return result, nil
}

func (c *Client) dialAndStream(ctx context.Context, name, endpoint string, payload map[string]interface{}, onToken TokenFunc, onProgress ProgressFunc) (Result, error) {
	header := http.Header{}
	credential, err := c.registry.Credential(name)
	if err != nil {
		return nil, err
	}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL(endpoint), header)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", name, core.ErrConnectionFailed)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Close the connection when the context ends so blocked reads return
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	request := wsRequest{
		Type:    wsTypeRequest,
		ID:      uuid.New().String(),
		Payload: payload,
	}
	if err := conn.WriteJSON(request); err != nil {
		return nil, fmt.Errorf("sending request to %s: %w", name, core.ErrTransportFailed)
	}

	var final Result
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("online stream cancelled: %w", core.ErrContextCanceled)
			}
			return nil, fmt.Errorf("reading from %s: %w", name, core.ErrTransportFailed)
		}

		switch frame.Type {
		case wsTypeStreamStart:
			onProgress(StreamEvent{Type: StreamStart})
		case wsTypeStreamChunk:
			if frame.Content != "" {
				onToken(frame.Content)
			}
		case wsTypeStreamEnd:
			onProgress(StreamEvent{Type: StreamDone})
			final = Result{}
			if frame.Metadata != nil {
				final["data"] = frame.Metadata
			}
			return final, nil
		case wsTypeError:
			return nil, fmt.Errorf("%s stream error: %s: %w", name, frame.Error, core.ErrRequestFailed)
		}
	}
}

// wsURL rewrites an http(s) endpoint to its websocket scheme
func wsURL(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	default:
		return endpoint
	}
}
