package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/stemrun/stemcore/internal/errs"
)

// HTTPBackend is a concrete Backend that speaks to an HTTP inference
// endpoint streaming Server-Sent Events, one JSON-encoded sseFrame per
// `data:` line, terminated by a `data: [DONE]` line (the convention
// the rest of the ecosystem's inference HTTP APIs use). It is the
// reference Backend implementation wired into cmd/stemd when an
// inference URL is configured.
type HTTPBackend struct {
	name       string
	url        string
	httpClient *http.Client
}

// NewHTTPBackend constructs an HTTPBackend identified by name, posting
// requests to url.
func NewHTTPBackend(name, url string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPBackend{name: name, url: url, httpClient: client}
}

func (b *HTTPBackend) Name() string { return b.name }

type sseFrame struct {
	Kind                 string `json:"kind"`
	Text                 string `json:"text,omitempty"`
	ToolCallID           string `json:"tool_call_id,omitempty"`
	ToolCallArgsFragment string `json:"tool_call_args_fragment,omitempty"`
	UsageInputTokens     int64  `json:"usage_input_tokens,omitempty"`
	UsageOutputTokens    int64  `json:"usage_output_tokens,omitempty"`
	Error                string `json:"error,omitempty"`
}

type httpRequestBody struct {
	Messages        []Message  `json:"messages"`
	Tools           []string   `json:"tools,omitempty"`
	OutputMode      OutputMode `json:"output_mode"`
	MaxOutputTokens int        `json:"max_output_tokens,omitempty"`
}

// Stream posts req to the backend URL and translates its SSE response
// into the gateway's Event stream (spec §4.4 "Cancellation": the HTTP
// request is bound to ctx, so cancelling ctx aborts the underlying
// connection).
func (b *HTTPBackend) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	body, err := json.Marshal(httpRequestBody{
		Messages:        req.Messages,
		Tools:           req.Tools,
		OutputMode:      req.OutputMode,
		MaxOutputTokens: req.MaxOutputTokens,
	})
	if err != nil {
		return nil, errs.ProtocolViolationError{Code: "encode_failed", Message: "could not encode inference request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.BackendPermanentError{Code: "request_build_failed", Message: "could not build inference request", Err: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, errs.BackendTransientError{Code: "dial_failed", Message: "inference backend unreachable", Err: err, Retryable: true}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, errs.BackendTransientError{Code: "backend_" + strconv.Itoa(resp.StatusCode), Message: "inference backend returned a transient error", Retryable: true}
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errs.BackendPermanentError{Code: "backend_" + strconv.Itoa(resp.StatusCode), Message: "inference backend rejected the request"}
	}

	out := make(chan Event, 16)

	go b.readSSE(resp.Body, out)

	return out, nil
}

func (b *HTTPBackend) readSSE(body interface {
	Read(p []byte) (int, error)
	Close() error
}, out chan<- Event) {
	defer close(out)
	defer body.Close()

	out <- Event{Kind: EventStarted}

	scanner := bufio.NewScanner(body)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			out <- Event{Kind: EventCompleted}
			return
		}

		var frame sseFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			out <- Event{Kind: EventFailed, Err: errs.ProtocolViolationError{Code: "malformed_sse_frame", Message: "could not decode SSE data frame", Err: err}}
			return
		}

		out <- translateFrame(frame)
	}

	if err := scanner.Err(); err != nil {
		out <- Event{Kind: EventFailed, Err: errs.BackendTransientError{Code: "stream_read_failed", Message: "inference stream read failed", Err: err, Retryable: true}}
	}
}

func translateFrame(f sseFrame) Event {
	switch f.Kind {
	case "text_delta":
		return Event{Kind: EventTextDelta, Text: f.Text}
	case "tool_call_delta":
		return Event{Kind: EventToolCallDelta, ToolCallID: f.ToolCallID, ToolCallArgsFragment: f.ToolCallArgsFragment}
	case "tool_call_ready":
		return Event{Kind: EventToolCallReady, ToolCallID: f.ToolCallID}
	case "usage":
		return Event{Kind: EventUsage, UsageInputTokens: f.UsageInputTokens, UsageOutputTokens: f.UsageOutputTokens}
	case "error":
		return Event{Kind: EventFailed, Err: errs.BackendPermanentError{Code: "backend_reported_error", Message: f.Error}}
	default:
		return Event{Kind: EventFailed, Err: errs.ProtocolViolationError{Code: "unknown_frame_kind", Message: "unrecognized SSE frame kind: " + f.Kind}}
	}
}
