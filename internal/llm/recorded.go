package llm

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/agentreplay/internal/model"
	"github.com/capitalize-ai/agentreplay/internal/recorder"
	"github.com/capitalize-ai/agentreplay/pkg/metrics"
)

// RecordedClient wraps a Client and captures every call on a recorder: an
// llm_request before the call, then an llm_response or an error event.
type RecordedClient struct {
	Client
	rec *recorder.Recorder
}

// NewRecordedClient wraps c so its calls are recorded on rec.
func NewRecordedClient(c Client, rec *recorder.Recorder) *RecordedClient {
	return &RecordedClient{Client: c, rec: rec}
}

// Complete records the request, forwards it and records the outcome.
func (r *RecordedClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := r.request(req, false); err != nil {
		return nil, err
	}
	resp, err := r.Client.Complete(ctx, req)
	return r.response(resp, err)
}

// CompleteStream records the request, forwards it and records the full
// streamed content once the stream ends.
func (r *RecordedClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	if err := r.request(req, true); err != nil {
		return nil, err
	}
	resp, err := r.Client.CompleteStream(ctx, req, callback)
	return r.response(resp, err)
}

func (r *RecordedClient) request(req *CompletionRequest, stream bool) error {
	messages := make([]any, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	extra := map[string]any{"provider": r.Name()}
	if req.MaxTokens > 0 {
		extra["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		extra["temperature"] = req.Temperature
	}
	if stream {
		extra["stream"] = true
	}

	if _, err := r.rec.Emit(model.LLMRequest{Model: req.Model, Messages: messages, Extra: extra}); err != nil {
		return fmt.Errorf("record llm request: %w", err)
	}
	return nil
}

func (r *RecordedClient) response(resp *CompletionResponse, callErr error) (*CompletionResponse, error) {
	if callErr != nil {
		if _, err := r.rec.Emit(model.Error{
			Message:   callErr.Error(),
			Exception: fmt.Sprintf("%T", callErr),
			Extra:     map[string]any{"provider": r.Name()},
		}); err != nil {
			return nil, fmt.Errorf("%w (record llm error: %v)", callErr, err)
		}
		return nil, callErr
	}

	metrics.RecordLLMCall(resp.Model, resp.TokensIn, resp.TokensOut)

	extra := map[string]any{
		"tokens_in":  resp.TokensIn,
		"tokens_out": resp.TokensOut,
		"latency_ms": resp.LatencyMs,
	}
	if resp.StopReason != "" {
		extra["stop_reason"] = resp.StopReason
	}
	if _, err := r.rec.Emit(model.LLMResponse{
		Model:   resp.Model,
		Content: resp.Content,
		Tokens:  resp.TokensIn + resp.TokensOut,
		Extra:   extra,
	}); err != nil {
		return resp, fmt.Errorf("record llm response: %w", err)
	}
	return resp, nil
}
