package llm

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cascadeworks/agentcore/domain"
)

// OpenAI streams chat completions from an OpenAI-compatible endpoint.
type OpenAI struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAI builds a streamer for the given API key. baseURL overrides the
// endpoint for compatible providers; empty means the default.
func NewOpenAI(apiKey, baseURL string, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), logger: logger}
}

// Stream opens a streaming completion and yields token deltas in arrival order.
func (o *OpenAI) Stream(ctx context.Context, prompt string, params Params) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if params.Deadline > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, params.Deadline)
			defer cancel()
		}

		req := openai.ChatCompletionRequest{
			Model:       params.Model,
			Temperature: params.Temperature,
			MaxTokens:   params.MaxTokens,
			Stop:        params.Stop,
			Stream:      true,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		}

		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield("", classify(ctx, err))
			return
		}
		defer func() {
			if closeErr := stream.Close(); closeErr != nil {
				o.logger.Warn("failed to close completion stream", "error", closeErr)
			}
		}()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", classify(ctx, err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
	}
}

// classify maps provider errors onto the engine's error kinds.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.WrapError(domain.LLMTimeout, err, "stream deadline exceeded")
		}
		return domain.WrapError(domain.Cancelled, err, "stream cancelled")
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return domain.WrapError(domain.LLMPermanent, err, "authentication rejected")
		case 400, 404, 422:
			return domain.WrapError(domain.LLMPermanent, err, "request rejected")
		case 429:
			return RateLimited(err, retryAfterHint(apiErr))
		case 408:
			return domain.WrapError(domain.LLMTimeout, err, "provider timeout")
		default:
			return domain.WrapError(domain.LLMTransient, err, "provider error (status %d)", apiErr.HTTPStatusCode)
		}
	}
	return domain.WrapError(domain.LLMTransient, err, "stream error")
}

// retryAfterHint pulls a delay out of a rate-limit error when the provider
// includes one; go-openai does not surface Retry-After headers, so this is
// a conservative fixed hint.
func retryAfterHint(*openai.APIError) time.Duration {
	return 2 * time.Second
}
