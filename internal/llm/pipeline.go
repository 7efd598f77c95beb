package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"

	"github.com/unknown-philosopher/kgraph/internal/ratelimit"
)

// DefaultJSONMaxRetries is the number of additional attempts CompleteJSON
// makes after the first unparseable response.
const DefaultJSONMaxRetries = 2

// strictJSONInstructions is appended to the prompt on JSON retries. The
// first attempt sends the prompt verbatim; later attempts spell out the
// exact syntax requirements to nudge the model toward parseable output.
const strictJSONInstructions = `IMPORTANT: Respond with ONLY valid JSON. Requirements:
- All strings double-quoted
- All brackets and braces matched
- No trailing commas
- Special characters inside strings escaped (\" \\ \n)
- No commentary, no markdown, nothing outside the JSON value`

// Pipeline coerces an unreliable completion backend into usable output.
// Every call is throttled through the rate limiter; CompleteJSON further
// repairs the common failure modes of model-emitted JSON (markdown fences,
// surrounding prose, outright syntax errors) by re-prompting with stricter
// instructions and lower temperature.
type Pipeline struct {
	provider       Provider
	limiter        *ratelimit.Limiter
	logger         *slog.Logger
	jsonMaxRetries int
}

// PipelineOption is a functional option for configuring a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger for pipeline diagnostics.
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithJSONMaxRetries sets the retry budget for unparseable JSON responses.
func WithJSONMaxRetries(n int) PipelineOption {
	return func(p *Pipeline) {
		if n >= 0 {
			p.jsonMaxRetries = n
		}
	}
}

// NewPipeline creates a Pipeline over the given provider and limiter.
func NewPipeline(provider Provider, limiter *ratelimit.Limiter, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		provider:       provider,
		limiter:        limiter,
		logger:         slog.Default(),
		jsonMaxRetries: DefaultJSONMaxRetries,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// CompletionOptions contains per-call settings for a completion.
type CompletionOptions struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// CompletionOption is a functional option for a single completion call.
type CompletionOption func(*CompletionOptions)

// WithModel overrides the model for this call.
func WithModel(model string) CompletionOption {
	return func(o *CompletionOptions) {
		o.Model = model
	}
}

// WithSystemPrompt sends a system message ahead of the user prompt.
func WithSystemPrompt(system string) CompletionOption {
	return func(o *CompletionOptions) {
		o.SystemPrompt = system
	}
}

// WithMaxTokens sets the maximum tokens to generate.
func WithMaxTokens(tokens int) CompletionOption {
	return func(o *CompletionOptions) {
		if tokens > 0 {
			o.MaxTokens = tokens
		}
	}
}

// WithTemperature sets the sampling temperature (0.0-1.0).
func WithTemperature(temp float64) CompletionOption {
	return func(o *CompletionOptions) {
		if temp >= 0.0 && temp <= 1.0 {
			o.Temperature = temp
		}
	}
}

func applyCompletionOptions(opts []CompletionOption) CompletionOptions {
	options := CompletionOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// Complete sends prompt to the provider through the rate limiter, retrying
// rate-limited failures with exponential backoff.
//
// Model resolution order: explicit option, provider default, first entry of
// the provider's model listing. A configuration error is returned when none
// resolve.
func (p *Pipeline) Complete(ctx context.Context, prompt string, opts ...CompletionOption) (*CompletionResponse, error) {
	return p.complete(ctx, prompt, applyCompletionOptions(opts))
}

func (p *Pipeline) complete(ctx context.Context, prompt string, options CompletionOptions) (*CompletionResponse, error) {
	model, err := p.resolveModel(ctx, options.Model)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, 2)
	if options.SystemPrompt != "" {
		messages = append(messages, NewSystemMessage(options.SystemPrompt))
	}
	messages = append(messages, NewUserMessage(prompt))

	req := CompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: options.Temperature,
		MaxTokens:   options.MaxTokens,
	}

	return ratelimit.ExecuteWithRetry(ctx, p.limiter, func(ctx context.Context) (*CompletionResponse, error) {
		return p.provider.Complete(ctx, req)
	}, isThrottled)
}

// isThrottled classifies an error as retryable throttling: either the
// provider's coded rate-limit error type or a textual rate-limit match.
func isThrottled(err error) bool {
	return IsRateLimitError(err) || ratelimit.IsRateLimitError(err)
}

// resolveModel applies the model resolution order.
func (p *Pipeline) resolveModel(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	if model := p.provider.DefaultModel(); model != "" {
		return model, nil
	}

	models, err := p.provider.Models(ctx)
	if err == nil && len(models) > 0 {
		return models[0].Name, nil
	}

	return "", NewModelUnresolvedError(p.provider.Name())
}

// ExtractContent pulls the assistant message text from a response.
// Returns "" for a nil response or absent content; never fails.
func ExtractContent(resp *CompletionResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Message.Content
}

// CompleteJSON sends prompt and parses the response as JSON, re-prompting
// on failure. The first attempt uses the prompt and temperature verbatim;
// retries append a strict JSON-only instruction block and lower the
// temperature by 0.1 (floored at zero).
//
// The return is (value, true) on the first parseable response, or
// (nil, false) once all attempts are exhausted. Empty content, malformed
// JSON, and provider errors are all soft failures here; callers must
// branch on the second return rather than expect an error.
func (p *Pipeline) CompleteJSON(ctx context.Context, prompt string, opts ...CompletionOption) (any, bool) {
	raw, ok := p.completeJSONRaw(ctx, prompt, opts...)
	if !ok {
		return nil, false
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false
	}
	return value, true
}

// CompleteJSONAs is the typed variant of Pipeline.CompleteJSON: the parsed
// JSON is unmarshaled into T. A response that is valid JSON but does not
// fit T is a soft failure like any other parse error.
func CompleteJSONAs[T any](ctx context.Context, p *Pipeline, prompt string, opts ...CompletionOption) (T, bool) {
	var result T

	raw, ok := p.completeJSONRaw(ctx, prompt, opts...)
	if !ok {
		return result, false
	}

	if err := json.Unmarshal(raw, &result); err != nil {
		p.logger.Warn("JSON response did not match expected shape", "error", err)
		var zero T
		return zero, false
	}
	return result, true
}

// completeJSONRaw runs the retry loop shared by CompleteJSON and
// CompleteJSONAs, returning the first syntactically valid JSON payload.
func (p *Pipeline) completeJSONRaw(ctx context.Context, prompt string, opts ...CompletionOption) (json.RawMessage, bool) {
	options := applyCompletionOptions(opts)
	baseTemperature := options.Temperature

	for attempt := 0; attempt <= p.jsonMaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, false
		}

		attemptPrompt := prompt
		attemptOptions := options
		if attempt > 0 {
			attemptPrompt = prompt + "\n\n" + strictJSONInstructions
			attemptOptions.Temperature = math.Max(0, baseTemperature-0.1)
		}

		resp, err := p.complete(ctx, attemptPrompt, attemptOptions)
		if err != nil {
			p.logger.Warn("completion failed during JSON call",
				"provider", p.provider.Name(),
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		raw := ExtractContent(resp)
		content := StripMarkdownFences(raw)
		if content == "" {
			p.logger.Warn("empty completion content", "attempt", attempt+1)
			continue
		}

		if json.Valid([]byte(content)) {
			return json.RawMessage(content), true
		}

		// Models often wrap the JSON in prose ("Here is the JSON: {...}");
		// dig it out before burning a retry.
		if extracted, err := ExtractJSON(raw); err == nil {
			return json.RawMessage(extracted), true
		}

		p.logParseFailure(content, attempt)
	}

	return nil, false
}

// logParseFailure logs the snippet around the reported syntax error offset
// for diagnostics.
func (p *Pipeline) logParseFailure(content string, attempt int) {
	var value any
	err := json.Unmarshal([]byte(content), &value)

	offset := int64(-1)
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		offset = syntaxErr.Offset
	}

	snippet := content
	if offset >= 0 {
		start := max(0, int(offset)-40)
		end := min(len(content), int(offset)+40)
		snippet = content[start:end]
	} else if len(snippet) > 80 {
		snippet = snippet[:80]
	}

	p.logger.Warn("failed to parse completion as JSON",
		"attempt", attempt+1,
		"offset", offset,
		"snippet", snippet,
		"error", err,
	)
}
