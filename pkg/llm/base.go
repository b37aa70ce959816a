// Package llm defines the interface to the external model-invocation
// collaborator. The dispatch pipeline treats the model as a cancellable,
// time-boxed black box behind the Provider interface; prompt strategy and
// streaming are out of scope.
package llm

import "context"

// Provider is implemented by model backends.
type Provider interface {
	// Generate produces a reply for a single prompt.
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)

	// GenerateWithMessages produces a reply for a conversation history
	// (system, user and assistant messages).
	GenerateWithMessages(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error)

	// Close releases provider resources.
	Close() error
}

// Message is one turn of model input.
type Message struct {
	// Role is "system", "user" or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// GenerateOptions contains generation parameters.
type GenerateOptions struct {
	// Temperature controls sampling randomness.
	Temperature float64

	// MaxTokens caps the reply length (0 = provider default).
	MaxTokens int
}

// GenerateOption configures one generation call.
type GenerateOption func(*GenerateOptions)

// ApplyGenerateOptions resolves the provided options against defaults.
func ApplyGenerateOptions(opts []GenerateOption) *GenerateOptions {
	o := &GenerateOptions{Temperature: 0.7}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temperature
	}
}

// WithMaxTokens caps the reply length in tokens.
func WithMaxTokens(maxTokens int) GenerateOption {
	return func(o *GenerateOptions) {
		o.MaxTokens = maxTokens
	}
}
