package llms

type GenerateOptions struct {
	Temperature *float64
	MaxTokens   int
}

type GenerateOption func(*GenerateOptions)

func WithTemperature(temperature float64) GenerateOption {
	return func(o *GenerateOptions) { o.Temperature = &temperature }
}

// WithMaxTokens caps the number of generated tokens, zero leaves the
// provider default in place.
func WithMaxTokens(maxTokens int) GenerateOption {
	return func(o *GenerateOptions) { o.MaxTokens = maxTokens }
}

func ApplyGenerateOptions(opts ...GenerateOption) GenerateOptions {
	options := GenerateOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
