package providers

// Recognised keys for ChatRequest.Options, shared across provider
// implementations.
const (
	OptMaxTokens   = "max_tokens"
	OptTemperature = "temperature"
)
