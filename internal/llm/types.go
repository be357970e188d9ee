package llm

// Request types for OpenRouter/OpenAI-compatible API

// ReasoningConfig controls extended thinking/reasoning for supported models.
type ReasoningConfig struct {
	Effort string `json:"effort,omitempty"` // "low", "medium", "high", or empty to disable
}

type ChatRequest struct {
	Model     string           `json:"model"`
	Messages  []Message        `json:"messages"`
	Stream    bool             `json:"stream"`
	Reasoning *ReasoningConfig `json:"reasoning,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response types

type ChatResponse struct {
	ID      string    `json:"id"`
	Choices []Choice  `json:"choices"`
	Usage   *Usage    `json:"usage,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// Usage contains token usage information from the API response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CachedTokens     int `json:"cached_tokens,omitempty"`
}

type Choice struct {
	Index        int    `json:"index"`
	Delta        *Delta `json:"delta,omitempty"`
	Message      *Delta `json:"message,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

type Delta struct {
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	Reasoning string `json:"reasoning,omitempty"` // For thinking/reasoning models
}

type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// StreamEvent represents a parsed event from the SSE stream. Content carries
// the raw instruction-tag wire format; callers feed it to the stream parser
// unchanged.
type StreamEvent struct {
	Type      string // "content", "reasoning", "done", "error"
	Content   string // For "content" events
	Reasoning string // For "reasoning" events (thinking models)
	Error     string // For "error" events
	Usage     *Usage // For "done" events, if available
}
