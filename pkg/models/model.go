package models

// ReasoningTagSchema names the tag pair a model wraps chain-of-thought
// in, if any (e.g. "think" for <think>...</think>).
type ReasoningTagSchema string

// Model is a registered LLM endpoint. Models are managed externally
// and are effectively immutable from the engine's viewpoint within a
// single step.
type Model struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`

	// BaseURL is provider-neutral; the Model Invoker always appends
	// "/chat/completions" and strips it first if present, so either
	// form may be stored here.
	BaseURL string `json:"base_url"`

	// APIKeyRef may be a literal key, a "${global:NAME}" reference, or
	// an "encrypted:"-prefixed value — resolved lazily by the Secret
	// Resolver at point of use.
	APIKeyRef string `json:"api_key_ref"`

	Temperature float64 `json:"temperature"`

	PromptTemplate string `json:"prompt_template,omitempty"`

	ReasoningTagSchema    ReasoningTagSchema    `json:"reasoning_tag_schema,omitempty"`
	FunctionCallingSchema FunctionCallingSchema `json:"function_calling_schema,omitempty"`
}
