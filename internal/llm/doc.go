// Package llm defines the language-model provider used to draft assistant
// replies, with adapters for OpenAI-compatible APIs (go-openai) and YandexGPT
// (yagpt). Adapters never return blank text: an empty completion is reported
// as a *ProviderError wrapping ErrEmptyResponse.
package llm
