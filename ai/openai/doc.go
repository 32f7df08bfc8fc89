// Package openai implements ai.Embedder against any OpenAI-compatible
// embedding API (OpenAI itself, Ollama, LocalAI, vLLM) via langchaingo.
package openai
