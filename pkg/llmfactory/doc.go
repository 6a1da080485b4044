// Package llmfactory provides configuration and a factory for streaming chat models, with model selection by name and a default provider.
package llmfactory
