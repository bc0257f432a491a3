// Package adapter defines the Route that ties a provider's pure request builder, its SDK
// invocation and its response normalizer together, plus the Params shared by all of them.
// Provider implementations live in the openai, anthropic, gemini and ollama subpackages.
package adapter
