// Package ollama adapts conversation history to the Ollama Chat API.
// Build returns *api.ChatRequest; Normalize expects *api.ChatResponse.
//
// Requests are never streamed. Temperature and the token limit (num_predict) travel in Options.
// The Route probes the server with a heartbeat before every call.
package ollama
