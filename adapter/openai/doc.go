// Package openai adapts conversation history to the OpenAI Chat Completions API.
// Build returns []Message, where every turn becomes one message with a content array;
// Normalize expects *openai.ChatCompletion. Client also generates images and lists models.
//
// Images are always sent inline as data:image/jpeg;base64 URLs.
package openai
