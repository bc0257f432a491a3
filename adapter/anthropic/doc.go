// Package anthropic adapts conversation history to the Anthropic Messages API.
// Build returns []anthropic.MessageParam that strictly alternate user/assistant;
// Normalize expects *anthropic.Message.
//
// Images are attached as base64 image/jpeg blocks to the message that follows them.
package anthropic
