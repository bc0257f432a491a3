// Package gemini adapts conversation history to the Google Gemini (genai) API.
// Build returns *gemini.Request (Contents + Config); Normalize expects *genai.GenerateContentResponse.
//
// The model is passed per call to Models.GenerateContent, not stored in Config.
// MaxOutputTokens is clamped to math.MaxInt32.
package gemini
