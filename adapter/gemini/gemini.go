package gemini

import (
	"fmt"
	"math"

	"google.golang.org/genai"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/adapter"
)

// SkippedImageText replaces image turns; inline history images are not sent to Gemini.
const SkippedImageText = "Image was skipped due to technical limitation"

// Sampling defaults applied to every request.
const (
	TopP             = 0.95
	TopK             = 64
	ResponseMIMEType = "text/plain"
)

var harmCategories = []genai.HarmCategory{
	genai.HarmCategoryDangerousContent,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategoryHarassment,
	genai.HarmCategorySexuallyExplicit,
}

// Request wraps Contents and Config for the GenerateContent API.
type Request struct {
	Contents []*genai.Content
	Config   *genai.GenerateContentConfig
}

// Build converts turns into a Request. The turn at index 0 and every system turn are skipped;
// p.UserMessage is appended as the final user content and p.SystemPrompt, expanded against
// p.Now, becomes the system instruction.
func Build(turns []universalis.Turn, p adapter.Params) *Request {
	contents := make([]*genai.Content, 0, len(turns)+1)
	for i, t := range turns {
		if i == 0 || t.Role == universalis.RoleSystem {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if t.Role == universalis.RoleAssistant {
			role = genai.RoleModel
		}
		text := t.Payload
		if t.Kind == universalis.KindImage {
			text = SkippedImageText
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}
	contents = append(contents, genai.NewContentFromText(p.UserMessage, genai.RoleUser))
	return &Request{Contents: contents, Config: config(p)}
}

func config(p adapter.Params) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(p.Temperature)),
		TopP:             genai.Ptr(float32(TopP)),
		TopK:             genai.Ptr(float32(TopK)),
		ResponseMIMEType: ResponseMIMEType,
	}
	switch {
	case p.MaxTokens > math.MaxInt32:
		cfg.MaxOutputTokens = math.MaxInt32
	case p.MaxTokens > 0:
		cfg.MaxOutputTokens = int32(p.MaxTokens)
	}
	for _, c := range harmCategories {
		cfg.SafetySettings = append(cfg.SafetySettings, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockThresholdBlockNone,
		})
	}
	if sys := universalis.ExpandPrompt(p.SystemPrompt, p.Now); sys != "" {
		cfg.SystemInstruction = genai.NewContentFromText(sys, genai.RoleUser)
	}
	return cfg
}

// Normalize converts a GenerateContent response. A response without candidates reports the
// prompt block reason when Gemini gives one.
func Normalize(resp *genai.GenerateContentResponse) (universalis.Response, error) {
	if resp == nil {
		return universalis.Response{}, adapter.ErrNilResponse
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return universalis.Response{}, fmt.Errorf("%w: blocked: %s", adapter.ErrEmptyResponse, resp.PromptFeedback.BlockReason)
		}
		return universalis.Response{}, adapter.ErrEmptyResponse
	}
	text := resp.Text()
	if text == "" {
		return universalis.Response{}, adapter.ErrEmptyResponse
	}
	out := universalis.Response{Role: universalis.RoleAssistant, Text: universalis.Sanitize(text)}
	if u := resp.UsageMetadata; u != nil {
		out.InputTokens = int64(u.PromptTokenCount)
		out.OutputTokens = int64(u.CandidatesTokenCount)
	}
	return out, nil
}
