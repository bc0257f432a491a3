package universalis

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Chat completion defaults and limits.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 512
	DefaultN           = 1

	MaxTokensLimit = 4096
	MaxN           = 4
)

// Settings are a user's chat completion preferences.
type Settings struct {
	UserID       int64
	Provider     Provider
	Model        string
	Temperature  float64
	MaxTokens    int
	N            int
	SystemPrompt string
}

// DefaultSettings returns the settings a new or reset user starts with.
func DefaultSettings(userID int64, systemPrompt string) Settings {
	return Settings{
		UserID:       userID,
		Provider:     ProviderOpenAI,
		Model:        DefaultModel,
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
		N:            DefaultN,
		SystemPrompt: systemPrompt,
	}
}

// Validate checks every numeric field against its allowed range.
func (s Settings) Validate() error {
	if _, err := ParseProvider(string(s.Provider)); err != nil {
		return err
	}
	if s.Model == "" {
		return fmt.Errorf("%w: model is empty", ErrInvalidSetting)
	}
	if _, err := checkTemperature(s.Temperature); err != nil {
		return err
	}
	if _, err := checkMaxTokens(s.MaxTokens); err != nil {
		return err
	}
	_, err := checkN(s.N)
	return err
}

// ParseTemperature parses user input into a temperature in [0, 1].
func ParseTemperature(input string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: temperature must be a number between 0 and 1", ErrInvalidSetting)
	}
	return checkTemperature(v)
}

// ParseMaxTokens parses user input into a max token count in [1, 4096].
func ParseMaxTokens(input string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, fmt.Errorf("%w: max tokens must be a whole number between 1 and %d", ErrInvalidSetting, MaxTokensLimit)
	}
	return checkMaxTokens(v)
}

// ParseN parses user input into a sample count in [1, 4].
func ParseN(input string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, fmt.Errorf("%w: n must be a whole number between 1 and %d", ErrInvalidSetting, MaxN)
	}
	return checkN(v)
}

func checkTemperature(v float64) (float64, error) {
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("%w: temperature %v is outside 0..1", ErrInvalidSetting, v)
	}
	return v, nil
}

func checkMaxTokens(v int) (int, error) {
	if v < 1 || v > MaxTokensLimit {
		return 0, fmt.Errorf("%w: max tokens %d is outside 1..%d", ErrInvalidSetting, v, MaxTokensLimit)
	}
	return v, nil
}

func checkN(v int) (int, error) {
	if v < 1 || v > MaxN {
		return 0, fmt.Errorf("%w: n %d is outside 1..%d", ErrInvalidSetting, v, MaxN)
	}
	return v, nil
}

// visionModels accept image turns.
var visionModels = []string{
	"gpt-4-turbo",
	"gpt-4o",
	"gpt-4o-mini",
	"claude-3-haiku-20240307",
	"claude-3-sonnet-20240229",
	"claude-3-opus-20240229",
	"claude-3-5-sonnet-20240620",
	"llava-llama3:latest",
}

// IsVisionModel reports whether model accepts image turns.
func IsVisionModel(model string) bool {
	return slices.Contains(visionModels, model)
}

// VisionModels returns a copy of the vision model list.
func VisionModels() []string {
	return slices.Clone(visionModels)
}

// Image generation models.
const (
	ImageModelDallE2 = "dall-e-2"
	ImageModelDallE3 = "dall-e-3"
)

var imageSizes = map[string][]string{
	ImageModelDallE2: {"256x256", "512x512", "1024x1024"},
	ImageModelDallE3: {"1024x1024", "1024x1792", "1792x1024"},
}

// ImageSettings are a user's image generation preferences.
type ImageSettings struct {
	UserID int64
	Model  string
	Size   string
}

// DefaultImageSettings returns dall-e-2 at its smallest size.
func DefaultImageSettings(userID int64) ImageSettings {
	return ImageSettings{UserID: userID, Model: ImageModelDallE2, Size: imageSizes[ImageModelDallE2][0]}
}

// ImageModels lists the supported image generation models.
func ImageModels() []string {
	return []string{ImageModelDallE2, ImageModelDallE3}
}

// ImageSizes lists the sizes model supports, or nil for an unknown model.
func ImageSizes(model string) []string {
	return slices.Clone(imageSizes[model])
}

// WithModel switches to model and resets the size to that model's default.
func (s ImageSettings) WithModel(model string) (ImageSettings, error) {
	sizes, ok := imageSizes[model]
	if !ok {
		return s, fmt.Errorf("%w: unknown image model %q", ErrInvalidSetting, model)
	}
	s.Model = model
	s.Size = sizes[0]
	return s, nil
}

// WithSize switches to size if the current model supports it.
func (s ImageSettings) WithSize(size string) (ImageSettings, error) {
	if !slices.Contains(imageSizes[s.Model], size) {
		return s, fmt.Errorf("%w: size %q is not available for %s", ErrInvalidSetting, size, s.Model)
	}
	s.Size = size
	return s, nil
}
