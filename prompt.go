package universalis

import (
	"strings"
	"time"
)

// Placeholders recognised in system prompts.
const (
	PlaceholderDay  = "{{DAY}}"
	PlaceholderDate = "{{DATE}}"
)

// DateLayout renders {{DATE}}: day of month without padding, abbreviated month, 4-digit year.
const DateLayout = "2 Jan 2006"

// ExpandPrompt substitutes {{DAY}} with the English weekday name and {{DATE}} with the date of now.
func ExpandPrompt(prompt string, now time.Time) string {
	if !strings.Contains(prompt, "{{") {
		return prompt
	}
	return strings.NewReplacer(
		PlaceholderDay, now.Weekday().String(),
		PlaceholderDate, now.Format(DateLayout),
	).Replace(prompt)
}

// SystemPrompt returns the payload of the leading system turn, or "" when history has none.
func SystemPrompt(turns []Turn) string {
	if len(turns) > 0 && turns[0].Role == RoleSystem && turns[0].Kind == KindText {
		return turns[0].Payload
	}
	return ""
}
