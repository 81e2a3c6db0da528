package conversation

import (
	"fmt"
	"math"
	"time"
)

type ModelInfo struct {
	ID          string
	DisplayName string
	Provider    string
}

// KnownModels is the model picker catalog, in display order.
var KnownModels = []ModelInfo{
	{ID: "gpt-3.5-turbo", DisplayName: "GPT-3.5", Provider: "openai"},
	{ID: "gpt-4", DisplayName: "GPT-4", Provider: "openai"},
	{ID: "gpt-4-turbo", DisplayName: "GPT-4 Turbo", Provider: "openai"},
	{ID: "gpt-4o", DisplayName: "GPT-4o", Provider: "openai"},
	{ID: "gemini-1.5-flash", DisplayName: "Gemini 1.5 Flash", Provider: "google"},
	{ID: "gemini-1.5-pro", DisplayName: "Gemini 1.5 Pro", Provider: "google"},
	{ID: "gemini-2.0-flash", DisplayName: "Gemini 2.0 Flash", Provider: "google"},
	{ID: "claude-3-5-sonnet", DisplayName: "Claude 3.5 Sonnet", Provider: "anthropic"},
	{ID: "claude-3-haiku", DisplayName: "Claude 3 Haiku", Provider: "anthropic"},
	{ID: "claude-3-opus", DisplayName: "Claude 3 Opus", Provider: "anthropic"},
}

// ModelDisplayName returns the human readable name of a model id. Unknown ids
// are returned unchanged.
func ModelDisplayName(id string) string {
	for _, m := range KnownModels {
		if m.ID == id {
			return m.DisplayName
		}
	}
	return id
}

func IsKnownModel(id string) bool {
	for _, m := range KnownModels {
		if m.ID == id {
			return true
		}
	}
	return false
}

// FormatLastActivity renders the sidebar label for the last activity of a
// conversation, relative to now.
func FormatLastActivity(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "Unknown"
	}
	diff := now.Sub(t)
	if diff < 0 {
		diff = -diff
	}
	days := int(math.Ceil(diff.Hours() / 24))
	switch {
	case days <= 1:
		return "Today"
	case days == 2:
		return "Yesterday"
	case days <= 7:
		return fmt.Sprintf("%d days ago", days)
	}
	return t.Format("Jan 2, 2006")
}
