package llm

import (
	"strings"
	"unicode/utf8"
)

const titleInstructions = `- you will generate a short title based on the first message a user begins a conversation with
- ensure it is not more than 80 characters long
- the title should be a summary of the user's message
- do not use quotes or colons`

const (
	maxTitleRunes = 80
	fallbackTitle = "New Chat"
)

// cleanTitle cleans up a generated title by removing quotes, colons and extra whitespace
func cleanTitle(title string) string {
	title = strings.TrimSpace(title)
	title = strings.Trim(title, "\"'`")
	title = strings.ReplaceAll(title, ":", "")
	title = strings.Join(strings.Fields(title), " ")

	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
		title = strings.TrimSpace(title)
	}

	if title == "" {
		title = fallbackTitle
	}
	return title
}
