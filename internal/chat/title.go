package chat

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultChatTitle    = "New Chat"
	DefaultSystemPrompt = "You are a helpful AI assistant."
	maxTitleLength      = 50
)

var sentenceEnd = regexp.MustCompile(`[.!?]+`)

// GenerateTitle derives a chat title from the first user message: the whole
// message when short, else its first sentence, else as many whole words as
// fit, else a hard cut with "...".
func GenerateTitle(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return DefaultChatTitle
	}
	if utf8.RuneCountInString(clean) <= maxTitleLength {
		return clean
	}

	if first := sentenceEnd.Split(clean, 2)[0]; first != "" && utf8.RuneCountInString(first) <= maxTitleLength {
		return strings.TrimSpace(first)
	}

	title := ""
	for _, w := range strings.Fields(clean) {
		if utf8.RuneCountInString(title+" "+w) > maxTitleLength {
			break
		}
		if title != "" {
			title += " "
		}
		title += w
	}
	if title != "" {
		return title
	}

	return string([]rune(clean)[:maxTitleLength-3]) + "..."
}

func IsDefaultTitle(title string) bool {
	return strings.Contains(title, DefaultChatTitle)
}
