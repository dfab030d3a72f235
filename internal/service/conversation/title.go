package conversation

import (
	"strings"
	"time"
)

const (
	maxDerivedTitleLen = 50
	autoTitlePrefix    = "Conversation started at"
)

// DeriveTitle builds a conversation title from the first user message.
// Long messages are truncated with an ellipsis; an empty message yields a
// timestamp placeholder that RenameIfAutoTitled later treats as replaceable.
func DeriveTitle(firstMessage string, now time.Time) string {
	text := strings.TrimSpace(firstMessage)
	if text == "" {
		return autoTitlePrefix + " " + now.Format("2006-01-02 15:04")
	}
	if runes := []rune(text); len(runes) > maxDerivedTitleLen {
		return strings.TrimSpace(string(runes[:maxDerivedTitleLen])) + "..."
	}
	return text
}

// IsAutoTitle reports whether a title is still a placeholder that may be
// replaced by a better generated one.
func IsAutoTitle(title string) bool {
	return strings.HasPrefix(title, autoTitlePrefix) || len(title) < 10
}
