package session

import "strings"

const maxTitleLen = 48

// TitleFromMessage derives a display title from the first user message of
// a session, used when the caller never set one explicitly. Cuts at a word
// boundary where possible.
func TitleFromMessage(message string) string {
	title := strings.TrimSpace(message)
	if title == "" {
		return "New Session"
	}
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	if len(title) <= maxTitleLen {
		return title
	}
	cut := title[:maxTitleLen]
	if idx := strings.LastIndexByte(cut, ' '); idx > maxTitleLen/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
