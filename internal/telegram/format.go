package telegram

import "strings"

// markdownV2Special are the characters MarkdownV2 requires escaping outside
// of entities.
const markdownV2Special = "_*[]()~`>#+-=|{}.!\\"

// EscapeMarkdownV2 makes arbitrary user text safe to embed in a MarkdownV2
// message.
func EscapeMarkdownV2(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownV2Special, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Bold wraps already-escaped text in a bold entity.
func Bold(escaped string) string {
	return "*" + escaped + "*"
}
