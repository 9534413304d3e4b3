package ai

import "strings"

// HistoryToMessages builds provider input from a flat conversation.
// oldMessages alternate user / assistant, starting with the user.
func HistoryToMessages(systemPrompt string, oldMessages []string, message string) []Message {
	out := make([]Message, 0, len(oldMessages)+2)
	if s := strings.TrimSpace(systemPrompt); s != "" {
		out = append(out, Message{Role: RoleSystem, Content: s})
	}
	for i, m := range oldMessages {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		out = append(out, Message{Role: role, Content: m})
	}
	return append(out, Message{Role: RoleUser, Content: message})
}

// Window keeps the system prompt (if first) plus the newest n-1 messages.
func Window(messages []Message, n int) []Message {
	if n <= 0 || len(messages) <= n {
		return messages
	}
	if n > 1 && messages[0].Role == RoleSystem {
		rest := messages[len(messages)-(n-1):]
		return append([]Message{messages[0]}, rest...)
	}
	return messages[len(messages)-n:]
}
