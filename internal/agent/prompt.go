package agent

import (
	"github.com/comigor/whatsapp-relay/internal/history"
	"github.com/comigor/whatsapp-relay/internal/llm"
)

const defaultSystemPrompt = "You are a helpful assistant. Reply in exactly 3 concise sentences. Use the conversation history for context."

// BuildPrompt returns the system turn, every stored turn in order, and
// newMessage as the final user turn. It has no side effects.
//
// The pipeline stores the inbound message before calling BuildPrompt, so in
// practice the newest user message appears twice: once from history and
// once as the explicit final turn.
func BuildPrompt(systemPrompt string, turns []history.Turn, newMessage string) []llm.Message {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	messages := make([]llm.Message, 0, len(turns)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == history.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Content})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: newMessage})
}
