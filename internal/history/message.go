package history

import "time"

// Role tags who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn represents a single conversational message held in memory.
// Turns are never modified after Append returns them.
type Turn struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Stats summarizes the current table.
type Stats struct {
	ActiveSenders int `json:"active_senders"`
	TotalTurns    int `json:"total_turns"`
}
