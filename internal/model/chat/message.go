package chat

import "time"

// Sender identifies who authored a transcript entry.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// TranscriptLimit caps persisted transcript reads to the most recent entries.
const TranscriptLimit = 50

// Message is one transcript entry scoped to an owner.
type Message struct {
	ID     string    `json:"id"`
	Owner  string    `json:"owner,omitempty"`
	Sender Sender    `json:"sender"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}
