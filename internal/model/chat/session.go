package chat

import "time"

// Conversation is the assistant session opened by the first message of an
// owner and reused by the following ones.
type Conversation struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	PersonaID string    `json:"personaId"`
	CreatedAt time.Time `json:"createdAt"`
	Turns     int       `json:"turns"`
}
