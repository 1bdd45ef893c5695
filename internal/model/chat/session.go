package chat

import "time"

// Session captures a transient anonymous conversation bound to one agent.
type Session struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	CreatedAt time.Time `json:"createdAt"`
}
