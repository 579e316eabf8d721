package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type Channel struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Description *string     `json:"description,omitempty"`
	UserIDs     []uuid.UUID `json:"user_ids"`
	MessageIDs  []uuid.UUID `json:"message_ids"`
	CreatedBy   uuid.UUID   `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
}

// HasMember reports whether userID is in the channel's member set.
func (c *Channel) HasMember(userID uuid.UUID) bool {
	return slices.Contains(c.UserIDs, userID)
}

// ChannelView is a channel with its references expanded.
type ChannelView struct {
	*Channel
	Users    []*User    `json:"users,omitempty"`
	Messages []*Message `json:"messages,omitempty"`
}
