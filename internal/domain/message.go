package domain

import (
	"time"

	"github.com/google/uuid"
)

type Message struct {
	ID               uuid.UUID `json:"id"`
	ChannelID        uuid.UUID `json:"channel_id"`
	SenderID         uuid.UUID `json:"sender_id"`
	Content          *string   `json:"content,omitempty"`
	ContentEncrypted []byte    `json:"-"`
	Nonce            []byte    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	// Joined fields
	SenderUsername    string `json:"sender_username,omitempty"`
	SenderDisplayName string `json:"sender_display_name,omitempty"`
	// Set when the body could not be decrypted with the current key.
	DecryptError string `json:"decrypt_error,omitempty"`
}

// Sealed returns a copy without the decrypted body, safe to cache.
func (m Message) Sealed() Message {
	m.Content = nil
	m.DecryptError = ""
	m.SenderUsername = ""
	m.SenderDisplayName = ""
	return m
}
