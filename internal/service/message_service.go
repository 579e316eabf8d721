package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/lobby/internal/cache"
	"github.com/vedran77/lobby/internal/domain"
	"github.com/vedran77/lobby/internal/encryption"
	"github.com/vedran77/lobby/internal/loader"
	"github.com/vedran77/lobby/internal/membership"
	"github.com/vedran77/lobby/internal/pubsub"
	"github.com/vedran77/lobby/internal/repository"
)

type MessageService struct {
	applier *Applier
	box     *encryption.Box
}

func NewMessageService(applier *Applier, box *encryption.Box) *MessageService {
	return &MessageService{
		applier: applier,
		box:     box,
	}
}

type SendMessageInput struct {
	Content string `json:"content"`
}

// Post seals content into a new message in channelID. The actor must be a
// member of the channel.
func (s *MessageService) Post(ctx context.Context, actor domain.Actor, channelID uuid.UUID, content string) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}

	ciphertext, nonce, err := s.box.Seal([]byte(content))
	if err != nil {
		return nil, err
	}

	var posted domain.Message
	_, err = s.applier.Run(ctx, func(ctx context.Context, tx repository.Tx) (membership.Effects, error) {
		user, ch, err := loadMembership(ctx, tx, actor.UserID, channelID)
		if err != nil {
			return membership.Effects{}, err
		}
		if ch == nil {
			return membership.Effects{}, ErrChannelNotFound
		}
		if !ch.HasMember(user.ID) {
			return membership.Effects{}, ErrJoinFirst
		}

		msg := domain.Message{
			ID:               uuid.New(),
			ChannelID:        ch.ID,
			SenderID:         user.ID,
			ContentEncrypted: ciphertext,
			Nonce:            nonce,
			CreatedAt:        time.Now().UTC(),
		}
		if err := tx.Messages().Create(ctx, &msg); err != nil {
			return membership.Effects{}, err
		}

		posted = msg
		posted.Content = &content
		posted.SenderUsername = user.Username
		posted.SenderDisplayName = user.DisplayName

		effects := membership.MessagesChanged(ch.ID)
		evt := posted
		effects.Events = append(effects.Events, pubsub.Event{Topic: pubsub.TopicNewMessage, ChannelID: ch.ID, Message: &evt})
		return effects, nil
	})
	if err != nil {
		return nil, err
	}
	return &posted, nil
}

// Delete removes a message. Only its sender or an administrator may delete
// it; the sender need not still be a member of the channel.
func (s *MessageService) Delete(ctx context.Context, actor domain.Actor, messageID uuid.UUID) error {
	_, err := s.applier.Run(ctx, func(ctx context.Context, tx repository.Tx) (membership.Effects, error) {
		msg, err := tx.Messages().GetByID(ctx, messageID)
		if err != nil {
			return membership.Effects{}, err
		}
		if msg == nil {
			return membership.Effects{}, ErrMessageNotFound
		}
		if msg.SenderID != actor.UserID && !actor.IsAdmin() {
			return membership.Effects{}, ErrNotMessageOwner
		}
		if err := tx.Messages().Delete(ctx, msg.ID); err != nil {
			return membership.Effects{}, err
		}

		effects := membership.MessagesChanged(msg.ChannelID)
		removed := msg.Sealed()
		effects.Events = append(effects.Events, pubsub.Event{Topic: pubsub.TopicRemovedMessage, ChannelID: msg.ChannelID, Message: &removed})
		return effects, nil
	})
	return err
}

// List returns the decrypted messages of a channel the actor belongs to, in
// posting order. A message that fails to decrypt carries its error in
// DecryptError and does not fail the list.
func (s *MessageService) List(ctx context.Context, actor domain.Actor, channelID uuid.UUID) ([]domain.Message, error) {
	ch, err := getChannel(ctx, s.applier, channelID)
	if err != nil {
		return nil, err
	}
	if !ch.HasMember(actor.UserID) {
		return nil, ErrJoinFirst
	}

	sealed, err := readThrough(ctx, s.applier, cache.ChannelMessagesKey(channelID),
		func(ctx context.Context) ([]domain.Message, error) {
			return s.applier.cache.GetMessages(ctx, channelID)
		},
		func(ctx context.Context, r repository.Repos) ([]domain.Message, error) {
			return r.Messages().ListByChannel(ctx, channelID)
		},
		func(ctx context.Context, rev int64, msgs []domain.Message) (bool, error) {
			return s.applier.cache.SetMessages(ctx, rev, channelID, msgs)
		},
	)
	if err != nil {
		return nil, err
	}

	messages := make([]domain.Message, len(sealed))
	senders := make([]uuid.UUID, len(sealed))
	for i, m := range sealed {
		messages[i] = s.open(m)
		senders[i] = m.SenderID
	}

	users, errs := loader.LoadAll(ctx, loaderFrom(ctx, s.applier.store).Users, senders)
	for i := range messages {
		if errs[i] == nil {
			messages[i].SenderUsername = users[i].Username
			messages[i].SenderDisplayName = users[i].DisplayName
		} else if !errors.Is(errs[i], loader.ErrNotFound) {
			return nil, storage(errs[i])
		}
	}
	return messages, nil
}

// open decrypts one message with its own nonce.
func (s *MessageService) open(m domain.Message) domain.Message {
	plaintext, err := s.box.Open(m.ContentEncrypted, m.Nonce)
	if err != nil {
		s.applier.metrics.RecordDecryptFailure()
		m.Content = nil
		m.DecryptError = (&DecryptionError{MessageID: m.ID, Err: err}).Error()
		return m
	}
	content := string(plaintext)
	m.Content = &content
	return m
}
