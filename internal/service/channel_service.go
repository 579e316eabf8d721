package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/lobby/internal/cache"
	"github.com/vedran77/lobby/internal/domain"
	"github.com/vedran77/lobby/internal/loader"
	"github.com/vedran77/lobby/internal/membership"
	"github.com/vedran77/lobby/internal/repository"
	"github.com/vedran77/lobby/internal/session"
)

type ChannelService struct {
	applier  *Applier
	messages *MessageService
}

func NewChannelService(applier *Applier, messages *MessageService) *ChannelService {
	return &ChannelService{
		applier:  applier,
		messages: messages,
	}
}

type CreateChannelInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Join makes the actor a member of channelID.
func (s *ChannelService) Join(ctx context.Context, actor domain.Actor, channelID uuid.UUID) error {
	_, err := s.applier.Run(ctx, func(ctx context.Context, tx repository.Tx) (membership.Effects, error) {
		user, ch, err := loadMembership(ctx, tx, actor.UserID, channelID)
		if err != nil {
			return membership.Effects{}, err
		}

		tr, err := membership.Join(*user, ch)
		if err != nil {
			return membership.Effects{}, fromMembership(err)
		}
		if err := tr.Apply(ctx, tx); err != nil {
			// Lost a race with a concurrent join of the same user.
			if errors.Is(err, repository.ErrAlreadyMember) {
				return membership.Effects{}, ErrOneChannelAtATime
			}
			return membership.Effects{}, err
		}
		return tr.Effects, nil
	})
	return err
}

// Leave removes the actor from channelID.
func (s *ChannelService) Leave(ctx context.Context, actor domain.Actor, channelID uuid.UUID) error {
	_, err := s.applier.Run(ctx, func(ctx context.Context, tx repository.Tx) (membership.Effects, error) {
		user, ch, err := loadMembership(ctx, tx, actor.UserID, channelID)
		if err != nil {
			return membership.Effects{}, err
		}

		tr, err := membership.Leave(*user, ch)
		if err != nil {
			return membership.Effects{}, fromMembership(err)
		}
		if err := tr.Apply(ctx, tx); err != nil {
			return membership.Effects{}, err
		}
		return tr.Effects, nil
	})
	return err
}

func loadMembership(ctx context.Context, tx repository.Tx, userID, channelID uuid.UUID) (*domain.User, *domain.Channel, error) {
	user, err := tx.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, ErrUserNotFound
	}
	ch, err := tx.Channels().GetByID(ctx, channelID)
	if err != nil {
		return nil, nil, err
	}
	return user, ch, nil
}

// List returns every channel in creation order.
func (s *ChannelService) List(ctx context.Context) ([]domain.Channel, error) {
	channels, err := readThrough(ctx, s.applier, cache.ChannelsListKey,
		s.applier.cache.GetChannels,
		func(ctx context.Context, r repository.Repos) ([]domain.Channel, error) {
			return r.Channels().List(ctx)
		},
		s.applier.cache.SetChannels,
	)
	if err != nil {
		return nil, err
	}
	if channels == nil {
		channels = []domain.Channel{}
	}
	return channels, nil
}

// Get returns one channel.
func (s *ChannelService) Get(ctx context.Context, channelID uuid.UUID) (*domain.Channel, error) {
	return getChannel(ctx, s.applier, channelID)
}

func getChannel(ctx context.Context, a *Applier, channelID uuid.UUID) (*domain.Channel, error) {
	return readThrough(ctx, a, cache.ChannelKey(channelID),
		func(ctx context.Context) (*domain.Channel, error) {
			return a.cache.GetChannel(ctx, channelID)
		},
		func(ctx context.Context, r repository.Repos) (*domain.Channel, error) {
			ch, err := r.Channels().GetByID(ctx, channelID)
			if err != nil {
				return nil, err
			}
			if ch == nil {
				return nil, ErrChannelNotFound
			}
			return ch, nil
		},
		a.cache.SetChannel,
	)
}

// Members returns the users of a channel the actor belongs to.
func (s *ChannelService) Members(ctx context.Context, actor domain.Actor, channelID uuid.UUID) ([]*domain.User, error) {
	ch, err := s.Get(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !ch.HasMember(actor.UserID) {
		return nil, ErrJoinFirst
	}
	return s.users(ctx, ch.UserIDs)
}

// MyChannel returns the channel the actor's session is in.
func (s *ChannelService) MyChannel(ctx context.Context, actor domain.Actor) (*domain.Channel, error) {
	var channelID *uuid.UUID
	if m, ok := session.FromContext(ctx); ok {
		channelID = m.ChannelID()
	} else {
		user, err := s.applier.store.Users().GetByID(ctx, actor.UserID)
		if err != nil {
			return nil, storage(err)
		}
		if user == nil {
			return nil, ErrUserNotFound
		}
		channelID = user.ChannelID
	}
	if channelID == nil {
		return nil, ErrNoneJoined
	}
	return s.Get(ctx, *channelID)
}

// Expand resolves a channel's users and messages through the request's
// loaders. Messages are only expanded for members.
func (s *ChannelService) Expand(ctx context.Context, actor domain.Actor, ch *domain.Channel, users, messages bool) (*domain.ChannelView, error) {
	view := &domain.ChannelView{Channel: ch}
	if users {
		u, err := s.users(ctx, ch.UserIDs)
		if err != nil {
			return nil, err
		}
		view.Users = u
	}
	if messages && ch.HasMember(actor.UserID) {
		msgs, err := s.messages.List(ctx, actor, ch.ID)
		if err != nil {
			return nil, err
		}
		view.Messages = make([]*domain.Message, len(msgs))
		for i := range msgs {
			view.Messages[i] = &msgs[i]
		}
	}
	return view, nil
}

func (s *ChannelService) users(ctx context.Context, ids []uuid.UUID) ([]*domain.User, error) {
	loaders := loaderFrom(ctx, s.applier.store)
	users, errs := loader.LoadAll(ctx, loaders.Users, ids)
	for _, err := range errs {
		if err != nil && !errors.Is(err, loader.ErrNotFound) {
			return nil, storage(err)
		}
	}
	return loader.Found(users, errs), nil
}

// Create adds a channel. Administrators only.
func (s *ChannelService) Create(ctx context.Context, actor domain.Actor, input CreateChannelInput) (*domain.Channel, error) {
	if !actor.IsAdmin() {
		return nil, ErrAdminOnly
	}

	var desc *string
	if input.Description != "" {
		desc = &input.Description
	}
	ch := &domain.Channel{
		ID:          uuid.New(),
		Name:        input.Name,
		Description: desc,
		UserIDs:     []uuid.UUID{},
		MessageIDs:  []uuid.UUID{},
		CreatedBy:   actor.UserID,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.applier.Run(ctx, func(ctx context.Context, tx repository.Tx) (membership.Effects, error) {
		if err := tx.Channels().Create(ctx, ch); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return membership.Effects{}, ErrChannelNameTaken
			}
			return membership.Effects{}, fmt.Errorf("creating channel: %w", err)
		}
		return membership.Effects{
			Invalidate: []string{cache.ChannelsListKey, cache.ChannelKey(ch.ID), cache.ChannelMessagesKey(ch.ID)},
			Refresh:    []uuid.UUID{ch.ID},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Delete removes a channel with its messages, evicting its members.
// Administrators only.
func (s *ChannelService) Delete(ctx context.Context, actor domain.Actor, channelID uuid.UUID) error {
	if !actor.IsAdmin() {
		return ErrAdminOnly
	}

	_, err := s.applier.Run(ctx, func(ctx context.Context, tx repository.Tx) (membership.Effects, error) {
		ch, err := tx.Channels().GetByID(ctx, channelID)
		if err != nil {
			return membership.Effects{}, err
		}
		if ch == nil {
			return membership.Effects{}, ErrChannelNotFound
		}
		members, err := tx.Users().GetByIDs(ctx, ch.UserIDs)
		if err != nil {
			return membership.Effects{}, err
		}

		effects := membership.Effects{
			Invalidate: []string{cache.ChannelsListKey, cache.ChannelKey(ch.ID), cache.ChannelMessagesKey(ch.ID)},
		}
		for _, u := range members {
			effects.Merge(membership.Evict(u, ch).Effects)
		}
		if _, err := tx.Users().ClearChannel(ctx, ch.ID); err != nil {
			return membership.Effects{}, err
		}
		if err := tx.Channels().Delete(ctx, ch.ID); err != nil {
			return membership.Effects{}, err
		}
		return effects, nil
	})
	return err
}

// Warm fills the channel list and the single-channel keys from the store.
func (s *ChannelService) Warm(ctx context.Context) error {
	var (
		rev      int64
		channels []domain.Channel
	)
	err := s.applier.store.Snapshot(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		if rev, err = r.Revision(ctx); err != nil {
			return err
		}
		channels, err = r.Channels().List(ctx)
		return err
	})
	if err != nil {
		return storage(err)
	}

	if _, err := s.applier.cache.SetChannels(ctx, rev, channels); err != nil {
		return fmt.Errorf("warming %s: %w", cache.ChannelsListKey, err)
	}
	for i := range channels {
		if _, err := s.applier.cache.SetChannel(ctx, rev, &channels[i]); err != nil {
			return fmt.Errorf("warming %s: %w", cache.ChannelKey(channels[i].ID), err)
		}
	}
	s.applier.logger.Info("cache warmed", slog.Int("channels", len(channels)), slog.Int64("rev", rev))
	return nil
}

// loaderFrom returns the request's loaders, or fresh ones when called
// outside an HTTP request.
func loaderFrom(ctx context.Context, repos repository.Repos) *loader.Loaders {
	if l := loader.FromContext(ctx); l != nil {
		return l
	}
	return loader.New(repos)
}
