// Package membership implements the one-channel-per-user state machine.
//
// Join, Leave and Evict are pure: they check the preconditions against the
// user and channel rows read inside the caller's transaction and return the
// resulting state plus the side effects the caller must fire after commit.
// Apply performs the store writes for a transition.
package membership

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/vedran77/lobby/internal/cache"
	"github.com/vedran77/lobby/internal/domain"
	"github.com/vedran77/lobby/internal/pubsub"
	"github.com/vedran77/lobby/internal/repository"
)

var (
	ErrOneChannel      = errors.New("one channel at a time")
	ErrAlreadyJoined   = errors.New("already joined")
	ErrJoinFirst       = errors.New("join first")
	ErrAlreadyLeft     = errors.New("already left")
	ErrChannelNotFound = errors.New("channel not found")
)

type Op int

const (
	OpNone Op = iota
	OpAdd
	OpRemove
)

// SessionUpdate sets the mirrored channel of every session of a user.
type SessionUpdate struct {
	UserID    uuid.UUID
	ChannelID *uuid.UUID
}

// Effects are the post-commit steps of a mutation, fired in field order:
// cache first, then session mirrors, then events.
type Effects struct {
	// Invalidate is tombstoned at the commit revision.
	Invalidate []string
	// Refresh lists channels whose channel key is rewritten from the
	// in-transaction snapshot; RefreshMessages does the same for their
	// message lists.
	Refresh         []uuid.UUID
	RefreshMessages []uuid.UUID
	Sessions        []SessionUpdate
	Events          []pubsub.Event
}

func (e *Effects) Merge(o Effects) {
	e.Invalidate = appendUnique(e.Invalidate, o.Invalidate...)
	e.Refresh = appendUnique(e.Refresh, o.Refresh...)
	e.RefreshMessages = appendUnique(e.RefreshMessages, o.RefreshMessages...)
	e.Sessions = append(e.Sessions, o.Sessions...)
	e.Events = append(e.Events, o.Events...)
}

func appendUnique[T comparable](dst []T, vals ...T) []T {
	for _, v := range vals {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}

type Transition struct {
	Op      Op
	User    domain.User
	Channel domain.Channel
	Effects Effects

	// dangling is set when an OpNone eviction found a channel pointer with
	// no matching member row; Apply clears the pointer.
	dangling bool
}

// Join moves user into ch. ch is nil when the channel does not exist.
func Join(user domain.User, ch *domain.Channel) (Transition, error) {
	if user.ChannelID != nil {
		return Transition{}, ErrOneChannel
	}
	if ch == nil {
		return Transition{}, ErrChannelNotFound
	}
	if ch.HasMember(user.ID) {
		return Transition{}, ErrAlreadyJoined
	}

	next := *ch
	next.UserIDs = append(slices.Clone(ch.UserIDs), user.ID)
	id := ch.ID
	user.ChannelID = &id

	return Transition{
		Op:      OpAdd,
		User:    user,
		Channel: next,
		Effects: membershipEffects(user, ch.ID, pubsub.TopicJoined, "has joined"),
	}, nil
}

// Leave moves user out of ch.
func Leave(user domain.User, ch *domain.Channel) (Transition, error) {
	if user.ChannelID == nil {
		return Transition{}, ErrJoinFirst
	}
	if ch == nil {
		return Transition{}, ErrChannelNotFound
	}
	if !ch.HasMember(user.ID) {
		return Transition{}, ErrAlreadyLeft
	}
	return remove(user, ch), nil
}

// Evict removes user from whatever channel it is in without checking
// preconditions. ch is the user's current channel, or nil. Used by account
// deletion, logout and channel deletion.
func Evict(user domain.User, ch *domain.Channel) Transition {
	if ch == nil || !ch.HasMember(user.ID) {
		t := Transition{Op: OpNone, dangling: user.ChannelID != nil}
		user.ChannelID = nil
		t.User = user
		if ch != nil {
			t.Channel = *ch
		}
		if t.dangling {
			t.Effects.Sessions = []SessionUpdate{{UserID: user.ID}}
		}
		return t
	}
	return remove(user, ch)
}

func remove(user domain.User, ch *domain.Channel) Transition {
	next := *ch
	next.UserIDs = slices.DeleteFunc(slices.Clone(ch.UserIDs), func(id uuid.UUID) bool { return id == user.ID })
	user.ChannelID = nil

	return Transition{
		Op:      OpRemove,
		User:    user,
		Channel: next,
		Effects: membershipEffects(user, ch.ID, pubsub.TopicLeft, "has left"),
	}
}

func membershipEffects(user domain.User, channelID uuid.UUID, topic pubsub.Topic, verb string) Effects {
	u := user
	return Effects{
		Invalidate: []string{cache.ChannelsListKey, cache.ChannelKey(channelID)},
		Refresh:    []uuid.UUID{channelID},
		Sessions:   []SessionUpdate{{UserID: user.ID, ChannelID: user.ChannelID}},
		Events: []pubsub.Event{
			{Topic: topic, ChannelID: channelID, User: &u},
			{Topic: pubsub.TopicNotification, ChannelID: channelID, Text: fmt.Sprintf("%s %s", user.Username, verb)},
		},
	}
}

// MessagesChanged returns the effects of adding or removing messages in
// channelID. The list key is included because a channel snapshot in the list
// carries its message ids.
func MessagesChanged(channelID uuid.UUID) Effects {
	return Effects{
		Invalidate:      []string{cache.ChannelsListKey, cache.ChannelKey(channelID), cache.ChannelMessagesKey(channelID)},
		Refresh:         []uuid.UUID{channelID},
		RefreshMessages: []uuid.UUID{channelID},
	}
}

// Apply writes the transition's membership change. The member row and the
// user's channel pointer change in the same transaction.
func (t Transition) Apply(ctx context.Context, tx repository.Tx) error {
	switch t.Op {
	case OpAdd:
		if err := tx.Channels().AddMember(ctx, t.Channel.ID, t.User.ID); err != nil {
			return err
		}
	case OpRemove:
		if err := tx.Channels().RemoveMember(ctx, t.Channel.ID, t.User.ID); err != nil {
			return err
		}
	default:
		if !t.dangling {
			return nil
		}
	}
	return tx.Users().SetChannel(ctx, t.User.ID, t.User.ChannelID)
}
