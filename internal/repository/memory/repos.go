package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/google/uuid"
	"github.com/vedran77/lobby/internal/domain"
	"github.com/vedran77/lobby/internal/repository"
)

type userRepo struct {
	do access
}

func (r *userRepo) Create(ctx context.Context, user *domain.User) error {
	return r.do(func(st *state) error {
		for _, u := range st.users {
			if u.ID == user.ID || u.Email == user.Email || u.Username == user.Username {
				return repository.ErrDuplicate
			}
		}
		st.users[user.ID] = *user
		return nil
	})
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.ID == id })
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Email == email })
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Username == username })
}

func (r *userRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error) {
	var users []domain.User
	err := r.do(func(st *state) error {
		for _, id := range uniq(ids) {
			if u, ok := st.users[id]; ok {
				users = append(users, u)
			}
		}
		return nil
	})
	return users, err
}

// List orders users by creation time, ties broken by id.
func (r *userRepo) List(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	err := r.do(func(st *state) error {
		for _, u := range st.users {
			users = append(users, u)
		}
		return nil
	})
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return slices.Compare(users[i].ID[:], users[j].ID[:]) < 0
	})
	return users, err
}

func (r *userRepo) SetChannel(ctx context.Context, userID uuid.UUID, channelID *uuid.UUID) error {
	return r.do(func(st *state) error {
		u, ok := st.users[userID]
		if !ok {
			return fmt.Errorf("user %s: not found", userID)
		}
		if channelID != nil {
			id := *channelID
			u.ChannelID = &id
		} else {
			u.ChannelID = nil
		}
		u.UpdatedAt = now()
		st.users[userID] = u
		return nil
	})
}

func (r *userRepo) ClearChannel(ctx context.Context, channelID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.do(func(st *state) error {
		for id, u := range st.users {
			if u.ChannelID != nil && *u.ChannelID == channelID {
				u.ChannelID = nil
				u.UpdatedAt = now()
				st.users[id] = u
				ids = append(ids, id)
			}
		}
		return nil
	})
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
	return ids, err
}

func (r *userRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.do(func(st *state) error {
		delete(st.users, id)
		delete(st.members, id)
		for mid, m := range st.messages {
			if m.message.SenderID == id {
				delete(st.messages, mid)
			}
		}
		return nil
	})
}

func (r *userRepo) find(match func(u domain.User) bool) (*domain.User, error) {
	var found *domain.User
	err := r.do(func(st *state) error {
		for _, u := range st.users {
			if match(u) {
				found = &u
				return nil
			}
		}
		return nil
	})
	return found, err
}

type channelRepo struct {
	do access
}

func (r *channelRepo) Create(ctx context.Context, ch *domain.Channel) error {
	return r.do(func(st *state) error {
		for _, row := range st.channels {
			if row.channel.ID == ch.ID || row.channel.Name == ch.Name {
				return repository.ErrDuplicate
			}
		}
		row := channelRow{channel: *ch, seq: st.next()}
		row.channel.UserIDs = nil
		row.channel.MessageIDs = nil
		st.channels[ch.ID] = row
		return nil
	})
}

func (r *channelRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Channel, error) {
	var found *domain.Channel
	err := r.do(func(st *state) error {
		if _, ok := st.channels[id]; ok {
			found = materialize(st, id)
		}
		return nil
	})
	return found, err
}

func (r *channelRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Channel, error) {
	var channels []domain.Channel
	err := r.do(func(st *state) error {
		for _, id := range uniq(ids) {
			if _, ok := st.channels[id]; ok {
				channels = append(channels, *materialize(st, id))
			}
		}
		return nil
	})
	return channels, err
}

func (r *channelRepo) List(ctx context.Context) ([]domain.Channel, error) {
	var channels []domain.Channel
	err := r.do(func(st *state) error {
		rows := make([]channelRow, 0, len(st.channels))
		for _, row := range st.channels {
			rows = append(rows, row)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
		for _, row := range rows {
			channels = append(channels, *materialize(st, row.channel.ID))
		}
		return nil
	})
	return channels, err
}

func (r *channelRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.do(func(st *state) error {
		delete(st.channels, id)
		for uid, m := range st.members {
			if m.channelID == id {
				delete(st.members, uid)
			}
		}
		for mid, m := range st.messages {
			if m.message.ChannelID == id {
				delete(st.messages, mid)
			}
		}
		for uid, u := range st.users {
			if u.ChannelID != nil && *u.ChannelID == id {
				u.ChannelID = nil
				st.users[uid] = u
			}
		}
		return nil
	})
}

func (r *channelRepo) AddMember(ctx context.Context, channelID, userID uuid.UUID) error {
	return r.do(func(st *state) error {
		if _, ok := st.members[userID]; ok {
			return repository.ErrAlreadyMember
		}
		if _, ok := st.channels[channelID]; !ok {
			return fmt.Errorf("channel %s: not found", channelID)
		}
		st.members[userID] = memberRow{channelID: channelID, seq: st.next()}
		return nil
	})
}

func (r *channelRepo) RemoveMember(ctx context.Context, channelID, userID uuid.UUID) error {
	return r.do(func(st *state) error {
		if m, ok := st.members[userID]; ok && m.channelID == channelID {
			delete(st.members, userID)
		}
		return nil
	})
}

// materialize builds the channel with its member set in join order and its
// message ids in insertion order.
func materialize(st *state, id uuid.UUID) *domain.Channel {
	ch := st.channels[id].channel

	type seqID struct {
		id  uuid.UUID
		seq int64
	}
	var members, messages []seqID
	for uid, m := range st.members {
		if m.channelID == id {
			members = append(members, seqID{uid, m.seq})
		}
	}
	for mid, m := range st.messages {
		if m.message.ChannelID == id {
			messages = append(messages, seqID{mid, m.seq})
		}
	}
	bySeq := func(a, b seqID) int { return int(a.seq - b.seq) }
	slices.SortFunc(members, bySeq)
	slices.SortFunc(messages, bySeq)

	ch.UserIDs = make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		ch.UserIDs = append(ch.UserIDs, m.id)
	}
	ch.MessageIDs = make([]uuid.UUID, 0, len(messages))
	for _, m := range messages {
		ch.MessageIDs = append(ch.MessageIDs, m.id)
	}
	return &ch
}

type messageRepo struct {
	do access
}

func (r *messageRepo) Create(ctx context.Context, msg *domain.Message) error {
	return r.do(func(st *state) error {
		if _, ok := st.messages[msg.ID]; ok {
			return repository.ErrDuplicate
		}
		if _, ok := st.channels[msg.ChannelID]; !ok {
			return fmt.Errorf("channel %s: not found", msg.ChannelID)
		}
		st.messages[msg.ID] = messageRow{message: msg.Sealed(), seq: st.next()}
		return nil
	})
}

func (r *messageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	var found *domain.Message
	err := r.do(func(st *state) error {
		if row, ok := st.messages[id]; ok {
			m := row.message
			found = &m
		}
		return nil
	})
	return found, err
}

func (r *messageRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Message, error) {
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return r.filter(func(m domain.Message) bool { return want[m.ID] })
}

func (r *messageRepo) ListByChannel(ctx context.Context, channelID uuid.UUID) ([]domain.Message, error) {
	return r.filter(func(m domain.Message) bool { return m.ChannelID == channelID })
}

func (r *messageRepo) ListBySender(ctx context.Context, senderID uuid.UUID) ([]domain.Message, error) {
	return r.filter(func(m domain.Message) bool { return m.SenderID == senderID })
}

func (r *messageRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.do(func(st *state) error {
		delete(st.messages, id)
		return nil
	})
}

func (r *messageRepo) DeleteBySender(ctx context.Context, senderID uuid.UUID) error {
	return r.do(func(st *state) error {
		for id, m := range st.messages {
			if m.message.SenderID == senderID {
				delete(st.messages, id)
			}
		}
		return nil
	})
}

func (r *messageRepo) filter(match func(m domain.Message) bool) ([]domain.Message, error) {
	var rows []messageRow
	err := r.do(func(st *state) error {
		for _, row := range st.messages {
			if match(row.message) {
				rows = append(rows, row)
			}
		}
		return nil
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	messages := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.message)
	}
	return messages, err
}

func uniq(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
