package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/vedran77/lobby/internal/domain"
)

var (
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("duplicate key")
	// ErrAlreadyMember is returned when a user already belongs to a channel.
	ErrAlreadyMember = errors.New("user already belongs to a channel")
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	SetChannel(ctx context.Context, userID uuid.UUID, channelID *uuid.UUID) error
	ClearChannel(ctx context.Context, channelID uuid.UUID) ([]uuid.UUID, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type ChannelRepository interface {
	Create(ctx context.Context, channel *domain.Channel) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Channel, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Channel, error)
	List(ctx context.Context) ([]domain.Channel, error)
	Delete(ctx context.Context, id uuid.UUID) error
	AddMember(ctx context.Context, channelID, userID uuid.UUID) error
	RemoveMember(ctx context.Context, channelID, userID uuid.UUID) error
}

type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Message, error)
	ListByChannel(ctx context.Context, channelID uuid.UUID) ([]domain.Message, error)
	ListBySender(ctx context.Context, senderID uuid.UUID) ([]domain.Message, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteBySender(ctx context.Context, senderID uuid.UUID) error
}

// Repos is a set of repositories bound to one connection or transaction.
type Repos interface {
	Users() UserRepository
	Channels() ChannelRepository
	Messages() MessageRepository
	// Revision returns the current commit sequence number.
	Revision(ctx context.Context) (int64, error)
}

// Tx is a Repos handle inside a read-write transaction.
type Tx interface {
	Repos
	// BumpRevision advances the commit sequence number and returns the new value.
	// It must be called once by every mutating transaction.
	BumpRevision(ctx context.Context) (int64, error)
}

// Store is the durable store. Repos reads outside any transaction.
type Store interface {
	Repos
	// WithTx runs fn in a read-write transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Snapshot runs fn in a read-only transaction with a stable view, so the
	// revision it reads matches the rows it reads.
	Snapshot(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}
