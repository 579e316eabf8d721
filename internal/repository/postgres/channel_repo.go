package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vedran77/lobby/internal/domain"
	"github.com/vedran77/lobby/internal/repository"
)

// channelSelect materializes the member set (join order) and the message
// sequence (insertion order) next to each channel row.
const channelSelect = `
	SELECT c.id, c.name, c.description, c.created_by, c.created_at,
		COALESCE((SELECT array_agg(cm.user_id ORDER BY cm.joined_at, cm.user_id)
			FROM channel_members cm WHERE cm.channel_id = c.id), '{}') AS user_ids,
		COALESCE((SELECT array_agg(m.id ORDER BY m.seq)
			FROM messages m WHERE m.channel_id = c.id), '{}') AS message_ids
	FROM channels c`

type ChannelRepo struct {
	db DBTX
}

func NewChannelRepo(db DBTX) *ChannelRepo {
	return &ChannelRepo{db: db}
}

func (r *ChannelRepo) Create(ctx context.Context, ch *domain.Channel) error {
	query := `
		INSERT INTO channels (id, name, description, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Exec(ctx, query, ch.ID, ch.Name, ch.Description, ch.CreatedBy, ch.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

func (r *ChannelRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Channel, error) {
	var ch domain.Channel
	err := r.db.QueryRow(ctx, channelSelect+` WHERE c.id = $1`, id).Scan(
		&ch.ID, &ch.Name, &ch.Description, &ch.CreatedBy, &ch.CreatedAt, &ch.UserIDs, &ch.MessageIDs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *ChannelRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Channel, error) {
	return r.list(ctx, channelSelect+` WHERE c.id = ANY($1)`, ids)
}

func (r *ChannelRepo) List(ctx context.Context) ([]domain.Channel, error) {
	return r.list(ctx, channelSelect+` ORDER BY c.created_at, c.id`)
}

func (r *ChannelRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	return err
}

func (r *ChannelRepo) AddMember(ctx context.Context, channelID, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO channel_members (channel_id, user_id, joined_at) VALUES ($1, $2, now())`, channelID, userID)
	if isUniqueViolation(err) {
		return repository.ErrAlreadyMember
	}
	return err
}

func (r *ChannelRepo) RemoveMember(ctx context.Context, channelID, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM channel_members WHERE channel_id = $1 AND user_id = $2`, channelID, userID)
	return err
}

func (r *ChannelRepo) list(ctx context.Context, query string, args ...any) ([]domain.Channel, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []domain.Channel
	for rows.Next() {
		var ch domain.Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Description, &ch.CreatedBy, &ch.CreatedAt,
			&ch.UserIDs, &ch.MessageIDs); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}
