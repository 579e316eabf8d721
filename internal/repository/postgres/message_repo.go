package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vedran77/lobby/internal/domain"
)

const messageColumns = `id, channel_id, sender_id, content_encrypted, nonce, created_at`

type MessageRepo struct {
	db DBTX
}

func NewMessageRepo(db DBTX) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (id, channel_id, sender_id, content_encrypted, nonce, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Exec(ctx, query,
		msg.ID, msg.ChannelID, msg.SenderID, msg.ContentEncrypted, msg.Nonce, msg.CreatedAt,
	)
	return err
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	var msg domain.Message
	err := r.db.QueryRow(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = $1", id).Scan(
		&msg.ID, &msg.ChannelID, &msg.SenderID, &msg.ContentEncrypted, &msg.Nonce, &msg.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *MessageRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Message, error) {
	return r.list(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ANY($1) ORDER BY seq", ids)
}

func (r *MessageRepo) ListByChannel(ctx context.Context, channelID uuid.UUID) ([]domain.Message, error) {
	return r.list(ctx, "SELECT "+messageColumns+" FROM messages WHERE channel_id = $1 ORDER BY seq", channelID)
}

func (r *MessageRepo) ListBySender(ctx context.Context, senderID uuid.UUID) ([]domain.Message, error) {
	return r.list(ctx, "SELECT "+messageColumns+" FROM messages WHERE sender_id = $1 ORDER BY seq", senderID)
}

func (r *MessageRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	return err
}

func (r *MessageRepo) DeleteBySender(ctx context.Context, senderID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM messages WHERE sender_id = $1`, senderID)
	return err
}

func (r *MessageRepo) list(ctx context.Context, query string, arg any) ([]domain.Message, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID, &msg.ChannelID, &msg.SenderID, &msg.ContentEncrypted, &msg.Nonce, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
