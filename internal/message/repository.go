package message

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/fechatter/fechatter/internal/postgres"
)

const selectColumns = `id, chat_id, sender_id, content, files, idempotency_key, sequence, created_at, updated_at`

// errIdempotencyReplay signals, within a Create transaction, that the insert
// collided with an existing idempotency key and the caller should look up
// the original row instead of treating it as an error.
var errIdempotencyReplay = errors.New("idempotency key already used")

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed message repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.Files, &m.IdempotencyKey, &m.Sequence, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return &m, nil
}

// Create allocates the next per-chat sequence number and inserts the message
// inside a single transaction. A row with the same (chat_id, idempotency_key)
// is treated as the original send: the transaction aborts and the caller
// receives that row back with replayed=true, so at most one row is ever
// inserted per idempotency key.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Message, bool, error) {
	var msg Message
	txErr := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var member bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL)`,
			params.ChatID, params.SenderID,
		).Scan(&member)
		if err != nil {
			return fmt.Errorf("check chat membership: %w", err)
		}
		if !member {
			return ErrNotChatMember
		}

		var seq int64
		if err := tx.QueryRow(ctx, `SELECT next_message_sequence($1)`, params.ChatID).Scan(&seq); err != nil {
			return fmt.Errorf("allocate message sequence: %w", err)
		}

		row := tx.QueryRow(ctx,
			`INSERT INTO messages (chat_id, sender_id, content, files, idempotency_key, sequence)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, created_at, updated_at`,
			params.ChatID, params.SenderID, params.Content, params.Files, params.IdempotencyKey, seq,
		)

		msg = Message{
			ChatID: params.ChatID, SenderID: params.SenderID, Content: params.Content,
			Files: params.Files, IdempotencyKey: params.IdempotencyKey, Sequence: seq,
		}
		if err := row.Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
			if postgres.IsUniqueViolation(err) {
				return errIdempotencyReplay
			}
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})

	if errors.Is(txErr, errIdempotencyReplay) {
		existing, err := r.getByIdempotencyKey(ctx, params.ChatID, params.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		return existing, true, nil
	}
	if txErr != nil {
		return nil, false, txErr
	}
	return &msg, false, nil
}

func (r *PGRepository) getByIdempotencyKey(ctx context.Context, chatID int64, key uuid.UUID) (*Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM messages WHERE chat_id = $1 AND idempotency_key = $2`, chatID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query message by idempotency key: %w", err)
	}
	return m, nil
}

// GetByID returns a message by id. A hard-deleted message has no row and
// returns ErrNotFound.
func (r *PGRepository) GetByID(ctx context.Context, id int64) (*Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query message by id: %w", err)
	}
	return m, nil
}

// List returns messages in chatID ordered by id descending, id-paginated by
// lastID rather than offset.
func (r *PGRepository) List(ctx context.Context, chatID int64, lastID *int64, limit int) ([]Message, error) {
	var rows pgx.Rows
	var err error
	if lastID != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+selectColumns+` FROM messages WHERE chat_id = $1 AND id < $2 ORDER BY id DESC LIMIT $3`,
			chatID, *lastID, limit)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+selectColumns+` FROM messages WHERE chat_id = $1 ORDER BY id DESC LIMIT $2`,
			chatID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// UpdateContent sets new content on a message, only if senderID is its
// sender. Returns ErrNotFound if the message does not exist and ErrNotSender
// if it exists but belongs to a different sender.
func (r *PGRepository) UpdateContent(ctx context.Context, id, senderID int64, content string) (*Message, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE messages SET content = $1, updated_at = NOW() WHERE id = $2 AND sender_id = $3`,
		content, id, senderID)
	if err != nil {
		return nil, fmt.Errorf("update message content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, r.notFoundOrNotSender(ctx, id, senderID)
	}
	return r.GetByID(ctx, id)
}

// Delete hard-deletes a message, only if senderID is its sender.
func (r *PGRepository) Delete(ctx context.Context, id, senderID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM messages WHERE id = $1 AND sender_id = $2`, id, senderID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.notFoundOrNotSender(ctx, id, senderID)
	}
	return nil
}

// notFoundOrNotSender distinguishes "no such message" from "message exists
// but belongs to someone else" after a zero-row-affected update or delete.
func (r *PGRepository) notFoundOrNotSender(ctx context.Context, id, senderID int64) error {
	var actualSender int64
	err := r.db.QueryRow(ctx, `SELECT sender_id FROM messages WHERE id = $1`, id).Scan(&actualSender)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("check message sender: %w", err)
	}
	if actualSender != senderID {
		return ErrNotSender
	}
	return ErrNotFound
}

// MarkDelivered upserts a delivered receipt for (messageID, userID).
func (r *PGRepository) MarkDelivered(ctx context.Context, messageID, userID int64) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO message_receipts (message_id, user_id, status)
		 VALUES ($1, $2, 'delivered') ON CONFLICT (message_id, user_id, status) DO NOTHING`,
		messageID, userID)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// MarkRead upserts delivered and read receipts for (messageID, userID).
// Read implies delivered, so both rows are guaranteed to exist afterward.
func (r *PGRepository) MarkRead(ctx context.Context, messageID, userID int64) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO message_receipts (message_id, user_id, status)
			 VALUES ($1, $2, 'delivered') ON CONFLICT (message_id, user_id, status) DO NOTHING`,
			messageID, userID); err != nil {
			return fmt.Errorf("mark delivered: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO message_receipts (message_id, user_id, status)
			 VALUES ($1, $2, 'read') ON CONFLICT (message_id, user_id, status) DO NOTHING`,
			messageID, userID); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
		return nil
	})
}

// GetUnreadCount counts messages in chatID sent by someone other than
// userID that userID has not yet read.
func (r *PGRepository) GetUnreadCount(ctx context.Context, chatID, userID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages m
		 WHERE m.chat_id = $1 AND m.sender_id <> $2
		   AND NOT EXISTS (
		     SELECT 1 FROM message_receipts r
		     WHERE r.message_id = m.id AND r.user_id = $2 AND r.status = 'read'
		   )`, chatID, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return count, nil
}

// MarkReadEnhanced records a read receipt, advances the user's per-chat read
// watermark to messageID (never moving it backward), and clears any pending
// mention receipts up to and including messageID.
func (r *PGRepository) MarkReadEnhanced(ctx context.Context, userID, chatID, messageID int64) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO message_receipts (message_id, user_id, status)
			 VALUES ($1, $2, 'delivered') ON CONFLICT (message_id, user_id, status) DO NOTHING`,
			messageID, userID); err != nil {
			return fmt.Errorf("mark delivered: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO message_receipts (message_id, user_id, status)
			 VALUES ($1, $2, 'read') ON CONFLICT (message_id, user_id, status) DO NOTHING`,
			messageID, userID); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_read_watermarks (chat_id, user_id, last_read_message_id)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (chat_id, user_id) DO UPDATE
			   SET last_read_message_id = GREATEST(chat_read_watermarks.last_read_message_id, excluded.last_read_message_id)`,
			chatID, userID, messageID); err != nil {
			return fmt.Errorf("advance read watermark: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE message_mentions SET read_at = NOW()
			 WHERE user_id = $1 AND read_at IS NULL
			   AND message_id IN (SELECT id FROM messages WHERE chat_id = $2 AND id <= $3)`,
			userID, chatID, messageID); err != nil {
			return fmt.Errorf("clear mention receipts: %w", err)
		}
		return nil
	})
}

// SaveMentions persists one mention row per user id, ignoring duplicates.
// Called once at message creation time.
func (r *PGRepository) SaveMentions(ctx context.Context, messageID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		for _, uid := range userIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO message_mentions (message_id, user_id) VALUES ($1, $2)
				 ON CONFLICT (message_id, user_id) DO NOTHING`,
				messageID, uid); err != nil {
				return fmt.Errorf("insert mention: %w", err)
			}
		}
		return nil
	})
}

// GetUnreadMentionsForUser returns every mention of userID that has not yet
// been cleared by MarkReadEnhanced.
func (r *PGRepository) GetUnreadMentionsForUser(ctx context.Context, userID int64) ([]Mention, error) {
	rows, err := r.db.Query(ctx,
		`SELECT message_id, user_id FROM message_mentions WHERE user_id = $1 AND read_at IS NULL`, userID)
	if err != nil {
		return nil, fmt.Errorf("query unread mentions: %w", err)
	}
	defer rows.Close()

	var out []Mention
	for rows.Next() {
		var m Mention
		if err := rows.Scan(&m.MessageID, &m.UserID); err != nil {
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
