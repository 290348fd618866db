package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/fechatter/fechatter/internal/postgres"
)

const selectColumns = `id, workspace_id, type, name, description, creator_id, member_ids, created_at, updated_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed chat repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanChat(row pgx.Row) (*Chat, error) {
	var c Chat
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.Type, &c.Name, &c.Description, &c.CreatorID, &c.MemberIDs, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan chat: %w", err)
	}
	return &c, nil
}

// Create composes the final member set for params.Type and inserts the chat
// row together with one chat_members row per member, all inside a single
// transaction.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Chat, error) {
	name, err := ValidateName(params.Name)
	if err != nil {
		return nil, err
	}
	members, err := ProcessChatMembers(params.Type, params.CreatorID, params.MemberIDs)
	if err != nil {
		return nil, err
	}

	var chat Chat
	txErr := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO chats (workspace_id, type, name, description, creator_id, member_ids)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, created_at, updated_at`,
			params.WorkspaceID, params.Type, name, params.Description, params.CreatorID, members,
		)
		chat = Chat{
			WorkspaceID: params.WorkspaceID, Type: params.Type, Name: name,
			Description: params.Description, CreatorID: params.CreatorID, MemberIDs: members,
		}
		if err := row.Scan(&chat.ID, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return fmt.Errorf("insert chat: %w", err)
		}

		for _, uid := range members {
			role := RoleMember
			if uid == params.CreatorID {
				role = RoleOwner
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO chat_members (chat_id, user_id, role) VALUES ($1, $2, $3)
				 ON CONFLICT (chat_id, user_id) DO NOTHING`,
				chat.ID, uid, role); err != nil {
				return fmt.Errorf("insert chat member: %w", err)
			}
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return &chat, nil
}

// GetByID returns the chat matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id int64) (*Chat, error) {
	c, err := scanChat(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM chats WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query chat by id: %w", err)
	}
	return c, nil
}

// Update sets name/description on a chat, only if actorID is its creator.
func (r *PGRepository) Update(ctx context.Context, id, actorID int64, params UpdateParams) (*Chat, error) {
	setClauses := []string{"updated_at = NOW()"}
	args := []any{}
	argN := 1

	if params.Name != nil {
		name, err := ValidateName(*params.Name)
		if err != nil {
			return nil, err
		}
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argN))
		args = append(args, name)
		argN++
	}
	if params.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", argN))
		args = append(args, *params.Description)
		argN++
	}
	if len(setClauses) == 1 {
		return r.GetByID(ctx, id)
	}

	query := fmt.Sprintf("UPDATE chats SET %s WHERE id = $%d AND creator_id = $%d",
		joinClauses(setClauses), argN, argN+1)
	args = append(args, id, actorID)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, r.notFoundOrNotCreator(ctx, id, actorID)
	}
	return r.GetByID(ctx, id)
}

func joinClauses(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += ", " + c
	}
	return out
}

// Delete removes a chat and its memberships, only if actorID is its creator.
func (r *PGRepository) Delete(ctx context.Context, id, actorID int64) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		// Memberships go first (chat_members references chats); a not-found or
		// not-creator result below rolls their removal back.
		if _, err := tx.Exec(ctx, `DELETE FROM chat_members WHERE chat_id = $1`, id); err != nil {
			return fmt.Errorf("delete chat members: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM chats WHERE id = $1 AND creator_id = $2`, id, actorID)
		if err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.notFoundOrNotCreator(ctx, id, actorID)
		}
		return nil
	})
}

// notFoundOrNotCreator distinguishes "no such chat" from "chat exists but
// belongs to someone else" after a zero-row-affected update or delete.
func (r *PGRepository) notFoundOrNotCreator(ctx context.Context, id, actorID int64) error {
	var actualCreator int64
	err := r.db.QueryRow(ctx, `SELECT creator_id FROM chats WHERE id = $1`, id).Scan(&actualCreator)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("check chat creator: %w", err)
	}
	if actualCreator != actorID {
		return ErrNotCreator
	}
	return ErrNotFound
}

// AddMembers reactivates or inserts chat_members rows for newMembers and
// merges them into the denormalized member_ids array, only if actorID is the
// chat's creator. Returns the chat's full member set after the change.
func (r *PGRepository) AddMembers(ctx context.Context, chatID, actorID int64, newMembers []int64) ([]int64, error) {
	if len(newMembers) == 0 {
		chat, err := r.GetByID(ctx, chatID)
		if err != nil {
			return nil, err
		}
		return chat.MemberIDs, nil
	}

	var memberIDs []int64
	txErr := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var creator int64
		if err := tx.QueryRow(ctx, `SELECT creator_id FROM chats WHERE id = $1 FOR UPDATE`, chatID).Scan(&creator); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock chat: %w", err)
		}
		if creator != actorID {
			return ErrNotCreator
		}

		for _, uid := range newMembers {
			if _, err := tx.Exec(ctx,
				`INSERT INTO chat_members (chat_id, user_id, role) VALUES ($1, $2, 'member')
				 ON CONFLICT (chat_id, user_id) DO UPDATE SET left_at = NULL`,
				chatID, uid); err != nil {
				return fmt.Errorf("insert chat member: %w", err)
			}
		}

		row := tx.QueryRow(ctx,
			`UPDATE chats SET member_ids = (
			   SELECT array_agg(DISTINCT e ORDER BY e) FROM unnest(member_ids || $1::bigint[]) AS e
			 ), updated_at = NOW()
			 WHERE id = $2
			 RETURNING member_ids`,
			newMembers, chatID)
		return row.Scan(&memberIDs)
	})
	if txErr != nil {
		return nil, txErr
	}
	return memberIDs, nil
}

// RemoveMembers soft-removes targets from a chat, only if actorID is the
// chat's creator. The creator can never be removed, and a group chat may not
// be dropped below MinGroupMembers distinct active members by the removal.
func (r *PGRepository) RemoveMembers(ctx context.Context, chatID, actorID int64, targets []int64) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var creator int64
		var chatType Type
		var memberIDs []int64
		err := tx.QueryRow(ctx,
			`SELECT creator_id, type, member_ids FROM chats WHERE id = $1 FOR UPDATE`, chatID,
		).Scan(&creator, &chatType, &memberIDs)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock chat: %w", err)
		}
		if creator != actorID {
			return ErrNotCreator
		}

		remaining := RemainingAfterRemoval(memberIDs, creator, targets)
		if chatType == TypeGroup && len(remaining) < MinGroupMembers {
			return ErrBelowMinimumMembers
		}

		effectiveTargets := make([]int64, 0, len(targets))
		for _, t := range targets {
			if t != creator {
				effectiveTargets = append(effectiveTargets, t)
			}
		}
		if len(effectiveTargets) == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx,
			`UPDATE chat_members SET left_at = NOW()
			 WHERE chat_id = $1 AND user_id = ANY($2) AND left_at IS NULL`,
			chatID, effectiveTargets); err != nil {
			return fmt.Errorf("mark chat members left: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE chats SET member_ids = (
			   SELECT array_agg(e) FROM unnest(member_ids) AS e WHERE NOT (e = ANY($1))
			 ), updated_at = NOW()
			 WHERE id = $2`,
			effectiveTargets, chatID); err != nil {
			return fmt.Errorf("update chat member_ids: %w", err)
		}
		return nil
	})
}

// TransferOwnership reassigns creatorID to toUserID, only for group chats,
// only if fromUserID is the current creator, and only if toUserID is a
// current active member.
func (r *PGRepository) TransferOwnership(ctx context.Context, chatID, fromUserID, toUserID int64) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var creator int64
		var chatType Type
		err := tx.QueryRow(ctx,
			`SELECT creator_id, type FROM chats WHERE id = $1 FOR UPDATE`, chatID,
		).Scan(&creator, &chatType)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock chat: %w", err)
		}
		if chatType != TypeGroup {
			return ErrTransferNotGroupChat
		}
		if creator != fromUserID {
			return ErrNotCreator
		}

		var isMember bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL)`,
			chatID, toUserID).Scan(&isMember); err != nil {
			return fmt.Errorf("check transfer target membership: %w", err)
		}
		if !isMember {
			return ErrTransferTargetNotMember
		}

		if _, err := tx.Exec(ctx,
			`UPDATE chats SET creator_id = $1, updated_at = NOW() WHERE id = $2`, toUserID, chatID); err != nil {
			return fmt.Errorf("transfer chat ownership: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE chat_members SET role = 'owner' WHERE chat_id = $1 AND user_id = $2`, chatID, toUserID); err != nil {
			return fmt.Errorf("promote new owner: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE chat_members SET role = 'member' WHERE chat_id = $1 AND user_id = $2`, chatID, fromUserID); err != nil {
			return fmt.Errorf("demote previous owner: %w", err)
		}
		return nil
	})
}

// ValidateChatAndMembership reports the caller's membership status for a
// chat without requiring a separate existence check first.
func (r *PGRepository) ValidateChatAndMembership(ctx context.Context, chatID, userID int64) (MembershipStatus, error) {
	var chatExists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM chats WHERE id = $1)`, chatID).Scan(&chatExists); err != nil {
		return "", fmt.Errorf("check chat existence: %w", err)
	}
	if !chatExists {
		return StatusChatNotFound, nil
	}

	var leftAt *time.Time
	row := r.db.QueryRow(ctx, `SELECT left_at FROM chat_members WHERE chat_id = $1 AND user_id = $2`, chatID, userID)
	if err := row.Scan(&leftAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StatusNotMember, nil
		}
		return "", fmt.Errorf("query chat membership: %w", err)
	}
	if leftAt != nil {
		return StatusUserLeftChat, nil
	}
	return StatusActiveMember, nil
}

// IsMember reports whether userID currently belongs to chatID, ignoring
// members who have left.
func (r *PGRepository) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL)`,
		chatID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check chat membership: %w", err)
	}
	return exists, nil
}

// ListMembers returns every membership row, including those who have left,
// for chatID.
func (r *PGRepository) ListMembers(ctx context.Context, chatID int64) ([]Member, error) {
	rows, err := r.db.Query(ctx,
		`SELECT chat_id, user_id, role, joined_at, left_at FROM chat_members WHERE chat_id = $1 ORDER BY joined_at`,
		chatID)
	if err != nil {
		return nil, fmt.Errorf("query chat members: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ChatID, &m.UserID, &m.Role, &m.JoinedAt, &m.LeftAt); err != nil {
			return nil, fmt.Errorf("scan chat member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListSidebarForUser returns every chat userID is currently an active member
// of, most recently updated first.
func (r *PGRepository) ListSidebarForUser(ctx context.Context, userID int64) ([]Chat, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM chats c
		 JOIN chat_members m ON m.chat_id = c.id
		 WHERE m.user_id = $1 AND m.left_at IS NULL
		 ORDER BY c.updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sidebar chats: %w", err)
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
