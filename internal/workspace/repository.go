package workspace

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `id, name, COALESCE(owner_id, 0)`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed workspace repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanWorkspace(row pgx.Row) (*Workspace, error) {
	var w Workspace
	if err := row.Scan(&w.ID, &w.Name, &w.OwnerID); err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}
	return &w, nil
}

// Create inserts a new workspace owned by params.OwnerID.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO workspaces (name, owner_id) VALUES ($1, $2) RETURNING id`,
		params.Name, params.OwnerID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert workspace: %w", err)
	}
	return id, nil
}

// GetByID returns the workspace matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id int64) (*Workspace, error) {
	w, err := scanWorkspace(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM workspaces WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query workspace by id: %w", err)
	}
	return w, nil
}

// FindOrCreateByName resolves a workspace by name, creating an ownerless
// one if none exists yet.
func (r *PGRepository) FindOrCreateByName(ctx context.Context, name string) (*Workspace, error) {
	w, err := scanWorkspace(r.db.QueryRow(ctx,
		`INSERT INTO workspaces (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET name = workspaces.name
		 RETURNING `+selectColumns,
		name,
	))
	if err != nil {
		return nil, fmt.Errorf("find or create workspace: %w", err)
	}
	return w, nil
}

// SetOwnerIfUnset assigns ownerID as the workspace's owner only if it does
// not already have one.
func (r *PGRepository) SetOwnerIfUnset(ctx context.Context, workspaceID, ownerID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE workspaces SET owner_id = $1 WHERE id = $2 AND owner_id IS NULL`,
		ownerID, workspaceID)
	if err != nil {
		return fmt.Errorf("set workspace owner: %w", err)
	}
	return nil
}

// TransferOwnership atomically reassigns ownership, only if fromUserID is
// the current owner.
func (r *PGRepository) TransferOwnership(ctx context.Context, workspaceID, fromUserID, toUserID int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE workspaces SET owner_id = $1 WHERE id = $2 AND owner_id = $3`,
		toUserID, workspaceID, fromUserID)
	if err != nil {
		return fmt.Errorf("transfer workspace ownership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, workspaceID); getErr != nil {
			return getErr
		}
		return ErrNotOwner
	}
	return nil
}
