package user

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/fechatter/fechatter/internal/postgres"
)

// selectColumns lists the columns returned by queries that produce a *User.
// Every method that scans into a User must select these columns in this
// exact order.
const selectColumns = `id, workspace_id, email, fullname, status, created_at`

// selectCredentialsColumns lists the columns returned by queries that
// produce a *Credentials. The order must match scanCredentials.
const selectCredentialsColumns = `id, workspace_id, email, password_hash, fullname, status, created_at`

// scanUser scans a single row into a *User. The row must contain the columns
// listed in selectColumns.
func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.WorkspaceID, &u.Email, &u.Fullname, &u.Status, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// scanCredentials scans a single row into a *Credentials. The row must
// contain the columns listed in selectCredentialsColumns.
func scanCredentials(row pgx.Row) (*Credentials, error) {
	var c Credentials
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.Email, &c.PasswordHash, &c.Fullname, &c.Status, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan credentials: %w", err)
	}
	return &c, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed user repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new user scoped to a workspace.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (int64, error) {
	var userID int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (workspace_id, email, fullname, password_hash, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		params.WorkspaceID, params.Email, params.Fullname, params.PasswordHash, StatusActive,
	).Scan(&userID)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return 0, ErrAlreadyExists
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return userID, nil
}

// GetByID returns the user matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by id: %w", err)
	}
	return u, nil
}

// GetByEmail returns the user with credentials matching the given email
// address within a workspace. Email uniqueness is scoped per workspace, not
// global, so the same address may hold separate accounts in two workspaces.
func (r *PGRepository) GetByEmail(ctx context.Context, workspaceID int64, email string) (*Credentials, error) {
	c, err := scanCredentials(r.db.QueryRow(ctx,
		`SELECT `+selectCredentialsColumns+` FROM users WHERE workspace_id = $1 AND email = $2`,
		workspaceID, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by email: %w", err)
	}
	return c, nil
}

// GetCredentialsByID returns the user with credentials matching the given
// ID, used during refresh-token rotation to re-issue an access token with
// fresh claims.
func (r *PGRepository) GetCredentialsByID(ctx context.Context, id int64) (*Credentials, error) {
	c, err := scanCredentials(r.db.QueryRow(ctx,
		`SELECT `+selectCredentialsColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query credentials by id: %w", err)
	}
	return c, nil
}

// UpdatePasswordHash updates the stored password hash for a user, used for
// lazy hash rotation when Argon2 parameters change.
func (r *PGRepository) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, userID)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return nil
}

// Update applies the non-nil fields in params to the user row and returns
// the updated user. Returns ErrNotFound if no row matches the given ID.
func (r *PGRepository) Update(ctx context.Context, id int64, params UpdateParams) (*User, error) {
	var setClauses []string
	var args []any

	if params.Fullname != nil {
		args = append(args, *params.Fullname)
		setClauses = append(setClauses, "fullname = $"+strconv.Itoa(len(args)))
	}
	if params.Status != nil {
		args = append(args, *params.Status)
		setClauses = append(setClauses, "status = $"+strconv.Itoa(len(args)))
	}

	// No fields to update. Return the current row without issuing an UPDATE
	// so the database trigger does not bump updated_at.
	if len(setClauses) == 0 {
		return r.GetByID(ctx, id)
	}

	args = append(args, id)
	query := "UPDATE users SET " + strings.Join(setClauses, ", ") +
		" WHERE id = $" + strconv.Itoa(len(args)) +
		" RETURNING " + selectColumns

	u, err := scanUser(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

// ListByWorkspace returns every user belonging to a workspace, ordered by
// creation time. Used to populate workspace member pickers and chat creation
// flows.
func (r *PGRepository) ListByWorkspace(ctx context.Context, workspaceID int64) ([]User, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM users WHERE workspace_id = $1 ORDER BY created_at ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("query users by workspace: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
