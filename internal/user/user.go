package user

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the user package.
var (
	ErrNotFound      = errors.New("user not found")
	ErrAlreadyExists = errors.New("email already registered in this workspace")
)

// Status values a user account can be in. Suspended users keep their row and
// workspace membership but fail authentication.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

// User holds the core identity fields read from the database.
type User struct {
	ID          int64
	WorkspaceID int64
	Email       string
	Fullname    string
	Status      string
	CreatedAt   time.Time
}

// Credentials extends User with the password hash. Only repository methods
// that serve the authentication path return this type; all other read
// methods return *User to prevent hash leakage at the type level.
type Credentials struct {
	User
	PasswordHash string
}

// CreateParams groups the inputs for creating a new user within a workspace.
type CreateParams struct {
	WorkspaceID  int64
	Email        string
	Fullname     string
	PasswordHash string
}

// UpdateParams groups the optional fields for updating a user profile. A nil
// field leaves the corresponding column untouched.
type UpdateParams struct {
	Fullname *string
	Status   *string
}

// Repository defines the data-access contract for user operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (int64, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, workspaceID int64, email string) (*Credentials, error)
	GetCredentialsByID(ctx context.Context, id int64) (*Credentials, error)
	UpdatePasswordHash(ctx context.Context, userID int64, hash string) error
	Update(ctx context.Context, id int64, params UpdateParams) (*User, error)
	ListByWorkspace(ctx context.Context, workspaceID int64) ([]User, error)
}
