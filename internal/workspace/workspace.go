// Package workspace implements the workspace domain: a tenant boundary that
// scopes users and chats, with an owner and workspace-level caches.
package workspace

import (
	"context"
	"errors"
	"strings"
)

// Sentinel errors for the workspace package.
var (
	ErrNotFound   = errors.New("workspace not found")
	ErrNameLength = errors.New("workspace name must be between 1 and 128 characters")
	ErrNotOwner   = errors.New("only the workspace owner may perform this action")
)

// MaxNameLength is the maximum length of a workspace name.
const MaxNameLength = 128

// Workspace holds the fields read from the database.
type Workspace struct {
	ID      int64
	Name    string
	OwnerID int64
}

// CreateParams groups the inputs for creating a new workspace.
type CreateParams struct {
	Name    string
	OwnerID int64
}

// ValidateName checks that a workspace name is non-blank after trimming and
// at most MaxNameLength characters.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || len(trimmed) > MaxNameLength {
		return "", ErrNameLength
	}
	return trimmed, nil
}

// Repository defines the data-access contract for workspace operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (int64, error)
	GetByID(ctx context.Context, id int64) (*Workspace, error)
	TransferOwnership(ctx context.Context, workspaceID, fromUserID, toUserID int64) error

	// FindOrCreateByName resolves a workspace by name, creating an
	// ownerless one if none exists yet. Signup identifies a workspace by
	// name rather than id, so the first user to sign up against a given
	// name creates the tenant and every subsequent one joins it.
	FindOrCreateByName(ctx context.Context, name string) (*Workspace, error)
	// SetOwnerIfUnset assigns ownerID as the workspace's owner only if it
	// does not already have one, so the first registrant becomes owner.
	SetOwnerIfUnset(ctx context.Context, workspaceID, ownerID int64) error
}
