package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fechatter/fechatter/internal/config"
	"github.com/fechatter/fechatter/internal/user"
)

// TokenIssuer identifies this deployment in the "iss" claim of every access
// token it signs. Kept as a constant rather than a config field since it
// never varies across environments for a single Fechatter cluster.
const TokenIssuer = "fechatter"

// Service implements authentication business logic, keeping HTTP handlers
// thin and focused on request parsing / response formatting.
type Service struct {
	users   user.Repository
	refresh RefreshStore
	config  *config.Config
	log     zerolog.Logger
	// dummyHash is a precomputed Argon2id hash used to keep login timing
	// constant when a user is not found, preventing email enumeration via
	// response-time analysis.
	dummyHash string
}

// NewService creates a new authentication service. It returns an error if
// the Argon2id configuration is invalid, since password hashing is
// fundamental to every auth operation.
func NewService(users user.Repository, refresh RefreshStore, cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	dummy, err := HashPassword("fechatter-dummy-password",
		cfg.Argon2Memory, cfg.Argon2Iterations, cfg.Argon2Parallelism, cfg.Argon2SaltLength, cfg.Argon2KeyLength)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	return &Service{
		users:     users,
		refresh:   refresh,
		config:    cfg,
		log:       logger,
		dummyHash: dummy,
	}, nil
}

// RegisterRequest is the input for Service.Register.
type RegisterRequest struct {
	WorkspaceID int64
	Email       string
	Fullname    string
	Password    string
	AuthContext AuthContext
}

// LoginRequest is the input for Service.Login.
type LoginRequest struct {
	WorkspaceID int64
	Email       string
	Password    string
	AuthContext AuthContext
}

// AuthResult is the output for Register and Login.
type AuthResult struct {
	User         user.User
	AccessToken  string
	RefreshToken string
}

// TokenPair is the output for Refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

func identityFromUser(u user.User) UserIdentity {
	return UserIdentity{
		UserID:      u.ID,
		WorkspaceID: u.WorkspaceID,
		Email:       u.Email,
		Fullname:    u.Fullname,
		Status:      u.Status,
		CreatedAt:   u.CreatedAt,
	}
}

// Register validates inputs, creates the user, and returns auth tokens.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	email, _, err := ValidateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := ValidateFullname(req.Fullname); err != nil {
		return nil, err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(req.Password,
		s.config.Argon2Memory, s.config.Argon2Iterations, s.config.Argon2Parallelism,
		s.config.Argon2SaltLength, s.config.Argon2KeyLength)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	userID, err := s.users.Create(ctx, user.CreateParams{
		WorkspaceID:  req.WorkspaceID,
		Email:        email,
		Fullname:     req.Fullname,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, user.ErrAlreadyExists) {
			return nil, ErrEmailAlreadyTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	created, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load created user: %w", err)
	}

	return s.issueAuthResult(ctx, *created, req.AuthContext)
}

// Login validates credentials and returns auth tokens. It runs the
// password comparison against a dummy hash when the user does not exist, so
// that the response time does not reveal whether the email is registered.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	email, _, err := ValidateEmail(req.Email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	creds, err := s.users.GetByEmail(ctx, req.WorkspaceID, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			if _, verifyErr := VerifyPassword(req.Password, s.dummyHash); verifyErr != nil {
				s.log.Warn().Err(verifyErr).Msg("dummy password comparison failed")
			}
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user by email: %w", err)
	}

	match, err := VerifyPassword(req.Password, creds.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !match {
		return nil, ErrInvalidCredentials
	}

	if creds.Status == user.StatusSuspended {
		return nil, ErrAccountSuspended
	}

	if NeedsRehash(creds.PasswordHash,
		s.config.Argon2Memory, s.config.Argon2Iterations, s.config.Argon2Parallelism,
		s.config.Argon2SaltLength, s.config.Argon2KeyLength) {
		newHash, err := HashPassword(req.Password,
			s.config.Argon2Memory, s.config.Argon2Iterations, s.config.Argon2Parallelism,
			s.config.Argon2SaltLength, s.config.Argon2KeyLength)
		if err != nil {
			s.log.Warn().Err(err).Msg("rehash password failed")
		} else if err := s.users.UpdatePasswordHash(ctx, creds.ID, newHash); err != nil {
			s.log.Warn().Err(err).Msg("persist rehashed password failed")
		}
	}

	return s.issueAuthResult(ctx, creds.User, req.AuthContext)
}

// issueAuthResult mints an access token and a fresh refresh token for u.
func (s *Service) issueAuthResult(ctx context.Context, u user.User, authCtx AuthContext) (*AuthResult, error) {
	access, err := NewAccessToken(identityFromUser(u), s.config.JWTSecret, s.config.JWTAccessTTL, TokenIssuer)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	refresh, err := s.refresh.Issue(ctx, u.ID, s.config.RefreshTokenSlidingTTL, s.config.RefreshTokenAbsoluteTTL, authCtx)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	return &AuthResult{User: u, AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh rotates a refresh token and mints a new access token carrying the
// user's current claims, so that a status or fullname change takes effect on
// the next refresh without waiting for the old access token to expire.
func (s *Service) Refresh(ctx context.Context, refreshToken string, authCtx AuthContext) (*TokenPair, error) {
	newToken, userID, err := s.refresh.Rotate(ctx, refreshToken, s.config.RefreshTokenSlidingTTL, authCtx)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenReused) || errors.Is(err, ErrRefreshTokenNotFound) || errors.Is(err, ErrRefreshTokenExpired) {
			return nil, err
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	creds, err := s.users.GetCredentialsByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user for refresh: %w", err)
	}
	if creds.Status == user.StatusSuspended {
		return nil, ErrAccountSuspended
	}

	access, err := NewAccessToken(identityFromUser(creds.User), s.config.JWTSecret, s.config.JWTAccessTTL, TokenIssuer)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: newToken}, nil
}

// Logout revokes every active refresh token for userID, signing the user out
// of all devices.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	return s.refresh.RevokeAll(ctx, userID)
}
