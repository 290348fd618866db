package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/fechatter/fechatter/internal/postgres"
)

// AuthContext is the request-level context a refresh token is bound to at
// issuance, compared against the context presenting it on refresh. A field
// left empty at either end is never compared.
type AuthContext struct {
	UserAgent string
	IP        string
}

func generateRefreshTokenValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// refreshTokenState is the outcome of evaluating a refresh token row against
// the current time, independent of how the row was fetched. Kept separate
// from the database round trip so the decision logic is unit-testable.
type refreshTokenState int

const (
	refreshTokenValid refreshTokenState = iota
	refreshTokenReused
	refreshTokenExpired
)

func evaluateRefreshToken(now time.Time, revoked bool, expiresAt, absoluteExpiresAt time.Time) refreshTokenState {
	if revoked {
		return refreshTokenReused
	}
	if now.After(expiresAt) || now.After(absoluteExpiresAt) {
		return refreshTokenExpired
	}
	return refreshTokenValid
}

// nextRefreshExpiry computes the sliding-window expiry for a refresh token
// being rotated now, capped at its absolute (from-issuance) expiry.
func nextRefreshExpiry(now time.Time, slidingTTL time.Duration, absoluteExpiresAt time.Time) time.Time {
	next := now.Add(slidingTTL)
	if next.After(absoluteExpiresAt) {
		return absoluteExpiresAt
	}
	return next
}

// IssueRefreshToken creates and persists a new refresh token for userID,
// returning the opaque token value given to the client. Only its hash is
// stored. authCtx is recorded alongside the token so a later refresh can be
// compared against it.
func IssueRefreshToken(ctx context.Context, pool *pgxpool.Pool, userID int64, slidingTTL, absoluteTTL time.Duration, authCtx AuthContext) (string, error) {
	token, err := generateRefreshTokenValue()
	if err != nil {
		return "", err
	}

	now := time.Now()
	_, err = pool.Exec(ctx,
		`INSERT INTO refresh_tokens (user_id, token_hash, issued_at, expires_at, absolute_expires_at, revoked, user_agent, ip)
		 VALUES ($1, $2, $3, $4, $5, false, $6, $7)`,
		userID, hashRefreshToken(token), now, now.Add(slidingTTL), now.Add(absoluteTTL),
		nullIfEmpty(authCtx.UserAgent), nullIfEmpty(authCtx.IP),
	)
	if err != nil {
		return "", fmt.Errorf("issue refresh token: %w", err)
	}

	return token, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// authContextMismatch reports whether the auth context presented on refresh
// disagrees with the one recorded at issuance. A stored field left empty
// never counts as a mismatch: the comparison is opt-in per field.
func authContextMismatch(stored, presented AuthContext) bool {
	if stored.UserAgent != "" && presented.UserAgent != "" && stored.UserAgent != presented.UserAgent {
		return true
	}
	if stored.IP != "" && presented.IP != "" && stored.IP != presented.IP {
		return true
	}
	return false
}

// RotateRefreshToken validates oldToken under a row lock and, on success,
// revokes it and issues a replacement in the same transaction. Presenting an
// already-rotated or revoked token revokes the user's entire active token
// family, since reuse indicates the token was stolen. A mismatch between the
// auth context recorded at issuance and the one presented now is logged but,
// per the permissive policy, never blocks the rotation.
func RotateRefreshToken(ctx context.Context, pool *pgxpool.Pool, oldToken string, slidingTTL time.Duration, authCtx AuthContext, logger zerolog.Logger) (newToken string, userID int64, err error) {
	var reused bool
	err = postgres.WithTx(ctx, pool, func(tx pgx.Tx) error {
		hash := hashRefreshToken(oldToken)

		var (
			id                int64
			uid               int64
			expiresAt         time.Time
			absoluteExpiresAt time.Time
			revoked           bool
			storedUserAgent   *string
			storedIP          *string
		)
		row := tx.QueryRow(ctx,
			`SELECT id, user_id, expires_at, absolute_expires_at, revoked, user_agent, ip
			 FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE`, hash)
		if scanErr := row.Scan(&id, &uid, &expiresAt, &absoluteExpiresAt, &revoked, &storedUserAgent, &storedIP); scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return ErrRefreshTokenNotFound
			}
			return fmt.Errorf("lookup refresh token: %w", scanErr)
		}

		now := time.Now()
		switch evaluateRefreshToken(now, revoked, expiresAt, absoluteExpiresAt) {
		case refreshTokenReused:
			if _, revokeErr := tx.Exec(ctx,
				`UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND revoked = false`, uid,
			); revokeErr != nil {
				return fmt.Errorf("revoke token family: %w", revokeErr)
			}
			// Commit the family revocation; the reuse error is returned after
			// the transaction so WithTx does not roll it back.
			reused = true
			return nil
		case refreshTokenExpired:
			return ErrRefreshTokenExpired
		}

		stored := AuthContext{}
		if storedUserAgent != nil {
			stored.UserAgent = *storedUserAgent
		}
		if storedIP != nil {
			stored.IP = *storedIP
		}
		if authContextMismatch(stored, authCtx) {
			logger.Warn().Int64("user_id", uid).Msg("refresh token auth context mismatch, allowing under permissive policy")
		}

		newExpiresAt := nextRefreshExpiry(now, slidingTTL, absoluteExpiresAt)

		newTok, genErr := generateRefreshTokenValue()
		if genErr != nil {
			return genErr
		}
		newHash := hashRefreshToken(newTok)

		var newID int64
		insertRow := tx.QueryRow(ctx,
			`INSERT INTO refresh_tokens (user_id, token_hash, issued_at, expires_at, absolute_expires_at, revoked, user_agent, ip)
			 VALUES ($1, $2, $3, $4, $5, false, $6, $7) RETURNING id`,
			uid, newHash, now, newExpiresAt, absoluteExpiresAt, nullIfEmpty(authCtx.UserAgent), nullIfEmpty(authCtx.IP),
		)
		if scanErr := insertRow.Scan(&newID); scanErr != nil {
			return fmt.Errorf("insert replacement refresh token: %w", scanErr)
		}

		if _, updErr := tx.Exec(ctx,
			`UPDATE refresh_tokens SET revoked = true, replaced_by = $1 WHERE id = $2`,
			newID, id,
		); updErr != nil {
			return fmt.Errorf("revoke rotated refresh token: %w", updErr)
		}

		newToken = newTok
		userID = uid
		return nil
	})
	if err == nil && reused {
		return "", 0, ErrRefreshTokenReused
	}
	return newToken, userID, err
}

// RevokeAllRefreshTokens revokes every active refresh token for userID, e.g.
// on password change or explicit logout from all devices.
func RevokeAllRefreshTokens(ctx context.Context, pool *pgxpool.Pool, userID int64) error {
	if _, err := pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND revoked = false`, userID,
	); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return nil
}

// RefreshStore is the refresh-token lifecycle Service depends on. Defining it
// as an interface lets tests substitute an in-memory fake instead of a real
// database connection.
type RefreshStore interface {
	Issue(ctx context.Context, userID int64, slidingTTL, absoluteTTL time.Duration, authCtx AuthContext) (string, error)
	Rotate(ctx context.Context, oldToken string, slidingTTL time.Duration, authCtx AuthContext) (newToken string, userID int64, err error)
	RevokeAll(ctx context.Context, userID int64) error
}

// PGRefreshStore implements RefreshStore against PostgreSQL.
type PGRefreshStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPGRefreshStore creates a PostgreSQL-backed refresh token store.
func NewPGRefreshStore(pool *pgxpool.Pool, logger zerolog.Logger) *PGRefreshStore {
	return &PGRefreshStore{pool: pool, log: logger.With().Str("component", "auth.refresh_store").Logger()}
}

func (s *PGRefreshStore) Issue(ctx context.Context, userID int64, slidingTTL, absoluteTTL time.Duration, authCtx AuthContext) (string, error) {
	return IssueRefreshToken(ctx, s.pool, userID, slidingTTL, absoluteTTL, authCtx)
}

func (s *PGRefreshStore) Rotate(ctx context.Context, oldToken string, slidingTTL time.Duration, authCtx AuthContext) (string, int64, error) {
	return RotateRefreshToken(ctx, s.pool, oldToken, slidingTTL, authCtx, s.log)
}

func (s *PGRefreshStore) RevokeAll(ctx context.Context, userID int64) error {
	return RevokeAllRefreshTokens(ctx, s.pool, userID)
}
