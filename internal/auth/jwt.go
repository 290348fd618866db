package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims holds the JWT claims for an access token: the authenticated
// user's identity and workspace membership, denormalized onto the token so
// handlers can authorize requests without a database round trip.
type AccessClaims struct {
	UserID      int64     `json:"user_id"`
	WorkspaceID int64     `json:"workspace_id"`
	Email       string    `json:"email"`
	Fullname    string    `json:"fullname"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	jwt.RegisteredClaims
}

// UserIdentity is the subset of user state embedded into an access token.
type UserIdentity struct {
	UserID      int64
	WorkspaceID int64
	Email       string
	Fullname    string
	Status      string
	CreatedAt   time.Time
}

// NewAccessToken creates a signed JWT access token for the given user.
func NewAccessToken(u UserIdentity, secret string, ttl time.Duration, issuer string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("JWT secret must not be empty")
	}
	if issuer == "" {
		return "", fmt.Errorf("JWT issuer must not be empty")
	}

	now := time.Now()
	claims := AccessClaims{
		UserID:      u.UserID,
		WorkspaceID: u.WorkspaceID,
		Email:       u.Email,
		Fullname:    u.Fullname,
		Status:      u.Status,
		CreatedAt:   u.CreatedAt,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.UserID, 10),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	return signed, nil
}

// ValidateAccessToken parses and validates a JWT access token string,
// enforcing HMAC signing method and issuer.
func ValidateAccessToken(tokenStr, secret, issuer string) (*AccessClaims, error) {
	if issuer == "" {
		return nil, fmt.Errorf("JWT issuer must not be empty")
	}

	claims := &AccessClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}
