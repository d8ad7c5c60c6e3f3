// Package identity issues and verifies the JWTs that authenticate console
// users against the ledger API. Node authentication uses API keys and lives
// in the nodes package; this package only covers human sessions.
package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// UserTokenClaims are the JWT claims for a console session token.
type UserTokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Type   string `json:"type"` // "user" or "oauth-state"
}

// UserTokenIssuer issues and verifies user session JWTs with an HMAC secret.
type UserTokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewUserTokenIssuer creates a UserTokenIssuer.
//
//	issuerURL — the "iss" claim value; matches the server's base URL.
//	ttl       — token lifetime (default: 24 hours).
func NewUserTokenIssuer(secret []byte, issuerURL string, ttl time.Duration) *UserTokenIssuer {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &UserTokenIssuer{secret: secret, issuer: issuerURL, ttl: ttl}
}

// Issue creates a signed session token carrying the user's role.
func (u *UserTokenIssuer) Issue(userID, email, role string) (string, error) {
	now := time.Now().UTC()
	claims := UserTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    u.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(u.ttl)),
			ID:        uuid.New().String(),
		},
		UserID: userID,
		Email:  email,
		Role:   role,
		Type:   "user",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(u.secret)
	if err != nil {
		return "", fmt.Errorf("sign user token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a user session token, returning its claims.
func (u *UserTokenIssuer) Verify(tokenStr string) (*UserTokenClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&UserTokenClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return u.secret, nil
		},
		jwt.WithIssuer(u.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify user token: %w", err)
	}
	claims, ok := token.Claims.(*UserTokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid user token claims")
	}
	if claims.Type != "user" {
		return nil, fmt.Errorf("not a user session token")
	}
	return claims, nil
}

// IssueOperatorToken creates a signed operator token not backed by a user
// account. It is issued only in exchange for the static admin secret, for
// standalone deployments that run without a user database.
func (u *UserTokenIssuer) IssueOperatorToken(ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = 8 * time.Hour
	}
	now := time.Now().UTC()
	claims := UserTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    u.issuer,
			Subject:   "operator",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		UserID: "operator",
		Role:   "operator",
		Type:   "user",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(u.secret)
	if err != nil {
		return "", fmt.Errorf("sign operator token: %w", err)
	}
	return signed, nil
}

// IssueOAuthState creates a short-lived JWT used as the OAuth state parameter.
// The provider name is embedded in the token so the callback can verify it.
func (u *UserTokenIssuer) IssueOAuthState(provider string) (string, error) {
	now := time.Now().UTC()
	claims := UserTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    u.issuer,
			Subject:   "oauth-state",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
			ID:        uuid.New().String(),
		},
		UserID: provider, // encode provider in UserID field
		Type:   "oauth-state",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(u.secret)
	if err != nil {
		return "", fmt.Errorf("sign oauth state: %w", err)
	}
	return signed, nil
}

// VerifyOAuthState validates an OAuth state JWT and returns the embedded provider.
func (u *UserTokenIssuer) VerifyOAuthState(tokenStr string) (provider string, err error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&UserTokenClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return u.secret, nil
		},
		jwt.WithIssuer(u.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("invalid oauth state: %w", err)
	}
	claims, ok := token.Claims.(*UserTokenClaims)
	if !ok || claims.Type != "oauth-state" {
		return "", fmt.Errorf("not an oauth state token")
	}
	return claims.UserID, nil
}
