package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"resume-backend/internal/metadata"
)

const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenPair is the data of a login or refresh response.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// principalClaims carries the principal in an access token. Role is the
// role id; its capabilities are resolved per request so permission edits
// apply before the token expires.
type principalClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

// Issuer signs and verifies HS256 access tokens.
type Issuer struct {
	key []byte
	ttl time.Duration
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{key: []byte(secret), ttl: AccessTokenTTL}
}

// Sign issues an access token for p valid from now.
func (i *Issuer) Sign(p *metadata.Principal, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, principalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Email: p.Email,
		Role:  p.RoleID,
	})
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of raw and returns its principal.
func (i *Issuer) Verify(raw string) (*metadata.Principal, error) {
	var claims principalClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return i.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return &metadata.Principal{UserID: claims.Subject, Email: claims.Email, RoleID: claims.Role}, nil
}

// NewRefreshToken returns an opaque single-use refresh token.
func NewRefreshToken() string {
	return uuid.NewString()
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
