package jwtutil

import (
	"time"

	"github.com/golang-jwt/jwt/v4"

	"school-service/internal/model"
	"school-service/pkg/config"
)

var (
	signingKey []byte
	expiration time.Duration
)

// Initialize configures the signing key and token lifetime.
func Initialize(cfg *config.JWTConfig) {
	signingKey = []byte(cfg.SigningKey)
	expiration = time.Duration(cfg.ExpirationHours) * time.Hour
	if expiration == 0 {
		expiration = 24 * time.Hour
	}
}

// SessionClaims carries the authenticated identity. SchoolID is nil only for
// super_admin tokens. Admin capabilities are not embedded; the auth
// middleware loads them fresh on every request.
type SessionClaims struct {
	UserID   uint       `json:"user_id"`
	Email    string     `json:"email"`
	Role     model.Role `json:"role"`
	SchoolID *uint      `json:"school_id,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed session token for a user.
func GenerateToken(user *model.User) (string, error) {
	claims := SessionClaims{
		UserID:   user.ID,
		Email:    user.Email,
		Role:     user.Role,
		SchoolID: user.SchoolID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(signingKey)
}

// ValidateToken validates and parses a session token.
func ValidateToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return signingKey, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrSignatureInvalid
}
