package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/larderapp/larder/internal/common"
)

// Sessions resolves a bearer token to the account it belongs to. The sync
// engine never issues credentials itself; it only needs to know whose data
// a request touches.
type Sessions interface {
	UserID(ctx context.Context, token string) (string, error)
}

// Claims carries the registered claim set plus the account identifier.
type Claims struct {
	jwt.RegisteredClaims
	UserID string
}

// JWTSessions validates HS256 tokens signed with a shared secret.
type JWTSessions struct {
	secret   []byte
	validity time.Duration
}

func NewJWTSessions(secret []byte, validity time.Duration) *JWTSessions {
	return &JWTSessions{secret: secret, validity: validity}
}

// Issue signs a token for userID, valid for the configured duration.
func (s *JWTSessions) Issue(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.validity)),
		},
		UserID: userID,
	})
	return token.SignedString(s.secret)
}

func (s *JWTSessions) UserID(ctx context.Context, tokenString string) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, common.ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", common.ErrInvalidToken
	}

	if !token.Valid || claims.UserID == "" {
		return "", common.ErrInvalidToken
	}

	return claims.UserID, nil
}
