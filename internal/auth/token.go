package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/models"
)

const issuer = "loan-orchestrator"

// Claims carries the caller identity inside a bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Role models.Role `json:"role"`
}

type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for user and returns it with its expiry.
func (i *TokenIssuer) Issue(user *models.User) (string, time.Time, error) {
	now := i.now()
	expires := now.Add(i.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Role: user.Role,
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, errors.NewInternalError(err)
	}
	return signed, expires, nil
}

// Parse validates a token and returns the actor it names.
func (i *TokenIssuer) Parse(tokenString string) (models.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(i.now))
	if err != nil {
		return models.Actor{}, errors.NewAuthenticationError(err.Error())
	}
	if !token.Valid || claims.Subject == "" || !claims.Role.Valid() {
		return models.Actor{}, errors.NewAuthenticationError("invalid token claims")
	}
	return models.Actor{UserID: claims.Subject, Role: claims.Role}, nil
}
