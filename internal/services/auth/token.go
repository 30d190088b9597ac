package auth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type TokenParser struct {
	secret  []byte
	options []jwt.ParserOption
}

type bearerClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func NewTokenParser(secret, issuer string, leeway time.Duration) *TokenParser {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
	}
	if issuer = strings.TrimSpace(issuer); issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	if leeway > 0 {
		options = append(options, jwt.WithLeeway(leeway))
	}

	return &TokenParser{
		secret:  []byte(secret),
		options: options,
	}
}

func (p *TokenParser) Parse(raw string) (AccessClaims, error) {
	if len(p.secret) == 0 || strings.TrimSpace(raw) == "" {
		return AccessClaims{}, ErrUnauthorized
	}

	claims := &bearerClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, p.key, p.options...); err != nil {
		return AccessClaims{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	accountID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || accountID <= 0 {
		return AccessClaims{}, fmt.Errorf("%w: subject %q is not an account id", ErrUnauthorized, claims.Subject)
	}

	return AccessClaims{
		UserID:    accountID,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (p *TokenParser) key(_ *jwt.Token) (interface{}, error) {
	return p.secret, nil
}
