package auth

import (
	"context"
	"strings"
)

type Service struct {
	parser *TokenParser
}

func NewService(parser *TokenParser) *Service {
	return &Service{parser: parser}
}

func (s *Service) ValidateAccessToken(_ context.Context, accessToken string) (AccessClaims, error) {
	if s == nil || s.parser == nil {
		return AccessClaims{}, ErrUnauthorized
	}
	claims, err := s.parser.Parse(accessToken)
	if err != nil {
		return AccessClaims{}, err
	}
	claims.Role = strings.ToUpper(strings.TrimSpace(claims.Role))
	if claims.Role == "" {
		claims.Role = RoleCustomer
	}
	return claims, nil
}
