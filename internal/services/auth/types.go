package auth

import (
	"errors"
	"time"
)

var ErrUnauthorized = errors.New("unauthorized")

const (
	RoleCustomer = "CUSTOMER"
	RoleStaff    = "STAFF"
	RoleOwner    = "OWNER"
)

type AccessClaims struct {
	UserID    int64
	Role      string
	ExpiresAt time.Time
}
