// Package auth verifies operators and gates privileged ledger operations on
// their role.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
)

// Authenticate checks a username and password against users. A stored
// plain-text password is upgraded to a bcrypt hash once it matched.
func Authenticate(ctx context.Context, users store.UserStore, username string, password string) (domain.Actor, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.Actor{}, ErrInvalidCredentials
	}

	user, err := users.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Actor{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.Actor{}, err
	}

	stored := user.Password
	if !isPasswordHash(stored) {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(password)) != 1 {
			return domain.Actor{}, ErrInvalidCredentials
		}
		if hashed, err := hashPassword(password); err == nil {
			_ = users.UpdateUserPassword(ctx, username, hashed)
		}
	} else if !verifyPassword(stored, password) {
		return domain.Actor{}, ErrInvalidCredentials
	}
	if !user.Active {
		return domain.Actor{}, ErrInactiveAccount
	}
	return domain.Actor{Username: username, Role: user.Role}, nil
}

// Register stores a new account with a hashed password.
func Register(ctx context.Context, users store.UserStore, username string, password string, role string) (domain.UserAccount, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if len(username) < 4 {
		return domain.UserAccount{}, fmt.Errorf("%w: username must be at least 4 characters", domain.ErrValidation)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserAccount{}, fmt.Errorf("%w: username must not contain spaces", domain.ErrValidation)
	}
	if len(password) < 6 {
		return domain.UserAccount{}, fmt.Errorf("%w: password must be at least 6 characters", domain.ErrValidation)
	}
	switch role {
	case "":
		role = domain.RoleCashier
	case domain.RoleCashier, domain.RoleManager, domain.RoleAdmin:
	default:
		return domain.UserAccount{}, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, role)
	}

	hash, err := hashPassword(password)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("failed to hash password: %w", err)
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  hash,
		Role:      role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := users.CreateUser(ctx, account); err != nil {
		return domain.UserAccount{}, err
	}
	return account, nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
