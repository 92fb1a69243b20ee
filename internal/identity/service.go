// Package identity implements signup and login. The account's display name is
// also its password: only a bcrypt hash of the name is kept for verification.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"pinboard/api/internal/store"
)

var (
	// ErrConflict signals a duplicate name or email.
	ErrConflict = errors.New("name or email already taken")
	// ErrNotFound signals an unknown email.
	ErrNotFound = errors.New("user not found")
	// ErrInvalidCredentials signals a failed hash comparison.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrMissingFields signals blank required input.
	ErrMissingFields = errors.New("name and email are required")
)

// UserStore defines the storage interface for identity operations.
type UserStore interface {
	CreateUser(ctx context.Context, name, email, nameHash string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID int64) (store.User, error)
	UpdateUser(ctx context.Context, user store.User) (store.User, error)
}

type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// Register creates a user, storing bcrypt(name) as the credential.
func (s *Service) Register(ctx context.Context, name, email string) (store.User, error) {
	if name == "" || email == "" {
		return store.User{}, ErrMissingFields
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(name), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash name: %w", err)
	}

	user, err := s.store.CreateUser(ctx, name, email, string(hash))
	if err != nil {
		if store.IsUniqueViolation(err) {
			return store.User{}, ErrConflict
		}
		return store.User{}, err
	}
	return user, nil
}

// Authenticate verifies (email, name) against the stored hash. An unknown
// email is NotFound; a known email with the wrong name is InvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, name string) (store.User, error) {
	if email == "" || name == "" {
		return store.User{}, ErrMissingFields
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, ErrNotFound
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.NameHash), []byte(name)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// UpdateProfile applies a partial update. A name change re-hashes the
// credential, since the name is the password.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, newName, newEmail *string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, ErrNotFound
		}
		return store.User{}, fmt.Errorf("load user: %w", err)
	}

	if newName != nil {
		if *newName == "" {
			return store.User{}, ErrMissingFields
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*newName), bcrypt.DefaultCost)
		if err != nil {
			return store.User{}, fmt.Errorf("hash name: %w", err)
		}
		user.Name = *newName
		user.NameHash = string(hash)
	}
	if newEmail != nil {
		if *newEmail == "" {
			return store.User{}, ErrMissingFields
		}
		user.Email = *newEmail
	}

	updated, err := s.store.UpdateUser(ctx, user)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return store.User{}, ErrConflict
		}
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, ErrNotFound
		}
		return store.User{}, err
	}
	return updated, nil
}
