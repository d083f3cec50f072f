package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jo-hoe/imagestore/internal/backend/database"
	"golang.org/x/crypto/bcrypt"
)

type UserService struct {
	database database.DatabaseService
}

func NewUserService(databaseService database.DatabaseService) *UserService {
	return &UserService{database: databaseService}
}

// CreateUser stores the user with a bcrypt hash of the password, replacing any user with the same name.
func (service *UserService) CreateUser(ctx context.Context, username, password string, roles ...string) (*database.User, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password for %s: %w", username, err)
	}
	user := &database.User{
		Username:     username,
		PasswordHash: string(hash),
		Roles:        roles,
	}
	if err := service.database.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return user, nil
}

// Authenticate checks the credentials and returns the matching requester. Unknown users and
// wrong passwords both report ok=false without an error.
func (service *UserService) Authenticate(ctx context.Context, username, password string) (Requester, bool, error) {
	user, err := service.database.GetUserByUsername(ctx, username)
	if err != nil {
		return Requester{}, false, fmt.Errorf("%w: failed to look up user %s: %w", ErrIOFailure, username, err)
	}
	if user == nil {
		return Requester{}, false, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return Requester{}, false, nil
		}
		return Requester{}, false, fmt.Errorf("failed to verify password for %s: %w", username, err)
	}
	return Requester{Username: user.Username, Roles: user.Roles}, true, nil
}
