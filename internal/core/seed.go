package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jo-hoe/imagestore/internal/backend/database"
)

type seedUser struct {
	username string
	password string
	roles    []string
}

type seedImage struct {
	name    string
	content string
	owner   string
}

var (
	seedUsers = []seedUser{
		{username: "greg", password: "turnquist", roles: []string{RoleAdmin, RoleUser}},
		{username: "rob", password: "winch", roles: []string{RoleUser}},
	}
	seedImages = []seedImage{
		{name: "test", content: "Test file", owner: "greg"},
		{name: "test2", content: "Test file2", owner: "greg"},
		{name: "test3", content: "Test file3", owner: "rob"},
	}
)

// Seed wipes the upload root and the metadata store, then loads the demo users and
// placeholder images. No notifications are published.
func (service *CoreService) Seed(ctx context.Context) error {
	if err := service.storage.Reset(); err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := service.databaseService.Reset(ctx); err != nil {
		return fmt.Errorf("%w: failed to reset database: %w", ErrIOFailure, err)
	}

	for _, u := range seedUsers {
		if _, err := service.users.CreateUser(ctx, u.username, u.password, u.roles...); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", u.username, err)
		}
	}

	for _, img := range seedImages {
		if _, err := service.storage.Store(img.name, strings.NewReader(img.content)); err != nil {
			return fmt.Errorf("%w: failed to seed file %s: %w", ErrIOFailure, img.name, err)
		}
		if err := service.databaseService.SaveImage(ctx, &database.Image{Name: img.name, Owner: img.owner}); err != nil {
			return fmt.Errorf("%w: failed to seed record %s: %w", ErrIOFailure, img.name, err)
		}
	}

	slog.Info("seeded demo data", "users", len(seedUsers), "images", len(seedImages), "upload_root", service.storage.Root())
	return nil
}
