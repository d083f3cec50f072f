package database

import "context"

type DatabaseService interface {
	CreateDatabase() error
	DoesDatabaseExist() bool
	Close() error

	// Reset removes every image and user record.
	Reset(ctx context.Context) error

	// SaveImage inserts the image or, when a record with the same name exists, replaces its owner.
	// Existing records keep their position in the listing order.
	SaveImage(ctx context.Context, image *Image) error
	// GetImageByName returns nil and no error when no record exists.
	GetImageByName(ctx context.Context, name string) (*Image, error)
	// GetImages returns at most limit records in insertion order, skipping the first offset.
	GetImages(ctx context.Context, offset, limit int) ([]*Image, error)
	CountImages(ctx context.Context) (int, error)
	DeleteImage(ctx context.Context, name string) error

	SaveUser(ctx context.Context, user *User) error
	// GetUserByUsername returns nil and no error when no user exists.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}
