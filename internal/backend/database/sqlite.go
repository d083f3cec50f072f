package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLDatabase stores image and user metadata in a SQL database reached through database/sql.
type SQLDatabase struct {
	db               *sql.DB
	dialect          dialect
	connectionString string
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	db, err := sql.Open(sqliteDialect.driver, connectionString)
	if err != nil {
		return nil, err
	}
	// Every connection to ":memory:" opens a separate database, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	return &SQLDatabase{
		db:               db,
		dialect:          sqliteDialect,
		connectionString: connectionString,
	}, nil
}

func (s *SQLDatabase) CreateDatabase() error {
	for _, statement := range s.dialect.schema {
		if _, err := s.db.Exec(statement); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLDatabase) DoesDatabaseExist() bool {
	// The database file is created on connect, so a successful ping is enough.
	err := s.db.Ping()
	return err == nil
}

func (s *SQLDatabase) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, table := range []string{"images", "users"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("failed to rollback transaction after error %v: %w", err, rbErr)
			}
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (s *SQLDatabase) SaveImage(ctx context.Context, image *Image) error {
	if image == nil || image.Name == "" {
		return fmt.Errorf("image name cannot be empty")
	}
	owner := sql.NullString{String: image.Owner, Valid: image.Owner != ""}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertImage, image.Name, owner); err != nil {
		return fmt.Errorf("failed to upsert image %s: %w", image.Name, err)
	}
	return nil
}

func (s *SQLDatabase) GetImageByName(ctx context.Context, name string) (*Image, error) {
	row := s.db.QueryRowContext(ctx, "SELECT name, owner FROM images WHERE name = ?", name)
	var (
		image Image
		owner sql.NullString
	)
	if err := row.Scan(&image.Name, &owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	image.Owner = owner.String
	return &image, nil
}

func (s *SQLDatabase) GetImages(ctx context.Context, offset, limit int) ([]*Image, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, owner FROM images ORDER BY id LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as the scan result is already decided
	}()

	images := []*Image{}
	for rows.Next() {
		var (
			image Image
			owner sql.NullString
		)
		if err := rows.Scan(&image.Name, &owner); err != nil {
			return nil, err
		}
		image.Owner = owner.String
		images = append(images, &image)
	}
	return images, rows.Err()
}

func (s *SQLDatabase) CountImages(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM images").Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *SQLDatabase) DeleteImage(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM images WHERE name = ?", name)
	return err
}

func (s *SQLDatabase) SaveUser(ctx context.Context, user *User) error {
	if user == nil || user.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	_, err := s.db.ExecContext(ctx, s.dialect.upsertUser, user.Username, user.PasswordHash, joinRoles(user.Roles))
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", user.Username, err)
	}
	return nil
}

func (s *SQLDatabase) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT username, password_hash, roles FROM users WHERE username = ?", username)
	var (
		user  User
		roles string
	)
	if err := row.Scan(&user.Username, &user.PasswordHash, &roles); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.Roles = splitRoles(roles)
	return &user, nil
}
