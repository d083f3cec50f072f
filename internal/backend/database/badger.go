package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

const (
	imageKeyPrefix = "image/"
	userKeyPrefix  = "user/"
	imageSequence  = "sequence/image"
	inMemoryBadger = ":memory:"
)

// badgerImage is the stored value of an image key. Seq keeps insertion order,
// since badger iterates keys lexicographically.
type badgerImage struct {
	Name  string `json:"name"`
	Owner string `json:"owner,omitempty"`
	Seq   uint64 `json:"seq"`
}

// BadgerDatabase keeps metadata in an embedded badger key-value store.
type BadgerDatabase struct {
	db  *badger.DB
	seq *badger.Sequence
	dir string
}

// NewBadgerDatabase opens a badger store in the given directory, or an in-memory
// store when the connection string is ":memory:".
func NewBadgerDatabase(connectionString string) (DatabaseService, error) {
	opts := badger.DefaultOptions(connectionString)
	if connectionString == inMemoryBadger {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &BadgerDatabase{
		db:  db,
		dir: connectionString,
	}, nil
}

func (b *BadgerDatabase) CreateDatabase() error {
	if b.seq != nil {
		return nil
	}
	seq, err := b.db.GetSequence([]byte(imageSequence), 100)
	if err != nil {
		return fmt.Errorf("failed to create image sequence: %w", err)
	}
	b.seq = seq
	return nil
}

func (b *BadgerDatabase) DoesDatabaseExist() bool {
	return b.db != nil && !b.db.IsClosed()
}

func (b *BadgerDatabase) Close() error {
	if b.seq != nil {
		if err := b.seq.Release(); err != nil {
			return fmt.Errorf("failed to release image sequence: %w", err)
		}
		b.seq = nil
	}
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *BadgerDatabase) Reset(_ context.Context) error {
	if err := b.db.DropPrefix([]byte(imageKeyPrefix)); err != nil {
		return fmt.Errorf("failed to clear images: %w", err)
	}
	if err := b.db.DropPrefix([]byte(userKeyPrefix)); err != nil {
		return fmt.Errorf("failed to clear users: %w", err)
	}
	return nil
}

func (b *BadgerDatabase) SaveImage(_ context.Context, image *Image) error {
	if image == nil || image.Name == "" {
		return fmt.Errorf("image name cannot be empty")
	}
	if b.seq == nil {
		return fmt.Errorf("database schema not initialized")
	}

	// Allocated up front so the sequence lease never runs inside the update.
	next, err := b.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate sequence: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		key := []byte(imageKeyPrefix + image.Name)
		stored := badgerImage{Name: image.Name, Owner: image.Owner, Seq: next}

		existing, err := getJSON[badgerImage](txn, key)
		switch {
		case err == nil:
			stored.Seq = existing.Seq
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to marshal image: %w", err)
		}
		return txn.Set(key, data)
	})
}

func (b *BadgerDatabase) GetImageByName(_ context.Context, name string) (*Image, error) {
	var image *Image
	err := b.db.View(func(txn *badger.Txn) error {
		stored, err := getJSON[badgerImage](txn, []byte(imageKeyPrefix+name))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		image = &Image{Name: stored.Name, Owner: stored.Owner}
		return nil
	})
	return image, err
}

func (b *BadgerDatabase) GetImages(_ context.Context, offset, limit int) ([]*Image, error) {
	all, err := b.allImages()
	if err != nil {
		return nil, err
	}

	images := []*Image{}
	if offset >= len(all) || limit <= 0 {
		return images, nil
	}
	end := min(offset+limit, len(all))
	for _, stored := range all[offset:end] {
		images = append(images, &Image{Name: stored.Name, Owner: stored.Owner})
	}
	return images, nil
}

func (b *BadgerDatabase) CountImages(_ context.Context) (int, error) {
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // Only need keys
		opts.Prefix = []byte(imageKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (b *BadgerDatabase) DeleteImage(_ context.Context, name string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(imageKeyPrefix + name))
	})
}

func (b *BadgerDatabase) SaveUser(_ context.Context, user *User) error {
	if user == nil || user.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(userKeyPrefix+user.Username), data)
	})
}

func (b *BadgerDatabase) GetUserByUsername(_ context.Context, username string) (*User, error) {
	var user *User
	err := b.db.View(func(txn *badger.Txn) error {
		stored, err := getJSON[User](txn, []byte(userKeyPrefix+username))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		user = &stored
		return nil
	})
	return user, err
}

func (b *BadgerDatabase) allImages() ([]badgerImage, error) {
	var images []badgerImage
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(imageKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var stored badgerImage
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return err
			}
			images = append(images, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(images, func(i, j int) bool {
		return images[i].Seq < images[j].Seq
	})
	return images, nil
}

func getJSON[T any](txn *badger.Txn, key []byte) (T, error) {
	var out T
	item, err := txn.Get(key)
	if err != nil {
		return out, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &out)
	})
	return out, err
}
