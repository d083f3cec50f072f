package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	stagingPrefix  = ".upload-"
	stagingPattern = stagingPrefix + "*"
)

// ErrInvalidName is returned for names that would escape the flat upload root.
var ErrInvalidName = errors.New("invalid file name")

// LocalFilesystemBackend keeps one file per image directly under root.
type LocalFilesystemBackend struct {
	root string
}

func NewLocalFilesystemBackend(root string) (*LocalFilesystemBackend, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalFilesystemBackend{root: root}, nil
}

func (b *LocalFilesystemBackend) Root() string {
	return b.root
}

// ValidateName rejects names that are empty, refer to the directory itself, contain a
// separator or collide with the staging files of in-flight uploads.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") ||
		strings.HasPrefix(name, stagingPrefix) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (b *LocalFilesystemBackend) path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(b.root, name), nil
}

// Store copies data to a staging file and renames it over <root>/<name>, so readers
// never observe a partially written file. It returns the number of bytes written.
func (b *LocalFilesystemBackend) Store(name string, data io.Reader) (int64, error) {
	target, err := b.path(name)
	if err != nil {
		return 0, err
	}

	staging, err := os.CreateTemp(b.root, stagingPattern)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	stagingPath := staging.Name()
	discard := func() {
		_ = os.Remove(stagingPath)
	}

	size, err := io.Copy(staging, data)
	if err != nil {
		_ = staging.Close()
		discard()
		return 0, fmt.Errorf("failed to write data: %w", err)
	}
	if err := staging.Close(); err != nil {
		discard()
		return 0, fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Chmod(stagingPath, 0644); err != nil {
		discard()
		return 0, fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(stagingPath, target); err != nil {
		discard()
		return 0, fmt.Errorf("failed to move file into place: %w", err)
	}
	return size, nil
}

// Retrieve opens <root>/<name>. Missing files yield an error wrapping fs.ErrNotExist.
func (b *LocalFilesystemBackend) Retrieve(name string) (io.ReadCloser, int64, error) {
	target, err := b.path(name)
	if err != nil {
		return nil, 0, err
	}

	file, err := os.Open(filepath.Clean(target))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("file not found: %s: %w", name, fs.ErrNotExist)
		}
		return nil, 0, fmt.Errorf("failed to open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, 0, fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		_ = file.Close()
		return nil, 0, fmt.Errorf("not a regular file: %s: %w", name, fs.ErrNotExist)
	}
	return file, info.Size(), nil
}

// Remove deletes <root>/<name>; a file that is already gone is not an error.
func (b *LocalFilesystemBackend) Remove(name string) error {
	target, err := b.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Clean(target)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// Reset deletes the root recursively and recreates it empty.
func (b *LocalFilesystemBackend) Reset() error {
	if err := os.RemoveAll(b.root); err != nil {
		return fmt.Errorf("failed to remove storage directory: %w", err)
	}
	if err := os.MkdirAll(b.root, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	return nil
}
