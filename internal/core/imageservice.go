package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/jo-hoe/imagestore/internal/backend/database"
	"github.com/jo-hoe/imagestore/internal/backend/notification"
	"github.com/jo-hoe/imagestore/internal/backend/storage"
	"github.com/jo-hoe/imagestore/internal/metrics"
)

// Upload is a file received from a client.
type Upload struct {
	Filename string
	Content  io.Reader
}

// Page is one window of the image listing.
type Page struct {
	Images      []*database.Image `json:"content"`
	Page        int               `json:"page"`
	Size        int               `json:"size"`
	Total       int               `json:"totalElements"`
	HasPrevious bool              `json:"hasPrevious"`
	HasNext     bool              `json:"hasNext"`
}

// ImageService owns the mapping between image names, their bytes under the upload root
// and their metadata records. No other component touches the upload root.
type ImageService struct {
	database  database.DatabaseService
	storage   *storage.LocalFilesystemBackend
	publisher notification.Publisher
	metrics   *metrics.Registry
}

func NewImageService(databaseService database.DatabaseService, storageBackend *storage.LocalFilesystemBackend,
	publisher notification.Publisher, registry *metrics.Registry) *ImageService {
	if publisher == nil {
		publisher = notification.NoopPublisher{}
	}
	return &ImageService{
		database:  databaseService,
		storage:   storageBackend,
		publisher: publisher,
		metrics:   registry,
	}
}

// ListImages returns page number page (zero based) of size records in store order.
func (service *ImageService) ListImages(ctx context.Context, page, size int) (*Page, error) {
	if page < 0 || size < 0 {
		return nil, fmt.Errorf("%w: page=%d size=%d", ErrInvalidPage, page, size)
	}

	total, err := service.database.CountImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to count images: %w", ErrIOFailure, err)
	}

	result := &Page{
		Images:      []*database.Image{},
		Page:        page,
		Size:        size,
		Total:       total,
		HasPrevious: page > 0,
	}
	if size == 0 {
		return result, nil
	}

	offset := page * size
	if offset >= total {
		return result, nil
	}
	images, err := service.database.GetImages(ctx, offset, size)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list images: %w", ErrIOFailure, err)
	}
	result.Images = images
	result.HasNext = offset+size < total
	return result, nil
}

// GetImage opens the stored file. Only the filesystem is consulted: a record without
// a file is reported as ErrNotFound and a file without a record is still served.
func (service *ImageService) GetImage(_ context.Context, name string) (io.ReadCloser, int64, error) {
	reader, size, err := service.storage.Retrieve(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, storage.ErrInvalidName) {
			return nil, 0, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, 0, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return reader, size, nil
}

// CreateImage stores the upload under its original filename and records owner as its owner.
// An empty upload is a no-op and reports created=false.
func (service *ImageService) CreateImage(ctx context.Context, upload Upload, owner string) (created bool, err error) {
	if upload.Content == nil {
		return false, nil
	}
	content := bufio.NewReader(upload.Content)
	if _, err := content.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to read upload %s: %w", ErrIOFailure, upload.Filename, err)
	}

	name := upload.Filename
	if err := storage.ValidateName(name); err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidName, err)
	}

	size, err := service.storage.Store(name, content)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	if err := service.database.SaveImage(ctx, &database.Image{Name: name, Owner: owner}); err != nil {
		// Keep file and record in lockstep
		if rmErr := service.storage.Remove(name); rmErr != nil {
			slog.Error("failed to remove file after metadata failure", "image", name, "error", rmErr)
		}
		return false, fmt.Errorf("%w: failed to save record for %s: %w", ErrIOFailure, name, err)
	}

	slog.Info("image created", "image", name, "owner", owner, "size_bytes", size)
	service.metrics.Inc(ctx, metrics.ImagesCreatedTotal, nil, 1)
	service.notify(ctx, notification.TopicNewImage, name)
	return true, nil
}

// DeleteImage removes the record and file of name on behalf of requester.
func (service *ImageService) DeleteImage(ctx context.Context, name string, requester Requester) error {
	image, err := service.database.GetImageByName(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: failed to look up %s: %w", ErrIOFailure, name, err)
	}
	if image == nil {
		return fmt.Errorf("%w: no image named %s", ErrNotFound, name)
	}

	if !CanDelete(requester, image.Owner) {
		return fmt.Errorf("%w: %s may not delete %s", ErrForbidden, requester.Username, name)
	}

	if err := service.database.DeleteImage(ctx, name); err != nil {
		return fmt.Errorf("%w: failed to delete record for %s: %w", ErrIOFailure, name, err)
	}

	if err := service.storage.Remove(name); err != nil {
		// Restore the record so it keeps pointing at the file that is still there
		if saveErr := service.database.SaveImage(ctx, image); saveErr != nil {
			slog.Error("failed to restore record after file removal failure", "image", name, "error", saveErr)
		}
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	slog.Info("image deleted", "image", name, "requester", requester.Username)
	service.metrics.Inc(ctx, metrics.ImagesDeletedTotal, nil, 1)
	service.notify(ctx, notification.TopicDeleteImage, name)
	return nil
}

// notify never fails the surrounding operation.
func (service *ImageService) notify(ctx context.Context, topic, name string) {
	if err := service.publisher.Publish(ctx, topic, name); err != nil {
		slog.Warn("failed to publish notification", "topic", topic, "image", name, "error", err)
		service.metrics.Inc(ctx, metrics.NotificationFailureTotal, metrics.Labels{"topic": topic}, 1)
	}
}
