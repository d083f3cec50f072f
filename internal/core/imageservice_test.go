package core

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/jo-hoe/imagestore/internal/backend/database"
	"github.com/jo-hoe/imagestore/internal/backend/notification"
	"github.com/jo-hoe/imagestore/internal/backend/storage"
	"github.com/jo-hoe/imagestore/internal/metrics"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notification.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic, payload string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, notification.Event{Topic: topic, Payload: payload})
	return nil
}

func (p *recordingPublisher) Events() []notification.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notification.Event(nil), p.events...)
}

// failingSaveDatabase delegates everything except SaveImage.
type failingSaveDatabase struct {
	database.DatabaseService
}

func (failingSaveDatabase) SaveImage(context.Context, *database.Image) error {
	return errors.New("database is read-only")
}

type imageFixture struct {
	service   *ImageService
	database  database.DatabaseService
	storage   *storage.LocalFilesystemBackend
	publisher *recordingPublisher
	metrics   *metrics.Registry
}

func newImageFixture(t *testing.T) *imageFixture {
	t.Helper()

	db, err := database.NewDatabase(database.TypeSQLite, ":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	backend, err := storage.NewLocalFilesystemBackend(filepath.Join(t.TempDir(), "upload-dir"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	publisher := &recordingPublisher{}
	registry := metrics.NewRegistry()
	return &imageFixture{
		service:   NewImageService(db, backend, publisher, registry),
		database:  db,
		storage:   backend,
		publisher: publisher,
		metrics:   registry,
	}
}

func (f *imageFixture) create(t *testing.T, name, content, owner string) {
	t.Helper()
	created, err := f.service.CreateImage(context.Background(), Upload{Filename: name, Content: strings.NewReader(content)}, owner)
	if err != nil || !created {
		t.Fatalf("CreateImage(%s) = %v, %v", name, created, err)
	}
}

func (f *imageFixture) read(t *testing.T, name string) string {
	t.Helper()
	reader, size, err := f.service.GetImage(context.Background(), name)
	if err != nil {
		t.Fatalf("GetImage(%s) error: %v", name, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	if int64(len(data)) != size {
		t.Fatalf("GetImage(%s) reported size %d for %d bytes", name, size, len(data))
	}
	return string(data)
}

func (f *imageFixture) names(t *testing.T) []string {
	t.Helper()
	page, err := f.service.ListImages(context.Background(), 0, 100)
	if err != nil {
		t.Fatalf("ListImages error: %v", err)
	}
	names := make([]string, 0, len(page.Images))
	for _, img := range page.Images {
		names = append(names, img.Name)
	}
	return names
}

func (f *imageFixture) rootEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.storage.Root())
	if err != nil {
		t.Fatalf("failed to read upload root: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func expectStrings(t *testing.T, what string, got []string, want ...string) {
	t.Helper()
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(got, want) {
		t.Errorf("%s = %v, want %v", what, got, want)
	}
}

func expectEvents(t *testing.T, got []notification.Event, want ...notification.Event) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Errorf("events = %+v, want %+v", got, want)
	}
}

func TestCreateImage_RoundTrip(t *testing.T) {
	f := newImageFixture(t)

	content := "\xff\xd8\xff\xe0 fake jpeg bytes \x00\x01"
	f.create(t, "cat.jpg", content, "rob")

	if got := f.read(t, "cat.jpg"); got != content {
		t.Errorf("read back %q, want %q", got, content)
	}
	expectStrings(t, "names", f.names(t), "cat.jpg")

	img, err := f.database.GetImageByName(context.Background(), "cat.jpg")
	if err != nil || img == nil || img.Owner != "rob" {
		t.Fatalf("expected record owned by rob, got %+v (err=%v)", img, err)
	}

	expectEvents(t, f.publisher.Events(), notification.Event{Topic: notification.TopicNewImage, Payload: "cat.jpg"})
	if got := f.metrics.Value(metrics.ImagesCreatedTotal, nil); got != 1 {
		t.Errorf("images created = %d, want 1", got)
	}
}

func TestCreateImage_OverwritesExisting(t *testing.T) {
	f := newImageFixture(t)

	f.create(t, "cat.jpg", "first", "rob")
	f.create(t, "cat.jpg", "second", "greg")

	if got := f.read(t, "cat.jpg"); got != "second" {
		t.Errorf("expected overwritten content, got %q", got)
	}
	expectStrings(t, "names", f.names(t), "cat.jpg")

	img, err := f.database.GetImageByName(context.Background(), "cat.jpg")
	if err != nil || img == nil || img.Owner != "greg" {
		t.Errorf("expected owner greg, got %+v (err=%v)", img, err)
	}
}

func TestCreateImage_EmptyPayloadIsNoop(t *testing.T) {
	f := newImageFixture(t)

	for _, upload := range []Upload{
		{Filename: "empty.jpg", Content: strings.NewReader("")},
		{Filename: "nil.jpg"},
		{Filename: "../not-even-valid", Content: strings.NewReader("")},
	} {
		created, err := f.service.CreateImage(context.Background(), upload, "rob")
		if err != nil || created {
			t.Errorf("CreateImage(%s) = %v, %v; want false, nil", upload.Filename, created, err)
		}
	}

	expectStrings(t, "names", f.names(t))
	expectStrings(t, "upload root", f.rootEntries(t))
	expectEvents(t, f.publisher.Events())
}

func TestCreateImage_InvalidName(t *testing.T) {
	f := newImageFixture(t)

	for _, name := range []string{"../escape.jpg", ".upload-123"} {
		_, err := f.service.CreateImage(context.Background(), Upload{Filename: name, Content: strings.NewReader("x")}, "rob")
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("CreateImage(%s): expected ErrInvalidName, got %v", name, err)
		}
	}
	expectStrings(t, "names", f.names(t))
	expectStrings(t, "upload root", f.rootEntries(t))
}

func TestCreateImage_CopyFailure(t *testing.T) {
	f := newImageFixture(t)

	broken := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(errors.New("disk full")))
	created, err := f.service.CreateImage(context.Background(), Upload{Filename: "broken.jpg", Content: broken}, "rob")

	if created || !errors.Is(err, ErrIOFailure) {
		t.Fatalf("expected ErrIOFailure, got created=%v err=%v", created, err)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("expected the cause in the error, got %v", err)
	}
	expectStrings(t, "names", f.names(t))
	expectStrings(t, "upload root", f.rootEntries(t))
	expectEvents(t, f.publisher.Events())
}

func TestCreateImage_MetadataFailureRemovesFile(t *testing.T) {
	f := newImageFixture(t)
	service := NewImageService(failingSaveDatabase{f.database}, f.storage, f.publisher, nil)

	_, err := service.CreateImage(context.Background(), Upload{Filename: "cat.jpg", Content: strings.NewReader("bytes")}, "rob")

	if !errors.Is(err, ErrIOFailure) {
		t.Fatalf("expected ErrIOFailure, got %v", err)
	}
	expectStrings(t, "upload root", f.rootEntries(t))
	expectEvents(t, f.publisher.Events())
}

func TestCreateImage_NotificationFailureDoesNotFail(t *testing.T) {
	f := newImageFixture(t)
	f.publisher.err = errors.New("broker down")

	f.create(t, "cat.jpg", "bytes", "rob")
	if got := f.read(t, "cat.jpg"); got != "bytes" {
		t.Errorf("unexpected content %q", got)
	}
	failures := f.metrics.Value(metrics.NotificationFailureTotal, metrics.Labels{"topic": notification.TopicNewImage})
	if failures != 1 {
		t.Errorf("notification failures = %d, want 1", failures)
	}

	if err := f.service.DeleteImage(context.Background(), "cat.jpg", Requester{Username: "rob"}); err != nil {
		t.Fatalf("DeleteImage error: %v", err)
	}
	expectStrings(t, "names", f.names(t))
}

func TestGetImage_MissingFile(t *testing.T) {
	f := newImageFixture(t)

	for _, name := range []string{"nothing.jpg", "../etc/passwd"} {
		if _, _, err := f.service.GetImage(context.Background(), name); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetImage(%s): expected ErrNotFound, got %v", name, err)
		}
	}
}

func TestGetImage_OnlyConsultsFilesystem(t *testing.T) {
	f := newImageFixture(t)
	ctx := context.Background()

	// Record without a file: not retrievable
	if err := f.database.SaveImage(ctx, &database.Image{Name: "ghost.jpg", Owner: "rob"}); err != nil {
		t.Fatalf("SaveImage error: %v", err)
	}
	if _, _, err := f.service.GetImage(ctx, "ghost.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a record without file, got %v", err)
	}

	// File without a record: still served
	if _, err := f.storage.Store("orphan.jpg", strings.NewReader("orphan")); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if got := f.read(t, "orphan.jpg"); got != "orphan" {
		t.Errorf("unexpected content %q", got)
	}
	expectStrings(t, "names", f.names(t), "ghost.jpg")
}

func TestDeleteImage_Owner(t *testing.T) {
	f := newImageFixture(t)
	f.create(t, "cat.jpg", "bytes", "rob")

	if err := f.service.DeleteImage(context.Background(), "cat.jpg", Requester{Username: "rob", Roles: []string{RoleUser}}); err != nil {
		t.Fatalf("DeleteImage error: %v", err)
	}

	expectStrings(t, "names", f.names(t))
	expectStrings(t, "upload root", f.rootEntries(t))
	expectEvents(t, f.publisher.Events(),
		notification.Event{Topic: notification.TopicNewImage, Payload: "cat.jpg"},
		notification.Event{Topic: notification.TopicDeleteImage, Payload: "cat.jpg"},
	)
	if got := f.metrics.Value(metrics.ImagesDeletedTotal, nil); got != 1 {
		t.Errorf("images deleted = %d, want 1", got)
	}
}

func TestDeleteImage_Admin(t *testing.T) {
	f := newImageFixture(t)
	f.create(t, "cat.jpg", "bytes", "rob")

	if err := f.service.DeleteImage(context.Background(), "cat.jpg", Requester{Username: "greg", Roles: []string{RoleAdmin}}); err != nil {
		t.Fatalf("DeleteImage error: %v", err)
	}
	expectStrings(t, "names", f.names(t))
}

func TestDeleteImage_ForbiddenLeavesEverything(t *testing.T) {
	f := newImageFixture(t)
	f.create(t, "cat.jpg", "bytes", "greg")

	err := f.service.DeleteImage(context.Background(), "cat.jpg", Requester{Username: "rob", Roles: []string{RoleUser}})

	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	expectStrings(t, "names", f.names(t), "cat.jpg")
	if got := f.read(t, "cat.jpg"); got != "bytes" {
		t.Errorf("file must be untouched, got %q", got)
	}
	if got := len(f.publisher.Events()); got != 1 {
		t.Errorf("expected only the create notification, got %d events", got)
	}
}

func TestDeleteImage_UnknownName(t *testing.T) {
	f := newImageFixture(t)

	// A file without a record must survive a failed delete
	if _, err := f.storage.Store("orphan.jpg", strings.NewReader("orphan")); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	err := f.service.DeleteImage(context.Background(), "orphan.jpg", Requester{Username: "greg", Roles: []string{RoleAdmin}})

	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectStrings(t, "upload root", f.rootEntries(t), "orphan.jpg")
	expectEvents(t, f.publisher.Events())
}

func TestDeleteImage_RecordWithoutFile(t *testing.T) {
	f := newImageFixture(t)
	ctx := context.Background()
	if err := f.database.SaveImage(ctx, &database.Image{Name: "ghost.jpg", Owner: "rob"}); err != nil {
		t.Fatalf("SaveImage error: %v", err)
	}

	if err := f.service.DeleteImage(ctx, "ghost.jpg", Requester{Username: "rob"}); err != nil {
		t.Fatalf("DeleteImage error: %v", err)
	}
	expectStrings(t, "names", f.names(t))
}

func TestDeleteImage_FileRemovalFailureRestoresRecord(t *testing.T) {
	f := newImageFixture(t)
	ctx := context.Background()

	// A non-empty directory cannot be removed with os.Remove, even by root
	if err := os.MkdirAll(filepath.Join(f.storage.Root(), "stuck", "child"), 0755); err != nil {
		t.Fatalf("MkdirAll error: %v", err)
	}
	if err := f.database.SaveImage(ctx, &database.Image{Name: "stuck", Owner: "rob"}); err != nil {
		t.Fatalf("SaveImage error: %v", err)
	}

	err := f.service.DeleteImage(ctx, "stuck", Requester{Username: "rob"})

	if !errors.Is(err, ErrIOFailure) {
		t.Fatalf("expected ErrIOFailure, got %v", err)
	}
	expectStrings(t, "names", f.names(t), "stuck")
	expectEvents(t, f.publisher.Events())
}

func TestListImages_Pagination(t *testing.T) {
	f := newImageFixture(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		f.create(t, name, name+" bytes", "rob")
	}

	tests := []struct {
		page, size  int
		names       []string
		hasPrevious bool
		hasNext     bool
	}{
		{page: 0, size: 2, names: []string{"a", "b"}, hasNext: true},
		{page: 1, size: 2, names: []string{"c"}, hasPrevious: true},
		{page: 5, size: 2, names: []string{}, hasPrevious: true},
		{page: 0, size: 0, names: []string{}},
	}
	for _, tt := range tests {
		result, err := f.service.ListImages(ctx, tt.page, tt.size)
		if err != nil {
			t.Fatalf("ListImages(%d, %d) error: %v", tt.page, tt.size, err)
		}
		if result.Images == nil {
			t.Errorf("ListImages(%d, %d) returned nil images", tt.page, tt.size)
		}
		names := []string{}
		for _, img := range result.Images {
			names = append(names, img.Name)
		}
		if !slices.Equal(names, tt.names) {
			t.Errorf("ListImages(%d, %d) names = %v, want %v", tt.page, tt.size, names, tt.names)
		}
		if result.HasPrevious != tt.hasPrevious || result.HasNext != tt.hasNext {
			t.Errorf("ListImages(%d, %d) previous/next = %v/%v, want %v/%v",
				tt.page, tt.size, result.HasPrevious, result.HasNext, tt.hasPrevious, tt.hasNext)
		}
		if result.Total != 3 {
			t.Errorf("ListImages(%d, %d) total = %d, want 3", tt.page, tt.size, result.Total)
		}
	}
}

func TestListImages_Negative(t *testing.T) {
	f := newImageFixture(t)

	for _, args := range [][2]int{{-1, 10}, {0, -1}} {
		if _, err := f.service.ListImages(context.Background(), args[0], args[1]); !errors.Is(err, ErrInvalidPage) {
			t.Errorf("ListImages(%d, %d): expected ErrInvalidPage, got %v", args[0], args[1], err)
		}
	}
}
