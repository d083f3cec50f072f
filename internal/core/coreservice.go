package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jo-hoe/imagestore/internal/backend/database"
	"github.com/jo-hoe/imagestore/internal/backend/notification"
	"github.com/jo-hoe/imagestore/internal/backend/storage"
	"github.com/jo-hoe/imagestore/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// CoreService wires the metadata store, the upload root and the notification sink
// into the image and user services.
type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	storage         *storage.LocalFilesystemBackend
	broker          *notification.Broker
	redisClient     *redis.Client
	relay           *notification.RedisRelay
	metrics         *metrics.Registry
	images          *ImageService
	users           *UserService
}

func NewCoreService(config *ServiceConfig) (*CoreService, error) {
	databaseService, err := getDatabaseService(config)
	if err != nil {
		return nil, err
	}

	storageBackend, err := storage.NewLocalFilesystemBackend(config.UploadRoot)
	if err != nil {
		_ = databaseService.Close()
		return nil, fmt.Errorf("failed to initialize upload root: %w", err)
	}

	service := &CoreService{
		config:          config,
		databaseService: databaseService,
		storage:         storageBackend,
		broker:          notification.NewBroker(),
		metrics:         metrics.NewRegistry(),
	}

	publisher := service.getPublisher()
	service.images = NewImageService(databaseService, storageBackend, publisher, service.metrics)
	service.users = NewUserService(databaseService)
	return service, nil
}

func (service *CoreService) Images() *ImageService {
	return service.images
}

func (service *CoreService) Users() *UserService {
	return service.users
}

// Broker is the local fan-out point for websocket subscribers.
func (service *CoreService) Broker() *notification.Broker {
	return service.broker
}

func (service *CoreService) Metrics() *metrics.Registry {
	return service.metrics
}

// Run blocks while background work runs: the Redis relay when Redis notifications are
// configured, otherwise it just waits for ctx.
func (service *CoreService) Run(ctx context.Context) error {
	if service.relay == nil {
		<-ctx.Done()
		return nil
	}
	return service.relay.Run(ctx)
}

func (service *CoreService) Close() error {
	service.broker.Close()
	var errs []error
	if service.redisClient != nil {
		if err := service.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}
	if err := service.databaseService.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	return errors.Join(errs...)
}

func (service *CoreService) getPublisher() notification.Publisher {
	switch service.config.Notifications.Type {
	case NotificationsRedis:
		redisConfig := service.config.Notifications.Redis
		service.redisClient = redis.NewClient(&redis.Options{
			Addr:     redisConfig.Address,
			Password: redisConfig.Password,
			DB:       redisConfig.DB,
		})
		service.relay = notification.NewRedisRelay(service.redisClient, redisConfig.ChannelPrefix, service.broker)
		slog.Info("publishing notifications through redis", "address", redisConfig.Address)
		return notification.NewRedisPublisher(service.redisClient, redisConfig.ChannelPrefix)
	case NotificationsNone:
		return notification.NoopPublisher{}
	default:
		return service.broker
	}
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}
