package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Tyrowin/roomcast/internal/config"
	"github.com/Tyrowin/roomcast/internal/retained"
	"github.com/Tyrowin/roomcast/internal/storage"
)

// openBackend builds the configured storage medium behind a timeout and
// circuit breaker guard.
func openBackend(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*storage.Guarded, error) {
	var (
		backend storage.Backend
		err     error
	)

	switch cfg.Type {
	case "file":
		backend, err = storage.NewFile(cfg.Path)
	case "badger":
		backend, err = storage.OpenBadger(storage.BadgerOptions{
			Dir:      cfg.Badger.Dir,
			InMemory: cfg.Badger.InMemory,
			Name:     cfg.Name,
			Logger:   logger,
		})
	case "s3":
		client := storage.NewS3Client(storage.S3Options{
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			PathStyle: cfg.S3.PathStyle,
		})
		backend = storage.NewS3(client, cfg.S3.Bucket, cfg.S3.Prefix, cfg.Name)
	case "mongo":
		connectCtx := ctx
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			connectCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}
		backend, err = storage.OpenMongo(connectCtx, storage.MongoOptions{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
			Name:       cfg.Name,
		})
	case "memory":
		backend = storage.NewMemory()
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Type, err)
	}

	logger.Info("retained storage ready", slog.String("type", cfg.Type))
	return storage.Guard(backend, storage.GuardOptions{
		Name:             cfg.Type,
		Timeout:          cfg.Timeout,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		Logger:           logger,
	}), nil
}

// openStore opens the backend and loads the retained state from it. A corrupt
// or unreadable artifact is logged and the store starts empty. The returned
// closer releases the backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*retained.Store, io.Closer, error) {
	codec, err := retained.CodecByName(cfg.Storage.Codec)
	if err != nil {
		return nil, nil, err
	}
	compression, err := retained.ParseCompression(cfg.Storage.Compression)
	if err != nil {
		return nil, nil, err
	}

	backend, err := openBackend(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, nil, err
	}

	store := retained.New(backend, retained.Options{
		Codec:       codec,
		Compression: compression,
		MaxTopics:   cfg.Storage.MaxTopics,
		Logger:      logger,
	})

	records, err := store.Load(ctx)
	if err != nil {
		logger.Error("retained state could not be loaded; starting empty",
			slog.String("error", err.Error()))
	} else {
		logger.Info("retained state loaded", slog.Int("topics", len(records)))
	}
	return store, backend, nil
}
