package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "popcornstream/internal/api/http"
	"popcornstream/internal/app"
	"popcornstream/internal/domain/ports"
	mongorepo "popcornstream/internal/repository/mongo"
	redisrepo "popcornstream/internal/repository/redis"
)

// stores holds the optional persistence backends. Any field may be nil when
// its backend is disabled or unreachable.
type stores struct {
	registry ports.DownloadRegistry
	catalog  apihttp.DownloadCatalog
	watched  *mongorepo.WatchProgressRepository

	mongoClient *mongo.Client
	redisClient *goredis.Client
	logger      *slog.Logger
}

func openStores(ctx context.Context, cfg app.Config, logger *slog.Logger) (*stores, error) {
	s := &stores{logger: logger}

	mongoClient, err := connectMongo(ctx, cfg.MongoURI)
	switch {
	case err != nil && cfg.RegistryBackend == app.RegistryMongo:
		return nil, fmt.Errorf("mongo: %w", err)
	case err != nil:
		logger.Warn("mongo unavailable, watch progress disabled", slog.String("error", err.Error()))
	default:
		s.mongoClient = mongoClient
		watched := mongorepo.NewWatchProgressRepository(mongoClient, cfg.MongoDatabase, cfg.MongoWatchedCollection)
		if err := watched.EnsureIndexes(ctx); err != nil {
			logger.Warn("watch progress index creation failed", slog.String("error", err.Error()))
		}
		s.watched = watched
	}

	switch cfg.RegistryBackend {
	case app.RegistryMongo:
		repo := mongorepo.NewDownloadRepository(mongoClient, cfg.MongoDatabase, cfg.MongoDownloadsCollection)
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Warn("download index creation failed", slog.String("error", err.Error()))
		}
		s.registry, s.catalog = repo, repo
	case app.RegistryRedis:
		client, err := connectRedis(ctx, cfg)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		s.redisClient = client
		reg := redisrepo.NewDownloadRegistry(client, cfg.RedisKey, logger)
		s.registry, s.catalog = reg, reg
	default:
		logger.Info("download registry disabled")
	}

	logger.Info("storage ready",
		slog.String("registry", cfg.RegistryBackend),
		slog.Bool("watchProgress", s.watched != nil),
	)
	return s, nil
}

func connectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongorepo.Connect(connectCtx, uri, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// connectRedis accepts either a host:port address or a redis:// URL.
func connectRedis(ctx context.Context, cfg app.Config) (*goredis.Client, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	var opts *goredis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := goredis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		opts = parsed
	} else {
		opts = &goredis.Options{Addr: addr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	}

	client := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (s *stores) Close() {
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Warn("redis close error", slog.String("error", err.Error()))
		}
	}
	if s.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.mongoClient.Disconnect(ctx); err != nil {
			s.logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}
}
