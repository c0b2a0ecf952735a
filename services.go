package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/samandartukhtayev/ecommerce-sharding/api"
	authapi "github.com/samandartukhtayev/ecommerce-sharding/api/auth"
	categoriesapi "github.com/samandartukhtayev/ecommerce-sharding/api/categories"
	"github.com/samandartukhtayev/ecommerce-sharding/api/health"
	productsapi "github.com/samandartukhtayev/ecommerce-sharding/api/products"
	usersapi "github.com/samandartukhtayev/ecommerce-sharding/api/users"
	"github.com/samandartukhtayev/ecommerce-sharding/auth"
	"github.com/samandartukhtayev/ecommerce-sharding/catalog"
	"github.com/samandartukhtayev/ecommerce-sharding/categoryrpc"
	"github.com/samandartukhtayev/ecommerce-sharding/config"
	"github.com/samandartukhtayev/ecommerce-sharding/events"
	"github.com/samandartukhtayev/ecommerce-sharding/metrics"
	"github.com/samandartukhtayev/ecommerce-sharding/profiles"
	"github.com/samandartukhtayev/ecommerce-sharding/provisioning"
	"github.com/samandartukhtayev/ecommerce-sharding/repository"
	"github.com/samandartukhtayev/ecommerce-sharding/sharding"
)

// service is one wired process: its HTTP controllers, readiness checks,
// optional gRPC server, background loops and the resources to release.
type service struct {
	controllers []api.Controller
	checks      map[string]health.CheckFunc
	grpc        *grpc.Server
	background  []func(ctx context.Context) error
	closers     []func(ctx context.Context) error
}

func (s *service) onClose(fn func(ctx context.Context) error) {
	s.closers = append(s.closers, fn)
}

// close releases resources in reverse acquisition order
func (s *service) close(log *zap.Logger) {
	ctx := context.Background()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			log.Warn("Failed to release resource", zap.Error(err))
		}
	}
}

func buildAuth(ctx context.Context, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*service, error) {
	if err := cfg.ValidateAuth(); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}
	svc := &service{checks: map[string]health.CheckFunc{}}

	pool, err := repository.NewPgPool(ctx, cfg.AuthDB)
	if err != nil {
		return nil, err
	}
	svc.onClose(func(context.Context) error { pool.Close(); return nil })
	svc.checks["auth_db"] = pool.Ping

	accounts := repository.NewAccountRepository(pool)
	if cfg.AuthDB.AutoMigrate {
		if err := accounts.EnsureSchema(ctx); err != nil {
			svc.close(log)
			return nil, err
		}
	}

	var publisher events.Publisher
	if cfg.Provisioning.Strategy == config.StrategyEvent {
		client, err := events.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			svc.close(log)
			return nil, err
		}
		svc.onClose(func(context.Context) error { return client.Close() })
		svc.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		publisher = events.NewStreamPublisher(client, 0)
	}

	strategy, err := provisioning.New(cfg.Provisioning, cfg.Events, publisher, log)
	if err != nil {
		svc.close(log)
		return nil, err
	}

	tokens, err := auth.NewTokenIssuer(cfg.JWT)
	if err != nil {
		svc.close(log)
		return nil, err
	}
	hasher := auth.NewHasher(cfg.JWT.BcryptCost)

	orchestrator := auth.NewRegistrationOrchestrator(accounts, strategy, hasher, tokens, log, m)
	authService := auth.NewService(accounts, hasher, tokens, log)

	svc.controllers = append(svc.controllers, authapi.NewController(orchestrator, authService))
	log.Info("Auth service wired", zap.String("provisioning", strategy.Name()))
	return svc, nil
}

func buildUsers(ctx context.Context, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*service, error) {
	svc := &service{checks: map[string]health.CheckFunc{}}

	sm, err := sharding.NewShardManager(cfg.Sharding, sharding.WithLogger(log), sharding.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("invalid shard topology: %w", err)
	}
	if err := sm.ConnectAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to shards: %w", err)
	}
	svc.onClose(func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Sharding.CloseTimeout)
		defer cancel()
		return sm.DisconnectAll(shutdownCtx)
	})
	svc.checks["shards"] = sm.Ping

	profileRepo := repository.NewProfileRepository(sm)
	if cfg.Sharding.AutoMigrate {
		if err := profileRepo.EnsureSchema(ctx); err != nil {
			svc.close(log)
			return nil, err
		}
	}

	// events are optional for the users service: without redis it serves
	// the HTTP provisioning path only
	var publisher events.Publisher
	client, err := events.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Warn("Event bus unavailable, profile events disabled", zap.Error(err))
	} else {
		svc.onClose(func(context.Context) error { return client.Close() })
		svc.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		publisher = events.NewStreamPublisher(client, 0)
	}

	profileService := profiles.NewService(profileRepo, publisher, cfg.Events, log)

	if client != nil {
		consumer := events.NewConsumer(client, events.ConsumerConfigFrom(cfg.Events, cfg.Retry), profileService.HandleRegistered, log, m)
		svc.background = append(svc.background, consumer.Run)
	}

	tokens, err := auth.NewTokenIssuer(cfg.JWT)
	if err != nil {
		svc.close(log)
		return nil, err
	}

	svc.controllers = append(svc.controllers, usersapi.NewController(profileService, tokens))
	log.Info("Users service wired", zap.Int("shards", sm.NumShards()))
	return svc, nil
}

func buildProducts(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*service, error) {
	svc := &service{checks: map[string]health.CheckFunc{}}

	db, err := repository.NewCatalogDB(cfg.CatalogDB, log)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog sql.DB: %w", err)
	}
	svc.onClose(func(context.Context) error { return sqlDB.Close() })
	svc.checks["catalog_db"] = sqlDB.PingContext

	if cfg.CatalogDB.AutoMigrate {
		if err := repository.MigrateCatalog(db); err != nil {
			svc.close(log)
			return nil, err
		}
	}

	// grpc.NewClient connects lazily; an unavailable category service
	// degrades lookups instead of failing startup
	client, err := categoryrpc.NewClient(cfg.Category)
	if err != nil {
		svc.close(log)
		return nil, err
	}
	svc.onClose(func(context.Context) error { return client.Close() })

	categories := catalog.NewAggregationClient(client, cfg.Category, log, m)
	productService := catalog.NewProductService(repository.NewProductRepository(db), categories, log)

	svc.controllers = append(svc.controllers, productsapi.NewController(productService))
	return svc, nil
}

func buildCategories(cfg *config.Config, log *zap.Logger) (*service, error) {
	svc := &service{checks: map[string]health.CheckFunc{}}

	db, err := repository.NewCatalogDB(cfg.CatalogDB, log)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog sql.DB: %w", err)
	}
	svc.onClose(func(context.Context) error { return sqlDB.Close() })
	svc.checks["catalog_db"] = sqlDB.PingContext

	if cfg.CatalogDB.AutoMigrate {
		if err := repository.MigrateCatalog(db); err != nil {
			svc.close(log)
			return nil, err
		}
	}

	categoryService := catalog.NewCategoryService(repository.NewCategoryRepository(db), log)

	svc.grpc = categoryrpc.NewGRPCServer(cfg.Category.MaxMessageSize, log)
	categoryrpc.RegisterCategoryServer(svc.grpc, categoryrpc.NewServer(categoryService))

	svc.controllers = append(svc.controllers, categoriesapi.NewController(categoryService))
	return svc, nil
}
