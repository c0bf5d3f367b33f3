package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-redis/redis"
	"go.uber.org/zap"

	"github.com/3leaps/simrun/internal/config"
	"github.com/3leaps/simrun/pkg/backend"
	"github.com/3leaps/simrun/pkg/backend/local"
	"github.com/3leaps/simrun/pkg/fingerprint"
	"github.com/3leaps/simrun/pkg/jobstore"
	"github.com/3leaps/simrun/pkg/library"
	"github.com/3leaps/simrun/pkg/orchestrator"
	"github.com/3leaps/simrun/pkg/provider"
	"github.com/3leaps/simrun/pkg/provider/file"
	"github.com/3leaps/simrun/pkg/provider/s3"
	"github.com/3leaps/simrun/pkg/resultdb"
	"github.com/3leaps/simrun/pkg/simtype"
	"github.com/3leaps/simrun/pkg/slot"
	"github.com/3leaps/simrun/pkg/status"
)

// appRuntime is the wired core for one process.
type appRuntime struct {
	cfg     *config.Config
	log     *zap.Logger
	catalog *simtype.Catalog
	engine  *fingerprint.Engine
	store   backend.Store
	slots   slot.Registry
	backend *local.Backend
	tracker *status.Tracker
	orch    *orchestrator.Orchestrator

	redis   redis.UniversalClient
	closers []func() error
}

func loadCatalog(cfg *config.Config) (*simtype.Catalog, error) {
	path := strings.TrimSpace(cfg.SimTypes.Catalog)
	if path == "" {
		return simtype.New(nil)
	}
	return simtype.Load(path)
}

// openStore returns the job store and, for object-store drivers, the
// provider library files are read from.
func openStore(ctx context.Context, cfg config.StorageConfig) (backend.Store, provider.Provider, func() error, error) {
	switch cfg.Driver {
	case "file":
		p, err := file.New(file.Config{BaseDir: cfg.Root})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open file store: %w", err)
		}
		return jobstore.New(p, ""), p, p.Close, nil
	case "s3":
		p, err := s3.New(ctx, s3.Config{
			Bucket:         cfg.Bucket,
			Prefix:         cfg.Prefix,
			Region:         cfg.Region,
			Endpoint:       cfg.Endpoint,
			Profile:        cfg.Profile,
			ForcePathStyle: cfg.ForcePathStyle,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open s3 store: %w", err)
		}
		return jobstore.New(p, ""), p, p.Close, nil
	case "sqlite":
		db, err := resultdb.Open(ctx, resultdb.Config{Path: cfg.DBPath, URL: cfg.URL, AuthToken: cfg.AuthToken})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open result database: %w", err)
		}
		s := resultdb.New(db)
		return s, nil, s.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func openSlots(cfg config.SlotsConfig) (slot.Registry, redis.UniversalClient, error) {
	switch cfg.Driver {
	case "memory":
		return slot.NewMemory(cfg.TTL), nil, nil
	case "redis":
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping().Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return slot.NewRedis(client, cfg.Prefix, cfg.TTL), client, nil
	default:
		return nil, nil, fmt.Errorf("unsupported slot driver %q", cfg.Driver)
	}
}

func libraryFor(cfg *config.Config, p provider.Provider) fingerprint.Library {
	if root := strings.TrimSpace(cfg.Library.Root); root != "" {
		return library.NewFSResolver(root)
	}
	if p != nil {
		return library.NewProviderResolver(p, library.DefaultPrefix)
	}
	return library.NewFSResolver(filepath.Join(config.DataDir(), "lib"))
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *appRuntime, err error) {
	rt := &appRuntime{cfg: cfg, log: logger}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	if rt.catalog, err = loadCatalog(cfg); err != nil {
		return nil, err
	}

	store, p, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	rt.store = store
	rt.closers = append(rt.closers, closeStore)

	if rt.slots, rt.redis, err = openSlots(cfg.Slots); err != nil {
		return nil, err
	}
	if rt.redis != nil {
		rt.closers = append(rt.closers, rt.redis.Close)
	}

	rt.engine = fingerprint.NewEngine(rt.catalog, libraryFor(cfg, p))

	rt.backend, err = local.New(local.Config{
		WorkRoot:          cfg.Backend.WorkRoot,
		Commands:          cfg.Backend.Commands,
		KillGrace:         cfg.Backend.KillGrace,
		HeartbeatInterval: cfg.Backend.HeartbeatInterval,
	}, rt.store, rt.slots, rt.catalog, logger.Named("backend"))
	if err != nil {
		return nil, err
	}

	rt.tracker = status.New(rt.backend, rt.store, rt.engine, rt.catalog, status.Config{
		LongPoll:  time.Duration(cfg.Poll.LongSeconds) * time.Second,
		ShortPoll: time.Duration(cfg.Poll.ShortSeconds) * time.Second,
	}, logger.Named("status"))
	rt.orch = orchestrator.New(rt.backend, rt.store, rt.tracker, rt.engine, logger.Named("orchestrator"))
	return rt, nil
}

// Close releases stores and connections in reverse order of opening.
func (rt *appRuntime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// Shutdown stops running children, then closes the runtime.
func (rt *appRuntime) Shutdown(ctx context.Context) error {
	var errs []error
	if rt.backend != nil {
		if err := rt.backend.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := rt.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
