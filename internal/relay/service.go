// Package relay wires the odds relay together from configuration: feed,
// store, broadcast hub, HTTP server, journal, snapshot cache and cron.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/johan/oddsrelay/internal/config"
	"github.com/johan/oddsrelay/internal/cronjobs"
	"github.com/johan/oddsrelay/internal/feed"
	"github.com/johan/oddsrelay/internal/hub"
	"github.com/johan/oddsrelay/internal/logging"
	"github.com/johan/oddsrelay/internal/server"
	"github.com/johan/oddsrelay/internal/storage"
	"github.com/johan/oddsrelay/internal/store"
)

// Service is the relay process.
type Service struct {
	config   *config.Config
	logger   *zap.Logger
	store    *store.Store
	hub      *hub.Hub
	server   *server.Server
	journal  storage.Storage
	snapshot *storage.RedisSnapshot
}

// NewService builds every component from cfg.
func NewService(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	logger = logging.OrNop(logger)

	source, streamer, err := newSource(cfg.Feed, logger)
	if err != nil {
		return nil, err
	}

	journal, err := newJournal(cfg.Storage)
	if err != nil {
		return nil, err
	}

	st := store.New()
	h := hub.New(st, source, hub.Options{
		RefreshInterval:   cfg.Hub.RefreshInterval,
		HeartbeatInterval: cfg.Hub.HeartbeatInterval,
		SendTimeout:       cfg.Hub.SendTimeout,
		SendBuffer:        cfg.Hub.SendBuffer,
		Retention:         cfg.Hub.Retention,
		EvictInterval:     cfg.Hub.EvictInterval,
		Streamer:          streamer,
		Journal:           journal,
		Logger:            logger.Named("hub"),
	})

	s := &Service{
		config:  cfg,
		logger:  logger,
		store:   st,
		hub:     h,
		journal: journal,
		server: server.New(h, st, server.Options{
			Addr:            cfg.Server.Addr,
			Mode:            cfg.Server.Mode,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			Logger:          logger.Named("http"),
		}),
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.snapshot = storage.NewRedisSnapshot(client, cfg.Redis.Key, cfg.Redis.TTL)
	}

	return s, nil
}

func newSource(cfg config.FeedConfig, logger *zap.Logger) (feed.Source, feed.Streamer, error) {
	switch cfg.Type {
	case "simulator":
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		sim := feed.NewSimulator(seed, cfg.PushInterval)
		if cfg.PushInterval > 0 {
			return sim, sim, nil
		}
		return sim, nil, nil
	case "http":
		client := feed.NewClient(&http.Client{Timeout: cfg.Timeout}, cfg.URL).
			WithFormat(cfg.Format).
			WithLogger(logger.Named("feed"))
		return client, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown feed type: %s", cfg.Type)
	}
}

func newJournal(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Type {
	case "file":
		fs, err := storage.NewFileStorage(cfg.OutputDir, cfg.RotationInterval, storage.WithGzip(cfg.Gzip))
		if err != nil {
			return nil, fmt.Errorf("creating file storage: %w", err)
		}
		return fs, nil
	case "none", "":
		return storage.NewNullStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// Hub returns the broadcast hub.
func (s *Service) Hub() *hub.Hub {
	return s.hub
}

// Store returns the event store.
func (s *Service) Store() *store.Store {
	return s.store
}

// Run serves until ctx is cancelled or the HTTP server fails.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting odds relay",
		zap.String("addr", s.config.Server.Addr),
		zap.String("feed", s.config.Feed.Type))

	s.restoreSnapshot(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runner := cronjobs.New(ctx, s.logger.Named("cron"))
	if s.snapshot != nil {
		job := cronjobs.SaveSnapshot(s.store.All, s.snapshot, 5*time.Second, s.logger)
		if err := runner.Add("snapshot", s.config.Cron.Snapshot, job); err != nil {
			return err
		}
	}
	if err := runner.Add("status", s.config.Cron.Status, cronjobs.LogStatus(s.hub)); err != nil {
		return err
	}
	runner.Start()
	defer runner.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.hub.Run(ctx)
	}()

	err := s.server.Run(ctx)
	cancel()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("http server: %w", err)
	}
	s.logger.Info("odds relay stopped")
	return nil
}

// restoreSnapshot seeds the store so the first subscribers get data before
// the first upstream pull completes.
func (s *Service) restoreSnapshot(ctx context.Context) {
	if s.snapshot == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	events, savedAt, err := s.snapshot.Load(ctx)
	if err != nil {
		s.logger.Warn("loading snapshot failed", zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}

	s.store.Restore(events)
	s.logger.Info("restored snapshot",
		zap.Int("events", len(events)),
		zap.Duration("age", time.Since(savedAt).Round(time.Second)))
}

// Close releases the journal and snapshot cache.
func (s *Service) Close() error {
	var errs []error
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	if s.snapshot != nil {
		errs = append(errs, s.snapshot.Close())
	}
	return errors.Join(errs...)
}
