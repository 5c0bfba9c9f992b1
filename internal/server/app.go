// Package server wires the panel's services to their backends and serves
// them over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"

	"bibliopanel/internal/archive"
	"bibliopanel/internal/auth"
	"bibliopanel/internal/catalog"
	"bibliopanel/internal/chat"
	"bibliopanel/internal/circulation"
	"bibliopanel/internal/config"
	"bibliopanel/internal/dashboard"
	"bibliopanel/internal/docstore"
	fsstore "bibliopanel/internal/docstore/firestore"
	"bibliopanel/internal/docstore/memory"
	pgstore "bibliopanel/internal/docstore/postgres"
	"bibliopanel/internal/events"
	"bibliopanel/internal/logger"
	"bibliopanel/internal/media"
	"bibliopanel/internal/orgconfig"
	"bibliopanel/internal/students"
	"bibliopanel/internal/theme"
)

// App holds the wired services of one panel process.
type App struct {
	Config      *config.Config
	Store       docstore.Store
	Publisher   events.Publisher
	Org         *orgconfig.Service
	Theme       *orgconfig.ThemeBinding
	Auth        *auth.Service
	Catalog     catalog.Service
	Circulation circulation.Service
	Archive     *archive.Log
	Students    students.Service
	Chat        *chat.Service
	Dashboard   *dashboard.Service
	Uploader    media.Uploader

	closers []func() error
}

// Deps are the backends an App is built over.
type Deps struct {
	Store     docstore.Store
	Publisher events.Publisher
	Cache     orgconfig.Cache
	Uploader  media.Uploader
}

// NewApp wires every service over deps.
func NewApp(cfg *config.Config, deps Deps) *App {
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	orgOpts := []orgconfig.Option{orgconfig.WithDefaultMaxLoans(cfg.Org.DefaultMaxLoans)}
	if deps.Cache != nil {
		orgOpts = append(orgOpts, orgconfig.WithCache(deps.Cache, cfg.Org.CacheTTL))
	}
	org := orgconfig.New(deps.Store, cfg.Org.Name, orgOpts...)

	return &App{
		Config:      cfg,
		Store:       deps.Store,
		Publisher:   deps.Publisher,
		Org:         org,
		Theme:       orgconfig.BindTheme(org, theme.NewContext()),
		Auth:        auth.NewService(deps.Store, cfg.Auth.Secret, cfg.Auth.TokenTTL, auth.WithLoginRate(cfg.Auth.LoginsPerMin, cfg.Auth.LoginBurst)),
		Catalog:     catalog.NewService(deps.Store, deps.Publisher),
		Circulation: circulation.NewService(deps.Store, org, deps.Publisher),
		Archive:     archive.NewLog(deps.Store),
		Students:    students.NewService(deps.Store),
		Chat:        chat.NewService(deps.Store),
		Dashboard:   dashboard.NewService(deps.Store, org),
		Uploader:    deps.Uploader,
	}
}

// Build opens the configured backends and wires the App. Close releases them.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	var closers []func() error
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	store, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, store.Close)

	publisher, err := OpenPublisher(cfg.Kafka)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, publisher.Close)

	var cache orgconfig.Cache
	if cfg.Redis.Addr != "" {
		client, err := orgconfig.Connect(ctx, cfg.Redis.Addr)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, client.Close)
		cache = orgconfig.NewRedisCache(client)
		logger.Info("settings cache enabled", "addr", cfg.Redis.Addr)
	}

	uploader, err := media.New(cfg.Media)
	if err != nil {
		return fail(err)
	}

	app := NewApp(cfg, Deps{Store: store, Publisher: publisher, Cache: cache, Uploader: uploader})
	app.closers = closers
	app.Theme.Sync(ctx)
	return app, nil
}

// Close releases the backends opened by Build, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenStore connects the configured document store backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (docstore.Store, error) {
	logger.Info("opening document store", "backend", cfg.Backend)
	switch cfg.Backend {
	case "firestore":
		return fsstore.Open(ctx, cfg.ProjectID, cfg.CredentialsFile)
	case "postgres":
		return pgstore.Open(ctx, cfg.DatabaseURL)
	case "memory", "":
		logger.Warn("using the in-memory store; data is lost on exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.Backend)
	}
}

// OpenPublisher returns a Kafka publisher when brokers are configured.
func OpenPublisher(cfg config.KafkaConfig) (events.Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return events.Nop{}, nil
	}
	p, err := events.NewKafkaPublisher(cfg.Brokers, cfg.Topics)
	if err != nil {
		return nil, err
	}
	logger.Info("publishing transition events", "brokers", cfg.Brokers)
	return p, nil
}
