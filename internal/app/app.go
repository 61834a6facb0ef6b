// Package app wires storage, the remote client and the sync engine into one
// account-aware unit that the CLI, the terminal client and the local API share.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Joseda-hg/notegrid/internal/auth"
	"github.com/Joseda-hg/notegrid/internal/cache"
	"github.com/Joseda-hg/notegrid/internal/config"
	"github.com/Joseda-hg/notegrid/internal/db"
	"github.com/Joseda-hg/notegrid/internal/engine"
	"github.com/Joseda-hg/notegrid/internal/logging"
	"github.com/Joseda-hg/notegrid/internal/model"
	"github.com/Joseda-hg/notegrid/internal/remote"
)

var ErrNotLoggedIn = errors.New("not logged in: run `notegrid login` first")

// Store is the durable backend: key-value entries plus the sync log.
type Store interface {
	cache.KV
	AppendSyncLog(ctx context.Context, kind, detail string) (model.SyncLogEntry, error)
	ListSyncLog(ctx context.Context, limit int) ([]model.SyncLogEntry, error)
	Close() error
}

// Remote is everything the app needs from the NoteGrid API.
type Remote interface {
	engine.RemoteStore
	auth.Registry
	DeleteAccount(ctx context.Context, credential string) error
}

type Deps struct {
	Config    config.Config
	Logger    *logging.Logger
	Store     Store
	Remote    Remote
	Scheduler engine.Scheduler
	Now       func() time.Time
	Registry  *prometheus.Registry
	Retry     auth.RetryConfig
}

type App struct {
	Config   config.Config
	Cache    *cache.Cache
	Engine   *engine.Engine
	Session  *engine.Session
	Auth     *auth.Bootstrapper
	Registry *prometheus.Registry

	store  Store
	remote Remote
	log    *zap.SugaredLogger

	mu         sync.Mutex
	stopEvents func()
	recorder   sync.WaitGroup
}

// New opens the configured backend and builds the app around the real
// remote client.
func New(cfg config.Config, logger *logging.Logger) (*App, error) {
	store, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	client := remote.New(cfg.Remote.BaseURL,
		remote.WithTimeout(cfg.Remote.Timeout),
		remote.WithRateLimit(cfg.Remote.RequestsPerSecond, cfg.Remote.Burst),
		remote.WithBreakerStateHook(func(name string, from, to gobreaker.State) {
			logger.WithComponent("remote").Warnw("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}),
	)

	return Assemble(Deps{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Remote:   client,
		Registry: prometheus.NewRegistry(),
		Retry:    auth.DefaultRetryConfig(),
	}), nil
}

// OpenStore opens the sqlite database or connects to Redis, per cfg.
func OpenStore(cfg config.Config) (Store, error) {
	switch cfg.Storage.Driver {
	case "redis":
		return db.NewRedisStore(db.RedisConfig{
			Address:  cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			Database: cfg.Storage.RedisDB,
		})
	case "", "sqlite":
		if err := config.EnsureDir(cfg.DBPath); err != nil {
			return nil, err
		}
		sqlDB, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return db.NewStore(sqlDB), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func Assemble(deps Deps) *App {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := cache.New(deps.Store, logger.WithComponent("cache"))
	eng := engine.New(engine.Options{
		Local:        c,
		Remote:       deps.Remote,
		Scheduler:    deps.Scheduler,
		Debounce:     deps.Config.Sync.Debounce,
		WriteTimeout: deps.Config.Remote.Timeout,
		Now:          deps.Now,
		Logger:       logger.WithComponent("engine"),
		Metrics:      engine.NewMetrics(registry),
	})
	session := engine.NewSession(eng, engine.SessionOptions{
		PollInterval: deps.Config.Sync.PollInterval,
		Scheduler:    deps.Scheduler,
		Logger:       logger.WithComponent("session"),
	})

	return &App{
		Config:   deps.Config,
		Cache:    c,
		Engine:   eng,
		Session:  session,
		Auth:     auth.NewBootstrapper(deps.Remote, deps.Retry, logger.WithComponent("auth")),
		Registry: registry,
		store:    deps.Store,
		remote:   deps.Remote,
		log:      logger.WithComponent("app"),
	}
}

// Credential returns the stored credential, or "" when logged out.
func (a *App) Credential(ctx context.Context) (string, error) {
	return a.Cache.Credential(ctx)
}

// Start resumes the stored account, if any, and begins background sync.
func (a *App) Start(ctx context.Context) error {
	credential, err := a.Credential(ctx)
	if err != nil {
		return err
	}
	if credential == "" {
		return ErrNotLoggedIn
	}
	a.activate(ctx, credential)
	return nil
}

// Sync loads the stored account without background polling and reconciles
// once with the remote. It suits one-shot commands.
func (a *App) Sync(ctx context.Context) (engine.Outcome, error) {
	credential, err := a.Credential(ctx)
	if err != nil {
		return "", err
	}
	if credential == "" {
		return "", ErrNotLoggedIn
	}
	a.Engine.Activate(credential)
	a.startRecorder()
	a.Engine.LoadCached(ctx)
	return a.Engine.Refresh(ctx), nil
}

// Login validates code, registers it if the server does not know it and
// makes it the active account.
func (a *App) Login(ctx context.Context, code string) (string, error) {
	credential, err := a.Auth.Login(ctx, code)
	if err != nil {
		return "", err
	}
	if err := a.switchTo(ctx, credential); err != nil {
		return "", err
	}
	return credential, nil
}

// CreateAccount registers a freshly generated code and logs in with it.
func (a *App) CreateAccount(ctx context.Context) (string, error) {
	credential, err := a.Auth.CreateNew(ctx)
	if err != nil {
		return "", err
	}
	if err := a.switchTo(ctx, credential); err != nil {
		return "", err
	}
	return credential, nil
}

func (a *App) switchTo(ctx context.Context, credential string) error {
	previous, err := a.Credential(ctx)
	if err != nil {
		return err
	}
	if previous != "" && previous != credential {
		if err := a.Logout(ctx); err != nil {
			return err
		}
	}
	if err := a.Cache.SetCredential(ctx, credential); err != nil {
		return err
	}
	a.record(ctx, "login", "")
	a.activate(ctx, credential)
	return nil
}

func (a *App) activate(ctx context.Context, credential string) {
	a.Engine.Activate(credential)
	a.startRecorder()
	a.Session.Start(ctx)
}

// Logout stops syncing, drops any unsent write and removes the account's
// data and credential from this device.
func (a *App) Logout(ctx context.Context) error {
	a.Session.Stop()
	a.Engine.Deactivate()

	if err := a.Cache.ClearData(ctx); err != nil {
		return err
	}
	if err := a.Cache.ClearCredential(ctx); err != nil {
		return err
	}
	a.record(ctx, "logout", "")
	return nil
}

// DeleteAccount asks the server to erase the account and then logs out. A
// failed remote call is logged; the local logout still happens.
func (a *App) DeleteAccount(ctx context.Context) error {
	credential, err := a.Credential(ctx)
	if err != nil {
		return err
	}
	if credential == "" {
		return ErrNotLoggedIn
	}

	// No debounced write may land after the tombstone.
	a.Session.Stop()
	a.Engine.Deactivate()

	if err := a.remote.DeleteAccount(ctx, credential); err != nil {
		a.log.Errorw("deleting remote account", "error", err)
		a.record(ctx, "delete_failed", err.Error())
	}
	return a.Logout(ctx)
}

func (a *App) Theme(ctx context.Context) model.Theme {
	return a.Cache.Theme(ctx)
}

func (a *App) SetTheme(ctx context.Context, theme model.Theme) error {
	return a.Cache.SetTheme(ctx, theme)
}

func (a *App) SyncLog(ctx context.Context, limit int) ([]model.SyncLogEntry, error) {
	return a.store.ListSyncLog(ctx, limit)
}

// Close stops background work, sends any pending write and closes the store.
func (a *App) Close(ctx context.Context) error {
	a.Session.Stop()
	if err := a.Engine.Flush(ctx); err != nil {
		a.log.Warnw("final write failed", "error", err)
	}
	a.stopRecorder()
	return a.store.Close()
}

// startRecorder copies sync events into the persistent sync log.
func (a *App) startRecorder() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopEvents != nil {
		return
	}

	events, unsubscribe := a.Engine.Subscribe(64)
	a.stopEvents = unsubscribe
	a.recorder.Add(1)
	go func() {
		defer a.recorder.Done()
		for event := range events {
			if event.Kind == engine.EventLocalChange {
				continue
			}
			a.record(context.Background(), string(event.Kind), event.Detail())
		}
	}()
}

func (a *App) stopRecorder() {
	a.mu.Lock()
	stop := a.stopEvents
	a.stopEvents = nil
	a.mu.Unlock()

	if stop != nil {
		stop()
	}
	a.recorder.Wait()
}

func (a *App) record(ctx context.Context, kind, detail string) {
	if _, err := a.store.AppendSyncLog(ctx, kind, detail); err != nil {
		a.log.Warnw("appending sync log", "error", err)
	}
}
