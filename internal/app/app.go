// Package app wires the client's stores together. One App is built at startup
// and shared by every surface that needs the session or the device mirror.
package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"ecodispose/client/internal/api"
	"ecodispose/client/internal/config"
	"ecodispose/client/internal/devices"
	"ecodispose/client/internal/guard"
	"ecodispose/client/internal/model"
	"ecodispose/client/internal/session"
	"ecodispose/client/internal/storage"
	"ecodispose/client/internal/toast"
)

type App struct {
	Config  config.Config
	Logger  log.FieldLogger
	API     *api.Client
	Storage storage.Storage
	Toasts  *toast.Notifier
	Devices *devices.Cache
	Session *session.Store
	Routes  *guard.Table
}

func New(ctx context.Context, cfg config.Config, logger log.FieldLogger) (*App, error) {
	client, err := api.New(cfg.APIBaseURL, cfg.APITimeout)
	if err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return Build(cfg, logger, client, store), nil
}

// Build assembles an App from an existing API client and storage backend.
func Build(cfg config.Config, logger log.FieldLogger, client *api.Client, store storage.Storage) *App {
	policy := toast.ParsePolicy(cfg.ToastFailureOps)
	notifier := toast.NewNotifier(cfg.ToastTTL)
	cache := devices.NewCache(client, notifier, policy, logger, cfg.DevicePlaceholder)
	sess := session.New(session.Options{
		API:         client,
		Devices:     cache,
		Notifier:    notifier,
		Snapshots:   store,
		Policy:      policy,
		Logger:      logger,
		Placeholder: cfg.ProfilePlaceholder,
	})
	return &App{
		Config:  cfg,
		Logger:  logger,
		API:     client,
		Storage: store,
		Toasts:  notifier,
		Devices: cache,
		Session: sess,
		Routes:  guard.NewTable(guard.DefaultRoutes()),
	}
}

// Boot reads the persisted hint and asks the backend for the live session.
func (a *App) Boot(ctx context.Context) model.Result {
	a.Session.Restore(ctx)
	if hint, ok := a.Session.Hint(); ok {
		a.Logger.WithField("user_id", hint.ID).Debug("previous session hint found")
	}
	return a.Session.CheckAuth(ctx)
}

// Navigate resolves path against the route table for the current session.
func (a *App) Navigate(path string) guard.Navigation {
	var current *model.User
	if user, ok := a.Session.Current(); ok {
		current = &user
	}
	return a.Routes.Navigate(path, current)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.Session.Wait()
	a.Toasts.Close()
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.WithError(err).Warn("closing storage failed")
		}
	}
}
