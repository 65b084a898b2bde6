package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gatemesh/pathsync/internal/config"
	"github.com/gatemesh/pathsync/internal/registry"
	"github.com/gatemesh/pathsync/internal/schedule"
	"github.com/gatemesh/pathsync/internal/store"
	isync "github.com/gatemesh/pathsync/internal/sync"
	"github.com/gatemesh/pathsync/internal/topology"
	"github.com/gatemesh/pathsync/internal/transport"
)

// httpClientTimeout bounds one request to the HTTP gateway bridge.
const httpClientTimeout = 30 * time.Second

const dbDirPermissions = 0o700

// app is the set of collaborators a command works with, built from the
// resolved config.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     store.Store
	paths     *store.Updater
	engine    *schedule.Engine
	flow      *topology.FlowController
	registry  *registry.Static
	transport transport.Transport
	closers   []io.Closer
}

// openApp opens the path store and wires the engine, flow controller,
// registry and node links. Callers must Close the app.
func openApp(ctx context.Context, cc *CLIContext) (*app, error) {
	cfg := cc.Cfg

	if cfg.Store.Backend != store.BackendMemory {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.DBPath), dbDirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	st, err := store.Open(ctx, cfg.Store.Backend, cfg.Store.DBPath, cc.Logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   cc.Logger,
		store:    st,
		paths:    store.NewUpdater(st),
		engine:   schedule.NewEngine(cfg.Schedule.Location()),
		flow:     topology.NewFlowController(cc.Logger),
		registry: registry.NewStatic(cfg.RegistryNodes()),
	}

	a.transport = a.buildRouter(ctx)

	return a, nil
}

// buildRouter creates a link per configured transport section. Nodes that
// name no link use the first configured one of http, websocket, serial.
func (a *app) buildRouter(ctx context.Context) *transport.Router {
	tc := a.cfg.Transport
	links := make(map[string]transport.Transport)
	fallback := ""

	if tc.HTTP.BaseURL != "" {
		retries := tc.HTTP.MaxRetries
		if retries == 0 {
			retries = -1
		}

		client := transport.NewAuthClient(ctx, transport.AuthConfig{
			Token:        tc.HTTP.Token,
			TokenURL:     tc.HTTP.TokenURL,
			ClientID:     tc.HTTP.ClientID,
			ClientSecret: tc.HTTP.ClientSecret,
		}, &http.Client{Timeout: httpClientTimeout})

		links[transport.LinkHTTP] = transport.NewHTTPBridge(transport.HTTPBridgeConfig{
			BaseURL:    tc.HTTP.BaseURL,
			HTTPClient: client,
			MaxRetries: retries,
			Logger:     a.logger,
		})
		fallback = transport.LinkHTTP
	}

	if tc.WebSocket.URL != "" {
		ws := transport.NewWebSocket(tc.WebSocket.URL, nil, a.logger)
		links[transport.LinkWebSocket] = ws
		a.closers = append(a.closers, ws)

		if fallback == "" {
			fallback = transport.LinkWebSocket
		}
	}

	if tc.Serial.Device != "" {
		serial := transport.NewSerial(tc.Serial.Device, a.logger)
		links[transport.LinkSerial] = serial
		a.closers = append(a.closers, serial)

		if fallback == "" {
			fallback = transport.LinkSerial
		}
	}

	return transport.NewRouter(a.registry, links, fallback, a.logger)
}

// orchestrator builds a sync orchestrator from the [sync] section.
func (a *app) orchestrator(onProgress func(string, isync.Attempt)) *isync.Orchestrator {
	sc := a.cfg.Sync

	return isync.NewOrchestrator(isync.OrchestratorConfig{
		Engine:          a.engine,
		SendTimeout:     sc.SendTimeoutDuration(),
		Workers:         sc.Workers,
		MaxAttempts:     sc.MaxAttempts,
		RetryBaseDelay:  sc.RetryBaseDelayDuration(),
		RetryMaxDelay:   sc.RetryMaxDelayDuration(),
		MinSendInterval: sc.MinSendIntervalDuration(),
		OnProgress:      onProgress,
		Logger:          a.logger,
	})
}

// Close releases the links and the store.
func (a *app) Close() error {
	var errs []error

	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}

	errs = append(errs, a.store.Close())

	return errors.Join(errs...)
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, cc *CLIContext, fn func(a *app) error) (err error) {
	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(a)
}
