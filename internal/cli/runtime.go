// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jeranaias/routerchat/internal/catalog"
	"github.com/jeranaias/routerchat/internal/cloud"
	"github.com/jeranaias/routerchat/internal/config"
	"github.com/jeranaias/routerchat/internal/logging"
	"github.com/jeranaias/routerchat/internal/model"
	"github.com/jeranaias/routerchat/internal/session"
	"github.com/jeranaias/routerchat/internal/storage"
	"github.com/jeranaias/routerchat/internal/telemetry"
	"github.com/jeranaias/routerchat/internal/transcript"
	"github.com/jeranaias/routerchat/internal/usage"
)

// Runtime is the set of long-lived collaborators a command works with.
type Runtime struct {
	Config      *config.Config
	Logger      *zap.Logger
	Credentials *config.CredentialStore
	KeySource   config.KeySource
	Client      *cloud.Client
	Tracer      trace.Tracer
	Metrics     *telemetry.Metrics
	Publisher   usage.Publisher

	// PromptKey asks for a replacement API key. Nil when no terminal is
	// attached to answer.
	PromptKey func(prompt string) (string, error)

	closers []func() error
}

// NewRuntime loads configuration and builds the shared collaborators.
// Global flags override config values. The caller must Close it.
func NewRuntime(c *cli.Context) (*Runtime, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("model") {
		cfg.Chat.DefaultModel = strings.TrimSpace(c.String("model"))
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = strings.ToLower(c.String("log-level"))
		if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
			return nil, &UsageError{Msg: err.Error()}
		}
	}

	r := &Runtime{Config: cfg}

	logPath, err := cfg.LogPath()
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := logging.New(logPath, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	r.Logger = logger
	r.closers = append(r.closers, closeLog)

	r.Credentials, err = config.NewCredentialStore("")
	if err != nil {
		r.Close()
		return nil, err
	}
	key, source, err := r.Credentials.Key()
	if err != nil {
		r.Close()
		return nil, err
	}
	r.KeySource = source
	r.PromptKey = keyPrompter(c)

	r.Client = cloud.NewClient(key).
		WithBaseURL(cfg.API.BaseURL).
		WithTimeout(cfg.API.Timeout()).
		WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst).
		WithLogger(logger)
	if cfg.API.SiteURL != "" || cfg.API.SiteName != "" {
		r.Client.WithSite(cfg.API.SiteURL, cfg.API.SiteName)
	}

	tp, shutdown := telemetry.NewTracerProvider(cfg.Telemetry.Traces, logger)
	r.Tracer = telemetry.Tracer(tp)
	r.closers = append(r.closers, func() error { return shutdown(context.Background()) })

	r.Metrics, err = telemetry.NewMetrics(nil)
	if err != nil {
		r.Close()
		return nil, err
	}

	r.Publisher = usage.NopPublisher{}
	if cfg.Events.Enabled {
		pub, err := usage.NewRedisPublisher(usage.RedisConfig{
			URL:       cfg.Events.RedisURL,
			Channel:   cfg.Events.Channel,
			TotalsKey: cfg.Events.TotalsKey,
		})
		if err != nil {
			r.Close()
			return nil, err
		}
		r.Publisher = pub
		r.closers = append(r.closers, pub.Close)
	}

	logger.Debug("runtime ready",
		zap.String("base_url", r.Client.BaseURL()),
		zap.String("key_source", source.String()),
		zap.String("key", r.Client.APIKeyMasked()),
		zap.Bool("events", cfg.Events.Enabled),
		zap.Bool("traces", cfg.Telemetry.Traces))
	return r, nil
}

// Close releases everything in reverse order of acquisition.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// NewController builds a controller whose reconciler reports into the
// same transcript.
func (r *Runtime) NewController(ref model.ModelRef, async bool) *session.Controller {
	tr := transcript.New()
	reconciler := usage.NewReconciler(r.Client, tr,
		usage.WithPolicy(r.Config.Reconcile.Policy()),
		usage.WithPublisher(r.Publisher),
		usage.WithMetrics(r.Metrics),
		usage.WithTracer(r.Tracer),
		usage.WithLogger(r.Logger),
	)
	return session.NewController(r.Client, reconciler,
		session.WithTranscript(tr),
		session.WithModel(ref),
		session.WithSystemPrompt(r.Config.Chat.SystemPrompt),
		session.WithAsyncReconcile(async),
		session.WithTracer(r.Tracer),
		session.WithMetrics(r.Metrics),
		session.WithLogger(r.Logger),
	)
}

// OpenStore opens the chat database named by the config.
func (r *Runtime) OpenStore() (*storage.Store, error) {
	path, err := r.Config.StoragePath()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(path, r.Logger)
	if err != nil {
		return nil, err
	}
	if r.Config.Storage.MaxChats > 0 {
		store.SetMaxChats(r.Config.Storage.MaxChats)
	}
	return store, nil
}

// keyPrompter builds a Runtime's PromptKey. Replaced in tests.
var keyPrompter = func(c *cli.Context) func(prompt string) (string, error) {
	if !IsTTY() {
		return nil
	}
	w := c.App.Writer
	return func(prompt string) (string, error) {
		return readSecret(w, prompt)
	}
}

const (
	promptMissingKey  = "OpenRouter API key: "
	promptRejectedKey = "The API key was rejected. New OpenRouter API key: "
)

// LoadCatalog fetches the model list. A missing key is prompted for. A
// rejected key is cleared from the credential store and, when a terminal
// is attached, replaced by a prompted one before a single retry.
func (r *Runtime) LoadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	if !r.ensureKey() {
		return nil, session.ErrNoCredential
	}

	cat, err := r.FetchCatalog(ctx)
	if !errors.Is(err, catalog.ErrCredentialRejected) || r.PromptKey == nil {
		return cat, err
	}
	r.Client.SetAPIKey("")
	if perr := r.promptForKey(promptRejectedKey); perr != nil {
		r.Logger.Debug("no replacement key entered", zap.Error(perr))
		return nil, err
	}
	return r.FetchCatalog(ctx)
}

// FetchCatalog fetches the model list with the current key and never
// prompts. A rejected key is cleared from the credential store.
func (r *Runtime) FetchCatalog(ctx context.Context) (*catalog.Catalog, error) {
	loader := catalog.Loader{
		Lister:      r.Client,
		Credentials: r.Credentials,
		Logger:      r.Logger,
	}
	return loader.Load(ctx)
}

// ReplaceKey validates and stores key, then points the client at it.
func (r *Runtime) ReplaceKey(key string) error {
	key = strings.TrimSpace(key)
	if err := config.ValidateAPIKey(key); err != nil {
		return &UsageError{Msg: err.Error()}
	}
	if err := r.Credentials.Set(key); err != nil {
		return err
	}
	r.Client.SetAPIKey(key)
	r.Logger.Info("api key replaced", zap.String("key", r.Client.APIKeyMasked()))
	return nil
}

// SwapKey replaces the key and reloads the model list with it. A rejected
// key leaves the client unconfigured.
func (r *Runtime) SwapKey(ctx context.Context, key string) (*catalog.Catalog, error) {
	if err := r.ReplaceKey(key); err != nil {
		return nil, err
	}
	cat, err := r.FetchCatalog(ctx)
	if errors.Is(err, catalog.ErrCredentialRejected) {
		r.Client.SetAPIKey("")
	}
	return cat, err
}

// ensureKey prompts for a key when none is configured. It reports whether
// the client has one afterwards.
func (r *Runtime) ensureKey() bool {
	if r.Client.IsConfigured() {
		return true
	}
	if r.PromptKey == nil {
		return false
	}
	if err := r.promptForKey(promptMissingKey); err != nil {
		r.Logger.Debug("no key entered", zap.Error(err))
		return false
	}
	return true
}

func (r *Runtime) promptForKey(prompt string) error {
	key, err := r.PromptKey(prompt)
	if err != nil {
		return err
	}
	return r.ReplaceKey(key)
}

// ResolveModel picks the model for a conversation. A configured model is
// used as is; otherwise the catalog is loaded and the preferred list
// consulted. The catalog is nil when it was not needed.
func (r *Runtime) ResolveModel(ctx context.Context) (model.ModelRef, *catalog.Catalog, error) {
	// without a key the controller reports the missing credential
	r.ensureKey()
	if id := r.Config.Chat.DefaultModel; id != "" {
		return model.NewModelRef(id, ""), nil, nil
	}

	cat, err := r.LoadCatalog(ctx)
	if err != nil {
		return model.ModelRef{}, nil, err
	}
	m, ok := cat.DefaultModel(r.Config.Chat.PreferredModels)
	if !ok {
		return model.ModelRef{}, cat, fmt.Errorf("the router offered no models: %w", session.ErrNoModel)
	}
	return m.Ref(), cat, nil
}

// withRuntime runs fn with a fresh Runtime and closes it afterwards.
func withRuntime(fn func(c *cli.Context, rt *Runtime) error) cli.ActionFunc {
	return action(func(c *cli.Context) error {
		rt, err := NewRuntime(c)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(c, rt)
	})
}
