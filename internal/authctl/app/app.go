package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aussiebroadwan/tenantauth/internal/authctl/store"
	"github.com/aussiebroadwan/tenantauth/internal/authctl/store/drivers/sqlite"
	"github.com/aussiebroadwan/tenantauth/pkg/authsdk"
	"github.com/aussiebroadwan/tenantauth/pkg/cryptox"
	"github.com/aussiebroadwan/tenantauth/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
var BuildVersion = "v0.1.0"

const (
	// MasterKeyEnv holds the cookie sealing key when set, taking precedence
	// over the key file.
	MasterKeyEnv = "AUTHCTL_MASTER_KEY"
)

// ErrServerLogout is returned by Logout when local state was cleared but the
// auth service did not confirm the end of the session.
var ErrServerLogout = errors.New("auth service did not confirm logout")

// Application holds the session and everything it persists to.
type Application struct {
	cfg    Config
	logger *slog.Logger
	out    io.Writer

	db        store.Store
	jar       *store.PersistentJar
	client    *authsdk.SDKClient
	session   *authsdk.Session
	providers *authsdk.ProviderCache
}

// New opens the cookie store and builds an idle session on top of it.
func New(ctx context.Context, cfg Config, out io.Writer) (*Application, error) {
	if out == nil {
		out = os.Stdout
	}

	app := &Application{
		cfg: cfg,
		out: out,
		logger: slogx.New(slogx.Config{
			Service: "authctl",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initJar(ctx); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	if err := app.initSession(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	return app, nil
}

// initDatabase opens the store and applies migrations.
func (app *Application) initDatabase() error {
	if err := os.MkdirAll(filepath.Dir(app.cfg.StoreFile), 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sqlite.NewStore(sqlite.DSN(app.cfg.StoreFile))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	version, _, err := db.SchemaVersion()
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	app.logger.Debug("database migrations applied", "file", app.cfg.StoreFile, "version", version)
	return nil
}

// initJar loads the sealed session cookies.
func (app *Application) initJar(ctx context.Context) error {
	key, ephemeral, err := cryptox.LoadMasterKey(app.cfg.MasterKeyPath, MasterKeyEnv)
	if err != nil {
		return fmt.Errorf("failed to load master key: %w", err)
	}
	if ephemeral {
		app.logger.Warn("no master key configured, sessions will not survive this process")
	}

	sealer, err := cryptox.NewSealer(key, store.CookieSealInfo)
	if err != nil {
		return fmt.Errorf("failed to create cookie sealer: %w", err)
	}

	jar, err := store.OpenJar(ctx, app.db.Cookies(), sealer, app.logger)
	if err != nil {
		return fmt.Errorf("failed to open cookie jar: %w", err)
	}
	app.jar = jar
	return nil
}

func (app *Application) initSession() error {
	client, err := authsdk.NewSDKClient(authsdk.ClientOptions{
		Timeout:   app.cfg.RequestTimeout,
		Jar:       app.jar,
		Transport: app.cfg.Transport,
		RateLimit: app.cfg.RateLimit,
		UserAgent: "authctl/" + BuildVersion,
		Logger:    app.logger,
	})
	if err != nil {
		return err
	}
	app.client = client

	nav := app.cfg.Navigator
	if nav == nil {
		nav = authsdk.BrowserNavigator{Out: app.out, Logger: app.logger}
	}

	session, err := authsdk.NewSession(app.cfg.SDKConfig(), authsdk.Options{
		Client:    client,
		Origin:    app.cfg.LoopbackOrigin(),
		Navigator: nav,
		Logger:    app.logger,
	})
	if err != nil {
		return err
	}
	app.session = session

	app.providers = authsdk.NewProviderCache(client, authsdk.ProviderCacheOptions{Logger: app.logger})
	return nil
}

// Session returns the session, bootstrapped from the stored cookie.
func (app *Application) Session(ctx context.Context) (*authsdk.Session, error) {
	if err := app.session.Start(ctx); err != nil {
		return nil, err
	}
	return app.session, nil
}

// Login opens the authorize URL and waits for the loopback callback to
// complete the code exchange.
func (app *Application) Login(ctx context.Context, opts authsdk.LoginOptions) (authsdk.AuthState, error) {
	if _, err := app.session.Resolve(ctx); err != nil {
		return authsdk.AuthState{}, err
	}

	cs := newCallbackServer(app.session, app.cfg.CallbackPort, app.logger)
	if err := cs.Start(); err != nil {
		return authsdk.AuthState{}, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cs.Shutdown(shutdownCtx); err != nil {
			app.logger.Warn("callback server shutdown failed", "error", err)
		}
	}()

	if err := app.session.Login(ctx, opts); err != nil {
		return authsdk.AuthState{}, fmt.Errorf("failed to open the sign-in page: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, app.cfg.LoginTimeout)
	defer cancel()
	if err := cs.Wait(waitCtx); err != nil {
		return authsdk.AuthState{}, err
	}

	if err := app.session.LoadOrganizations(ctx); err != nil {
		app.logger.Debug("organization list unavailable", "error", err)
	}
	return app.session.State(), nil
}

// Logout ends the server session and forgets every stored cookie, even
// when the auth service could not be reached.
func (app *Application) Logout(ctx context.Context) error {
	session, err := app.Session(ctx)
	if err != nil {
		app.logger.Debug("session bootstrap before logout failed", "error", err)
		session = app.session
	}

	logoutErr := session.Logout(ctx)
	if logoutErr != nil {
		app.logger.Warn("server logout failed", "error", logoutErr)
	}

	if err := app.jar.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear stored session: %w", err)
	}
	if logoutErr != nil {
		return fmt.Errorf("%w: %w", ErrServerLogout, logoutErr)
	}
	return nil
}

// Providers returns the client's sign-in providers. refresh bypasses the
// cache.
func (app *Application) Providers(ctx context.Context, refresh bool) (authsdk.ProviderDirectory, error) {
	r, err := app.session.Resolve(ctx)
	if err != nil {
		return authsdk.ProviderDirectory{}, err
	}

	if refresh {
		return app.providers.Revalidate(ctx, r.AuthURL, r.ClientID)
	}
	return app.providers.Get(ctx, r.AuthURL, r.ClientID)
}

// Close stops the session and releases the store. Cookies written by the
// session have already been persisted.
func (app *Application) Close() error {
	var errs []error

	if err := app.session.Close(); err != nil {
		errs = append(errs, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if n, err := app.db.Cookies().DeleteExpiredCookies(ctx, time.Now()); err != nil {
		app.logger.Warn("failed to prune expired cookies", "error", err)
	} else if n > 0 {
		app.logger.Debug("expired cookies pruned", "count", n)
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
