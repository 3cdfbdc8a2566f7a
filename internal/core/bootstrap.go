package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ParleSec/defra-id-stub/internal/cookiesession"
	"github.com/ParleSec/defra-id-stub/internal/crypto"
	"github.com/ParleSec/defra-id-stub/internal/flow"
	"github.com/ParleSec/defra-id-stub/internal/lookingglass"
	"github.com/ParleSec/defra-id-stub/internal/openid"
	"github.com/ParleSec/defra-id-stub/internal/people"
	"github.com/ParleSec/defra-id-stub/internal/plugin"
	"github.com/ParleSec/defra-id-stub/internal/session"
	"github.com/ParleSec/defra-id-stub/internal/token"
	"github.com/ParleSec/defra-id-stub/internal/views"
)

// BootstrapOptions controls how shared dependencies are built
type BootstrapOptions struct {
	// ObjectAPI replaces the S3 client built from the AWS settings
	ObjectAPI people.ObjectAPI
}

// BootstrapResult holds initialized dependencies and plugin config
type BootstrapResult struct {
	Config       *Config
	Keys         *crypto.KeyManager
	Sessions     *session.Store
	Tokens       *token.Service
	LookingGlass *lookingglass.Engine
	PluginConfig plugin.PluginConfig
}

// Close releases the session store
func (b *BootstrapResult) Close() error {
	return b.Sessions.Close()
}

// Bootstrap initializes shared dependencies. Any failure here is fatal to startup.
func Bootstrap(ctx context.Context, cfg *Config, logger *zap.Logger, opts BootstrapOptions) (*BootstrapResult, error) {
	keys := crypto.NewKeyManager(cfg.StorageDir)
	if _, err := keys.EnsureKeys(); err != nil {
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	logger.Info("Signing keys initialized", zap.String("dir", cfg.StorageDir), zap.String("kid", crypto.KeyID))

	adapter, err := session.NewAdapter(ctx, session.AdapterConfig{
		Backend:      cfg.SessionStore,
		Dir:          cfg.StorageDir,
		SQLiteDriver: cfg.SessionSQLiteDriver,
		RedisURL:     cfg.RedisURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	sessions := session.NewStore(adapter, session.WithLogger(logger))
	if err := sessions.Load(ctx); err != nil {
		sessions.Close()
		return nil, err
	}
	logger.Info("Session store initialized", zap.String("backend", cfg.SessionStore), zap.Int("sessions", sessions.Len()))

	var datasets *people.S3Store
	if cfg.S3Enabled {
		api := opts.ObjectAPI
		if api == nil {
			client, err := people.NewS3Client(ctx, people.S3Config{
				Region:          cfg.AWSRegion,
				Endpoint:        cfg.AWSEndpoint,
				AccessKeyID:     cfg.AWSAccessKeyID,
				SecretAccessKey: cfg.AWSSecretAccessKey,
				Bucket:          cfg.S3Bucket,
			})
			if err != nil {
				sessions.Close()
				return nil, err
			}
			api = client
		}
		datasets = people.NewS3Store(api, cfg.S3Bucket, logger)
	}

	source, err := people.NewSource(people.SourceConfig{
		Mode:         people.Mode(cfg.AuthMode),
		Override:     cfg.AuthOverride,
		OverrideFile: cfg.AuthOverrideFile,
		DataDir:      cfg.DataDir,
		S3:           datasets,
	}, logger)
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("failed to initialize people data: %w", err)
	}

	cookies, err := cookiesession.NewManager(cookiesession.Config{
		Name:     cfg.CookieName,
		Password: cfg.CookiePassword,
		Secure:   cfg.CookieSecure,
	})
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("failed to initialize session cookie: %w", err)
	}

	renderer, err := views.New()
	if err != nil {
		sessions.Close()
		return nil, err
	}

	hosts := openid.NewHosts(openid.HostConfig{
		Environment:      cfg.Environment,
		Port:             cfg.Port,
		WellKnownHost:    cfg.WellKnownHost,
		WellKnownAPIHost: cfg.WellKnownAPIHost,
	})
	lg := lookingglass.NewEngine(lookingglass.DefaultHistory, logger)

	tokens := token.NewService(sessions, crypto.NewJWTService(keys), hosts,
		token.WithSingleUseCodes(cfg.SingleUseCodes),
		token.WithEvents(lg),
		token.WithLogger(logger),
	)
	machine := flow.NewMachine(people.NewDirectory(source), tokens, lg, logger)

	logger.Info("Identity provider initialized",
		zap.String("issuer", hosts.Issuer()),
		zap.String("dataSource", cfg.DataSource()),
		zap.Bool("singleUseCodes", cfg.SingleUseCodes),
	)

	return &BootstrapResult{
		Config:       cfg,
		Keys:         keys,
		Sessions:     sessions,
		Tokens:       tokens,
		LookingGlass: lg,
		PluginConfig: plugin.PluginConfig{
			Hosts:        hosts,
			Keys:         keys,
			Tokens:       tokens,
			Machine:      machine,
			Cookies:      cookies,
			Views:        renderer,
			Datasets:     datasets,
			LookingGlass: lg,
			Logger:       logger,
		},
	}, nil
}
