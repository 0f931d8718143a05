package pinflow

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/MrEthical07/pinflow/authapi"
	"github.com/MrEthical07/pinflow/flow"
	"github.com/MrEthical07/pinflow/internal/audit"
	"github.com/MrEthical07/pinflow/kv"
	"github.com/MrEthical07/pinflow/pin"
	"github.com/MrEthical07/pinflow/pinhash"
	"github.com/MrEthical07/pinflow/session"
	"github.com/MrEthical07/pinflow/token"
	"github.com/MrEthical07/pinflow/transport"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. A Builder is single-use.
type Builder struct {
	config Config

	store       kv.Store
	redis       redis.UniversalClient
	auth        authapi.Service
	httpClient  *http.Client
	clock       clockwork.Clock
	logger      *zap.Logger
	auditSink   AuditSink
	probe       flow.DeviceProbe
	definitions flow.Definitions

	built bool
}

// New returns a builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the secure key-value backend. It takes precedence over WithRedis.
func (b *Builder) WithStore(store kv.Store) *Builder {
	b.store = store
	return b
}

// WithRedis stores everything in Redis through client. The engine does not close client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAuthService replaces the HTTP auth client built from Config.AuthAPI.
func (b *Builder) WithAuthService(svc authapi.Service) *Builder {
	b.auth = svc
	return b
}

// WithHTTPClient sets the client for unauthenticated auth calls. Its Transport also becomes
// the base of the refreshing transport.
func (b *Builder) WithHTTPClient(hc *http.Client) *Builder {
	b.httpClient = hc
	return b
}

func (b *Builder) WithClock(clock clockwork.Clock) *Builder {
	b.clock = clock
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit destination and enables the audit dispatcher.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	if sink != nil {
		b.config.Audit.Enabled = true
	}
	return b
}

func (b *Builder) WithDeviceProbe(probe flow.DeviceProbe) *Builder {
	b.probe = probe
	return b
}

// WithDefinitions replaces the default step tables.
func (b *Builder) WithDefinitions(defs flow.Definitions) *Builder {
	b.definitions = defs
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every service.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		l, err := NewLogger(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("%w: logger: %v", ErrConfig, err)
		}
		logger = l
	}
	clock := b.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	e := &Engine{
		config:  cfg,
		clock:   clock,
		logger:  logger,
		metrics: NewMetrics(cfg.Metrics),
	}

	defer func() {
		if !b.built && e.ownedRedis != nil {
			_ = e.ownedRedis.Close()
		}
	}()

	// -------- STORAGE --------
	store, err := b.buildStore(cfg, e)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.EncryptionKey != "" {
		key, err := cfg.Storage.encryptionKey()
		if err != nil {
			return nil, err
		}
		sealed, err := kv.Sealed(store, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		store = sealed
	}
	prefix := cfg.Storage.KeyPrefix

	// -------- PIN / SESSION --------
	hasher, err := pinhash.NewArgon2(pinhash.Config{
		Memory:      cfg.PIN.Memory,
		Time:        cfg.PIN.Time,
		Parallelism: cfg.PIN.Parallelism,
		SaltLength:  cfg.PIN.SaltLength,
		KeyLength:   cfg.PIN.KeyLength,
	}, pinhash.Policy{MinLength: cfg.PIN.MinLength, MaxLength: cfg.PIN.MaxLength})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	pins, err := pin.NewService(pin.NewStore(store, prefix), pin.Options{
		MaxAttempts:  cfg.PIN.MaxAttempts,
		LockDuration: cfg.PIN.LockDuration,
		Hasher:       hasher,
		Clock:        clock,
		Logger:       logger.Named("pin"),
		Observer:     e.observePin,
	})
	if err != nil {
		return nil, err
	}
	sessionStore := session.NewStore(store, prefix)
	sessions, err := session.NewService(sessionStore, session.Options{
		TTL:      cfg.Session.TTL,
		Clock:    clock,
		Logger:   logger.Named("session"),
		Pins:     pins,
		Observer: e.observeSession,
	})
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	method := token.SigningMethod(strings.ToLower(cfg.Token.SigningMethod))
	tokenCfg := token.Config{
		SigningMethod: method,
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		ExpiryBuffer:  cfg.Token.ExpiryBuffer,
		Clock:         clock,
	}
	switch method {
	case token.MethodHS256:
		tokenCfg.SigningKey = []byte(cfg.Token.VerifyKey)
	case token.MethodEd25519:
		tokenCfg.VerifyKey = []byte(cfg.Token.VerifyKey)
	}
	manager, err := token.NewManager(tokenCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	creds := transport.NewCredentials(token.NewStore(store, prefix))

	// -------- AUTH SERVICE / TRANSPORT --------
	auth := b.auth
	var client *authapi.Client
	if auth == nil {
		if cfg.AuthAPI.BaseURL == "" {
			return nil, fmt.Errorf("%w: AuthAPI BaseURL or WithAuthService required", ErrConfig)
		}
		client, err = authapi.New(authapi.Options{
			BaseURL:             cfg.AuthAPI.BaseURL,
			HTTPClient:          b.httpClient,
			Timeout:             cfg.AuthAPI.Timeout,
			ResendCooldown:      cfg.AuthAPI.OTPResendCooldown,
			BreakerTimeout:      cfg.AuthAPI.BreakerTimeout,
			BreakerMinRequests:  cfg.AuthAPI.BreakerMinRequests,
			BreakerFailureRatio: cfg.AuthAPI.BreakerFailureRatio,
			Clock:               clock,
			Logger:              logger.Named("authapi"),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		auth = client
	}

	var base http.RoundTripper
	if b.httpClient != nil {
		base = b.httpClient.Transport
	}
	tr, err := transport.New(transport.Options{
		Base:             base,
		Credentials:      creds,
		Refresher:        auth,
		MaxRetries:       cfg.Transport.MaxRetries,
		RetryDelay:       cfg.Transport.RetryDelay,
		Clock:            clock,
		Logger:           logger.Named("transport"),
		OnRefresh:        e.observeRefresh,
		OnRefreshFailure: e.onRefreshFailure,
	})
	if err != nil {
		return nil, err
	}
	if client != nil {
		client.SetAuthenticatedClient(tr.Client(cfg.AuthAPI.Timeout))
	}

	// -------- FLOWS --------
	ctxBuilder := flow.NewContextBuilder(flow.BuilderOptions{
		Sessions: sessionStore,
		Pins:     pins,
		Tokens:   creds,
		Validity: manager,
		Clock:    clock,
		Logger:   logger.Named("flow"),
	})
	handlers, err := flow.DefaultHandlers(flow.HandlerDeps{
		Auth:           auth,
		Credentials:    creds,
		Pins:           pins,
		Sessions:       sessions,
		Clock:          clock,
		Logger:         logger.Named("flow"),
		OTPTTL:         cfg.Flow.OTPTTL,
		DefaultChannel: authapi.Channel(cfg.Flow.OTPChannel),
	})
	if err != nil {
		return nil, err
	}
	registry, err := flow.NewRegistry(handlers...)
	if err != nil {
		return nil, err
	}
	probe := b.probe
	if probe == nil {
		probe = flow.RuntimeProbe
	}
	orch, err := flow.NewOrchestrator(flow.Options{
		Builder:     ctxBuilder,
		Registry:    registry,
		Definitions: b.definitions,
		DeviceProbe: probe,
		Clock:       clock,
		Logger:      logger.Named("flow"),
		Observer:    e.observeFlow,
	})
	if err != nil {
		return nil, err
	}

	e.store = store
	e.pins = pins
	e.sessions = sessions
	e.manager = manager
	e.creds = creds
	e.auth = auth
	e.transport = tr
	e.httpClient = &http.Client{
		Transport: expiredSessionTransport{next: tr},
		Timeout:   cfg.Transport.RequestTimeout,
	}
	e.orchestrator = orch
	e.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, clock, logger.Named("audit"))

	b.built = true
	return e, nil
}

func (b *Builder) buildStore(cfg Config, e *Engine) (kv.Store, error) {
	switch {
	case b.store != nil:
		return b.store, nil
	case b.redis != nil:
		return kv.NewRedisStore(b.redis), nil
	case cfg.Storage.RedisAddr != "":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		e.ownedRedis = rdb
		return kv.NewRedisStore(rdb), nil
	default:
		return nil, fmt.Errorf("%w: storage backend required (WithStore, WithRedis or Storage RedisAddr)", ErrConfig)
	}
}
