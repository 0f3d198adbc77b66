package tabsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/tabsync/alert"
	"github.com/MrEthical07/tabsync/oidc"
	"github.com/MrEthical07/tabsync/relay"
	"github.com/MrEthical07/tabsync/storage"
)

// Builder assembles one Client, that is one context of an origin. A Builder
// can be used once.
type Builder struct {
	config Config

	redis redis.UniversalClient
	hub   *storage.MemoryHub

	session   storage.Store
	contextID string

	logger    *slog.Logger
	tokens    TokenClient
	navigator Navigator
	alertSink alert.Sink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis selects a Redis keyspace, shared by every context using the same
// RedisPrefix, as the persistent store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMemoryHub selects an in-process origin as the persistent store.
func (b *Builder) WithMemoryHub(hub *storage.MemoryHub) *Builder {
	b.hub = hub
	return b
}

// WithSessionStore reuses an existing session store, which is how a reloaded
// context keeps its session data. By default every client gets a new one.
func (b *Builder) WithSessionStore(s storage.Store) *Builder {
	b.session = s
	return b
}

// WithContextID names the context. By default a random UUID is used.
func (b *Builder) WithContextID(id string) *Builder {
	b.contextID = id
	return b
}

// WithLogger sets the structured logger. If nil, slog.Default() is used.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithTokenClient sets the token endpoint client, overriding Config.Login.
func (b *Builder) WithTokenClient(tc TokenClient) *Builder {
	b.tokens = tc
	return b
}

// WithNavigator sets the routing collaborator used by the redirect helpers.
func (b *Builder) WithNavigator(n Navigator) *Builder {
	b.navigator = n
	return b
}

// WithAlertSink enables alerts and delivers them to sink.
func (b *Builder) WithAlertSink(sink alert.Sink) *Builder {
	b.alertSink = sink
	b.config.Alert.Enabled = sink != nil
	return b
}

// WithClock overrides the time source used for expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the relay handling histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, attaches the context to its origin and
// starts the relay handshake. The returned client is usable immediately;
// StorageReady reports when the handshake has settled.
func (b *Builder) Build(ctx context.Context) (*Client, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := b.contextID
	if id == "" {
		id = uuid.NewString()
	}

	var persistent storage.Persistent
	switch {
	case b.redis != nil && b.hub != nil:
		return nil, errors.New("choose either WithRedis or WithMemoryHub")
	case b.redis != nil:
		persistent = storage.NewRedisHub(b.redis, cfg.Relay.RedisPrefix).Open(id)
	case b.hub != nil:
		persistent = b.hub.Open(id)
	default:
		return nil, ErrNoBackend
	}

	session := b.session
	if session == nil {
		session = storage.NewSessionStore()
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("context", id)

	tokens := b.tokens
	if tokens == nil && cfg.Login.BaseURL != "" {
		oc, err := oidc.NewClient(oidc.Config{
			BaseURL:    cfg.Login.BaseURL,
			TokenPath:  cfg.Login.TokenPath,
			ClientID:   cfg.Login.ClientID,
			Scope:      cfg.Login.Scope,
			HTTPClient: &http.Client{Timeout: cfg.Login.Timeout},
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		tokens = oc
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	c := &Client{
		id:        id,
		config:    cfg,
		session:   session,
		logger:    logger,
		metrics:   NewMetrics(cfg.Metrics),
		tokens:    tokens,
		navigator: b.navigator,
		now:       now,
		subs:      make(map[uint64]*statusSub),
	}
	c.alerts = alert.NewDispatcher(alert.Config{
		Enabled:      cfg.Alert.Enabled,
		BufferSize:   cfg.Alert.BufferSize,
		DropIfFull:   cfg.Alert.DropIfFull,
		LoadingDelay: cfg.Alert.LoadingDelay,
	}, b.alertSink)

	c.relay = relay.New(persistent, session, relay.Config{
		Origin:         id,
		HandshakeGrace: cfg.Relay.HandshakeGrace,
		Logger:         logger,
		Hooks:          c.relayHooks(),
	})

	if err := c.relay.EnsureStarted(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("start relay: %w", err)
	}

	b.built = true
	return c, nil
}
