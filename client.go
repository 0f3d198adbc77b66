package tabsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/tabsync/alert"
	"github.com/MrEthical07/tabsync/relay"
	"github.com/MrEthical07/tabsync/storage"
)

// Client is one context of an origin. Methods are safe for concurrent use.
type Client struct {
	id        string
	config    Config
	relay     *relay.Relay
	session   storage.Store
	logger    *slog.Logger
	metrics   *Metrics
	alerts    *alert.Dispatcher
	tokens    TokenClient
	navigator Navigator
	now       func() time.Time

	statusMu         sync.Mutex
	previousLoggedIn bool
	announced        bool
	subs             map[uint64]*statusSub
	nextSub          uint64

	redirectMu       sync.Mutex
	loginRedirectURL string

	closeOnce sync.Once
	closed    bool
}

// ID returns the context identifier.
func (c *Client) ID() string {
	return c.id
}

// Storage returns the relay backing this client, for application data that
// should follow the same persistent/synced/session rules as the credential.
func (c *Client) Storage() *relay.Relay {
	return c.relay
}

// StorageReady is closed once the startup handshake with other contexts has
// settled. It closes exactly once per client.
func (c *Client) StorageReady() <-chan struct{} {
	return c.relay.Ready()
}

// MetricsSnapshot returns the current counters.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AlertDropped returns how many alerts were dropped under backpressure.
func (c *Client) AlertDropped() uint64 {
	return c.alerts.Dropped()
}

// Close detaches the context from its origin. Pending login status
// notifications are delivered first, then every subscriber channel is closed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.relay.Close()
		c.alerts.Close()

		c.statusMu.Lock()
		c.closed = true
		for id, sub := range c.subs {
			sub.close()
			delete(c.subs, id)
		}
		c.statusMu.Unlock()
	})
}

func (c *Client) relayHooks() relay.Hooks {
	return relay.Hooks{
		Sent: func(relay.Command) {
			c.metrics.Inc(MetricRelaySent)
		},
		Handled: func(_ relay.Command, elapsed time.Duration) {
			c.metrics.Inc(MetricRelayHandled)
			c.metrics.Observe(MetricRelayHandleLatency, elapsed)
		},
		Ignored: func(relay.Command) {
			c.metrics.Inc(MetricRelayIgnored)
		},
		Changed: func(ctx context.Context, key string) {
			c.metrics.Inc(MetricRemoteChange)
			if isStatusKey(key) {
				c.reevaluate(ctx)
			}
		},
		Ready: func(ctx context.Context) {
			c.metrics.Inc(MetricStorageReady)
			c.reevaluate(ctx)
		},
		Rejected: func(key string) {
			c.metrics.Inc(MetricReservedKeyRejected)
			c.logger.Warn("reserved storage key rejected", "key", key)
		},
	}
}

func (c *Client) notify(ctx context.Context, msg alert.Message) {
	c.alerts.Send(ctx, msg)
}
