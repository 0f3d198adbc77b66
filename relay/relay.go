package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrEthical07/tabsync/internal/loop"
	"github.com/MrEthical07/tabsync/storage"
)

// DefaultHandshakeGrace is how long a starting context waits for a
// setSessionStorage reply before declaring its storage ready anyway.
const DefaultHandshakeGrace = 200 * time.Millisecond

// Hooks observe relay activity. Every hook is optional and runs without relay
// locks held. All but Rejected run on the relay loop.
type Hooks struct {
	Sent    func(cmd Command)
	Handled func(cmd Command, elapsed time.Duration)
	Ignored func(cmd Command)
	// Changed reports an application key modified by another context. ctx is
	// bound to the loop, see Run.
	Changed func(ctx context.Context, key string)
	// Ready runs once, right after Ready() is closed.
	Ready func(ctx context.Context)
	// Rejected reports a local write or read refused for a reserved key. It
	// runs on the caller's goroutine.
	Rejected func(key string)
}

// Config controls a Relay.
type Config struct {
	// Origin names this context in logs.
	Origin string
	// HandshakeGrace bounds the wait for a snapshot reply. Zero selects
	// DefaultHandshakeGrace.
	HandshakeGrace time.Duration
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	Hooks  Hooks
}

// Relay makes a per-context session store behave as if it were shared by
// every context of the origin, using short-lived writes to the persistent
// store as messages.
type Relay struct {
	persistent storage.Persistent
	session    storage.Store
	loop       *loop.Loop
	logger     *slog.Logger
	grace      time.Duration
	hooks      Hooks

	mu       sync.Mutex
	syncKeys []string

	backupMu sync.Mutex

	startMu sync.Mutex
	started bool
	cancel  func()
	timer   *time.Timer

	// owned by the loop goroutine
	replied        bool
	graceElapsed   bool
	readyScheduled bool

	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a relay for one context. Nothing is sent or received until
// EnsureStarted.
func New(persistent storage.Persistent, session storage.Store, cfg Config) *Relay {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := cfg.HandshakeGrace
	if grace <= 0 {
		grace = DefaultHandshakeGrace
	}
	if cfg.Origin != "" {
		logger = logger.With("origin", cfg.Origin)
	}

	return &Relay{
		persistent: persistent,
		session:    session,
		loop:       loop.New(),
		logger:     logger,
		grace:      grace,
		hooks:      cfg.Hooks,
		ready:      make(chan struct{}),
	}
}

// EnsureStarted attaches the relay to the persistent store and requests a
// session snapshot from the other contexts. Only the first successful call
// has any effect; later calls return nil.
func (r *Relay) EnsureStarted(ctx context.Context) error {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	if r.started {
		return nil
	}

	cancel, err := r.persistent.Subscribe(ctx, r.receive)
	if err != nil {
		return fmt.Errorf("relay: subscribe: %w", err)
	}
	r.cancel = cancel
	r.started = true

	r.mu.Lock()
	r.loadSyncKeys(ctx)
	r.mu.Unlock()

	r.timer = r.loop.AfterFunc(r.grace, func() {
		r.graceElapsed = true
		r.evaluateReady()
	})

	if err := r.pulse(ctx, CmdGetSessionStorage, dummyPayload); err != nil {
		return err
	}
	r.logger.Debug("relay started")
	return nil
}

// Ready is closed once the startup handshake has settled.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Defer queues fn on the relay loop, after any command currently being
// processed.
func (r *Relay) Defer(fn func()) bool {
	return r.loop.Defer(fn)
}

// Flush waits until every command and deferred task queued so far has run.
func (r *Relay) Flush(ctx context.Context) error {
	return r.loop.Flush(ctx)
}

// Close detaches the relay and stops its loop. Pending tasks are drained.
func (r *Relay) Close() {
	r.startMu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.startMu.Unlock()

	r.loop.Close()
}

// SyncKeys returns a copy of the keys mirrored across contexts.
func (r *Relay) SyncKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.syncKeys)
}

// Run executes fn on the relay loop, behind every command and task queued
// before it, and waits for its result. The ctx handed to fn, and to the
// Changed and Ready hooks, is bound to the loop: relay operations called with
// it run inline.
func (r *Relay) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.loop.Do(ctx, fn)
}

// SavePermanentData stores v in the persistent store and drops any session
// copy of key, in this context and in every other one.
func (r *Relay) SavePermanentData(ctx context.Context, key string, v any) error {
	if err := r.admit(key); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("relay: encode %q: %w", key, err)
	}

	return r.loop.Do(ctx, func(ctx context.Context) error {
		if err := r.removeFromSessionStorage(ctx, key); err != nil {
			return err
		}
		return r.persistent.Set(ctx, key, string(data))
	})
}

// SaveSyncedSessionData stores v in the session store of every context and
// removes any persistent copy of key.
func (r *Relay) SaveSyncedSessionData(ctx context.Context, key string, v any) error {
	if err := r.admit(key); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("relay: encode %q: %w", key, err)
	}

	return r.loop.Do(ctx, func(ctx context.Context) error {
		if err := r.persistent.Delete(ctx, key); err != nil {
			return err
		}
		return r.addToSessionStorage(ctx, key, data)
	})
}

// SaveSessionData stores v in this context's session store only. The key stops
// being synced everywhere and any persistent copy is removed.
func (r *Relay) SaveSessionData(ctx context.Context, key string, v any) error {
	if err := r.admit(key); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("relay: encode %q: %w", key, err)
	}

	return r.loop.Do(ctx, func(ctx context.Context) error {
		if err := r.removeFromSyncKeys(ctx, key); err != nil {
			return err
		}
		if err := r.persistent.Delete(ctx, key); err != nil {
			return err
		}
		return r.session.Set(ctx, key, string(data))
	})
}

// AddSyncKey marks key as synced in every context without touching its value.
func (r *Relay) AddSyncKey(ctx context.Context, key string) error {
	if err := r.admit(key); err != nil {
		return err
	}
	return r.loop.Do(ctx, func(ctx context.Context) error {
		r.mu.Lock()
		r.addSyncKey(key)
		r.mu.Unlock()

		if err := r.addToSyncKeysBackup(ctx, key); err != nil {
			return err
		}
		return r.pulse(ctx, CmdAddToSyncKeys, key)
	})
}

// RemoveSyncKey stops syncing key in every context without touching its value.
func (r *Relay) RemoveSyncKey(ctx context.Context, key string) error {
	if err := r.admit(key); err != nil {
		return err
	}
	return r.loop.Do(ctx, func(ctx context.Context) error {
		return r.removeFromSyncKeys(ctx, key)
	})
}

// GetData decodes the value of key into v, preferring the session store. It
// reports false when neither store holds the key. Values that are not valid
// JSON are returned verbatim when v is a *string.
func (r *Relay) GetData(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := r.getRaw(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		if s, isString := v.(*string); isString {
			*s = raw
			return true, nil
		}
		return false, fmt.Errorf("relay: decode %q: %w", key, err)
	}
	return true, nil
}

// Exists reports whether either store holds key.
func (r *Relay) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := r.getRaw(ctx, key)
	return ok, err
}

func (r *Relay) getRaw(ctx context.Context, key string) (raw string, ok bool, err error) {
	if err := r.admit(key); err != nil {
		return "", false, err
	}

	err = r.loop.Do(ctx, func(ctx context.Context) error {
		raw, ok, err = r.lookup(ctx, key)
		return err
	})
	return raw, ok, err
}

func (r *Relay) lookup(ctx context.Context, key string) (string, bool, error) {
	raw, err := r.session.Get(ctx, key)
	if err == nil {
		return raw, true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", false, err
	}

	raw, err = r.persistent.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return raw, true, nil
}

// DeleteData removes key from both stores in every context.
func (r *Relay) DeleteData(ctx context.Context, key string) error {
	if err := r.admit(key); err != nil {
		return err
	}
	return r.loop.Do(ctx, func(ctx context.Context) error {
		if err := r.removeFromSessionStorage(ctx, key); err != nil {
			return err
		}
		return r.persistent.Delete(ctx, key)
	})
}

// ClearInstanceSessionStorage empties this context's session store.
func (r *Relay) ClearInstanceSessionStorage(ctx context.Context) error {
	return r.loop.Do(ctx, func(ctx context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()

		r.syncKeys = nil
		return r.session.Clear(ctx)
	})
}

// ClearAllSessionsStorage empties the session store of every context and
// drops the sync key backup.
func (r *Relay) ClearAllSessionsStorage(ctx context.Context) error {
	return r.loop.Do(ctx, func(ctx context.Context) error {
		if err := r.ClearInstanceSessionStorage(ctx); err != nil {
			return err
		}
		r.backupMu.Lock()
		err := r.persistent.Delete(ctx, KeySyncKeys)
		r.backupMu.Unlock()
		if err != nil {
			return err
		}
		return r.pulse(ctx, CmdClearAllSessionStorage, dummyPayload)
	})
}

// ClearPersistentStorage empties the persistent store of the origin.
func (r *Relay) ClearPersistentStorage(ctx context.Context) error {
	return r.loop.Do(ctx, r.persistent.Clear)
}

// ClearAllStorage empties every session store and the persistent store.
func (r *Relay) ClearAllStorage(ctx context.Context) error {
	return r.loop.Do(ctx, func(ctx context.Context) error {
		if err := r.ClearAllSessionsStorage(ctx); err != nil {
			return err
		}
		return r.ClearPersistentStorage(ctx)
	})
}

func (r *Relay) addToSessionStorage(ctx context.Context, key string, data []byte) error {
	r.mu.Lock()
	r.addSyncKey(key)
	err := r.session.Set(ctx, key, string(data))
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if err := r.addToSyncKeysBackup(ctx, key); err != nil {
		return err
	}
	payload, err := json.Marshal(addPayload{Key: key, Data: data})
	if err != nil {
		return err
	}
	return r.pulse(ctx, CmdAddToSessionStorage, string(payload))
}

func (r *Relay) removeFromSessionStorage(ctx context.Context, key string) error {
	r.mu.Lock()
	r.removeSyncKey(key)
	err := r.session.Delete(ctx, key)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if err := r.removeFromSyncKeysBackup(ctx, key); err != nil {
		return err
	}
	return r.pulse(ctx, CmdRemoveFromSessionStorage, key)
}

func (r *Relay) removeFromSyncKeys(ctx context.Context, key string) error {
	r.mu.Lock()
	r.removeSyncKey(key)
	r.mu.Unlock()

	if err := r.removeFromSyncKeysBackup(ctx, key); err != nil {
		return err
	}
	return r.pulse(ctx, CmdRemoveFromSyncKeys, key)
}

func (r *Relay) admit(key string) error {
	err := checkKey(key)
	if errors.Is(err, ErrReservedKey) && r.hooks.Rejected != nil {
		r.hooks.Rejected(key)
	}
	return err
}

// pulse sends one message: the value is written under the command key and
// removed again straight away, so it never becomes durable state.
func (r *Relay) pulse(ctx context.Context, cmd Command, value string) error {
	if err := r.persistent.Set(ctx, string(cmd), value); err != nil {
		return fmt.Errorf("relay: send %s: %w", cmd, err)
	}
	if err := r.persistent.Delete(ctx, string(cmd)); err != nil {
		return fmt.Errorf("relay: send %s: %w", cmd, err)
	}

	r.logger.Debug("relay pulse sent", "command", string(cmd))
	if r.hooks.Sent != nil {
		r.hooks.Sent(cmd)
	}
	return nil
}

// addSyncKey must be called with r.mu held.
func (r *Relay) addSyncKey(key string) {
	if !slices.Contains(r.syncKeys, key) {
		r.syncKeys = append(r.syncKeys, key)
	}
}

// removeSyncKey must be called with r.mu held.
func (r *Relay) removeSyncKey(key string) {
	if i := slices.Index(r.syncKeys, key); i >= 0 {
		r.syncKeys = slices.Delete(r.syncKeys, i, i+1)
	}
}

// loadSyncKeys rehydrates an empty sync key set from the persistent backup.
// It must be called with r.mu held.
func (r *Relay) loadSyncKeys(ctx context.Context) {
	if len(r.syncKeys) > 0 {
		return
	}
	for _, key := range r.readBackup(ctx) {
		if key != "" && !IsReserved(key) {
			r.addSyncKey(key)
		}
	}
}

func (r *Relay) readBackup(ctx context.Context) []string {
	var keys []string
	if err := storage.GetJSON(ctx, r.persistent, KeySyncKeys, &keys); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("relay sync key backup unreadable", "error", err)
		}
		return nil
	}
	return keys
}

func (r *Relay) addToSyncKeysBackup(ctx context.Context, key string) error {
	r.backupMu.Lock()
	defer r.backupMu.Unlock()

	keys := r.readBackup(ctx)
	if slices.Contains(keys, key) {
		return nil
	}
	return storage.SetJSON(ctx, r.persistent, KeySyncKeys, append(keys, key))
}

func (r *Relay) removeFromSyncKeysBackup(ctx context.Context, key string) error {
	r.backupMu.Lock()
	defer r.backupMu.Unlock()

	keys := r.readBackup(ctx)
	i := slices.Index(keys, key)
	if i < 0 {
		return nil
	}
	return storage.SetJSON(ctx, r.persistent, KeySyncKeys, slices.Delete(keys, i, i+1))
}
