package relay

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/MrEthical07/tabsync/storage"
)

type addPayload struct {
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

// receive is the persistent-store callback. It only queues work: commands are
// processed one at a time on the relay loop, in arrival order.
func (r *Relay) receive(ev storage.ChangeEvent) {
	r.loop.Post(func() {
		r.handle(ev)
	})
}

func (r *Relay) handle(ev storage.ChangeEvent) {
	ctx := r.loop.Bind(context.Background())
	if !isCommand(ev.Key) {
		if ev.Key != KeySyncKeys {
			r.notifyChanged(ctx, []string{ev.Key})
		}
		return
	}
	// The delete half of a pulse carries no message.
	if ev.NewValue == nil {
		return
	}

	cmd := Command(ev.Key)
	start := time.Now()
	changed, ok := r.apply(ctx, cmd, *ev.NewValue)
	if !ok {
		r.logger.Debug("relay payload ignored", "command", string(cmd), "from", ev.Origin)
		if r.hooks.Ignored != nil {
			r.hooks.Ignored(cmd)
		}
	} else {
		r.logger.Debug("relay command handled", "command", string(cmd), "from", ev.Origin)
		if r.hooks.Handled != nil {
			r.hooks.Handled(cmd, time.Since(start))
		}
	}

	r.notifyChanged(ctx, changed)
	r.evaluateReady()
}

// apply executes one command and returns the application keys it changed.
// Malformed payloads are reported with ok=false and never surface as errors.
func (r *Relay) apply(ctx context.Context, cmd Command, value string) (changed []string, ok bool) {
	switch cmd {
	case CmdGetSessionStorage:
		snapshot := r.snapshot(ctx)
		if len(snapshot) == 0 {
			return nil, true
		}
		payload, err := json.Marshal(snapshot)
		if err != nil {
			return nil, false
		}
		if err := r.pulse(ctx, CmdSetSessionStorage, string(payload)); err != nil {
			r.logger.Warn("relay snapshot reply failed", "error", err)
		}
		return nil, true

	case CmdSetSessionStorage:
		var data map[string]string
		if err := json.Unmarshal([]byte(value), &data); err != nil {
			return nil, false
		}
		changed = r.applySnapshot(ctx, data)
		r.replied = true
		return changed, true

	case CmdAddToSessionStorage:
		var p addPayload
		if err := json.Unmarshal([]byte(value), &p); err != nil || checkKey(p.Key) != nil {
			return nil, false
		}
		if len(p.Data) == 0 {
			p.Data = json.RawMessage("null")
		}
		r.mu.Lock()
		r.addSyncKey(p.Key)
		err := r.session.Set(ctx, p.Key, string(p.Data))
		r.mu.Unlock()
		if err != nil {
			r.logger.Warn("relay session write failed", "key", p.Key, "error", err)
		}
		return []string{p.Key}, true

	case CmdRemoveFromSessionStorage:
		if checkKey(value) != nil {
			return nil, false
		}
		r.mu.Lock()
		r.removeSyncKey(value)
		err := r.session.Delete(ctx, value)
		r.mu.Unlock()
		if err != nil {
			r.logger.Warn("relay session delete failed", "key", value, "error", err)
		}
		return []string{value}, true

	case CmdClearAllSessionStorage:
		r.mu.Lock()
		defer r.mu.Unlock()
		keys, err := r.session.Keys(ctx)
		if err != nil || len(keys) == 0 {
			return nil, true
		}
		r.syncKeys = nil
		if err := r.session.Clear(ctx); err != nil {
			r.logger.Warn("relay session clear failed", "error", err)
		}
		return keys, true

	case CmdAddToSyncKeys:
		if checkKey(value) != nil {
			return nil, false
		}
		r.mu.Lock()
		r.addSyncKey(value)
		r.mu.Unlock()
		return nil, true

	case CmdRemoveFromSyncKeys:
		if checkKey(value) != nil {
			return nil, false
		}
		r.mu.Lock()
		r.removeSyncKey(value)
		r.mu.Unlock()
		return nil, true
	}

	return nil, false
}

// snapshot collects the synced entries of the session store, keyed by name,
// each value kept as its JSON text.
func (r *Relay) snapshot(ctx context.Context) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.syncKeys))
	for _, key := range r.syncKeys {
		raw, err := r.session.Get(ctx, key)
		if err != nil {
			continue
		}
		out[key] = raw
	}
	return out
}

// applySnapshot writes every well-formed entry of a peer snapshot. Later
// replies overwrite earlier ones.
func (r *Relay) applySnapshot(ctx context.Context, data map[string]string) []string {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.loadSyncKeys(ctx)

	changed := make([]string, 0, len(keys))
	for _, key := range keys {
		raw := data[key]
		if checkKey(key) != nil || !json.Valid([]byte(raw)) {
			continue
		}
		if err := r.session.Set(ctx, key, raw); err != nil {
			r.logger.Warn("relay session write failed", "key", key, "error", err)
			continue
		}
		r.addSyncKey(key)
		changed = append(changed, key)
	}
	return changed
}

func (r *Relay) notifyChanged(ctx context.Context, keys []string) {
	if r.hooks.Changed == nil {
		return
	}
	for _, key := range keys {
		r.hooks.Changed(ctx, key)
	}
}

// evaluateReady runs on the loop. Readiness is announced one tick later so
// that commands already queued are processed first.
func (r *Relay) evaluateReady() {
	if r.readyScheduled || !(r.replied || r.graceElapsed) {
		return
	}
	r.readyScheduled = true
	r.loop.Defer(func() {
		r.readyOnce.Do(func() {
			close(r.ready)
			r.logger.Debug("relay storage ready", "replied", r.replied)
			if r.hooks.Ready != nil {
				r.hooks.Ready(r.loop.Bind(context.Background()))
			}
		})
	})
}
