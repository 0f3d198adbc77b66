// Package tabsync keeps a login session consistent across every context
// (tab, window or process) attached to the same origin.
//
// Each context builds one [Client] through [Builder.Build]. Clients of an
// origin share a persistent store, either an in-process [storage.MemoryHub]
// or a Redis keyspace, and each client owns a private session store. The
// relay package mirrors synced session entries between contexts; the Client
// layers the credential lifecycle on top: current user, tokens, lazy expiry
// and an edge-triggered login status stream.
//
// # Architecture boundaries
//
// tabsync is the public surface. It exposes [Client], [Builder], [Config]
// and value types (User, LoginRequest, MetricsSnapshot). Relay protocol
// details live in the relay package; wire-level storage lives in storage.
//
// # What this package must NOT do
//
//   - Verify token signatures. Tokens are decoded for their claims only.
//   - Evict expired sessions in the background. Expiry is evaluated on read.
//   - Deliver a login status notification synchronously inside the call that
//     caused it.
package tabsync
