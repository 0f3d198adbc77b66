// Package relay replicates session-scoped data across every context of an
// origin using the persistent store as a message bus.
//
// # Protocol
//
// A message is sent by writing a payload under a reserved command key of the
// persistent store and deleting that key immediately afterwards ("pulse").
// Other contexts act on the change notification that carries the payload and
// ignore the one produced by the delete. Nothing sent this way survives as
// durable state.
//
//	getSessionStorage         "_dummy"              reply with setSessionStorage if anything is synced
//	setSessionStorage         {"k":"<json>",...}    write entries, mark keys synced, settle the handshake
//	addToSessionStorage       {"key":k,"data":v}    write one entry and mark it synced
//	removeFromSessionStorage  k                     delete one entry and unmark it
//	clearAllSessionStorage    "_dummy"              clear the session store if not empty
//	addToSyncKeys             k                     mark k synced
//	removeFromSyncKeys        k                     unmark k
//
// The sync key set is also written to the persistent key "sync_keys" so a
// restarted context can rehydrate it before any traffic arrives.
//
// # Readiness
//
// [Relay.EnsureStarted] sends getSessionStorage once. [Relay.Ready] closes one
// loop tick after the first snapshot reply is applied or, when no other
// context answers, after the handshake grace period.
//
// # What this package must NOT do
//
//   - Return errors for malformed relay payloads; they come from other contexts
//     and are dropped.
//   - Store session values durably in the persistent store.
package relay
