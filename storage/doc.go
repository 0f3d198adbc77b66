// Package storage provides the two key-value namespaces tabsync is built on.
//
// # Persistent and session scope
//
// A [Persistent] store is shared by every context of one origin. Its mutations are
// reported to every other subscribed context as a [ChangeEvent] carrying the key,
// the previous value and the new value; a context never observes its own writes.
// A session store ([NewSessionStore]) belongs to exactly one context and never
// notifies anyone.
//
// Values are JSON text. [GetJSON] and [SetJSON] do the encoding.
//
// # Backends
//
// [MemoryHub] hosts an origin inside one process and delivers notifications
// synchronously. [RedisHub] keeps values under a key prefix and fans out
// notifications through a Redis pub/sub channel, so contexts may live in
// different processes.
//
// # What this package must NOT do
//
//   - Interpret relay commands or reserved keys; that belongs to package relay.
//   - Retry failed backend calls.
package storage
