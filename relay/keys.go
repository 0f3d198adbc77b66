package relay

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/tabsync/internal/loop"
)

// Command is a reserved persistent-store key used as a relay channel.
type Command string

const (
	// CmdAddToSyncKeys adds a key to the receivers' sync key set.
	CmdAddToSyncKeys Command = "addToSyncKeys"
	// CmdRemoveFromSyncKeys removes a key from the receivers' sync key set.
	CmdRemoveFromSyncKeys Command = "removeFromSyncKeys"
	// CmdGetSessionStorage asks every other context for a session snapshot.
	CmdGetSessionStorage Command = "getSessionStorage"
	// CmdSetSessionStorage carries a session snapshot.
	CmdSetSessionStorage Command = "setSessionStorage"
	// CmdAddToSessionStorage carries one synced session value.
	CmdAddToSessionStorage Command = "addToSessionStorage"
	// CmdRemoveFromSessionStorage removes one synced session value.
	CmdRemoveFromSessionStorage Command = "removeFromSessionStorage"
	// CmdClearAllSessionStorage clears every session store.
	CmdClearAllSessionStorage Command = "clearAllSessionStorage"
)

// KeySyncKeys holds the persistent backup of the sync key set.
const KeySyncKeys = "sync_keys"

const dummyPayload = "_dummy"

var commands = map[Command]struct{}{
	CmdAddToSyncKeys:            {},
	CmdRemoveFromSyncKeys:       {},
	CmdGetSessionStorage:        {},
	CmdSetSessionStorage:        {},
	CmdAddToSessionStorage:      {},
	CmdRemoveFromSessionStorage: {},
	CmdClearAllSessionStorage:   {},
}

var (
	// ErrEmptyKey is returned when an application key is empty.
	ErrEmptyKey = errors.New("relay: key can not be empty")
	// ErrReservedKey is returned when an application key collides with a relay channel.
	ErrReservedKey = errors.New("relay: storage key is reserved")
	// ErrClosed is returned by operations on a closed relay.
	ErrClosed = loop.ErrClosed
)

// ReservedKeys returns the keys that can never hold application data.
func ReservedKeys() []string {
	return []string{
		KeySyncKeys,
		string(CmdAddToSyncKeys),
		string(CmdRemoveFromSyncKeys),
		string(CmdGetSessionStorage),
		string(CmdSetSessionStorage),
		string(CmdAddToSessionStorage),
		string(CmdRemoveFromSessionStorage),
		string(CmdClearAllSessionStorage),
	}
}

// IsReserved reports whether key is one of ReservedKeys.
func IsReserved(key string) bool {
	if key == KeySyncKeys {
		return true
	}
	_, ok := commands[Command(key)]
	return ok
}

func isCommand(key string) bool {
	_, ok := commands[Command(key)]
	return ok
}

func checkKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if IsReserved(key) {
		return fmt.Errorf("%w: %q", ErrReservedKey, key)
	}
	return nil
}
