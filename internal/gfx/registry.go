package gfx

import (
	"fmt"
	"sort"
	"sync"
)

// Registry state - protected by mutex for thread-safe access.
var (
	registryMu sync.RWMutex
	chips      = make(map[string]Info)
)

// Register adds a chip preset. Presets for the shipped chips are registered
// from init in presets.go; tools and tests may register their own.
//
// Register panics if:
//   - the preset does not validate
//   - a preset with the same name is already registered
func Register(info Info) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if err := info.Validate(); err != nil {
		panic("gfx: Register: " + err.Error())
	}
	if _, dup := chips[info.Name]; dup {
		panic("gfx: Register called twice for " + info.Name)
	}
	chips[info.Name] = info
}

// Unregister removes a preset. Unknown names are ignored.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(chips, name)
}

// Lookup returns the preset registered under name.
func Lookup(name string) (Info, error) {
	registryMu.RLock()
	info, ok := chips[name]
	registryMu.RUnlock()

	if !ok {
		return Info{}, fmt.Errorf("gfx: unknown chip %q (known: %v)", name, Names())
	}
	return info, nil
}

// MustLookup is like Lookup but panics on unknown names.
func MustLookup(name string) Info {
	info, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return info
}

// Names returns the registered preset names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(chips))
	for name := range chips {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether a preset is registered under name.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := chips[name]
	return ok
}
