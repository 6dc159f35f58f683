package device

import (
	"fmt"
	"sort"

	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/config"
)

// Entry is one statically configured device.
type Entry struct {
	Name     string
	ID       string
	Address  string
	LocalKey string
	Version  string
	Port     int
	Profile  string
}

// Summary is the key-free view of an Entry, safe to log or serve.
type Summary struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	Address string `json:"address"`
	Version string `json:"version"`
	Profile string `json:"profile"`
}

// Summary returns the entry without its local key.
func (e Entry) Summary() Summary {
	return Summary{
		Name:    e.Name,
		ID:      e.ID,
		Address: e.Address,
		Version: e.Version,
		Profile: e.Profile,
	}
}

// Registry is the static name-to-device table. It is built once at startup
// and never modified, so lookups need no locking.
type Registry struct {
	entries map[string]Entry
	names   []string
}

// NewRegistry builds a registry from entries.
//
// Only presence of the identifying fields is checked here. Key format is the
// device client's concern and is reported when a command is attempted.
//
// Returns:
//   - *Registry: Immutable registry
//   - error: ErrInvalidEntry for an incomplete or duplicate entry
func NewRegistry(entries []Entry) (*Registry, error) {
	r := &Registry{
		entries: make(map[string]Entry, len(entries)),
		names:   make([]string, 0, len(entries)),
	}

	for _, e := range entries {
		switch {
		case e.Name == "":
			return nil, fmt.Errorf("%w: empty name", ErrInvalidEntry)
		case e.ID == "":
			return nil, fmt.Errorf("%w: %s: empty id", ErrInvalidEntry, e.Name)
		case e.Address == "":
			return nil, fmt.Errorf("%w: %s: empty address", ErrInvalidEntry, e.Name)
		case e.LocalKey == "":
			return nil, fmt.Errorf("%w: %s: empty local key", ErrInvalidEntry, e.Name)
		}
		if _, dup := r.entries[e.Name]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate name", ErrInvalidEntry, e.Name)
		}
		r.entries[e.Name] = e
		r.names = append(r.names, e.Name)
	}

	sort.Strings(r.names)
	return r, nil
}

// NewRegistryFromConfig builds a registry from the devices section of the
// configuration file.
func NewRegistryFromConfig(devices map[string]config.DeviceConfig) (*Registry, error) {
	entries := make([]Entry, 0, len(devices))
	for name, d := range devices {
		entries = append(entries, Entry{
			Name:     name,
			ID:       d.ID,
			Address:  d.Address,
			LocalKey: d.LocalKey,
			Version:  d.Version,
			Port:     d.Port,
			Profile:  d.Profile,
		})
	}
	return NewRegistry(entries)
}

// Lookup returns the entry registered under name.
func (r *Registry) Lookup(name string) (Entry, error) {
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}
	return e, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Summaries returns key-free views of every entry, sorted by name.
func (r *Registry) Summaries() []Summary {
	out := make([]Summary, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.entries[name].Summary())
	}
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	return len(r.entries)
}
