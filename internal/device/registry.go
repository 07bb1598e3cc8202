// Package device holds the static device registry built once from the
// controller configuration.
package device

import (
	"fmt"
	"sort"
	"strings"
)

// Category is the entity shape a device is exposed as.
type Category int

const (
	CategoryLight Category = iota
	CategoryDimmableLight
	CategoryFan
)

func (c Category) String() string {
	switch c {
	case CategoryLight:
		return "light"
	case CategoryDimmableLight:
		return "dimmable_light"
	case CategoryFan:
		return "fan"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// Component is the Home Assistant discovery component for the category.
func (c Category) Component() string {
	if c == CategoryFan {
		return "fan"
	}
	return "light"
}

// Record is one entry of the configured device list.
type Record struct {
	Name     string `yaml:"name" json:"name"`
	Dimmable bool   `yaml:"dimmable" json:"dimmable"`
}

// Device is an immutable registry entry.
type Device struct {
	ID       string
	Category Category
}

// Dimmable reports whether the device accepts a brightness level.
func (d Device) Dimmable() bool { return d.Category == CategoryDimmableLight }

// FriendlyName renders the display name used in discovery payloads.
func (d Device) FriendlyName() string { return FriendlyName(d.ID) }

// Registry maps normalized device ids to devices. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	devices map[string]Device
	order   []string
}

// NewRegistry builds the registry from the configured records. Ids listed in
// fans are exposed as fans regardless of their dimmable flag. Duplicate ids
// (after lowercasing) and empty names are rejected.
func NewRegistry(records []Record, fans []string) (*Registry, error) {
	fanSet := make(map[string]struct{}, len(fans))
	for _, f := range fans {
		fanSet[Normalize(f)] = struct{}{}
	}

	r := &Registry{devices: make(map[string]Device, len(records))}
	for i, rec := range records {
		id := Normalize(rec.Name)
		if id == "" {
			return nil, fmt.Errorf("device %d: empty name", i)
		}
		if strings.ContainsAny(id, " \t/+#") {
			return nil, fmt.Errorf("device %q: name must be a single topic-safe token", rec.Name)
		}
		if _, dup := r.devices[id]; dup {
			return nil, fmt.Errorf("device %q: duplicate name", rec.Name)
		}

		cat := CategoryLight
		switch {
		case hasKey(fanSet, id):
			cat = CategoryFan
		case rec.Dimmable:
			cat = CategoryDimmableLight
		}
		r.devices[id] = Device{ID: id, Category: cat}
		r.order = append(r.order, id)
	}
	return r, nil
}

func hasKey(set map[string]struct{}, k string) bool {
	_, ok := set[k]
	return ok
}

// Normalize lowercases and trims a device identifier.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Lookup returns the device registered under id (case-insensitive).
func (r *Registry) Lookup(id string) (Device, bool) {
	d, ok := r.devices[Normalize(id)]
	return d, ok
}

// Known reports whether id is registered.
func (r *Registry) Known(id string) bool {
	_, ok := r.Lookup(id)
	return ok
}

// Devices returns all devices in configuration order.
func (r *Registry) Devices() []Device {
	out := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.devices[id])
	}
	return out
}

// Dimmable returns the ids of all dimmable devices, sorted.
func (r *Registry) Dimmable() []string {
	var ids []string
	for id, d := range r.devices {
		if d.Dimmable() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered devices.
func (r *Registry) Len() int { return len(r.devices) }
