package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// Factory returns a new, empty instance of a record type.
type Factory func() Object

// Registry maps type discriminators to factories so that the store can
// return concrete types from its type-erased keyspace. Types without a
// factory decode as [*Record].
//
// A Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry that knows [App] and [User].
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(TypeApp, func() Object { return &App{} })
	r.Register(TypeUser, func() Object { return &User{} })
	return r
}

// Register adds or replaces the factory for typ.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

func (r *Registry) factory(typ string) Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.factories[typ]; ok {
		return f
	}
	return func() Object { return &Record{} }
}

// Encode serializes obj to JSON. The "type" field is always written from
// [Object.GetType] so that typed records round-trip through [Registry.Decode]
// even when the caller left Meta.Type blank.
func (r *Registry) Encode(obj Object) ([]byte, error) {
	fields, err := toFields(obj)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// Decode deserializes a stored record into its registered concrete type.
func (r *Registry) Decode(data []byte) (Object, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("models: decoding record header: %w", err)
	}
	obj := r.factory(head.Type)()
	if err := json.Unmarshal(data, obj); err != nil {
		return nil, fmt.Errorf("models: decoding %q record: %w", head.Type, err)
	}
	return obj, nil
}

// Clone returns a deep copy of obj through the codec.
func (r *Registry) Clone(obj Object) (Object, error) {
	data, err := r.Encode(obj)
	if err != nil {
		return nil, err
	}
	return r.Decode(data)
}

// Merge overlays the fields present in patch onto stored and returns the
// merged record. Fields named by stored's [Object.LockedFields] keep their
// stored values even when patch carries a different one. Fields omitted
// from patch's JSON encoding (zero values tagged omitempty) keep their
// stored values.
func (r *Registry) Merge(stored, patch Object) (Object, error) {
	base, err := toFields(stored)
	if err != nil {
		return nil, err
	}
	overlay, err := toFields(patch)
	if err != nil {
		return nil, err
	}
	locked := stored.LockedFields()
	for k, v := range overlay {
		if slices.Contains(locked, k) {
			continue
		}
		base[k] = v
	}
	data, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("models: encoding merged record: %w", err)
	}
	return r.Decode(data)
}

func toFields(obj Object) (map[string]any, error) {
	if obj == nil {
		return nil, fmt.Errorf("models: cannot encode a nil record")
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("models: encoding %q record: %w", obj.GetType(), err)
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("models: encoding %q record: %w", obj.GetType(), err)
	}
	fields["type"] = obj.GetType()
	return fields, nil
}
