// Package models defines the records kept in the Tenant Store: tenants
// ([App]), their end users ([User]), and generic typed records ([Record]).
//
// Every record satisfies [Object]. The store treats objects as opaque apart
// from the [Meta] fields it owns: the identifier, the owning tenant
// identifier (appid), the type discriminator, and the creation and update
// timestamps.
//
// # Locked Fields
//
// Each type declares a static list of JSON field names that an update may
// never change ([Object.LockedFields]). The base list is [BaseLockedFields];
// [App] adds its secret. [Merge] consults this list directly; there is no
// tag or annotation scanning at runtime.
package models

import (
	"time"
)

// Type discriminators for the built-in record types.
const (
	TypeApp    = "app"
	TypeUser   = "user"
	TypeRecord = "record"
)

// BaseLockedFields are the JSON names of the fields no update may overwrite.
var BaseLockedFields = []string{"id", "appid", "type", "timestamp"}

// Object is the contract every stored record satisfies.
type Object interface {
	GetID() string
	SetID(id string)
	GetAppID() string
	SetAppID(appid string)
	GetType() string
	GetTimestamp() time.Time
	SetTimestamp(t time.Time)
	GetUpdated() time.Time
	SetUpdated(t time.Time)

	// LockedFields returns the JSON names of the fields that an update must
	// preserve from the stored record.
	LockedFields() []string
}

// Meta holds the fields the store owns. It is embedded by every record type.
type Meta struct {
	ID        string    `json:"id"`
	AppID     string    `json:"appid"`
	Type      string    `json:"type"`
	Name      string    `json:"name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Updated   time.Time `json:"updated"`
}

func (m *Meta) GetID() string { return m.ID }
func (m *Meta) SetID(id string) { m.ID = id }
func (m *Meta) GetAppID() string { return m.AppID }
func (m *Meta) SetAppID(appid string) { m.AppID = appid }
func (m *Meta) GetType() string { return m.Type }
func (m *Meta) GetTimestamp() time.Time { return m.Timestamp }
func (m *Meta) SetTimestamp(t time.Time) { m.Timestamp = t }
func (m *Meta) GetUpdated() time.Time { return m.Updated }
func (m *Meta) SetUpdated(t time.Time) { m.Updated = t }
func (m *Meta) LockedFields() []string { return BaseLockedFields }

// Record is a generic typed record with free-form properties. It is also
// the fallback for stored types that are not registered in a [Registry].
type Record struct {
	Meta
	Properties map[string]any `json:"properties,omitempty"`
}

// NewRecord returns a record of the given type. An empty type becomes
// [TypeRecord]. The identifier is left for the store to assign.
func NewRecord(typ string) *Record {
	if typ == "" {
		typ = TypeRecord
	}
	return &Record{
		Meta:       Meta{Type: typ},
		Properties: make(map[string]any),
	}
}

// GetType reports the record's type, defaulting to [TypeRecord].
func (r *Record) GetType() string {
	if r.Type == "" {
		return TypeRecord
	}
	return r.Type
}

// Set stores a property and returns the record for chaining.
func (r *Record) Set(key string, value any) *Record {
	if r.Properties == nil {
		r.Properties = make(map[string]any)
	}
	r.Properties[key] = value
	return r
}
