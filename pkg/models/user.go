package models

// User is an end user of a tenant. Users live only in the keyspace of
// their owning tenant; AppID always names that tenant.
type User struct {
	Meta
	Identifier string `json:"identifier,omitempty"`
	Email      string `json:"email,omitempty"`
	Groups     string `json:"groups,omitempty"`
	Active     bool   `json:"active"`
}

// NewUser returns an active user with the given identifier. The owning
// tenant is stamped by the store on create.
func NewUser(id string) *User {
	return &User{
		Meta:   Meta{ID: id, Type: TypeUser},
		Active: true,
	}
}

// GetType always reports [TypeUser].
func (u *User) GetType() string { return TypeUser }
