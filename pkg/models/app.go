package models

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// AppKeyPrefix namespaces tenant records inside the root keyspace.
const AppKeyPrefix = "app:"

// secretBytes is the amount of entropy in a generated tenant secret.
const secretBytes = 30

// Policy maps a principal identifier (or "*") to resource patterns, each
// carrying its allowed HTTP methods. Methods may contain "*" for all.
//
//	{"u1": {"items/*": ["GET"]}, "*": {"_me": ["GET"]}}
type Policy map[string]map[string][]string

// appLockedFields extends [BaseLockedFields] with the secret. Rotation goes
// through [App.ResetSecret] and a full overwrite, never through an update.
var appLockedFields = append(append([]string{}, BaseLockedFields...), "secret")

// App is a tenant: an isolated keyspace with its own secret, activation
// state and permission policy.
//
// Active and ReadOnly are always encoded, so an App passed to an update
// sets both flags. Use [AppPatch] to change one without the other.
type App struct {
	Meta

	// Secret is the shared secret used for both request signatures and
	// bearer token HMACs.
	Secret Secret `json:"secret"`

	// Active gates all access. Tenants are deactivated, never hard-deleted.
	Active bool `json:"active"`

	// ReadOnly blocks mutating methods on the app-authenticated path.
	ReadOnly bool `json:"readOnly"`

	// ResourcePermissions is the tenant's permission policy.
	ResourcePermissions Policy `json:"resourcePermissions,omitempty"`
}

// AppKey returns the store identifier of the tenant with the given appid.
// An identifier that already carries the prefix is returned unchanged.
func AppKey(appid string) string {
	if strings.HasPrefix(appid, AppKeyPrefix) {
		return appid
	}
	return AppKeyPrefix + appid
}

// AppIdentifier strips [AppKeyPrefix] from a store identifier.
func AppIdentifier(key string) string {
	return strings.TrimPrefix(key, AppKeyPrefix)
}

// NewApp returns an active tenant with a freshly generated secret.
func NewApp(appid string) (*App, error) {
	if strings.TrimSpace(AppIdentifier(appid)) == "" {
		return nil, fmt.Errorf("models: app identifier must not be empty")
	}
	app := &App{
		Meta:   Meta{ID: AppKey(appid), Type: TypeApp, Name: AppIdentifier(appid)},
		Active: true,
	}
	if err := app.ResetSecret(); err != nil {
		return nil, err
	}
	return app, nil
}

// GetType always reports [TypeApp].
func (a *App) GetType() string { return TypeApp }

// LockedFields adds "secret" to the base list.
func (a *App) LockedFields() []string { return appLockedFields }

// Identifier returns the appid without the store prefix.
func (a *App) Identifier() string {
	return AppIdentifier(a.ID)
}

// ResetSecret replaces the secret with a new random value.
func (a *App) ResetSecret() error {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("models: generating app secret: %w", err)
	}
	a.Secret = Secret(base64.StdEncoding.EncodeToString(buf))
	return nil
}

// Grant allows subject to call methods on resource. Calling Grant again for
// the same pair replaces the method set.
func (a *App) Grant(subject, resource string, methods ...string) {
	if a.ResourcePermissions == nil {
		a.ResourcePermissions = make(Policy)
	}
	if a.ResourcePermissions[subject] == nil {
		a.ResourcePermissions[subject] = make(map[string][]string)
	}
	normalized := make([]string, 0, len(methods))
	for _, m := range methods {
		normalized = append(normalized, strings.ToUpper(strings.TrimSpace(m)))
	}
	a.ResourcePermissions[subject][resource] = normalized
}

// Revoke removes every permission of subject on resource.
func (a *App) Revoke(subject, resource string) {
	if perms, ok := a.ResourcePermissions[subject]; ok {
		delete(perms, resource)
		if len(perms) == 0 {
			delete(a.ResourcePermissions, subject)
		}
	}
}

// AppPatch is a partial update of an [App]. Nil flags and an empty policy
// are left out of its encoding and keep their stored values.
//
//	err := store.Update(ctx, root, models.NewAppPatch("app1").SetReadOnly(true))
type AppPatch struct {
	Meta

	Active              *bool  `json:"active,omitempty"`
	ReadOnly            *bool  `json:"readOnly,omitempty"`
	ResourcePermissions Policy `json:"resourcePermissions,omitempty"`
}

// NewAppPatch returns an empty patch of the tenant with the given appid.
func NewAppPatch(appid string) *AppPatch {
	return &AppPatch{Meta: Meta{ID: AppKey(appid), Type: TypeApp}}
}

// GetType always reports [TypeApp].
func (p *AppPatch) GetType() string { return TypeApp }

// LockedFields matches [App.LockedFields].
func (p *AppPatch) LockedFields() []string { return appLockedFields }

// SetActive sets the activation flag and returns the patch for chaining.
func (p *AppPatch) SetActive(active bool) *AppPatch {
	p.Active = &active
	return p
}

// SetReadOnly sets the read-only flag and returns the patch for chaining.
func (p *AppPatch) SetReadOnly(readOnly bool) *AppPatch {
	p.ReadOnly = &readOnly
	return p
}
