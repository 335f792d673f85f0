package models

// Paging limits.
const (
	DefaultPageLimit = 30
	MaxPageLimit     = 256
)

// Pager is a cursor over one tenant keyspace. Pages are ordered by
// identifier ascending. LastKey is exclusive and is advanced by the store to
// the last identifier returned; Count is set to the number of records in
// the keyspace.
type Pager struct {
	Limit   int    `json:"limit"`
	LastKey string `json:"lastKey,omitempty"`
	Count   int64  `json:"count"`
}

// NewPager returns a pager with the given limit.
func NewPager(limit int) *Pager {
	return &Pager{Limit: limit}
}

// PageSize returns Limit clamped to [1, MaxPageLimit], using
// DefaultPageLimit when unset.
func (p *Pager) PageSize() int {
	switch {
	case p == nil || p.Limit <= 0:
		return DefaultPageLimit
	case p.Limit > MaxPageLimit:
		return MaxPageLimit
	default:
		return p.Limit
	}
}
