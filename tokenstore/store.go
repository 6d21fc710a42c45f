package tokenstore

// TokenPair is the access/refresh token pair for the current session.
// Exactly one pair is active at a time; the refresh token rotates on every
// successful exchange and the previous value must be discarded immediately.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (p TokenPair) Empty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Well-known scalar keys persisted alongside the token pair.
const (
	KeyActiveOrgID   = "activeOrgId"
	KeyActiveOrgName = "activeOrgName"
	KeyImpersonating = "consultantImpersonating"
	KeyOriginalOrgID = "originalOrgId"
)

// Store is durable, synchronous persistence for the token pair, tenant
// context flags, and tenant-scoped cache entries. Writes are atomic with
// respect to readers: no reader observes a half-written pair.
//
// SwapPair enforces compare-and-swap semantics on rotation: it fails with
// ErrPairConflict when the stored refresh token no longer matches the one
// the caller read, so a writer can never clobber a newer rotation with a
// result derived from a stale refresh token.
type Store interface {
	Pair() (TokenPair, bool)
	SetPair(pair TokenPair) error
	SwapPair(current, next TokenPair) error

	Value(key string) (string, bool)
	SetValue(key, value string) error
	DeleteValue(key string) error

	TenantValue(tenantID, key string) (string, bool)
	SetTenantValue(tenantID, key, value string) error
	ClearTenant(tenantID string) error

	// Clear removes the token pair, all scalar values, and every
	// tenant-scoped entry.
	Clear() error
}
