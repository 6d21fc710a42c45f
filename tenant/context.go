package tenant

// Context identifies the tenant all outbound requests act under. When a
// consultant assumes a client organization's context, Impersonating is set
// and OriginalID retains the consultant's own tenant so the switch can be
// reversed.
type Context struct {
	ActiveID      string `json:"active_id"`
	ActiveName    string `json:"active_name"`
	Impersonating bool   `json:"impersonating"`
	OriginalID    string `json:"original_id,omitempty"`
}

// Valid reports whether the context satisfies the impersonation invariant:
// an impersonating context must carry a distinct original tenant id.
func (c Context) Valid() bool {
	if !c.Impersonating {
		return true
	}
	return c.OriginalID != "" && c.OriginalID != c.ActiveID
}
