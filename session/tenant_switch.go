package session

import (
	clienterrors "github.com/tractionboard/traction-go/internal/errors"
	"github.com/tractionboard/traction-go/tenant"
)

// SwitchTenant lets a consultant assume a client organization's context.
// All subsequent outbound requests carry the new tenant id. The authority
// check runs against the hydrated user, never a cached flag; a caller
// without the consultant capability gets an error and no state changes.
//
// Cache entries written under the previous tenant are left in place but
// will not be read: tenant-scoped lookups key on the active id, so the
// switch forces fresh fetches.
func (s *Service) SwitchTenant(tenantID, tenantName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.state.User
	if user == nil || !user.IsConsultant() {
		return clienterrors.ErrConsultantRequired
	}
	if tenantID == "" || tenantID == s.tenantCtx.ActiveID {
		return clienterrors.ErrInvalidTenant
	}

	previous := s.tenantCtx.ActiveID
	original := previous
	if s.tenantCtx.Impersonating {
		// Switching directly between client orgs keeps the consultant's
		// own org as the return point.
		original = s.tenantCtx.OriginalID
	}

	s.tenantCtx = tenant.Context{
		ActiveID:      tenantID,
		ActiveName:    tenantName,
		Impersonating: true,
		OriginalID:    original,
	}
	s.persistTenantContext(s.tenantCtx)

	s.log.Info().
		Str("from", previous).
		Str("to", tenantID).
		Msg("tenant context switched")
	return nil
}

// ReturnToOriginalTenant reverses an active switch, restoring the
// consultant's own tenant.
func (s *Service) ReturnToOriginalTenant() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tenantCtx.Impersonating {
		return clienterrors.ErrNotImpersonating
	}

	originalName := ""
	if s.state.User != nil {
		originalName = s.state.User.OrganizationName
	}

	s.tenantCtx = tenant.Context{
		ActiveID:   s.tenantCtx.OriginalID,
		ActiveName: originalName,
	}
	s.persistTenantContext(s.tenantCtx)

	s.log.Info().Str("org", s.tenantCtx.ActiveID).Msg("returned to original tenant")
	return nil
}
