package users

import "time"

// Capability represents a server-granted capability on the user's account.
// Capabilities arrive with the hydrated profile; the client treats them as
// informational and never makes an access-control decision the server would
// not also enforce.
type Capability string

const (
	CapabilityConsultant Capability = "consultant"
	CapabilityAdmin      Capability = "admin"
	CapabilityMember     Capability = "member"
)

// TeamMembership represents a user's membership in a team within their
// organization.
type TeamMembership struct {
	TeamID           string `json:"team_id"`
	Name             string `json:"name"`
	IsLeadershipTeam bool   `json:"is_leadership_team"`
}

type User struct {
	ID               string           `json:"id,omitempty"`                // Unique identifier for the user
	Email            string           `json:"email,omitempty"`             // User's email address
	FirstName        string           `json:"first_name,omitempty"`        // First name of the user
	LastName         string           `json:"last_name,omitempty"`         // Last name of the user
	OrganizationID   string           `json:"organization_id,omitempty"`   // Tenant the user belongs to
	OrganizationName string           `json:"organization_name,omitempty"` // Display name of the tenant
	Capabilities     []Capability     `json:"capabilities,omitempty"`      // Server-granted capabilities
	Teams            []TeamMembership `json:"teams,omitempty"`             // Team memberships within the organization
	DateJoined       time.Time        `json:"date_joined,omitempty"`      // Date and time when the user registered
	LastLogin        time.Time        `json:"last_login,omitempty"`       // Last time the user logged in
}

func (u *User) HasCapability(c Capability) bool {
	for _, cap := range u.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// IsConsultant reports whether the user may assume another tenant's context.
func (u *User) IsConsultant() bool {
	return u.HasCapability(CapabilityConsultant)
}

// OnLeadershipTeam reports whether the user belongs to at least one
// leadership team.
func (u *User) OnLeadershipTeam() bool {
	for _, t := range u.Teams {
		if t.IsLeadershipTeam {
			return true
		}
	}
	return false
}
