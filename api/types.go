package api

import (
	"encoding/json"
	"time"

	"github.com/tractionboard/traction-go/users"
)

// envelope is the backend's uniform response wrapper: payloads arrive under
// "data", failures under "error".
type envelope struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// AuthPayload is returned by login and register: the hydrated user plus a
// fresh token pair.
type AuthPayload struct {
	User         *users.User `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

// RefreshPayload is returned by the refresh exchange. The previous refresh
// token is unusable the moment this payload is issued.
type RefreshPayload struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// AgreementRecord captures a user's acceptance of the legal agreements.
type AgreementRecord struct {
	Type       string    `json:"agreementType"`
	Version    string    `json:"version"`
	Accepted   bool      `json:"accepted"`
	AcceptedAt time.Time `json:"acceptedAt,omitempty"`
}

// AgreementStatus reports whether the current user still owes an acceptance.
type AgreementStatus struct {
	Required       bool   `json:"required"`
	CurrentVersion string `json:"currentVersion,omitempty"`
}

// RegisterRequest is the payload for account creation. LegalAgreement must
// carry an accepted record; registration without one is rejected before any
// network call.
type RegisterRequest struct {
	FirstName        string          `json:"firstName"`
	LastName         string          `json:"lastName"`
	Email            string          `json:"email"`
	Password         string          `json:"password"`
	OrganizationName string          `json:"organizationName,omitempty"`
	LegalAgreement   AgreementRecord `json:"legalAgreement"`
}

// ProfileUpdate carries the mutable profile fields. Nil fields are left
// untouched server-side.
type ProfileUpdate struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Email     *string `json:"email,omitempty"`
}
