package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SSOType is the single sign-on protocol of a provider or session.
type SSOType string

const (
	SSOSAML  SSOType = "saml"
	SSOOIDC  SSOType = "oidc"
	SSOOAuth SSOType = "oauth"
)

// Valid reports whether t is a known protocol.
func (t SSOType) Valid() bool {
	switch t {
	case SSOSAML, SSOOIDC, SSOOAuth:
		return true
	}
	return false
}

// Label returns the display name of the protocol.
func (t SSOType) Label() string {
	switch t {
	case SSOSAML:
		return "SAML"
	case SSOOIDC:
		return "OpenID Connect"
	case SSOOAuth:
		return "OAuth"
	}
	return string(t)
}

// UnmarshalJSON rejects protocols outside the closed set.
func (t *SSOType) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v := SSOType(raw)
	if !v.Valid() {
		return fmt.Errorf("unknown sso type %q", raw)
	}
	*t = v
	return nil
}

// SAMLConfiguration is an organization's SAML identity provider. The signing
// certificate is write-only and never returned.
type SAMLConfiguration struct {
	ID                 string    `json:"id" yaml:"id"`
	OrganizationName   string    `json:"organization_name" yaml:"organization_name"`
	OrganizationDomain string    `json:"organization_domain" yaml:"organization_domain"`
	EntityID           string    `json:"entity_id" yaml:"entity_id"`
	SSOURL             string    `json:"sso_url" yaml:"sso_url"`
	SLOURL             string    `json:"slo_url" yaml:"slo_url"`
	EmailAttribute     string    `json:"email_attribute" yaml:"email_attribute"`
	FirstNameAttribute string    `json:"first_name_attribute" yaml:"first_name_attribute"`
	LastNameAttribute  string    `json:"last_name_attribute" yaml:"last_name_attribute"`
	RoleAttribute      string    `json:"role_attribute" yaml:"role_attribute"`
	IsActive           bool      `json:"is_active" yaml:"is_active"`
	AutoProvisionUsers bool      `json:"auto_provision_users" yaml:"auto_provision_users"`
	DefaultRole        *string   `json:"default_role" yaml:"default_role"`
	CreatedAt          time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" yaml:"updated_at"`
}

// OIDCConfiguration is an organization's OpenID Connect provider. The client
// secret is write-only and never returned.
type OIDCConfiguration struct {
	ID                 string    `json:"id" yaml:"id"`
	OrganizationName   string    `json:"organization_name" yaml:"organization_name"`
	OrganizationDomain string    `json:"organization_domain" yaml:"organization_domain"`
	Issuer             string    `json:"issuer" yaml:"issuer"`
	ClientID           string    `json:"client_id" yaml:"client_id"`
	Scopes             []string  `json:"scopes" yaml:"scopes"`
	EmailClaim         string    `json:"email_claim" yaml:"email_claim"`
	FirstNameClaim     string    `json:"first_name_claim" yaml:"first_name_claim"`
	LastNameClaim      string    `json:"last_name_claim" yaml:"last_name_claim"`
	RoleClaim          string    `json:"role_claim" yaml:"role_claim"`
	IsActive           bool      `json:"is_active" yaml:"is_active"`
	AutoProvisionUsers bool      `json:"auto_provision_users" yaml:"auto_provision_users"`
	DefaultRole        *string   `json:"default_role" yaml:"default_role"`
	CreatedAt          time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" yaml:"updated_at"`
}

// SSOSession is a login that went through an identity provider.
type SSOSession struct {
	ID           string    `json:"id" yaml:"id"`
	SSOType      SSOType   `json:"sso_type" yaml:"sso_type"`
	ProviderName string    `json:"provider_name" yaml:"provider_name"`
	IPAddress    string    `json:"ip_address" yaml:"ip_address"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	LastActivity time.Time `json:"last_activity" yaml:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at" yaml:"expires_at"`
}
