package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/felixgeelhaar/meetdash/internal/domain"
)

// SAMLConfig is the writable part of a SAML configuration. Nil fields are
// left unchanged by an update.
type SAMLConfig struct {
	OrganizationName   *string `json:"organization_name,omitempty" validate:"omitempty,min=1,max=200"`
	OrganizationDomain *string `json:"organization_domain,omitempty" validate:"omitempty,fqdn"`
	EntityID           *string `json:"entity_id,omitempty" validate:"omitempty,min=1"`
	SSOURL             *string `json:"sso_url,omitempty" validate:"omitempty,url"`
	SLOURL             *string `json:"slo_url,omitempty" validate:"omitempty,url"`
	X509Cert           *string `json:"x509_cert,omitempty" validate:"omitempty,min=1"`
	EmailAttribute     *string `json:"email_attribute,omitempty"`
	FirstNameAttribute *string `json:"first_name_attribute,omitempty"`
	LastNameAttribute  *string `json:"last_name_attribute,omitempty"`
	RoleAttribute      *string `json:"role_attribute,omitempty"`
	IsActive           *bool   `json:"is_active,omitempty"`
	AutoProvisionUsers *bool   `json:"auto_provision_users,omitempty"`
	DefaultRole        *string `json:"default_role,omitempty"`
}

// IsEmpty reports whether the configuration changes nothing.
func (c SAMLConfig) IsEmpty() bool {
	data, _ := json.Marshal(c)
	return string(data) == "{}"
}

// OIDCConfig is the writable part of an OIDC configuration. Nil fields are
// left unchanged by an update.
type OIDCConfig struct {
	OrganizationName   *string  `json:"organization_name,omitempty" validate:"omitempty,min=1,max=200"`
	OrganizationDomain *string  `json:"organization_domain,omitempty" validate:"omitempty,fqdn"`
	Issuer             *string  `json:"issuer,omitempty" validate:"omitempty,url"`
	ClientID           *string  `json:"client_id,omitempty" validate:"omitempty,min=1"`
	ClientSecret       *string  `json:"client_secret,omitempty" validate:"omitempty,min=1"`
	Scopes             []string `json:"scopes,omitempty" validate:"omitempty,dive,required"`
	EmailClaim         *string  `json:"email_claim,omitempty"`
	FirstNameClaim     *string  `json:"first_name_claim,omitempty"`
	LastNameClaim      *string  `json:"last_name_claim,omitempty"`
	RoleClaim          *string  `json:"role_claim,omitempty"`
	IsActive           *bool    `json:"is_active,omitempty"`
	AutoProvisionUsers *bool    `json:"auto_provision_users,omitempty"`
	DefaultRole        *string  `json:"default_role,omitempty"`
}

// IsEmpty reports whether the configuration changes nothing.
func (c OIDCConfig) IsEmpty() bool {
	data, _ := json.Marshal(c)
	return string(data) == "{}"
}

// SSODiscovery tells whether a domain signs in through an identity provider.
type SSODiscovery struct {
	SSOAvailable       bool           `json:"sso_available" yaml:"sso_available"`
	SSOType            domain.SSOType `json:"sso_type,omitempty" yaml:"sso_type,omitempty"`
	ProviderName       string         `json:"provider_name,omitempty" yaml:"provider_name,omitempty"`
	OrganizationDomain string         `json:"organization_domain,omitempty" yaml:"organization_domain,omitempty"`
}

// SSOInitiate starts a provider login.
type SSOInitiate struct {
	SSOType            domain.SSOType `json:"sso_type" validate:"required,oneof=saml oidc"`
	OrganizationDomain string         `json:"organization_domain" validate:"required,fqdn"`
	RedirectURL        string         `json:"redirect_url,omitempty" validate:"omitempty,url"`
}

// SSOInitiateResponse holds the provider URL the browser must open.
type SSOInitiateResponse struct {
	AuthURL string `json:"auth_url" yaml:"auth_url"`
}

func ssoPath(kind, id string) string {
	p := "/users/sso/" + kind + "/"
	if id != "" {
		p += url.PathEscape(id) + "/"
	}
	return p
}

func sendConfig[T any](ctx context.Context, c *Client, method, path string, in any) (*T, error) {
	var out T
	if err := c.request(ctx, method, path, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SAMLConfigurations lists the SAML providers.
func (c *Client) SAMLConfigurations(ctx context.Context) ([]domain.SAMLConfiguration, error) {
	return getList[domain.SAMLConfiguration](ctx, c, ssoPath("saml", ""))
}

// CreateSAMLConfiguration adds a SAML provider.
func (c *Client) CreateSAMLConfiguration(ctx context.Context, cfg SAMLConfig) (*domain.SAMLConfiguration, error) {
	return sendConfig[domain.SAMLConfiguration](ctx, c, http.MethodPost, ssoPath("saml", ""), cfg)
}

// UpdateSAMLConfiguration changes the given fields of a SAML provider.
func (c *Client) UpdateSAMLConfiguration(ctx context.Context, id string, cfg SAMLConfig) (*domain.SAMLConfiguration, error) {
	return sendConfig[domain.SAMLConfiguration](ctx, c, http.MethodPatch, ssoPath("saml", id), cfg)
}

// DeleteSAMLConfiguration removes a SAML provider.
func (c *Client) DeleteSAMLConfiguration(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, ssoPath("saml", id), nil, nil)
}

// OIDCConfigurations lists the OIDC providers.
func (c *Client) OIDCConfigurations(ctx context.Context) ([]domain.OIDCConfiguration, error) {
	return getList[domain.OIDCConfiguration](ctx, c, ssoPath("oidc", ""))
}

// CreateOIDCConfiguration adds an OIDC provider.
func (c *Client) CreateOIDCConfiguration(ctx context.Context, cfg OIDCConfig) (*domain.OIDCConfiguration, error) {
	return sendConfig[domain.OIDCConfiguration](ctx, c, http.MethodPost, ssoPath("oidc", ""), cfg)
}

// UpdateOIDCConfiguration changes the given fields of an OIDC provider.
func (c *Client) UpdateOIDCConfiguration(ctx context.Context, id string, cfg OIDCConfig) (*domain.OIDCConfiguration, error) {
	return sendConfig[domain.OIDCConfiguration](ctx, c, http.MethodPatch, ssoPath("oidc", id), cfg)
}

// DeleteOIDCConfiguration removes an OIDC provider.
func (c *Client) DeleteOIDCConfiguration(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, ssoPath("oidc", id), nil, nil)
}

// SSOSessions lists the user's identity provider sessions.
func (c *Client) SSOSessions(ctx context.Context) ([]domain.SSOSession, error) {
	var out struct {
		Sessions []domain.SSOSession `json:"sessions"`
	}
	if err := c.request(ctx, http.MethodGet, "/users/sso/sessions/", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// RevokeSSOSession ends one identity provider session.
func (c *Client) RevokeSSOSession(ctx context.Context, id string) (*MessageResponse, error) {
	return c.message(ctx, "/users/sso/sessions/"+url.PathEscape(id)+"/revoke/", nil)
}

// SSOLogout starts single logout at the identity provider.
func (c *Client) SSOLogout(ctx context.Context) (*MessageResponse, error) {
	return c.message(ctx, "/users/sso/logout/", nil)
}

// SSODiscover looks up the identity provider of an email domain.
func (c *Client) SSODiscover(ctx context.Context, orgDomain string) (*SSODiscovery, error) {
	var out SSODiscovery
	path := "/users/sso/discovery/?domain=" + url.QueryEscape(orgDomain)
	if err := c.request(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InitiateSSO asks the backend for the provider login URL.
func (c *Client) InitiateSSO(ctx context.Context, in SSOInitiate) (*SSOInitiateResponse, error) {
	var out SSOInitiateResponse
	if err := c.request(ctx, http.MethodPost, "/users/sso/initiate/", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
